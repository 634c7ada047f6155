package service

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"captaincrm/internal/models"
)

const defaultContractTemplate = `YACHT SERVICE AGREEMENT

Client: {{ .Client.Name }} <{{ .Client.Email }}>
Service: {{ .Service }}
Destination: {{ .Destination }}
Dates: {{ .Start }}{{ if .End }} to {{ .End }}{{ end }}
Crew size: {{ .Booking.CrewSize }}
Total price: {{ .Price }}
Deposit: {{ .Deposit }}

The deposit is due on signature. The balance is due before departure.
Cancellation by the client forfeits the deposit.
`

type contractData struct {
	Booking     *models.Booking
	Client      *models.Client
	Service     string
	Destination string
	Start       string
	End         string
	Price       string
	Deposit     string
}

// TemplateContractGenerator renders contracts from a text/template.
type TemplateContractGenerator struct {
	tmpl *template.Template
}

// NewTemplateContractGenerator parses text, or the built-in agreement when
// text is empty.
func NewTemplateContractGenerator(text string) (*TemplateContractGenerator, error) {
	if text == "" {
		text = defaultContractTemplate
	}
	tmpl, err := template.New("contract").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse contract template: %w", err)
	}
	return &TemplateContractGenerator{tmpl: tmpl}, nil
}

func (g *TemplateContractGenerator) Generate(_ context.Context, booking *models.Booking, client *models.Client) (string, error) {
	deposit := booking.DepositAmount
	if deposit.IsZero() {
		deposit = booking.Price.Mul(DefaultDepositRate).Round(2)
	}
	data := contractData{
		Booking:     booking,
		Client:      client,
		Service:     models.ServiceLabel(booking.ServiceType),
		Destination: models.DestinationLabel(booking.Destination),
		Start:       booking.StartDate.Format(models.DateLayout),
		Price:       booking.Price.StringFixed(2),
		Deposit:     deposit.StringFixed(2),
	}
	if booking.EndDate != nil {
		data.End = booking.EndDate.Format(models.DateLayout)
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render contract: %w", err)
	}
	return buf.String(), nil
}
