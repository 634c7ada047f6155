package service

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"captaincrm/internal/database"
	"captaincrm/internal/events"
	"captaincrm/internal/models"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newBookingService(t *testing.T) (*BookingService, *database.DB, *mockPublisher) {
	t.Helper()
	logger := zerolog.New(io.Discard)
	db := newTestDB(t)
	pub := new(mockPublisher)
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

	gen, err := NewTemplateContractGenerator("")
	require.NoError(t, err)
	svc := NewBookingService(db, pub, gen, &logger)
	svc.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return svc, db, pub
}

func validForm() BookingForm {
	return BookingForm{
		ClientName:  "Maria Papadopoulou",
		ClientEmail: "maria@example.com",
		ClientPhone: "+30 210 000 0000",
		ServiceType: models.ServiceCharter,
		Destination: "greece",
		StartDate:   "2024-07-01",
		EndDate:     "2024-07-08",
		CrewSize:    4,
		Message:     "Looking for a week in the Cyclades",
	}
}

func TestSubmitForm_CreatesClientAndBooking(t *testing.T) {
	svc, db, pub := newBookingService(t)
	ctx := context.Background()

	b, err := svc.SubmitForm(ctx, validForm())
	require.NoError(t, err)
	assert.Equal(t, "Maria Papadopoulou - charter (2024-07-01)", b.Title)
	assert.Equal(t, models.StatusInquiry, b.Status)
	assert.Equal(t, "Looking for a week in the Cyclades", b.Notes)
	require.NotNil(t, b.EndDate)

	client, err := db.GetClient(ctx, b.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", client.Email)
	assert.Equal(t, models.DefaultClientRating, client.Rating)

	pub.AssertCalled(t, "PublishJSON", events.EventBookingCreated, mock.MatchedBy(func(p events.BookingEventPayload) bool {
		return p.BookingID == b.ID && p.ClientID == client.ID
	}))
}

func TestSubmitForm_ReusesClientByEmail(t *testing.T) {
	svc, db, _ := newBookingService(t)
	ctx := context.Background()

	first, err := svc.SubmitForm(ctx, validForm())
	require.NoError(t, err)

	form := validForm()
	form.ClientEmail = "  MARIA@example.com "
	form.StartDate = "2024-09-01"
	form.EndDate = ""
	second, err := svc.SubmitForm(ctx, form)
	require.NoError(t, err)

	assert.Equal(t, first.ClientID, second.ClientID)
	n, err := db.Count(ctx, models.KindClient)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// racyStore hides the client on the first lookup, as if another request
// created it between the lookup and the insert.
type racyStore struct {
	*database.DB
	lookups atomic.Int32
}

func (s *racyStore) FindClientByEmail(ctx context.Context, email string) (*models.Client, error) {
	if s.lookups.Add(1) == 1 {
		return nil, &models.NotFoundError{Kind: models.KindClient, Key: email}
	}
	return s.DB.FindClientByEmail(ctx, email)
}

func TestSubmitForm_ConcurrentClientCreation(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db := newTestDB(t)
	ctx := context.Background()

	existing := &models.Client{Name: "Maria", Email: "maria@example.com"}
	require.NoError(t, db.CreateClient(ctx, existing))

	store := &racyStore{DB: db}
	svc := NewBookingService(store, nil, nil, &logger)

	b, err := svc.SubmitForm(ctx, validForm())
	require.NoError(t, err)
	assert.Equal(t, existing.ID, b.ClientID)
	assert.Equal(t, int32(2), store.lookups.Load())
}

func TestSubmitForm_Validation(t *testing.T) {
	svc, _, pub := newBookingService(t)
	ctx := context.Background()

	cases := map[string]func(f *BookingForm){
		"missing name":    func(f *BookingForm) { f.ClientName = " " },
		"missing phone":   func(f *BookingForm) { f.ClientPhone = "" },
		"bad email":       func(f *BookingForm) { f.ClientEmail = "not-an-email" },
		"missing dest":    func(f *BookingForm) { f.Destination = "" },
		"bad start":       func(f *BookingForm) { f.StartDate = "01/07/2024" },
		"end before":      func(f *BookingForm) { f.EndDate = "2024-06-01" },
		"unknown service": func(f *BookingForm) { f.ServiceType = "submarine" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			form := validForm()
			mutate(&form)
			_, err := svc.SubmitForm(ctx, form)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}
	pub.AssertNotCalled(t, "PublishJSON", events.EventBookingCreated, mock.Anything)
}

func TestChangeStatus(t *testing.T) {
	svc, db, pub := newBookingService(t)
	ctx := context.Background()

	b, err := svc.SubmitForm(ctx, validForm())
	require.NoError(t, err)

	b, err = svc.ChangeStatus(ctx, b.ID, models.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, b.Status)
	pub.AssertCalled(t, "PublishJSON", events.EventBookingStatusChanged, mock.MatchedBy(func(p events.BookingEventPayload) bool {
		return p.PrevStatus == models.StatusInquiry && p.Status == models.StatusConfirmed
	}))

	_, err = svc.ChangeStatus(ctx, b.ID, models.StatusInquiry)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = svc.ChangeStatus(ctx, b.ID, "archived")
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.ChangeStatus(ctx, 999, models.StatusConfirmed)
	assert.ErrorIs(t, err, models.ErrNotFound)

	b, err = svc.CancelBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, b.Status)
	pub.AssertCalled(t, "PublishJSON", events.EventBookingCancelled, mock.Anything)

	client, err := db.GetClient(ctx, b.ClientID)
	require.NoError(t, err)
	assert.Equal(t, 1, client.Cancellations)

	_, err = svc.CancelBooking(ctx, b.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func createPricedBooking(t *testing.T, svc *BookingService, db *database.DB, price int64) *models.Booking {
	t.Helper()
	ctx := context.Background()
	b, err := svc.SubmitForm(ctx, validForm())
	require.NoError(t, err)
	require.NoError(t, db.Update(ctx, models.KindBooking, b.ID, models.Fields{"price": decimal.NewFromInt(price)}))
	return b
}

func TestRecordPayment(t *testing.T) {
	svc, db, pub := newBookingService(t)
	ctx := context.Background()
	b := createPricedBooking(t, svc, db, 1000)

	b, err := svc.RecordPayment(ctx, b.ID, PaymentTypeDeposit)
	require.NoError(t, err)
	assert.True(t, b.DepositPaid)
	assert.Equal(t, models.PaymentPartial, b.PaymentStatus)
	assert.Equal(t, "300.00", b.DepositAmount.StringFixed(2))
	pub.AssertCalled(t, "PublishJSON", events.EventPaymentRecorded, mock.MatchedBy(func(p events.BookingEventPayload) bool {
		return p.Amount == "300.00" && p.Reference == PaymentTypeDeposit
	}))

	b, err = svc.RecordPayment(ctx, b.ID, PaymentTypeFull)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPaid, b.PaymentStatus)
	assert.Equal(t, "300.00", b.DepositAmount.StringFixed(2))

	_, err = svc.RecordPayment(ctx, b.ID, PaymentTypeDeposit)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.RecordPayment(ctx, b.ID, "crypto")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestReleasePayment_Gates(t *testing.T) {
	svc, db, pub := newBookingService(t)
	ctx := context.Background()
	b := createPricedBooking(t, svc, db, 2500)

	_, err := svc.ReleasePayment(ctx, b.ID)
	assert.ErrorIs(t, err, models.ErrPaymentNotPaid)

	_, err = svc.RecordPayment(ctx, b.ID, PaymentTypeFull)
	require.NoError(t, err)

	// The charter ends on 2024-07-08 and the clock reads 2024-06-15.
	_, err = svc.ReleasePayment(ctx, b.ID)
	assert.ErrorIs(t, err, models.ErrPaymentNotYetAvailable)

	svc.now = func() time.Time { return time.Date(2024, 7, 8, 9, 0, 0, 0, time.UTC) }
	released, err := svc.ReleasePayment(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, released.PaymentReleased)
	require.NotNil(t, released.PaymentReleaseDate)
	assert.True(t, released.PaymentReleaseDate.Equal(time.Date(2024, 7, 8, 9, 0, 0, 0, time.UTC)))

	_, err = svc.ReleasePayment(ctx, b.ID)
	assert.ErrorIs(t, err, models.ErrPaymentAlreadyReleased)

	pub.AssertNumberOfCalls(t, "PublishJSON", 3)
}

func TestIssueInvoice(t *testing.T) {
	svc, db, _ := newBookingService(t)
	ctx := context.Background()
	first := createPricedBooking(t, svc, db, 100)
	second := createPricedBooking(t, svc, db, 200)

	_, err := svc.MarkInvoicePaid(ctx, first.ID)
	assert.ErrorIs(t, err, models.ErrValidation)

	b1, err := svc.IssueInvoice(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-0001", b1.InvoiceNumber)
	assert.Equal(t, models.InvoiceIssued, b1.InvoiceStatus)

	again, err := svc.IssueInvoice(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-0001", again.InvoiceNumber)

	b2, err := svc.IssueInvoice(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-0002", b2.InvoiceNumber)

	paid, err := svc.MarkInvoicePaid(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, paid.InvoiceStatus)
}

func TestSaveContract(t *testing.T) {
	svc, db, pub := newBookingService(t)
	ctx := context.Background()
	b := createPricedBooking(t, svc, db, 4000)

	saved, err := svc.SaveContract(ctx, b.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.ContractDraft, saved.ContractStatus)
	assert.Contains(t, saved.Contract, "Maria Papadopoulou")
	assert.Contains(t, saved.Contract, "Private Charter")
	assert.Contains(t, saved.Contract, "2024-07-01 to 2024-07-08")
	assert.Contains(t, saved.Contract, "Deposit: 1200.00")
	pub.AssertCalled(t, "PublishJSON", events.EventContractSaved, mock.Anything)

	saved, err = svc.SaveContract(ctx, b.ID, "Custom terms")
	require.NoError(t, err)
	assert.Equal(t, "Custom terms", saved.Contract)

	signed, err := svc.SetContractStatus(ctx, b.ID, models.ContractSigned)
	require.NoError(t, err)
	assert.Equal(t, models.ContractSigned, signed.ContractStatus)

	_, err = svc.SetContractStatus(ctx, b.ID, "shredded")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSaveContract_WithoutGenerator(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db := newTestDB(t)
	svc := NewBookingService(db, nil, nil, &logger)
	ctx := context.Background()

	b, err := svc.SubmitForm(ctx, validForm())
	require.NoError(t, err)
	_, err = svc.SaveContract(ctx, b.ID, "   ")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestTemplateContractGenerator_BadTemplate(t *testing.T) {
	_, err := NewTemplateContractGenerator("{{ .Client.Name ")
	assert.Error(t, err)

	gen, err := NewTemplateContractGenerator("{{ .Client.Name }} / {{ .Destination }}")
	require.NoError(t, err)
	out, err := gen.Generate(context.Background(),
		&models.Booking{Destination: "bvi", StartDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		&models.Client{Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "Ana / British Virgin Islands", strings.TrimSpace(out))
}

func TestPublishErrorIsLogged(t *testing.T) {
	logger := zerolog.New(io.Discard)
	db := newTestDB(t)
	pub := new(mockPublisher)
	pub.On("PublishJSON", mock.MatchedBy(func(string) bool { return true }), mock.Anything).Return(assert.AnError)
	svc := NewBookingService(db, pub, nil, &logger)

	_, err := svc.SubmitForm(context.Background(), validForm())
	require.NoError(t, err)
	pub.AssertExpectations(t)
}
