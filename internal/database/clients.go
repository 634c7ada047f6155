package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"captaincrm/internal/models"
)

const clientColumns = `id, name, email, phone, nationality, sailing_experience, address, certifications,
        notes, rating, cancellations, active, attributes, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	var (
		c     models.Client
		attrs string
	)
	err := row.Scan(
		&c.ID, &c.Name, &c.Email, &c.Phone, &c.Nationality, &c.SailingExperience, &c.Address,
		&c.Certifications, &c.Notes, &c.Rating, &c.Cancellations, &c.Active, &attrs, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Attributes = decodeAttributes(attrs)
	return &c, nil
}

// clientFields converts a new client into create attributes. New clients are
// always active; use Update to deactivate.
func clientFields(c *models.Client) models.Fields {
	fields := models.Fields{
		"name":               c.Name,
		"email":              c.Email,
		"phone":              c.Phone,
		"nationality":        c.Nationality,
		"sailing_experience": c.SailingExperience,
		"address":            c.Address,
		"certifications":     c.Certifications,
		"notes":              c.Notes,
		"cancellations":      c.Cancellations,
	}
	if c.Rating != 0 {
		fields["rating"] = c.Rating
	}
	if len(c.Attributes) > 0 {
		fields["attributes"] = c.Attributes
	}
	return fields
}

func (db *DB) CreateClient(ctx context.Context, client *models.Client) error {
	id, err := db.Create(ctx, models.KindClient, clientFields(client))
	if err != nil {
		return err
	}
	created, err := db.GetClient(ctx, id)
	if err != nil {
		return err
	}
	*client = *created
	return nil
}

func (db *DB) GetClient(ctx context.Context, id int64) (*models.Client, error) {
	row := db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: models.KindClient, ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// FindClientByEmail returns the active client owning email.
func (db *DB) FindClientByEmail(ctx context.Context, email string) (*models.Client, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	row := db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE email = ? AND active = 1 ORDER BY id LIMIT 1`, email)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: models.KindClient, Key: email}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find client by email: %w", err)
	}
	return c, nil
}

func (db *DB) ListClients(ctx context.Context, q models.Query) ([]*models.Client, error) {
	tail, args, err := buildQuery(models.KindClient, q)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+clientColumns+` FROM clients`+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
