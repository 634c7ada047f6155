package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"captaincrm/internal/domain"
	"captaincrm/internal/models"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// DB is the sqlite-backed record store.
type DB struct {
	*sql.DB
	logger *zerolog.Logger

	mu       sync.RWMutex
	notifier domain.ChangeNotifier
	now      func() time.Time
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serialises writers anyway; one connection also keeps :memory: databases coherent.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l := logger.With().Str("component", "record_store").Logger()
	l.Info().Str("path", path).Msg("Record store initialized")

	return &DB{DB: sqlDB, logger: &l, now: func() time.Time { return time.Now().UTC() }}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS clients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            nationality TEXT NOT NULL DEFAULT '',
            sailing_experience TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            certifications TEXT NOT NULL DEFAULT '',
            notes TEXT NOT NULL DEFAULT '',
            rating INTEGER NOT NULL DEFAULT 5,
            cancellations INTEGER NOT NULL DEFAULT 0,
            active BOOLEAN NOT NULL DEFAULT 1,
            attributes TEXT NOT NULL DEFAULT '{}',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            client_id INTEGER NOT NULL,
            employee_id INTEGER,
            title TEXT NOT NULL DEFAULT '',
            service_type TEXT NOT NULL,
            destination TEXT NOT NULL,
            start_date TEXT NOT NULL,
            end_date TEXT,
            crew_size INTEGER NOT NULL DEFAULT 0,
            crew_services TEXT NOT NULL DEFAULT '',
            price TEXT NOT NULL DEFAULT '0',
            status TEXT NOT NULL DEFAULT 'inquiry',
            notes TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL DEFAULT 'pending',
            deposit_amount TEXT NOT NULL DEFAULT '0',
            deposit_paid BOOLEAN NOT NULL DEFAULT 0,
            payment_released BOOLEAN NOT NULL DEFAULT 0,
            payment_release_date DATETIME,
            tip_requested BOOLEAN NOT NULL DEFAULT 0,
            tip_token TEXT UNIQUE,
            tip_paid BOOLEAN NOT NULL DEFAULT 0,
            tip_amount TEXT NOT NULL DEFAULT '0',
            contract TEXT NOT NULL DEFAULT '',
            contract_status TEXT NOT NULL DEFAULT 'none',
            invoice_number TEXT UNIQUE,
            invoice_status TEXT NOT NULL DEFAULT 'none',
            client_rating INTEGER NOT NULL DEFAULT 0,
            client_rating_comment TEXT NOT NULL DEFAULT '',
            attributes TEXT NOT NULL DEFAULT '{}',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS employees (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            role TEXT NOT NULL DEFAULT '',
            admin_rating REAL NOT NULL DEFAULT 5,
            completed_jobs INTEGER NOT NULL DEFAULT 0,
            review_score REAL NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS mirror_state (
            kind TEXT NOT NULL,
            entity_id INTEGER NOT NULL,
            state TEXT NOT NULL,
            last_error TEXT NOT NULL DEFAULT '',
            synced_at DATETIME,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY (kind, entity_id)
        )`,
		`CREATE TABLE IF NOT EXISTS invoice_sequences (
            year INTEGER PRIMARY KEY,
            last_number INTEGER NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS tip_payments (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL,
            amount TEXT NOT NULL,
            idempotency_key TEXT UNIQUE,
            created_at DATETIME NOT NULL
        )`,

		`CREATE UNIQUE INDEX IF NOT EXISTS idx_clients_email_active ON clients(email) WHERE active = 1`,
		`CREATE INDEX IF NOT EXISTS idx_clients_updated_at ON clients(updated_at)`,

		`CREATE INDEX IF NOT EXISTS idx_bookings_client_id ON bookings(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_employee_id ON bookings(employee_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_start_date ON bookings(start_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_end_date ON bookings(end_date)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_service_type ON bookings(service_type)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_destination ON bookings(destination)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_updated_at ON bookings(updated_at)`,

		`CREATE INDEX IF NOT EXISTS idx_mirror_state_state ON mirror_state(state)`,
		`CREATE INDEX IF NOT EXISTS idx_tip_payments_booking_id ON tip_payments(booking_id)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// SetNotifier registers the component told about every committed write.
func (db *DB) SetNotifier(n domain.ChangeNotifier) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.notifier = n
}

func (db *DB) getNotifier() domain.ChangeNotifier {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.notifier
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func tableFor(kind models.EntityKind) (string, error) {
	switch kind {
	case models.KindClient:
		return "clients", nil
	case models.KindBooking:
		return "bookings", nil
	}
	return "", models.NewValidationError("kind", "unknown entity kind %q", kind)
}

// conflictFromError maps a sqlite unique violation onto a ConflictError.
func conflictFromError(kind models.EntityKind, err error, value string) error {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.ExtendedCode != sqlite3.ErrConstraintUnique {
		return nil
	}
	field := "value"
	if idx := strings.LastIndex(sqliteErr.Error(), "."); idx >= 0 {
		field = strings.TrimSpace(sqliteErr.Error()[idx+1:])
	}
	return &models.ConflictError{Kind: kind, Field: field, Value: value}
}
