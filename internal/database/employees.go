package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"captaincrm/internal/models"
)

func (db *DB) CreateEmployee(ctx context.Context, e *models.Employee) error {
	if strings.TrimSpace(e.Name) == "" {
		return models.NewValidationError("name", "is required")
	}
	if e.AdminRating == 0 {
		e.AdminRating = 5
	}
	if e.AdminRating < 1 || e.AdminRating > 10 {
		return models.NewValidationError("admin_rating", "must be between 1 and 10")
	}

	now := db.now()
	result, err := db.ExecContext(ctx, `INSERT INTO employees (name, email, role, admin_rating, completed_jobs, review_score, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, strings.ToLower(strings.TrimSpace(e.Email)), e.Role, e.AdminRating, e.CompletedJobs, e.ReviewScore, now, now)
	if err != nil {
		return fmt.Errorf("failed to create employee: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

func (db *DB) GetEmployee(ctx context.Context, id int64) (*models.Employee, error) {
	var e models.Employee
	err := db.QueryRowContext(ctx, `SELECT id, name, email, role, admin_rating, completed_jobs, review_score, created_at, updated_at
              FROM employees WHERE id = ?`, id).Scan(
		&e.ID, &e.Name, &e.Email, &e.Role, &e.AdminRating, &e.CompletedJobs, &e.ReviewScore, &e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &models.NotFoundError{Kind: "employee", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get employee: %w", err)
	}
	return &e, nil
}

func (db *DB) UpdateEmployeeStats(ctx context.Context, id int64, completedJobs int, reviewScore float64) error {
	result, err := db.ExecContext(ctx, `UPDATE employees SET completed_jobs = ?, review_score = ?, updated_at = ? WHERE id = ?`,
		completedJobs, reviewScore, db.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update employee stats: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &models.NotFoundError{Kind: "employee", ID: id}
	}
	return nil
}

// EmployeeRatingAverage averages client ratings over the employee's rated
// bookings, rounded to one decimal, and returns how many were rated.
func (db *DB) EmployeeRatingAverage(ctx context.Context, employeeID int64) (float64, int, error) {
	var (
		avg   sql.NullFloat64
		count int
	)
	err := db.QueryRowContext(ctx,
		`SELECT AVG(client_rating), COUNT(*) FROM bookings WHERE employee_id = ? AND client_rating > 0`,
		employeeID).Scan(&avg, &count)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to average employee ratings: %w", err)
	}
	if !avg.Valid {
		return 0, 0, nil
	}
	return math.Round(avg.Float64*10) / 10, count, nil
}
