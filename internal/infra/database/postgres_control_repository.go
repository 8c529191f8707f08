// internal/infra/database/postgres_control_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/control"
)

const controlColumns = `id, location_id, category_id, frequency_type, frequency_config,
               start_date, end_date, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresControlRepository struct {
	db *sql.DB
}

func NewPostgresControlRepository(db *sql.DB) *PostgresControlRepository {
	return &PostgresControlRepository{db: db}
}

// scanControl reads one row. A stored rule that no longer validates is attached as
// RuleErr instead of failing the whole query.
func scanControl(row rowScanner) (*control.Control, error) {
	var (
		c          control.Control
		kind       string
		config     []byte
		start, end sql.Null[calendar.Date]
	)
	err := row.Scan(&c.ID, &c.LocationID, &c.CategoryID, &kind, &config,
		&start, &end, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if start.Valid {
		c.StartDate = &start.V
	}
	if end.Valid {
		c.EndDate = &end.V
	}

	rule, err := control.ParseRule(kind, config)
	if err != nil {
		c.RuleErr = err
	} else {
		c.Rule = rule
	}
	return &c, nil
}

func (r *PostgresControlRepository) list(ctx context.Context, op, query string, args ...any) ([]*control.Control, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, op)
	}
	defer rows.Close()

	controls := make([]*control.Control, 0)
	for rows.Next() {
		c, err := scanControl(rows)
		if err != nil {
			return nil, mapError(err, op)
		}
		controls = append(controls, c)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError(err, op)
	}
	return controls, nil
}

func (r *PostgresControlRepository) ListActiveControls(ctx context.Context, asOf calendar.Date) ([]*control.Control, error) {
	query := `SELECT ` + controlColumns + `
               FROM location_controls
               WHERE is_active = TRUE AND (end_date IS NULL OR end_date >= $1)
               ORDER BY id`
	return r.list(ctx, "list active controls", query, asOf)
}

func (r *PostgresControlRepository) ListChangedSince(ctx context.Context, since time.Time) ([]*control.Control, error) {
	query := `SELECT ` + controlColumns + `
               FROM location_controls
               WHERE is_active = TRUE AND (created_at >= $1 OR updated_at >= $1)
               ORDER BY id`
	return r.list(ctx, "list changed controls", query, since)
}

func (r *PostgresControlRepository) ListByLocation(ctx context.Context, locationID int64) ([]*control.Control, error) {
	query := `SELECT ` + controlColumns + `
               FROM location_controls
               WHERE location_id = $1
               ORDER BY id`
	return r.list(ctx, "list controls by location", query, locationID)
}

func (r *PostgresControlRepository) GetControl(ctx context.Context, id int64) (*control.Control, error) {
	query := `SELECT ` + controlColumns + ` FROM location_controls WHERE id = $1`
	c, err := scanControl(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFoundf("control", id)
		}
		return nil, mapError(err, fmt.Sprintf("get control %d", id))
	}
	return c, nil
}

func (r *PostgresControlRepository) Create(ctx context.Context, c *control.Control) error {
	config, err := c.Rule.Config()
	if err != nil {
		return fmt.Errorf("error encoding frequency config: %w", err)
	}

	query := `INSERT INTO location_controls
               (location_id, category_id, frequency_type, frequency_config, start_date, end_date, is_active)
               VALUES ($1, $2, $3, $4, $5, $6, $7)
               RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query,
		c.LocationID, c.CategoryID, string(c.Rule.Kind), string(config), c.StartDate, c.EndDate, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return mapError(err, "create control")
	}
	return nil
}

func (r *PostgresControlRepository) Update(ctx context.Context, c *control.Control) error {
	config, err := c.Rule.Config()
	if err != nil {
		return fmt.Errorf("error encoding frequency config: %w", err)
	}

	query := `UPDATE location_controls
               SET location_id = $1, category_id = $2, frequency_type = $3, frequency_config = $4,
                   start_date = $5, end_date = $6, is_active = $7, updated_at = NOW()
               WHERE id = $8
               RETURNING updated_at`
	err = r.db.QueryRowContext(ctx, query,
		c.LocationID, c.CategoryID, string(c.Rule.Kind), string(config), c.StartDate, c.EndDate, c.IsActive, c.ID,
	).Scan(&c.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.NotFoundf("control", c.ID)
		}
		return mapError(err, fmt.Sprintf("update control %d", c.ID))
	}
	return nil
}

func (r *PostgresControlRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE location_controls SET is_active = $1, updated_at = NOW() WHERE id = $2`
	res, err := r.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return mapError(err, fmt.Sprintf("set control %d active=%t", id, active))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err, fmt.Sprintf("set control %d active=%t", id, active))
	}
	if n == 0 {
		return domain.NotFoundf("control", id)
	}
	return nil
}
