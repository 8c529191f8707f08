// internal/infra/database/postgres_instance_repository.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"compliance_scheduler/internal/domain"
	"compliance_scheduler/internal/domain/calendar"
	"compliance_scheduler/internal/domain/instance"
)

const instanceColumns = `id, location_control_id, scheduled_date, status, expires_at,
               completed_at, completed_by, measurements, notes, created_at, updated_at`

type PostgresInstanceRepository struct {
	db *sql.DB
}

func NewPostgresInstanceRepository(db *sql.DB) *PostgresInstanceRepository {
	return &PostgresInstanceRepository{db: db}
}

func scanInstance(row rowScanner) (*instance.Instance, error) {
	var (
		inst         instance.Instance
		status       string
		measurements []byte
	)
	err := row.Scan(&inst.ID, &inst.ControlID, &inst.ScheduledDate, &status, &inst.ExpiresAt,
		&inst.CompletedAt, &inst.CompletedBy, &measurements, &inst.Notes, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inst.Status = instance.Status(status)
	inst.Measurements = measurements
	return &inst, nil
}

func (r *PostgresInstanceRepository) scanAll(rows *sql.Rows, op string) ([]*instance.Instance, error) {
	defer rows.Close()

	out := make([]*instance.Instance, 0)
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, mapError(err, op)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, op)
	}
	return out, nil
}

func (r *PostgresInstanceRepository) ListScheduledDates(ctx context.Context, controlID int64, rng calendar.Range) ([]calendar.Date, error) {
	op := fmt.Sprintf("list scheduled dates for control %d", controlID)
	query := `SELECT scheduled_date FROM control_instances
               WHERE location_control_id = $1 AND scheduled_date BETWEEN $2 AND $3
               ORDER BY scheduled_date`

	rows, err := r.db.QueryContext(ctx, query, controlID, rng.Start, rng.End)
	if err != nil {
		return nil, mapError(err, op)
	}
	defer rows.Close()

	dates := make([]calendar.Date, 0)
	for rows.Next() {
		var d calendar.Date
		if err := rows.Scan(&d); err != nil {
			return nil, mapError(err, op)
		}
		dates = append(dates, d)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError(err, op)
	}
	return dates, nil
}

// CreatePending relies on the (location_control_id, scheduled_date) unique constraint.
// A conflicting insert returns no row and is reported as domain.ErrAlreadyExists.
func (r *PostgresInstanceRepository) CreatePending(ctx context.Context, controlID int64, date calendar.Date, expiresAt time.Time) (*instance.Instance, error) {
	op := fmt.Sprintf("create instance for control %d on %s", controlID, date)
	query := `INSERT INTO control_instances (location_control_id, scheduled_date, status, expires_at)
               VALUES ($1, $2, 'pending', $3)
               ON CONFLICT ON CONSTRAINT control_instances_control_date_unique DO NOTHING
               RETURNING ` + instanceColumns

	inst, err := scanInstance(r.db.QueryRowContext(ctx, query, controlID, date, expiresAt))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, domain.ErrAlreadyExists)
		}
		return nil, mapError(err, op)
	}
	return inst, nil
}

func (r *PostgresInstanceRepository) ListPendingBefore(ctx context.Context, date calendar.Date) ([]*instance.Instance, error) {
	op := fmt.Sprintf("list pending instances before %s", date)
	query := `SELECT ` + instanceColumns + `
               FROM control_instances
               WHERE status = 'pending' AND completed_at IS NULL AND scheduled_date < $1
               ORDER BY scheduled_date, id`

	rows, err := r.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, mapError(err, op)
	}
	return r.scanAll(rows, op)
}

// MarkMissed flips a pending instance to missed and writes its audit record in one transaction.
// The update is conditional on the pending status, so a concurrent completion wins.
func (r *PostgresInstanceRepository) MarkMissed(ctx context.Context, instanceID int64, rec instance.MissedRecord) error {
	op := fmt.Sprintf("mark instance %d missed", instanceID)

	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err, op)
	}
	defer txn.Rollback() // Rollback if not committed

	res, err := txn.ExecContext(ctx, `UPDATE control_instances
               SET status = 'missed', updated_at = NOW()
               WHERE id = $1 AND status = 'pending' AND completed_at IS NULL`, instanceID)
	if err != nil {
		return mapError(err, op)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return mapError(err, op)
	}
	if affected == 0 {
		return r.transitionError(ctx, txn, instanceID)
	}

	_, err = txn.ExecContext(ctx, `INSERT INTO missed_controls
               (control_instance_id, reason, standard_excuse, reported_by, reported_at)
               VALUES ($1, $2, $3, $4, $5)`,
		instanceID, rec.Reason, rec.StandardExcuse, string(rec.Actor), rec.ReportedAt)
	if err != nil {
		return mapError(err, op)
	}

	if err := txn.Commit(); err != nil {
		return mapError(err, op)
	}
	return nil
}

// queryRower is satisfied by both *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// transitionError explains why a conditional status update matched no row.
func (r *PostgresInstanceRepository) transitionError(ctx context.Context, q queryRower, instanceID int64) error {
	var status string
	err := q.QueryRowContext(ctx, `SELECT status FROM control_instances WHERE id = $1`, instanceID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFoundf("instance", instanceID)
		}
		return mapError(err, fmt.Sprintf("get instance %d status", instanceID))
	}
	return fmt.Errorf("instance %d is %s: %w", instanceID, status, domain.ErrConflict)
}

func (r *PostgresInstanceRepository) GetByID(ctx context.Context, id int64) (*instance.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM control_instances WHERE id = $1`
	inst, err := scanInstance(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFoundf("instance", id)
		}
		return nil, mapError(err, fmt.Sprintf("get instance %d", id))
	}
	return inst, nil
}

func (r *PostgresInstanceRepository) Complete(ctx context.Context, id int64, c instance.Completion) (*instance.Instance, error) {
	var measurements any
	if len(c.Measurements) > 0 {
		measurements = string(c.Measurements)
	}
	notes := sql.NullString{String: c.Notes, Valid: c.Notes != ""}

	query := `UPDATE control_instances
               SET status = 'completed', completed_at = $2, completed_by = $3,
                   measurements = $4, notes = $5, updated_at = NOW()
               WHERE id = $1 AND status = 'pending'
               RETURNING ` + instanceColumns
	inst, err := scanInstance(r.db.QueryRowContext(ctx, query, id, c.CompletedAt, c.CompletedBy, measurements, notes))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, r.transitionError(ctx, r.db, id)
		}
		return nil, mapError(err, fmt.Sprintf("complete instance %d", id))
	}
	return inst, nil
}

func (r *PostgresInstanceRepository) GetMissedRecord(ctx context.Context, instanceID int64) (*instance.MissedRecord, error) {
	query := `SELECT id, control_instance_id, reason, standard_excuse, reported_by, reported_at
               FROM missed_controls WHERE control_instance_id = $1`
	var (
		rec   instance.MissedRecord
		actor string
	)
	err := r.db.QueryRowContext(ctx, query, instanceID).Scan(
		&rec.ID, &rec.InstanceID, &rec.Reason, &rec.StandardExcuse, &actor, &rec.ReportedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.NotFoundf("missed record for instance", instanceID)
		}
		return nil, mapError(err, fmt.Sprintf("get missed record for instance %d", instanceID))
	}
	rec.Actor = instance.Actor(actor)
	return &rec, nil
}

// List builds its WHERE clause from the non-zero filter fields.
func (r *PostgresInstanceRepository) List(ctx context.Context, f instance.Filter) ([]*instance.Instance, error) {
	qb := sq.Select(
		"ci.id", "ci.location_control_id", "ci.scheduled_date", "ci.status", "ci.expires_at",
		"ci.completed_at", "ci.completed_by", "ci.measurements", "ci.notes", "ci.created_at", "ci.updated_at",
	).
		From("control_instances ci").
		PlaceholderFormat(sq.Dollar).
		OrderBy("ci.scheduled_date", "ci.id")

	if f.LocationID != 0 {
		qb = qb.Join("location_controls lc ON lc.id = ci.location_control_id").
			Where(sq.Eq{"lc.location_id": f.LocationID})
	}
	if f.ControlID != 0 {
		qb = qb.Where(sq.Eq{"ci.location_control_id": f.ControlID})
	}
	if f.Status != "" {
		qb = qb.Where(sq.Eq{"ci.status": string(f.Status)})
	}
	if f.From != nil {
		qb = qb.Where(sq.GtOrEq{"ci.scheduled_date": *f.From})
	}
	if f.To != nil {
		qb = qb.Where(sq.LtOrEq{"ci.scheduled_date": *f.To})
	}
	if f.Limit > 0 {
		qb = qb.Limit(f.Limit)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error building instance list query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list instances")
	}
	return r.scanAll(rows, "list instances")
}
