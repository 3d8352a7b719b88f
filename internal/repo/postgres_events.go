package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/ymunawwer/the-chirpy/internal/model"
)

type PostgresEventRepo struct {
	db *sql.DB
}

func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

func (r *PostgresEventRepo) GetByID(ctx context.Context, id string) (model.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, agent_id, contacts, schedule_cron, schedule_at, repetition,
		       recurrent, status, description, purpose, expiry, metadata, created_at, updated_at
		FROM events
		WHERE id = $1
	`, id)

	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, ErrNotFound
	}
	return event, err
}

func (r *PostgresEventRepo) FindDue(ctx context.Context, now time.Time) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, agent_id, contacts, schedule_cron, schedule_at, repetition,
		       recurrent, status, description, purpose, expiry, metadata, created_at, updated_at
		FROM events
		WHERE status = 'scheduled'
		  AND (schedule_at IS NULL OR schedule_at <= $1)
		  AND (expiry IS NULL OR expiry > $1)
		ORDER BY schedule_at ASC NULLS FIRST
	`, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func (r *PostgresEventRepo) UpdateStatus(ctx context.Context, id string, status model.EventStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE events
		SET status = $2, updated_at = now()
		WHERE id = $1
	`, id, status)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEvent(row rowScanner) (model.Event, error) {
	var event model.Event
	var contacts, metadata sql.NullString
	var cron, repetition, description, purpose sql.NullString
	var scheduleAt, expiry sql.NullTime
	var status string

	if err := row.Scan(
		&event.ID,
		&event.Name,
		&event.AgentID,
		&contacts,
		&cron,
		&scheduleAt,
		&repetition,
		&event.Recurrent,
		&status,
		&description,
		&purpose,
		&expiry,
		&metadata,
		&event.CreatedAt,
		&event.UpdatedAt,
	); err != nil {
		return model.Event{}, err
	}

	event.Status = model.EventStatus(status)
	event.ScheduleCron = cron.String
	event.Repetition = repetition.String
	event.Description = description.String
	event.Purpose = purpose.String

	if scheduleAt.Valid {
		t := scheduleAt.Time
		event.ScheduleAt = &t
	}
	if expiry.Valid {
		t := expiry.Time
		event.Expiry = &t
	}
	if contacts.Valid && contacts.String != "" {
		if err := json.Unmarshal([]byte(contacts.String), &event.Contacts); err != nil {
			return model.Event{}, err
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
			return model.Event{}, err
		}
	}
	return event, nil
}
