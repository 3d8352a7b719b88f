package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ymunawwer/the-chirpy/internal/model"
)

type PostgresCallLogRepo struct {
	db *sql.DB
}

func NewPostgresCallLogRepo(db *sql.DB) *PostgresCallLogRepo {
	return &PostgresCallLogRepo{db: db}
}

func (r *PostgresCallLogRepo) Create(ctx context.Context, seed NewCallLog) (model.CallLog, error) {
	now := time.Now().UTC()
	entry := model.CallLog{
		ID:        uuid.NewString(),
		EventID:   seed.EventID,
		ContactID: seed.ContactID,
		AgentID:   seed.AgentID,
		To:        seed.To,
		Status:    model.CallQueued,
		Meta:      seed.Meta,
		CreatedAt: now,
		UpdatedAt: now,
	}

	meta, err := marshalMeta(seed.Meta)
	if err != nil {
		return model.CallLog{}, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO call_logs (id, event_id, contact_id, agent_id, destination, status, meta, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, entry.ID, nullString(seed.EventID), nullString(seed.ContactID), entry.AgentID, entry.To, entry.Status, meta, now)
	if err != nil {
		return model.CallLog{}, err
	}
	return entry, nil
}

func (r *PostgresCallLogRepo) MarkRunning(ctx context.Context, id string) (model.CallLog, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE call_logs
		SET status = 'running',
		    started_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'queued'
	`, id)
	if err != nil {
		return model.CallLog{}, err
	}
	return r.getByID(ctx, id)
}

func (r *PostgresCallLogRepo) MarkCompleted(ctx context.Context, id string, externalResponse *string) (model.CallLog, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE call_logs
		SET status = 'completed',
		    ended_at = now(),
		    duration_ms = (EXTRACT(EPOCH FROM (now() - COALESCE(started_at, now()))) * 1000)::bigint,
		    external_response = COALESCE($2, external_response),
		    updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')
	`, id, nullString(externalResponse))
	if err != nil {
		return model.CallLog{}, err
	}
	return r.getByID(ctx, id)
}

func (r *PostgresCallLogRepo) MarkFailed(ctx context.Context, id string, errMsg string) (model.CallLog, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE call_logs
		SET status = 'failed',
		    ended_at = now(),
		    duration_ms = (EXTRACT(EPOCH FROM (now() - COALESCE(started_at, now()))) * 1000)::bigint,
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'running')
	`, id, errMsg)
	if err != nil {
		return model.CallLog{}, err
	}
	return r.getByID(ctx, id)
}

func (r *PostgresCallLogRepo) ListByEvent(ctx context.Context, eventID string, limit, offset int) ([]model.CallLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, event_id, contact_id, agent_id, destination, status,
		       started_at, ended_at, duration_ms, last_error, external_response, meta,
		       created_at, updated_at
		FROM call_logs
		WHERE event_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`, eventID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CallLog
	for rows.Next() {
		entry, err := scanCallLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (r *PostgresCallLogRepo) getByID(ctx context.Context, id string) (model.CallLog, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, contact_id, agent_id, destination, status,
		       started_at, ended_at, duration_ms, last_error, external_response, meta,
		       created_at, updated_at
		FROM call_logs
		WHERE id = $1
	`, id)

	entry, err := scanCallLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CallLog{}, ErrNotFound
	}
	return entry, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCallLog(row rowScanner) (model.CallLog, error) {
	var entry model.CallLog
	var eventID, contactID sql.NullString
	var status string
	var startedAt, endedAt sql.NullTime
	var durationMs sql.NullInt64
	var lastErr, externalResp, meta sql.NullString

	if err := row.Scan(
		&entry.ID,
		&eventID,
		&contactID,
		&entry.AgentID,
		&entry.To,
		&status,
		&startedAt,
		&endedAt,
		&durationMs,
		&lastErr,
		&externalResp,
		&meta,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		return model.CallLog{}, err
	}

	entry.Status = model.CallStatus(status)
	if eventID.Valid {
		s := eventID.String
		entry.EventID = &s
	}
	if contactID.Valid {
		s := contactID.String
		entry.ContactID = &s
	}
	if startedAt.Valid {
		t := startedAt.Time
		entry.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		entry.EndedAt = &t
	}
	if durationMs.Valid {
		v := durationMs.Int64
		entry.DurationMs = &v
	}
	if lastErr.Valid {
		s := lastErr.String
		entry.LastError = &s
	}
	if externalResp.Valid {
		s := externalResp.String
		entry.ExternalResponse = &s
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &entry.Meta); err != nil {
			return model.CallLog{}, err
		}
	}
	return entry, nil
}

func marshalMeta(meta map[string]string) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
