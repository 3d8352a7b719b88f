package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ymunawwer/the-chirpy/internal/model"
)

type PostgresExecutionLogRepo struct {
	db *sql.DB
}

func NewPostgresExecutionLogRepo(db *sql.DB) *PostgresExecutionLogRepo {
	return &PostgresExecutionLogRepo{db: db}
}

func (r *PostgresExecutionLogRepo) CreatePending(ctx context.Context, to, data, payload string) (model.ExecutionLog, error) {
	now := time.Now().UTC()
	entry := model.ExecutionLog{
		ID:        uuid.NewString(),
		To:        to,
		Data:      data,
		Payload:   payload,
		Status:    model.ExecutionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_logs (id, destination, data, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, entry.ID, entry.To, entry.Data, entry.Payload, entry.Status, now)
	if err != nil {
		return model.ExecutionLog{}, err
	}
	return entry, nil
}

func (r *PostgresExecutionLogRepo) ResetPending(ctx context.Context, id, to, data, payload string) (model.ExecutionLog, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE execution_logs
		SET destination = $2,
		    data = $3,
		    payload = $4,
		    status = 'pending',
		    response_status = NULL,
		    response_body = NULL,
		    error_message = NULL,
		    updated_at = now()
		WHERE id = $1
	`, id, to, data, payload)
	if err != nil {
		return model.ExecutionLog{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.ExecutionLog{}, err
	}
	if n == 0 {
		return model.ExecutionLog{}, ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *PostgresExecutionLogRepo) MarkSuccess(ctx context.Context, id string, responseStatus int, responseBody string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE execution_logs
		SET status = 'success',
		    response_status = $2,
		    response_body = $3,
		    error_message = NULL,
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, responseStatus, responseBody)
	return err
}

func (r *PostgresExecutionLogRepo) MarkFailed(ctx context.Context, id string, responseStatus *int, errMsg string) error {
	var status sql.NullInt32
	if responseStatus != nil {
		status = sql.NullInt32{Int32: int32(*responseStatus), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE execution_logs
		SET status = 'failed',
		    response_status = $2,
		    response_body = NULL,
		    error_message = $3,
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id, status, errMsg)
	return err
}

func (r *PostgresExecutionLogRepo) GetByID(ctx context.Context, id string) (model.ExecutionLog, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, destination, data, payload, status, response_status, response_body, error_message, created_at, updated_at
		FROM execution_logs
		WHERE id = $1
	`, id)

	var entry model.ExecutionLog
	var status string
	var respStatus sql.NullInt32
	var respBody sql.NullString
	var errMsg sql.NullString

	if err := row.Scan(
		&entry.ID,
		&entry.To,
		&entry.Data,
		&entry.Payload,
		&status,
		&respStatus,
		&respBody,
		&errMsg,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ExecutionLog{}, ErrNotFound
		}
		return model.ExecutionLog{}, err
	}

	entry.Status = model.ExecutionStatus(status)
	if respStatus.Valid {
		v := int(respStatus.Int32)
		entry.ResponseStatus = &v
	}
	if respBody.Valid {
		s := respBody.String
		entry.ResponseBody = &s
	}
	if errMsg.Valid {
		s := errMsg.String
		entry.ErrorMessage = &s
	}
	return entry, nil
}
