package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
)

func insertAudit(ctx context.Context, tx pgx.Tx, e model.AuditEntry) error {
	receivedAt := e.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO ashby_webhook_payloads (schedule_id, received_at, action, payload)
		VALUES ($1, $2, $3, $4)
	`, nullString(e.ScheduleID), receivedAt.UTC(), e.Action, payload); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// RecordAudit appends an audit entry outside of any reconciliation.
func (r *Repository) RecordAudit(ctx context.Context, e model.AuditEntry) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		return insertAudit(ctx, tx, e)
	})
}

// ListAudit returns the newest entries first, optionally filtered by schedule.
func (r *Repository) ListAudit(ctx context.Context, scheduleID string, limit int) ([]model.AuditEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, COALESCE(schedule_id, ''), action, received_at, payload
		FROM ashby_webhook_payloads
		WHERE ($1 = '' OR schedule_id = $1)
		ORDER BY id DESC
		LIMIT $2
	`, scheduleID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AuditEntry, error) {
		var e model.AuditEntry
		err := row.Scan(&e.ID, &e.ScheduleID, &e.Action, &e.ReceivedAt, &e.Payload)
		e.ReceivedAt = e.ReceivedAt.UTC()
		return e, err
	})
}

func (r *Repository) CountAudit(ctx context.Context, scheduleID string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `SELECT count(*) FROM ashby_webhook_payloads WHERE schedule_id = $1`, scheduleID).Scan(&n)
	return n, err
}
