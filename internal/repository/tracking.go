package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/order-tracker/internal/model"
)

const upsertRecordSQL = `
INSERT INTO tracking_records (
	order_id, tracking_id, vendor_id, customer_id, status, payment_state, payment_method,
	created_at, accepted_at, in_progress_at, completed_at, rejected_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (order_id) DO UPDATE SET
	tracking_id    = EXCLUDED.tracking_id,
	vendor_id      = EXCLUDED.vendor_id,
	customer_id    = EXCLUDED.customer_id,
	status         = EXCLUDED.status,
	payment_state  = EXCLUDED.payment_state,
	payment_method = EXCLUDED.payment_method,
	created_at     = COALESCE(EXCLUDED.created_at, tracking_records.created_at),
	accepted_at    = COALESCE(EXCLUDED.accepted_at, tracking_records.accepted_at),
	in_progress_at = COALESCE(EXCLUDED.in_progress_at, tracking_records.in_progress_at),
	completed_at   = COALESCE(EXCLUDED.completed_at, tracking_records.completed_at),
	rejected_at    = COALESCE(EXCLUDED.rejected_at, tracking_records.rejected_at),
	updated_at     = EXCLUDED.updated_at
WHERE tracking_records.updated_at <= EXCLUDED.updated_at`

const insertChangeSQL = `
INSERT INTO status_changes (id, order_id, tracking_id, from_status, to_status, payment_state, actor_role, actor_id, changed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO NOTHING`

// StatusChanged сохраняет подтверждённое изменение: обновляет реплику записи и добавляет строку истории.
// Повторная доставка того же изменения не создаёт дубликат.
func (r *PostgresRepository) StatusChanged(ctx context.Context, ch model.StatusChange) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rec := ch.Record
		updatedAt := rec.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = ch.ChangedAt
		}

		_, err = tx.Exec(ctx, upsertRecordSQL,
			ch.OrderID, rec.ID, rec.VendorID, rec.CustomerID,
			string(rec.Status), string(rec.PaymentState), string(rec.PaymentMethod),
			nullTime(rec.CreatedAt), rec.AcceptedAt, rec.InProgressAt, rec.CompletedAt, rec.RejectedAt,
			updatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert tracking record: %w", err)
		}

		_, err = tx.Exec(ctx, insertChangeSQL,
			ch.ID, ch.OrderID, ch.TrackingID, string(ch.From), string(ch.To),
			string(ch.PaymentState), string(ch.ActorRole), ch.ActorID, ch.ChangedAt,
		)
		if err != nil {
			return fmt.Errorf("insert status change: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// History возвращает историю изменений статуса заказа в хронологическом порядке.
func (r *PostgresRepository) History(ctx context.Context, orderID string) ([]model.StatusChange, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, tracking_id, from_status, to_status, payment_state, actor_role, actor_id, changed_at
		 FROM status_changes
		 WHERE order_id = $1
		 ORDER BY changed_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select status changes: %w", err)
	}
	defer rows.Close()

	var res []model.StatusChange
	for rows.Next() {
		var ch model.StatusChange
		var changeID, from, to, payment, role string
		if err := rows.Scan(&changeID, &ch.OrderID, &ch.TrackingID, &from, &to, &payment, &role, &ch.ActorID, &ch.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		ch.ID = changeID
		ch.From = model.Status(from)
		ch.To = model.Status(to)
		ch.PaymentState = model.PaymentState(payment)
		ch.ActorRole = model.Role(role)
		res = append(res, ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// Record возвращает последнюю сохранённую копию записи отслеживания.
func (r *PostgresRepository) Record(ctx context.Context, orderID string) (*model.TrackingRecord, error) {
	var rec model.TrackingRecord
	var status, payment, method string
	var createdAt *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT order_id, tracking_id, vendor_id, customer_id, status, payment_state, payment_method,
		        created_at, accepted_at, in_progress_at, completed_at, rejected_at, updated_at
		 FROM tracking_records
		 WHERE order_id = $1`,
		orderID,
	).Scan(&rec.OrderID, &rec.ID, &rec.VendorID, &rec.CustomerID, &status, &payment, &method,
		&createdAt, &rec.AcceptedAt, &rec.InProgressAt, &rec.CompletedAt, &rec.RejectedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", model.ErrNotFound, orderID)
		}
		return nil, fmt.Errorf("get tracking record: %w", err)
	}

	rec.Status = model.Status(status)
	rec.PaymentState = model.PaymentState(payment)
	rec.PaymentMethod = model.PaymentMethod(method)
	if createdAt != nil {
		rec.CreatedAt = *createdAt
	}
	return &rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
