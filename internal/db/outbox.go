package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnqueueMessage persists one QUEUED outbox row. It never sends anything.
// There is deliberately no dedup here: re-running the same transition
// produces a duplicate row.
func (r *Repository) EnqueueMessage(ctx context.Context, m *OutboxMessage) error {
	query := `
		INSERT INTO message_outbox (
			id, workspace_id, order_id, customer_id, template_code,
			payload_json, destination, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		m.ID,
		m.WorkspaceID,
		m.OrderID,
		m.CustomerID,
		m.TemplateCode,
		m.Payload,
		m.Destination,
		MessageQueued,
	).Scan(&m.CreatedAt)

	if err != nil {
		r.logger.Error("failed to enqueue message",
			zap.Error(err),
			zap.String("workspace_id", m.WorkspaceID.String()),
			zap.String("template_code", string(m.TemplateCode)),
		)
		return fmt.Errorf("insert outbox message: %w", err)
	}

	m.Status = MessageQueued
	return nil
}

// ClaimQueued atomically claims up to limit QUEUED rows for one dispatcher
// run and returns them joined with the customer number, provider template id
// and workspace source number. Rows whose customer has opted out, or whose
// workspace has no template for the row's code, are never selected; the
// claim joins must match the fetch joins so a claimed row is always
// returned and resolved. FOR UPDATE SKIP LOCKED keeps two concurrent runs
// from double-claiming the same batch.
func (r *Repository) ClaimQueued(ctx context.Context, runID string, limit int) ([]*DispatchItem, error) {
	claim := `
		UPDATE message_outbox m
		SET status = $1, claimed_by = $2, claimed_at = NOW()
		FROM (
			SELECT mo.id
			FROM message_outbox mo
			JOIN customers c ON c.id = mo.customer_id
			JOIN message_templates t ON t.workspace_id = mo.workspace_id AND t.code = mo.template_code
			WHERE mo.status = $3 AND c.opted_out_at IS NULL
			ORDER BY mo.created_at ASC
			LIMIT $4
			FOR UPDATE OF mo SKIP LOCKED
		) picked
		WHERE m.id = picked.id
	`

	if _, err := r.db.Pool().Exec(ctx, claim, MessageClaimed, runID, MessageQueued, limit); err != nil {
		return nil, fmt.Errorf("claim queued messages: %w", err)
	}

	query := `
		SELECT m.id, m.workspace_id, m.order_id, m.customer_id, m.template_code,
			m.payload_json, m.provider_message_id, m.status, m.error_code,
			m.attempts, m.claimed_by, m.claimed_at, m.next_retry_at,
			m.last_attempt_at, m.created_at,
			c.whatsapp_number,
			t.provider_template_id,
			COALESCE(w.waba_phone_number_id, '')
		FROM message_outbox m
		JOIN customers c ON c.id = m.customer_id
		JOIN message_templates t ON t.workspace_id = m.workspace_id AND t.code = m.template_code
		JOIN workspaces w ON w.id = m.workspace_id
		WHERE m.status = $1 AND m.claimed_by = $2
		ORDER BY m.created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, MessageClaimed, runID)
	if err != nil {
		return nil, fmt.Errorf("query claimed messages: %w", err)
	}
	defer rows.Close()

	var items []*DispatchItem
	for rows.Next() {
		var item DispatchItem
		m := &item.Message
		err := rows.Scan(
			&m.ID,
			&m.WorkspaceID,
			&m.OrderID,
			&m.CustomerID,
			&m.TemplateCode,
			&m.Payload,
			&m.ProviderMessageID,
			&m.Status,
			&m.ErrorCode,
			&m.Attempts,
			&m.ClaimedBy,
			&m.ClaimedAt,
			&m.NextRetryAt,
			&m.LastAttemptAt,
			&m.CreatedAt,
			&item.Destination,
			&item.ProviderTemplateID,
			&item.SourceNumber,
		)
		if err != nil {
			return nil, fmt.Errorf("scan dispatch item: %w", err)
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return items, nil
}

// MarkSent records a successful provider call.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error {
	query := `
		UPDATE message_outbox
		SET status = $1, provider_message_id = $2, last_attempt_at = NOW(),
			claimed_by = NULL, claimed_at = NULL, next_retry_at = NULL, error_code = NULL
		WHERE id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, MessageSent, providerMessageID, id)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("outbox message %s: %w", id, ErrNotFound)
	}

	return nil
}

// UpdateMessageStatus records a dispatch outcome. The dispatcher decides the
// target status (FAILED with a retry time, or DEAD) and the attempt count.
func (r *Repository) UpdateMessageStatus(ctx context.Context, id uuid.UUID, status MessageStatus, attempts int, errorCode *string, nextRetryAt *time.Time) error {
	query := `
		UPDATE message_outbox
		SET status = $1, attempts = $2, error_code = $3, next_retry_at = $4,
			last_attempt_at = NOW(), claimed_by = NULL, claimed_at = NULL
		WHERE id = $5
	`

	result, err := r.db.Pool().Exec(ctx, query, status, attempts, errorCode, nextRetryAt, id)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("outbox message %s: %w", id, ErrNotFound)
	}

	return nil
}

// RequeueDue returns FAILED rows whose backoff delay has elapsed to QUEUED.
func (r *Repository) RequeueDue(ctx context.Context) (int64, error) {
	query := `
		UPDATE message_outbox
		SET status = $1, next_retry_at = NULL
		WHERE status = $2 AND next_retry_at IS NOT NULL AND next_retry_at <= NOW()
	`

	result, err := r.db.Pool().Exec(ctx, query, MessageQueued, MessageFailed)
	if err != nil {
		return 0, fmt.Errorf("requeue failed messages: %w", err)
	}

	return result.RowsAffected(), nil
}

// ReclaimStale returns CLAIMED rows older than the claim TTL to QUEUED.
// Covers dispatcher runs that died mid-batch.
func (r *Repository) ReclaimStale(ctx context.Context, ttl time.Duration) (int64, error) {
	query := `
		UPDATE message_outbox
		SET status = $1, claimed_by = NULL, claimed_at = NULL
		WHERE status = $2 AND claimed_at < NOW() - make_interval(secs => $3)
	`

	result, err := r.db.Pool().Exec(ctx, query, MessageQueued, MessageClaimed, ttl.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reclaim stale messages: %w", err)
	}

	return result.RowsAffected(), nil
}

// MarkDelivered flips a row to DELIVERED by provider message id. An unknown
// id is a no-op: delivery receipts can race ahead of the SENT update or refer
// to messages we never tracked.
func (r *Repository) MarkDelivered(ctx context.Context, providerMessageID string) (int64, error) {
	query := `
		UPDATE message_outbox
		SET status = $1
		WHERE provider_message_id = $2
	`

	result, err := r.db.Pool().Exec(ctx, query, MessageDelivered, providerMessageID)
	if err != nil {
		return 0, fmt.Errorf("mark delivered: %w", err)
	}

	return result.RowsAffected(), nil
}

// ListOutboxByWorkspace retrieves the message log for a workspace.
func (r *Repository) ListOutboxByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*OutboxMessage, error) {
	query := `
		SELECT id, workspace_id, order_id, customer_id, template_code,
			payload_json, destination, provider_message_id, status, error_code,
			attempts, claimed_by, claimed_at, next_retry_at, last_attempt_at, created_at
		FROM message_outbox
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var messages []*OutboxMessage
	for rows.Next() {
		var m OutboxMessage
		err := rows.Scan(
			&m.ID,
			&m.WorkspaceID,
			&m.OrderID,
			&m.CustomerID,
			&m.TemplateCode,
			&m.Payload,
			&m.Destination,
			&m.ProviderMessageID,
			&m.Status,
			&m.ErrorCode,
			&m.Attempts,
			&m.ClaimedBy,
			&m.ClaimedAt,
			&m.NextRetryAt,
			&m.LastAttemptAt,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		messages = append(messages, &m)
	}

	return messages, rows.Err()
}
