package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// FindSubscriptionByRazorpayCustomer resolves the workspace subscription that
// a payment-provider event belongs to.
func (r *Repository) FindSubscriptionByRazorpayCustomer(ctx context.Context, razorpayCustomerID string) (*Subscription, error) {
	query := `
		SELECT id, workspace_id, plan, status, current_period_end,
			razorpay_customer_id, razorpay_subscription_id, created_at
		FROM subscriptions
		WHERE razorpay_customer_id = $1
	`

	var s Subscription
	err := r.db.Pool().QueryRow(ctx, query, razorpayCustomerID).Scan(
		&s.ID,
		&s.WorkspaceID,
		&s.Plan,
		&s.Status,
		&s.CurrentPeriodEnd,
		&s.RazorpayCustomerID,
		&s.RazorpaySubscriptionID,
		&s.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("subscription for customer %s: %w", razorpayCustomerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}

	return &s, nil
}

// UpdateSubscription patches subscription state from a provider event.
func (r *Repository) UpdateSubscription(ctx context.Context, workspaceID uuid.UUID, status string, currentPeriodEnd *time.Time) error {
	query := `
		UPDATE subscriptions
		SET status = $1, current_period_end = $2
		WHERE workspace_id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, status, currentPeriodEnd, workspaceID)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("subscription for workspace %s: %w", workspaceID, ErrNotFound)
	}

	r.logger.Info("subscription updated",
		zap.String("workspace_id", workspaceID.String()),
		zap.String("status", status),
	)

	return nil
}

// UpsertInvoice inserts or updates an invoice keyed by the provider's id.
func (r *Repository) UpsertInvoice(ctx context.Context, inv *Invoice) error {
	query := `
		INSERT INTO invoices (id, workspace_id, razorpay_invoice_id, amount_paise, status, pdf_url, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (razorpay_invoice_id) DO UPDATE
		SET amount_paise = EXCLUDED.amount_paise,
			status = EXCLUDED.status,
			pdf_url = EXCLUDED.pdf_url,
			issued_at = EXCLUDED.issued_at
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		inv.ID,
		inv.WorkspaceID,
		inv.RazorpayInvoiceID,
		inv.AmountPaise,
		inv.Status,
		inv.PDFURL,
		inv.IssuedAt,
	).Scan(&inv.CreatedAt)

	if err != nil {
		return fmt.Errorf("upsert invoice: %w", err)
	}

	return nil
}
