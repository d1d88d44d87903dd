package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderping/orderping/internal/db"
	"github.com/orderping/orderping/internal/metrics"
)

// BillingRepository is the subset of storage operations the Razorpay webhook
// handler uses.
type BillingRepository interface {
	FindSubscriptionByRazorpayCustomer(ctx context.Context, razorpayCustomerID string) (*db.Subscription, error)
	UpdateSubscription(ctx context.Context, workspaceID uuid.UUID, status string, currentPeriodEnd *time.Time) error
	UpsertInvoice(ctx context.Context, inv *db.Invoice) error
}

// RazorpayHandler processes Razorpay subscription and invoice events.
type RazorpayHandler struct {
	logger *zap.Logger
	repo   BillingRepository
	secret string
}

// NewRazorpayHandler creates a Razorpay webhook handler.
func NewRazorpayHandler(logger *zap.Logger, repo BillingRepository, secret string) *RazorpayHandler {
	return &RazorpayHandler{logger: logger, repo: repo, secret: secret}
}

type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Subscription struct {
			Entity razorpaySubscription `json:"entity"`
		} `json:"subscription"`
		Invoice struct {
			Entity razorpayInvoice `json:"entity"`
		} `json:"invoice"`
	} `json:"payload"`
}

type razorpaySubscription struct {
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	CurrentEnd int64  `json:"current_end"`
}

type razorpayInvoice struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	Amount     int64  `json:"amount"`
	Status     string `json:"status"`
	ShortURL   string `json:"short_url"`
	IssuedAt   int64  `json:"issued_at"`
}

// ServeHTTP handles POST /v1/webhooks/razorpay. The signature is checked
// against the raw body before anything is decoded; a bad signature leaves
// the database untouched.
func (h *RazorpayHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	signature := r.Header.Get("x-razorpay-signature")
	if signature == "" || !h.verifySignature(body, signature) {
		metrics.RecordWebhookEvent("razorpay", "bad_signature")
		h.logger.Warn("razorpay webhook signature mismatch")
		h.writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var event razorpayEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	switch {
	case strings.HasPrefix(event.Event, "subscription."):
		metrics.RecordWebhookEvent("razorpay", "subscription")
		h.handleSubscription(r.Context(), event.Event, event.Payload.Subscription.Entity)
	case strings.HasPrefix(event.Event, "invoice."):
		metrics.RecordWebhookEvent("razorpay", "invoice")
		h.handleInvoice(r.Context(), event.Event, event.Payload.Invoice.Entity)
	default:
		metrics.RecordWebhookEvent("razorpay", "unknown")
		h.logger.Debug("ignoring razorpay event", zap.String("event", event.Event))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (h *RazorpayHandler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *RazorpayHandler) handleSubscription(ctx context.Context, name string, sub razorpaySubscription) {
	existing, err := h.repo.FindSubscriptionByRazorpayCustomer(ctx, sub.CustomerID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.logger.Warn("subscription event for unknown customer",
				zap.String("event", name),
				zap.String("razorpay_customer_id", sub.CustomerID),
			)
			return
		}
		h.logger.Error("failed to look up subscription", zap.Error(err))
		return
	}

	var periodEnd *time.Time
	if sub.CurrentEnd > 0 {
		t := time.Unix(sub.CurrentEnd, 0).UTC()
		periodEnd = &t
	}

	if err := h.repo.UpdateSubscription(ctx, existing.WorkspaceID, sub.Status, periodEnd); err != nil {
		h.logger.Error("failed to update subscription",
			zap.Error(err),
			zap.String("workspace_id", existing.WorkspaceID.String()),
		)
		return
	}

	h.logger.Info("subscription updated",
		zap.String("event", name),
		zap.String("workspace_id", existing.WorkspaceID.String()),
		zap.String("status", sub.Status),
	)
}

func (h *RazorpayHandler) handleInvoice(ctx context.Context, name string, inv razorpayInvoice) {
	existing, err := h.repo.FindSubscriptionByRazorpayCustomer(ctx, inv.CustomerID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.logger.Warn("invoice event for unknown customer",
				zap.String("event", name),
				zap.String("razorpay_customer_id", inv.CustomerID),
			)
			return
		}
		h.logger.Error("failed to look up subscription", zap.Error(err))
		return
	}

	issuedAt := time.Unix(inv.IssuedAt, 0).UTC()
	record := &db.Invoice{
		ID:                uuid.New(),
		WorkspaceID:       existing.WorkspaceID,
		RazorpayInvoiceID: &inv.ID,
		AmountPaise:       inv.Amount,
		Status:            &inv.Status,
		PDFURL:            &inv.ShortURL,
		IssuedAt:          &issuedAt,
	}

	if err := h.repo.UpsertInvoice(ctx, record); err != nil {
		h.logger.Error("failed to upsert invoice",
			zap.Error(err),
			zap.String("razorpay_invoice_id", inv.ID),
		)
		return
	}

	h.logger.Info("invoice recorded",
		zap.String("event", name),
		zap.String("workspace_id", existing.WorkspaceID.String()),
		zap.String("razorpay_invoice_id", inv.ID),
	)
}

func (h *RazorpayHandler) writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": detail})
}
