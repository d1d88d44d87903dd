package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/orderping/orderping/internal/metrics"
	"github.com/orderping/orderping/internal/phone"
)

// GupshupRepository is the subset of storage operations the Gupshup webhook
// handler uses.
type GupshupRepository interface {
	MarkDelivered(ctx context.Context, providerMessageID string) (int64, error)
	OptOutCustomersByNumber(ctx context.Context, number string) (int64, error)
}

// GupshupHandler processes Gupshup delivery receipts and inbound messages.
type GupshupHandler struct {
	logger *zap.Logger
	repo   GupshupRepository
}

// NewGupshupHandler creates a Gupshup webhook handler.
func NewGupshupHandler(logger *zap.Logger, repo GupshupRepository) *GupshupHandler {
	return &GupshupHandler{logger: logger, repo: repo}
}

// ServeHTTP handles POST /v1/webhooks/gupshup. Gupshup retries on non-2xx,
// so anything we cannot act on is acknowledged rather than rejected.
func (h *GupshupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	event, err := ParseGupshupEvent(body)
	if err != nil {
		h.logger.Warn("malformed gupshup callback", zap.Error(err))
		h.writeError(w, http.StatusBadRequest, "Malformed JSON body")
		return
	}

	switch e := event.(type) {
	case DeliveryEvent:
		h.handleDelivery(r.Context(), e)
	case InboundTextEvent:
		h.handleInboundText(r.Context(), e)
	case UnknownEvent:
		metrics.RecordWebhookEvent("gupshup", "unknown")
		h.logger.Debug("ignoring gupshup callback", zap.String("type", e.Type))
	}

	h.writeAck(w)
}

func (h *GupshupHandler) handleDelivery(ctx context.Context, e DeliveryEvent) {
	metrics.RecordWebhookEvent("gupshup", "delivered")

	n, err := h.repo.MarkDelivered(ctx, e.ProviderMessageID)
	if err != nil {
		h.logger.Error("failed to mark message delivered",
			zap.Error(err),
			zap.String("provider_message_id", e.ProviderMessageID),
		)
		return
	}
	if n == 0 {
		h.logger.Debug("delivery receipt for unknown message",
			zap.String("provider_message_id", e.ProviderMessageID),
		)
	}
}

func (h *GupshupHandler) handleInboundText(ctx context.Context, e InboundTextEvent) {
	metrics.RecordWebhookEvent("gupshup", "inbound_text")

	if !IsOptOut(e.Text) {
		return
	}

	// Inbound source numbers arrive without the +.
	number, err := phone.NormalizeE164(e.From)
	if err != nil {
		h.logger.Warn("opt-out from unparseable number", zap.String("from", e.From))
		return
	}

	n, err := h.repo.OptOutCustomersByNumber(ctx, number)
	if err != nil {
		h.logger.Error("failed to record opt-out", zap.Error(err), zap.String("number", number))
		return
	}

	metrics.RecordWebhookEvent("gupshup", "opt_out")
	h.logger.Info("customer opted out",
		zap.String("number", number),
		zap.Int64("customers", n),
	)
}

func (h *GupshupHandler) writeAck(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{"success": true})
}

func (h *GupshupHandler) writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": detail})
}
