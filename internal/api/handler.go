// Package api exposes the HTTP surface: order CRUD, outbox inspection, the
// dispatch trigger, and provider webhooks.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderping/orderping/internal/auth"
	"github.com/orderping/orderping/internal/db"
	"github.com/orderping/orderping/internal/order"
	"github.com/orderping/orderping/internal/phone"
	"github.com/orderping/orderping/internal/redis"
)

// OrderService is the order lifecycle surface the handlers call.
type OrderService interface {
	CreateOrder(ctx context.Context, principal *auth.Principal, input order.CreateOrderInput) (*db.Order, error)
	AdvanceStatus(ctx context.Context, principal *auth.Principal, orderID uuid.UUID, newStatus db.OrderStatus) (*db.Order, error)
}

// ReadRepository covers the read paths the handlers serve directly.
type ReadRepository interface {
	GetOrder(ctx context.Context, workspaceID, orderID uuid.UUID) (*db.Order, error)
	GetCustomer(ctx context.Context, workspaceID, customerID uuid.UUID) (*db.Customer, error)
	ListOrdersByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*db.Order, error)
	ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]*db.OrderEvent, error)
	ListOutboxByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*db.OutboxMessage, error)
}

// DispatchRunner executes one outbox drain pass.
type DispatchRunner interface {
	Run(ctx context.Context) (int, error)
}

// RunLock serializes dispatch runs. Nil means runs are unserialized.
type RunLock interface {
	Acquire(ctx context.Context) (string, error)
	Release(ctx context.Context, token string) error
}

// Pinger reports backend health.
type Pinger interface {
	Health(ctx context.Context) error
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger     *zap.Logger
	orders     OrderService
	repo       ReadRepository
	dispatcher DispatchRunner
	lock       RunLock // nil if Redis not configured
	health     Pinger
}

// NewHandler creates an API handler.
func NewHandler(logger *zap.Logger, orders OrderService, repo ReadRepository, dispatcher DispatchRunner, lock RunLock, health Pinger) *Handler {
	return &Handler{
		logger:     logger,
		orders:     orders,
		repo:       repo,
		dispatcher: dispatcher,
		lock:       lock,
		health:     health,
	}
}

// OrderDetailResponse is an order with its customer and status history.
type OrderDetailResponse struct {
	Order    *db.Order        `json:"order"`
	Customer *db.Customer     `json:"customer,omitempty"`
	Events   []*db.OrderEvent `json:"events"`
}

// OrderListResponse wraps a page of orders.
type OrderListResponse struct {
	Orders []*db.Order `json:"orders"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// OutboxListResponse wraps a page of outbox messages.
type OutboxListResponse struct {
	Messages []*db.OutboxMessage `json:"messages"`
	Limit    int                 `json:"limit"`
	Offset   int                 `json:"offset"`
}

// DispatchResponse reports one dispatch run.
type DispatchResponse struct {
	Processed int `json:"processed"`
}

// CreateOrder handles POST /v1/orders.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required", "")
		return
	}

	var input order.CreateOrderInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	o, err := h.orders.CreateOrder(r.Context(), principal, input)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, o)
}

// ListOrders handles GET /v1/orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required", "")
		return
	}

	limit, offset := pagination(r)
	orders, err := h.repo.ListOrdersByWorkspace(r.Context(), principal.WorkspaceID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list orders", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list orders", "")
		return
	}

	if orders == nil {
		orders = []*db.Order{}
	}
	h.writeJSON(w, http.StatusOK, OrderListResponse{Orders: orders, Limit: limit, Offset: offset})
}

// GetOrder handles GET /v1/orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required", "")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order ID", "ID must be a valid UUID")
		return
	}

	o, err := h.repo.GetOrder(r.Context(), principal.WorkspaceID, orderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Order not found", "")
			return
		}
		h.logger.Error("failed to get order", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get order", "")
		return
	}

	customer, err := h.repo.GetCustomer(r.Context(), principal.WorkspaceID, o.CustomerID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		h.logger.Error("failed to get customer", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get order", "")
		return
	}

	events, err := h.repo.ListOrderEvents(r.Context(), o.ID)
	if err != nil {
		h.logger.Error("failed to list order events", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get order", "")
		return
	}
	if events == nil {
		events = []*db.OrderEvent{}
	}

	h.writeJSON(w, http.StatusOK, OrderDetailResponse{Order: o, Customer: customer, Events: events})
}

// StatusUpdateRequest is the body for POST /v1/orders/{id}/status.
type StatusUpdateRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus handles POST /v1/orders/{id}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required", "")
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order ID", "ID must be a valid UUID")
		return
	}

	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	status := db.OrderStatus(req.Status)
	if !order.KnownStatus(status) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid status",
			"status must be RECEIVED, PACKED, SHIPPED, DELIVERED, or CANCELLED")
		return
	}

	o, err := h.orders.AdvanceStatus(r.Context(), principal, orderID, status)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, o)
}

// ListOutbox handles GET /v1/outbox.
func (h *Handler) ListOutbox(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required", "")
		return
	}

	limit, offset := pagination(r)
	messages, err := h.repo.ListOutboxByWorkspace(r.Context(), principal.WorkspaceID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list outbox", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list outbox", "")
		return
	}

	if messages == nil {
		messages = []*db.OutboxMessage{}
	}
	h.writeJSON(w, http.StatusOK, OutboxListResponse{Messages: messages, Limit: limit, Offset: offset})
}

// TriggerDispatch handles POST /v1/jobs/dispatch. The cron caller gets the
// processed count back; overlapping calls are rejected while the run lock
// is held.
func (h *Handler) TriggerDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.lock != nil {
		token, err := h.lock.Acquire(ctx)
		if err != nil {
			if errors.Is(err, redis.ErrLockHeld) {
				h.writeError(w, http.StatusConflict, "dispatch_running", "Dispatch already running",
					"Another dispatch run holds the lock")
				return
			}
			h.logger.Error("failed to acquire dispatch lock", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "lock_error", "Failed to acquire dispatch lock", "")
			return
		}
		// Release on a detached context: the lock must not stick for its
		// full TTL just because the cron caller disconnected mid-run.
		releaseCtx := context.WithoutCancel(ctx)
		defer func() {
			if err := h.lock.Release(releaseCtx, token); err != nil {
				h.logger.Warn("failed to release dispatch lock", zap.Error(err))
			}
		}()
	}

	processed, err := h.dispatcher.Run(ctx)
	if err != nil {
		h.logger.Error("dispatch run failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Dispatch run failed", "")
		return
	}

	h.writeJSON(w, http.StatusOK, DispatchResponse{Processed: processed})
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Health(r.Context()); err != nil {
			h.logger.Error("health check failed", zap.Error(err))
			h.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeOrderError maps service errors onto HTTP statuses.
func (h *Handler) writeOrderError(w http.ResponseWriter, err error) {
	var illegal *order.ErrIllegalTransition

	switch {
	case errors.Is(err, order.ErrValidation), errors.Is(err, phone.ErrInvalidNumber):
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid order input", err.Error())
	case errors.Is(err, order.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "forbidden", "Insufficient role", err.Error())
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Order not found", "")
	case errors.As(err, &illegal):
		h.writeError(w, http.StatusUnprocessableEntity, "illegal_transition", "Illegal status transition", err.Error())
	default:
		h.logger.Error("order operation failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Operation failed", "")
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
