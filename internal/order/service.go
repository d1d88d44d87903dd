// Package order implements the order lifecycle: validated creation,
// status advancement through the fixed pipeline, history events, and
// outbox enqueues for customer notifications.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/orderping/orderping/internal/auth"
	"github.com/orderping/orderping/internal/db"
	"github.com/orderping/orderping/internal/metrics"
	"github.com/orderping/orderping/internal/phone"
)

var (
	// ErrValidation marks bad input shape or values. The wrapped message is
	// surfaced to the caller verbatim.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks an insufficient role.
	ErrForbidden = errors.New("insufficient role")
)

// Repository is the subset of database operations the lifecycle manager uses.
type Repository interface {
	FindCustomerByNumber(ctx context.Context, workspaceID uuid.UUID, number string) (*db.Customer, error)
	CreateCustomer(ctx context.Context, c *db.Customer) error
	CreateOrder(ctx context.Context, o *db.Order) error
	GetOrder(ctx context.Context, workspaceID, orderID uuid.UUID) (*db.Order, error)
	UpdateOrderStatus(ctx context.Context, workspaceID, orderID uuid.UUID, status db.OrderStatus) error
	AppendOrderEvent(ctx context.Context, e *db.OrderEvent) error
	EnqueueMessage(ctx context.Context, m *db.OutboxMessage) error
	RecordAudit(ctx context.Context, a *db.AuditLog)
}

// Service is the order lifecycle manager.
type Service struct {
	repo     Repository
	validate *validator.Validate
	logger   *zap.Logger
}

// NewService creates the lifecycle manager.
func NewService(repo Repository, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		logger:   logger,
	}
}

// CreateOrderInput carries the fields of a new order.
type CreateOrderInput struct {
	CustomerName         string     `json:"customer_name" validate:"required"`
	WhatsAppNumber       string     `json:"whatsapp_number" validate:"required"`
	ProductTitle         string     `json:"product_title" validate:"required"`
	ProductSKU           *string    `json:"product_sku,omitempty"`
	Quantity             int        `json:"quantity" validate:"min=1"`
	PricePaise           int64      `json:"price_paise" validate:"min=0"`
	ShippingName         *string    `json:"shipping_name,omitempty"`
	ShippingAddress      *string    `json:"shipping_address,omitempty"`
	Pincode              *string    `json:"pincode,omitempty"`
	City                 *string    `json:"city,omitempty"`
	State                *string    `json:"state,omitempty"`
	ExpectedDeliveryDate *time.Time `json:"expected_delivery_date,omitempty"`
}

// Payload shapes for outbox messages. Field order is the parameter order the
// dispatcher flattens into the provider template call, so it is load-bearing.
type orderReceivedPayload struct {
	OrderNumber  string `json:"order_number"`
	ProductTitle string `json:"product_title"`
	Quantity     int    `json:"quantity"`
}

type statusUpdatePayload struct {
	OrderNumber  string `json:"order_number"`
	ProductTitle string `json:"product_title"`
	StatusLabel  string `json:"status_label"`
}

// CreateOrder validates input, normalizes the phone number, finds or creates
// the customer, inserts the order as RECEIVED, records the first history
// event and enqueues the ORDER_RECEIVED notification.
func (s *Service) CreateOrder(ctx context.Context, principal *auth.Principal, input CreateOrderInput) (*db.Order, error) {
	if !principal.CanEdit() {
		return nil, fmt.Errorf("%w: role %s cannot create orders", ErrForbidden, principal.Role)
	}

	if err := s.validate.Struct(input); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, fmt.Errorf("%w: field %s failed on %s", ErrValidation, verrs[0].Field(), verrs[0].Tag())
		}
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	number, err := phone.NormalizeE164(input.WhatsAppNumber)
	if err != nil {
		return nil, fmt.Errorf("whatsapp number %q: %w", input.WhatsAppNumber, err)
	}

	customer, err := s.repo.FindCustomerByNumber(ctx, principal.WorkspaceID, number)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("check existing customer: %w", err)
	}

	if customer == nil {
		now := time.Now()
		customer = &db.Customer{
			ID:             uuid.New(),
			WorkspaceID:    principal.WorkspaceID,
			Name:           input.CustomerName,
			WhatsAppNumber: number,
			LastOptinAt:    &now,
		}
		if err := s.repo.CreateCustomer(ctx, customer); err != nil {
			return nil, fmt.Errorf("create customer: %w", err)
		}
	}

	o := &db.Order{
		ID:                   uuid.New(),
		WorkspaceID:          principal.WorkspaceID,
		CustomerID:           customer.ID,
		OrderNumber:          newOrderNumber(),
		ProductTitle:         input.ProductTitle,
		ProductSKU:           input.ProductSKU,
		Quantity:             input.Quantity,
		PricePaise:           input.PricePaise,
		ShippingName:         input.ShippingName,
		ShippingAddress:      input.ShippingAddress,
		Pincode:              input.Pincode,
		City:                 input.City,
		State:                input.State,
		ExpectedDeliveryDate: input.ExpectedDeliveryDate,
		Status:               db.OrderReceived,
		CreatedBy:            &principal.UserID,
	}

	if err := s.repo.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	event := &db.OrderEvent{
		ID:        uuid.New(),
		OrderID:   o.ID,
		ToStatus:  db.OrderReceived,
		CreatedBy: &principal.UserID,
	}
	if err := s.repo.AppendOrderEvent(ctx, event); err != nil {
		s.logger.Warn("failed to append order event", zap.Error(err), zap.String("order_id", o.ID.String()))
	}

	s.enqueue(ctx, o, customer, db.TemplateOrderReceived, orderReceivedPayload{
		OrderNumber:  o.OrderNumber,
		ProductTitle: o.ProductTitle,
		Quantity:     o.Quantity,
	})

	s.repo.RecordAudit(ctx, &db.AuditLog{
		ID:          uuid.New(),
		WorkspaceID: principal.WorkspaceID,
		ActorUserID: &principal.UserID,
		Action:      "order.create",
		TargetType:  strPtr("order"),
		TargetID:    strPtr(o.ID.String()),
	})

	metrics.RecordOrderCreated(principal.WorkspaceID.String())

	return o, nil
}

// AdvanceStatus moves an order to a new status. Only legal pipeline edges are
// accepted; illegal ones fail with *ErrIllegalTransition.
func (s *Service) AdvanceStatus(ctx context.Context, principal *auth.Principal, orderID uuid.UUID, newStatus db.OrderStatus) (*db.Order, error) {
	if !principal.CanEdit() {
		return nil, fmt.Errorf("%w: role %s cannot update orders", ErrForbidden, principal.Role)
	}

	o, err := s.repo.GetOrder(ctx, principal.WorkspaceID, orderID)
	if err != nil {
		return nil, err
	}

	if !CanTransition(o.Status, newStatus) {
		return nil, &ErrIllegalTransition{From: o.Status, To: newStatus}
	}

	if err := s.repo.UpdateOrderStatus(ctx, principal.WorkspaceID, orderID, newStatus); err != nil {
		return nil, err
	}

	from := o.Status
	event := &db.OrderEvent{
		ID:         uuid.New(),
		OrderID:    o.ID,
		FromStatus: &from,
		ToStatus:   newStatus,
		CreatedBy:  &principal.UserID,
	}
	if err := s.repo.AppendOrderEvent(ctx, event); err != nil {
		s.logger.Warn("failed to append order event", zap.Error(err), zap.String("order_id", o.ID.String()))
	}

	o.Status = newStatus
	o.UpdatedAt = time.Now()

	// Cancellations get no customer notification.
	if newStatus != db.OrderCancelled {
		code := db.TemplateStatusUpdate
		if newStatus == db.OrderDelivered {
			code = db.TemplateDeliveredThanks
		}
		s.enqueue(ctx, o, nil, code, statusUpdatePayload{
			OrderNumber:  o.OrderNumber,
			ProductTitle: o.ProductTitle,
			StatusLabel:  StatusLabel(newStatus),
		})
	}

	s.repo.RecordAudit(ctx, &db.AuditLog{
		ID:          uuid.New(),
		WorkspaceID: principal.WorkspaceID,
		ActorUserID: &principal.UserID,
		Action:      "order.status." + string(newStatus),
		TargetType:  strPtr("order"),
		TargetID:    strPtr(o.ID.String()),
	})

	return o, nil
}

// enqueue persists one QUEUED outbox row. Enqueue failures are logged, not
// propagated: the order mutation already happened and notification delivery
// is reconciled asynchronously.
func (s *Service) enqueue(ctx context.Context, o *db.Order, customer *db.Customer, code db.TemplateCode, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to marshal outbox payload", zap.Error(err))
		return
	}

	m := &db.OutboxMessage{
		ID:           uuid.New(),
		WorkspaceID:  o.WorkspaceID,
		OrderID:      &o.ID,
		CustomerID:   &o.CustomerID,
		TemplateCode: code,
		Payload:      raw,
	}
	if customer != nil {
		m.Destination = &customer.WhatsAppNumber
	}

	if err := s.repo.EnqueueMessage(ctx, m); err != nil {
		s.logger.Error("failed to enqueue message",
			zap.Error(err),
			zap.String("order_id", o.ID.String()),
			zap.String("template_code", string(code)),
		)
		return
	}

	metrics.RecordMessageEnqueued(string(code))
}

// newOrderNumber derives an order number from the current time, matching the
// ORD-<8 digits> convention merchants already see on their dashboards.
func newOrderNumber() string {
	ms := time.Now().UnixMilli()
	return fmt.Sprintf("ORD-%08d", ms%100000000)
}

func strPtr(s string) *string { return &s }
