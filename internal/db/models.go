package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is a step in the fixed order pipeline.
type OrderStatus string

const (
	OrderReceived  OrderStatus = "RECEIVED"
	OrderPacked    OrderStatus = "PACKED"
	OrderShipped   OrderStatus = "SHIPPED"
	OrderDelivered OrderStatus = "DELIVERED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// MessageStatus is the lifecycle state of an outbox row.
//
// QUEUED -> CLAIMED -> SENT -> DELIVERED
// QUEUED -> CLAIMED -> FAILED -> QUEUED (after backoff)
// FAILED rows that exhaust their attempts become DEAD and stay there.
type MessageStatus string

const (
	MessageQueued    MessageStatus = "QUEUED"
	MessageClaimed   MessageStatus = "CLAIMED"
	MessageSent      MessageStatus = "SENT"
	MessageDelivered MessageStatus = "DELIVERED"
	MessageFailed    MessageStatus = "FAILED"
	MessageDead      MessageStatus = "DEAD"
)

// TemplateCode is a logical template identifier mapped per workspace to a
// provider template id.
type TemplateCode string

const (
	TemplateOrderReceived   TemplateCode = "ORDER_RECEIVED"
	TemplateStatusUpdate    TemplateCode = "STATUS_UPDATE"
	TemplateDeliveredThanks TemplateCode = "DELIVERED_THANKS"
)

// Workspace roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

type Workspace struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Slug              string    `json:"slug"`
	OwnerUserID       uuid.UUID `json:"owner_user_id"`
	WhatsAppProvider  string    `json:"whatsapp_provider"`
	WabaPhoneNumberID *string   `json:"waba_phone_number_id,omitempty"`
	ProviderAPIKey    *string   `json:"-"`
	IsSandbox         bool      `json:"is_sandbox"`
	CreatedAt         time.Time `json:"created_at"`
}

type Profile struct {
	ID                uuid.UUID  `json:"id"`
	ActiveWorkspaceID *uuid.UUID `json:"active_workspace_id,omitempty"`
	FullName          *string    `json:"full_name,omitempty"`
	Phone             *string    `json:"phone,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type WorkspaceMember struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	UserID      uuid.UUID `json:"user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

type Customer struct {
	ID             uuid.UUID  `json:"id"`
	WorkspaceID    uuid.UUID  `json:"workspace_id"`
	Name           string     `json:"name"`
	WhatsAppNumber string     `json:"whatsapp_number"`
	LastOptinAt    *time.Time `json:"last_optin_at,omitempty"`
	OptedOutAt     *time.Time `json:"opted_out_at,omitempty"`
	LastMessageAt  *time.Time `json:"last_message_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type Order struct {
	ID                   uuid.UUID   `json:"id"`
	WorkspaceID          uuid.UUID   `json:"workspace_id"`
	CustomerID           uuid.UUID   `json:"customer_id"`
	OrderNumber          string      `json:"order_number"`
	ProductTitle         string      `json:"product_title"`
	ProductSKU           *string     `json:"product_sku,omitempty"`
	Quantity             int         `json:"quantity"`
	PricePaise           int64       `json:"price_paise"`
	ShippingName         *string     `json:"shipping_name,omitempty"`
	ShippingAddress      *string     `json:"shipping_address,omitempty"`
	Pincode              *string     `json:"pincode,omitempty"`
	City                 *string     `json:"city,omitempty"`
	State                *string     `json:"state,omitempty"`
	ExpectedDeliveryDate *time.Time  `json:"expected_delivery_date,omitempty"`
	Status               OrderStatus `json:"status"`
	CreatedBy            *uuid.UUID  `json:"created_by,omitempty"`
	CreatedAt            time.Time   `json:"created_at"`
	UpdatedAt            time.Time   `json:"updated_at"`
}

type OrderEvent struct {
	ID         uuid.UUID    `json:"id"`
	OrderID    uuid.UUID    `json:"order_id"`
	FromStatus *OrderStatus `json:"from_status,omitempty"`
	ToStatus   OrderStatus  `json:"to_status"`
	Note       *string      `json:"note,omitempty"`
	CreatedBy  *uuid.UUID   `json:"created_by,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

type MessageTemplate struct {
	ID                 uuid.UUID    `json:"id"`
	WorkspaceID        uuid.UUID    `json:"workspace_id"`
	Code               TemplateCode `json:"code"`
	ProviderTemplateID string       `json:"provider_template_id"`
	Lang               string       `json:"lang"`
	Active             bool         `json:"active"`
}

type OutboxMessage struct {
	ID                uuid.UUID       `json:"id"`
	WorkspaceID       uuid.UUID       `json:"workspace_id"`
	OrderID           *uuid.UUID      `json:"order_id,omitempty"`
	CustomerID        *uuid.UUID      `json:"customer_id,omitempty"`
	TemplateCode      TemplateCode    `json:"template_code"`
	Payload           json.RawMessage `json:"payload_json"`
	Destination       *string         `json:"destination,omitempty"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty"`
	Status            MessageStatus   `json:"status"`
	ErrorCode         *string         `json:"error_code,omitempty"`
	Attempts          int             `json:"attempts"`
	ClaimedBy         *string         `json:"claimed_by,omitempty"`
	ClaimedAt         *time.Time      `json:"claimed_at,omitempty"`
	NextRetryAt       *time.Time      `json:"next_retry_at,omitempty"`
	LastAttemptAt     *time.Time      `json:"last_attempt_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// DispatchItem is an outbox row joined with everything the dispatcher needs
// to place one provider call.
type DispatchItem struct {
	Message            OutboxMessage `json:"message"`
	Destination        string        `json:"destination"`
	ProviderTemplateID string        `json:"provider_template_id"`
	SourceNumber       string        `json:"source_number"`
}

type Subscription struct {
	ID                     uuid.UUID  `json:"id"`
	WorkspaceID            uuid.UUID  `json:"workspace_id"`
	Plan                   string     `json:"plan"`
	Status                 string     `json:"status"`
	CurrentPeriodEnd       *time.Time `json:"current_period_end,omitempty"`
	RazorpayCustomerID     *string    `json:"razorpay_customer_id,omitempty"`
	RazorpaySubscriptionID *string    `json:"razorpay_subscription_id,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

type Invoice struct {
	ID                uuid.UUID  `json:"id"`
	WorkspaceID       uuid.UUID  `json:"workspace_id"`
	RazorpayInvoiceID *string    `json:"razorpay_invoice_id,omitempty"`
	AmountPaise       int64      `json:"amount_paise"`
	Status            *string    `json:"status,omitempty"`
	PDFURL            *string    `json:"pdf_url,omitempty"`
	IssuedAt          *time.Time `json:"issued_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

type AuditLog struct {
	ID          uuid.UUID       `json:"id"`
	WorkspaceID uuid.UUID       `json:"workspace_id"`
	ActorUserID *uuid.UUID      `json:"actor_user_id,omitempty"`
	Action      string          `json:"action"`
	TargetType  *string         `json:"target_type,omitempty"`
	TargetID    *string         `json:"target_id,omitempty"`
	Meta        json.RawMessage `json:"meta_json,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
