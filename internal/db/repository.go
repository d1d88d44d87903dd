package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a query matches no rows. Callers distinguish
// it from transport/database failures with errors.Is.
var ErrNotFound = errors.New("not found")

// Repository handles database operations for all OrderPing entities.
// Methods are grouped by concern across repository.go, outbox.go and
// billing.go.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository.
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// FindCustomerByNumber looks up a customer by workspace and E.164 number.
func (r *Repository) FindCustomerByNumber(ctx context.Context, workspaceID uuid.UUID, number string) (*Customer, error) {
	query := `
		SELECT id, workspace_id, name, whatsapp_number,
			last_optin_at, opted_out_at, last_message_at, created_at
		FROM customers
		WHERE workspace_id = $1 AND whatsapp_number = $2
	`

	var c Customer
	err := r.db.Pool().QueryRow(ctx, query, workspaceID, number).Scan(
		&c.ID,
		&c.WorkspaceID,
		&c.Name,
		&c.WhatsAppNumber,
		&c.LastOptinAt,
		&c.OptedOutAt,
		&c.LastMessageAt,
		&c.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", number, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}

	return &c, nil
}

// GetCustomer fetches a customer by id within a workspace.
func (r *Repository) GetCustomer(ctx context.Context, workspaceID, customerID uuid.UUID) (*Customer, error) {
	query := `
		SELECT id, workspace_id, name, whatsapp_number,
			last_optin_at, opted_out_at, last_message_at, created_at
		FROM customers
		WHERE workspace_id = $1 AND id = $2
	`

	var c Customer
	err := r.db.Pool().QueryRow(ctx, query, workspaceID, customerID).Scan(
		&c.ID,
		&c.WorkspaceID,
		&c.Name,
		&c.WhatsAppNumber,
		&c.LastOptinAt,
		&c.OptedOutAt,
		&c.LastMessageAt,
		&c.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("customer %s: %w", customerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query customer: %w", err)
	}

	return &c, nil
}

// CreateCustomer inserts a customer and fills in generated fields.
func (r *Repository) CreateCustomer(ctx context.Context, c *Customer) error {
	query := `
		INSERT INTO customers (id, workspace_id, name, whatsapp_number, last_optin_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		c.ID,
		c.WorkspaceID,
		c.Name,
		c.WhatsAppNumber,
		c.LastOptinAt,
	).Scan(&c.CreatedAt)

	if err != nil {
		r.logger.Error("failed to create customer",
			zap.Error(err),
			zap.String("workspace_id", c.WorkspaceID.String()),
		)
		return fmt.Errorf("insert customer: %w", err)
	}

	return nil
}

// OptOutCustomersByNumber stamps opted_out_at for every customer with the
// given number, across workspaces. Opt-outs arrive against the shared provider
// source number and cannot be attributed to a single tenant, so the stop
// applies globally. Returns the number of customers updated.
func (r *Repository) OptOutCustomersByNumber(ctx context.Context, number string) (int64, error) {
	query := `
		UPDATE customers
		SET opted_out_at = NOW()
		WHERE whatsapp_number = $1 AND opted_out_at IS NULL
	`

	result, err := r.db.Pool().Exec(ctx, query, number)
	if err != nil {
		return 0, fmt.Errorf("opt out customer: %w", err)
	}

	return result.RowsAffected(), nil
}

// CreateOrder inserts a new order.
func (r *Repository) CreateOrder(ctx context.Context, o *Order) error {
	query := `
		INSERT INTO orders (
			id, workspace_id, customer_id, order_number, product_title,
			product_sku, quantity, price_paise, shipping_name, shipping_address,
			pincode, city, state, expected_delivery_date, status, created_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
		RETURNING created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		o.ID,
		o.WorkspaceID,
		o.CustomerID,
		o.OrderNumber,
		o.ProductTitle,
		o.ProductSKU,
		o.Quantity,
		o.PricePaise,
		o.ShippingName,
		o.ShippingAddress,
		o.Pincode,
		o.City,
		o.State,
		o.ExpectedDeliveryDate,
		o.Status,
		o.CreatedBy,
	).Scan(&o.CreatedAt, &o.UpdatedAt)

	if err != nil {
		r.logger.Error("failed to create order",
			zap.Error(err),
			zap.String("order_number", o.OrderNumber),
			zap.String("workspace_id", o.WorkspaceID.String()),
		)
		return fmt.Errorf("insert order: %w", err)
	}

	r.logger.Info("order created",
		zap.String("order_id", o.ID.String()),
		zap.String("order_number", o.OrderNumber),
		zap.String("workspace_id", o.WorkspaceID.String()),
	)

	return nil
}

// GetOrder retrieves an order scoped to a workspace.
func (r *Repository) GetOrder(ctx context.Context, workspaceID, orderID uuid.UUID) (*Order, error) {
	query := `
		SELECT id, workspace_id, customer_id, order_number, product_title,
			product_sku, quantity, price_paise, shipping_name, shipping_address,
			pincode, city, state, expected_delivery_date, status, created_by,
			created_at, updated_at
		FROM orders
		WHERE id = $1 AND workspace_id = $2
	`

	var o Order
	err := r.db.Pool().QueryRow(ctx, query, orderID, workspaceID).Scan(
		&o.ID,
		&o.WorkspaceID,
		&o.CustomerID,
		&o.OrderNumber,
		&o.ProductTitle,
		&o.ProductSKU,
		&o.Quantity,
		&o.PricePaise,
		&o.ShippingName,
		&o.ShippingAddress,
		&o.Pincode,
		&o.City,
		&o.State,
		&o.ExpectedDeliveryDate,
		&o.Status,
		&o.CreatedBy,
		&o.CreatedAt,
		&o.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	return &o, nil
}

// ListOrdersByWorkspace retrieves orders for a workspace with pagination.
func (r *Repository) ListOrdersByWorkspace(ctx context.Context, workspaceID uuid.UUID, limit, offset int) ([]*Order, error) {
	query := `
		SELECT id, workspace_id, customer_id, order_number, product_title,
			product_sku, quantity, price_paise, shipping_name, shipping_address,
			pincode, city, state, expected_delivery_date, status, created_by,
			created_at, updated_at
		FROM orders
		WHERE workspace_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Pool().Query(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		err := rows.Scan(
			&o.ID,
			&o.WorkspaceID,
			&o.CustomerID,
			&o.OrderNumber,
			&o.ProductTitle,
			&o.ProductSKU,
			&o.Quantity,
			&o.PricePaise,
			&o.ShippingName,
			&o.ShippingAddress,
			&o.Pincode,
			&o.City,
			&o.State,
			&o.ExpectedDeliveryDate,
			&o.Status,
			&o.CreatedBy,
			&o.CreatedAt,
			&o.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return orders, nil
}

// UpdateOrderStatus sets an order's status and bumps updated_at.
func (r *Repository) UpdateOrderStatus(ctx context.Context, workspaceID, orderID uuid.UUID, status OrderStatus) error {
	query := `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND workspace_id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query, status, orderID, workspaceID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	return nil
}

// AppendOrderEvent records one immutable status transition.
func (r *Repository) AppendOrderEvent(ctx context.Context, e *OrderEvent) error {
	query := `
		INSERT INTO order_events (id, order_id, from_status, to_status, note, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		e.ID,
		e.OrderID,
		e.FromStatus,
		e.ToStatus,
		e.Note,
		e.CreatedBy,
	).Scan(&e.CreatedAt)

	if err != nil {
		return fmt.Errorf("insert order event: %w", err)
	}

	return nil
}

// ListOrderEvents retrieves the transition history for an order, oldest first.
func (r *Repository) ListOrderEvents(ctx context.Context, orderID uuid.UUID) ([]*OrderEvent, error) {
	query := `
		SELECT id, order_id, from_status, to_status, note, created_by, created_at
		FROM order_events
		WHERE order_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool().Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("query order events: %w", err)
	}
	defer rows.Close()

	var events []*OrderEvent
	for rows.Next() {
		var e OrderEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.Note, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order event: %w", err)
		}
		events = append(events, &e)
	}

	return events, rows.Err()
}

// RecordAudit appends an audit log entry. Audit failures are logged, never
// propagated: they must not fail the business operation.
func (r *Repository) RecordAudit(ctx context.Context, a *AuditLog) {
	query := `
		INSERT INTO audit_logs (id, workspace_id, actor_user_id, action, target_type, target_id, meta_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		a.ID,
		a.WorkspaceID,
		a.ActorUserID,
		a.Action,
		a.TargetType,
		a.TargetID,
		a.Meta,
	)
	if err != nil {
		r.logger.Warn("failed to record audit log",
			zap.Error(err),
			zap.String("action", a.Action),
		)
	}
}

// ListMemberships retrieves all workspace memberships for a user.
func (r *Repository) ListMemberships(ctx context.Context, userID uuid.UUID) ([]*WorkspaceMember, error) {
	query := `
		SELECT id, workspace_id, user_id, role, created_at
		FROM workspace_members
		WHERE user_id = $1
	`

	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	var members []*WorkspaceMember
	for rows.Next() {
		var m WorkspaceMember
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		members = append(members, &m)
	}

	return members, rows.Err()
}

// GetProfile retrieves a user profile.
func (r *Repository) GetProfile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	query := `
		SELECT id, active_workspace_id, full_name, phone, created_at
		FROM profiles
		WHERE id = $1
	`

	var p Profile
	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&p.ID,
		&p.ActiveWorkspaceID,
		&p.FullName,
		&p.Phone,
		&p.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}

	return &p, nil
}
