package order

import (
	"fmt"

	"github.com/orderping/orderping/internal/db"
)

// ErrIllegalTransition is returned when a status change is not a legal edge
// in the order pipeline.
type ErrIllegalTransition struct {
	From db.OrderStatus
	To   db.OrderStatus
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal order transition %s -> %s", e.From, e.To)
}

// Forward edges of the pipeline. CANCELLED is reachable from any non-terminal
// state; DELIVERED and CANCELLED are terminal.
var transitions = map[db.OrderStatus]db.OrderStatus{
	db.OrderReceived: db.OrderPacked,
	db.OrderPacked:   db.OrderShipped,
	db.OrderShipped:  db.OrderDelivered,
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to db.OrderStatus) bool {
	if to == db.OrderCancelled {
		return from != db.OrderDelivered && from != db.OrderCancelled
	}
	return transitions[from] == to
}

// KnownStatus reports whether s is one of the pipeline statuses.
func KnownStatus(s db.OrderStatus) bool {
	switch s {
	case db.OrderReceived, db.OrderPacked, db.OrderShipped, db.OrderDelivered, db.OrderCancelled:
		return true
	}
	return false
}

// NextStatus returns the forward step from the given status, or false when
// the status is terminal.
func NextStatus(from db.OrderStatus) (db.OrderStatus, bool) {
	next, ok := transitions[from]
	return next, ok
}

// StatusLabel renders a status for customer-facing template parameters.
func StatusLabel(s db.OrderStatus) string {
	switch s {
	case db.OrderReceived:
		return "Received"
	case db.OrderPacked:
		return "Packed"
	case db.OrderShipped:
		return "Shipped"
	case db.OrderDelivered:
		return "Delivered"
	case db.OrderCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}
