package enums

import "fmt"

// OrderStatus maps to the order_status_enum enum in Postgres.
type OrderStatus string

const (
	OrderStatusDraft      OrderStatus = "draft"
	OrderStatusReserved   OrderStatus = "reserved"
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusFailed     OrderStatus = "failed"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusDraft,
	OrderStatusReserved,
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusFailed,
}

// IsValid reports whether the value matches the canonical order status enum.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseOrderStatus converts raw input into OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}

// CanBeConfirmed reports whether confirmation is allowed from this status.
func (s OrderStatus) CanBeConfirmed() bool {
	return s == OrderStatusReserved || s == OrderStatusPending
}

// CanBeCancelled reports whether cancellation is allowed from this status.
func (s OrderStatus) CanBeCancelled() bool {
	switch s {
	case OrderStatusDraft, OrderStatusReserved, OrderStatusPending, OrderStatusConfirmed:
		return true
	default:
		return false
	}
}

// CanBeFulfilled reports whether fulfillment is allowed from this status.
func (s OrderStatus) CanBeFulfilled() bool {
	return s == OrderStatusConfirmed || s == OrderStatusProcessing
}
