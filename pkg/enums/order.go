package enums

import "fmt"

// OrderStatus tracks materialized order state. Orders created by a succeeded
// pay-first payment start at paid.
type OrderStatus string

const (
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

func (o OrderStatus) String() string {
	return string(o)
}

// EscrowStatus tracks funds held against an order pending delivery.
type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

func (e EscrowStatus) String() string {
	return string(e)
}

// PayoutMethod restricts where vendor withdrawals can be sent.
type PayoutMethod string

const (
	PayoutMethodBank  PayoutMethod = "bank"
	PayoutMethodGCash PayoutMethod = "gcash"
	PayoutMethodMaya  PayoutMethod = "maya"
)

var validPayoutMethods = []PayoutMethod{
	PayoutMethodBank,
	PayoutMethodGCash,
	PayoutMethodMaya,
}

func (p PayoutMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PayoutMethod.
func (p PayoutMethod) IsValid() bool {
	for _, candidate := range validPayoutMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePayoutMethod converts raw input into a PayoutMethod.
func ParsePayoutMethod(value string) (PayoutMethod, error) {
	for _, candidate := range validPayoutMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout method %q", value)
}
