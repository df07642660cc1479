package enums

import "fmt"

// PaymentType identifies what kind of money movement a payment record represents.
type PaymentType string

const (
	PaymentTypeCheckout     PaymentType = "checkout"
	PaymentTypeRefund       PaymentType = "refund"
	PaymentTypeWithdraw     PaymentType = "withdraw"
	PaymentTypeCashIn       PaymentType = "cash_in"
	PaymentTypeSubscription PaymentType = "subscription"
)

var validPaymentTypes = []PaymentType{
	PaymentTypeCheckout,
	PaymentTypeRefund,
	PaymentTypeWithdraw,
	PaymentTypeCashIn,
	PaymentTypeSubscription,
}

func (p PaymentType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentType.
func (p PaymentType) IsValid() bool {
	for _, candidate := range validPaymentTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentType converts raw input into a PaymentType.
func ParsePaymentType(value string) (PaymentType, error) {
	for _, candidate := range validPaymentTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment type %q", value)
}
