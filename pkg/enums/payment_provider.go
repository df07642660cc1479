package enums

import "fmt"

// PaymentProvider names the external rail a payment moved through.
type PaymentProvider string

const (
	// PaymentProviderPayMongo covers card and QRPH intents through the gateway.
	PaymentProviderPayMongo PaymentProvider = "paymongo"
	// PaymentProviderWallet is used for internal wallet-only movements
	// (withdrawals, commission remittances) that never touch the gateway.
	PaymentProviderWallet PaymentProvider = "wallet"
)

var validPaymentProviders = []PaymentProvider{
	PaymentProviderPayMongo,
	PaymentProviderWallet,
}

func (p PaymentProvider) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentProvider.
func (p PaymentProvider) IsValid() bool {
	for _, candidate := range validPaymentProviders {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentProvider converts raw input into a PaymentProvider.
func ParsePaymentProvider(value string) (PaymentProvider, error) {
	for _, candidate := range validPaymentProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment provider %q", value)
}
