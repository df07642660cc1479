package enums

import "fmt"

// TransactionDirection marks whether a ledger entry adds to or removes from a wallet.
type TransactionDirection string

const (
	TransactionDirectionCredit TransactionDirection = "credit"
	TransactionDirectionDebit  TransactionDirection = "debit"
)

var validTransactionDirections = []TransactionDirection{
	TransactionDirectionCredit,
	TransactionDirectionDebit,
}

func (d TransactionDirection) String() string {
	return string(d)
}

// IsValid reports whether the value is a known TransactionDirection.
func (d TransactionDirection) IsValid() bool {
	for _, candidate := range validTransactionDirections {
		if candidate == d {
			return true
		}
	}
	return false
}

// TransactionStatus marks whether a ledger entry counts toward the balance.
type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

func (s TransactionStatus) String() string {
	return string(s)
}

// ReferenceType identifies the entity that caused a ledger entry. Every wallet
// mutation must be traceable to exactly one of these.
type ReferenceType string

const (
	ReferenceTypePayment            ReferenceType = "payment"
	ReferenceTypeCommission         ReferenceType = "commission"
	ReferenceTypeWithdrawal         ReferenceType = "withdrawal"
	ReferenceTypeWithdrawalReversal ReferenceType = "withdrawal_reversal"
)

var validReferenceTypes = []ReferenceType{
	ReferenceTypePayment,
	ReferenceTypeCommission,
	ReferenceTypeWithdrawal,
	ReferenceTypeWithdrawalReversal,
}

func (r ReferenceType) String() string {
	return string(r)
}

// IsValid reports whether the value is a known ReferenceType.
func (r ReferenceType) IsValid() bool {
	for _, candidate := range validReferenceTypes {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseReferenceType converts raw input into a ReferenceType.
func ParseReferenceType(value string) (ReferenceType, error) {
	for _, candidate := range validReferenceTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reference type %q", value)
}
