package enums

import "fmt"

// CommissionStatus tracks a COD commission obligation.
type CommissionStatus string

const (
	CommissionStatusPending  CommissionStatus = "pending"
	CommissionStatusRemitted CommissionStatus = "remitted"
	CommissionStatusOverdue  CommissionStatus = "overdue"
	CommissionStatusWaived   CommissionStatus = "waived"
	CommissionStatusDisputed CommissionStatus = "disputed"
)

var validCommissionStatuses = []CommissionStatus{
	CommissionStatusPending,
	CommissionStatusRemitted,
	CommissionStatusOverdue,
	CommissionStatusWaived,
	CommissionStatusDisputed,
}

func (c CommissionStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CommissionStatus.
func (c CommissionStatus) IsValid() bool {
	for _, candidate := range validCommissionStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// Remittable reports whether a commission in this status may still be
// settled through the vendor wallet.
func (c CommissionStatus) Remittable() bool {
	return c == CommissionStatusPending || c == CommissionStatusOverdue
}

// ParseCommissionStatus converts raw input into a CommissionStatus.
func ParseCommissionStatus(value string) (CommissionStatus, error) {
	for _, candidate := range validCommissionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid commission status %q", value)
}
