package enums

import "fmt"

// ActorType distinguishes which side of the marketplace owns a wallet.
type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeVendor ActorType = "vendor"
)

var validActorTypes = []ActorType{
	ActorTypeUser,
	ActorTypeVendor,
}

func (a ActorType) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ActorType.
func (a ActorType) IsValid() bool {
	for _, candidate := range validActorTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActorType converts raw input into an ActorType.
func ParseActorType(value string) (ActorType, error) {
	for _, candidate := range validActorTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor type %q", value)
}
