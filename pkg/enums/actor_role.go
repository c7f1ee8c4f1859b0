package enums

import (
	"fmt"
	"strings"
)

// ActorRole identifies who is driving a fulfillment transition.
type ActorRole string

const (
	ActorRoleBuyer   ActorRole = "buyer"
	ActorRoleVendor  ActorRole = "vendor"
	ActorRoleShipper ActorRole = "shipper"
)

var validActorRoles = []ActorRole{
	ActorRoleBuyer,
	ActorRoleVendor,
	ActorRoleShipper,
}

func (r ActorRole) String() string {
	return string(r)
}

func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole accepts any casing.
func ParseActorRole(value string) (ActorRole, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validActorRoles {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
