package types

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Actor is the normalized caller identity built once at the transport edge.
// ShopID is set only for vendors.
type Actor struct {
	ID     uuid.UUID
	Role   enums.ActorRole
	ShopID *uuid.UUID
}

func (a Actor) Is(role enums.ActorRole) bool {
	return a.ID != uuid.Nil && a.Role == role
}

// OwnsShop reports whether the actor is a vendor operating shopID.
func (a Actor) OwnsShop(shopID uuid.UUID) bool {
	return a.Is(enums.ActorRoleVendor) && a.ShopID != nil && *a.ShopID == shopID
}
