package types

import (
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

func TestActorOwnsShop(t *testing.T) {
	shop := uuid.New()
	vendor := Actor{ID: uuid.New(), Role: enums.ActorRoleVendor, ShopID: &shop}

	if !vendor.OwnsShop(shop) {
		t.Fatal("vendor should own its shop")
	}
	if vendor.OwnsShop(uuid.New()) {
		t.Fatal("vendor should not own another shop")
	}

	shipper := Actor{ID: uuid.New(), Role: enums.ActorRoleShipper, ShopID: &shop}
	if shipper.OwnsShop(shop) {
		t.Fatal("only vendors own shops")
	}
	if (Actor{Role: enums.ActorRoleBuyer}).Is(enums.ActorRoleBuyer) {
		t.Fatal("actor without id must not match a role")
	}
}
