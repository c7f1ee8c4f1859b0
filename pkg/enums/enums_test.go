package enums

import "testing"

func TestParseOrderStatus(t *testing.T) {
	for _, raw := range []string{"pending", "processing", "shipped", "delivered", "cancelled"} {
		status, err := ParseOrderStatus(raw)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", raw, err)
		}
		if status.String() != raw {
			t.Fatalf("round trip mismatch for %q", raw)
		}
	}
	if _, err := ParseOrderStatus("canceled"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestOrderStatusTerminal(t *testing.T) {
	if !OrderStatusDelivered.IsTerminal() || !OrderStatusCancelled.IsTerminal() {
		t.Fatal("delivered and cancelled must be terminal")
	}
	if OrderStatusShipped.IsTerminal() {
		t.Fatal("shipped is not terminal")
	}
}

func TestPaymentMethodRequiresIntent(t *testing.T) {
	if PaymentMethodCOD.RequiresIntent() || PaymentMethodBankTransfer.RequiresIntent() {
		t.Fatal("offline methods should not require a gateway intent")
	}
	if !PaymentMethodGateway.RequiresIntent() || !PaymentMethodWallet.RequiresIntent() {
		t.Fatal("gateway and wallet settle through the gateway")
	}
}

func TestParseActorRoleIsCaseInsensitive(t *testing.T) {
	role, err := ParseActorRole(" Shipper ")
	if err != nil || role != ActorRoleShipper {
		t.Fatalf("expected shipper, got %q err=%v", role, err)
	}
	if _, err := ParseActorRole("admin"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestPaymentStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		ok       bool
	}{
		{PaymentStatusPending, PaymentStatusPaid, true},
		{PaymentStatusPending, PaymentStatusFailed, true},
		{PaymentStatusPaid, PaymentStatusRefunded, true},
		{PaymentStatusPending, PaymentStatusRefunded, false},
		{PaymentStatusFailed, PaymentStatusPaid, false},
		{PaymentStatusRefunded, PaymentStatusPaid, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}
