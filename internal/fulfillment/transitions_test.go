package fulfillment

import (
	"testing"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]enums.OrderStatus]bool{
		{enums.OrderStatusPending, enums.OrderStatusProcessing}: true,
		{enums.OrderStatusProcessing, enums.OrderStatusShipped}: true,
		{enums.OrderStatusShipped, enums.OrderStatusDelivered}:  true,
		{enums.OrderStatusPending, enums.OrderStatusCancelled}:  true,
		{enums.OrderStatusShipped, enums.OrderStatusCancelled}:  true,
	}
	statuses := []enums.OrderStatus{
		enums.OrderStatusPending,
		enums.OrderStatusProcessing,
		enums.OrderStatusShipped,
		enums.OrderStatusDelivered,
		enums.OrderStatusCancelled,
	}
	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]enums.OrderStatus{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, e := range transitions {
		if e.from.IsTerminal() {
			t.Fatalf("terminal state %s has an outgoing edge to %s", e.from, e.to)
		}
	}
}

func TestEdge(t *testing.T) {
	from, to, ok := Edge(ActionClaim)
	if !ok || from != enums.OrderStatusProcessing || to != enums.OrderStatusShipped {
		t.Fatalf("unexpected claim edge %s -> %s (%v)", from, to, ok)
	}
	if _, _, ok := Edge(ActionListClaimable); ok {
		t.Fatalf("list is not a transition")
	}
}
