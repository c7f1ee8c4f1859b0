package orders

import (
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

func subsWith(statuses ...enums.OrderStatus) []models.SubOrder {
	subs := make([]models.SubOrder, len(statuses))
	for i, st := range statuses {
		subs[i] = models.SubOrder{ID: uuid.New(), Status: st}
	}
	return subs
}

func paymentsFor(subs []models.SubOrder, statuses ...enums.PaymentStatus) []models.Payment {
	payments := make([]models.Payment, len(statuses))
	for i, st := range statuses {
		id := subs[i].ID
		payments[i] = models.Payment{ID: uuid.New(), SubOrderID: &id, Status: st}
	}
	return payments
}

func TestRollupStatus(t *testing.T) {
	const (
		P = enums.OrderStatusPending
		R = enums.OrderStatusProcessing
		S = enums.OrderStatusShipped
		D = enums.OrderStatusDelivered
		C = enums.OrderStatusCancelled
	)
	cases := []struct {
		name string
		subs []enums.OrderStatus
		want enums.OrderStatus
	}{
		{name: "all pending", subs: []enums.OrderStatus{P, P}, want: P},
		{name: "one processing", subs: []enums.OrderStatus{P, R}, want: R},
		{name: "one shipped", subs: []enums.OrderStatus{R, S}, want: S},
		{name: "delivered and pending", subs: []enums.OrderStatus{D, P}, want: S},
		{name: "all delivered", subs: []enums.OrderStatus{D, D}, want: D},
		{name: "delivered and cancelled", subs: []enums.OrderStatus{D, C}, want: D},
		{name: "one cancelled sibling pending", subs: []enums.OrderStatus{C, P}, want: P},
		{name: "all cancelled", subs: []enums.OrderStatus{C, C, C}, want: C},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, _ := Rollup(subsWith(tc.subs...), nil)
			if got != tc.want {
				t.Fatalf("expected %s got %s", tc.want, got)
			}
		})
	}
}

func TestRollupPaymentStatus(t *testing.T) {
	t.Run("paid when every active payment paid", func(t *testing.T) {
		subs := subsWith(enums.OrderStatusDelivered, enums.OrderStatusCancelled)
		payments := paymentsFor(subs, enums.PaymentStatusPaid, enums.PaymentStatusPending)
		if _, got := Rollup(subs, payments); got != enums.OrderPaymentPaid {
			t.Fatalf("expected paid got %s", got)
		}
	})
	t.Run("pending while one active unpaid", func(t *testing.T) {
		subs := subsWith(enums.OrderStatusDelivered, enums.OrderStatusShipped)
		payments := paymentsFor(subs, enums.PaymentStatusPaid, enums.PaymentStatusPending)
		if _, got := Rollup(subs, payments); got != enums.OrderPaymentPending {
			t.Fatalf("expected pending got %s", got)
		}
	})
	t.Run("failed when an active payment is declined", func(t *testing.T) {
		subs := subsWith(enums.OrderStatusPending, enums.OrderStatusPending)
		payments := paymentsFor(subs, enums.PaymentStatusPending, enums.PaymentStatusFailed)
		if _, got := Rollup(subs, payments); got != enums.OrderPaymentFailed {
			t.Fatalf("expected failed got %s", got)
		}
	})
	t.Run("all cancelled with refund", func(t *testing.T) {
		subs := subsWith(enums.OrderStatusCancelled, enums.OrderStatusCancelled)
		payments := paymentsFor(subs, enums.PaymentStatusRefunded, enums.PaymentStatusFailed)
		if _, got := Rollup(subs, payments); got != enums.OrderPaymentRefunded {
			t.Fatalf("expected refunded got %s", got)
		}
	})
	t.Run("all cancelled with failure", func(t *testing.T) {
		subs := subsWith(enums.OrderStatusCancelled)
		payments := paymentsFor(subs, enums.PaymentStatusFailed)
		if _, got := Rollup(subs, payments); got != enums.OrderPaymentFailed {
			t.Fatalf("expected failed got %s", got)
		}
	})
	t.Run("all cancelled untouched payments", func(t *testing.T) {
		subs := subsWith(enums.OrderStatusCancelled, enums.OrderStatusCancelled)
		payments := paymentsFor(subs, enums.PaymentStatusPending, enums.PaymentStatusPending)
		if _, got := Rollup(subs, payments); got != enums.OrderPaymentCancelled {
			t.Fatalf("expected cancelled got %s", got)
		}
	})
	t.Run("no sub-orders", func(t *testing.T) {
		status, pay := Rollup(nil, nil)
		if status != enums.OrderStatusPending || pay != enums.OrderPaymentPending {
			t.Fatalf("expected pending/pending got %s/%s", status, pay)
		}
	})
}
