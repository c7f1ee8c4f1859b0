package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
)

// Rollup derives an order's status and payment status from its sub-orders
// and their payments.
func Rollup(subs []models.SubOrder, payments []models.Payment) (enums.OrderStatus, enums.OrderPaymentStatus) {
	if len(subs) == 0 {
		return enums.OrderStatusPending, enums.OrderPaymentPending
	}
	return rollupStatus(subs), rollupPayment(subs, payments)
}

func rollupStatus(subs []models.SubOrder) enums.OrderStatus {
	var active, delivered, shipped, processing int
	for _, sub := range subs {
		switch sub.Status {
		case enums.OrderStatusCancelled:
			continue
		case enums.OrderStatusDelivered:
			delivered++
		case enums.OrderStatusShipped:
			shipped++
		case enums.OrderStatusProcessing:
			processing++
		}
		active++
	}
	switch {
	case active == 0:
		return enums.OrderStatusCancelled
	case delivered == active:
		return enums.OrderStatusDelivered
	case shipped+delivered > 0:
		return enums.OrderStatusShipped
	case processing > 0:
		return enums.OrderStatusProcessing
	default:
		return enums.OrderStatusPending
	}
}

func rollupPayment(subs []models.SubOrder, payments []models.Payment) enums.OrderPaymentStatus {
	bySub := make(map[uuid.UUID]enums.PaymentStatus, len(payments))
	var anyRefunded, anyFailed bool
	for _, p := range payments {
		if p.SubOrderID != nil {
			bySub[*p.SubOrderID] = p.Status
		}
		switch p.Status {
		case enums.PaymentStatusRefunded:
			anyRefunded = true
		case enums.PaymentStatusFailed:
			anyFailed = true
		}
	}

	active, paid, declined := 0, 0, 0
	for _, sub := range subs {
		if sub.Status == enums.OrderStatusCancelled {
			continue
		}
		active++
		switch bySub[sub.ID] {
		case enums.PaymentStatusPaid:
			paid++
		case enums.PaymentStatusFailed:
			declined++
		}
	}
	switch {
	case active > 0 && paid == active:
		return enums.OrderPaymentPaid
	case declined > 0:
		return enums.OrderPaymentFailed
	case active > 0:
		return enums.OrderPaymentPending
	case anyRefunded:
		return enums.OrderPaymentRefunded
	case anyFailed:
		return enums.OrderPaymentFailed
	default:
		return enums.OrderPaymentCancelled
	}
}

// Aggregator persists the rollup after a sub-order or payment transition.
type Aggregator struct {
	repo   Repository
	outbox outbox.Emitter
	logg   *logger.Logger
}

func NewAggregator(repo Repository, emitter outbox.Emitter, logg *logger.Logger) (*Aggregator, error) {
	if repo == nil {
		return nil, errors.New("orders repository required")
	}
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &Aggregator{repo: repo, outbox: emitter, logg: logg}, nil
}

// Recompute locks the order row, recomputes both statuses from persisted
// children and writes them when they changed. Callers lock sub-orders before
// calling so lock order is always sub-order then order.
func (a *Aggregator) Recompute(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error) {
	repo := a.repo.WithTx(tx)
	order, err := repo.LockOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
	}
	subs, err := repo.ListSubOrders(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list sub-orders")
	}
	payments, err := repo.ListPayments(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}

	status, paymentStatus := Rollup(subs, payments)
	if status == order.Status && paymentStatus == order.PaymentStatus {
		return order, nil
	}
	if err := repo.UpdateOrderStatus(ctx, orderID, status, paymentStatus); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}

	event := outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actor,
		Data: outbox.OrderStatusChanged{
			OrderID:           orderID,
			Status:            string(status),
			PreviousStatus:    string(order.Status),
			PaymentStatus:     string(paymentStatus),
			PreviousPayStatus: string(order.PaymentStatus),
		},
	}
	if err := a.outbox.Emit(ctx, tx, event); err != nil {
		return nil, fmt.Errorf("emit order status change: %w", err)
	}

	logCtx := a.logg.WithFields(a.logg.WithOrderID(ctx, orderID.String()), map[string]any{
		"from":           order.Status,
		"to":             status,
		"payment_status": paymentStatus,
	})
	a.logg.Info(logCtx, "order rollup changed")

	order.Status = status
	order.PaymentStatus = paymentStatus
	return order, nil
}
