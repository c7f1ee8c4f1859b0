// Package fulfillment drives sub-orders through confirm, claim, complete and
// cancel, keeping stock, shipments, payments and the parent order consistent.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/inventory"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
)

const (
	DefaultClaimETA       = 24 * time.Hour
	DefaultTrackingPrefix = "TRK"
	maxConfirmBatch       = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type stockReserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, requests []inventory.Request) error
}

type orderRollup interface {
	Recompute(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error)
}

// Options tunes shipment creation on claim.
type Options struct {
	ClaimETA       time.Duration
	TrackingPrefix string
}

// Service is the sub-order state machine. Every operation runs in a single
// transaction and checks all preconditions after taking its row locks.
type Service struct {
	tx        txRunner
	repo      orders.Repository
	inventory stockReserver
	rollup    orderRollup
	outbox    outbox.Emitter
	metrics   *metrics.Fulfillment
	logg      *logger.Logger
	opts      Options
	now       func() time.Time
}

func NewService(
	tx txRunner,
	repo orders.Repository,
	reserver stockReserver,
	rollup orderRollup,
	emitter outbox.Emitter,
	m *metrics.Fulfillment,
	logg *logger.Logger,
	opts Options,
) (*Service, error) {
	if tx == nil {
		return nil, errors.New("tx runner required")
	}
	if repo == nil {
		return nil, errors.New("orders repository required")
	}
	if reserver == nil {
		return nil, errors.New("stock reserver required")
	}
	if rollup == nil {
		return nil, errors.New("order rollup required")
	}
	if emitter == nil {
		return nil, errors.New("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if opts.ClaimETA <= 0 {
		opts.ClaimETA = DefaultClaimETA
	}
	if strings.TrimSpace(opts.TrackingPrefix) == "" {
		opts.TrackingPrefix = DefaultTrackingPrefix
	}
	return &Service{
		tx:        tx,
		repo:      repo,
		inventory: reserver,
		rollup:    rollup,
		outbox:    emitter,
		metrics:   m,
		logg:      logg,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// run executes fn in a transaction and records the outcome. Untyped
// persistence errors become retryable dependency errors.
func (s *Service) run(ctx context.Context, action Action, fn func(tx *gorm.DB) error) error {
	start := time.Now()
	err := classify(s.tx.WithTx(ctx, fn))
	outcome := ""
	if err != nil {
		outcome = strings.ToLower(string(pkgerrors.CodeOf(err)))
	}
	s.metrics.Observe(string(action), outcome, time.Since(start))
	return err
}

func classify(err error) error {
	if err == nil || pkgerrors.As(err) != nil {
		return err
	}
	if db.IsRetryable(err) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "row lock unavailable, retry")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persistence failure")
}

// lockSubOrder loads and locks one sub-order.
func lockSubOrder(ctx context.Context, repo orders.Repository, id uuid.UUID) (*models.SubOrder, error) {
	sub, err := repo.LockSubOrder(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sub-order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock sub-order")
	}
	return sub, nil
}

// advance applies action to a locked sub-order with a guarded update.
func advance(ctx context.Context, repo orders.Repository, sub *models.SubOrder, action Action) error {
	from, to, ok := Edge(action)
	if !ok || sub.Status != from || !CanTransition(from, to) {
		return stateConflict(sub.Status, to)
	}
	moved, err := repo.TransitionSubOrder(ctx, sub.ID, from, to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sub-order status")
	}
	if !moved {
		return pkgerrors.New(pkgerrors.CodeConflict, "sub-order changed concurrently")
	}
	sub.Status = to
	return nil
}

func stateConflict(from, to enums.OrderStatus) error {
	return pkgerrors.Newf(pkgerrors.CodeStateConflict, "cannot move sub-order from %s to %s", from, to).
		WithDetails(map[string]string{"status": string(from), "target": string(to)})
}

// settlePayment moves the sub-order's payment from -> to when it is still in
// from, emitting payment.updated. Missing payments are ignored.
func (s *Service) settlePayment(ctx context.Context, tx *gorm.DB, repo orders.Repository, sub *models.SubOrder, from, to enums.PaymentStatus, actor *outbox.ActorRef) (*models.Payment, error) {
	payment, err := repo.FindPayment(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	if payment == nil || payment.Status != from {
		return payment, nil
	}
	var paidAt *time.Time
	if to == enums.PaymentStatusPaid {
		now := s.now()
		paidAt = &now
	}
	moved, err := repo.TransitionPayment(ctx, payment.ID, from, to, paidAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
	}
	if !moved {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment changed concurrently")
	}
	payment.Status = to
	if paidAt != nil {
		payment.PaidAt = paidAt
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentUpdated,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Actor:         actor,
		Data: outbox.PaymentUpdated{
			PaymentID:  payment.ID,
			OrderID:    payment.OrderID,
			SubOrderID: payment.SubOrderID,
			Status:     string(to),
			Amount:     payment.Amount,
		},
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *Service) emitTransition(ctx context.Context, tx *gorm.DB, event enums.OutboxEventType, sub *models.SubOrder, from enums.OrderStatus, shipperID *uuid.UUID, reason string, actor *outbox.ActorRef) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     event,
		AggregateType: enums.AggregateSubOrder,
		AggregateID:   sub.ID,
		Actor:         actor,
		Data: outbox.SubOrderTransition{
			SubOrderID: sub.ID,
			OrderID:    sub.OrderID,
			ShopID:     sub.ShopID,
			From:       string(from),
			To:         string(sub.Status),
			ShipperID:  shipperID,
			Reason:     reason,
		},
	})
}

func (s *Service) logTransition(ctx context.Context, sub *models.SubOrder, from enums.OrderStatus, action Action) {
	logCtx := s.logg.WithSubOrderID(s.logg.WithOrderID(ctx, sub.OrderID.String()), sub.ID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"action": string(action),
		"from":   string(from),
		"to":     string(sub.Status),
	})
	s.logg.Info(logCtx, "sub-order transitioned")
}

func (s *Service) trackingNumber() string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s-%s", s.opts.TrackingPrefix, raw[:16])
}
