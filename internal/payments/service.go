// Package payments starts gateway checkouts for buyers and applies the
// gateway's settlement callbacks to sub-order payments.
package payments

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

const referencePrefix = "pay_"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderRollup interface {
	Recompute(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error)
}

// CallbackResult summarizes what a gateway notification changed.
type CallbackResult struct {
	Reference string `json:"reference"`
	Updated   int    `json:"updated"`
	Skipped   int    `json:"skipped"`
}

type Service struct {
	tx      txRunner
	repo    orders.Repository
	gateway Gateway
	rollup  orderRollup
	outbox  outbox.Emitter
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(tx txRunner, repo orders.Repository, gateway Gateway, rollup orderRollup, emitter outbox.Emitter, logg *logger.Logger) (*Service, error) {
	if tx == nil {
		return nil, errors.New("tx runner required")
	}
	if repo == nil {
		return nil, errors.New("orders repository required")
	}
	if gateway == nil {
		return nil, errors.New("payment gateway required")
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
	return &Service{
		tx:      tx,
		repo:    repo,
		gateway: gateway,
		rollup:  rollup,
		outbox:  emitter,
		logg:    logg,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// StartPayment opens a gateway checkout covering every pending payment of the
// buyer's order and tags those payments with the intent reference.
func (s *Service) StartPayment(ctx context.Context, actor types.Actor, orderID uuid.UUID) (*Intent, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !actor.Is(enums.ActorRoleBuyer) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can pay for orders")
	}

	var intent *Intent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.BuyerID != actor.ID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if !order.PaymentMethod.RequiresIntent() {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "payment method %s does not use the gateway", order.PaymentMethod)
		}

		// Sub-orders before the order row, matching the fulfillment paths.
		subs, err := repo.LockOrderSubOrders(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock sub-orders")
		}
		order, err = repo.LockOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
		}
		if order.PaymentStatus != enums.OrderPaymentPending {
			return pkgerrors.Newf(pkgerrors.CodeStateConflict, "order payment is already %s", order.PaymentStatus)
		}

		payments, err := repo.ListPayments(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
		}
		ids, amount := payable(subs, payments)
		if amount <= 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has nothing left to pay")
		}

		reference := newReference()
		intent, err = s.gateway.CreateIntent(ctx, IntentRequest{
			Reference: reference,
			OrderID:   order.ID,
			Amount:    amount,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create payment intent")
		}
		if err := repo.SetGatewayReference(ctx, ids, reference); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store gateway reference")
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	logCtx := s.logg.WithOrderID(ctx, orderID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"reference": intent.Reference,
		"amount":    intent.Amount,
	})
	s.logg.Info(logCtx, "payment intent created")
	return intent, nil
}

// HandleCallback applies a gateway notification. Payments of cancelled
// sub-orders and payments no longer pending are left alone, so replays are
// harmless.
func (s *Service) HandleCallback(ctx context.Context, token string) (*CallbackResult, error) {
	if strings.TrimSpace(token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback token is required")
	}
	event, err := s.gateway.VerifyCallback(ctx, token)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGateway, err, "invalid gateway callback")
	}
	target := enums.PaymentStatusFailed
	if event.Status == CallbackSucceeded {
		target = enums.PaymentStatusPaid
	}

	result := &CallbackResult{Reference: event.Reference}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		payments, err := repo.ListPaymentsByReference(ctx, event.Reference)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payments")
		}
		if len(payments) == 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "unknown payment reference")
		}
		var expected int64
		for _, p := range payments {
			expected += p.Amount
		}
		if event.Amount != expected {
			return pkgerrors.Newf(pkgerrors.CodeGateway, "callback amount %d does not match %d", event.Amount, expected).
				WithDetails(map[string]int64{"reported": event.Amount, "expected": expected})
		}

		// Sub-order locks first, in id order, then the order rollup.
		sort.Slice(payments, func(i, j int) bool {
			return subOrderKey(payments[i]) < subOrderKey(payments[j])
		})
		orderIDs := map[uuid.UUID]struct{}{}
		for i := range payments {
			p := &payments[i]
			if p.SubOrderID != nil {
				sub, err := repo.LockSubOrder(ctx, *p.SubOrderID)
				if err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock sub-order")
				}
				if sub.Status == enums.OrderStatusCancelled {
					result.Skipped++
					continue
				}
			}
			if p.Status != enums.PaymentStatusPending {
				result.Skipped++
				continue
			}
			var paidAt *time.Time
			if target == enums.PaymentStatusPaid {
				now := s.now()
				paidAt = &now
			}
			moved, err := repo.TransitionPayment(ctx, p.ID, enums.PaymentStatusPending, target, paidAt)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment")
			}
			if !moved {
				result.Skipped++
				continue
			}
			err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentUpdated,
				AggregateType: enums.AggregatePayment,
				AggregateID:   p.ID,
				Data: outbox.PaymentUpdated{
					PaymentID:  p.ID,
					OrderID:    p.OrderID,
					SubOrderID: p.SubOrderID,
					Status:     string(target),
					Amount:     p.Amount,
				},
			})
			if err != nil {
				return err
			}
			result.Updated++
			orderIDs[p.OrderID] = struct{}{}
		}

		for _, orderID := range sortedIDs(orderIDs) {
			if _, err := s.rollup.Recompute(ctx, tx, orderID, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"reference": event.Reference,
		"status":    string(event.Status),
		"updated":   result.Updated,
		"skipped":   result.Skipped,
	})
	s.logg.Info(logCtx, "payment callback applied")
	return result, nil
}

// payable returns the pending payments of live sub-orders and their sum.
func payable(subs []models.SubOrder, payments []models.Payment) ([]uuid.UUID, int64) {
	cancelled := make(map[uuid.UUID]bool, len(subs))
	for _, sub := range subs {
		cancelled[sub.ID] = sub.Status == enums.OrderStatusCancelled
	}
	var (
		ids   []uuid.UUID
		total int64
	)
	for _, p := range payments {
		if p.Status != enums.PaymentStatusPending {
			continue
		}
		if p.SubOrderID != nil && cancelled[*p.SubOrderID] {
			continue
		}
		ids = append(ids, p.ID)
		total += p.Amount
	}
	return ids, total
}

func newReference() string {
	return referencePrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func subOrderKey(p models.Payment) string {
	if p.SubOrderID == nil {
		return ""
	}
	return p.SubOrderID.String()
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
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
