package fulfillment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

// CancelSubOrderByCustomer cancels one of the buyer's pending sub-orders. The
// parent order becomes cancelled once every sibling is cancelled.
func (s *Service) CancelSubOrderByCustomer(ctx context.Context, actor types.Actor, subOrderID uuid.UUID) (*models.SubOrder, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !actor.Is(enums.ActorRoleBuyer) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can cancel their sub-orders")
	}
	if subOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sub-order id required")
	}

	ref := outbox.ActorOf(actor)
	var result *models.SubOrder
	err := s.run(ctx, ActionCancelByCustomer, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, err := lockSubOrder(ctx, repo, subOrderID)
		if err != nil {
			return err
		}
		order, err := repo.FindOrder(ctx, sub.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.BuyerID != actor.ID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "sub-order belongs to another buyer")
		}
		if err := advance(ctx, repo, sub, ActionCancelByCustomer); err != nil {
			return err
		}
		if _, err := s.settlePayment(ctx, tx, repo, sub, enums.PaymentStatusPaid, enums.PaymentStatusRefunded, ref); err != nil {
			return err
		}
		if err := s.emitTransition(ctx, tx, enums.EventSubOrderCancelled, sub, enums.OrderStatusPending, nil, "customer", ref); err != nil {
			return err
		}
		if _, err := s.rollup.Recompute(ctx, tx, sub.OrderID, ref); err != nil {
			return err
		}
		result = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, result, enums.OrderStatusPending, ActionCancelByCustomer)
	return result, nil
}
