package fulfillment

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/inventory"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

// ConfirmSubOrders moves the vendor's pending sub-orders among ids to
// processing and reserves stock for all of their items in one batch. Ids that
// are not pending or belong to another shop are skipped. Any stock shortfall
// aborts the whole batch. Returns the number of confirmed sub-orders.
func (s *Service) ConfirmSubOrders(ctx context.Context, actor types.Actor, ids []uuid.UUID) (int, error) {
	if actor.ID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !actor.Is(enums.ActorRoleVendor) || actor.ShopID == nil {
		return 0, pkgerrors.New(pkgerrors.CodeForbidden, "only vendors can confirm sub-orders")
	}
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "at least one sub-order id is required")
	}
	if len(ids) > maxConfirmBatch {
		return 0, pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d sub-orders per confirmation", maxConfirmBatch)
	}

	ref := outbox.ActorOf(actor)
	confirmed := 0
	err := s.run(ctx, ActionConfirm, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		subs, err := repo.LockShopSubOrders(ctx, *actor.ShopID, ids, enums.OrderStatusPending)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock sub-orders")
		}
		if len(subs) == 0 {
			return nil
		}

		subIDs := make([]uuid.UUID, len(subs))
		for i, sub := range subs {
			subIDs[i] = sub.ID
		}
		items, err := repo.ListItems(ctx, subIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order items")
		}
		requests := make([]inventory.Request, len(items))
		for i, item := range items {
			requests[i] = inventory.Request{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Quantity:  item.Quantity,
			}
		}
		if err := s.inventory.Reserve(ctx, tx, requests); err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
				s.metrics.IncShortfall()
			}
			return err
		}

		orderIDs := make(map[uuid.UUID]struct{}, len(subs))
		for i := range subs {
			sub := &subs[i]
			if err := advance(ctx, repo, sub, ActionConfirm); err != nil {
				return err
			}
			if err := s.emitTransition(ctx, tx, enums.EventSubOrderConfirmed, sub, enums.OrderStatusPending, nil, "", ref); err != nil {
				return err
			}
			orderIDs[sub.OrderID] = struct{}{}
		}
		for _, orderID := range sortedIDs(orderIDs) {
			if _, err := s.rollup.Recompute(ctx, tx, orderID, ref); err != nil {
				return err
			}
		}
		confirmed = len(subs)
		return nil
	})
	if err != nil {
		return 0, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"shop_id":   actor.ShopID.String(),
		"requested": len(ids),
		"confirmed": confirmed,
	})
	s.logg.Info(logCtx, "sub-orders confirmed")
	return confirmed, nil
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
