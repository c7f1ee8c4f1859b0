package fulfillment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

// Delivery is the outcome of CompleteSubOrder.
type Delivery struct {
	SubOrder models.SubOrder
	Shipment models.Shipment
	Payment  *models.Payment
}

func requireShipper(actor types.Actor) error {
	if actor.ID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !actor.Is(enums.ActorRoleShipper) {
		return pkgerrors.New(pkgerrors.CodeForbidden, "only shippers can handle shipments")
	}
	return nil
}

// ClaimSubOrder assigns a processing sub-order to the shipper. Exactly one of
// any number of concurrent claims wins; the others get CodeConflict.
func (s *Service) ClaimSubOrder(ctx context.Context, actor types.Actor, subOrderID uuid.UUID) (*models.Shipment, error) {
	if err := requireShipper(actor); err != nil {
		return nil, err
	}
	if subOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sub-order id required")
	}

	ref := outbox.ActorOf(actor)
	var (
		result *models.Shipment
		sub    *models.SubOrder
	)
	err := s.run(ctx, ActionClaim, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		var err error
		sub, err = lockSubOrder(ctx, repo, subOrderID)
		if err != nil {
			return err
		}
		switch sub.Status {
		case enums.OrderStatusProcessing:
		case enums.OrderStatusShipped, enums.OrderStatusDelivered:
			return pkgerrors.New(pkgerrors.CodeConflict, "sub-order already claimed")
		default:
			return stateConflict(sub.Status, enums.OrderStatusShipped)
		}

		if err := advance(ctx, repo, sub, ActionClaim); err != nil {
			return err
		}

		shipment, err := repo.FindShipment(ctx, sub.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
		}
		if shipment == nil {
			shipment = &models.Shipment{SubOrderID: sub.ID, TrackingNumber: s.trackingNumber()}
		}
		eta := s.now().Add(s.opts.ClaimETA)
		shipperID := actor.ID
		shipment.ShipperID = &shipperID
		shipment.Status = enums.ShipmentStatusInTransit
		shipment.EstimatedDelivery = &eta
		if err := repo.SaveShipment(ctx, shipment); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "sub-order already claimed")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save shipment")
		}

		if err := s.emitTransition(ctx, tx, enums.EventSubOrderClaimed, sub, enums.OrderStatusProcessing, &shipperID, "", ref); err != nil {
			return err
		}
		if _, err := s.rollup.Recompute(ctx, tx, sub.OrderID, ref); err != nil {
			return err
		}
		result = shipment
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, sub, enums.OrderStatusProcessing, ActionClaim)
	return result, nil
}

// CompleteSubOrder marks a shipped sub-order delivered by its shipper and
// settles the sub-order payment.
func (s *Service) CompleteSubOrder(ctx context.Context, actor types.Actor, subOrderID uuid.UUID) (*Delivery, error) {
	if err := requireShipper(actor); err != nil {
		return nil, err
	}
	if subOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sub-order id required")
	}

	ref := outbox.ActorOf(actor)
	var result *Delivery
	err := s.run(ctx, ActionComplete, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, shipment, err := lockOwnedShipment(ctx, repo, subOrderID, actor.ID, enums.OrderStatusDelivered)
		if err != nil {
			return err
		}
		if err := advance(ctx, repo, sub, ActionComplete); err != nil {
			return err
		}

		now := s.now()
		shipment.Status = enums.ShipmentStatusDelivered
		shipment.ActualDelivery = &now
		if err := repo.SaveShipment(ctx, shipment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment")
		}

		payment, err := s.settlePayment(ctx, tx, repo, sub, enums.PaymentStatusPending, enums.PaymentStatusPaid, ref)
		if err != nil {
			return err
		}
		if err := s.emitTransition(ctx, tx, enums.EventSubOrderDelivered, sub, enums.OrderStatusShipped, shipment.ShipperID, "", ref); err != nil {
			return err
		}
		if _, err := s.rollup.Recompute(ctx, tx, sub.OrderID, ref); err != nil {
			return err
		}
		result = &Delivery{SubOrder: *sub, Shipment: *shipment, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, &result.SubOrder, enums.OrderStatusShipped, ActionComplete)
	return result, nil
}

// CancelSubOrderByShipper aborts a shipment in transit. The shipment fails,
// a pending payment fails and a captured one is refunded. Stock is not
// returned.
func (s *Service) CancelSubOrderByShipper(ctx context.Context, actor types.Actor, subOrderID uuid.UUID, reason string) (*models.SubOrder, error) {
	if err := requireShipper(actor); err != nil {
		return nil, err
	}
	if subOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sub-order id required")
	}

	ref := outbox.ActorOf(actor)
	var result *models.SubOrder
	err := s.run(ctx, ActionCancelByShipper, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		sub, shipment, err := lockOwnedShipment(ctx, repo, subOrderID, actor.ID, enums.OrderStatusCancelled)
		if err != nil {
			return err
		}
		if err := advance(ctx, repo, sub, ActionCancelByShipper); err != nil {
			return err
		}

		shipment.Status = enums.ShipmentStatusFailed
		if err := repo.SaveShipment(ctx, shipment); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipment")
		}

		if _, err := s.settlePayment(ctx, tx, repo, sub, enums.PaymentStatusPending, enums.PaymentStatusFailed, ref); err != nil {
			return err
		}
		if _, err := s.settlePayment(ctx, tx, repo, sub, enums.PaymentStatusPaid, enums.PaymentStatusRefunded, ref); err != nil {
			return err
		}
		if err := s.emitTransition(ctx, tx, enums.EventSubOrderCancelled, sub, enums.OrderStatusShipped, shipment.ShipperID, reasonOr(reason, "shipper"), ref); err != nil {
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
	s.logTransition(ctx, result, enums.OrderStatusShipped, ActionCancelByShipper)
	return result, nil
}

// lockOwnedShipment locks the sub-order and checks that shipperID holds its
// shipment. Ownership is checked before state so a foreign shipper always
// sees CodeForbidden.
func lockOwnedShipment(ctx context.Context, repo orders.Repository, subOrderID, shipperID uuid.UUID, target enums.OrderStatus) (*models.SubOrder, *models.Shipment, error) {
	sub, err := lockSubOrder(ctx, repo, subOrderID)
	if err != nil {
		return nil, nil, err
	}
	shipment, err := repo.FindShipment(ctx, sub.ID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shipment")
	}
	if shipment != nil && (shipment.ShipperID == nil || *shipment.ShipperID != shipperID) {
		return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "shipment belongs to another shipper")
	}
	if sub.Status != enums.OrderStatusShipped || shipment == nil {
		return nil, nil, stateConflict(sub.Status, target)
	}
	return sub, shipment, nil
}

// ListClaimable pages through processing sub-orders without a shipper.
func (s *Service) ListClaimable(ctx context.Context, actor types.Actor, params pagination.Params) (pagination.Page[orders.SubOrderSummary], error) {
	if err := requireShipper(actor); err != nil {
		return pagination.Page[orders.SubOrderSummary]{}, err
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[orders.SubOrderSummary]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	start := time.Now()
	rows, err := s.repo.ListClaimable(ctx, cursor, params.Limit)
	if err != nil {
		err = classify(err)
		s.metrics.Observe(string(ActionListClaimable), "dependency_error", time.Since(start))
		return pagination.Page[orders.SubOrderSummary]{}, err
	}
	s.metrics.Observe(string(ActionListClaimable), "", time.Since(start))

	page := pagination.Paginate(rows, params.Limit, func(sub models.SubOrder) pagination.Cursor {
		return pagination.Cursor{CreatedAt: sub.CreatedAt, ID: sub.ID}
	})
	out := pagination.Page[orders.SubOrderSummary]{
		Items:      make([]orders.SubOrderSummary, len(page.Items)),
		NextCursor: page.NextCursor,
	}
	for i, sub := range page.Items {
		out.Items[i] = orders.NewSubOrderSummary(sub)
	}
	return out, nil
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
