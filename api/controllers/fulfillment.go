package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/api/validators"
	"github.com/angelmondragon/fulfillment-engine/internal/fulfillment"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

const (
	maxReasonLength = 280
	maxCursorLength = 256
)

// FulfillmentService is the sub-order state machine as seen by HTTP handlers.
type FulfillmentService interface {
	ConfirmSubOrders(ctx context.Context, actor types.Actor, ids []uuid.UUID) (int, error)
	ClaimSubOrder(ctx context.Context, actor types.Actor, subOrderID uuid.UUID) (*models.Shipment, error)
	CompleteSubOrder(ctx context.Context, actor types.Actor, subOrderID uuid.UUID) (*fulfillment.Delivery, error)
	CancelSubOrderByShipper(ctx context.Context, actor types.Actor, subOrderID uuid.UUID, reason string) (*models.SubOrder, error)
	CancelSubOrderByCustomer(ctx context.Context, actor types.Actor, subOrderID uuid.UUID) (*models.SubOrder, error)
	ListClaimable(ctx context.Context, actor types.Actor, params pagination.Params) (pagination.Page[orders.SubOrderSummary], error)
}

// VendorConfirmSubOrders moves the vendor's pending sub-orders to processing.
func VendorConfirmSubOrders(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload confirmRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		confirmed, err := svc.ConfirmSubOrders(r.Context(), actor, payload.SubOrderIDs)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, confirmResponse{Requested: len(payload.SubOrderIDs), Confirmed: confirmed})
	}
}

func ShipperClaimable(svc FulfillmentService, defaultLimit int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", defaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor, err := validators.ParseQueryString(r, "cursor", maxCursorLength)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.ListClaimable(r.Context(), actor, pagination.Params{
			Limit:  limit,
			Cursor: cursor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func ShipperClaim(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, subOrderID, err := subOrderRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		shipment, err := svc.ClaimSubOrder(r.Context(), actor, subOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orders.NewShipmentDetail(*shipment))
	}
}

func ShipperComplete(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, subOrderID, err := subOrderRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		delivery, err := svc.CompleteSubOrder(r.Context(), actor, subOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub := delivery.SubOrder
		sub.Shipment = &delivery.Shipment
		sub.Payment = delivery.Payment
		responses.WriteSuccess(w, orders.NewSubOrderDetail(sub))
	}
}

func ShipperCancel(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, subOrderID, err := subOrderRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload cancelRequest
		if err := validators.DecodeOptionalJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.CancelSubOrderByShipper(r.Context(), actor, subOrderID, validators.SanitizeString(payload.Reason, maxReasonLength))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orders.NewSubOrderSummary(*sub))
	}
}

func BuyerCancel(svc FulfillmentService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, subOrderID, err := subOrderRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.CancelSubOrderByCustomer(r.Context(), actor, subOrderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, orders.NewSubOrderSummary(*sub))
	}
}

func subOrderRequest(r *http.Request) (types.Actor, uuid.UUID, error) {
	actor, err := actorFromRequest(r)
	if err != nil {
		return types.Actor{}, uuid.Nil, err
	}
	id, err := uuidParam(r, "subOrderId")
	if err != nil {
		return types.Actor{}, uuid.Nil, err
	}
	return actor, id, nil
}

type confirmRequest struct {
	SubOrderIDs []uuid.UUID `json:"sub_order_ids" validate:"required,min=1,max=100"`
}

type confirmResponse struct {
	Requested int `json:"requested"`
	Confirmed int `json:"confirmed"`
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=280"`
}
