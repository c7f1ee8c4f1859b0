package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/responses"
	"github.com/angelmondragon/fulfillment-engine/api/validators"
	checkoutsvc "github.com/angelmondragon/fulfillment-engine/internal/checkout"
	"github.com/angelmondragon/fulfillment-engine/internal/checkout/helpers"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

const maxNoteLength = 500

// Checkout turns the buyer's payload into an order split by shop.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := checkoutsvc.Input{
			AddressID:     payload.AddressID,
			PaymentMethod: enums.PaymentMethod(payload.PaymentMethod),
			CouponCode:    validators.SanitizeString(payload.CouponCode, 64),
			Items:         make([]helpers.ItemInput, len(payload.Items)),
		}
		if payload.Note != nil {
			note := validators.SanitizeString(*payload.Note, maxNoteLength)
			input.Note = &note
		}
		for i, item := range payload.Items {
			input.Items[i] = helpers.ItemInput{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Quantity:  item.Quantity,
			}
		}

		order, err := svc.CreateOrder(r.Context(), actor, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, orders.NewOrderDetail(order))
	}
}

type checkoutRequest struct {
	AddressID     uuid.UUID             `json:"address_id" validate:"required"`
	PaymentMethod string                `json:"payment_method" validate:"required,oneof=cod wallet bank_transfer gateway"`
	CouponCode    string                `json:"coupon_code,omitempty" validate:"omitempty,max=64"`
	Note          *string               `json:"note,omitempty"`
	Items         []checkoutItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
}

type checkoutItemRequest struct {
	ProductID uuid.UUID  `json:"product_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Quantity  int        `json:"quantity" validate:"required,min=1"`
}
