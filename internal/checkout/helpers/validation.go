package helpers

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

// MaxItems bounds the number of lines in one checkout.
const MaxItems = 100

// ItemInput is one requested purchase.
type ItemInput struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

// ValidateItems checks the shape of the requested lines before any lookup.
func ValidateItems(items []ItemInput) error {
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if len(items) > MaxItems {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "at most %d items per checkout", MaxItems)
	}
	var problems []string
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			problems = append(problems, fmt.Sprintf("items[%d].product_id is required", i))
		}
		if item.VariantID != nil && *item.VariantID == uuid.Nil {
			problems = append(problems, fmt.Sprintf("items[%d].variant_id is invalid", i))
		}
		if item.Quantity <= 0 {
			problems = append(problems, fmt.Sprintf("items[%d].quantity must be positive", i))
		}
	}
	if len(problems) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid items").
			WithDetails(map[string][]string{"items": problems})
	}
	return nil
}

func ValidatePaymentMethod(method enums.PaymentMethod) error {
	if !method.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unsupported payment method %q", method)
	}
	return nil
}
