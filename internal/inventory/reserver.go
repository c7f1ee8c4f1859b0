// Package inventory decrements product and variant stock in all-or-nothing
// batches.
package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

// Request asks for quantity units of a variant, or of the product itself
// when VariantID is nil.
type Request struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
	Quantity  int
}

// Shortfall describes one row that cannot cover its request.
type Shortfall struct {
	ProductID uuid.UUID  `json:"product_id"`
	VariantID *uuid.UUID `json:"variant_id,omitempty"`
	Requested int        `json:"requested"`
	Available int        `json:"available"`
}

func (s Shortfall) Error() string {
	if s.VariantID != nil {
		return fmt.Sprintf("variant %s: requested %d, available %d", s.VariantID, s.Requested, s.Available)
	}
	return fmt.Sprintf("product %s: requested %d, available %d", s.ProductID, s.Requested, s.Available)
}

type rowKey struct {
	productID uuid.UUID
	variantID uuid.UUID
}

func (k rowKey) isVariant() bool { return k.variantID != uuid.Nil }

type stockRow struct {
	ID        uuid.UUID
	ProductID uuid.UUID
	Stock     int
}

// Reserver is stateless; every call runs inside the caller's transaction.
type Reserver struct{}

func NewReserver() *Reserver {
	return &Reserver{}
}

// Reserve locks every referenced stock row, verifies all of them, and only
// then decrements. Any shortfall aborts the batch with CodeInsufficientStock
// listing every offending row, and nothing is written.
func (r *Reserver) Reserve(ctx context.Context, tx *gorm.DB, requests []Request) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	wanted, order, err := merge(requests)
	if err != nil {
		return err
	}
	if len(order) == 0 {
		return nil
	}

	var variantIDs, productIDs []uuid.UUID
	for _, key := range order {
		if key.isVariant() {
			variantIDs = append(variantIDs, key.variantID)
		} else {
			productIDs = append(productIDs, key.productID)
		}
	}

	// Variants before products, each in id order, so concurrent batches
	// acquire overlapping locks in the same sequence.
	variants, err := lockRows(ctx, tx, &models.ProductVariant{}, "id, product_id, stock", variantIDs)
	if err != nil {
		return err
	}
	products, err := lockRows(ctx, tx, &models.Product{}, "id, id AS product_id, stock", productIDs)
	if err != nil {
		return err
	}

	var (
		shortfalls []Shortfall
		combined   error
	)
	for _, key := range order {
		qty := wanted[key]
		var (
			row stockRow
			ok  bool
		)
		if key.isVariant() {
			row, ok = variants[key.variantID]
			if ok && row.ProductID != key.productID {
				return pkgerrors.Newf(pkgerrors.CodeValidation, "variant %s does not belong to product %s", key.variantID, key.productID)
			}
		} else {
			row, ok = products[key.productID]
		}
		if !ok {
			return pkgerrors.Newf(pkgerrors.CodeNotFound, "stock row for %s not found", describe(key))
		}
		if row.Stock < qty {
			s := Shortfall{ProductID: key.productID, Requested: qty, Available: row.Stock}
			if key.isVariant() {
				id := key.variantID
				s.VariantID = &id
			}
			shortfalls = append(shortfalls, s)
			combined = multierr.Append(combined, s)
		}
	}
	if len(shortfalls) > 0 {
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, combined,
			fmt.Sprintf("insufficient stock for %d item(s)", len(shortfalls))).
			WithDetails(shortfalls)
	}

	for _, key := range order {
		if err := decrement(ctx, tx, key, wanted[key]); err != nil {
			return err
		}
	}
	return nil
}

func merge(requests []Request) (map[rowKey]int, []rowKey, error) {
	wanted := make(map[rowKey]int, len(requests))
	order := make([]rowKey, 0, len(requests))
	for _, req := range requests {
		if req.ProductID == uuid.Nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if req.Quantity <= 0 {
			return nil, nil, pkgerrors.Newf(pkgerrors.CodeValidation, "quantity must be positive for product %s", req.ProductID)
		}
		key := rowKey{productID: req.ProductID}
		if req.VariantID != nil {
			key.variantID = *req.VariantID
		}
		if _, seen := wanted[key]; !seen {
			order = append(order, key)
		}
		wanted[key] += req.Quantity
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.isVariant() != b.isVariant() {
			return a.isVariant()
		}
		if a.isVariant() {
			return a.variantID.String() < b.variantID.String()
		}
		return a.productID.String() < b.productID.String()
	})
	return wanted, order, nil
}

func lockRows(ctx context.Context, tx *gorm.DB, model any, columns string, ids []uuid.UUID) (map[uuid.UUID]stockRow, error) {
	out := make(map[uuid.UUID]stockRow, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []stockRow
	err := db.ForUpdate(tx.WithContext(ctx)).
		Model(model).
		Select(columns).
		Where("id IN ?", ids).
		Order("id").
		Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock stock rows")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func decrement(ctx context.Context, tx *gorm.DB, key rowKey, qty int) error {
	var (
		model any
		id    uuid.UUID
	)
	if key.isVariant() {
		model, id = &models.ProductVariant{}, key.variantID
	} else {
		model, id = &models.Product{}, key.productID
	}
	res := tx.WithContext(ctx).
		Model(model).
		Where("id = ? AND stock >= ?", id, qty).
		UpdateColumn("stock", gorm.Expr("stock - ?", qty))
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement stock")
	}
	if res.RowsAffected != 1 {
		return pkgerrors.Newf(pkgerrors.CodeConflict, "stock for %s changed during reservation", describe(key))
	}
	return nil
}

func describe(key rowKey) string {
	if key.isVariant() {
		return "variant " + key.variantID.String()
	}
	return "product " + key.productID.String()
}
