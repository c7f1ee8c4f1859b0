// Package catalog resolves purchasable products and variants for checkout.
package catalog

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
)

// Ref names a purchasable: a product, optionally narrowed to one variant.
type Ref struct {
	ProductID uuid.UUID
	VariantID *uuid.UUID
}

// Line is a resolved Ref with the effective price and weight.
type Line struct {
	Product models.Product
	Variant *models.ProductVariant
}

func (l Line) ShopID() uuid.UUID {
	return l.Product.ShopID
}

// UnitPrice is the variant price override, else the product price.
func (l Line) UnitPrice() int64 {
	if l.Variant != nil && l.Variant.Price != nil {
		return *l.Variant.Price
	}
	return l.Product.Price
}

// WeightKg is the variant weight override, else the product weight.
func (l Line) WeightKg() decimal.Decimal {
	if l.Variant != nil && l.Variant.WeightKg != nil {
		return *l.Variant.WeightKg
	}
	return l.Product.WeightKg
}

// Snapshot freezes the line as it should appear on the order item.
func (l Line) Snapshot() models.VariantSnapshot {
	snap := models.VariantSnapshot{
		ProductName: l.Product.Name,
		WeightKg:    l.WeightKg().String(),
	}
	if l.Variant != nil {
		snap.SKU = l.Variant.SKU
		if len(l.Variant.Attributes) > 0 {
			snap.Attributes = make(map[string]any, len(l.Variant.Attributes))
			for k, v := range l.Variant.Attributes {
				snap.Attributes[k] = v
			}
		}
	}
	return snap
}

// Repository is a read-only view over products and variants.
type Repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) *Repository {
	return &Repository{db: conn}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// Resolve looks up every ref. Unknown products or variants, or a variant that
// belongs to a different product, fail with CodeValidation naming the refs.
func (r *Repository) Resolve(ctx context.Context, refs []Ref) ([]Line, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	productIDs := make([]uuid.UUID, 0, len(refs))
	variantIDs := make([]uuid.UUID, 0, len(refs))
	for _, ref := range refs {
		productIDs = append(productIDs, ref.ProductID)
		if ref.VariantID != nil {
			variantIDs = append(variantIDs, *ref.VariantID)
		}
	}

	products, err := r.findProducts(ctx, dedupe(productIDs))
	if err != nil {
		return nil, err
	}
	variants, err := r.findVariants(ctx, dedupe(variantIDs))
	if err != nil {
		return nil, err
	}

	lines := make([]Line, 0, len(refs))
	var unknown []string
	for _, ref := range refs {
		product, ok := products[ref.ProductID]
		if !ok {
			unknown = append(unknown, "product "+ref.ProductID.String())
			continue
		}
		line := Line{Product: product}
		if ref.VariantID != nil {
			variant, ok := variants[*ref.VariantID]
			if !ok || variant.ProductID != product.ID {
				unknown = append(unknown, "variant "+ref.VariantID.String())
				continue
			}
			line.Variant = &variant
		}
		lines = append(lines, line)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown products or variants").
			WithDetails(map[string][]string{"unknown": unknown})
	}
	return lines, nil
}

func (r *Repository) findProducts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Product, error) {
	var rows []models.Product
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
	}
	out := make(map[uuid.UUID]models.Product, len(rows))
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func (r *Repository) findVariants(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.ProductVariant, error) {
	out := make(map[uuid.UUID]models.ProductVariant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []models.ProductVariant
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variants")
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Lookup is Resolve reading through tx when it is non-nil.
func (r *Repository) Lookup(ctx context.Context, tx *gorm.DB, refs []Ref) ([]Line, error) {
	return r.WithTx(tx).Resolve(ctx, refs)
}
