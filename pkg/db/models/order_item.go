package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VariantSnapshot freezes the purchased variant as it looked at checkout.
type VariantSnapshot struct {
	ProductName string            `json:"product_name"`
	SKU         string            `json:"sku,omitempty"`
	WeightKg    string            `json:"weight_kg"`
	Attributes  map[string]any    `json:"attributes,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// OrderItem is an immutable purchased line.
type OrderItem struct {
	ID              uuid.UUID                           `gorm:"column:id;type:uuid;primaryKey"`
	OrderID         uuid.UUID                           `gorm:"column:order_id;type:uuid;not null;index"`
	SubOrderID      uuid.UUID                           `gorm:"column:sub_order_id;type:uuid;not null;index"`
	ProductID       uuid.UUID                           `gorm:"column:product_id;type:uuid;not null"`
	VariantID       *uuid.UUID                          `gorm:"column:variant_id;type:uuid"`
	Quantity        int                                 `gorm:"column:quantity;not null"`
	UnitPrice       int64                               `gorm:"column:unit_price;not null"`
	DiscountPercent decimal.Decimal                     `gorm:"column:discount_percent;type:numeric(5,2);not null;default:0"`
	Total           int64                               `gorm:"column:total;not null"`
	Snapshot        datatypes.JSONType[VariantSnapshot] `gorm:"column:snapshot;type:jsonb;not null"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	assignID(&i.ID)
	return nil
}
