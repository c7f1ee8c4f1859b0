package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Shop is the vendor storefront that owns products and sub-orders.
type Shop struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID   uuid.UUID `gorm:"column:owner_id;type:uuid;not null;index"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (s *Shop) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}

// Product carries the base price, weight and stock used when no variant is chosen.
type Product struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	ShopID          uuid.UUID        `gorm:"column:shop_id;type:uuid;not null;index"`
	Name            string           `gorm:"column:name;not null"`
	Price           int64            `gorm:"column:price;not null"`
	DiscountPercent decimal.Decimal  `gorm:"column:discount_percent;type:numeric(5,2);not null;default:0"`
	WeightKg        decimal.Decimal  `gorm:"column:weight_kg;type:numeric(10,3);not null;default:0"`
	Stock           int              `gorm:"column:stock;not null;default:0"`
	Variants        []ProductVariant `gorm:"foreignKey:ProductID"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	assignID(&p.ID)
	return nil
}

// ProductVariant overrides price/weight and holds its own stock.
type ProductVariant struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ProductID  uuid.UUID         `gorm:"column:product_id;type:uuid;not null;index"`
	SKU        string            `gorm:"column:sku;not null"`
	Price      *int64            `gorm:"column:price"`
	WeightKg   *decimal.Decimal  `gorm:"column:weight_kg;type:numeric(10,3)"`
	Stock      int               `gorm:"column:stock;not null;default:0"`
	Attributes datatypes.JSONMap `gorm:"column:attributes;type:jsonb"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	assignID(&v.ID)
	return nil
}

// Address is a buyer shipping address.
type Address struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	Recipient  string    `gorm:"column:recipient;not null"`
	Phone      string    `gorm:"column:phone"`
	Line1      string    `gorm:"column:line1;not null"`
	City       string    `gorm:"column:city;not null"`
	PostalCode string    `gorm:"column:postal_code"`
	Country    string    `gorm:"column:country;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (a *Address) BeforeCreate(*gorm.DB) error {
	assignID(&a.ID)
	return nil
}
