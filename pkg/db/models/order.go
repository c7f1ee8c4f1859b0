package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Order is the buyer-facing aggregate of one checkout.
type Order struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID           uuid.UUID                `gorm:"column:buyer_id;type:uuid;not null;index"`
	ShippingAddressID uuid.UUID                `gorm:"column:shipping_address_id;type:uuid;not null"`
	CouponID          *uuid.UUID               `gorm:"column:coupon_id;type:uuid"`
	TotalPrice        int64                    `gorm:"column:total_price;not null"`
	ShippingFee       int64                    `gorm:"column:shipping_fee;not null;default:0"`
	DiscountAmount    int64                    `gorm:"column:discount_amount;not null;default:0"`
	PaymentMethod     enums.PaymentMethod      `gorm:"column:payment_method;type:text;not null"`
	Status            enums.OrderStatus        `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus     enums.OrderPaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`
	Note              *string                  `gorm:"column:note"`
	SubOrders         []SubOrder               `gorm:"foreignKey:OrderID"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	assignID(&o.ID)
	return nil
}

// SubOrder is the shop-scoped slice of an order and the unit that ships.
type SubOrder struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	ShopID         uuid.UUID         `gorm:"column:shop_id;type:uuid;not null;index"`
	TotalPrice     int64             `gorm:"column:total_price;not null"`
	ShippingFee    int64             `gorm:"column:shipping_fee;not null;default:0"`
	DiscountAmount int64             `gorm:"column:discount_amount;not null;default:0"`
	Status         enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending';index"`
	Items          []OrderItem       `gorm:"foreignKey:SubOrderID"`
	Shipment       *Shipment         `gorm:"foreignKey:SubOrderID"`
	Payment        *Payment          `gorm:"foreignKey:SubOrderID"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *SubOrder) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}
