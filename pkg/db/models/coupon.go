package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

type Coupon struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code              string             `gorm:"column:code;not null;uniqueIndex"`
	DiscountPercent   decimal.Decimal    `gorm:"column:discount_percent;type:numeric(5,2);not null"`
	MaxDiscountAmount *int64             `gorm:"column:max_discount_amount"`
	MinOrderValue     int64              `gorm:"column:min_order_value;not null;default:0"`
	Status            enums.CouponStatus `gorm:"column:status;type:text;not null;default:'active'"`
	StartDate         time.Time          `gorm:"column:start_date;not null"`
	EndDate           time.Time          `gorm:"column:end_date;not null"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	assignID(&c.ID)
	return nil
}

// CouponUsage is the per-user usage ledger; a non-nil UsedAt means consumed.
type CouponUsage struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	UserID    uuid.UUID  `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_coupon_usage_user_coupon"`
	CouponID  uuid.UUID  `gorm:"column:coupon_id;type:uuid;not null;uniqueIndex:idx_coupon_usage_user_coupon"`
	OrderID   *uuid.UUID `gorm:"column:order_id;type:uuid"`
	UsedAt    *time.Time `gorm:"column:used_at"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (u *CouponUsage) BeforeCreate(*gorm.DB) error {
	assignID(&u.ID)
	return nil
}
