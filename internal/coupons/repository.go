package coupons

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Repository is the coupon store: coupon records plus the per-user usage ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByCode(ctx context.Context, code string) (*models.Coupon, error)
	FindUsage(ctx context.Context, userID, couponID uuid.UUID) (*models.CouponUsage, error)
	LockUsage(ctx context.Context, userID, couponID uuid.UUID) (*models.CouponUsage, error)
	EnsureUsage(ctx context.Context, userID, couponID uuid.UUID) error
	MarkUsed(ctx context.Context, usageID, orderID uuid.UUID, at time.Time) error
	ClearUsage(ctx context.Context, usageID uuid.UUID) error
	OrderStatus(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByCode matches codes case-insensitively; codes are stored upper-case.
func (r *repository) FindByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).
		Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).
		First(&coupon).Error
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// FindUsage returns (nil, nil) when the user never touched the coupon.
func (r *repository) FindUsage(ctx context.Context, userID, couponID uuid.UUID) (*models.CouponUsage, error) {
	return r.findUsage(r.db.WithContext(ctx), userID, couponID)
}

// LockUsage is FindUsage holding a row lock until the transaction ends.
func (r *repository) LockUsage(ctx context.Context, userID, couponID uuid.UUID) (*models.CouponUsage, error) {
	return r.findUsage(db.ForUpdate(r.db.WithContext(ctx)), userID, couponID)
}

func (r *repository) findUsage(q *gorm.DB, userID, couponID uuid.UUID) (*models.CouponUsage, error) {
	var usage models.CouponUsage
	err := q.Where("user_id = ? AND coupon_id = ?", userID, couponID).First(&usage).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &usage, nil
}

// EnsureUsage inserts an unused ledger row for the pair unless one exists.
func (r *repository) EnsureUsage(ctx context.Context, userID, couponID uuid.UUID) error {
	seed := models.CouponUsage{UserID: userID, CouponID: couponID}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "coupon_id"}},
			DoNothing: true,
		}).
		Create(&seed).Error
}

func (r *repository) MarkUsed(ctx context.Context, usageID, orderID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.CouponUsage{}).
		Where("id = ?", usageID).
		Updates(map[string]any{"used_at": at, "order_id": orderID}).Error
}

func (r *repository) ClearUsage(ctx context.Context, usageID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.CouponUsage{}).
		Where("id = ?", usageID).
		Updates(map[string]any{"used_at": nil, "order_id": nil}).Error
}

// OrderStatus returns gorm.ErrRecordNotFound when the order does not exist.
func (r *repository) OrderStatus(ctx context.Context, orderID uuid.UUID) (enums.OrderStatus, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Select("id", "status").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return "", err
	}
	return order.Status, nil
}
