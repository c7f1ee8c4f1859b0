// Package coupons validates coupon codes and keeps the per-user usage ledger.
package coupons

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

var hundred = decimal.NewFromInt(100)

// Quote is the priced outcome of a successful validation.
type Quote struct {
	CouponID uuid.UUID `json:"coupon_id"`
	Code     string    `json:"code"`
	Discount int64     `json:"discount"`
	Final    int64     `json:"final"`
}

type Service struct {
	repo Repository
	tx   txRunner
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo Repository, tx txRunner, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("coupon repository required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	return &Service{repo: repo, tx: tx, logg: logg, now: time.Now}, nil
}

// Validate prices code against orderTotal for userID without consuming it.
func (s *Service) Validate(ctx context.Context, code string, userID uuid.UUID, orderTotal int64) (Quote, error) {
	return s.validate(ctx, s.repo, code, userID, orderTotal)
}

// ValidateTx is Validate reading through tx, for callers that apply the
// coupon in the same transaction.
func (s *Service) ValidateTx(ctx context.Context, tx *gorm.DB, code string, userID uuid.UUID, orderTotal int64) (Quote, error) {
	return s.validate(ctx, s.repo.WithTx(tx), code, userID, orderTotal)
}

func (s *Service) validate(ctx context.Context, repo Repository, code string, userID uuid.UUID, orderTotal int64) (Quote, error) {
	if strings.TrimSpace(code) == "" {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "coupon code required")
	}
	if userID == uuid.Nil {
		return Quote{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if orderTotal < 0 {
		return Quote{}, pkgerrors.New(pkgerrors.CodeValidation, "order total must not be negative")
	}

	coupon, err := repo.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Quote{}, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
		}
		return Quote{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
	}

	now := s.now().UTC()
	if coupon.Status != enums.CouponStatusActive || now.Before(coupon.StartDate) || now.After(coupon.EndDate) {
		return Quote{}, pkgerrors.New(pkgerrors.CodeCouponInactive, "coupon is not active")
	}
	if orderTotal < coupon.MinOrderValue {
		return Quote{}, pkgerrors.Newf(pkgerrors.CodeCouponMinOrder, "order total %d below minimum %d", orderTotal, coupon.MinOrderValue).
			WithDetails(map[string]int64{"min_order_value": coupon.MinOrderValue, "order_total": orderTotal})
	}

	usage, err := repo.FindUsage(ctx, userID, coupon.ID)
	if err != nil {
		return Quote{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon usage")
	}
	if usage != nil && usage.UsedAt != nil {
		return Quote{}, pkgerrors.New(pkgerrors.CodeCouponAlreadyUsed, "coupon already used")
	}

	discount := Discount(orderTotal, coupon.DiscountPercent, coupon.MaxDiscountAmount)
	return Quote{
		CouponID: coupon.ID,
		Code:     coupon.Code,
		Discount: discount,
		Final:    orderTotal - discount,
	}, nil
}

// Discount is round(total * percent / 100), capped at maxAmount when set and
// never more than total.
func Discount(total int64, percent decimal.Decimal, maxAmount *int64) int64 {
	if total <= 0 || !percent.IsPositive() {
		return 0
	}
	d := decimal.NewFromInt(total).Mul(percent).Div(hundred).Round(0).IntPart()
	if maxAmount != nil && d > *maxAmount {
		d = *maxAmount
	}
	if d > total {
		d = total
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Apply records that userID spent couponID on orderID. Re-applying to the
// same order is a no-op.
func (s *Service) Apply(ctx context.Context, tx *gorm.DB, userID, couponID, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if userID == uuid.Nil || couponID == uuid.Nil || orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user, coupon and order ids required")
	}

	repo := s.repo.WithTx(tx)
	if err := repo.EnsureUsage(ctx, userID, couponID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create coupon usage")
	}

	usage, err := repo.LockUsage(ctx, userID, couponID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock coupon usage")
	}
	if usage == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "coupon usage row missing after insert")
	}
	if usage.UsedAt != nil {
		if usage.OrderID != nil && *usage.OrderID == orderID {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeCouponAlreadyUsed, "coupon already used")
	}

	if err := repo.MarkUsed(ctx, usage.ID, orderID, s.now().UTC()); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark coupon used")
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"coupon_id": couponID.String(),
			"user_id":   userID.String(),
		})
		s.logg.Info(s.logg.WithOrderID(logCtx, orderID.String()), "coupon applied")
	}
	return nil
}

// Release makes the coupon usable again for userID once the order that
// spent it is cancelled.
func (s *Service) Release(ctx context.Context, userID uuid.UUID, code string) error {
	if strings.TrimSpace(code) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon code required")
	}
	if userID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		coupon, err := repo.FindByCode(ctx, code)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon")
		}
		usage, err := repo.LockUsage(ctx, userID, coupon.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock coupon usage")
		}
		if usage == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "coupon usage not found")
		}
		if usage.UsedAt == nil && usage.OrderID == nil {
			return nil
		}
		if usage.OrderID != nil {
			status, err := repo.OrderStatus(ctx, *usage.OrderID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "coupon order not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load coupon order")
			}
			if status != enums.OrderStatusCancelled {
				return pkgerrors.Newf(pkgerrors.CodeStateConflict, "coupon is held by a %s order", status).
					WithDetails(map[string]string{"order_id": usage.OrderID.String(), "status": string(status)})
			}
		}
		if err := repo.ClearUsage(ctx, usage.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release coupon usage")
		}
		if s.logg != nil {
			s.logg.Info(s.logg.WithField(ctx, "coupon_id", coupon.ID.String()), "coupon released")
		}
		return nil
	})
}
