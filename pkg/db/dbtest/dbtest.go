// Package dbtest opens migrated in-memory databases and seeds collaborator
// rows for package tests.
package dbtest

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// Open returns a client over a private in-memory database with every model
// migrated. The pool holds a single connection so concurrent transactions
// queue behind each other the way row locks serialize them on Postgres.
func Open(t *testing.T) *db.Client {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared&_busy_timeout=5000"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, conn.AutoMigrate(models.All()...))
	return db.FromGorm(conn, 0)
}

func Shop(t *testing.T, conn *gorm.DB) models.Shop {
	t.Helper()
	shop := models.Shop{OwnerID: uuid.New(), Name: "shop-" + uuid.NewString()[:8]}
	require.NoError(t, conn.Create(&shop).Error)
	return shop
}

// ProductOpts tweaks the seeded product; zero values fall back to defaults.
type ProductOpts struct {
	Price           int64
	DiscountPercent string
	WeightKg        string
	Stock           int
}

func Product(t *testing.T, conn *gorm.DB, shopID uuid.UUID, opts ProductOpts) models.Product {
	t.Helper()
	if opts.Price == 0 {
		opts.Price = 10000
	}
	if opts.DiscountPercent == "" {
		opts.DiscountPercent = "0"
	}
	if opts.WeightKg == "" {
		opts.WeightKg = "0.1"
	}
	product := models.Product{
		ShopID:          shopID,
		Name:            "product-" + uuid.NewString()[:8],
		Price:           opts.Price,
		DiscountPercent: decimal.RequireFromString(opts.DiscountPercent),
		WeightKg:        decimal.RequireFromString(opts.WeightKg),
		Stock:           opts.Stock,
	}
	require.NoError(t, conn.Create(&product).Error)
	return product
}

// Variant seeds a variant of productID. An empty weight inherits the
// product's weight and a zero price inherits the product's price.
func Variant(t *testing.T, conn *gorm.DB, productID uuid.UUID, weightKg string, price int64, stock int) models.ProductVariant {
	t.Helper()
	variant := models.ProductVariant{
		ProductID:  productID,
		SKU:        "SKU-" + uuid.NewString()[:8],
		Stock:      stock,
		Attributes: datatypes.JSONMap{"size": "M", "color": "black"},
	}
	if weightKg != "" {
		w := decimal.RequireFromString(weightKg)
		variant.WeightKg = &w
	}
	if price > 0 {
		variant.Price = &price
	}
	require.NoError(t, conn.Create(&variant).Error)
	return variant
}

func Address(t *testing.T, conn *gorm.DB, userID uuid.UUID) models.Address {
	t.Helper()
	addr := models.Address{
		UserID:    userID,
		Recipient: "Test Buyer",
		Line1:     "1 Main St",
		City:      "Springfield",
		Country:   "US",
	}
	require.NoError(t, conn.Create(&addr).Error)
	return addr
}

// CouponOpts tweaks the seeded coupon; a zero window means active for a day
// around now.
type CouponOpts struct {
	Code            string
	DiscountPercent string
	MaxDiscount     *int64
	MinOrderValue   int64
	Status          enums.CouponStatus
	StartDate       time.Time
	EndDate         time.Time
}

func Coupon(t *testing.T, conn *gorm.DB, opts CouponOpts) models.Coupon {
	t.Helper()
	now := time.Now().UTC()
	if opts.Code == "" {
		opts.Code = "SAVE-" + uuid.NewString()[:6]
	}
	if opts.DiscountPercent == "" {
		opts.DiscountPercent = "10"
	}
	if opts.Status == "" {
		opts.Status = enums.CouponStatusActive
	}
	if opts.StartDate.IsZero() {
		opts.StartDate = now.Add(-24 * time.Hour)
	}
	if opts.EndDate.IsZero() {
		opts.EndDate = now.Add(24 * time.Hour)
	}
	coupon := models.Coupon{
		Code:              strings.ToUpper(opts.Code),
		DiscountPercent:   decimal.RequireFromString(opts.DiscountPercent),
		MaxDiscountAmount: opts.MaxDiscount,
		MinOrderValue:     opts.MinOrderValue,
		Status:            opts.Status,
		StartDate:         opts.StartDate,
		EndDate:           opts.EndDate,
	}
	require.NoError(t, conn.Create(&coupon).Error)
	return coupon
}
