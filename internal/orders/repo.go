package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(order).Error
}

func (r *repository) CreateSubOrder(ctx context.Context, sub *models.SubOrder) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(sub).Error
}

func (r *repository) CreateItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderDetail(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("SubOrders", func(q *gorm.DB) *gorm.DB { return q.Order("created_at ASC, id ASC") }).
		Preload("SubOrders.Items").
		Preload("SubOrders.Shipment").
		Preload("SubOrders.Payment").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, paymentStatus enums.OrderPaymentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{"status": status, "payment_status": paymentStatus}).Error
}

func (r *repository) LockSubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.SubOrder, error) {
	var sub models.SubOrder
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", subOrderID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// LockShopSubOrders locks the listed sub-orders of shopID currently in
// status, in id order. Rows that do not match are skipped.
func (r *repository) LockShopSubOrders(ctx context.Context, shopID uuid.UUID, ids []uuid.UUID, status enums.OrderStatus) ([]models.SubOrder, error) {
	var subs []models.SubOrder
	if len(ids) == 0 {
		return subs, nil
	}
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("id IN ? AND shop_id = ? AND status = ?", ids, shopID, status).
		Order("id ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// LockOrderSubOrders locks every sub-order of orderID in id order.
func (r *repository) LockOrderSubOrders(ctx context.Context, orderID uuid.UUID) ([]models.SubOrder, error) {
	var subs []models.SubOrder
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]models.SubOrder, error) {
	var subs []models.SubOrder
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListItems(ctx context.Context, subOrderIDs []uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if len(subOrderIDs) == 0 {
		return items, nil
	}
	err := r.db.WithContext(ctx).
		Where("sub_order_id IN ?", subOrderIDs).
		Order("sub_order_id ASC, id ASC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// TransitionSubOrder moves a sub-order from -> to and reports whether the
// row was still in from.
func (r *repository) TransitionSubOrder(ctx context.Context, subOrderID uuid.UUID, from, to enums.OrderStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Where("id = ? AND status = ?", subOrderID, from).
		Updates(map[string]any{"status": to, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ListClaimable returns processing sub-orders that no shipper holds yet,
// oldest first.
func (r *repository) ListClaimable(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.SubOrder, error) {
	q := r.db.WithContext(ctx).
		Model(&models.SubOrder{}).
		Joins("LEFT JOIN shipments ON shipments.sub_order_id = sub_orders.id").
		Where("sub_orders.status = ?", enums.OrderStatusProcessing).
		Where("shipments.shipper_id IS NULL")
	if cursor != nil {
		q = q.Where("(sub_orders.created_at > ?) OR (sub_orders.created_at = ? AND sub_orders.id > ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	var subs []models.SubOrder
	err := q.
		Select("sub_orders.*").
		Order("sub_orders.created_at ASC, sub_orders.id ASC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

// FindShipment returns (nil, nil) when the sub-order was never claimed.
func (r *repository) FindShipment(ctx context.Context, subOrderID uuid.UUID) (*models.Shipment, error) {
	var shipment models.Shipment
	err := r.db.WithContext(ctx).Where("sub_order_id = ?", subOrderID).First(&shipment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &shipment, nil
}

func (r *repository) SaveShipment(ctx context.Context, shipment *models.Shipment) error {
	if shipment.ID == uuid.Nil {
		return r.db.WithContext(ctx).Create(shipment).Error
	}
	return r.db.WithContext(ctx).Save(shipment).Error
}

// FindPayment returns (nil, nil) when the sub-order has no payment row.
func (r *repository) FindPayment(ctx context.Context, subOrderID uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).Where("sub_order_id = ?", subOrderID).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListPayments(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repository) ListPaymentsByReference(ctx context.Context, reference string) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.db.WithContext(ctx).
		Where("gateway_reference = ?", reference).
		Order("id ASC").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// TransitionPayment moves a payment from -> to and reports whether the row
// was still in from. paidAt is written only when non-nil.
func (r *repository) TransitionPayment(ctx context.Context, paymentID uuid.UUID, from, to enums.PaymentStatus, paidAt *time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("payment transition %s -> %s not allowed", from, to)
	}
	updates := map[string]any{"status": to, "updated_at": time.Now().UTC()}
	if paidAt != nil {
		updates["paid_at"] = *paidAt
	}
	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetGatewayReference(ctx context.Context, paymentIDs []uuid.UUID, reference string) error {
	if len(paymentIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id IN ?", paymentIDs).
		Update("gateway_reference", reference).Error
}
