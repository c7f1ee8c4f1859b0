package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
)

// Repository defines persistence operations for orders, sub-orders, items,
// shipments and payments. Lock* methods hold row locks until the surrounding
// transaction ends and must be called through WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateSubOrder(ctx context.Context, sub *models.SubOrder) error
	CreateItems(ctx context.Context, items []models.OrderItem) error
	CreatePayment(ctx context.Context, payment *models.Payment) error

	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderDetail(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus, paymentStatus enums.OrderPaymentStatus) error

	LockSubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.SubOrder, error)
	LockShopSubOrders(ctx context.Context, shopID uuid.UUID, ids []uuid.UUID, status enums.OrderStatus) ([]models.SubOrder, error)
	LockOrderSubOrders(ctx context.Context, orderID uuid.UUID) ([]models.SubOrder, error)
	ListSubOrders(ctx context.Context, orderID uuid.UUID) ([]models.SubOrder, error)
	ListItems(ctx context.Context, subOrderIDs []uuid.UUID) ([]models.OrderItem, error)
	TransitionSubOrder(ctx context.Context, subOrderID uuid.UUID, from, to enums.OrderStatus) (bool, error)
	ListClaimable(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.SubOrder, error)

	FindShipment(ctx context.Context, subOrderID uuid.UUID) (*models.Shipment, error)
	SaveShipment(ctx context.Context, shipment *models.Shipment) error

	FindPayment(ctx context.Context, subOrderID uuid.UUID) (*models.Payment, error)
	ListPayments(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
	ListPaymentsByReference(ctx context.Context, reference string) ([]models.Payment, error)
	TransitionPayment(ctx context.Context, paymentID uuid.UUID, from, to enums.PaymentStatus, paidAt *time.Time) (bool, error)
	SetGatewayReference(ctx context.Context, paymentIDs []uuid.UUID, reference string) error
}
