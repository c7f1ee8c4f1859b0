package outbox

import "github.com/google/uuid"

// OrderCreated is emitted once per checkout.
type OrderCreated struct {
	OrderID       uuid.UUID   `json:"orderId"`
	BuyerID       uuid.UUID   `json:"buyerId"`
	SubOrderIDs   []uuid.UUID `json:"subOrderIds"`
	TotalPrice    int64       `json:"totalPrice"`
	ShippingFee   int64       `json:"shippingFee"`
	Discount      int64       `json:"discount"`
	PaymentMethod string      `json:"paymentMethod"`
}

// SubOrderTransition is emitted for every sub-order state change.
type SubOrderTransition struct {
	SubOrderID uuid.UUID  `json:"subOrderId"`
	OrderID    uuid.UUID  `json:"orderId"`
	ShopID     uuid.UUID  `json:"shopId"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	ShipperID  *uuid.UUID `json:"shipperId,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// OrderStatusChanged is emitted when the rollup moves an order.
type OrderStatusChanged struct {
	OrderID           uuid.UUID `json:"orderId"`
	Status            string    `json:"status"`
	PreviousStatus    string    `json:"previousStatus"`
	PaymentStatus     string    `json:"paymentStatus"`
	PreviousPayStatus string    `json:"previousPaymentStatus"`
}

// PaymentUpdated is emitted when a sub-order payment changes state.
type PaymentUpdated struct {
	PaymentID  uuid.UUID  `json:"paymentId"`
	OrderID    uuid.UUID  `json:"orderId"`
	SubOrderID *uuid.UUID `json:"subOrderId,omitempty"`
	Status     string     `json:"status"`
	Amount     int64      `json:"amount"`
}
