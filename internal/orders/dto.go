package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
)

// OrderDetail is the buyer-facing view of an order and everything under it.
type OrderDetail struct {
	ID                uuid.UUID                `json:"id"`
	BuyerID           uuid.UUID                `json:"buyer_id"`
	ShippingAddressID uuid.UUID                `json:"shipping_address_id"`
	CouponID          *uuid.UUID               `json:"coupon_id,omitempty"`
	TotalPrice        int64                    `json:"total_price"`
	ShippingFee       int64                    `json:"shipping_fee"`
	DiscountAmount    int64                    `json:"discount_amount"`
	PaymentMethod     enums.PaymentMethod      `json:"payment_method"`
	Status            enums.OrderStatus        `json:"status"`
	PaymentStatus     enums.OrderPaymentStatus `json:"payment_status"`
	Note              *string                  `json:"note,omitempty"`
	SubOrders         []SubOrderDetail         `json:"sub_orders"`
	CreatedAt         time.Time                `json:"created_at"`
	UpdatedAt         time.Time                `json:"updated_at"`
}

type SubOrderDetail struct {
	ID             uuid.UUID         `json:"id"`
	ShopID         uuid.UUID         `json:"shop_id"`
	TotalPrice     int64             `json:"total_price"`
	ShippingFee    int64             `json:"shipping_fee"`
	DiscountAmount int64             `json:"discount_amount"`
	Status         enums.OrderStatus `json:"status"`
	Items          []ItemDetail      `json:"items"`
	Shipment       *ShipmentDetail   `json:"shipment,omitempty"`
	Payment        *PaymentDetail    `json:"payment,omitempty"`
}

type ItemDetail struct {
	ID              uuid.UUID              `json:"id"`
	ProductID       uuid.UUID              `json:"product_id"`
	VariantID       *uuid.UUID             `json:"variant_id,omitempty"`
	Quantity        int                    `json:"quantity"`
	UnitPrice       int64                  `json:"unit_price"`
	DiscountPercent string                 `json:"discount_percent"`
	Total           int64                  `json:"total"`
	Snapshot        models.VariantSnapshot `json:"snapshot"`
}

type ShipmentDetail struct {
	ID                uuid.UUID            `json:"id"`
	ShipperID         *uuid.UUID           `json:"shipper_id,omitempty"`
	TrackingNumber    string               `json:"tracking_number"`
	Status            enums.ShipmentStatus `json:"status"`
	EstimatedDelivery *time.Time           `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time           `json:"actual_delivery,omitempty"`
}

type PaymentDetail struct {
	ID               uuid.UUID           `json:"id"`
	Method           enums.PaymentMethod `json:"method"`
	Status           enums.PaymentStatus `json:"status"`
	Amount           int64               `json:"amount"`
	GatewayReference *string             `json:"gateway_reference,omitempty"`
	PaidAt           *time.Time          `json:"paid_at,omitempty"`
}

// SubOrderSummary is a list row for shippers looking for work.
type SubOrderSummary struct {
	ID          uuid.UUID         `json:"id"`
	OrderID     uuid.UUID         `json:"order_id"`
	ShopID      uuid.UUID         `json:"shop_id"`
	TotalPrice  int64             `json:"total_price"`
	ShippingFee int64             `json:"shipping_fee"`
	Status      enums.OrderStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
}

func NewOrderDetail(order *models.Order) OrderDetail {
	detail := OrderDetail{
		ID:                order.ID,
		BuyerID:           order.BuyerID,
		ShippingAddressID: order.ShippingAddressID,
		CouponID:          order.CouponID,
		TotalPrice:        order.TotalPrice,
		ShippingFee:       order.ShippingFee,
		DiscountAmount:    order.DiscountAmount,
		PaymentMethod:     order.PaymentMethod,
		Status:            order.Status,
		PaymentStatus:     order.PaymentStatus,
		Note:              order.Note,
		SubOrders:         make([]SubOrderDetail, 0, len(order.SubOrders)),
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
	}
	for _, sub := range order.SubOrders {
		detail.SubOrders = append(detail.SubOrders, NewSubOrderDetail(sub))
	}
	return detail
}

func NewSubOrderDetail(sub models.SubOrder) SubOrderDetail {
	out := SubOrderDetail{
		ID:             sub.ID,
		ShopID:         sub.ShopID,
		TotalPrice:     sub.TotalPrice,
		ShippingFee:    sub.ShippingFee,
		DiscountAmount: sub.DiscountAmount,
		Status:         sub.Status,
		Items:          make([]ItemDetail, 0, len(sub.Items)),
	}
	for _, item := range sub.Items {
		out.Items = append(out.Items, ItemDetail{
			ID:              item.ID,
			ProductID:       item.ProductID,
			VariantID:       item.VariantID,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			DiscountPercent: item.DiscountPercent.String(),
			Total:           item.Total,
			Snapshot:        item.Snapshot.Data(),
		})
	}
	if sub.Shipment != nil {
		s := NewShipmentDetail(*sub.Shipment)
		out.Shipment = &s
	}
	if sub.Payment != nil {
		p := sub.Payment
		out.Payment = &PaymentDetail{
			ID:               p.ID,
			Method:           p.Method,
			Status:           p.Status,
			Amount:           p.Amount,
			GatewayReference: p.GatewayReference,
			PaidAt:           p.PaidAt,
		}
	}
	return out
}

func NewShipmentDetail(s models.Shipment) ShipmentDetail {
	return ShipmentDetail{
		ID:                s.ID,
		ShipperID:         s.ShipperID,
		TrackingNumber:    s.TrackingNumber,
		Status:            s.Status,
		EstimatedDelivery: s.EstimatedDelivery,
		ActualDelivery:    s.ActualDelivery,
	}
}

func NewSubOrderSummary(sub models.SubOrder) SubOrderSummary {
	return SubOrderSummary{
		ID:          sub.ID,
		OrderID:     sub.OrderID,
		ShopID:      sub.ShopID,
		TotalPrice:  sub.TotalPrice,
		ShippingFee: sub.ShippingFee,
		Status:      sub.Status,
		CreatedAt:   sub.CreatedAt,
	}
}
