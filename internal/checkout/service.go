// Package checkout turns a buyer's cart payload into an order with one
// sub-order per shop.
package checkout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/address"
	"github.com/angelmondragon/fulfillment-engine/internal/catalog"
	"github.com/angelmondragon/fulfillment-engine/internal/checkout/helpers"
	"github.com/angelmondragon/fulfillment-engine/internal/coupons"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/internal/shipping"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type productCatalog interface {
	Lookup(ctx context.Context, tx *gorm.DB, refs []catalog.Ref) ([]catalog.Line, error)
}

type couponLedger interface {
	ValidateTx(ctx context.Context, tx *gorm.DB, code string, userID uuid.UUID, orderTotal int64) (coupons.Quote, error)
	Apply(ctx context.Context, tx *gorm.DB, userID, couponID, orderID uuid.UUID) error
}

type feeCalculator interface {
	Fee(parcels []shipping.Parcel) int64
}

// Service executes checkout orchestration.
type Service interface {
	CreateOrder(ctx context.Context, actor types.Actor, input Input) (*models.Order, error)
}

// Input is the checkout payload after transport decoding.
type Input struct {
	AddressID     uuid.UUID
	PaymentMethod enums.PaymentMethod
	CouponCode    string
	Note          *string
	Items         []helpers.ItemInput
}

type service struct {
	tx       txRunner
	orders   orders.Repository
	catalog  productCatalog
	book     address.Book
	coupons  couponLedger
	shipping feeCalculator
	outbox   outbox.Emitter
	logg     *logger.Logger
}

// NewService builds the checkout service.
func NewService(
	tx txRunner,
	ordersRepo orders.Repository,
	products productCatalog,
	book address.Book,
	couponSvc couponLedger,
	fees feeCalculator,
	emitter outbox.Emitter,
	logg *logger.Logger,
) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if products == nil {
		return nil, fmt.Errorf("product catalog required")
	}
	if book == nil {
		return nil, fmt.Errorf("address book required")
	}
	if couponSvc == nil {
		return nil, fmt.Errorf("coupon ledger required")
	}
	if fees == nil {
		fees = shipping.NewCalculator()
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		tx:       tx,
		orders:   ordersRepo,
		catalog:  products,
		book:     book,
		coupons:  couponSvc,
		shipping: fees,
		outbox:   emitter,
		logg:     logg,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, actor types.Actor, input Input) (*models.Order, error) {
	if actor.ID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user identity missing")
	}
	if !actor.Is(enums.ActorRoleBuyer) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyers can check out")
	}
	if err := helpers.ValidateItems(input.Items); err != nil {
		return nil, err
	}
	if err := helpers.ValidatePaymentMethod(input.PaymentMethod); err != nil {
		return nil, err
	}
	couponCode := strings.TrimSpace(input.CouponCode)

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)

		addr, err := s.book.WithTx(tx).Resolve(ctx, actor.ID, input.AddressID)
		if err != nil {
			return err
		}

		refs := make([]catalog.Ref, len(input.Items))
		for i, item := range input.Items {
			refs[i] = catalog.Ref{ProductID: item.ProductID, VariantID: item.VariantID}
		}
		lines, err := s.catalog.Lookup(ctx, tx, refs)
		if err != nil {
			return err
		}
		priced := make([]helpers.PricedLine, len(lines))
		for i, line := range lines {
			priced[i] = helpers.PriceLine(line, input.Items[i].Quantity)
		}
		groups := helpers.GroupByShop(priced)

		var itemsSubtotal int64
		subtotals := make([]int64, len(groups))
		for i, g := range groups {
			subtotals[i] = g.ItemsSubtotal
			itemsSubtotal += g.ItemsSubtotal
		}

		var quote *coupons.Quote
		if couponCode != "" {
			q, err := s.coupons.ValidateTx(ctx, tx, couponCode, actor.ID, itemsSubtotal)
			if err != nil {
				return err
			}
			quote = &q
		}
		var discount int64
		if quote != nil {
			discount = quote.Discount
		}
		shares := helpers.Prorate(discount, subtotals)

		order := &models.Order{
			BuyerID:           actor.ID,
			ShippingAddressID: addr.ID,
			DiscountAmount:    discount,
			PaymentMethod:     input.PaymentMethod,
			Status:            enums.OrderStatusPending,
			PaymentStatus:     enums.OrderPaymentPending,
			Note:              trimNote(input.Note),
		}
		if quote != nil {
			order.CouponID = &quote.CouponID
		}
		subs := make([]models.SubOrder, len(groups))
		for i, g := range groups {
			fee := s.shipping.Fee(parcels(g.Lines))
			subs[i] = models.SubOrder{
				ShopID:         g.ShopID,
				ShippingFee:    fee,
				DiscountAmount: shares[i],
				TotalPrice:     g.ItemsSubtotal + fee - shares[i],
				Status:         enums.OrderStatusPending,
			}
			order.ShippingFee += fee
			order.TotalPrice += subs[i].TotalPrice
		}

		if err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}

		subIDs := make([]uuid.UUID, len(subs))
		for i := range subs {
			sub := &subs[i]
			sub.OrderID = order.ID
			if err := repo.CreateSubOrder(ctx, sub); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create sub-order")
			}
			subIDs[i] = sub.ID

			items := buildItems(order.ID, sub.ID, groups[i].Lines)
			if err := repo.CreateItems(ctx, items); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order items")
			}
			sub.Items = items

			payment := &models.Payment{
				OrderID:    order.ID,
				SubOrderID: &sub.ID,
				Method:     input.PaymentMethod,
				Status:     enums.PaymentStatusPending,
				Amount:     sub.TotalPrice,
			}
			if err := repo.CreatePayment(ctx, payment); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment")
			}
			sub.Payment = payment
		}
		order.SubOrders = subs

		if quote != nil {
			if err := s.coupons.Apply(ctx, tx, actor.ID, quote.CouponID, order.ID); err != nil {
				return err
			}
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         outbox.ActorOf(actor),
			Data: outbox.OrderCreated{
				OrderID:       order.ID,
				BuyerID:       actor.ID,
				SubOrderIDs:   subIDs,
				TotalPrice:    order.TotalPrice,
				ShippingFee:   order.ShippingFee,
				Discount:      discount,
				PaymentMethod: string(order.PaymentMethod),
			},
		}
		if err := s.outbox.Emit(ctx, tx, event); err != nil {
			return err
		}

		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, result.ID.String()), map[string]any{
		"sub_orders":  len(result.SubOrders),
		"total_price": result.TotalPrice,
	})
	s.logg.Info(logCtx, "order created")
	return result, nil
}

func parcels(lines []helpers.PricedLine) []shipping.Parcel {
	out := make([]shipping.Parcel, len(lines))
	for i, line := range lines {
		out[i] = shipping.Parcel{WeightKg: line.Line.WeightKg(), Quantity: line.Quantity}
	}
	return out
}

func buildItems(orderID, subOrderID uuid.UUID, lines []helpers.PricedLine) []models.OrderItem {
	items := make([]models.OrderItem, len(lines))
	for i, line := range lines {
		items[i] = models.OrderItem{
			OrderID:         orderID,
			SubOrderID:      subOrderID,
			ProductID:       line.Line.Product.ID,
			VariantID:       line.VariantID,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			Total:           line.Total,
			Snapshot:        datatypes.NewJSONType(line.Line.Snapshot()),
		}
	}
	return items
}

func trimNote(note *string) *string {
	if note == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
