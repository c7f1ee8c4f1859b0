package fulfillment

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-engine/internal/address"
	"github.com/angelmondragon/fulfillment-engine/internal/catalog"
	"github.com/angelmondragon/fulfillment-engine/internal/checkout"
	"github.com/angelmondragon/fulfillment-engine/internal/checkout/helpers"
	"github.com/angelmondragon/fulfillment-engine/internal/coupons"
	"github.com/angelmondragon/fulfillment-engine/internal/inventory"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/internal/shipping"
	"github.com/angelmondragon/fulfillment-engine/pkg/db"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/metrics"
	"github.com/angelmondragon/fulfillment-engine/pkg/outbox"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

type harness struct {
	client   *db.Client
	conn     *gorm.DB
	svc      *Service
	checkout checkout.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	client := dbtest.Open(t)
	conn := client.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	repo := orders.NewRepository(conn)
	agg, err := orders.NewAggregator(repo, emitter, nil)
	require.NoError(t, err)
	svc, err := NewService(client, repo, inventory.NewReserver(), agg, emitter,
		metrics.NewFulfillment(prometheus.NewRegistry()), nil, Options{TrackingPrefix: "TST"})
	require.NoError(t, err)

	couponSvc, err := coupons.NewService(coupons.NewRepository(conn), client, nil)
	require.NoError(t, err)
	co, err := checkout.NewService(client, repo, catalog.NewRepository(conn), address.NewBook(conn),
		couponSvc, shipping.NewCalculator(), emitter, nil)
	require.NoError(t, err)

	return &harness{client: client, conn: conn, svc: svc, checkout: co}
}

func (h *harness) newBuyer(t *testing.T) (types.Actor, models.Address) {
	t.Helper()
	buyer := types.Actor{ID: uuid.New(), Role: enums.ActorRoleBuyer}
	return buyer, dbtest.Address(t, h.conn, buyer.ID)
}

func (h *harness) placeOrder(t *testing.T, buyer types.Actor, addr models.Address, items ...helpers.ItemInput) *models.Order {
	t.Helper()
	order, err := h.checkout.CreateOrder(context.Background(), buyer, checkout.Input{
		AddressID:     addr.ID,
		PaymentMethod: enums.PaymentMethodCOD,
		Items:         items,
	})
	require.NoError(t, err)
	return order
}

func (h *harness) subOrder(t *testing.T, id uuid.UUID) models.SubOrder {
	t.Helper()
	var sub models.SubOrder
	require.NoError(t, h.conn.First(&sub, "id = ?", id).Error)
	return sub
}

func (h *harness) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, h.conn.First(&order, "id = ?", id).Error)
	return order
}

func (h *harness) payment(t *testing.T, subOrderID uuid.UUID) models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, h.conn.First(&p, "sub_order_id = ?", subOrderID).Error)
	return p
}

func (h *harness) variantStock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var v models.ProductVariant
	require.NoError(t, h.conn.First(&v, "id = ?", id).Error)
	return v.Stock
}

func vendorOf(shop models.Shop) types.Actor {
	id := shop.ID
	return types.Actor{ID: shop.OwnerID, Role: enums.ActorRoleVendor, ShopID: &id}
}

func newShipper() types.Actor {
	return types.Actor{ID: uuid.New(), Role: enums.ActorRoleShipper}
}

func item(productID uuid.UUID, variantID *uuid.UUID, qty int) helpers.ItemInput {
	return helpers.ItemInput{ProductID: productID, VariantID: variantID, Quantity: qty}
}

// singleShopOrder places an order for one variant and returns its only sub-order.
func (h *harness) singleShopOrder(t *testing.T, product models.Product, variant models.ProductVariant, qty int) (*models.Order, models.SubOrder) {
	t.Helper()
	buyer, addr := h.newBuyer(t)
	order := h.placeOrder(t, buyer, addr, item(product.ID, &variant.ID, qty))
	require.Len(t, order.SubOrders, 1)
	return order, order.SubOrders[0]
}

func TestConfirmReservesStockAndRollsUp(t *testing.T) {
	h := newHarness(t)
	shopA := dbtest.Shop(t, h.conn)
	shopB := dbtest.Shop(t, h.conn)
	pa := dbtest.Product(t, h.conn, shopA.ID, dbtest.ProductOpts{})
	va := dbtest.Variant(t, h.conn, pa.ID, "", 0, 10)
	pb := dbtest.Product(t, h.conn, shopB.ID, dbtest.ProductOpts{})
	vb := dbtest.Variant(t, h.conn, pb.ID, "", 0, 10)

	buyer, addr := h.newBuyer(t)
	order := h.placeOrder(t, buyer, addr, item(pa.ID, &va.ID, 3), item(pb.ID, &vb.ID, 1))
	require.Len(t, order.SubOrders, 2)
	subByShop := map[uuid.UUID]models.SubOrder{}
	for _, sub := range order.SubOrders {
		subByShop[sub.ShopID] = sub
	}

	// The foreign sub-order in the batch is skipped.
	n, err := h.svc.ConfirmSubOrders(context.Background(), vendorOf(shopA),
		[]uuid.UUID{subByShop[shopA.ID].ID, subByShop[shopB.ID].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, enums.OrderStatusProcessing, h.subOrder(t, subByShop[shopA.ID].ID).Status)
	assert.Equal(t, enums.OrderStatusPending, h.subOrder(t, subByShop[shopB.ID].ID).Status)
	assert.Equal(t, 7, h.variantStock(t, va.ID))
	assert.Equal(t, 10, h.variantStock(t, vb.ID))
	assert.Equal(t, enums.OrderStatusProcessing, h.order(t, order.ID).Status)

	// Confirming again is a no-op: the sub-order is no longer pending.
	n, err = h.svc.ConfirmSubOrders(context.Background(), vendorOf(shopA), []uuid.UUID{subByShop[shopA.ID].ID})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 7, h.variantStock(t, va.ID))
}

func TestConfirmShortfallAbortsWholeBatch(t *testing.T) {
	h := newHarness(t)
	shop := dbtest.Shop(t, h.conn)
	product := dbtest.Product(t, h.conn, shop.ID, dbtest.ProductOpts{})
	v1 := dbtest.Variant(t, h.conn, product.ID, "", 0, 5)
	v2 := dbtest.Variant(t, h.conn, product.ID, "", 0, 5)
	v3 := dbtest.Variant(t, h.conn, product.ID, "", 0, 1)

	_, s1 := h.singleShopOrder(t, product, v1, 2)
	_, s2 := h.singleShopOrder(t, product, v2, 2)
	_, s3 := h.singleShopOrder(t, product, v3, 2)

	_, err := h.svc.ConfirmSubOrders(context.Background(), vendorOf(shop), []uuid.UUID{s1.ID, s2.ID, s3.ID})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
	shortfalls, ok := typed.Details().([]inventory.Shortfall)
	require.True(t, ok)
	require.Len(t, shortfalls, 1)
	require.NotNil(t, shortfalls[0].VariantID)
	assert.Equal(t, v3.ID, *shortfalls[0].VariantID)
	assert.Equal(t, 2, shortfalls[0].Requested)
	assert.Equal(t, 1, shortfalls[0].Available)

	for _, sub := range []models.SubOrder{s1, s2, s3} {
		assert.Equal(t, enums.OrderStatusPending, h.subOrder(t, sub.ID).Status)
	}
	assert.Equal(t, 5, h.variantStock(t, v1.ID))
	assert.Equal(t, 5, h.variantStock(t, v2.ID))
	assert.Equal(t, 1, h.variantStock(t, v3.ID))
}

func TestConcurrentConfirmBatchesAreAllOrNothing(t *testing.T) {
	h := newHarness(t)
	shop := dbtest.Shop(t, h.conn)
	product := dbtest.Product(t, h.conn, shop.ID, dbtest.ProductOpts{})
	shared := dbtest.Variant(t, h.conn, product.ID, "", 0, 3)
	own1 := dbtest.Variant(t, h.conn, product.ID, "", 0, 10)
	own2 := dbtest.Variant(t, h.conn, product.ID, "", 0, 10)

	_, a1 := h.singleShopOrder(t, product, shared, 2)
	_, a2 := h.singleShopOrder(t, product, own1, 1)
	_, b1 := h.singleShopOrder(t, product, shared, 2)
	_, b2 := h.singleShopOrder(t, product, own2, 1)

	batches := [][]uuid.UUID{{a1.ID, a2.ID}, {b1.ID, b2.ID}}
	results := make([]int, len(batches))
	errs := make([]error, len(batches))
	var wg sync.WaitGroup
	for i := range batches {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.ConfirmSubOrders(context.Background(), vendorOf(shop), batches[i])
		}(i)
	}
	wg.Wait()

	wins := 0
	for i, err := range errs {
		if err == nil {
			wins++
			assert.Equal(t, 2, results[i])
			continue
		}
		assert.Equal(t, pkgerrors.CodeInsufficientStock, pkgerrors.CodeOf(err))
		for _, id := range batches[i] {
			assert.Equal(t, enums.OrderStatusPending, h.subOrder(t, id).Status)
		}
	}
	require.Equal(t, 1, wins)
	assert.Equal(t, 1, h.variantStock(t, shared.ID))
	assert.Equal(t, 19, h.variantStock(t, own1.ID)+h.variantStock(t, own2.ID))
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	h := newHarness(t)
	shop := dbtest.Shop(t, h.conn)
	product := dbtest.Product(t, h.conn, shop.ID, dbtest.ProductOpts{})
	variant := dbtest.Variant(t, h.conn, product.ID, "", 0, 5)
	_, sub := h.singleShopOrder(t, product, variant, 1)
	_, err := h.svc.ConfirmSubOrders(context.Background(), vendorOf(shop), []uuid.UUID{sub.ID})
	require.NoError(t, err)

	const shippers = 8
	errs := make([]error, shippers)
	actors := make([]types.Actor, shippers)
	var wg sync.WaitGroup
	for i := 0; i < shippers; i++ {
		actors[i] = newShipper()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.ClaimSubOrder(context.Background(), actors[i], sub.ID)
		}(i)
	}
	wg.Wait()

	var winner *types.Actor
	for i, err := range errs {
		if err == nil {
			require.Nil(t, winner, "more than one claim succeeded")
			winner = &actors[i]
			continue
		}
		assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	}
	require.NotNil(t, winner)

	var shipments []models.Shipment
	require.NoError(t, h.conn.Where("sub_order_id = ?", sub.ID).Find(&shipments).Error)
	require.Len(t, shipments, 1)
	require.NotNil(t, shipments[0].ShipperID)
	assert.Equal(t, winner.ID, *shipments[0].ShipperID)
	assert.Equal(t, enums.ShipmentStatusInTransit, shipments[0].Status)
	assert.Contains(t, shipments[0].TrackingNumber, "TST-")
	assert.NotNil(t, shipments[0].EstimatedDelivery)
}

func TestClaimCompleteSettlesPayment(t *testing.T) {
	h := newHarness(t)
	shop := dbtest.Shop(t, h.conn)
	product := dbtest.Product(t, h.conn, shop.ID, dbtest.ProductOpts{})
	variant := dbtest.Variant(t, h.conn, product.ID, "", 0, 5)
	order, sub := h.singleShopOrder(t, product, variant, 1)
	ctx := context.Background()

	_, err := h.svc.ConfirmSubOrders(ctx, vendorOf(shop), []uuid.UUID{sub.ID})
	require.NoError(t, err)
	shipper := newShipper()
	_, err = h.svc.ClaimSubOrder(ctx, shipper, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, h.order(t, order.ID).Status)

	delivery, err := h.svc.CompleteSubOrder(ctx, shipper, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, delivery.SubOrder.Status)
	assert.Equal(t, enums.ShipmentStatusDelivered, delivery.Shipment.Status)
	assert.NotNil(t, delivery.Shipment.ActualDelivery)
	require.NotNil(t, delivery.Payment)
	assert.Equal(t, enums.PaymentStatusPaid, delivery.Payment.Status)

	payment := h.payment(t, sub.ID)
	assert.Equal(t, enums.PaymentStatusPaid, payment.Status)
	assert.NotNil(t, payment.PaidAt)

	stored := h.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusDelivered, stored.Status)
	assert.Equal(t, enums.OrderPaymentPaid, stored.PaymentStatus)

	var events []models.OutboxEvent
	require.NoError(t, h.conn.Where("aggregate_id = ?", sub.ID).Order("created_at ASC").Find(&events).Error)
	require.Len(t, events, 3)
	assert.Equal(t, enums.EventSubOrderConfirmed, events[0].EventType)
	assert.Equal(t, enums.EventSubOrderClaimed, events[1].EventType)
	assert.Equal(t, enums.EventSubOrderDelivered, events[2].EventType)
}

func TestPartialDeliveryKeepsOrderShipped(t *testing.T) {
	h := newHarness(t)
	shopA := dbtest.Shop(t, h.conn)
	shopB := dbtest.Shop(t, h.conn)
	pa := dbtest.Product(t, h.conn, shopA.ID, dbtest.ProductOpts{Stock: 5})
	pb := dbtest.Product(t, h.conn, shopB.ID, dbtest.ProductOpts{Stock: 5})
	buyer, addr := h.newBuyer(t)
	order := h.placeOrder(t, buyer, addr, item(pa.ID, nil, 1), item(pb.ID, nil, 1))
	ctx := context.Background()

	var subA models.SubOrder
	for _, sub := range order.SubOrders {
		if sub.ShopID == shopA.ID {
			subA = sub
		}
	}
	_, err := h.svc.ConfirmSubOrders(ctx, vendorOf(shopA), []uuid.UUID{subA.ID})
	require.NoError(t, err)
	shipper := newShipper()
	_, err = h.svc.ClaimSubOrder(ctx, shipper, subA.ID)
	require.NoError(t, err)
	_, err = h.svc.CompleteSubOrder(ctx, shipper, subA.ID)
	require.NoError(t, err)

	stored := h.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusShipped, stored.Status)
	assert.Equal(t, enums.OrderPaymentPending, stored.PaymentStatus)
}

func TestShipperOwnershipAndForwardOnly(t *testing.T) {
	h := newHarness(t)
	shop := dbtest.Shop(t, h.conn)
	product := dbtest.Product(t, h.conn, shop.ID, dbtest.ProductOpts{})
	variant := dbtest.Variant(t, h.conn, product.ID, "", 0, 5)
	_, sub := h.singleShopOrder(t, product, variant, 1)
	ctx := context.Background()
	owner := newShipper()
	intruder := newShipper()

	_, err := h.svc.ClaimSubOrder(ctx, owner, sub.ID)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err), "pending cannot be claimed")
	_, err = h.svc.CompleteSubOrder(ctx, owner, sub.ID)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err), "pending cannot be completed")

	_, err = h.svc.ConfirmSubOrders(ctx, vendorOf(shop), []uuid.UUID{sub.ID})
	require.NoError(t, err)
	_, err = h.svc.ClaimSubOrder(ctx, owner, sub.ID)
	require.NoError(t, err)

	_, err = h.svc.CompleteSubOrder(ctx, intruder, sub.ID)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
	_, err = h.svc.CancelSubOrderByShipper(ctx, intruder, sub.ID, "")
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	_, err = h.svc.CompleteSubOrder(ctx, owner, sub.ID)
	require.NoError(t, err)

	_, err = h.svc.ClaimSubOrder(ctx, intruder, sub.ID)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err), "delivered reads as already claimed")
	_, err = h.svc.CompleteSubOrder(ctx, owner, sub.ID)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	_, err = h.svc.CancelSubOrderByShipper(ctx, owner, sub.ID, "")
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	assert.Equal(t, enums.OrderStatusDelivered, h.subOrder(t, sub.ID).Status)

	_, err = h.svc.ClaimSubOrder(ctx, vendorOf(shop), sub.ID)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))
}

func TestCustomerCancelCascadesOnlyWhenAllCancelled(t *testing.T) {
	h := newHarness(t)
	shopA := dbtest.Shop(t, h.conn)
	shopB := dbtest.Shop(t, h.conn)
	pa := dbtest.Product(t, h.conn, shopA.ID, dbtest.ProductOpts{Stock: 5})
	pb := dbtest.Product(t, h.conn, shopB.ID, dbtest.ProductOpts{Stock: 5})
	buyer, addr := h.newBuyer(t)
	order := h.placeOrder(t, buyer, addr, item(pa.ID, nil, 1), item(pb.ID, nil, 1))
	ctx := context.Background()

	_, err := h.svc.CancelSubOrderByCustomer(ctx, types.Actor{ID: uuid.New(), Role: enums.ActorRoleBuyer}, order.SubOrders[0].ID)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.CodeOf(err))

	cancelled, err := h.svc.CancelSubOrderByCustomer(ctx, buyer, order.SubOrders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, enums.OrderStatusPending, h.order(t, order.ID).Status)

	_, err = h.svc.CancelSubOrderByCustomer(ctx, buyer, order.SubOrders[0].ID)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err), "cancelled is terminal")

	_, err = h.svc.CancelSubOrderByCustomer(ctx, buyer, order.SubOrders[1].ID)
	require.NoError(t, err)
	stored := h.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
	assert.Equal(t, enums.OrderPaymentCancelled, stored.PaymentStatus)
	assert.Equal(t, enums.PaymentStatusPending, h.payment(t, order.SubOrders[1].ID).Status)
}

func TestCustomerCannotCancelConfirmed(t *testing.T) {
	h := newHarness(t)
	shop := dbtest.Shop(t, h.conn)
	product := dbtest.Product(t, h.conn, shop.ID, dbtest.ProductOpts{})
	variant := dbtest.Variant(t, h.conn, product.ID, "", 0, 5)
	buyer, addr := h.newBuyer(t)
	order := h.placeOrder(t, buyer, addr, item(product.ID, &variant.ID, 1))
	ctx := context.Background()

	_, err := h.svc.ConfirmSubOrders(ctx, vendorOf(shop), []uuid.UUID{order.SubOrders[0].ID})
	require.NoError(t, err)
	_, err = h.svc.CancelSubOrderByCustomer(ctx, buyer, order.SubOrders[0].ID)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	assert.Equal(t, enums.OrderStatusProcessing, h.subOrder(t, order.SubOrders[0].ID).Status)
}

func TestShipperCancelFailsShipmentAndPayment(t *testing.T) {
	h := newHarness(t)
	shop := dbtest.Shop(t, h.conn)
	product := dbtest.Product(t, h.conn, shop.ID, dbtest.ProductOpts{})
	variant := dbtest.Variant(t, h.conn, product.ID, "", 0, 5)
	order, sub := h.singleShopOrder(t, product, variant, 2)
	ctx := context.Background()
	shipper := newShipper()

	_, err := h.svc.ConfirmSubOrders(ctx, vendorOf(shop), []uuid.UUID{sub.ID})
	require.NoError(t, err)
	_, err = h.svc.ClaimSubOrder(ctx, shipper, sub.ID)
	require.NoError(t, err)

	cancelled, err := h.svc.CancelSubOrderByShipper(ctx, shipper, sub.ID, "address unreachable")
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCancelled, cancelled.Status)

	var shipment models.Shipment
	require.NoError(t, h.conn.First(&shipment, "sub_order_id = ?", sub.ID).Error)
	assert.Equal(t, enums.ShipmentStatusFailed, shipment.Status)
	assert.Equal(t, enums.PaymentStatusFailed, h.payment(t, sub.ID).Status)

	stored := h.order(t, order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, stored.Status)
	assert.Equal(t, enums.OrderPaymentFailed, stored.PaymentStatus)
	assert.Equal(t, 3, h.variantStock(t, variant.ID), "goods in transit are not restocked")
}

func TestListClaimableHidesClaimed(t *testing.T) {
	h := newHarness(t)
	shop := dbtest.Shop(t, h.conn)
	product := dbtest.Product(t, h.conn, shop.ID, dbtest.ProductOpts{})
	variant := dbtest.Variant(t, h.conn, product.ID, "", 0, 10)
	ctx := context.Background()

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		_, sub := h.singleShopOrder(t, product, variant, 1)
		ids = append(ids, sub.ID)
	}
	_, err := h.svc.ConfirmSubOrders(ctx, vendorOf(shop), ids)
	require.NoError(t, err)
	_, err = h.svc.ClaimSubOrder(ctx, newShipper(), ids[0])
	require.NoError(t, err)

	shipper := newShipper()
	page, err := h.svc.ListClaimable(ctx, shipper, pagination.Params{Limit: 1})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.NotEmpty(t, page.NextCursor)

	next, err := h.svc.ListClaimable(ctx, shipper, pagination.Params{Limit: 1, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)
	assert.NotEqual(t, page.Items[0].ID, next.Items[0].ID)
	for _, row := range append(page.Items, next.Items...) {
		assert.NotEqual(t, ids[0], row.ID)
	}

	_, err = h.svc.ListClaimable(ctx, shipper, pagination.Params{Cursor: "%%%"})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

// flakyRollup fails Recompute while failing is set.
type flakyRollup struct {
	next    orderRollup
	failing bool
}

func (f *flakyRollup) Recompute(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor *outbox.ActorRef) (*models.Order, error) {
	if f.failing {
		return nil, errors.New("connection reset by peer")
	}
	return f.next.Recompute(ctx, tx, orderID, actor)
}

func (h *harness) withRollup(t *testing.T, rollup orderRollup) *Service {
	t.Helper()
	conn := h.conn
	emitter := outbox.NewService(outbox.NewRepository(conn), nil)
	svc, err := NewService(h.client, orders.NewRepository(conn), inventory.NewReserver(), rollup, emitter,
		metrics.NewFulfillment(prometheus.NewRegistry()), nil, Options{TrackingPrefix: "TST"})
	require.NoError(t, err)
	return svc
}

func requireRetryableDependency(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeDependency, typed.Code())
	assert.True(t, typed.Retryable())
}

func TestPersistenceFailureRollsBackConfirm(t *testing.T) {
	h := newHarness(t)
	shop := dbtest.Shop(t, h.conn)
	product := dbtest.Product(t, h.conn, shop.ID, dbtest.ProductOpts{})
	variant := dbtest.Variant(t, h.conn, product.ID, "", 0, 5)
	order, sub := h.singleShopOrder(t, product, variant, 2)

	repo := orders.NewRepository(h.conn)
	agg, err := orders.NewAggregator(repo, outbox.NewService(outbox.NewRepository(h.conn), nil), nil)
	require.NoError(t, err)
	svc := h.withRollup(t, &flakyRollup{next: agg, failing: true})

	var before int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Count(&before).Error)

	_, err = svc.ConfirmSubOrders(context.Background(), vendorOf(shop), []uuid.UUID{sub.ID})
	requireRetryableDependency(t, err)

	assert.Equal(t, enums.OrderStatusPending, h.subOrder(t, sub.ID).Status)
	assert.Equal(t, enums.OrderStatusPending, h.order(t, order.ID).Status)
	assert.Equal(t, 5, h.variantStock(t, variant.ID))

	var after int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Count(&after).Error)
	assert.Equal(t, before, after, "no events from a rolled back confirm")
}

func TestPersistenceFailureRollsBackComplete(t *testing.T) {
	h := newHarness(t)
	shop := dbtest.Shop(t, h.conn)
	product := dbtest.Product(t, h.conn, shop.ID, dbtest.ProductOpts{})
	variant := dbtest.Variant(t, h.conn, product.ID, "", 0, 5)
	order, sub := h.singleShopOrder(t, product, variant, 1)
	ctx := context.Background()

	repo := orders.NewRepository(h.conn)
	agg, err := orders.NewAggregator(repo, outbox.NewService(outbox.NewRepository(h.conn), nil), nil)
	require.NoError(t, err)
	rollup := &flakyRollup{next: agg}
	svc := h.withRollup(t, rollup)

	_, err = svc.ConfirmSubOrders(ctx, vendorOf(shop), []uuid.UUID{sub.ID})
	require.NoError(t, err)
	shipper := newShipper()
	_, err = svc.ClaimSubOrder(ctx, shipper, sub.ID)
	require.NoError(t, err)

	rollup.failing = true
	_, err = svc.CompleteSubOrder(ctx, shipper, sub.ID)
	requireRetryableDependency(t, err)

	assert.Equal(t, enums.OrderStatusShipped, h.subOrder(t, sub.ID).Status)
	assert.Equal(t, enums.OrderStatusShipped, h.order(t, order.ID).Status)
	assert.Equal(t, 4, h.variantStock(t, variant.ID))

	payment := h.payment(t, sub.ID)
	assert.Equal(t, enums.PaymentStatusPending, payment.Status)
	assert.Nil(t, payment.PaidAt)

	var shipment models.Shipment
	require.NoError(t, h.conn.First(&shipment, "sub_order_id = ?", sub.ID).Error)
	assert.Equal(t, enums.ShipmentStatusInTransit, shipment.Status)
	assert.Nil(t, shipment.ActualDelivery)

	rollup.failing = false
	_, err = svc.CompleteSubOrder(ctx, shipper, sub.ID)
	require.NoError(t, err, "retry succeeds once the dependency recovers")
	assert.Equal(t, enums.OrderStatusDelivered, h.subOrder(t, sub.ID).Status)
}
