package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/api/middleware"
	checkoutsvc "github.com/angelmondragon/fulfillment-engine/internal/checkout"
	"github.com/angelmondragon/fulfillment-engine/internal/fulfillment"
	"github.com/angelmondragon/fulfillment-engine/internal/inventory"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

type stubCheckoutService struct {
	order *models.Order
	err   error
	got   *checkoutsvc.Input
}

func (s *stubCheckoutService) CreateOrder(ctx context.Context, actor types.Actor, input checkoutsvc.Input) (*models.Order, error) {
	s.got = &input
	return s.order, s.err
}

type stubFulfillment struct {
	confirmed int
	err       error
	shipment  *models.Shipment
	sub       *models.SubOrder
	gotIDs    []uuid.UUID
	gotReason string
}

func (s *stubFulfillment) ConfirmSubOrders(ctx context.Context, actor types.Actor, ids []uuid.UUID) (int, error) {
	s.gotIDs = ids
	return s.confirmed, s.err
}

func (s *stubFulfillment) ClaimSubOrder(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.Shipment, error) {
	return s.shipment, s.err
}

func (s *stubFulfillment) CompleteSubOrder(ctx context.Context, actor types.Actor, id uuid.UUID) (*fulfillment.Delivery, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &fulfillment.Delivery{SubOrder: *s.sub, Shipment: *s.shipment}, nil
}

func (s *stubFulfillment) CancelSubOrderByShipper(ctx context.Context, actor types.Actor, id uuid.UUID, reason string) (*models.SubOrder, error) {
	s.gotReason = reason
	return s.sub, s.err
}

func (s *stubFulfillment) CancelSubOrderByCustomer(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.SubOrder, error) {
	return s.sub, s.err
}

func (s *stubFulfillment) ListClaimable(ctx context.Context, actor types.Actor, params pagination.Params) (pagination.Page[orders.SubOrderSummary], error) {
	return pagination.Page[orders.SubOrderSummary]{}, s.err
}

func withActor(req *http.Request, role enums.ActorRole) *http.Request {
	actor := types.Actor{ID: uuid.New(), Role: role}
	if role == enums.ActorRoleVendor {
		shop := uuid.New()
		actor.ShopID = &shop
	}
	return req.WithContext(middleware.WithActor(req.Context(), actor))
}

func withURLParam(req *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func decodeError(t *testing.T, body []byte) (string, any) {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Details any    `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return payload.Error.Code, payload.Error.Details
}

func TestCheckoutCreatesOrder(t *testing.T) {
	t.Parallel()

	orderID := uuid.New()
	svc := &stubCheckoutService{order: &models.Order{
		ID:        orderID,
		Status:    enums.OrderStatusPending,
		SubOrders: []models.SubOrder{{ID: uuid.New(), ShopID: uuid.New()}},
	}}
	body := `{"address_id":"` + uuid.NewString() + `","payment_method":"cod","coupon_code":" save10 ","items":[{"product_id":"` + uuid.NewString() + `","quantity":2}]}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body)), enums.ActorRoleBuyer)
	resp := httptest.NewRecorder()

	Checkout(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.got == nil || svc.got.CouponCode != "save10" || len(svc.got.Items) != 1 || svc.got.Items[0].Quantity != 2 {
		t.Fatalf("unexpected input %+v", svc.got)
	}
	var payload struct {
		Data orders.OrderDetail `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Data.ID != orderID || len(payload.Data.SubOrders) != 1 {
		t.Fatalf("unexpected response %+v", payload.Data)
	}
}

func TestCheckoutRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	svc := &stubCheckoutService{}
	body := `{"address_id":"` + uuid.NewString() + `","payment_method":"cash","items":[]}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body)), enums.ActorRoleBuyer)
	resp := httptest.NewRecorder()

	Checkout(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if svc.got != nil {
		t.Fatalf("service should not be called")
	}
	code, details := decodeError(t, resp.Body.Bytes())
	if code != string(pkgerrors.CodeValidation) || details == nil {
		t.Fatalf("unexpected error %s %v", code, details)
	}
}

func TestConfirmSurfacesShortfall(t *testing.T) {
	t.Parallel()

	variant := uuid.New()
	svc := &stubFulfillment{err: pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for 1 item(s)").
		WithDetails([]inventory.Shortfall{{ProductID: uuid.New(), VariantID: &variant, Requested: 2, Available: 1}})}
	ids := []string{uuid.NewString(), uuid.NewString()}
	body := `{"sub_order_ids":["` + strings.Join(ids, `","`) + `"]}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/vendor/sub-orders/confirm", strings.NewReader(body)), enums.ActorRoleVendor)
	resp := httptest.NewRecorder()

	VendorConfirmSubOrders(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
	if len(svc.gotIDs) != 2 {
		t.Fatalf("expected ids forwarded, got %v", svc.gotIDs)
	}
	code, details := decodeError(t, resp.Body.Bytes())
	if code != string(pkgerrors.CodeInsufficientStock) {
		t.Fatalf("unexpected code %s", code)
	}
	rows, ok := details.([]any)
	if !ok || len(rows) != 1 || !strings.Contains(resp.Body.String(), variant.String()) {
		t.Fatalf("expected shortfall naming the variant, got %s", resp.Body.String())
	}
}

func TestClaimLostRaceIsConflict(t *testing.T) {
	t.Parallel()

	svc := &stubFulfillment{err: pkgerrors.New(pkgerrors.CodeConflict, "sub-order already claimed")}
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/shipper/sub-orders/x/claim", nil), enums.ActorRoleShipper)
	req = withURLParam(req, "subOrderId", uuid.NewString())
	resp := httptest.NewRecorder()

	ShipperClaim(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", resp.Code)
	}
}

func TestClaimRejectsBadID(t *testing.T) {
	t.Parallel()

	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/shipper/sub-orders/x/claim", nil), enums.ActorRoleShipper)
	req = withURLParam(req, "subOrderId", "not-a-uuid")
	resp := httptest.NewRecorder()

	ShipperClaim(&stubFulfillment{}, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestShipperCancelAcceptsEmptyBody(t *testing.T) {
	t.Parallel()

	sub := &models.SubOrder{ID: uuid.New(), Status: enums.OrderStatusCancelled}
	svc := &stubFulfillment{sub: sub}
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/shipper/sub-orders/x/cancel", nil), enums.ActorRoleShipper)
	req = withURLParam(req, "subOrderId", sub.ID.String())
	resp := httptest.NewRecorder()

	ShipperCancel(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if svc.gotReason != "" {
		t.Fatalf("expected empty reason got %q", svc.gotReason)
	}
}

func TestIllegalTransitionIsUnprocessable(t *testing.T) {
	t.Parallel()

	svc := &stubFulfillment{err: pkgerrors.New(pkgerrors.CodeStateConflict, "cannot move sub-order from processing to cancelled")}
	req := withActor(httptest.NewRequest(http.MethodPost, "/api/v1/buyer/sub-orders/x/cancel", nil), enums.ActorRoleBuyer)
	req = withURLParam(req, "subOrderId", uuid.NewString())
	resp := httptest.NewRecorder()

	BuyerCancel(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", resp.Code)
	}
}

func TestHandlersRequireActor(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/shipper/sub-orders/claimable", nil)
	resp := httptest.NewRecorder()

	ShipperClaimable(&stubFulfillment{}, 20, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}
