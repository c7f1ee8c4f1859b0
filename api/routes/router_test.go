package routes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	checkoutsvc "github.com/angelmondragon/fulfillment-engine/internal/checkout"
	"github.com/angelmondragon/fulfillment-engine/internal/coupons"
	"github.com/angelmondragon/fulfillment-engine/internal/fulfillment"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/internal/payments"
	pkgAuth "github.com/angelmondragon/fulfillment-engine/pkg/auth"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-engine/pkg/errors"
	"github.com/angelmondragon/fulfillment-engine/pkg/pagination"
	"github.com/angelmondragon/fulfillment-engine/pkg/redis"
	"github.com/angelmondragon/fulfillment-engine/pkg/types"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubCheckout struct{}

func (stubCheckout) CreateOrder(ctx context.Context, actor types.Actor, input checkoutsvc.Input) (*models.Order, error) {
	return &models.Order{ID: uuid.New(), BuyerID: actor.ID}, nil
}

type stubCoupons struct{}

func (stubCoupons) Validate(ctx context.Context, code string, userID uuid.UUID, orderTotal int64) (coupons.Quote, error) {
	return coupons.Quote{Code: code, Final: orderTotal}, nil
}

func (stubCoupons) Release(ctx context.Context, userID uuid.UUID, code string) error { return nil }

type stubOrders struct{}

func (stubOrders) GetOrder(ctx context.Context, actor types.Actor, orderID uuid.UUID) (*orders.OrderDetail, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

type stubFulfillment struct {
	claims int
}

func (s *stubFulfillment) ConfirmSubOrders(ctx context.Context, actor types.Actor, ids []uuid.UUID) (int, error) {
	return len(ids), nil
}

func (s *stubFulfillment) ClaimSubOrder(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.Shipment, error) {
	s.claims++
	shipper := actor.ID
	return &models.Shipment{ID: uuid.New(), SubOrderID: id, ShipperID: &shipper, Status: enums.ShipmentStatusInTransit}, nil
}

func (s *stubFulfillment) CompleteSubOrder(ctx context.Context, actor types.Actor, id uuid.UUID) (*fulfillment.Delivery, error) {
	return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "not shipped")
}

func (s *stubFulfillment) CancelSubOrderByShipper(ctx context.Context, actor types.Actor, id uuid.UUID, reason string) (*models.SubOrder, error) {
	return &models.SubOrder{ID: id, Status: enums.OrderStatusCancelled}, nil
}

func (s *stubFulfillment) CancelSubOrderByCustomer(ctx context.Context, actor types.Actor, id uuid.UUID) (*models.SubOrder, error) {
	return &models.SubOrder{ID: id, Status: enums.OrderStatusCancelled}, nil
}

func (s *stubFulfillment) ListClaimable(ctx context.Context, actor types.Actor, params pagination.Params) (pagination.Page[orders.SubOrderSummary], error) {
	return pagination.Page[orders.SubOrderSummary]{Items: []orders.SubOrderSummary{}}, nil
}

type stubPayments struct{}

func (stubPayments) StartPayment(ctx context.Context, actor types.Actor, orderID uuid.UUID) (*payments.Intent, error) {
	return &payments.Intent{Reference: "pay_1", Amount: 100}, nil
}

func (stubPayments) HandleCallback(ctx context.Context, token string) (*payments.CallbackResult, error) {
	return &payments.CallbackResult{Reference: "pay_1", Updated: 1}, nil
}

type memoryStore struct {
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return scope + ":" + id }

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key], _ = value.(string)
	return nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App:         config.AppConfig{Env: "dev"},
		JWT:         config.JWTConfig{Secret: "secret", Issuer: "fulfillment", ExpirationMinutes: 5},
		Fulfillment: config.FulfillmentConfig{ClaimablePage: 20},
		Idempotency: config.IdempotencyConfig{TTL: time.Hour},
	}
}

type testRouter struct {
	handler     http.Handler
	cfg         *config.Config
	fulfillment *stubFulfillment
}

func newTestRouter(t *testing.T, ready error) *testRouter {
	t.Helper()
	cfg := testConfig()
	f := &stubFulfillment{}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "fulfillment_test_total", Help: "test"}))
	h := NewRouter(cfg, nil, stubPinger{}, stubPinger{err: ready}, &memoryStore{data: map[string]string{}},
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		stubCheckout{}, stubCoupons{}, stubOrders{}, f, stubPayments{})
	return &testRouter{handler: h, cfg: cfg, fulfillment: f}
}

func (tr *testRouter) token(t *testing.T, role enums.ActorRole) string {
	t.Helper()
	payload := pkgAuth.AccessTokenPayload{UserID: uuid.New(), Role: role}
	if role == enums.ActorRoleVendor {
		shop := uuid.New()
		payload.ShopID = &shop
	}
	token, err := pkgAuth.MintAccessToken(tr.cfg.JWT, time.Now(), payload)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return "Bearer " + token
}

func (tr *testRouter) do(method, path, auth, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	tr.handler.ServeHTTP(resp, req)
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	tr := newTestRouter(t, nil)
	if resp := tr.do(http.MethodGet, "/health/live", "", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("live: expected 200 got %d", resp.Code)
	}
	if resp := tr.do(http.MethodGet, "/health/ready", "", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("ready: expected 200 got %d", resp.Code)
	}
	resp := tr.do(http.MethodGet, "/metrics", "", "", nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "fulfillment_test_total") {
		t.Fatalf("metrics: unexpected response %d %s", resp.Code, resp.Body.String())
	}
}

func TestReadyFailsWhenDependencyDown(t *testing.T) {
	tr := newTestRouter(t, fmt.Errorf("redis down"))
	if resp := tr.do(http.MethodGet, "/health/ready", "", "", nil); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", resp.Code)
	}
}

func TestRoleGates(t *testing.T) {
	tr := newTestRouter(t, nil)
	subOrder := uuid.NewString()
	cases := []struct {
		name   string
		method string
		path   string
		role   enums.ActorRole
		body   string
		want   int
	}{
		{"claim without token", http.MethodPost, "/api/v1/shipper/sub-orders/" + subOrder + "/claim", "", "", http.StatusUnauthorized},
		{"buyer cannot claim", http.MethodPost, "/api/v1/shipper/sub-orders/" + subOrder + "/claim", enums.ActorRoleBuyer, "", http.StatusForbidden},
		{"shipper cannot confirm", http.MethodPost, "/api/v1/vendor/sub-orders/confirm", enums.ActorRoleShipper, `{"sub_order_ids":["` + subOrder + `"]}`, http.StatusForbidden},
		{"vendor confirms", http.MethodPost, "/api/v1/vendor/sub-orders/confirm", enums.ActorRoleVendor, `{"sub_order_ids":["` + subOrder + `"]}`, http.StatusOK},
		{"vendor cannot checkout", http.MethodPost, "/api/v1/checkout", enums.ActorRoleVendor, `{}`, http.StatusForbidden},
		{"shipper lists claimable", http.MethodGet, "/api/v1/shipper/sub-orders/claimable?limit=5", enums.ActorRoleShipper, "", http.StatusOK},
		{"buyer cancels", http.MethodPost, "/api/v1/buyer/sub-orders/" + subOrder + "/cancel", enums.ActorRoleBuyer, "", http.StatusOK},
		{"order lookup", http.MethodGet, "/api/v1/orders/" + uuid.NewString(), enums.ActorRoleBuyer, "", http.StatusNotFound},
		{"complete not shipped", http.MethodPost, "/api/v1/shipper/sub-orders/" + subOrder + "/complete", enums.ActorRoleShipper, "", http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := ""
			if tc.role != "" {
				auth = tr.token(t, tc.role)
			}
			headers := map[string]string{"Idempotency-Key": uuid.NewString()}
			resp := tr.do(tc.method, tc.path, auth, tc.body, headers)
			if resp.Code != tc.want {
				t.Fatalf("expected %d got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestClaimReplaysWithIdempotencyKey(t *testing.T) {
	tr := newTestRouter(t, nil)
	auth := tr.token(t, enums.ActorRoleShipper)
	path := "/api/v1/shipper/sub-orders/" + uuid.NewString() + "/claim"
	headers := map[string]string{"Idempotency-Key": "claim-1"}

	first := tr.do(http.MethodPost, path, auth, "", headers)
	second := tr.do(http.MethodPost, path, auth, "", headers)
	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200/200 got %d/%d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("expected replayed body")
	}
	if tr.fulfillment.claims != 1 {
		t.Fatalf("expected one claim execution, got %d", tr.fulfillment.claims)
	}

	missing := tr.do(http.MethodPost, path, auth, "", nil)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key got %d", missing.Code)
	}
}

func TestPaymentWebhookIsPublic(t *testing.T) {
	tr := newTestRouter(t, nil)
	resp := tr.do(http.MethodPost, "/api/v1/webhooks/payments", "", `{"token":"abc"}`, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
}
