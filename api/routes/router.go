package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/fulfillment-engine/api/controllers"
	"github.com/angelmondragon/fulfillment-engine/api/middleware"
	checkoutsvc "github.com/angelmondragon/fulfillment-engine/internal/checkout"
	"github.com/angelmondragon/fulfillment-engine/internal/orders"
	"github.com/angelmondragon/fulfillment-engine/pkg/config"
	"github.com/angelmondragon/fulfillment-engine/pkg/enums"
	"github.com/angelmondragon/fulfillment-engine/pkg/logger"
	"github.com/angelmondragon/fulfillment-engine/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisP controllers.Pinger,
	idempotencyStore redis.IdempotencyStore,
	metricsHandler http.Handler,
	checkoutService checkoutsvc.Service,
	couponService controllers.CouponService,
	ordersService orders.Service,
	fulfillmentService controllers.FulfillmentService,
	paymentService controllers.PaymentService,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisP))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/payments", controllers.PaymentWebhook(paymentService, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idempotencyStore, cfg.Idempotency.TTL, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.ActorRoleBuyer, logg))
			r.Post("/checkout", controllers.Checkout(checkoutService, logg))
			r.Post("/coupons/validate", controllers.ValidateCoupon(couponService, logg))
			r.Delete("/coupons/{code}/usage", controllers.ReleaseCoupon(couponService, logg))
			r.Post("/orders/{orderId}/payments/intent", controllers.StartPayment(paymentService, logg))
			r.Post("/buyer/sub-orders/{subOrderId}/cancel", controllers.BuyerCancel(fulfillmentService, logg))
		})

		r.Get("/orders/{orderId}", controllers.OrderDetail(ordersService, logg))

		r.Route("/vendor", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.ActorRoleVendor, logg))
			r.Post("/sub-orders/confirm", controllers.VendorConfirmSubOrders(fulfillmentService, logg))
		})

		r.Route("/shipper", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.ActorRoleShipper, logg))
			r.Get("/sub-orders/claimable", controllers.ShipperClaimable(fulfillmentService, cfg.Fulfillment.ClaimablePage, logg))
			r.Post("/sub-orders/{subOrderId}/claim", controllers.ShipperClaim(fulfillmentService, logg))
			r.Post("/sub-orders/{subOrderId}/complete", controllers.ShipperComplete(fulfillmentService, logg))
			r.Post("/sub-orders/{subOrderId}/cancel", controllers.ShipperCancel(fulfillmentService, logg))
		})
	})

	return r
}
