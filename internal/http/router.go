package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fjod/go_shop/internal/metrics"
	"github.com/fjod/go_shop/internal/service"
)

type RouterConfig struct {
	Carts          *service.CartService
	Checkout       *service.CheckoutService
	Orders         *service.OrderService
	Products       *service.ProductService
	Tokens         TokenVerifier
	Metrics        *metrics.ServerMetrics
	Logger         *zap.Logger
	RequestTimeout time.Duration
	MaxBodySize    int64
}

func NewRouter(cfg RouterConfig) chi.Router {
	cartHandler := NewCartHandler(cfg.Carts, cfg.RequestTimeout, cfg.Logger)
	ordersHandler := NewOrdersHandler(cfg.Checkout, cfg.Orders, cfg.RequestTimeout, cfg.Logger)
	productHandler := NewProductHandler(cfg.Products, cfg.RequestTimeout, cfg.Logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(Instrument(cfg.Metrics))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))
	r.Use(LimitBody(cfg.MaxBodySize))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", productHandler.List)
		r.Get("/products/{product_id}", productHandler.Get)

		r.Group(func(r chi.Router) {
			r.Use(Authenticate(cfg.Tokens))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartHandler.GetCart)
				r.Delete("/", cartHandler.Delete)
				r.Post("/items", cartHandler.AddItem)
				r.Put("/items", cartHandler.UpdateQuantity)
			})

			r.Route("/orders", func(r chi.Router) {
				r.Post("/", ordersHandler.Checkout)
				r.Get("/", ordersHandler.ListOrders)
				r.Get("/{order_id}", ordersHandler.GetOrder)
				r.Delete("/{order_id}", ordersHandler.Cancel)
				r.With(RequireAdmin).Patch("/{order_id}/status", ordersHandler.SetStatus)
			})

			r.With(RequireAdmin).Post("/products", productHandler.Create)
			r.With(RequireAdmin).Patch("/products/{product_id}", productHandler.Update)
		})
	})

	return r
}
