package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/merkadoph/merkado-backend/api/controllers"
	"github.com/merkadoph/merkado-backend/api/middleware"
	"github.com/merkadoph/merkado-backend/internal/commissions"
	"github.com/merkadoph/merkado-backend/internal/orders"
	"github.com/merkadoph/merkado-backend/internal/payments"
	"github.com/merkadoph/merkado-backend/internal/wallet"
	"github.com/merkadoph/merkado-backend/internal/withdrawals"
	"github.com/merkadoph/merkado-backend/pkg/config"
	"github.com/merkadoph/merkado-backend/pkg/db"
	"github.com/merkadoph/merkado-backend/pkg/logger"
	"github.com/merkadoph/merkado-backend/pkg/paymongo"
	"github.com/merkadoph/merkado-backend/pkg/redis"
)

// Deps carries everything the router wires into handlers. All clients are
// constructed in main and injected; nothing here reaches for globals.
type Deps struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          db.Pinger
	Redis       *redis.Client
	Gateway     paymongo.Gateway
	Payments    payments.Service
	Orders      orders.Service
	Wallets     wallet.Service
	Withdrawals withdrawals.Service
	Commissions commissions.Service
	Registry    *prometheus.Registry
}

func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.Recoverer(deps.Logger),
		middleware.RequestID(deps.Logger),
		middleware.CORS(deps.Config.App.CORSOrigins),
		middleware.Logging(deps.Logger),
		middleware.ActorContext(deps.Logger),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(deps.Config))
		r.Get("/ready", controllers.HealthReady(deps.Config, deps.Logger, deps.DB, deps.Redis))
	})

	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/paymongo", controllers.PayMongoWebhook(deps.Gateway, deps.Payments, deps.Logger))
	})

	var idemStore redis.IdempotencyStore
	if deps.Redis != nil {
		idemStore = deps.Redis
	}
	guarded := middleware.Idempotency(idemStore, deps.Config.Idempotency.TTL, deps.Logger)

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Get("/", controllers.ListPayments(deps.Payments, deps.Logger))
		r.Get("/{paymentID}", controllers.GetPayment(deps.Payments, deps.Logger))
		r.Get("/{paymentID}/orders", controllers.ListPaymentOrders(deps.Payments, deps.Orders, deps.Logger))
		r.Post("/{paymentID}/sync", controllers.SyncPaymentStatus(deps.Payments, deps.Logger))

		r.With(guarded).Post("/checkout", controllers.CreateCheckoutPayment(deps.Payments, deps.Logger))
		r.With(guarded).Post("/cash-in", controllers.CreateCashIn(deps.Payments, deps.Logger))
		r.With(guarded).Post("/qrph", controllers.CreateQRPHPayment(deps.Payments, deps.Logger))
		r.With(guarded).Post("/subscription", controllers.CreateSubscriptionPayment(deps.Payments, deps.Logger))
	})

	r.Route("/api/v1/wallet", func(r chi.Router) {
		r.Get("/", controllers.GetWallet(deps.Wallets, deps.Logger))
		r.Get("/transactions", controllers.ListWalletTransactions(deps.Wallets, deps.Logger))
	})

	r.Route("/api/v1/withdrawals", func(r chi.Router) {
		r.Get("/", controllers.ListWithdrawals(deps.Withdrawals, deps.Logger))
		r.Get("/{withdrawalID}", controllers.GetWithdrawal(deps.Withdrawals, deps.Logger))
		r.With(guarded).Post("/", controllers.CreateWithdrawal(deps.Withdrawals, deps.Logger))
		r.Post("/{withdrawalID}/cancel", controllers.CancelWithdrawal(deps.Withdrawals, deps.Logger))
	})

	r.Route("/api/v1/commissions", func(r chi.Router) {
		r.Get("/", controllers.ListCommissions(deps.Commissions, deps.Logger))
		r.Get("/{commissionID}", controllers.GetCommission(deps.Commissions, deps.Logger))
		r.With(guarded).Post("/{commissionID}/remit", controllers.RemitCommission(deps.Commissions, deps.Logger))
		r.With(guarded).Post("/bulk-remit", controllers.BulkRemitCommissions(deps.Commissions, deps.Logger))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Post("/refunds", controllers.CreateRefund(deps.Payments, deps.Logger))
		r.Post("/payments/{paymentID}/recover-orders", controllers.RecoverOrders(deps.Payments, deps.Logger))
		r.Post("/withdrawals/{withdrawalID}/approve", controllers.ApproveWithdrawal(deps.Withdrawals, deps.Logger))
		r.Post("/withdrawals/{withdrawalID}/reject", controllers.RejectWithdrawal(deps.Withdrawals, deps.Logger))
		r.Post("/wallets/{walletID}/reconcile", controllers.ReconcileWallet(deps.Wallets, deps.Logger))
		r.Post("/commissions", controllers.CreateCommission(deps.Commissions, deps.Logger))
		r.Post("/commissions/{commissionID}/waive", controllers.WaiveCommission(deps.Commissions, deps.Logger))
		r.Post("/commissions/{commissionID}/dispute", controllers.DisputeCommission(deps.Commissions, deps.Logger))
	})

	return r
}
