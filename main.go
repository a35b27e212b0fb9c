package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	appNotification "github.com/schooleats/orderflow/internal/application/notification"
	appOrder "github.com/schooleats/orderflow/internal/application/order"
	appReservation "github.com/schooleats/orderflow/internal/application/reservation"
	appWebhook "github.com/schooleats/orderflow/internal/application/webhook"
	domorder "github.com/schooleats/orderflow/internal/domain/order"
	dompay "github.com/schooleats/orderflow/internal/domain/payment"
	domres "github.com/schooleats/orderflow/internal/domain/reservation"
	domhook "github.com/schooleats/orderflow/internal/domain/webhook"
	"github.com/schooleats/orderflow/internal/infrastructure/bus"
	"github.com/schooleats/orderflow/internal/infrastructure/gateway"
	"github.com/schooleats/orderflow/internal/infrastructure/id"
	"github.com/schooleats/orderflow/internal/infrastructure/memory"
	"github.com/schooleats/orderflow/internal/infrastructure/notify"
	"github.com/schooleats/orderflow/internal/infrastructure/postgres"
	"github.com/schooleats/orderflow/internal/pkg/keylock"
	"github.com/schooleats/orderflow/internal/pkg/logging"
	httppresentation "github.com/schooleats/orderflow/internal/presentation/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	serviceName := getenvDefault("SERVICE_NAME", "orderflow")
	env := getenvDefault("ENV", "dev")
	baseLogger := logging.MustNewLogger(serviceName, env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	ordersCreated := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Order creation attempts by outcome.",
		},
		[]string{"outcome"},
	)
	paymentAttempts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_attempts_total",
			Help: "Payment gateway attempts by outcome.",
		},
		[]string{"outcome"},
	)
	webhookEvents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Payment webhook deliveries by result.",
		},
		[]string{"result"},
	)
	reservationsExpired := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "reservations_expired_total",
			Help: "Held reservations released by the TTL sweeper.",
		},
	)
	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	prometheus.MustRegister(ordersCreated, paymentAttempts, webhookEvents, reservationsExpired, httpRequests, httpDuration)

	var (
		orderRepo       domorder.Repository
		reservationRepo domres.Repository
		stockRepo       domres.StockRepository
		paymentRepo     dompay.Repository
		webhookLedger   domhook.Ledger
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := postgres.Open(dsn)
		if err != nil {
			systemLogger.Fatal("postgres_open_failed", zap.Error(err))
		}
		defer db.Close()
		if err := postgres.Migrate(context.Background(), db); err != nil {
			systemLogger.Fatal("postgres_migrate_failed", zap.Error(err))
		}
		orderRepo = postgres.NewOrderRepository(db)
		reservationRepo = postgres.NewReservationRepository(db)
		stockRepo = postgres.NewStockRepository(db)
		paymentRepo = postgres.NewPaymentRepository(db)
		webhookLedger = postgres.NewWebhookLedger(db)
		systemLogger.Info("storage_ready", zap.String("backend", "postgres"))
	} else {
		orderRepo = memory.NewOrderRepository()
		reservationRepo = memory.NewReservationRepository()
		stockRepo = memory.NewStockRepository()
		paymentRepo = memory.NewPaymentRepository()
		webhookLedger = memory.NewWebhookLedger()
		systemLogger.Info("storage_ready", zap.String("backend", "memory"))
	}

	seedStock(context.Background(), stockRepo, os.Getenv("SEED_STOCK"), systemLogger)

	var paymentGateway dompay.Gateway
	if gatewayURL := os.Getenv("GATEWAY_URL"); gatewayURL != "" {
		paymentGateway = gateway.NewHTTPGateway(gatewayURL, os.Getenv("GATEWAY_API_KEY"), getenvDuration("GATEWAY_TIMEOUT", 10*time.Second))
		systemLogger.Info("payment_gateway_ready", zap.String("mode", "http"))
	} else {
		paymentGateway = gateway.NewMockGateway(getenvFloat("MOCK_DECLINE_RATE", 0))
		systemLogger.Info("payment_gateway_ready", zap.String("mode", "mock"))
	}

	webhookSecret := os.Getenv("WEBHOOK_SECRET")
	if webhookSecret == "" {
		systemLogger.Warn("webhook_secret_missing", zap.String("hint", "set WEBHOOK_SECRET; unsigned webhooks will be rejected"))
	}

	eventBus := bus.New(baseLogger)
	eventBus.Start(context.Background())
	defer eventBus.Stop()

	var notifier appNotification.Notifier
	if amqpURL := os.Getenv("AMQP_URL"); amqpURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(amqpURL, baseLogger)
		if err != nil {
			systemLogger.Fatal("amqp_connect_failed", zap.Error(err))
		}
		defer amqpNotifier.Close()
		notifier = amqpNotifier
		systemLogger.Info("notifier_ready", zap.String("mode", "amqp"))
	} else {
		notifier = notify.NewLogNotifier(baseLogger)
		systemLogger.Info("notifier_ready", zap.String("mode", "log"))
	}

	notificationWorker := appNotification.NewWorker(eventBus, notifier, baseLogger)
	notificationWorker.Start()

	locks := keylock.New()
	reservationTTL := getenvDuration("RESERVATION_TTL", appReservation.DefaultTTL)
	reservationManager := appReservation.NewManager(reservationRepo, stockRepo, reservationTTL)

	sweeper := appReservation.NewSweeper(
		reservationManager,
		locks,
		getenvDuration("SWEEP_INTERVAL", 30*time.Second),
		baseLogger,
		reservationsExpired,
	)
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	orderService := appOrder.NewService(
		orderRepo,
		paymentRepo,
		reservationManager,
		paymentGateway,
		appWebhook.NewVerifier(webhookSecret),
		webhookLedger,
		eventBus,
		locks,
		id.NewUUIDGenerator(),
		appOrder.Config{ChargeTimeout: getenvDuration("GATEWAY_TIMEOUT", 10*time.Second)},
		&appOrder.Metrics{
			OrdersCreated:   ordersCreated,
			PaymentAttempts: paymentAttempts,
			WebhookEvents:   webhookEvents,
		},
	)

	handler := httppresentation.NewHandler(orderService, baseLogger, httpRequests, httpDuration)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:    getenvDefault("ADDR", ":8080"),
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				zap.Error(err),
			)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}
}

// seedStock loads initial availability from SEED_STOCK, e.g.
// "bento-1=20,juice-3=50". Mostly for the in-memory backend in dev.
func seedStock(ctx context.Context, stock domres.StockRepository, spec string, logger *zap.Logger) {
	if spec == "" {
		return
	}
	for _, pair := range strings.Split(spec, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			logger.Warn("seed_stock_skipped", zap.String("entry", pair))
			continue
		}
		qty, err := strconv.Atoi(value)
		if err != nil || qty < 0 {
			logger.Warn("seed_stock_skipped", zap.String("entry", pair))
			continue
		}
		if err := stock.SetAvailable(ctx, key, qty); err != nil {
			logger.Error("seed_stock_failed", zap.String("menu_item_id", key), zap.Error(err))
		}
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			return f
		}
	}
	return def
}
