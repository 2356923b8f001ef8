// Package app wires the storefront service together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
	"github.com/xenking/storefront/internal/domain/checkout"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/pricing"
	"github.com/xenking/storefront/internal/events"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/provider/stripe"
	"github.com/xenking/storefront/internal/provider/telebirr"
	"github.com/xenking/storefront/internal/storage/postgres"
	"github.com/xenking/storefront/internal/storage/redis"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// Service is the fully wired storefront: its HTTP handler plus the
// resources Close releases.
type Service struct {
	Handler http.Handler
	Health  *health.Health

	closers []func()
}

// Close stops health probes and releases connections in reverse order of
// acquisition.
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// New creates every dependency and the HTTP handler chain. Background work
// (health probes, limiter eviction) stops with ctx or Close.
func New(ctx context.Context, lg *zap.Logger, tp trace.TracerProvider, mp metric.MeterProvider, cfg *Config) (_ *Service, rerr error) {
	s := &Service{}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()

	// PostgreSQL pool + migrations.
	if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	s.closers = append(s.closers, pool.Close)

	// Redis cart store.
	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	rdb := goredis.NewClient(redisOpts)
	s.closers = append(s.closers, func() { _ = rdb.Close() })
	carts := redis.NewCartStore(rdb, cfg.CartTTL)

	healthSvc := health.New(cfg.Debug)
	healthSvc.Add(health.Check{Name: "postgres", Kind: health.Readiness, Timeout: 5 * time.Second, Func: health.PingCheck(pool)})
	healthSvc.Add(health.Check{Name: "redis", Kind: health.Readiness, Timeout: 2 * time.Second, Func: health.PingCheck(carts)})
	healthSvc.Add(health.Check{Name: "goroutines", Kind: health.Liveness, Func: health.GoroutineCountCheck(10000)})
	healthSvc.Start(ctx, 10*time.Second)
	s.closers = append(s.closers, healthSvc.Stop)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	pendingRepo := postgres.NewPendingRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain events.
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		s.closers = append(s.closers, func() {
			if err := kp.Close(); err != nil {
				lg.Warn("Close kafka publisher", zap.Error(err))
			}
		})
		publisher = kp
		lg.Info("Publishing events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Payment providers.
	providerHTTP := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	card := stripe.New(stripe.NewClient(cfg.Stripe.SecretKey, cfg.Stripe.BaseURL, providerHTTP), cfg.Stripe.WebhookSecret)

	var (
		mobile  checkout.MobileMoneyProvider
		settler handler.MobileSettler
	)
	if cfg.Mobile.Simulate {
		sim := telebirr.NewSimulator()
		mobile, settler = sim, sim
		lg.Warn("Mobile-money provider is simulated")
	} else {
		mobile = telebirr.New(cfg.Mobile.BaseURL, cfg.Mobile.Token, providerHTTP)
	}

	// Checkout domain.
	threshold, err := cfg.RewardThreshold()
	if err != nil {
		return nil, err
	}
	percentage, err := cfg.RewardPercentage()
	if err != nil {
		return nil, err
	}
	policy := coupon.DefaultPolicy()
	policy.Percentage = percentage
	policy.Validity = time.Duration(cfg.Reward.ValidityDays) * 24 * time.Hour
	ledger := coupon.NewLedger(couponRepo, policy)

	deps := checkout.Deps{
		Products:       productRepo,
		Coupons:        ledger,
		Orders:         orderRepo,
		Pending:        pendingRepo,
		Carts:          carts,
		Card:           card,
		Mobile:         mobile,
		Events:         publisher,
		Signer:         checkout.NewSigner([]byte(cfg.SnapshotSecret)),
		References:     checkout.NewReferenceGenerator("TEL", 0),
		TracerProvider: tp,
		MeterProvider:  mp,
	}
	checkoutCfg := checkout.Config{
		Currency:        cfg.Currency,
		ClientOrigin:    cfg.ClientOrigin,
		MerchantPhone:   cfg.Mobile.MerchantPhone,
		RewardThreshold: pricing.FromDecimal(threshold),
		ProviderTimeout: cfg.Timeouts.Provider,
		StoreTimeout:    cfg.Timeouts.Store,
	}
	initiator, err := checkout.NewInitiator(deps, checkoutCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create initiator")
	}
	reconciler, err := checkout.NewReconciler(deps, checkoutCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create reconciler")
	}

	// HTTP handlers.
	h := handler.NewHandler(handler.Config{
		ImageBaseURL: cfg.ImageBaseURL,
		APIKeyPepper: []byte(cfg.APIKeyPepper),
		Debug:        cfg.Debug,
	}, handler.Deps{
		Products:    productRepo,
		Carts:       carts,
		Coupons:     ledger,
		Orders:      orderRepo,
		Initiator:   initiator,
		Reconciler:  reconciler,
		CardWebhook: card,
		APIKeys:     apikeyRepo,
		Tokens:      auth.NewTokens([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL),
		Settler:     settler,
	})

	router := h.Router(
		httpmiddleware.Instrument("storefront", tp, mp),
		httpmiddleware.LogRequests(),
	)
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)

	s.Health = healthSvc
	s.Handler = httpmiddleware.Wrap(router,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORS.Origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "api_key", "X-API-Key", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
	)
	return s, nil
}

// Run builds the service, serves HTTP, and handles graceful shutdown. It is
// the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	svc, err := New(ctx, lg, m.TracerProvider(), m.MeterProvider(), cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	healthSvc := svc.Health

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.Handler,
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
