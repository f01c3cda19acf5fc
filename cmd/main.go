package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/go_cart/storefront/internal/broadcast"
	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/config"
	"github.com/fjod/go_cart/storefront/internal/coupon"
	h "github.com/fjod/go_cart/storefront/internal/httpapi"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/order"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/publisher"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Error("storefront stopped with error", zap.Error(err))
		os.Exit(1)
	}
	zl.Info("storefront exited")
}

// stores groups the repositories for the selected storage driver.
type stores struct {
	carts   r.CartRepository
	coupons r.CouponRepository
	orders  r.OrderRepository
	outbox  r.OutboxRepository
	catalog r.ProductCatalog
	closers []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			zap.L().Warn("failed to close store", zap.Error(err))
		}
	}
}

func openStores(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*stores, error) {
	s := &stores{}

	// the product catalog is always the embedded SQLite file
	catalog, err := r.NewCatalog(cfg.Storage.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	s.closers = append(s.closers, catalog.Close)
	if err := catalog.RunMigrations(cfg.Storage.SQLite.MigrationsDir); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to migrate catalog: %w", err)
	}
	s.catalog = catalog

	if cfg.Storage.Driver == config.DriverMemory {
		zl.Warn("using in-memory storage, data is lost on restart")
		mem := store.NewMemoryStore()
		s.carts, s.coupons, s.orders, s.outbox = mem, mem, mem, mem
		return s, nil
	}

	pg := cfg.Storage.Postgres
	cred := &r.Credentials{
		Host:              pg.Host,
		Port:              pg.Port,
		User:              pg.User,
		Password:          pg.Password,
		DBName:            pg.DBName,
		MigrationsDirPath: pg.MigrationsDir,
	}
	repo, err := r.NewRepository(cred)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	s.closers = append(s.closers, repo.Close)
	if err := repo.RunMigrations(cred); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	zl.Info("postgres ready", zap.String("host", pg.Host), zap.String("db", pg.DBName))

	db, err := r.ConnectMongoDB(ctx, cfg.Storage.Mongo.URI, cfg.Storage.Mongo.Database)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() error {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return db.Client().Disconnect(dctx)
	})
	mongoCarts := r.NewMongoCartRepository(db)
	if err := mongoCarts.CreateIndexes(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create cart indexes: %w", err)
	}
	zl.Info("mongodb ready", zap.String("database", cfg.Storage.Mongo.Database))

	s.carts, s.coupons, s.orders, s.outbox = mongoCarts, repo, repo, repo
	return s, nil
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func newGateway(cfg config.StripeConfig, zl *zap.Logger) payment.Gateway {
	if !cfg.Enabled() {
		zl.Warn("stripe secret key not set, only free orders can check out")
		return payment.DisabledGateway{}
	}
	stripeGateway := payment.NewStripeGateway(payment.StripeConfig{
		SecretKey:     cfg.SecretKey,
		WebhookSecret: cfg.WebhookSecret,
		SuccessURL:    cfg.SuccessURL,
		CancelURL:     cfg.CancelURL,
		SessionExpiry: cfg.SessionExpiry,
	}, nil, zl)
	return payment.NewResilientGateway(stripeGateway,
		payment.RetryConfig{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxBackoff:     cfg.MaxBackoff,
		},
		payment.BreakerConfig{
			ConsecutiveFailures: cfg.BreakerFailures,
			OpenTimeout:         cfg.BreakerOpenTimeout,
		}, zl)
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	st, err := openStores(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer st.Close()

	var (
		cartCache cache.CartCache        = cache.NoopCartCache{}
		processed cache.IdempotencyStore = &cache.MemoryIdempotencyStore{}
		rdb       *redis.Client
	)
	if cfg.Redis.Addr != "" {
		rdb, err = newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		cartCache = cache.NewRedisCartCache(rdb, cfg.Redis.CartTTL)
		processed = cache.NewRedisIdempotencyStore(rdb, "stripe-event:", cfg.Redis.IdempotencyTTL)
		zl.Info("redis ready", zap.String("addr", cfg.Redis.Addr))
	}

	var pub broadcast.Publisher
	switch cfg.Broadcast.Transport {
	case config.TransportRedis:
		pub = broadcast.NewRedisPublisher(rdb)
	case config.TransportKafka:
		w := publisher.NewKafkaWriter(cfg.Kafka.RealtimeTopic, cfg.Kafka.Brokers...)
		defer w.Close()
		pub = broadcast.NewKafkaPublisher(w)
	default:
		pub = broadcast.NewLogPublisher(zl)
	}
	broadcaster := broadcast.NewBroadcaster(pub, cfg.Broadcast.MaxAttempts, zl)

	validator := coupon.NewValidator(st.coupons)
	coupons := coupon.NewService(st.coupons, validator, coupon.GiftConfig{
		Threshold: cfg.Checkout.GiftThreshold,
		Percent:   decimal.NewFromInt(int64(cfg.Checkout.GiftPercent)),
		Validity:  cfg.Checkout.GiftValidity,
	}, zl)
	carts := cart.NewCartService(st.carts, st.catalog, cartCache, validator, cfg.Checkout.Currency, zl)
	machine := order.NewStatusMachine(st.orders, broadcaster, zl)
	gateway := newGateway(cfg.Stripe, zl)
	orch := checkout.NewOrchestrator(carts, validator, st.orders, gateway, machine, processed, coupons,
		checkout.Config{
			Currency:       cfg.Checkout.Currency,
			HoldTTL:        cfg.Checkout.HoldTTL,
			PaymentTimeout: cfg.Checkout.PaymentTimeout,
		}, zl)
	machine.OnTransition(orch.AfterPaid)

	timeout := cfg.Server.WriteTimeout
	router := h.NewRouter(h.Handlers{
		Products: h.NewProductHandler(st.catalog, timeout),
		Cart:     h.NewCartHandler(carts, timeout),
		Coupons:  h.NewCouponHandler(coupons, carts, timeout),
		Checkout: h.NewCheckoutHandler(orch, gateway, timeout),
		Orders:   h.NewOrdersHandler(st.orders, machine, timeout),
	}, h.RouterConfig{
		RequestTimeout: timeout,
		Verifier:       h.NewTokenVerifier(cfg.Auth.JWTSecret),
		Logger:         zl,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "storefront"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		zl.Info("storefront starting", zap.String("addr", srv.Addr), zap.String("storage", cfg.Storage.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		coupon.NewHoldSweeper(st.coupons, cfg.Checkout.SweepInterval, zl).Run(gctx)
		return nil
	})

	if len(cfg.Kafka.Brokers) > 0 {
		w := publisher.NewKafkaWriter(cfg.Kafka.OutboxTopic, cfg.Kafka.Brokers...)
		defer w.Close()
		poller := publisher.NewOutboxPoller(st.outbox, w, publisher.PollerConfig{
			Interval:    cfg.Outbox.Interval,
			BatchSize:   cfg.Outbox.BatchSize,
			MaxAttempts: cfg.Outbox.MaxAttempts,
		}, zl)
		g.Go(func() error {
			poller.Run(gctx)
			return nil
		})
	} else {
		zl.Info("no kafka brokers configured, outbox relay disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down server...")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
