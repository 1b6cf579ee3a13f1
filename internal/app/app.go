package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/cache"
	"github.com/Freeeeeet/frontdesk/internal/config"
	"github.com/Freeeeeet/frontdesk/internal/controller/httpapi"
	"github.com/Freeeeeet/frontdesk/internal/metrics"
	"github.com/Freeeeeet/frontdesk/internal/notify"
	"github.com/Freeeeeet/frontdesk/internal/paypal"
	"github.com/Freeeeeet/frontdesk/internal/repository"
	"github.com/Freeeeeet/frontdesk/internal/repository/base"
	"github.com/Freeeeeet/frontdesk/internal/service"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// App собирает движок записи со всеми зависимостями
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	pool     *pgxpool.Pool
	redis    *redis.Client
	registry *prometheus.Registry

	Calendar      *service.SlotCalendar
	Machine       *service.StatusMachine
	Bookings      *service.BookingService
	Cancellations *service.CancellationService
	Payments      *service.PaymentService
	Sweeper       *service.LapseSweeper
	Deliverer     *notify.Deliverer // nil без TELEGRAM_TOKEN
}

// New подключается к хранилищам и собирает сервисы.
// Redis, PayPal и Telegram опциональны: без них движок работает с урезанными возможностями.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := OpenPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		pool:     pool,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engineMetrics := metrics.NewEngineMetrics(a.registry)

	directory := repository.NewDirectoryRepository(pool)
	appointments := repository.NewAppointmentRepository(pool)
	payments := repository.NewPaymentRepository(pool)
	transitions := repository.NewTransitionRepository(pool)
	cancellations := repository.NewCancellationRepository(pool)
	tx := base.NewTxManager(pool, logger)

	// nil интерфейс, а не nil указатель: календарь проверяет cache != nil
	var slotCache service.SlotCache
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		sc := cache.NewSlotCache(client, cfg.SlotCacheTTL)
		if err := sc.Ping(ctx); err != nil {
			logger.Warn("Redis unavailable, slot cache disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = client.Close()
		} else {
			a.redis = client
			slotCache = sc
		}
	}

	var processor service.PaymentProcessor
	if cfg.PayPalEnabled() {
		processor = paypal.NewClient(paypal.Config{
			BaseURL:      cfg.PayPalBaseURL,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			ReturnURL:    cfg.PayPalReturnURL,
			CancelURL:    cfg.PayPalCancelURL,
		}, logger)
	} else {
		logger.Info("PayPal credentials not set, external payments disabled")
	}

	policy := cfg.Policy
	a.Calendar = service.NewSlotCalendar(directory, appointments, slotCache, engineMetrics, policy, logger)
	a.Machine = service.NewStatusMachine(tx, appointments, transitions, engineMetrics, logger)
	a.Bookings = service.NewBookingService(tx, directory, appointments, payments, transitions, cancellations,
		a.Calendar, a.Machine, engineMetrics, policy, cfg.Currency, logger)
	a.Cancellations = service.NewCancellationService(tx, appointments, payments, cancellations,
		a.Calendar, a.Machine, engineMetrics, policy, logger)
	a.Payments = service.NewPaymentService(tx, appointments, payments, a.Machine, processor, engineMetrics, logger)
	a.Sweeper = service.NewLapseSweeper(tx, appointments, payments, a.Calendar, a.Machine, engineMetrics, policy, logger)

	if cfg.TelegramToken != "" {
		b, err := notify.NewTelegramBot(cfg.TelegramToken)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		a.Deliverer = notify.NewDeliverer(transitions, notify.NewTelegramNotifier(b, cfg.TelegramChatID), engineMetrics, logger)
	}

	return a, nil
}

// OpenPool создаёт пул соединений и проверяет доступность базы
func OpenPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("parse db dsn: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns > 0 {
		poolCfg.MinConns = cfg.DBMinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create db pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// Pool отдаёт пул для миграций
func (a *App) Pool() *pgxpool.Pool {
	return a.pool
}

func (a *App) Router() http.Handler {
	handler := httpapi.NewHandler(a.Calendar, a.Bookings, a.Cancellations, a.Machine, a.Payments, a.logger)
	return httpapi.NewRouter(httpapi.RouterConfig{
		Handler:        handler,
		JWTSecret:      a.cfg.JWTSecret,
		MetricsHandler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
		HealthCheck:    a.pool.Ping,
		Logger:         a.logger,
	})
}

// Serve запускает HTTP-сервер и планировщик до отмены ctx, затем корректно останавливает их
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required to serve the API")
	}

	if a.cfg.MigrateOnStart {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}

	scheduler := NewScheduler(a.Sweeper, a.deliverer(), a.cfg.SweepInterval, a.logger)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

// deliverer убирает typed nil, чтобы планировщик видел отключённые уведомления
func (a *App) deliverer() NotificationDeliverer {
	if a.Deliverer == nil {
		return nil
	}
	return a.Deliverer
}

func (a *App) Migrate(ctx context.Context) error {
	migrator, err := NewMigrator(a.pool, a.logger)
	if err != nil {
		return err
	}
	defer migrator.Close()
	return migrator.Up(ctx)
}

// SweepOnce прогоняет sweep и доставку уведомлений один раз, для cron
func (a *App) SweepOnce(ctx context.Context) (service.SweepResult, error) {
	result, err := a.Sweeper.AdvanceLapsed(ctx)
	if err != nil {
		return result, fmt.Errorf("advance lapsed appointments: %w", err)
	}
	if a.Deliverer != nil {
		if _, err := a.Deliverer.DeliverPending(ctx); err != nil {
			a.logger.Warn("Notification delivery interrupted", zap.Error(err))
		}
	}
	return result, nil
}

func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Close redis", zap.Error(err))
		}
	}
	a.pool.Close()
}
