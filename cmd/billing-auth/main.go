package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pribylovaa/go-billing-auth/internal/config"
	"github.com/pribylovaa/go-billing-auth/internal/hasher"
	"github.com/pribylovaa/go-billing-auth/internal/interceptors"
	"github.com/pribylovaa/go-billing-auth/internal/limiter"
	"github.com/pribylovaa/go-billing-auth/internal/metrics"
	"github.com/pribylovaa/go-billing-auth/internal/notify"
	"github.com/pribylovaa/go-billing-auth/internal/service"
	"github.com/pribylovaa/go-billing-auth/internal/storage/postgres"
	"github.com/pribylovaa/go-billing-auth/internal/token"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	// .env необязателен: отсутствие файла не ошибка.
	_ = godotenv.Load()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting application", slog.String("env", cfg.Env))

	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	fail := func(event string, err error) {
		log.Error(event, slog.String("err", err.Error()))
		rootCancel()
		os.Exit(1)
	}

	// Подключение к БД c таймаутом.
	dbCtx, dbCancel := context.WithTimeout(rootCtx, 10*time.Second)
	str, err := postgres.New(dbCtx, cfg.DB.DatabaseURL)
	dbCancel()
	if err != nil {
		fail("postgres_connect_failed", err)
	}
	log.Info("postgres_connected")

	if cfg.DB.AutoMigrate {
		if err := str.Migrate(rootCtx); err != nil {
			str.Close()
			fail("migrations_failed", err)
		}
		log.Info("migrations_applied")
	}

	reg := prometheus.DefaultRegisterer
	m := metrics.New(reg)

	h, err := hasher.New(cfg.Hasher)
	if err != nil {
		str.Close()
		fail("hasher_init_failed", err)
	}

	codec, err := token.New(cfg.Auth)
	if err != nil {
		str.Close()
		fail("token_codec_init_failed", err)
	}

	dispatcher := notify.NewDispatcher(notify.LogSender{Logger: log}, cfg.Notify,
		notify.WithLogger(log),
		notify.WithMetrics(m),
	)
	// Воркеры живут дольше rootCtx, чтобы Close успел доставить очередь.
	notifyCtx, notifyCancel := context.WithCancel(context.Background())
	dispatcher.Run(notifyCtx)

	opts := []service.Option{service.WithMetrics(m)}
	if cfg.Redis.RedisURL != "" {
		rdbCtx, rdbCancel := context.WithTimeout(rootCtx, 5*time.Second)
		rdb, err := limiter.NewClient(rdbCtx, cfg.Redis.RedisURL)
		rdbCancel()
		if err != nil {
			str.Close()
			fail("redis_connect_failed", err)
		}
		defer rdb.Close()

		opts = append(opts, service.WithLimiter(
			limiter.NewRedis(rdb, cfg.Redis.Prefix+"login:", cfg.Limits.LoginAttempts, cfg.Limits.LoginWindow),
			limiter.NewRedis(rdb, cfg.Redis.Prefix+"forgot:", 1, cfg.Limits.ForgotCooldown),
		))
		log.Info("redis_limiter_enabled")
	}

	srvc := service.New(str, h, codec, dispatcher, cfg.Auth, opts...)

	if err := srvc.SeedPlans(rootCtx); err != nil {
		str.Close()
		fail("seed_plans_failed", err)
	}
	log.Info("service_initialized")

	var ready atomic.Bool

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := str.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.Handler(prometheus.DefaultGatherer))

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("http_listen_start", slog.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_serve_failed", slog.String("err", err.Error()))
		}
	}()

	grpc_prometheus.EnableHandlingTimeHistogram()

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.UnaryLoggingInterceptor(log),
			interceptors.Recover(log),
			interceptors.ErrorMapping(),
			interceptors.WithTimeout(cfg.Timeouts.Service),
			grpc_prometheus.UnaryServerInterceptor,
		),
		grpc.ChainStreamInterceptor(
			grpc_prometheus.StreamServerInterceptor,
		),
	)

	// Прикладные gRPC-хендлеры регистрирует внешний слой поверх srvc, здесь только health и служебные интерсепторы.
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	if cfg.Env == envLocal || cfg.Env == envDev {
		reflection.Register(grpcServer)
	}

	startLedgerJanitor(rootCtx, srvc, log, cfg.Janitor.Period)

	grpcAddr := cfg.GRPC.Addr()
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		str.Close()
		fail("grpc_listen_failed", err)
	}
	log.Info("grpc_listen_start", slog.String("addr", grpcAddr))

	grpc_prometheus.Register(grpcServer)

	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	ready.Store(true)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			serveErrCh <- err
		}
		close(serveErrCh)
	}()

	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		if err != nil {
			log.Error("grpc_serve_failed", slog.String("err", err.Error()))
		}
	}

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc_stopped")
	case <-shutdownCtx.Done():
		log.Warn("grpc_force_stop")
		grpcServer.Stop()
	}

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_failed", slog.String("err", err.Error()))
	}

	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn("notify_drain_incomplete", slog.String("err", err.Error()))
	}
	notifyCancel()

	rootCancel()
	str.Close()

	log.Info("service_stopped")
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	switch env {
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// startLedgerJanitor периодически публикует срез реестра refresh-токенов в метрики.
// Записи реестра не удаляются: отозванные нужны для распознавания повторного обмена.
func startLedgerJanitor(ctx context.Context, srvc *service.Service, log *slog.Logger, period time.Duration) {
	if period <= 0 {
		return
	}

	go func() {
		t := time.NewTicker(period)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				stats, err := srvc.LedgerStats(ctx)
				if err != nil {
					log.Error("ledger_stats_failed", slog.String("err", err.Error()))
					continue
				}
				log.Debug("ledger_stats",
					slog.Int64("active", stats.Active),
					slog.Int64("revoked", stats.Revoked),
					slog.Int64("expired", stats.Expired),
				)
			}
		}
	}()
}
