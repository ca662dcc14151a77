package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pribylovaa/taskboard-auth/internal/config"
	authhttp "github.com/pribylovaa/taskboard-auth/internal/http"
	"github.com/pribylovaa/taskboard-auth/internal/interceptors"
	"github.com/pribylovaa/taskboard-auth/internal/metrics"
	"github.com/pribylovaa/taskboard-auth/internal/password"
	logctx "github.com/pribylovaa/taskboard-auth/internal/pkg/log"
	"github.com/pribylovaa/taskboard-auth/internal/service"
	"github.com/pribylovaa/taskboard-auth/internal/storage"
	"github.com/pribylovaa/taskboard-auth/internal/storage/postgres"
	redisstore "github.com/pribylovaa/taskboard-auth/internal/storage/redis"
	"github.com/pribylovaa/taskboard-auth/internal/token"
)

// Константы для определения окружения.
const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.Parse()

	cfg := config.MustLoad(configPath)

	log := setupLogger(cfg.Env)
	slog.SetDefault(log)
	log.Info("starting auth-service", "env", cfg.Env, "storage", cfg.Storage.Driver)

	// Корневой контекст по сигналам.
	rootCtx, rootCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCancel()

	// Подключение к хранилищу c таймаутом.
	stCtx, stCancel := context.WithTimeout(rootCtx, 10*time.Second)
	str, err := openStorage(stCtx, cfg, log)
	stCancel()
	if err != nil {
		log.Error("storage_connect_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer str.Close()
	log.Info("storage_connected", slog.String("driver", cfg.Storage.Driver))

	// Коллекторы сервиса в реестре по умолчанию (его отдаёт promhttp.Handler).
	m := metrics.New(prometheus.DefaultRegisterer)

	srvc, err := newService(str, cfg.Auth, m)
	if err != nil {
		log.Error("service_init_failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("service_initialized")

	var ready int32 // 0 - not ready; 1 - ready

	apiHandler := authhttp.NewRouter(srvc, authhttp.Options{
		Logger:     log,
		Timeout:    cfg.Timeouts.Service,
		CORSOrigin: cfg.CORS.AllowedOrigins,
		Metrics:    m,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.LoadInt32(&ready) == 1 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", apiHandler)

	httpAddr := cfg.HTTP.Addr()
	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		log.Error("http_listen_failed", slog.String("addr", httpAddr), slog.String("err", err.Error()))
		os.Exit(1)
	}
	log.Info("http_listen_start", slog.String("addr", httpAddr))

	serveErrCh := make(chan error, 2)
	go func() {
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("http: %w", err)
		}
	}()

	// gRPC-сервер здоровья (опционально).
	var (
		grpcServer *grpc.Server
		hs         *health.Server
	)
	if cfg.GRPC.Enabled() {
		grpcServer, hs = newGRPCServer(cfg, log)

		grpcAddr := cfg.GRPC.Addr()
		grpcLn, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Error("grpc_listen_failed", slog.String("addr", grpcAddr), slog.String("err", err.Error()))
			_ = httpSrv.Close()
			os.Exit(1)
		}
		log.Info("grpc_listen_start", slog.String("addr", grpcAddr))

		go func() {
			if err := grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				serveErrCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	// Фоновая очистка просроченных refresh-токенов.
	if cfg.Auth.JanitorPeriod > 0 {
		go srvc.RunJanitor(logctx.Into(rootCtx, log.With(slog.String("component", "janitor"))), cfg.Auth.JanitorPeriod)
		log.Info("refresh_janitor_started", slog.Duration("period", cfg.Auth.JanitorPeriod))
	}

	// Сервис готов: health -> SERVING и readiness=1.
	if hs != nil {
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}
	atomic.StoreInt32(&ready, 1)
	log.Info("service_ready")

	// Ожидание сигнала завершения или фатальной ошибки сервера.
	select {
	case <-rootCtx.Done():
		log.Info("shutdown_requested")
	case err := <-serveErrCh:
		log.Error("serve_failed", slog.String("err", err.Error()))
	}

	// Переводим в NOT_SERVING и снимаем ready.
	if hs != nil {
		hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	}
	atomic.StoreInt32(&ready, 0)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http_shutdown_incomplete", slog.String("err", err.Error()))
	} else {
		log.Info("http_stopped")
	}

	if grpcServer != nil {
		stopGRPC(shutdownCtx, grpcServer, log)
	}

	log.Info("service_stopped")
}

// openStorage подключает выбранное хранилище; для postgres при необходимости
// применяет миграции до открытия пула.
func openStorage(ctx context.Context, cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		if cfg.DB.MigrateOnStart {
			if err := postgres.Migrate(cfg.DB.DatabaseURL, postgres.DirectionUp); err != nil {
				return nil, err
			}
			log.Info("migrations_applied")
		}

		return postgres.New(ctx, cfg.DB.DatabaseURL)
	case config.DriverRedis:
		return redisstore.New(ctx, cfg.Redis.RedisURL, cfg.Redis.Prefix)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// newService собирает кодеки, хэшер паролей и сервис сессий.
func newService(st storage.Storage, cfg config.AuthConfig, rec service.Recorder) (*service.Service, error) {
	access, err := token.New(cfg.JWTSecret, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("access codec: %w", err)
	}

	refresh, err := token.New(cfg.RefreshSecret(), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("refresh codec: %w", err)
	}

	hasher, err := password.New(cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("password hasher: %w", err)
	}

	return service.New(st, access, refresh, hasher, cfg, service.WithRecorder(rec)), nil
}

// newGRPCServer создаёт gRPC-сервер только с сервисом здоровья.
func newGRPCServer(cfg *config.Config, log *slog.Logger) (*grpc.Server, *health.Server) {
	grpc_prometheus.EnableHandlingTimeHistogram()

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			interceptors.Recover(log),
			interceptors.Logging(log),
			interceptors.WithTimeout(cfg.Timeouts.Service),
			grpc_prometheus.UnaryServerInterceptor,
		),
		grpc.ChainStreamInterceptor(
			grpc_prometheus.StreamServerInterceptor,
		),
	)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	// Рефлексия - только в local/dev.
	if cfg.Env == envLocal || cfg.Env == envDev {
		reflection.Register(srv)
	}

	grpc_prometheus.Register(srv)

	return srv, hs
}

// stopGRPC останавливает сервер gracefully, а по истечении ctx принудительно.
func stopGRPC(ctx context.Context, srv *grpc.Server, log *slog.Logger) {
	done := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Info("grpc_stopped")
	case <-ctx.Done():
		log.Warn("grpc_force_stop")
		srv.Stop()
	}
}

// setupLogger настраивает slog по окружению.
func setupLogger(env string) *slog.Logger {
	switch env {
	case envLocal:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envDev:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	case envProd:
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}
