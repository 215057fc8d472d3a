// Command tokenguard-server starts the authentication HTTP API and the gRPC
// health endpoint, and runs the hourly sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/tokenguard/internal/authn"
	"github.com/and161185/tokenguard/internal/config"
	"github.com/and161185/tokenguard/internal/limiter"
	"github.com/and161185/tokenguard/internal/migrate"
	"github.com/and161185/tokenguard/internal/repository/postgres"
	"github.com/and161185/tokenguard/internal/revocation"
	grpcserver "github.com/and161185/tokenguard/internal/server/grpc"
	httpserver "github.com/and161185/tokenguard/internal/server/http"
	"github.com/and161185/tokenguard/internal/service"
	"github.com/and161185/tokenguard/internal/sweeper"
	"github.com/and161185/tokenguard/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfgPath := flag.String("config", "", "path to YAML config (falls back to CONFIG_PATH)")
	dev := flag.Bool("dev", false, "enable gRPC server reflection (dev only)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		// no logger yet
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(cfg.Env)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("env", cfg.Env),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("grpc", cfg.GRPC.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DB.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer db.Close()

	principals := postgres.NewPrincipalRepo(db)
	sessionRepo := postgres.NewSessionRepo(db)
	pendingRepo := postgres.NewPendingRepo(db)

	store, closeStore, err := newRevocationStore(ctx, cfg, db)
	if err != nil {
		logger.Fatal("revocation store", zap.Error(err))
	}
	defer closeStore()

	codec, err := token.NewCodec(cfg.Secret(), cfg.AccessTTL(), token.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		logger.Fatal("token codec", zap.Error(err))
	}
	lim := limiter.NewPG(db.Pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)

	regs := service.NewRegistrations(pendingRepo, cfg.Auth.RegistrationTTL)
	sessions := service.NewSessions(sessionRepo, store, logger)
	authSvc := service.NewAuthService(service.Deps{
		Principals:    principals,
		Registrations: regs,
		Sessions:      sessions,
		Codec:         codec,
		Revoked:       store,
		Limiter:       lim,
		Sender:        service.LogSender{Log: logger},
		Issuer:        cfg.Auth.Issuer,
		Log:           logger,
	})
	pipeline := authn.New(codec, store, principals)

	sw := sweeper.New(logger,
		sweeper.Job{Name: "pending", Run: regs.DeleteExpired},
		sweeper.Job{Name: "revocations", Run: store.Prune},
		sweeper.Job{Name: "limiter", Run: lim.Prune},
	)

	// HTTP
	httpSrv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpserver.NewRouter(httpserver.Options{
			Logger:      logger,
			Auth:        pipeline,
			Service:     authSvc,
			PublicPaths: cfg.Auth.PublicPaths,
			Ready:       db.Ping,
			Sweep:       sw.RunOnce,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// gRPC: health and reflection behind the same interceptors
	var opts []grpc.ServerOption
	if cfg.GRPC.CertFile != "" && cfg.GRPC.KeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.GRPC.CertFile, cfg.GRPC.KeyFile)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	}
	grpc_prometheus.EnableHandlingTimeHistogram()
	opts = append(opts, grpc.ChainUnaryInterceptor(
		grpcserver.RecoverUnary(logger),
		grpc_prometheus.UnaryServerInterceptor,
		grpcserver.AuthUnary(pipeline, grpcserver.DefaultPublicMethods, logger),
		grpcserver.LoggingUnary(logger),
	))
	grpcSrv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	if *dev {
		reflection.Register(grpcSrv)
	}
	grpc_prometheus.Register(grpcSrv)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr))
		if err := grpcSrv.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		sw.Run(sweepCtx)
		close(sweepDone)
	}()

	exit := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exit = 1
	}

	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		grpcSrv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		grpcSrv.Stop()
	}

	stopSweep()
	<-sweepDone

	logger.Info("shutdown complete")
	if exit != 0 {
		_ = logger.Sync()
		os.Exit(exit)
	}
}

func newLogger(env string) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if env == "local" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// newRevocationStore selects the backend named in config.
func newRevocationStore(ctx context.Context, cfg *config.Config, db *postgres.DB) (revocation.Store, func(), error) {
	if cfg.Revocation.Backend == config.BackendRedis {
		r, err := revocation.NewRedisFromURL(ctx, cfg.Revocation.RedisURL, cfg.Revocation.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	}
	return revocation.NewPostgres(db.Pool), func() {}, nil
}
