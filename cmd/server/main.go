// Command p2p-server runs the directory server peers register with.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/and161185/p2p-share/internal/config"
	"github.com/and161185/p2p-share/internal/limiter"
	"github.com/and161185/p2p-share/internal/localfs"
	"github.com/and161185/p2p-share/internal/migrate"
	"github.com/and161185/p2p-share/internal/repository"
	"github.com/and161185/p2p-share/internal/repository/flatfile"
	"github.com/and161185/p2p-share/internal/repository/postgres"
	"github.com/and161185/p2p-share/internal/server/directory"
	grpcserver "github.com/and161185/p2p-share/internal/server/grpc"
	"github.com/and161185/p2p-share/internal/service"
	"github.com/and161185/p2p-share/internal/store"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, opens the tables, and serves until SIGINT/SIGTERM.
func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		_, _ = os.Stderr.WriteString("load .env: " + err.Error() + "\n")
		os.Exit(2)
	}
	cfg, err := config.LoadServer(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Server, logger *zap.Logger) error {
	users, files, lim, closeDB, err := openTables(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	signer := service.NewTokenSigner([]byte(cfg.TokenKey), cfg.SessionTTL)
	st, err := store.New(ctx, users, files, logger,
		store.WithSessionTTL(cfg.SessionTTL),
		store.WithTokenFunc(signer.Issue),
	)
	if err != nil {
		return err
	}

	authSvc := service.NewAuthService(st, signer, lim, logger)
	fileSvc := service.NewFileService(st, logger)
	srv := directory.New(authSvc, fileSvc, st, logger, cfg.IdleTimeout)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return err
	}
	logger.Info("listening", zap.String("addr", ln.Addr().String()))

	var health *grpcserver.Health
	var hln net.Listener
	if cfg.HealthAddr != "" {
		if hln, err = net.Listen("tcp", cfg.HealthAddr); err != nil {
			_ = ln.Close()
			return err
		}
		health = grpcserver.NewHealth(logger)
	}

	g, gctx := errgroup.WithContext(ctx)
	serve := func() error { return srv.Serve(gctx, ln) }
	if health == nil {
		g.Go(serve)
		return g.Wait()
	}
	g.Go(func() error { return health.Track(serve) })
	g.Go(func() error { return health.Serve(gctx, hln) })
	return g.Wait()
}

// openTables picks PostgreSQL when a DSN is configured and flat files otherwise.
func openTables(ctx context.Context, cfg *config.Server, logger *zap.Logger) (repository.UserTable, repository.FileTable, limiter.Limiter, func(), error) {
	if cfg.DSN != "" {
		if err := migrate.Up(ctx, cfg.DSN); err != nil {
			return nil, nil, nil, nil, err
		}
		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		lim := limiter.NewPG(db.Pool, cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlockFor)
		logger.Info("using postgres tables")
		return postgres.NewUsers(db), postgres.NewFiles(db), lim, db.Close, nil
	}

	if _, err := localfs.EnsureDir(cfg.DataDir); err != nil {
		return nil, nil, nil, nil, err
	}
	logger.Info("using flat-file tables",
		zap.String("users", cfg.UsersPath()),
		zap.String("files", cfg.FilesPath()),
	)
	lim := limiter.NewMemory(cfg.LoginWindow, cfg.LoginMaxFails, cfg.LoginBlockFor)
	return flatfile.NewUsers(cfg.UsersPath(), logger), flatfile.NewFiles(cfg.FilesPath(), logger), lim, func() {}, nil
}
