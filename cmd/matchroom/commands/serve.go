package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oggyb/matchroom/internal/app"
	"github.com/oggyb/matchroom/internal/cache"
	"github.com/oggyb/matchroom/internal/config"
	"github.com/oggyb/matchroom/internal/db"
	"github.com/oggyb/matchroom/internal/logger"
	"github.com/oggyb/matchroom/internal/server"
	"github.com/oggyb/matchroom/internal/service/engine"
	"github.com/oggyb/matchroom/internal/service/presence"
	"github.com/oggyb/matchroom/internal/session"
)

// NewServeCmd creates the serve command.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine gRPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, config.New())
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	// Init logger (global singleton)
	logger.InitFromConfig(cfg)
	log := logger.L()

	// Init DB
	database, err := db.NewDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}

	// Init Redis (bus + teardown queue)
	redisCache := cache.NewRedisCache(cfg)
	defer redisCache.Close()
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	appCtx := app.New(cfg, database, redisCache, log)

	if cfg.App.ENV == "development" {
		if n, err := db.SeedDemoProfiles(ctx, database, cfg.Engine.DemoSeedCount); err != nil {
			log.Error("failed to seed", "err", err)
		} else {
			log.Info("demo profiles seeded", "count", n)
		}
	}

	deps := session.NewDeps(appCtx)
	sessions := session.NewManager(deps)
	stopListening := sessions.Listen(appCtx.Identity)
	defer stopListening()

	janitor := presence.NewJanitor(redisCache, deps.Presence.Members, log.With("component", "janitor"))
	go janitor.Run(ctx, cfg.Engine.DrainInterval)

	healthSrv := health.NewServer()
	registrars := []server.Registrar{
		engine.NewRegistrar(appCtx, sessions),
		server.RegistrarFunc(func(s *grpc.Server) { healthpb.RegisterHealthServer(s, healthSrv) }),
	}
	public := append([]string{healthpb.Health_Check_FullMethodName}, engine.PublicMethods...)
	srv := server.NewGRPCServer(server.Options{Verifier: appCtx.Verifier, Public: public, Log: log}, registrars...)

	lis, err := server.Listen(cfg)
	if err != nil {
		return err
	}
	log.Info("starting gRPC server", "addr", lis.Addr().String())

	serveErr := server.Serve(ctx, srv, lis, 5*time.Second)

	// best-effort teardown of every open session before exit
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.TeardownTimeout)
	defer cancel()
	healthSrv.Shutdown()
	sessions.CloseAll(shutdownCtx)

	log.Info("server stopped")
	return serveErr
}
