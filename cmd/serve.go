package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/gutche/yappin/config"
	"github.com/gutche/yappin/logger"
	"github.com/gutche/yappin/middleware/security"
	"github.com/gutche/yappin/service/bus"
	"github.com/gutche/yappin/service/durable"
	"github.com/gutche/yappin/service/gateway"
	"github.com/gutche/yappin/service/storage"
	"github.com/gutche/yappin/tools/ids"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run one gateway worker",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ids.SetNodeName(cfg.GatewayID)
	logger.Infof("starting worker gateway=%s addr=%s local=%v", cfg.GatewayID, cfg.ListenAddr, cfg.LocalMode)

	ctx := context.Background()

	pg, err := durable.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer pg.Close()

	var (
		presence storage.PresenceDirectory
		sessions storage.SessionStore
		cache    storage.MessageCache
	)
	if cfg.LocalMode {
		presence = storage.NewMemoryPresence()
		sessions = storage.NewMemorySessions()
		cache = storage.NewMemoryMessageCache()
	} else {
		rdb, err := storage.NewClient(storage.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		presence = storage.NewRedisPresence(rdb)
		sessions = storage.NewRedisSessions(rdb, cfg.SessionTTL)
		cache = storage.NewRedisMessageCache(rdb)
	}

	auth := security.NewJWTAuthenticator([]byte(cfg.JWTSecret))

	srv := gateway.NewServer(gateway.Options{
		GatewayID:    cfg.GatewayID,
		StoreTimeout: cfg.StoreTimeout,
	}, presence, sessions, cache, pg, pg, auth)

	var eventBus bus.Bus
	if cfg.LocalMode {
		eventBus = bus.NewLocalBus(srv.Deliver, srv.LocalConnCount)
	} else {
		eventBus, err = bus.NewNATSBus(bus.NATSConfig{
			Servers: cfg.NatsServers,
			Name:    "yappin-" + cfg.GatewayID,
		}, srv.Deliver, srv.LocalConnCount)
		if err != nil {
			return err
		}
	}
	defer func() { _ = eventBus.Close() }()
	srv.AttachBus(eventBus)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	srv.Register(engine)

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: engine}
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Infof("listening on %s", cfg.ListenAddr)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	srv.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
