package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/eishaa-e/flowboard/api"
	"github.com/eishaa-e/flowboard/storage"
)

func main() {
	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func openBackend(ctx context.Context, cfg config) (storage.Backend, error) {
	if cfg.Driver == driverSQLite {
		return storage.OpenSQLite(cfg.SQLitePath)
	}
	if cfg.Provision {
		if err := storage.Provision(ctx, cfg.ConnStr, cfg.Tables, cfg.EventsQueue); err != nil {
			return nil, err
		}
	}
	return storage.NewTables(cfg.ConnStr, cfg.Tables)
}

func run(ctx context.Context, cfg config, logger *log.Logger) error {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	var rc *redis.Client
	if cfg.RedisConn != "" {
		rc = redis.NewClient(redisOptions(cfg.RedisConn))
		defer rc.Close()
	}

	var store api.Storage = backend
	var deduper api.Deduper
	var fanout api.Fanout
	broker := api.NewBroker()
	if rc != nil {
		store = storage.NewCache(backend, rc, cfg.CacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		fanout = append(fanout, storage.NewNotifier(rc, cfg.UpdatesChannel))
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set, caching and reorder deduplication disabled")
		fanout = append(fanout, broker)
	}
	if cfg.EventsQueue != "" {
		queue, err := storage.NewQueue(cfg.ConnStr, cfg.EventsQueue, cfg.QueueConcurrency)
		if err != nil {
			return err
		}
		fanout = append(fanout, queue)
	}
	sender := api.NewEventSender(fanout, logger, cfg.Sender)
	defer sender.Close()

	authCfg := api.AuthConfig{
		Secret:      []byte(cfg.SessionSecret),
		SessionTTL:  cfg.SessionTTL,
		Audience:    cfg.Audience,
		Issuer:      cfg.Issuer,
		KeyCacheTTL: cfg.JWKSCacheTTL,
	}
	if cfg.JWKSURL != "" {
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			Ctx:             ctx,
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				logger.WithError(err).Error("jwks refresh failed")
			},
			RefreshUnknownKID: true,
		})
		if err != nil {
			return err
		}
		defer jwks.EndBackground()
		authCfg.JWKS = jwks
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding, "Idempotency-Key"},
	}))
	api.Register(e, api.Config{
		Store:         store,
		Auth:          api.NewAuth(authCfg),
		Deduper:       deduper,
		Events:        sender,
		Broker:        broker,
		Logger:        logger,
		SessionTTL:    cfg.SessionTTL,
		SecureCookies: cfg.SecureCookies,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "driver": cfg.Driver}).Info("listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return e.Shutdown(shutdownCtx)
	})
	if rc != nil {
		g.Go(func() error {
			storage.SubscribeUpdates(gctx, logger, rc, cfg.UpdatesChannel, broker.HandleUpdate)
			return nil
		})
	}
	return g.Wait()
}
