package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	apiv1 "github.com/beam-cloud/mailsync/pkg/api/v1"
	"github.com/beam-cloud/mailsync/pkg/auth"
	"github.com/beam-cloud/mailsync/pkg/common"
	"github.com/beam-cloud/mailsync/pkg/oauth"
	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/beam-cloud/mailsync/pkg/types"
)

type Gateway struct {
	Config      types.AppConfig
	RedisClient *common.RedisClient
	BackendRepo repository.BackendRepository
	Services    *Services
	httpServer  *http.Server
	echo        *echo.Echo
	ctx         context.Context
	cancelFunc  context.CancelFunc

	baseRouteGroup *echo.Group
	rootRouteGroup *echo.Group

	oauthStore *oauth.Store
	validator  auth.TokenValidator
}

// ConfigureLogging applies the prettyLogs setting to the global logger
func ConfigureLogging(config types.AppConfig) {
	if config.PrettyLogs {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
}

func NewGateway() (*Gateway, error) {
	configManager, err := common.NewConfigManager[types.AppConfig]()
	if err != nil {
		return nil, err
	}
	config := configManager.GetConfig()
	ConfigureLogging(config)

	ctx, cancel := context.WithCancel(context.Background())
	gateway := &Gateway{
		Config:     config,
		ctx:        ctx,
		cancelFunc: cancel,
		oauthStore: oauth.NewStore(config.OAuth.SessionTTL),
	}

	if err := gateway.initBackends(); err != nil {
		cancel()
		gateway.oauthStore.Stop()
		return nil, err
	}

	gateway.validator, err = newValidator(config)
	if err != nil {
		cancel()
		gateway.oauthStore.Stop()
		return nil, err
	}

	gateway.Services, err = NewServices(config, gateway.BackendRepo, gateway.RedisClient)
	if err != nil {
		cancel()
		gateway.oauthStore.Stop()
		return nil, err
	}

	return gateway, nil
}

// OpenBackends connects to Redis and Postgres, or returns the in-memory
// repository in local mode
func OpenBackends(config types.AppConfig, clientName string) (repository.BackendRepository, *common.RedisClient, error) {
	if config.IsLocalMode() {
		log.Info().Msg("running in local mode - Redis and Postgres disabled")
		return repository.NewMemoryBackend(), nil, nil
	}

	redisClient, err := common.NewRedisClient(config.Database.Redis, common.WithClientName(clientName))
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	backendRepo, err := repository.NewPostgresBackend(config.Database.Postgres)
	if err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	return backendRepo, redisClient, nil
}

func (g *Gateway) initBackends() error {
	backendRepo, redisClient, err := OpenBackends(g.Config, "MailsyncGateway")
	if err != nil {
		return err
	}
	g.BackendRepo = backendRepo
	g.RedisClient = redisClient

	// Replicas race to migrate on boot
	release, err := g.initLock("migrations")
	if err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer release()

	if err := g.BackendRepo.RunMigrations(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func newValidator(config types.AppConfig) (auth.TokenValidator, error) {
	if config.Gateway.AuthSecret != "" {
		return auth.NewJWTValidator(config.Gateway.AuthSecret)
	}
	if config.IsLocalMode() {
		log.Warn().Msg("gateway.authSecret not set, operator API is open in local mode")
		return auth.OpenValidator{}, nil
	}
	return nil, errors.New("gateway.authSecret is required outside local mode")
}

func (g *Gateway) initLock(name string) (func(), error) {
	// Skip locking in local mode (no Redis)
	if g.RedisClient == nil {
		return func() {}, nil
	}

	lockKey := common.Keys.GatewayInitLock(name)
	lock := common.NewRedisLock(g.RedisClient)

	if err := lock.Acquire(g.ctx, lockKey, common.RedisLockOptions{TtlS: 60, Retries: 30}); err != nil {
		return nil, err
	}

	return func() {
		if err := lock.Release(lockKey); err != nil {
			log.Error().Str("lock_key", lockKey).Err(err).Msg("failed to release init lock")
		}
	}, nil
}

func (g *Gateway) initHTTP() error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())

	// Configure logging middleware
	if g.Config.Gateway.HTTP.EnablePrettyLogs {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: "${time_rfc3339} ${method} ${uri} ${status} ${latency_human}\n",
		}))
	}

	// CORS
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: g.Config.Gateway.HTTP.CORS.AllowedOrigins,
		AllowHeaders: g.Config.Gateway.HTTP.CORS.AllowedHeaders,
		AllowMethods: g.Config.Gateway.HTTP.CORS.AllowedMethods,
	}))

	e.Use(middleware.Recover())
	e.Use(auth.HTTPMiddleware(g.validator))

	g.echo = e
	g.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", g.Config.Gateway.HTTP.Host, g.Config.Gateway.HTTP.Port),
		Handler: e,
	}

	g.baseRouteGroup = e.Group(apiv1.HttpServerBaseRoute)
	g.rootRouteGroup = e.Group(apiv1.HttpServerRootRoute)

	apiv1.NewHealthGroup(g.baseRouteGroup.Group("/health"), g.BackendRepo, g.RedisClient)

	return nil
}

func (g *Gateway) registerServices() error {
	s := g.Services

	// Provider-facing, authenticated by clientState
	apiv1.NewWebhooksGroup(g.rootRouteGroup.Group("/webhooks"), s.Ingestor, g.Config.Webhooks.MaxBodyBytes)

	operator := g.baseRouteGroup.Group("", auth.RequireOperatorMiddleware())
	apiv1.NewMailboxesGroup(operator.Group("/mailboxes"), g.BackendRepo, s.Engine, s.Subscriptions)
	apiv1.NewEmailsGroup(operator.Group("/emails"), g.BackendRepo)
	apiv1.NewOAuthGroup(operator.Group("/oauth"), g.baseRouteGroup.Group("/oauth"), g.oauthStore, s.Microsoft, s.Credentials)
	log.Info().Msg("webhook, mailbox, email and oauth APIs registered")

	if g.Config.Sync.Enabled {
		s.Syncer.Start(g.ctx)
	} else {
		log.Info().Msg("periodic sync disabled")
	}

	return nil
}

// StartAsync starts the HTTP server and syncer without blocking
func (g *Gateway) StartAsync() error {
	err := g.initHTTP()
	if err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	err = g.registerServices()
	if err != nil {
		return fmt.Errorf("failed to register services: %w", err)
	}

	addr := g.httpServer.Addr
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on http: %w", err)
	}

	go func() {
		if err := g.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
		}
	}()

	log.Info().
		Str("host", g.Config.Gateway.HTTP.Host).
		Int("port", g.Config.Gateway.HTTP.Port).
		Str("mode", g.Config.Mode).
		Msg("gateway http server running")

	return nil
}

// Shutdown gracefully shuts down the gateway (exported for external use)
func (g *Gateway) Shutdown() {
	g.shutdown()
}

func (g *Gateway) Start() error {
	if err := g.StartAsync(); err != nil {
		return err
	}

	terminationSignal := make(chan os.Signal, 1)
	signal.Notify(terminationSignal, os.Interrupt, syscall.SIGTERM)
	<-terminationSignal

	log.Info().Msg("termination signal received. shutting down...")
	g.shutdown()

	return nil
}

// shutdown stops intake first, then drains background work, then closes stores
func (g *Gateway) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), g.Config.Gateway.ShutdownTimeout)
	defer cancel()

	eg, egCtx := errgroup.WithContext(ctx)

	// Stop HTTP server
	if g.httpServer != nil {
		eg.Go(func() error {
			return g.httpServer.Shutdown(egCtx)
		})
	}

	// Stop syncer; in-flight passes are cancelled and end as failed folders
	eg.Go(func() error {
		g.Services.Syncer.Stop()
		return nil
	})

	g.cancelFunc()

	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("failed to shutdown gateway gracefully")
	}

	drained := make(chan struct{})
	go func() {
		g.Services.Ingestor.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		log.Warn().Msg("notification processing still running at shutdown")
	}

	g.oauthStore.Stop()

	if err := g.BackendRepo.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close backend")
	}
	if g.RedisClient != nil {
		if err := g.RedisClient.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close redis")
		}
	}

	log.Info().Msg("gateway stopped")
}
