// Package app arma el servicio de federación a partir de la configuración.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/federation/internal/cache"
	"github.com/dropDatabas3/federation/internal/config"
	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
	"github.com/dropDatabas3/federation/internal/federation"
	"github.com/dropDatabas3/federation/internal/http/controllers/auth"
	"github.com/dropDatabas3/federation/internal/http/controllers/health"
	"github.com/dropDatabas3/federation/internal/http/controllers/oauth"
	"github.com/dropDatabas3/federation/internal/http/controllers/user"
	"github.com/dropDatabas3/federation/internal/http/router"
	"github.com/dropDatabas3/federation/internal/jwt"
	"github.com/dropDatabas3/federation/internal/lock"
	"github.com/dropDatabas3/federation/internal/metrics"
	"github.com/dropDatabas3/federation/internal/notify"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/provider"
	"github.com/dropDatabas3/federation/internal/rate"
	"github.com/dropDatabas3/federation/internal/session"
	"github.com/dropDatabas3/federation/internal/store/memory"
	"github.com/dropDatabas3/federation/internal/store/pg"
	"github.com/dropDatabas3/federation/internal/token"
)

// Container guarda las piezas armadas por Build.
type Container struct {
	Config    *config.Config
	Handler   http.Handler
	Registry  *provider.Registry
	Profiles  repository.ProfileRepository
	Tokens    *token.Service
	Federated *federation.Service

	closers []func()
}

// Options ajusta Build. El zero value sirve para producción.
type Options struct {
	// Registerer para métricas; nil usa el default de prometheus.
	Registerer prometheus.Registerer
}

// Build conecta storage, cache, locks, proveedores, servicios y router.
// Ante un error cierra lo que ya había abierto.
func Build(ctx context.Context, cfg *config.Config, opts Options) (_ *Container, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()
	log := logger.L().With(logger.Component("app"))
	checks := map[string]health.Pinger{}

	// storage
	var internalTokens, thirdPartyTokens repository.TokenStore
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("storage driver memory: tokens and profiles are lost on restart")
		internalTokens, thirdPartyTokens = memory.NewTokenStore(), memory.NewTokenStore()
		c.Profiles = memory.NewProfileRepo()
	default:
		st, err := pg.New(ctx, cfg.Storage.DSN, pg.Tuning{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: config.Dur(cfg.Storage.Postgres.ConnMaxLifetime, 0),
		})
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		c.closers = append(c.closers, st.Close)
		checks["postgres"] = st
		internalTokens, thirdPartyTokens = st.InternalTokens(), st.ThirdPartyTokens()
		c.Profiles = st.Profiles()
	}

	// cache: sesiones, requests guardados y códigos
	kv, err := cache.New(ctx, cache.Config{
		Driver:     cfg.Cache.Kind,
		Addr:       cfg.Cache.Redis.Addr,
		Password:   cfg.Cache.Redis.Password,
		DB:         cfg.Cache.Redis.DB,
		Prefix:     cfg.Cache.Redis.Prefix,
		DefaultTTL: config.Dur(cfg.Cache.Memory.DefaultTTL, 2*time.Minute),
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.closers = append(c.closers, func() { _ = kv.Close() })
	checks["cache"] = kv

	var (
		locker  lock.Locker = lock.NewKeyed()
		limiter rate.Limiter
	)
	window := config.Dur(cfg.Rate.Login.Window, time.Minute)
	if rb, ok := kv.(cache.RedisBacked); ok {
		locker = lock.NewRedisLocker(rb.Redis(), cfg.Cache.Redis.Prefix+":lock:", config.Dur(cfg.Security.LockTTL, 30*time.Second))
		if cfg.Rate.Enabled {
			limiter = rate.NewRedisLimiter(rb.Redis(), cfg.Cache.Redis.Prefix+":rl:", cfg.Rate.Login.Limit, window)
		}
	} else if cfg.Rate.Enabled {
		limiter = rate.NewMemoryLimiter(cfg.Rate.Login.Limit, window)
	}

	var notifier federation.ConflictNotifier
	if cfg.SMTP.Host != "" {
		notifier = &notify.ConflictNotifier{Sender: &notify.SMTPSender{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			From:               cfg.SMTP.From,
			User:               cfg.SMTP.Username,
			Pass:               cfg.SMTP.Password,
			TLSMode:            cfg.SMTP.TLS,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}}
	}

	if c.Registry, err = provider.FromConfig(cfg); err != nil {
		return nil, err
	}
	log.Info("third party logins loaded", logger.Count(len(c.Registry.Bindings())))

	c.Federated = federation.NewService(federation.Deps{
		Registry:         c.Registry,
		InternalTokens:   internalTokens,
		ThirdPartyTokens: thirdPartyTokens,
		Profiles:         c.Profiles,
		Locker:           locker,
		Notifier:         notifier,
	})

	issuer, err := jwt.NewIssuer(cfg.JWT.Issuer, []byte(cfg.JWT.SigningKey))
	if err != nil {
		return nil, fmt.Errorf("%w: jwt: %v", domain.ErrConfiguration, err)
	}
	issuer.AccessTTL = config.Dur(cfg.JWT.AccessTTL, issuer.AccessTTL)
	issuer.RefreshTTL = config.Dur(cfg.JWT.RefreshTTL, issuer.RefreshTTL)

	c.Tokens = token.New(token.Options{
		Issuer:   issuer,
		Store:    internalTokens,
		Profiles: c.Profiles,
		Clients:  token.ClientsFromConfig(cfg.OAuthClients),
		CacheTTL: config.Dur(cfg.Security.UserInfoCacheTTL, 10*time.Second),
	})
	codes := token.NewCodes(kv, config.Dur(cfg.Security.CodeTTL, time.Minute))

	sessions := session.NewStore(kv, session.CookieConfig{
		Name:     cfg.Session.CookieName,
		Domain:   cfg.Session.Domain,
		SameSite: cfg.Session.SameSite,
		Secure:   cfg.Session.Secure,
	}, config.Dur(cfg.Session.TTL, 12*time.Hour))

	if err := metrics.Register(opts.Registerer); err != nil {
		return nil, err
	}
	metricsHandler := promhttp.Handler()
	if g, ok := opts.Registerer.(prometheus.Gatherer); ok {
		metricsHandler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}

	c.Handler = router.New(router.Deps{
		Auth: auth.NewControllers(c.Federated, sessions, c.Tokens, auth.Config{
			BaseURL:                 cfg.App.BaseURL,
			RedirectURIParamName:    cfg.Logout.RedirectURIParamName,
			DefaultLogoutRedirect:   cfg.Logout.DefaultRedirectURI,
			InternalLogoutURI:       cfg.Logout.InternalLogoutURI,
			AllowedRedirectPrefixes: cfg.Logout.AllowedRedirectPrefixes,
		}),
		User:      user.NewUserController(c.Federated, c.Profiles, c.Tokens, sessions),
		Authorize: oauth.NewAuthorizeController(c.Tokens, codes),
		Token:     oauth.NewTokenController(c.Tokens, codes),
		Health:    health.NewHealthController(checks),
		Registry:  c.Registry,
		Sessions:  sessions,
		Tokens:    c.Tokens,
		Limiter:   limiter,
		LoginURL:  cfg.Security.LoginURL,
		Metrics:   metricsHandler,
	})
	return c, nil
}

// Close libera conexiones en orden inverso de apertura.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// Serve escucha en server.addr hasta que ctx se cancela; después hace un
// shutdown ordenado.
func (c *Container) Serve(ctx context.Context) error {
	cfg := c.Config
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           c.Handler,
		ReadTimeout:       config.Dur(cfg.Server.ReadTimeout, 15*time.Second),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      config.Dur(cfg.Server.WriteTimeout, 30*time.Second),
		IdleTimeout:       60 * time.Second,
	}
	log := logger.L().With(logger.Component("http"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), config.Dur(cfg.Server.ShutdownTimeout, 10*time.Second))
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
