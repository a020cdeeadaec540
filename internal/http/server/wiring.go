package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/dropDatabas3/consultadmin/internal/apiclient"
	"github.com/dropDatabas3/consultadmin/internal/auth"
	"github.com/dropDatabas3/consultadmin/internal/config"
	"github.com/dropDatabas3/consultadmin/internal/dashboard"
	"github.com/dropDatabas3/consultadmin/internal/dataprovider"
	authctrl "github.com/dropDatabas3/consultadmin/internal/http/controllers/auth"
	dashctrl "github.com/dropDatabas3/consultadmin/internal/http/controllers/dashboard"
	healthctrl "github.com/dropDatabas3/consultadmin/internal/http/controllers/health"
	resctrl "github.com/dropDatabas3/consultadmin/internal/http/controllers/resources"
	"github.com/dropDatabas3/consultadmin/internal/http/helpers"
	"github.com/dropDatabas3/consultadmin/internal/http/router"
	"github.com/dropDatabas3/consultadmin/internal/metrics"
	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/rate"
	"github.com/dropDatabas3/consultadmin/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	rdb "github.com/redis/go-redis/v9"
)

// App es el back office armado: handler HTTP más lo que hay que cerrar.
type App struct {
	Handler http.Handler
	Store   session.Store
	Metrics *metrics.Metrics

	closers []func() error
}

// Close libera los recursos en orden inverso al de creación.
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Overrides permite a los tests inyectar dependencias ya construidas.
type Overrides struct {
	Store      session.Store
	HTTPClient *http.Client
	Registry   *prometheus.Registry
}

// Build arma todas las dependencias a partir de la config.
func Build(ctx context.Context, cfg *config.Config, ov Overrides) (*App, error) {
	log := logger.L().With(logger.Component("wiring"))
	app := &App{}

	reg := ov.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	app.Metrics = m

	// 1. Session store
	var redisClient *rdb.Client
	store := ov.Store
	if store == nil {
		store, redisClient, err = OpenStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, store.Close)
	}
	app.Store = store
	log.Info("session store listo", logger.String("driver", cfg.Session.Driver))

	// 2. Cliente upstream
	client, err := apiclient.New(apiclient.Options{
		BaseURL:        cfg.Upstream.BaseURL,
		RefreshPath:    cfg.Upstream.Paths.Refresh,
		InternalAPIKey: cfg.Upstream.InternalAPIKey,
		HTTPClient:     ov.HTTPClient,
		Timeout:        config.Dur(cfg.Upstream.Timeout),
		Observer:       m,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	// 3. Servicios
	authSvc := auth.NewService(client, auth.Paths{
		OTPGenerate: cfg.Upstream.Paths.OTPGenerate,
		OTPValidate: cfg.Upstream.Paths.OTPValidate,
	})

	registry, err := dataprovider.NewRegistry(cfg.Resources)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("resources: %w", err)
	}
	provider := dataprovider.New(registry, dataprovider.Options{
		PageParam:     cfg.Upstream.PageParam,
		PageSizeParam: cfg.Upstream.PageSizeParam,
		SortParam:     cfg.Upstream.SortParam,
		Concurrency:   cfg.Dashboard.Concurrency,
	})

	dash := dashboard.NewService(provider, dashboard.Options{
		CacheTTL:             config.Dur(cfg.Dashboard.CacheTTL),
		Concurrency:          cfg.Dashboard.Concurrency,
		RPS:                  cfg.Dashboard.RPS,
		ConsultationStatuses: cfg.Dashboard.ConsultationStatuses,
	})

	// 4. Rate limit de login/OTP
	var limiter rate.Limiter
	if cfg.Rate.Enabled {
		window := config.Dur(cfg.Rate.Login.Window)
		if redisClient != nil {
			limiter = rate.NewRedisLimiter(redisClient, cfg.Redis.Prefix+"rl:", cfg.Rate.Login.Limit, window)
		} else {
			limiter = rate.NewMemoryLimiter(cfg.Rate.Login.Limit, window)
		}
	}

	// 5. Controllers
	cookie := helpers.CookieConfig{
		Name:   cfg.Session.CookieName,
		Domain: cfg.Session.CookieDomain,
		Secure: cfg.Session.CookieSecure,
		TTL:    config.Dur(cfg.Session.TTL),
	}
	errw := helpers.ErrorWriter{Checker: authSvc, Cookie: cookie}

	deps := router.Deps{
		Auth: authctrl.NewController(authSvc, store, cookie),
		Resources: resctrl.NewController(func(repo session.Repository) resctrl.Adapter {
			return provider.For(client.WithSession(repo))
		}, errw),
		Dashboard: dashctrl.NewController(dash, func(repo session.Repository) apiclient.Doer {
			return client.WithSession(repo)
		}, errw),
		Health: healthctrl.NewController(cfg.App.Version, map[string]healthctrl.Pinger{
			"session": store,
		}),
		Store:        store,
		AuthChecker:  authSvc,
		Cookie:       cookie,
		Metrics:      m,
		LoginLimiter: limiter,
		CORSOrigins:  cfg.Server.CORSAllowedOrigins,
	}
	app.Handler = router.New(deps)
	return app, nil
}

// OpenStore crea el session store según session.driver. Con redis también
// devuelve el cliente para compartirlo con el rate limiter.
func OpenStore(ctx context.Context, cfg *config.Config) (session.Store, *rdb.Client, error) {
	ttl := config.Dur(cfg.Session.TTL)
	switch strings.ToLower(cfg.Session.Driver) {
	case "", "memory":
		return session.NewMemoryStore(ttl), nil, nil
	case "redis":
		s := session.NewRedisStore(session.RedisConfig{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
			Prefix:   cfg.Redis.Prefix,
			TTL:      ttl,
		})
		return s, s.Client(), nil
	case "postgres":
		s, err := session.OpenPostgres(ctx, session.PostgresConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
			TTL:      ttl,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case "file":
		return nil, nil, errors.New("session driver file no soportado por el servidor: una sola sesión para todos los navegadores (usar backofficectl)")
	default:
		return nil, nil, fmt.Errorf("session driver desconocido: %q", cfg.Session.Driver)
	}
}
