// Package router arma el árbol de rutas chi del back office.
package router

import (
	"net/http"

	authctrl "github.com/dropDatabas3/consultadmin/internal/http/controllers/auth"
	dashctrl "github.com/dropDatabas3/consultadmin/internal/http/controllers/dashboard"
	healthctrl "github.com/dropDatabas3/consultadmin/internal/http/controllers/health"
	resctrl "github.com/dropDatabas3/consultadmin/internal/http/controllers/resources"
	"github.com/dropDatabas3/consultadmin/internal/http/errors"
	"github.com/dropDatabas3/consultadmin/internal/http/helpers"
	mw "github.com/dropDatabas3/consultadmin/internal/http/middlewares"
	"github.com/dropDatabas3/consultadmin/internal/metrics"
	"github.com/dropDatabas3/consultadmin/internal/rate"
	"github.com/dropDatabas3/consultadmin/internal/session"
	"github.com/go-chi/chi/v5"
)

// Deps contiene lo que el router necesita para montar las rutas.
type Deps struct {
	Auth      *authctrl.Controller
	Resources *resctrl.Controller
	Dashboard *dashctrl.Controller
	Health    *healthctrl.Controller

	Store       session.Store
	AuthChecker mw.AuthChecker
	Cookie      helpers.CookieConfig

	// Opcionales
	Metrics      *metrics.Metrics
	LoginLimiter rate.Limiter
	CORSOrigins  []string
}

// New devuelve el handler raíz.
//
//	GET  /healthz, /readyz, /metrics
//	POST /api/auth/otp, /api/auth/login, /api/auth/logout
//	GET  /api/auth/me
//	GET  /api/dashboard/stats
//	/api/resources/{resource}[/{id}[/actions/{action}]]
func New(d Deps) http.Handler {
	r := chi.NewRouter()

	global := []mw.Middleware{
		mw.WithRecover(),
		mw.WithRequestID(),
		mw.WithSecurityHeaders(),
	}
	if len(d.CORSOrigins) > 0 {
		global = append(global, mw.WithCORS(d.CORSOrigins))
	}
	global = append(global, mw.WithLogging())
	if d.Metrics != nil {
		global = append(global, mw.WithMetrics(d.Metrics))
	}
	r.Use(mw.AsChi(global...)...)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		errors.WriteError(w, errors.ErrNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		errors.WriteError(w, errors.ErrMethodNotAllowed)
	})

	if d.Health != nil {
		r.Get("/healthz", d.Health.Healthz)
		r.Get("/readyz", d.Health.Readyz)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.AsChi(mw.WithNoStore(), mw.WithSession(d.Store, d.Cookie.Name))...)

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if d.LoginLimiter != nil {
					r.Use(mw.AsChi(mw.WithRateLimit(d.LoginLimiter, mw.IPPathRateKey))...)
				}
				r.Post("/otp", d.Auth.SendOTP)
				r.Post("/login", d.Auth.Login)
			})
			r.Post("/logout", d.Auth.Logout)
			r.Get("/me", d.Auth.Me)
		})

		r.Group(func(r chi.Router) {
			r.Use(mw.AsChi(mw.WithRequireAuth(d.AuthChecker, d.Cookie))...)

			if d.Dashboard != nil {
				r.Get("/dashboard/stats", d.Dashboard.Stats)
			}

			if d.Resources != nil {
				res := d.Resources
				r.Route("/resources/{resource}", func(r chi.Router) {
					r.Get("/", res.List)
					r.Post("/", res.Create)
					r.Put("/", res.UpdateMany)
					r.Delete("/", res.DeleteMany)
					r.Get("/many", res.Many)

					r.Get("/{id}", res.Get)
					r.Put("/{id}", res.Update)
					r.Patch("/{id}", res.Update)
					r.Delete("/{id}", res.Delete)
					r.Post("/{id}/actions/{action}", res.Action)
				})
			}
		})
	})

	return r
}
