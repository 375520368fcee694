// Package router arma las rutas HTTP sobre chi.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/federation/internal/http/controllers/auth"
	"github.com/dropDatabas3/federation/internal/http/controllers/health"
	"github.com/dropDatabas3/federation/internal/http/controllers/oauth"
	"github.com/dropDatabas3/federation/internal/http/controllers/user"
	httperrors "github.com/dropDatabas3/federation/internal/http/errors"
	mw "github.com/dropDatabas3/federation/internal/http/middlewares"
	"github.com/dropDatabas3/federation/internal/provider"
	"github.com/dropDatabas3/federation/internal/rate"
	"github.com/dropDatabas3/federation/internal/session"
	"github.com/dropDatabas3/federation/internal/token"
)

// Deps son las dependencias del router.
type Deps struct {
	Auth      *auth.Controllers
	User      *user.UserController
	Authorize *oauth.AuthorizeController
	Token     *oauth.TokenController
	Health    *health.HealthController

	Registry *provider.Registry
	Sessions *session.Store
	Tokens   *token.Service
	Limiter  rate.Limiter // nil = sin rate limit
	LoginURL string
	Metrics  http.Handler
}

// New devuelve el handler raíz.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		mw.WithRequestID(),
		mw.WithLogging(),
		mw.WithRecover(),
		mw.WithMetrics(),
		mw.WithSecurityHeaders(),
	)
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrMethodNotAllowed)
	})

	r.Get("/healthz", d.Health.Healthz)
	r.Get("/readyz", d.Health.Readyz)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	limit := mw.WithRateLimit(d.Limiter, mw.IPPathRateKey)
	r.With(limit, mw.WithNoStore()).Post("/oauth/token", d.Token.Token)

	requireAuth := mw.RequireAuthentication(d.Tokens, d.Sessions, d.LoginURL)

	r.Group(func(r chi.Router) {
		r.Use(mw.WithSession(d.Sessions), mw.WithSessionGuard(d.Sessions))

		r.Get("/login", d.Auth.Login.Page)
		for _, b := range d.Registry.Bindings() {
			r.With(limit).Get(b.LoginPath, d.Auth.Login.Provider(b))
		}
		r.Get("/retry-login", d.Auth.Login.Retry)
		r.Get("/logout", d.Auth.Logout.Logout)
		r.Post("/logout", d.Auth.Logout.Logout)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth, mw.WithNoStore())
			r.Get("/user", d.User.Me)
			r.Post("/user/evict", d.User.Evict)
			r.Get("/oauth/authorize", d.Authorize.Authorize)
		})
	})

	// Cualquier otra ruta exige autenticación: sin ella el navegador termina
	// en /login con el request guardado.
	r.NotFound(mw.Chain(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httperrors.WriteError(w, httperrors.ErrNotFound)
	}), mw.WithSession(d.Sessions), mw.WithSessionGuard(d.Sessions), requireAuth).ServeHTTP)

	return r
}
