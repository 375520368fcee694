package middlewares

import (
	"net/http"

	"github.com/dropDatabas3/federation/internal/http/errors"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/recovery"
	"github.com/dropDatabas3/federation/internal/session"
	"github.com/dropDatabas3/federation/internal/token"
)

// RequireAuthentication resuelve la autenticación del request:
//   - Authorization: Bearer <token interno>, inválido => 401
//   - sesión web autenticada
//
// Sin credenciales, un GET guarda el request en la sesión y redirige al login;
// cualquier otro método recibe 401.
func RequireAuthentication(tokens *token.Service, store *session.Store, loginURL string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if raw, ok := BearerToken(r); ok {
				auth, err := tokens.Authenticate(ctx, raw)
				if err != nil {
					w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
					errors.WriteError(w, err)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithAuth(ctx, &Auth{Authentication: auth, Bearer: raw})))
				return
			}

			sess := session.From(ctx)
			if sess.Authenticated() {
				up := sess.Upstream
				auth := sess.Authentication(up.ClientID, up.Scopes)
				next.ServeHTTP(w, r.WithContext(WithAuth(ctx, &Auth{Authentication: auth})))
				return
			}

			if r.Method != http.MethodGet || sess == nil {
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}
			sess.Attempt.Save(&recovery.SavedRequest{Method: r.Method, URL: r.URL.RequestURI()})
			if err := store.Save(ctx, w, sess); err != nil {
				logger.From(ctx).Error("save session failed", logger.Err(err))
				errors.WriteError(w, errors.ErrServiceUnavailable.WithCause(err))
				return
			}
			http.Redirect(w, r, loginURL, http.StatusFound)
		})
	}
}
