package middlewares

import (
	"net/http"

	"github.com/dropDatabas3/federation/internal/http/errors"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/recovery"
	"github.com/dropDatabas3/federation/internal/session"
)

// WithSession carga la sesión del request (o una nueva sin persistir) en el contexto.
func WithSession(store *session.Store) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := store.Load(r.Context(), r)
			if err != nil {
				logger.From(r.Context()).Error("session load failed", logger.Err(err))
				errors.WriteError(w, errors.ErrServiceUnavailable.WithCause(err))
				return
			}
			ctx := session.ToContext(r.Context(), sess)
			ctx = logger.ToContext(ctx, logger.From(ctx).With(logger.SessionID(sess.ID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// guardWriter invalida la sesión justo antes de escribir un redirect que
// transporta un code o un error.
type guardWriter struct {
	http.ResponseWriter
	r           *http.Request
	store       *session.Store
	wroteHeader bool
}

func (g *guardWriter) WriteHeader(code int) {
	if g.wroteHeader {
		return
	}
	g.wroteHeader = true
	if recovery.ShouldInvalidate(code, g.Header().Get("Location")) {
		sess := session.From(g.r.Context())
		if err := g.store.Invalidate(g.r.Context(), g.ResponseWriter, sess); err != nil {
			logger.From(g.r.Context()).Warn("session invalidation failed", logger.Err(err))
		} else {
			logger.From(g.r.Context()).Debug("session invalidated on redirect", logger.Status(code))
		}
	}
	g.ResponseWriter.WriteHeader(code)
}

func (g *guardWriter) Write(b []byte) (int, error) {
	if !g.wroteHeader {
		g.WriteHeader(http.StatusOK)
	}
	return g.ResponseWriter.Write(b)
}

// WithSessionGuard cierra la sesión en curso ante cualquier redirect con
// parámetro code o error. Va después de WithSession.
func WithSessionGuard(store *session.Store) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&guardWriter{ResponseWriter: w, r: r, store: store}, r)
		})
	}
}
