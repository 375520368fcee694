package middlewares

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/dropDatabas3/federation/internal/domain"
)

type ctxKey int

const (
	ctxRequestID ctxKey = iota
	ctxAuth
)

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxRequestID, rid)
}

// GetRequestID devuelve el request id del contexto.
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxRequestID).(string)
	return v
}

// Auth es la autenticación resuelta para el request.
type Auth struct {
	Authentication *domain.Authentication
	// Bearer es el access token interno si el request vino con uno.
	Bearer string
}

// WithAuth adjunta la autenticación al contexto.
func WithAuth(ctx context.Context, a *Auth) context.Context {
	return context.WithValue(ctx, ctxAuth, a)
}

// GetAuth devuelve la autenticación del request, o nil.
func GetAuth(ctx context.Context) *Auth {
	a, _ := ctx.Value(ctxAuth).(*Auth)
	return a
}

// clientIP extrae la IP del cliente, considerando proxies.
func clientIP(r *http.Request) string {
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// BearerToken devuelve el token de "Authorization: Bearer ...".
func BearerToken(r *http.Request) (string, bool) {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(ah) < 7 || !strings.EqualFold(ah[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(ah[7:])
	return tok, tok != ""
}
