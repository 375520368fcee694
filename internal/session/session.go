// Package session guarda las sesiones web (cookie + cache) del login federado.
package session

import (
	"context"
	"time"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/recovery"
)

// Session es el estado de un navegador.
type Session struct {
	ID        string                         `json:"id"`
	Attempt   recovery.Attempt               `json:"attempt"`
	Upstream  *domain.UpstreamAuthentication `json:"upstream,omitempty"`
	CreatedAt time.Time                      `json:"createdAt"`

	persisted bool
}

// Authenticated reporta si la sesión completó un login.
func (s *Session) Authenticated() bool {
	return s != nil && s.Attempt.Current() == recovery.Authenticated && s.Upstream != nil
}

// Persisted reporta si la sesión ya existe en el store.
func (s *Session) Persisted() bool { return s.persisted }

// Authentication arma la autenticación interna de la sesión para clientID.
func (s *Session) Authentication(clientID string, scopes []string) *domain.Authentication {
	if !s.Authenticated() {
		return nil
	}
	return domain.Authentication{ClientID: clientID, Scopes: scopes}.WithUpstream(s.Upstream)
}

type ctxKey struct{}

// ToContext adjunta la sesión al contexto.
func ToContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// From devuelve la sesión del contexto, o nil.
func From(ctx context.Context) *Session {
	s, _ := ctx.Value(ctxKey{}).(*Session)
	return s
}
