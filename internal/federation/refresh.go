package federation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
	"github.com/dropDatabas3/federation/internal/metrics"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/provider"
)

// RefreshRequest pide renovar el token de terceros de una autenticación interna.
type RefreshRequest struct {
	Authentication *domain.Authentication
	// AccessToken es el token interno cuyo registro se reescribe con la nueva
	// autenticación. Vacío si el llamador no tiene token interno (sesión web).
	AccessToken string
}

// RefreshResult es el estado tras un refresh exitoso.
type RefreshResult struct {
	Authentication *domain.Authentication
	Upstream       *domain.UpstreamAuthentication
	Profile        *domain.UserProfile
}

// Refresh renueva el token de terceros, vuelve a derivar el principal desde el
// user-info del proveedor, resincroniza el perfil y reescribe en el lugar el
// registro del token interno (mismo valor, nueva autenticación).
func (s *Service) Refresh(ctx context.Context, req RefreshRequest) (*RefreshResult, error) {
	auth := req.Authentication
	if auth == nil || auth.UserName == "" {
		return nil, fmt.Errorf("%w: refresh without authentication", domain.ErrTokenStateInconsistent)
	}
	unlock, err := s.lock(ctx, auth.UserName)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res, p, err := s.refreshLocked(context.WithoutCancel(ctx), req)
	metrics.RefreshTotal.WithLabelValues(string(p), metrics.Result(err)).Inc()
	return res, err
}

func (s *Service) refreshLocked(ctx context.Context, req RefreshRequest) (*RefreshResult, domain.Provider, error) {
	auth := req.Authentication
	log := s.log(ctx, "Refresh").With(logger.PrincipalName(auth.UserName))

	b, stored, err := s.GetStoredThirdPartyToken(ctx, auth)
	if err != nil {
		return nil, auth.Provider, err
	}
	log = log.With(logger.Provider(string(b.Provider)))

	cc := b.Context(toOAuth2(stored.Token))
	tok, err := cc.Refresh(ctx)
	if err != nil {
		log.Info("third party refresh rejected", logger.Err(err))
		return nil, b.Provider, err
	}
	raw, err := cc.UserInfo(ctx)
	if err != nil {
		return nil, b.Provider, err
	}
	cp, err := provider.Extract(ctx, b.Provider, raw, cc)
	if err != nil {
		return nil, b.Provider, err
	}
	if cp.Name != auth.UserName {
		return nil, b.Provider, fmt.Errorf("%w: provider returned a different principal", domain.ErrTokenStateInconsistent)
	}

	// Mismos scopes que el registro previo para conservar el authentication id.
	scopes := b.Scopes()
	if prev, err := domain.DecodeUpstream(stored.Authentication); err == nil {
		scopes = prev.Scopes
	}
	up := &domain.UpstreamAuthentication{
		ClientID:    b.ClientID(),
		Scopes:      scopes,
		Principal:   cp,
		Authorities: provider.ExtractAuthorities(raw),
	}
	newAuth := auth.WithUpstream(up)

	profile, err := s.syncLocked(ctx, up)
	if err != nil {
		return nil, b.Provider, err
	}

	if req.AccessToken != "" {
		if err := s.rewriteInternalToken(ctx, req.AccessToken, newAuth); err != nil {
			return nil, b.Provider, err
		}
	}

	rec, err := thirdPartyRecord(up, tok)
	if err != nil {
		return nil, b.Provider, err
	}
	if err := s.deps.ThirdPartyTokens.StoreAccessToken(ctx, rec); err != nil {
		return nil, b.Provider, fmt.Errorf("federation: store third party token: %w", err)
	}
	// La fila nueva ya está; la anterior sólo sobrevive si tenía otro
	// authentication id.
	if stored.AuthenticationID != rec.AuthenticationID && stored.TokenID != rec.TokenID {
		if err := s.deps.ThirdPartyTokens.RemoveAccessToken(ctx, stored.Token.Value); err != nil {
			return nil, b.Provider, fmt.Errorf("federation: remove superseded token: %w", err)
		}
	}

	log.Info("third party token refreshed", logger.TokenID(rec.TokenID))
	return &RefreshResult{Authentication: newAuth, Upstream: up, Profile: profile}, b.Provider, nil
}

// rewriteInternalToken conserva el valor del token interno y reemplaza la
// autenticación que tiene embebida.
func (s *Service) rewriteInternalToken(ctx context.Context, value string, auth *domain.Authentication) error {
	rec, err := s.deps.InternalTokens.ReadAccessToken(ctx, value)
	if repository.IsNotFound(err) {
		return fmt.Errorf("%w: internal access token not found", domain.ErrTokenStateInconsistent)
	}
	if err != nil {
		return fmt.Errorf("federation: read internal token: %w", err)
	}
	b, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("federation: marshal authentication: %w", err)
	}
	rec.Authentication = b
	rec.AuthenticationID = auth.Key()
	rec.UserName = auth.UserName
	if err := s.deps.InternalTokens.StoreAccessToken(ctx, *rec); err != nil {
		return fmt.Errorf("federation: rewrite internal token: %w", err)
	}
	return nil
}
