// Package federation coordina el ciclo de vida de los tokens de terceros y la
// sincronización de perfiles locales.
//
// Toda operación que escribe (Sync, StoreThirdPartyToken, Refresh, CompleteLogin)
// toma el lock del nombre de principal y corre completa bajo él. Una vez tomado
// el lock la secuencia ya no se cancela con el contexto del llamador. No hay
// reintentos: cualquier fallo se propaga al llamador.
package federation

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
	"github.com/dropDatabas3/federation/internal/lock"
	"github.com/dropDatabas3/federation/internal/metrics"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/provider"
)

// ConflictNotifier recibe los conflictos de perfil detectados.
type ConflictNotifier interface {
	NotifyConflict(ctx context.Context, existing *domain.UserProfile, attempted domain.Provider)
}

// Deps contiene las dependencias del servicio.
type Deps struct {
	Registry         *provider.Registry
	InternalTokens   repository.TokenStore
	ThirdPartyTokens repository.TokenStore
	Profiles         repository.ProfileRepository
	Locker           lock.Locker
	Notifier         ConflictNotifier // opcional
}

type Service struct {
	deps Deps
}

// NewService crea el servicio. Sin Locker usa uno in-process.
func NewService(d Deps) *Service {
	if d.Locker == nil {
		d.Locker = lock.NewKeyed()
	}
	return &Service{deps: d}
}

// Registry expone el registry de proveedores.
func (s *Service) Registry() *provider.Registry { return s.deps.Registry }

func (s *Service) log(ctx context.Context, op string) *zap.Logger {
	return logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("federation"),
		logger.Op(op),
	)
}

func (s *Service) lock(ctx context.Context, name string) (func(), error) {
	unlock, err := s.deps.Locker.Lock(ctx, "principal:"+name)
	if err != nil {
		return nil, fmt.Errorf("federation: lock %s: %w", logger.Mask(name), err)
	}
	return unlock, nil
}

// CompleteLogin sincroniza el perfil y guarda el token de terceros bajo una
// sola adquisición del lock. Si el perfil está en conflicto no se guarda token.
func (s *Service) CompleteLogin(ctx context.Context, up *domain.UpstreamAuthentication, cc *provider.ClientContext) (_ *domain.UserProfile, err error) {
	defer func() {
		metrics.LoginsTotal.WithLabelValues(string(up.Principal.Provider), metrics.Result(err)).Inc()
	}()

	unlock, err := s.lock(ctx, up.Principal.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	ctx = context.WithoutCancel(ctx)

	profile, err := s.syncLocked(ctx, up)
	if err != nil {
		return nil, err
	}
	if err := s.storeThirdPartyTokenLocked(ctx, up, cc); err != nil {
		return nil, err
	}
	return profile, nil
}

// StoreThirdPartyToken persiste el token del proveedor asociado a up,
// reemplazando cualquier token previo de la misma autenticación.
func (s *Service) StoreThirdPartyToken(ctx context.Context, up *domain.UpstreamAuthentication, cc *provider.ClientContext) error {
	unlock, err := s.lock(ctx, up.Principal.Name)
	if err != nil {
		return err
	}
	defer unlock()
	return s.storeThirdPartyTokenLocked(context.WithoutCancel(ctx), up, cc)
}

func (s *Service) storeThirdPartyTokenLocked(ctx context.Context, up *domain.UpstreamAuthentication, cc *provider.ClientContext) error {
	tok, err := cc.AccessToken(ctx)
	if err != nil {
		return err
	}

	// StoreAccessToken reemplaza la fila previa del mismo authentication id.
	rec, err := thirdPartyRecord(up, tok)
	if err != nil {
		return err
	}
	if err := s.deps.ThirdPartyTokens.StoreAccessToken(ctx, rec); err != nil {
		return fmt.Errorf("federation: store third party token: %w", err)
	}
	s.log(ctx, "StoreThirdPartyToken").Debug("third party token stored",
		logger.Provider(string(up.Principal.Provider)),
		logger.PrincipalName(up.Principal.Name),
		logger.TokenID(rec.TokenID))
	return nil
}

// GetStoredThirdPartyToken localiza el token de terceros de una autenticación interna.
//
// Si la autenticación embebe su upstream, se busca por su authentication id.
// Si no (fue reconstruida desde el perfil), se busca por client id del proveedor
// del perfil y nombre de usuario, y debe haber exactamente un resultado.
func (s *Service) GetStoredThirdPartyToken(ctx context.Context, auth *domain.Authentication) (*provider.Binding, *domain.TokenRecord, error) {
	if auth == nil {
		return nil, nil, fmt.Errorf("%w: no authentication", domain.ErrTokenStateInconsistent)
	}

	if up := auth.Upstream; up != nil {
		b, err := s.deps.Registry.Resolve(up.Principal.Provider)
		if err != nil {
			return nil, nil, err
		}
		rec, err := s.deps.ThirdPartyTokens.GetAccessToken(ctx, up.Key())
		if repository.IsNotFound(err) {
			return nil, nil, fmt.Errorf("%w: no third party token for %s", domain.ErrTokenStateInconsistent, logger.Mask(auth.UserName))
		}
		if err != nil {
			return nil, nil, fmt.Errorf("federation: read third party token: %w", err)
		}
		return b, rec, nil
	}

	profile, err := s.deps.Profiles.FindByName(ctx, auth.UserName)
	if repository.IsNotFound(err) {
		return nil, nil, fmt.Errorf("%w: no profile for %s", domain.ErrTokenStateInconsistent, logger.Mask(auth.UserName))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("federation: read profile: %w", err)
	}
	b, err := s.deps.Registry.Resolve(profile.Provider)
	if err != nil {
		return nil, nil, err
	}
	recs, err := s.deps.ThirdPartyTokens.FindTokensByClientIDAndUserName(ctx, b.ClientID(), auth.UserName)
	if err != nil {
		return nil, nil, fmt.Errorf("federation: find third party tokens: %w", err)
	}
	if len(recs) != 1 {
		return nil, nil, fmt.Errorf("%w: expected 1 third party token for %s, found %d",
			domain.ErrTokenStateInconsistent, logger.Mask(auth.UserName), len(recs))
	}
	return b, &recs[0], nil
}

func thirdPartyRecord(up *domain.UpstreamAuthentication, tok *oauth2.Token) (domain.TokenRecord, error) {
	authJSON, err := json.Marshal(up)
	if err != nil {
		return domain.TokenRecord{}, fmt.Errorf("federation: marshal upstream authentication: %w", err)
	}
	return domain.TokenRecord{
		TokenID:          domain.TokenID(tok.AccessToken),
		Token:            fromOAuth2(tok, up.Scopes),
		AuthenticationID: up.Key(),
		UserName:         up.Principal.Name,
		ClientID:         up.ClientID,
		Authentication:   authJSON,
		RefreshToken:     tok.RefreshToken,
	}, nil
}

func fromOAuth2(tok *oauth2.Token, scopes []string) domain.AccessToken {
	return domain.AccessToken{
		Value:        tok.AccessToken,
		TokenType:    tok.Type(),
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       scopes,
	}
}

func toOAuth2(t domain.AccessToken) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.Value,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.Expiry,
	}
}

// NewUpstream arma la autenticación upstream a partir de un login en b.
func NewUpstream(b *provider.Binding, cp domain.CanonicalPrincipal, raw map[string]any) *domain.UpstreamAuthentication {
	return &domain.UpstreamAuthentication{
		ClientID:    b.ClientID(),
		Scopes:      b.Scopes(),
		Principal:   cp,
		Authorities: provider.ExtractAuthorities(raw),
	}
}
