// Package token emite y valida los access tokens internos y guarda sus
// registros en el keyspace interno.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
	"github.com/dropDatabas3/federation/internal/jwt"
	"github.com/dropDatabas3/federation/internal/observability/logger"
)

// Options configura el servicio.
type Options struct {
	Issuer   *jwt.Issuer
	Store    repository.TokenStore // keyspace interno
	Profiles repository.ProfileRepository
	Clients  Clients
	// CacheTTL de autenticaciones resueltas por bearer. 0 deshabilita el cache.
	CacheTTL time.Duration
}

type Service struct {
	issuer   *jwt.Issuer
	store    repository.TokenStore
	profiles repository.ProfileRepository
	clients  Clients
	ttl      time.Duration
	cache    *gocache.Cache
	loads    singleflight.Group
	now      func() time.Time
}

func New(o Options) *Service {
	s := &Service{
		issuer:   o.Issuer,
		store:    o.Store,
		profiles: o.Profiles,
		clients:  o.Clients,
		ttl:      o.CacheTTL,
		now:      time.Now,
	}
	if s.clients == nil {
		s.clients = Clients{}
	}
	if o.CacheTTL > 0 {
		s.cache = gocache.New(o.CacheTTL, 2*o.CacheTTL)
	}
	return s
}

// Clients devuelve el índice de clientes registrados.
func (s *Service) Clients() Clients { return s.clients }

func (s *Service) log(ctx context.Context, op string) *zap.Logger {
	return logger.From(ctx).With(logger.Layer("service"), logger.Component("token"), logger.Op(op))
}

// Issue emite un access token para auth. Si ya hay uno vigente para el mismo
// authentication id lo reutiliza, guardando auth en su registro.
func (s *Service) Issue(ctx context.Context, auth *domain.Authentication) (*domain.AccessToken, error) {
	client, ok := s.clients[auth.ClientID]
	if !ok {
		return nil, ErrInvalidClient
	}

	key := auth.Key()
	prev, err := s.store.GetAccessToken(ctx, key)
	switch {
	case err == nil:
		if !prev.Token.Expired(s.now()) {
			return s.restore(ctx, prev, auth)
		}
		s.Invalidate(prev.Token.Value)
		if err := s.store.RemoveAccessToken(ctx, prev.Token.Value); err != nil {
			return nil, fmt.Errorf("token: remove expired token: %w", err)
		}
	case !repository.IsNotFound(err):
		return nil, fmt.Errorf("token: read access token: %w", err)
	}

	sub := subject(auth)
	refresh, _, err := s.issuer.IssueRefresh(sub, seconds(client.RefreshValiditySeconds))
	if err != nil {
		return nil, fmt.Errorf("token: sign refresh token: %w", err)
	}
	tok, err := s.storeNew(ctx, auth, client, refresh)
	if err != nil {
		return nil, err
	}
	s.log(ctx, "Issue").Debug("access token issued",
		logger.ClientID(auth.ClientID), logger.PrincipalName(auth.UserName), logger.TokenID(domain.TokenID(tok.Value)))
	return tok, nil
}

// restore reescribe el registro vigente con la autenticación nueva; el valor
// del token no cambia.
func (s *Service) restore(ctx context.Context, prev *domain.TokenRecord, auth *domain.Authentication) (*domain.AccessToken, error) {
	authJSON, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("token: marshal authentication: %w", err)
	}
	prev.Authentication = authJSON
	prev.AuthenticationID = auth.Key()
	prev.UserName = auth.UserName
	if err := s.store.StoreAccessToken(ctx, *prev); err != nil {
		return nil, fmt.Errorf("token: restore access token: %w", err)
	}
	s.Invalidate(prev.Token.Value)
	return &prev.Token, nil
}

func (s *Service) storeNew(ctx context.Context, auth *domain.Authentication, client Client, refresh string) (*domain.AccessToken, error) {
	value, exp, err := s.issuer.IssueAccess(subject(auth), seconds(client.TokenValiditySeconds))
	if err != nil {
		return nil, fmt.Errorf("token: sign access token: %w", err)
	}
	authJSON, err := json.Marshal(auth)
	if err != nil {
		return nil, fmt.Errorf("token: marshal authentication: %w", err)
	}
	tok := domain.AccessToken{
		Value:        value,
		TokenType:    "bearer",
		RefreshToken: refresh,
		Expiry:       exp,
		Scopes:       auth.Scopes,
	}
	rec := domain.TokenRecord{
		TokenID:          domain.TokenID(value),
		Token:            tok,
		AuthenticationID: auth.Key(),
		UserName:         auth.UserName,
		ClientID:         auth.ClientID,
		Authentication:   authJSON,
		RefreshToken:     refresh,
	}
	if err := s.store.StoreAccessToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("token: store access token: %w", err)
	}
	return &tok, nil
}

// Authenticate resuelve un bearer token a la autenticación guardada en su registro.
func (s *Service) Authenticate(ctx context.Context, bearer string) (*domain.Authentication, error) {
	if _, err := s.issuer.Parse(bearer, jwt.TypeAccess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	id := domain.TokenID(bearer)
	if s.cache != nil {
		if v, ok := s.cache.Get(id); ok {
			return v.(*domain.Authentication), nil
		}
	}

	v, err, _ := s.loads.Do(id, func() (any, error) {
		rec, err := s.store.ReadAccessToken(ctx, bearer)
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("%w: unknown access token", ErrInvalidToken)
		}
		if err != nil {
			return nil, fmt.Errorf("token: read access token: %w", err)
		}
		if rec.Token.Expired(s.now()) {
			return nil, fmt.Errorf("%w: access token expired", ErrInvalidToken)
		}
		auth, err := domain.DecodeAuthentication(rec.Authentication)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			s.cache.Set(id, auth, s.ttl)
		}
		return auth, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Authentication), nil
}

// Invalidate saca del cache la autenticación de un bearer.
func (s *Service) Invalidate(bearer string) {
	if s.cache != nil {
		s.cache.Delete(domain.TokenID(bearer))
	}
}

// RefreshGrant canjea un refresh token por un access token nuevo. La
// autenticación se reconstruye desde el perfil guardado, sin upstream.
// El refresh token se reutiliza.
func (s *Service) RefreshGrant(ctx context.Context, clientID, refresh string) (*domain.AccessToken, error) {
	client, ok := s.clients[clientID]
	if !ok {
		return nil, ErrInvalidClient
	}
	claims, err := s.issuer.Parse(refresh, jwt.TypeRefresh)
	if err != nil || claims.ClientID != clientID {
		return nil, fmt.Errorf("%w: refresh token rejected", ErrInvalidGrant)
	}
	rec, err := s.store.ReadByRefreshToken(ctx, refresh)
	if repository.IsNotFound(err) {
		return nil, fmt.Errorf("%w: unknown refresh token", ErrInvalidGrant)
	}
	if err != nil {
		return nil, fmt.Errorf("token: read refresh token: %w", err)
	}
	if rec.ClientID != clientID {
		return nil, fmt.Errorf("%w: refresh token issued to another client", ErrInvalidGrant)
	}

	profile, err := s.profiles.FindByName(ctx, rec.UserName)
	if repository.IsNotFound(err) {
		return nil, fmt.Errorf("%w: no profile for %s", domain.ErrTokenStateInconsistent, logger.Mask(rec.UserName))
	}
	if err != nil {
		return nil, fmt.Errorf("token: read profile: %w", err)
	}
	scopes := client.Scopes
	if prev, err := domain.DecodeAuthentication(rec.Authentication); err == nil {
		scopes = prev.Scopes
	}
	auth := &domain.Authentication{
		ClientID:    clientID,
		Scopes:      scopes,
		UserName:    profile.Name,
		Provider:    profile.Provider,
		Authorities: profile.Authorities,
	}

	s.Invalidate(rec.Token.Value)
	if err := s.store.RemoveAccessToken(ctx, rec.Token.Value); err != nil {
		return nil, fmt.Errorf("token: remove access token: %w", err)
	}
	tok, err := s.storeNew(ctx, auth, client, refresh)
	if err != nil {
		return nil, err
	}
	s.log(ctx, "RefreshGrant").Debug("access token refreshed",
		logger.ClientID(clientID), logger.PrincipalName(auth.UserName))
	return tok, nil
}

// Revoke borra el registro de un access token. No falla si no existe.
func (s *Service) Revoke(ctx context.Context, bearer string) error {
	s.Invalidate(bearer)
	if err := s.store.RemoveAccessToken(ctx, bearer); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("token: revoke: %w", err)
	}
	return nil
}

func subject(auth *domain.Authentication) jwt.Subject {
	return jwt.Subject{
		UserName:    auth.UserName,
		ClientID:    auth.ClientID,
		Scopes:      auth.Scopes,
		Authorities: domain.AuthorityNames(auth.Authorities),
		Provider:    string(auth.Provider),
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
