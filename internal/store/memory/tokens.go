// Package memory implementa los repositorios de federación en memoria.
// Misma semántica que store/pg; pensado para desarrollo y tests.
package memory

import (
	"context"
	"sync"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
)

// TokenStore es un keyspace de tokens indexado por token_id y authentication_id.
type TokenStore struct {
	mu     sync.RWMutex
	byID   map[string]domain.TokenRecord
	byAuth map[string]string // authentication_id -> token_id
}

var _ repository.TokenStore = (*TokenStore)(nil)

func NewTokenStore() *TokenStore {
	return &TokenStore{
		byID:   make(map[string]domain.TokenRecord),
		byAuth: make(map[string]string),
	}
}

func (s *TokenStore) StoreAccessToken(_ context.Context, rec domain.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byAuth[rec.AuthenticationID]; ok {
		s.deleteLocked(old)
	}
	s.deleteLocked(rec.TokenID)
	s.byID[rec.TokenID] = clone(rec)
	s.byAuth[rec.AuthenticationID] = rec.TokenID
	return nil
}

func (s *TokenStore) ReadAccessToken(_ context.Context, tokenValue string) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[domain.TokenID(tokenValue)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clone(rec)
	return &out, nil
}

func (s *TokenStore) GetAccessToken(_ context.Context, authenticationID string) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byAuth[authenticationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clone(s.byID[id])
	return &out, nil
}

func (s *TokenStore) FindTokensByClientIDAndUserName(_ context.Context, clientID, userName string) ([]domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TokenRecord
	for _, rec := range s.byID {
		if rec.ClientID == clientID && rec.UserName == userName {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (s *TokenStore) RemoveAccessToken(_ context.Context, tokenValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(domain.TokenID(tokenValue))
	return nil
}

func (s *TokenStore) ReadByRefreshToken(_ context.Context, refreshToken string) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.byID {
		if refreshToken != "" && rec.RefreshToken == refreshToken {
			out := clone(rec)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *TokenStore) RemoveByRefreshToken(_ context.Context, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.byID {
		if refreshToken != "" && rec.RefreshToken == refreshToken {
			s.deleteLocked(id)
		}
	}
	return nil
}

// Len es el número de filas. Útil en tests.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *TokenStore) deleteLocked(tokenID string) {
	rec, ok := s.byID[tokenID]
	if !ok {
		return
	}
	delete(s.byID, tokenID)
	if s.byAuth[rec.AuthenticationID] == tokenID {
		delete(s.byAuth, rec.AuthenticationID)
	}
}

func clone(rec domain.TokenRecord) domain.TokenRecord {
	rec.Authentication = append([]byte(nil), rec.Authentication...)
	rec.Token.Scopes = append([]string(nil), rec.Token.Scopes...)
	return rec
}
