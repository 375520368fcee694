package repository

import (
	"context"

	"github.com/dropDatabas3/federation/internal/domain"
)

// TokenStore define operaciones sobre un keyspace de access tokens.
type TokenStore interface {
	// StoreAccessToken inserta el registro. Si ya existe una fila con el mismo
	// token_id o authentication_id, la reemplaza.
	StoreAccessToken(ctx context.Context, rec domain.TokenRecord) error

	// ReadAccessToken busca por valor de token.
	// Retorna ErrNotFound si no existe.
	ReadAccessToken(ctx context.Context, tokenValue string) (*domain.TokenRecord, error)

	// GetAccessToken busca por authentication id.
	// Retorna ErrNotFound si no existe.
	GetAccessToken(ctx context.Context, authenticationID string) (*domain.TokenRecord, error)

	// FindTokensByClientIDAndUserName lista todas las filas de un par cliente/usuario.
	FindTokensByClientIDAndUserName(ctx context.Context, clientID, userName string) ([]domain.TokenRecord, error)

	// RemoveAccessToken borra por valor de token. No falla si no existe.
	RemoveAccessToken(ctx context.Context, tokenValue string) error

	// ReadByRefreshToken busca por refresh token.
	// Retorna ErrNotFound si no existe.
	ReadByRefreshToken(ctx context.Context, refreshToken string) (*domain.TokenRecord, error)

	// RemoveByRefreshToken borra las filas asociadas al refresh token.
	RemoveByRefreshToken(ctx context.Context, refreshToken string) error
}
