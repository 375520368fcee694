package repository

import (
	"context"

	"github.com/dropDatabas3/federation/internal/domain"
)

// ProfileRepository define operaciones sobre perfiles locales.
type ProfileRepository interface {
	// FindByName busca por nombre exacto.
	// Retorna ErrNotFound si no existe.
	FindByName(ctx context.Context, name string) (*domain.UserProfile, error)

	// Save crea el perfil si ID es 0, o lo sobreescribe completo.
	// Las authorities se reemplazan. Devuelve el perfil con ID asignado.
	Save(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error)
}
