package federation

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
	"github.com/dropDatabas3/federation/internal/metrics"
	"github.com/dropDatabas3/federation/internal/observability/logger"
)

// Sync crea o sobreescribe el perfil local del principal de up.
//
// Si ya existe un perfil con ese nombre de otro proveedor devuelve
// ErrProfileConflict y no escribe nada.
func (s *Service) Sync(ctx context.Context, up *domain.UpstreamAuthentication) (*domain.UserProfile, error) {
	unlock, err := s.lock(ctx, up.Principal.Name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.syncLocked(context.WithoutCancel(ctx), up)
}

func (s *Service) syncLocked(ctx context.Context, up *domain.UpstreamAuthentication) (*domain.UserProfile, error) {
	cp := up.Principal
	log := s.log(ctx, "Sync").With(logger.Provider(string(cp.Provider)), logger.PrincipalName(cp.Name))

	profile, err := s.deps.Profiles.FindByName(ctx, cp.Name)
	switch {
	case repository.IsNotFound(err):
		profile = &domain.UserProfile{}
	case err != nil:
		return nil, fmt.Errorf("federation: read profile: %w", err)
	default:
		if err := profile.AssertProvider(cp.Provider); err != nil {
			log.Warn("profile conflict", logger.String("stored_provider", string(profile.Provider)))
			metrics.ProfileConflictsTotal.WithLabelValues(string(cp.Provider)).Inc()
			if s.deps.Notifier != nil {
				s.deps.Notifier.NotifyConflict(ctx, profile, cp.Provider)
			}
			return nil, err
		}
	}

	created := profile.ID == 0
	profile.ApplyPrincipal(cp, up.Authorities)
	saved, err := s.deps.Profiles.Save(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("federation: save profile: %w", err)
	}
	if created {
		log.Info("profile created")
	} else {
		log.Debug("profile updated")
	}
	return saved, nil
}

// IsConflict reporta si err es un conflicto de perfil.
func IsConflict(err error) bool { return errors.Is(err, domain.ErrProfileConflict) }
