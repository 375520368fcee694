package memory

import (
	"context"
	"sync"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
)

// ProfileRepo guarda perfiles por nombre.
type ProfileRepo struct {
	mu     sync.RWMutex
	nextID int64
	byName map[string]domain.UserProfile
}

var _ repository.ProfileRepository = (*ProfileRepo)(nil)

func NewProfileRepo() *ProfileRepo {
	return &ProfileRepo{byName: make(map[string]domain.UserProfile)}
}

func (r *ProfileRepo) FindByName(_ context.Context, name string) (*domain.UserProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := cloneProfile(p)
	return &out, nil
}

func (r *ProfileRepo) Save(_ context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := cloneProfile(*p)
	out.Authorities = domain.DedupAuthorities(out.Authorities)
	if existing, ok := r.byName[out.Name]; ok {
		out.ID = existing.ID
	} else {
		r.nextID++
		out.ID = r.nextID
	}
	r.byName[out.Name] = out
	res := cloneProfile(out)
	return &res, nil
}

func cloneProfile(p domain.UserProfile) domain.UserProfile {
	p.Authorities = append([]domain.Authority(nil), p.Authorities...)
	return p
}
