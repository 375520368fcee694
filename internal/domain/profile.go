package domain

import "fmt"

// UserProfile es el registro local de identidad, independiente del proveedor.
type UserProfile struct {
	ID                int64       `json:"id"`
	Name              string      `json:"name"`
	Email             string      `json:"email"`
	FirstName         string      `json:"firstName"`
	LastName          string      `json:"lastName"`
	ProfilePictureURL string      `json:"profilePictureUrl,omitempty"`
	Authorities       []Authority `json:"authorities"`
	Provider          Provider    `json:"loginProvider"`
}

// AssertProvider falla con ErrProfileConflict si el perfil pertenece a otro proveedor.
func (p *UserProfile) AssertProvider(provider Provider) error {
	if p.Provider != provider {
		return fmt.Errorf("%w: duplicate profile detected for %s: %s & %s",
			ErrProfileConflict, p.Name, p.Provider, provider)
	}
	return nil
}

// ApplyPrincipal sobreescribe todos los campos derivados del principal.
// Las authorities se reemplazan, no se unen.
func (p *UserProfile) ApplyPrincipal(principal CanonicalPrincipal, authorities []Authority) {
	p.Name = principal.Name
	p.Email = principal.Name
	p.FirstName = principal.FirstName
	p.LastName = principal.LastName
	p.ProfilePictureURL = principal.ProfilePictureURL
	p.Provider = principal.Provider
	p.Authorities = DedupAuthorities(authorities)
}
