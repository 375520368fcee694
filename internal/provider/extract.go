package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/observability/logger"
)

// DefaultAuthority se otorga cuando el user-info no trae authorities.
const DefaultAuthority = "ROLE_USER"

// PictureResolver resuelve ids de imagen a URLs (Eventbrite).
type PictureResolver interface {
	PictureURL(ctx context.Context, imageID string) (string, error)
}

// Extract normaliza el user-info crudo de un proveedor a un CanonicalPrincipal.
// Un nombre de principal ausente o de tipo incorrecto es ErrMalformedUserInfo;
// los campos opcionales nunca fallan.
func Extract(ctx context.Context, p domain.Provider, raw map[string]any, pictures PictureResolver) (domain.CanonicalPrincipal, error) {
	cp := domain.CanonicalPrincipal{Provider: p}

	switch p {
	case domain.ProviderInternal:
		name, ok := str(raw, "name")
		if !ok {
			return cp, malformed(p, "name")
		}
		info, _ := raw["userInfo"].(map[string]any)
		cp.Name = name
		cp.FirstName, _ = str(info, "firstName")
		cp.LastName, _ = str(info, "lastName")
		cp.ProfilePictureURL, _ = str(info, "profilePictureUrl")
		if v, present := raw["userInfo"]; present {
			cp.UserInfo = v
		}

	case domain.ProviderEventbrite:
		name, ok := eventbriteEmail(raw)
		if !ok {
			return cp, malformed(p, "emails[0].email")
		}
		cp.Name = name
		cp.FirstName, _ = str(raw, "first_name")
		cp.LastName, _ = str(raw, "last_name")
		cp.ProfilePictureURL = eventbritePicture(ctx, raw, pictures)
		cp.UserInfo = raw

	case domain.ProviderGoogle:
		name, ok := str(raw, "email")
		if !ok {
			return cp, malformed(p, "email")
		}
		cp.Name = name
		cp.FirstName, _ = str(raw, "given_name")
		cp.LastName, _ = str(raw, "family_name")
		cp.ProfilePictureURL, _ = str(raw, "picture")
		cp.UserInfo = raw

	default:
		return cp, fmt.Errorf("%w: no extractor for provider %q", domain.ErrConfiguration, p)
	}
	return cp, nil
}

// ExtractAuthorities lee "authorities" del user-info: lista de strings, lista de
// {"authority": ...} o string separado por comas. Sin valor, ROLE_USER.
func ExtractAuthorities(raw map[string]any) []domain.Authority {
	var names []string
	switch v := raw["authorities"].(type) {
	case string:
		for _, s := range strings.Split(v, ",") {
			names = append(names, strings.TrimSpace(s))
		}
	case []any:
		for _, item := range v {
			switch a := item.(type) {
			case string:
				names = append(names, strings.TrimSpace(a))
			case map[string]any:
				if s, ok := a["authority"].(string); ok {
					names = append(names, strings.TrimSpace(s))
				}
			}
		}
	}
	out := domain.DedupAuthorities(domain.Authorities(names...))
	if len(out) == 0 {
		return domain.Authorities(DefaultAuthority)
	}
	return out
}

func eventbriteEmail(raw map[string]any) (string, bool) {
	emails, ok := raw["emails"].([]any)
	if !ok || len(emails) == 0 {
		return "", false
	}
	first, ok := emails[0].(map[string]any)
	if !ok {
		return "", false
	}
	return str(first, "email")
}

// eventbritePicture degrada a "" ante cualquier fallo.
func eventbritePicture(ctx context.Context, raw map[string]any, pictures PictureResolver) string {
	id := scalar(raw["image_id"])
	if id == "" || pictures == nil {
		return ""
	}
	url, err := pictures.PictureURL(ctx, id)
	if err != nil {
		logger.From(ctx).Warn("error retrieving profile picture",
			logger.Provider(string(domain.ProviderEventbrite)), logger.String("image_id", id), logger.Err(err))
		return ""
	}
	return url
}

func str(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// scalar acepta ids numéricos o string.
func scalar(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return fmt.Sprintf("%.0f", x)
	default:
		return ""
	}
}

func malformed(p domain.Provider, field string) error {
	return fmt.Errorf("%w: %s user info has no %s", domain.ErrMalformedUserInfo, p, field)
}
