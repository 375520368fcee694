package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/federation/internal/observability/logger"
)

// CookieConfig describe la cookie de sesión.
type CookieConfig struct {
	Name     string
	Domain   string
	SameSite string // "", "lax", "strict", "none"
	Secure   bool
}

// parseSameSite convierte el string de config a http.SameSite. Default: Lax.
func parseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		logger.L().Warn("cookie: unknown SameSite, using Lax", logger.String("samesite", s))
		return http.SameSiteLaxMode
	}
}

// BuildSessionCookie construye la cookie de sesión con flags de seguridad.
func BuildSessionCookie(cfg CookieConfig, value string, ttl time.Duration) *http.Cookie {
	ss := parseSameSite(cfg.SameSite)
	if ss == http.SameSiteNoneMode && !cfg.Secure {
		// algunos navegadores rechazan SameSite=None sin Secure
		logger.L().Warn("cookie: SameSite=None without Secure", logger.String("domain", cfg.Domain))
	}
	return &http.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  time.Now().UTC().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: ss,
	}
}

// BuildDeletionCookie devuelve una cookie que borra la sesión del browser.
func BuildDeletionCookie(cfg CookieConfig) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.Name,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		Secure:   cfg.Secure,
		HttpOnly: true,
		SameSite: parseSameSite(cfg.SameSite),
	}
}
