// Package auth contiene los controllers del login federado: página de login,
// rutas de proveedor, recuperación y logout.
package auth

import (
	"github.com/dropDatabas3/federation/internal/federation"
	"github.com/dropDatabas3/federation/internal/session"
	"github.com/dropDatabas3/federation/internal/token"
)

// Config agrupa lo que los controllers toman de la configuración.
type Config struct {
	BaseURL                 string
	RedirectURIParamName    string
	DefaultLogoutRedirect   string
	InternalLogoutURI       string
	AllowedRedirectPrefixes []string
}

// Controllers agrupa todos los controllers del dominio auth.
type Controllers struct {
	Login  *LoginController
	Logout *LogoutController
}

func NewControllers(fed *federation.Service, sessions *session.Store, tokens *token.Service, cfg Config) *Controllers {
	return &Controllers{
		Login:  NewLoginController(fed, sessions, cfg),
		Logout: NewLogoutController(sessions, tokens, cfg),
	}
}
