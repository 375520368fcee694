package auth

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/http/middlewares"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/session"
	"github.com/dropDatabas3/federation/internal/token"
)

// LogoutController maneja GET/POST /logout.
type LogoutController struct {
	sessions *session.Store
	tokens   *token.Service
	cfg      Config
}

func NewLogoutController(sessions *session.Store, tokens *token.Service, cfg Config) *LogoutController {
	return &LogoutController{sessions: sessions, tokens: tokens, cfg: cfg}
}

// Logout cierra la sesión (y revoca el bearer si vino uno) y redirige. Si el
// usuario entró por el proveedor INTERNAL y hay logout upstream configurado,
// se encadena: <internal_logout_uri>?<param>=<destino>.
func (c *LogoutController) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("LogoutController.Logout"))

	target := c.target(r)
	sess := session.From(ctx)
	var p domain.Provider
	if sess.Authenticated() {
		p = sess.Upstream.Principal.Provider
	}

	if raw, ok := middlewares.BearerToken(r); ok {
		if auth, err := c.tokens.Authenticate(ctx, raw); err == nil {
			p = auth.Provider
		}
		if err := c.tokens.Revoke(ctx, raw); err != nil {
			log.Warn("revoke access token", logger.Err(err))
		}
	}
	if err := c.sessions.Invalidate(ctx, w, sess); err != nil {
		log.Warn("invalidate session", logger.Err(err))
	}

	if p == domain.ProviderInternal && c.cfg.InternalLogoutURI != "" {
		target = c.cfg.InternalLogoutURI + "?" + url.Values{c.cfg.RedirectURIParamName: {target}}.Encode()
	}
	log.Debug("logout completed", logger.Provider(string(p)))
	http.Redirect(w, r, target, http.StatusFound)
}

func (c *LogoutController) target(r *http.Request) string {
	t := strings.TrimSpace(r.FormValue(c.cfg.RedirectURIParamName))
	if t == "" || !c.allowed(t) {
		return c.cfg.DefaultLogoutRedirect
	}
	return t
}

// allowed: sin prefijos configurados acepta cualquier destino.
func (c *LogoutController) allowed(t string) bool {
	if len(c.cfg.AllowedRedirectPrefixes) == 0 {
		return true
	}
	if strings.HasPrefix(t, "/") && !strings.HasPrefix(t, "//") {
		return true
	}
	for _, p := range c.cfg.AllowedRedirectPrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}
