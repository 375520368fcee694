package auth

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/federation"
	httperrors "github.com/dropDatabas3/federation/internal/http/errors"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/provider"
	"github.com/dropDatabas3/federation/internal/recovery"
	tokens "github.com/dropDatabas3/federation/internal/security/token"
	"github.com/dropDatabas3/federation/internal/session"
)

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Login</title></head>
<body>
<ul>
{{- range .}}
<li><a href="{{.Href}}">Login with {{.Name}}</a></li>
{{- end}}
</ul>
</body>
</html>
`))

type loginLink struct {
	Href string
	Name string
}

// LoginController maneja /login, las rutas de login de cada proveedor y /retry-login.
type LoginController struct {
	fed      *federation.Service
	sessions *session.Store
	cfg      Config
}

func NewLoginController(fed *federation.Service, sessions *session.Store, cfg Config) *LoginController {
	return &LoginController{fed: fed, sessions: sessions, cfg: cfg}
}

// Page maneja GET /login: un link por proveedor configurado.
func (c *LoginController) Page(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	var links []loginLink
	for _, b := range c.fed.Registry().Bindings() {
		links = append(links, loginLink{Href: base + b.LoginPath, Name: b.Name})
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := loginPage.Execute(w, links); err != nil {
		logger.From(r.Context()).Error("render login page", logger.Err(err))
	}
}

// Provider maneja GET <login_path> de b: sin code ni error arranca el login,
// con alguno de ellos es el callback del proveedor.
func (c *LoginController) Provider(b *provider.Binding) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Has("code") || q.Has("error") {
			c.callback(w, r, b)
			return
		}
		c.start(w, r, b)
	}
}

func (c *LoginController) start(w http.ResponseWriter, r *http.Request, b *provider.Binding) {
	ctx := r.Context()
	sess := session.From(ctx)
	state, err := tokens.NewState()
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	sess.Attempt.Begin(b.Provider, state)
	if err := c.sessions.Save(ctx, w, sess); err != nil {
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
		return
	}
	logger.From(ctx).Debug("provider login started", logger.Provider(string(b.Provider)))
	http.Redirect(w, r, b.AuthCodeURL(state), http.StatusFound)
}

func (c *LoginController) callback(w http.ResponseWriter, r *http.Request, b *provider.Binding) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("LoginController.callback"), logger.Provider(string(b.Provider)))
	sess := session.From(ctx)
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		c.fail(w, r, sess, fmt.Errorf("%w: provider returned %s", domain.ErrUpstreamCredentialRejected, e))
		return
	}
	if err := sess.Attempt.CheckCallback(b.Provider, q.Get("state")); err != nil {
		log.Warn("unexpected provider callback", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrLoginStateMismatch.WithCause(err))
		return
	}

	cc, err := b.Exchange(ctx, q.Get("code"))
	if err != nil {
		c.fail(w, r, sess, err)
		return
	}
	raw, err := cc.UserInfo(ctx)
	if err != nil {
		c.fail(w, r, sess, err)
		return
	}
	cp, err := provider.Extract(ctx, b.Provider, raw, cc)
	if err != nil {
		c.fail(w, r, sess, err)
		return
	}
	up := federation.NewUpstream(b, cp, raw)
	if _, err := c.fed.CompleteLogin(ctx, up, cc); err != nil {
		c.fail(w, r, sess, err)
		return
	}

	saved, err := sess.Attempt.Complete()
	if err != nil {
		httperrors.WriteError(w, httperrors.ErrLoginStateMismatch.WithCause(err))
		return
	}
	sess.Upstream = up
	if _, err := c.sessions.Renew(ctx, w, sess); err != nil {
		httperrors.WriteError(w, httperrors.ErrServiceUnavailable.WithCause(err))
		return
	}
	log.Info("provider login completed", logger.PrincipalName(cp.Name))

	target := "/"
	if saved != nil && saved.Method == http.MethodGet && strings.HasPrefix(saved.URL, "/") {
		target = saved.URL
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// fail cierra el intento en curso, deja el request previo guardado para
// /retry-login y responde con el error.
func (c *LoginController) fail(w http.ResponseWriter, r *http.Request, sess *session.Session, err error) {
	ctx := r.Context()
	closed, next := sess.Attempt.Fail(err)
	logger.From(ctx).Info("provider login failed",
		logger.String("attempt_state", string(closed)), logger.Err(err))

	sess.Attempt = *next
	sess.Upstream = nil
	if _, rerr := c.sessions.Renew(ctx, w, sess); rerr != nil {
		logger.From(ctx).Error("renew session after failed login", logger.Err(rerr))
	}
	httperrors.WriteError(w, err)
}

// Retry maneja GET /retry-login.
func (c *LoginController) Retry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := session.From(ctx)
	saved := sess.Attempt.TakeRetry()
	if saved != nil && sess.Persisted() {
		if err := c.sessions.Save(ctx, w, sess); err != nil {
			logger.From(ctx).Warn("save session after retry", logger.Err(err))
		}
	}
	http.Redirect(w, r, recovery.RetryTarget(saved, c.cfg.RedirectURIParamName), http.StatusFound)
}
