// Package oauth implementa el servidor de autorización interno: authorization
// code para sesiones federadas y el token endpoint.
package oauth

import (
	"net/http"
	"net/url"
	"strings"

	httperrors "github.com/dropDatabas3/federation/internal/http/errors"
	"github.com/dropDatabas3/federation/internal/http/middlewares"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/token"
	"github.com/dropDatabas3/federation/internal/validation"
)

// AuthorizeController maneja GET /oauth/authorize.
type AuthorizeController struct {
	tokens *token.Service
	codes  *token.Codes
}

func NewAuthorizeController(tokens *token.Service, codes *token.Codes) *AuthorizeController {
	return &AuthorizeController{tokens: tokens, codes: codes}
}

// Authorize emite un code para la sesión federada autenticada. Los scopes se
// aprueban automáticamente. Requiere RequireAuthentication.
func (c *AuthorizeController) Authorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("AuthorizeController.Authorize"))
	q := r.URL.Query()

	client, ok := c.tokens.Clients()[q.Get("client_id")]
	if !ok {
		httperrors.WriteError(w, httperrors.ErrInvalidClient)
		return
	}
	redirectURI := q.Get("redirect_uri")
	if redirectURI == "" && len(client.RedirectURIs) == 1 {
		redirectURI = client.RedirectURIs[0]
	}
	if !client.AllowsRedirect(redirectURI) {
		httperrors.WriteError(w, httperrors.ErrInvalidParameter.WithDetail("redirect_uri"))
		return
	}
	state := q.Get("state")

	if q.Get("response_type") != "code" {
		redirectError(w, r, redirectURI, state, "unsupported_response_type")
		return
	}
	scopes, ok := client.GrantScopes(q.Get("scope"))
	if !ok || validation.ValidateScopes(scopes) != nil {
		redirectError(w, r, redirectURI, state, "invalid_scope")
		return
	}
	auth := middlewares.GetAuth(ctx)
	if auth == nil || auth.Authentication.Upstream == nil {
		redirectError(w, r, redirectURI, state, "access_denied")
		return
	}

	code, err := c.codes.Issue(ctx, token.CodeGrant{
		ClientID:    client.ID,
		RedirectURI: redirectURI,
		Scopes:      scopes,
		Upstream:    auth.Authentication.Upstream,
	})
	if err != nil {
		log.Error("issue authorization code", logger.Err(err))
		redirectError(w, r, redirectURI, state, "server_error")
		return
	}
	v := url.Values{"code": {code}}
	if state != "" {
		v.Set("state", state)
	}
	log.Debug("authorization code issued", logger.ClientID(client.ID))
	http.Redirect(w, r, withQuery(redirectURI, v), http.StatusFound)
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, state, code string) {
	v := url.Values{"error": {code}}
	if state != "" {
		v.Set("state", state)
	}
	http.Redirect(w, r, withQuery(redirectURI, v), http.StatusFound)
}

func withQuery(base string, v url.Values) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + v.Encode()
}
