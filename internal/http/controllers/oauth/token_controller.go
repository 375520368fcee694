package oauth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/token"
)

// TokenResponse es la respuesta del token endpoint.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

type oauthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenController maneja POST /oauth/token.
type TokenController struct {
	tokens *token.Service
	codes  *token.Codes
}

func NewTokenController(tokens *token.Service, codes *token.Codes) *TokenController {
	return &TokenController{tokens: tokens, codes: codes}
}

// Token atiende los grants authorization_code y refresh_token. El cliente se
// autentica con HTTP Basic o con client_id/client_secret en el form.
func (c *TokenController) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("TokenController.Token"))
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form")
		return
	}

	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	client, err := c.tokens.Clients().Authenticate(id, secret)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client", "")
		return
	}

	var tok *domain.AccessToken
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		tok, err = c.authorizationCode(r, client)
	case "refresh_token":
		tok, err = c.tokens.RefreshGrant(ctx, client.ID, r.PostForm.Get("refresh_token"))
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
		return
	}
	if err != nil {
		log.Info("token request rejected", logger.ClientID(client.ID), logger.Err(err))
		switch {
		case errors.Is(err, token.ErrInvalidGrant):
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "")
		case errors.Is(err, domain.ErrTokenStateInconsistent):
			writeOAuthError(w, http.StatusUnauthorized, "invalid_grant", "token state inconsistent")
		default:
			writeOAuthError(w, http.StatusInternalServerError, "server_error", "")
		}
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	_ = json.NewEncoder(w).Encode(TokenResponse{
		AccessToken:  tok.Value,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    int64(time.Until(tok.Expiry).Seconds()),
		Scope:        strings.Join(tok.Scopes, " "),
	})
}

func (c *TokenController) authorizationCode(r *http.Request, client token.Client) (*domain.AccessToken, error) {
	g, err := c.codes.Consume(r.Context(), r.PostForm.Get("code"))
	if err != nil {
		return nil, err
	}
	if g.ClientID != client.ID {
		return nil, token.ErrInvalidGrant
	}
	if uri := r.PostForm.Get("redirect_uri"); uri != "" && uri != g.RedirectURI {
		return nil, token.ErrInvalidGrant
	}
	auth := domain.Authentication{ClientID: client.ID, Scopes: g.Scopes}.WithUpstream(g.Upstream)
	return c.tokens.Issue(r.Context(), auth)
}

func writeOAuthError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(oauthError{Error: code, ErrorDescription: desc})
}
