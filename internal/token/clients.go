package token

import (
	"crypto/subtle"
	"errors"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dropDatabas3/federation/internal/config"
)

var (
	ErrInvalidClient = errors.New("invalid_client")
	ErrInvalidGrant  = errors.New("invalid_grant")
	ErrInvalidToken  = errors.New("invalid_token")
)

// Client es un cliente OAuth registrado en el servidor de autorización interno.
type Client struct {
	ID string
	config.OAuthClient
}

// AllowsRedirect reporta si uri está registrada para el cliente.
func (c Client) AllowsRedirect(uri string) bool {
	return uri != "" && slices.Contains(c.RedirectURIs, uri)
}

// GrantScopes recorta los scopes pedidos a los del cliente. Sin pedido, todos.
func (c Client) GrantScopes(requested string) ([]string, bool) {
	req := strings.Fields(requested)
	if len(req) == 0 {
		return append([]string(nil), c.Scopes...), true
	}
	for _, s := range req {
		if !slices.Contains(c.Scopes, s) {
			return nil, false
		}
	}
	return req, true
}

// Clients indexa los clientes por id.
type Clients map[string]Client

// ClientsFromConfig arma el índice desde la configuración.
func ClientsFromConfig(cfg map[string]config.OAuthClient) Clients {
	out := make(Clients, len(cfg))
	for id, oc := range cfg {
		out[id] = Client{ID: id, OAuthClient: oc}
	}
	return out
}

// Authenticate valida client_id y secret (bcrypt o en claro).
func (cs Clients) Authenticate(id, secret string) (Client, error) {
	c, ok := cs[id]
	if !ok || secret == "" {
		return Client{}, ErrInvalidClient
	}
	if c.SecretBcrypt != "" {
		if bcrypt.CompareHashAndPassword([]byte(c.SecretBcrypt), []byte(secret)) != nil {
			return Client{}, ErrInvalidClient
		}
		return c, nil
	}
	if subtle.ConstantTimeCompare([]byte(c.Secret), []byte(secret)) != 1 {
		return Client{}, ErrInvalidClient
	}
	return c, nil
}
