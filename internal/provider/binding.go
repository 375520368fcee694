// Package provider modela los proveedores OAuth2 externos: cada Binding une un
// tag de proveedor con su cliente OAuth2, su endpoint de user-info y su login path.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/federation/internal/domain"
)

const defaultEventbriteMediaURL = "https://www.eventbriteapi.com/v3/media/"

// Binding es la configuración inmutable de un proveedor, construida al arranque.
type Binding struct {
	Provider    domain.Provider
	Name        string
	LoginPath   string
	OAuth       *oauth2.Config
	UserInfoURL string
	// MediaURL solo aplica a EVENTBRITE (resolución de image_id).
	MediaURL   string
	HTTPClient *http.Client
}

// ClientID es el client id registrado en el proveedor.
func (b *Binding) ClientID() string { return b.OAuth.ClientID }

// Scopes pedidos al proveedor.
func (b *Binding) Scopes() []string { return append([]string(nil), b.OAuth.Scopes...) }

// AuthCodeURL arma el redirect al endpoint de autorización del proveedor.
func (b *Binding) AuthCodeURL(state string) string {
	return b.OAuth.AuthCodeURL(state)
}

// Exchange canjea el code del callback. Un rechazo del proveedor es ErrUpstreamCredentialRejected.
func (b *Binding) Exchange(ctx context.Context, code string) (*ClientContext, error) {
	tok, err := b.OAuth.Exchange(b.oauthCtx(ctx), code)
	if err != nil {
		return nil, rejected("exchange code", err)
	}
	return b.Context(tok), nil
}

// Context liga un token ya obtenido (o leído del store) al cliente del proveedor.
func (b *Binding) Context(tok *oauth2.Token) *ClientContext {
	return &ClientContext{binding: b, token: tok}
}

func (b *Binding) mediaURL() string {
	if b.MediaURL != "" {
		return strings.TrimRight(b.MediaURL, "/") + "/"
	}
	return defaultEventbriteMediaURL
}

func (b *Binding) oauthCtx(ctx context.Context) context.Context {
	if b.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, b.HTTPClient)
	}
	return ctx
}

// ClientContext es el cliente OAuth2 del proveedor con un token inyectado.
// No es seguro para uso concurrente; vive dentro de una operación.
type ClientContext struct {
	binding *Binding
	token   *oauth2.Token
}

// Binding devuelve el proveedor al que está ligado.
func (c *ClientContext) Binding() *Binding { return c.binding }

// Token devuelve el token actual sin intentar renovarlo.
func (c *ClientContext) Token() *oauth2.Token { return c.token }

// AccessToken devuelve un token utilizable: el actual si sigue vigente,
// o uno renovado si venció y hay refresh token.
func (c *ClientContext) AccessToken(ctx context.Context) (*oauth2.Token, error) {
	if c.token == nil {
		return nil, fmt.Errorf("%w: no access token bound", domain.ErrUpstreamCredentialRejected)
	}
	if c.token.Valid() {
		return c.token, nil
	}
	return c.Refresh(ctx)
}

// Refresh obtiene un token nuevo con el refresh grant.
//
// Sin refresh token (Eventbrite no los emite) el token actual se reutiliza
// mientras no haya expirado; si expiró, es un rechazo.
func (c *ClientContext) Refresh(ctx context.Context) (*oauth2.Token, error) {
	if c.token == nil {
		return nil, fmt.Errorf("%w: no access token bound", domain.ErrUpstreamCredentialRejected)
	}
	if c.token.RefreshToken == "" {
		if c.token.Valid() {
			return c.token, nil
		}
		return nil, fmt.Errorf("%w: access token expired and no refresh token", domain.ErrUpstreamCredentialRejected)
	}

	// Sin access token el TokenSource siempre va al refresh grant.
	seed := &oauth2.Token{RefreshToken: c.token.RefreshToken}
	tok, err := c.binding.OAuth.TokenSource(c.binding.oauthCtx(ctx), seed).Token()
	if err != nil {
		return nil, rejected("refresh token", err)
	}
	c.token = tok
	return tok, nil
}

// UserInfo consulta el endpoint de user-info con el token actual.
func (c *ClientContext) UserInfo(ctx context.Context) (map[string]any, error) {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := c.getJSON(ctx, tok, c.binding.UserInfoURL, &raw); err != nil {
		if errors.Is(err, errDecode) {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedUserInfo, err)
		}
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: empty user info", domain.ErrMalformedUserInfo)
	}
	return raw, nil
}

// PictureURL resuelve un image_id de Eventbrite a su URL pública.
func (c *ClientContext) PictureURL(ctx context.Context, imageID string) (string, error) {
	tok, err := c.AccessToken(ctx)
	if err != nil {
		return "", err
	}
	var media struct {
		URL string `json:"url"`
	}
	if err := c.getJSON(ctx, tok, c.binding.mediaURL()+imageID, &media); err != nil {
		return "", err
	}
	if media.URL == "" {
		return "", fmt.Errorf("media %s: no url", imageID)
	}
	return media.URL, nil
}

var errDecode = errors.New("decode response")

func (c *ClientContext) getJSON(ctx context.Context, tok *oauth2.Token, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", domain.ErrConfiguration, err)
	}
	req.Header.Set("Accept", "application/json")

	httpClient := oauth2.NewClient(c.binding.oauthCtx(ctx), oauth2.StaticTokenSource(tok))
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %v", domain.ErrUpstreamCredentialRejected, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%w: GET %s: status %d", domain.ErrUpstreamCredentialRejected, url, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}
	return nil
}

func rejected(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if code == "" && re.Response != nil {
			code = re.Response.Status
		}
		return fmt.Errorf("%w: %s: %s", domain.ErrUpstreamCredentialRejected, op, code)
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrUpstreamCredentialRejected, op, err)
}

// newHTTPClient aplica el timeout de llamadas salientes.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
