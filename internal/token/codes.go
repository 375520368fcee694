package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/federation/internal/cache"
	"github.com/dropDatabas3/federation/internal/domain"
	tokens "github.com/dropDatabas3/federation/internal/security/token"
)

// CodeGrant es lo que queda asociado a un authorization code.
type CodeGrant struct {
	ClientID    string                         `json:"clientId"`
	RedirectURI string                         `json:"redirectUri"`
	Scopes      []string                       `json:"scopes"`
	Upstream    *domain.UpstreamAuthentication `json:"upstream"`
}

// Codes emite y canjea authorization codes de un solo uso.
type Codes struct {
	cache cache.Client
	ttl   time.Duration
}

func NewCodes(c cache.Client, ttl time.Duration) *Codes {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Codes{cache: c, ttl: ttl}
}

// Issue guarda g y devuelve el code.
func (c *Codes) Issue(ctx context.Context, g CodeGrant) (string, error) {
	code, err := tokens.GenerateOpaqueToken(tokens.StateBytes)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("token: marshal code grant: %w", err)
	}
	if err := c.cache.Set(ctx, "code:"+code, string(b), c.ttl); err != nil {
		return "", fmt.Errorf("token: store code: %w", err)
	}
	return code, nil
}

// Consume canjea el code; un segundo canje falla con ErrInvalidGrant.
func (c *Codes) Consume(ctx context.Context, code string) (*CodeGrant, error) {
	raw, err := c.cache.Take(ctx, "code:"+code)
	if cache.IsNotFound(err) {
		return nil, fmt.Errorf("%w: unknown or used code", ErrInvalidGrant)
	}
	if err != nil {
		return nil, fmt.Errorf("token: read code: %w", err)
	}
	var g CodeGrant
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("%w: corrupt code grant", ErrInvalidGrant)
	}
	return &g, nil
}
