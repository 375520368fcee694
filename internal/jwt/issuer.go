package jwt

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	jwtv5 "github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims son las claims de los tokens internos.
type Claims struct {
	Type        string   `json:"typ"`
	ClientID    string   `json:"client_id"`
	Scope       string   `json:"scope,omitempty"`
	Authorities []string `json:"authorities,omitempty"`
	Provider    string   `json:"provider,omitempty"`
	jwtv5.RegisteredClaims
}

// Scopes devuelve el claim scope separado por espacios.
func (c *Claims) Scopes() []string { return strings.Fields(c.Scope) }

// Issuer firma y valida tokens internos con HS256.
type Issuer struct {
	Iss        string        // "iss"
	AccessTTL  time.Duration // TTL por defecto de access tokens
	RefreshTTL time.Duration // TTL por defecto de refresh tokens

	key []byte
	now func() time.Time
}

var ErrShortKey = errors.New("jwt: signing key must not be empty")

func NewIssuer(iss string, key []byte) (*Issuer, error) {
	if len(key) == 0 {
		return nil, ErrShortKey
	}
	return &Issuer{
		Iss:        iss,
		AccessTTL:  30 * time.Minute,
		RefreshTTL: 30 * 24 * time.Hour,
		key:        append([]byte(nil), key...),
		now:        time.Now,
	}, nil
}

// Subject describe a quién se emite un token.
type Subject struct {
	UserName    string
	ClientID    string
	Scopes      []string
	Authorities []string
	Provider    string
}

// IssueAccess emite un access token. ttl 0 usa AccessTTL.
func (i *Issuer) IssueAccess(sub Subject, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = i.AccessTTL
	}
	return i.sign(TypeAccess, sub, ttl)
}

// IssueRefresh emite un refresh token. ttl 0 usa RefreshTTL.
func (i *Issuer) IssueRefresh(sub Subject, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = i.RefreshTTL
	}
	return i.sign(TypeRefresh, Subject{UserName: sub.UserName, ClientID: sub.ClientID}, ttl)
}

func (i *Issuer) sign(typ string, sub Subject, ttl time.Duration) (string, time.Time, error) {
	now := i.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		Type:        typ,
		ClientID:    sub.ClientID,
		Scope:       strings.Join(sub.Scopes, " "),
		Authorities: sub.Authorities,
		Provider:    sub.Provider,
		RegisteredClaims: jwtv5.RegisteredClaims{
			Issuer:    i.Iss,
			Subject:   sub.UserName,
			Audience:  jwtv5.ClaimStrings{sub.ClientID},
			ID:        uuid.NewString(),
			IssuedAt:  jwtv5.NewNumericDate(now),
			NotBefore: jwtv5.NewNumericDate(now),
			ExpiresAt: jwtv5.NewNumericDate(exp),
		},
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodHS256, claims)
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
