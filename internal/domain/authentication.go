package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// UpstreamAuthentication es la autenticación resultante de un login en un proveedor.
type UpstreamAuthentication struct {
	// ClientID es el client id registrado en el proveedor.
	ClientID    string             `json:"clientId"`
	Scopes      []string           `json:"scopes"`
	Principal   CanonicalPrincipal `json:"principal"`
	Authorities []Authority        `json:"authorities"`
}

// Key identifica la autenticación en el keyspace de terceros.
func (u *UpstreamAuthentication) Key() string {
	return AuthenticationKey(u.Principal.Name, u.ClientID, u.Scopes)
}

// Authentication es la autenticación embebida en un token interno.
//
// Upstream está presente cuando proviene de un login federado y ausente
// cuando fue reconstruida desde el perfil (refresh grant interno).
type Authentication struct {
	ClientID    string                  `json:"clientId"`
	Scopes      []string                `json:"scopes"`
	UserName    string                  `json:"userName"`
	Provider    Provider                `json:"loginProvider"`
	Authorities []Authority             `json:"authorities"`
	Upstream    *UpstreamAuthentication `json:"upstream,omitempty"`
}

// Key identifica la autenticación en el keyspace interno.
func (a *Authentication) Key() string {
	return AuthenticationKey(a.UserName, a.ClientID, a.Scopes)
}

// Principal devuelve el principal canónico si la autenticación lo trae.
func (a *Authentication) Principal() (CanonicalPrincipal, bool) {
	if a == nil || a.Upstream == nil {
		return CanonicalPrincipal{}, false
	}
	return a.Upstream.Principal, true
}

// WithUpstream devuelve una copia que embebe el upstream dado.
func (a Authentication) WithUpstream(up *UpstreamAuthentication) *Authentication {
	a.Upstream = up
	a.UserName = up.Principal.Name
	a.Provider = up.Principal.Provider
	a.Authorities = up.Authorities
	return &a
}

// DecodeAuthentication lee la columna authentication del keyspace interno.
func DecodeAuthentication(b []byte) (*Authentication, error) {
	var a Authentication
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("%w: decode authentication: %v", ErrTokenStateInconsistent, err)
	}
	return &a, nil
}

// DecodeUpstream lee la columna authentication del keyspace de terceros.
func DecodeUpstream(b []byte) (*UpstreamAuthentication, error) {
	var u UpstreamAuthentication
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, fmt.Errorf("%w: decode upstream authentication: %v", ErrTokenStateInconsistent, err)
	}
	return &u, nil
}

// AuthenticationKey deriva el authentication id a partir de usuario, cliente y scopes.
func AuthenticationKey(userName, clientID string, scopes []string) string {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)
	var b strings.Builder
	b.WriteString("username=")
	b.WriteString(userName)
	b.WriteString(",client_id=")
	b.WriteString(clientID)
	b.WriteString(",scope=")
	b.WriteString(strings.Join(sorted, " "))
	return hashHex(b.String())
}

// TokenID deriva la clave primaria de un valor de token.
func TokenID(value string) string {
	if value == "" {
		return ""
	}
	return hashHex(value)
}

func hashHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
