package domain

import "time"

// AccessToken es el valor serializado en la columna token.
type AccessToken struct {
	Value        string    `json:"value"`
	TokenType    string    `json:"tokenType"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Expired reporta si el token venció respecto de now. Sin expiry nunca vence.
func (t AccessToken) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && !now.Before(t.Expiry)
}

// TokenRecord es una fila de cualquiera de los dos keyspaces.
type TokenRecord struct {
	TokenID          string
	Token            AccessToken
	AuthenticationID string
	UserName         string
	ClientID         string
	// En el keyspace interno es *Authentication; en el de terceros, *UpstreamAuthentication.
	Authentication []byte
	RefreshToken   string
}
