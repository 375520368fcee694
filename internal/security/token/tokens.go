package tokens

import (
	"crypto/rand"
	"encoding/base64"
)

// StateBytes es el tamaño de los valores de state y de los authorization codes.
const StateBytes = 24

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
func GenerateOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// NewState genera un state OAuth2.
func NewState() (string, error) { return GenerateOpaqueToken(StateBytes) }
