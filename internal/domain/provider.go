// Package domain contiene los tipos del núcleo de federación: proveedores,
// principal canónico, perfiles locales, autenticaciones y registros de token.
package domain

import (
	"fmt"
	"strings"
)

// Provider es el tag cerrado de un proveedor de identidad externo.
type Provider string

const (
	// ProviderInternal es el IdP propio de la organización.
	ProviderInternal   Provider = "INTERNAL"
	ProviderEventbrite Provider = "EVENTBRITE"
	ProviderGoogle     Provider = "GOOGLE"
)

// Providers lista el conjunto cerrado en orden estable.
var Providers = []Provider{ProviderInternal, ProviderEventbrite, ProviderGoogle}

// ParseProvider convierte el valor de configuración en un Provider.
// Un tag desconocido es un error de configuración.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case ProviderInternal, ProviderEventbrite, ProviderGoogle:
		return p, nil
	case "":
		return "", fmt.Errorf("%w: empty provider tag", ErrConfiguration)
	default:
		return "", fmt.Errorf("%w: unknown provider tag %q", ErrConfiguration, s)
	}
}

func (p Provider) String() string { return string(p) }
