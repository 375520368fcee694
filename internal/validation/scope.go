// Package validation valida nombres de scope de los clientes OAuth internos.
package validation

import (
	"fmt"
	"regexp"
)

// Un scope: minúsculas, empieza y termina en [a-z0-9], en el medio [a-z0-9:_.-],
// largo 1..64. Sin espacios ni ';'.
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidScopeName reporta si name es un scope válido.
func ValidScopeName(name string) bool {
	return scopeNameRe.MatchString(name)
}

// ValidateScopes devuelve error con el primer scope inválido.
func ValidateScopes(scopes []string) error {
	for _, s := range scopes {
		if !ValidScopeName(s) {
			return fmt.Errorf("invalid scope %q", s)
		}
	}
	return nil
}
