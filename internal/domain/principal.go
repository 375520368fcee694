package domain

// CanonicalPrincipal es la forma normalizada de un usuario autenticado en un proveedor.
type CanonicalPrincipal struct {
	Provider          Provider `json:"loginProvider"`
	Name              string   `json:"name"`
	FirstName         string   `json:"firstName,omitempty"`
	LastName          string   `json:"lastName,omitempty"`
	ProfilePictureURL string   `json:"profilePictureUrl,omitempty"`
	// UserInfo es el payload crudo del proveedor (o la parte relevante), opaco.
	UserInfo any `json:"userInfo,omitempty"`
}

// Authority es un permiso otorgado. Igualdad por valor.
type Authority struct {
	Authority string `json:"authority"`
}

// Authorities construye la lista a partir de nombres.
func Authorities(names ...string) []Authority {
	out := make([]Authority, 0, len(names))
	for _, n := range names {
		out = append(out, Authority{Authority: n})
	}
	return out
}

// AuthorityNames devuelve los nombres en el mismo orden.
func AuthorityNames(as []Authority) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Authority)
	}
	return out
}

// DedupAuthorities conserva el primer orden de aparición.
func DedupAuthorities(as []Authority) []Authority {
	seen := make(map[string]struct{}, len(as))
	out := make([]Authority, 0, len(as))
	for _, a := range as {
		if a.Authority == "" {
			continue
		}
		if _, ok := seen[a.Authority]; ok {
			continue
		}
		seen[a.Authority] = struct{}{}
		out = append(out, a)
	}
	return out
}
