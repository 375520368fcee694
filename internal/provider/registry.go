package provider

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/federation/internal/config"
	"github.com/dropDatabas3/federation/internal/domain"
)

// Registry mapea cada proveedor a su Binding. Inmutable tras NewRegistry;
// se comparte por referencia entre requests sin locking.
type Registry struct {
	byProvider  map[domain.Provider]*Binding
	byLoginPath map[string]*Binding
	ordered     []*Binding
	clientIDs   map[string]struct{}
	clientList  []string
}

// NewRegistry registra todos los bindings y precalcula los client ids conocidos.
// Tags o login paths repetidos, o client ids vacíos, son errores de configuración.
func NewRegistry(bindings ...*Binding) (*Registry, error) {
	r := &Registry{
		byProvider:  make(map[domain.Provider]*Binding, len(bindings)),
		byLoginPath: make(map[string]*Binding, len(bindings)),
		clientIDs:   make(map[string]struct{}, len(bindings)),
	}
	for _, b := range bindings {
		if b == nil || b.OAuth == nil {
			return nil, fmt.Errorf("%w: nil provider binding", domain.ErrConfiguration)
		}
		if _, err := domain.ParseProvider(string(b.Provider)); err != nil {
			return nil, err
		}
		if b.ClientID() == "" {
			return nil, fmt.Errorf("%w: provider %s has no client id", domain.ErrConfiguration, b.Provider)
		}
		if _, dup := r.byProvider[b.Provider]; dup {
			return nil, fmt.Errorf("%w: provider %s registered twice", domain.ErrConfiguration, b.Provider)
		}
		if _, dup := r.byLoginPath[b.LoginPath]; dup {
			return nil, fmt.Errorf("%w: login path %s registered twice", domain.ErrConfiguration, b.LoginPath)
		}
		r.byProvider[b.Provider] = b
		r.byLoginPath[b.LoginPath] = b
		r.ordered = append(r.ordered, b)
		r.clientIDs[b.ClientID()] = struct{}{}
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].Name < r.ordered[j].Name })
	for id := range r.clientIDs {
		r.clientList = append(r.clientList, id)
	}
	sort.Strings(r.clientList)
	return r, nil
}

// Resolve devuelve el binding del proveedor. No registrado es ErrConfiguration.
func (r *Registry) Resolve(p domain.Provider) (*Binding, error) {
	b, ok := r.byProvider[p]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q not registered", domain.ErrConfiguration, p)
	}
	return b, nil
}

// ByLoginPath busca el binding que atiende un login path.
func (r *Registry) ByLoginPath(path string) (*Binding, bool) {
	b, ok := r.byLoginPath[path]
	return b, ok
}

// Bindings devuelve todos los bindings ordenados por nombre.
func (r *Registry) Bindings() []*Binding {
	return append([]*Binding(nil), r.ordered...)
}

// KnownThirdPartyClientIDs lista los client ids de todos los proveedores.
func (r *Registry) KnownThirdPartyClientIDs() []string {
	return append([]string(nil), r.clientList...)
}

// IsThirdPartyClient reporta si el client id pertenece a algún proveedor.
func (r *Registry) IsThirdPartyClient(clientID string) bool {
	_, ok := r.clientIDs[clientID]
	return ok
}

// FromConfig construye el registry desde third_party_logins.
func FromConfig(cfg *config.Config) (*Registry, error) {
	timeout := config.Dur(cfg.Security.UpstreamTimeout, 10*time.Second)
	httpClient := newHTTPClient(timeout)

	bindings := make([]*Binding, 0, len(cfg.ThirdPartyLogins))
	for _, name := range cfg.ThirdPartyLoginNames() {
		tp := cfg.ThirdPartyLogins[name]
		p, err := domain.ParseProvider(tp.PrincipalExtractor)
		if err != nil {
			return nil, fmt.Errorf("third party login %s: %w", name, err)
		}
		bindings = append(bindings, &Binding{
			Provider:  p,
			Name:      displayName(name),
			LoginPath: tp.LoginPath,
			OAuth: &oauth2.Config{
				ClientID:     tp.Client.ClientID,
				ClientSecret: tp.Client.ClientSecret,
				Endpoint: oauth2.Endpoint{
					AuthURL:  tp.Client.UserAuthorizationURI,
					TokenURL: tp.Client.AccessTokenURI,
				},
				RedirectURL: tp.Client.RedirectURI,
				Scopes:      tp.Client.Scopes,
			},
			UserInfoURL: tp.Resource.UserInfoURI,
			MediaURL:    tp.Resource.MediaURI,
			HTTPClient:  httpClient,
		})
	}
	return NewRegistry(bindings...)
}

func displayName(key string) string {
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}
