// Package recovery modela el intento de login federado como una máquina de
// estados y la recuperación tras un login fallido.
//
//	ANONYMOUS -> AWAITING_PROVIDER_CALLBACK -> AUTHENTICATED
//	                                        -> CONFLICT_DETECTED -> ANONYMOUS
//
// Tras un fallo, el request previo al login queda guardado para un único
// intento de recuperación (/retry-login).
package recovery

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"

	"github.com/dropDatabas3/federation/internal/domain"
)

type State string

const (
	Anonymous                State = "ANONYMOUS"
	AwaitingProviderCallback State = "AWAITING_PROVIDER_CALLBACK"
	Authenticated            State = "AUTHENTICATED"
	ConflictDetected         State = "CONFLICT_DETECTED"
)

// LogoutPath es el destino de la recuperación.
const LogoutPath = "/logout"

var (
	ErrInvalidTransition = errors.New("recovery: invalid transition")
	ErrStateMismatch     = errors.New("recovery: oauth state mismatch")
)

// SavedRequest es el request original que disparó el login.
type SavedRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Attempt es el estado de login de una sesión.
type Attempt struct {
	State      State           `json:"state"`
	Provider   domain.Provider `json:"provider,omitempty"`
	OAuthState string          `json:"oauthState,omitempty"`
	// Saved es el destino previo al login.
	Saved *SavedRequest `json:"saved,omitempty"`
	// Retry es el destino guardado para la recuperación; se consume una vez.
	Retry *SavedRequest `json:"retry,omitempty"`
}

// Current devuelve el estado, ANONYMOUS si no hay ninguno.
func (a *Attempt) Current() State {
	if a.State == "" {
		return Anonymous
	}
	return a.State
}

// Save recuerda el request que requirió autenticación.
func (a *Attempt) Save(r *SavedRequest) { a.Saved = r }

// Begin arranca un login contra p. Desde cualquier estado: un login nuevo
// descarta el anterior.
func (a *Attempt) Begin(p domain.Provider, oauthState string) {
	a.State = AwaitingProviderCallback
	a.Provider = p
	a.OAuthState = oauthState
}

// CheckCallback valida que el callback corresponde a este intento.
func (a *Attempt) CheckCallback(p domain.Provider, oauthState string) error {
	if a.Current() != AwaitingProviderCallback || a.Provider != p {
		return fmt.Errorf("%w: callback in state %s", ErrInvalidTransition, a.Current())
	}
	if oauthState == "" || subtle.ConstantTimeCompare([]byte(a.OAuthState), []byte(oauthState)) != 1 {
		return ErrStateMismatch
	}
	return nil
}

// Complete pasa a AUTHENTICATED y devuelve el destino previo al login.
func (a *Attempt) Complete() (*SavedRequest, error) {
	if a.Current() != AwaitingProviderCallback {
		return nil, fmt.Errorf("%w: complete in state %s", ErrInvalidTransition, a.Current())
	}
	saved := a.Saved
	*a = Attempt{State: Authenticated, Provider: a.Provider}
	return saved, nil
}

// Fail cierra el intento y devuelve el estado en que quedó cerrado junto con
// el intento anónimo que lo reemplaza, con el destino previo guardado para una
// recuperación. Un conflicto de perfil cierra en CONFLICT_DETECTED; cualquier
// otro fallo pasa directo a ANONYMOUS.
func (a *Attempt) Fail(err error) (closed State, next *Attempt) {
	a.State = Anonymous
	if errors.Is(err, domain.ErrProfileConflict) {
		a.State = ConflictDetected
	}
	retry := a.Saved
	if retry == nil {
		retry = a.Retry
	}
	return a.State, &Attempt{State: Anonymous, Retry: retry}
}

// TakeRetry consume el request guardado para recuperación.
func (a *Attempt) TakeRetry() *SavedRequest {
	r := a.Retry
	a.Retry = nil
	return r
}

// ShouldInvalidate reporta si una respuesta debe cerrar la sesión en curso:
// un redirect cuyo Location lleva un parámetro code o error.
func ShouldInvalidate(status int, location string) bool {
	if status < 300 || status >= 400 || location == "" {
		return false
	}
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	q := u.Query()
	return q.Has("code") || q.Has("error")
}

// RetryTarget arma el redirect de recuperación: /logout con el parámetro de
// redirect del request guardado, si lo tenía.
func RetryTarget(saved *SavedRequest, param string) string {
	if saved == nil || param == "" {
		return LogoutPath
	}
	u, err := url.Parse(saved.URL)
	if err != nil {
		return LogoutPath
	}
	target := u.Query().Get(param)
	if target == "" {
		return LogoutPath
	}
	return LogoutPath + "?" + url.Values{param: {target}}.Encode()
}
