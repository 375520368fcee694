package domain

import "errors"

var (
	// ErrConfiguration: proveedor no registrado, tag desconocido o config incompleta.
	ErrConfiguration = errors.New("configuration error")

	// ErrMalformedUserInfo: el user-info del proveedor no trae el nombre del principal.
	ErrMalformedUserInfo = errors.New("malformed user info")

	// ErrProfileConflict: el nombre ya existe con otro proveedor de login.
	ErrProfileConflict = errors.New("profile conflict")

	// ErrUpstreamCredentialRejected: el proveedor rechazó code, token o refresh.
	ErrUpstreamCredentialRejected = errors.New("upstream credential rejected")

	// ErrTokenStateInconsistent: no hay exactamente un token de terceros para la autenticación.
	ErrTokenStateInconsistent = errors.New("token state inconsistent")
)
