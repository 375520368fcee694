package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/token"
)

// AppError define la estructura estándar para errores de la aplicación.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // causa, sólo para logs
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

// New crea un nuevo AppError.
func New(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status}
}

// Wrap crea un AppError envolviendo un error existente.
func Wrap(err error, status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// FromError convierte un error de cualquier capa en un AppError. Los errores de
// dominio tienen su mapeo; el resto es un error interno que conserva la causa.
func FromError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	switch {
	case stderrors.Is(err, domain.ErrProfileConflict):
		return ErrProfileConflict.WithCause(err)
	case stderrors.Is(err, domain.ErrUpstreamCredentialRejected):
		return ErrBadCredentials.WithCause(err)
	case stderrors.Is(err, domain.ErrMalformedUserInfo):
		return ErrMalformedUserInfo.WithCause(err)
	case stderrors.Is(err, domain.ErrTokenStateInconsistent):
		return ErrTokenStateInconsistent.WithCause(err)
	case stderrors.Is(err, domain.ErrConfiguration):
		return ErrConfiguration.WithCause(err)
	case stderrors.Is(err, token.ErrInvalidToken):
		return ErrTokenInvalid.WithCause(err)
	case stderrors.Is(err, token.ErrInvalidClient):
		return ErrInvalidClient.WithCause(err)
	case stderrors.Is(err, token.ErrInvalidGrant):
		return ErrInvalidGrant.WithCause(err)
	}
	return ErrInternalServerError.WithCause(err)
}

// WithDetail devuelve una COPIA con detalle, para no mutar los errores base.
func (e *AppError) WithDetail(detail string) *AppError {
	newErr := *e
	newErr.Detail = detail
	return &newErr
}

// WithCause devuelve una COPIA con la causa.
func (e *AppError) WithCause(err error) *AppError {
	newErr := *e
	newErr.Err = err
	return &newErr
}

// ---------------------------------------------------------------------------------
// 400 Bad Request
// ---------------------------------------------------------------------------------

var (
	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "La solicitud contiene sintaxis inválida o parámetros faltantes.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidParameter = &AppError{
		Code:       "INVALID_PARAMETER",
		Message:    "Uno de los parámetros de la URL o Query String es inválido.",
		HTTPStatus: http.StatusBadRequest,
	}

	ErrInvalidGrant = &AppError{
		Code:       "INVALID_GRANT",
		Message:    "El grant presentado es inválido o expiró.",
		HTTPStatus: http.StatusBadRequest,
	}
)

// ---------------------------------------------------------------------------------
// 401 Unauthorized
// ---------------------------------------------------------------------------------

var (
	ErrUnauthorized = &AppError{
		Code:       "UNAUTHORIZED",
		Message:    "No autorizado. Se requiere autenticación.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrBadCredentials = &AppError{
		Code:       "BAD_CREDENTIALS",
		Message:    "El proveedor rechazó las credenciales.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrProfileConflict = &AppError{
		Code:       "PROFILE_CONFLICT",
		Message:    "Ya existe un perfil con ese nombre registrado por otro proveedor.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrMalformedUserInfo = &AppError{
		Code:       "MALFORMED_USER_INFO",
		Message:    "El proveedor devolvió un user-info inválido.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenStateInconsistent = &AppError{
		Code:       "TOKEN_STATE_INCONSISTENT",
		Message:    "El estado de los tokens de terceros es inconsistente.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenInvalid = &AppError{
		Code:       "TOKEN_INVALID",
		Message:    "El token de acceso es inválido o está malformado.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrInvalidClient = &AppError{
		Code:       "INVALID_CLIENT",
		Message:    "Autenticación de cliente inválida.",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrLoginStateMismatch = &AppError{
		Code:       "LOGIN_STATE_MISMATCH",
		Message:    "El callback no corresponde a un login en curso.",
		HTTPStatus: http.StatusUnauthorized,
	}
)

// ---------------------------------------------------------------------------------
// 404 / 405 / 429
// ---------------------------------------------------------------------------------

var (
	ErrNotFound = &AppError{
		Code:       "NOT_FOUND",
		Message:    "El recurso solicitado no fue encontrado.",
		HTTPStatus: http.StatusNotFound,
	}

	ErrMethodNotAllowed = &AppError{
		Code:       "METHOD_NOT_ALLOWED",
		Message:    "El método HTTP no está permitido para este recurso.",
		HTTPStatus: http.StatusMethodNotAllowed,
	}

	ErrTooManyRequests = &AppError{
		Code:       "TOO_MANY_REQUESTS",
		Message:    "Demasiadas solicitudes. Intente más tarde.",
		HTTPStatus: http.StatusTooManyRequests,
	}
)

// ---------------------------------------------------------------------------------
// 5xx
// ---------------------------------------------------------------------------------

var (
	ErrInternalServerError = &AppError{
		Code:       "INTERNAL_SERVER_ERROR",
		Message:    "Ocurrió un error inesperado en el servidor.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrConfiguration = &AppError{
		Code:       "CONFIGURATION_ERROR",
		Message:    "El servicio no está configurado correctamente.",
		HTTPStatus: http.StatusInternalServerError,
	}

	ErrServiceUnavailable = &AppError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    "El servicio no está disponible temporalmente.",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
