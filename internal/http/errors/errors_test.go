package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/token"
)

func TestFromError_MapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		code   string
		status int
	}{
		{fmt.Errorf("%w: bob", domain.ErrProfileConflict), "PROFILE_CONFLICT", http.StatusUnauthorized},
		{fmt.Errorf("%w: x", domain.ErrUpstreamCredentialRejected), "BAD_CREDENTIALS", http.StatusUnauthorized},
		{domain.ErrMalformedUserInfo, "MALFORMED_USER_INFO", http.StatusUnauthorized},
		{domain.ErrTokenStateInconsistent, "TOKEN_STATE_INCONSISTENT", http.StatusUnauthorized},
		{domain.ErrConfiguration, "CONFIGURATION_ERROR", http.StatusInternalServerError},
		{token.ErrInvalidToken, "TOKEN_INVALID", http.StatusUnauthorized},
		{token.ErrInvalidGrant, "INVALID_GRANT", http.StatusBadRequest},
		{fmt.Errorf("boom"), "INTERNAL_SERVER_ERROR", http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", ErrNotFound), "NOT_FOUND", http.StatusNotFound},
	}
	for _, c := range cases {
		got := FromError(c.err)
		require.Equal(t, c.code, got.Code, c.err.Error())
		require.Equal(t, c.status, got.HTTPStatus)
	}
}

func TestWithDetailDoesNotMutateBase(t *testing.T) {
	e := ErrBadRequest.WithDetail("missing code")
	require.Equal(t, "missing code", e.Detail)
	require.Empty(t, ErrBadRequest.Detail)
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrInvalidParameter.WithDetail("redirect_uri"))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INVALID_PARAMETER", body["code"])
	require.Equal(t, "redirect_uri", body["detail"])
}
