package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	iss, err := NewIssuer("http://fed.test", []byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return iss
}

func TestIssueAndParseAccess(t *testing.T) {
	iss := newTestIssuer(t)
	tok, exp, err := iss.IssueAccess(Subject{
		UserName:    "alice@ixortalk.com",
		ClientID:    "webapp",
		Scopes:      []string{"openid", "read"},
		Authorities: []string{"ROLE_USER"},
		Provider:    "INTERNAL",
	}, time.Minute)
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(time.Minute), exp, 5*time.Second)

	c, err := iss.Parse(tok, TypeAccess)
	require.NoError(t, err)
	require.Equal(t, "alice@ixortalk.com", c.Subject)
	require.Equal(t, "webapp", c.ClientID)
	require.Equal(t, []string{"openid", "read"}, c.Scopes())
	require.Equal(t, []string{"ROLE_USER"}, c.Authorities)
	require.NotEmpty(t, c.ID)

	_, err = iss.Parse(tok, TypeRefresh)
	require.ErrorIs(t, err, ErrWrongType)
}

func TestParse_RejectsExpiredAndForeign(t *testing.T) {
	iss := newTestIssuer(t)
	iss.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, _, err := iss.IssueAccess(Subject{UserName: "bob", ClientID: "webapp"}, time.Minute)
	require.NoError(t, err)
	iss.now = time.Now
	_, err = iss.Parse(old, TypeAccess)
	require.ErrorIs(t, err, ErrInvalidToken)

	other, err := NewIssuer("http://fed.test", []byte("another-key-another-key-another-k"))
	require.NoError(t, err)
	foreign, _, err := other.IssueRefresh(Subject{UserName: "bob", ClientID: "webapp"}, 0)
	require.NoError(t, err)
	_, err = iss.Parse(foreign, TypeRefresh)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = iss.Parse("not-a-jwt", TypeAccess)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuer_EmptyKey(t *testing.T) {
	_, err := NewIssuer("x", nil)
	require.ErrorIs(t, err, ErrShortKey)
}
