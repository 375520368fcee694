package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/federation/internal/cache"
	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/recovery"
)

func newStore() *Store {
	return NewStore(cache.NewMemory("t", time.Minute), CookieConfig{Name: "FEDSESSION"}, time.Hour)
}

func withCookies(rec *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestStore_SaveLoadInvalidate(t *testing.T) {
	ctx := context.Background()
	st := newStore()

	sess, err := st.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.False(t, sess.Persisted())
	require.False(t, sess.Authenticated())

	sess.Attempt.Begin(domain.ProviderInternal, "st")
	_, _ = sess.Attempt.Complete()
	sess.Upstream = &domain.UpstreamAuthentication{
		ClientID:  "ix",
		Principal: domain.CanonicalPrincipal{Provider: domain.ProviderInternal, Name: "alice"},
	}
	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(ctx, rec, sess))

	loaded, err := st.Load(ctx, withCookies(rec))
	require.NoError(t, err)
	require.Equal(t, sess.ID, loaded.ID)
	require.True(t, loaded.Authenticated())
	require.Equal(t, recovery.Authenticated, loaded.Attempt.Current())

	auth := loaded.Authentication("webapp", []string{"read"})
	require.Equal(t, "alice", auth.UserName)
	require.NotNil(t, auth.Upstream)

	out := httptest.NewRecorder()
	require.NoError(t, st.Invalidate(ctx, out, loaded))
	cookies := out.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, -1, cookies[0].MaxAge)

	again, err := st.Load(ctx, withCookies(rec))
	require.NoError(t, err)
	require.NotEqual(t, sess.ID, again.ID)
	require.False(t, again.Persisted())
}

func TestStore_Renew(t *testing.T) {
	ctx := context.Background()
	st := newStore()
	sess, err := st.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	require.NoError(t, st.Save(ctx, rec, sess))

	out := httptest.NewRecorder()
	next, err := st.Renew(ctx, out, sess)
	require.NoError(t, err)
	require.NotEqual(t, sess.ID, next.ID)

	old, err := st.Load(ctx, withCookies(rec))
	require.NoError(t, err)
	require.False(t, old.Persisted())

	cur, err := st.Load(ctx, withCookies(out))
	require.NoError(t, err)
	require.Equal(t, next.ID, cur.ID)
}

func TestBuildSessionCookie(t *testing.T) {
	c := BuildSessionCookie(CookieConfig{Name: "n", SameSite: "strict", Secure: true, Domain: "x.test"}, "v", time.Minute)
	require.Equal(t, http.SameSiteStrictMode, c.SameSite)
	require.True(t, c.HttpOnly)
	require.Equal(t, 60, c.MaxAge)
	require.Equal(t, "x.test", c.Domain)
}
