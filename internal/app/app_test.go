package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/federation/internal/app"
	"github.com/dropDatabas3/federation/internal/config"
	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/provider/providertest"
)

const configTmpl = `
app:
  base_url: http://federation.test
storage:
  driver: memory
cache:
  kind: memory
jwt:
  signing_key: 0123456789abcdef0123456789abcdef
logout:
  allowed_redirect_prefixes: ["https://app.example.com"]
oauth_clients:
  webapp:
    secret: webapp-secret
    scopes: [read]
    redirect_uris: ["https://app.example.com/cb"]
third_party_logins:
  ixortalk:
    principal_extractor: INTERNAL
    client:
      client_id: %[1]s
      client_secret: %[1]s-secret
      access_token_uri: %[2]s/token
      user_authorization_uri: %[2]s/authorize
      scopes: [read]
    resource:
      user_info_uri: %[2]s/userinfo
  eventbrite:
    principal_extractor: EVENTBRITE
    client:
      client_id: %[3]s
      client_secret: %[3]s-secret
      access_token_uri: %[4]s/token
      user_authorization_uri: %[4]s/authorize
    resource:
      user_info_uri: %[4]s/userinfo
      media_uri: %[4]s/media/
`

type harness struct {
	ix, eb *providertest.Server
	c      *app.Container
	srv    *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{ix: providertest.New("ix-client"), eb: providertest.New("eb-client")}
	t.Cleanup(h.ix.Close)
	t.Cleanup(h.eb.Close)

	cfg, err := config.Parse([]byte(fmt.Sprintf(configTmpl, h.ix.ClientID, h.ix.URL, h.eb.ClientID, h.eb.URL)))
	require.NoError(t, err)
	h.c, err = app.Build(context.Background(), cfg, app.Options{Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(h.c.Close)

	h.srv = httptest.NewServer(h.c.Handler)
	t.Cleanup(h.srv.Close)
	return h
}

// browser sigue cookies pero no redirects.
type browser struct {
	t    *testing.T
	h    *harness
	http *http.Client
}

func (h *harness) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &browser{t: t, h: h, http: &http.Client{
		Jar:           jar,
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}}
}

func (b *browser) do(method, path string, hdr http.Header) *http.Response {
	b.t.Helper()
	req, err := http.NewRequest(method, b.h.srv.URL+path, nil)
	require.NoError(b.t, err)
	for k, v := range hdr {
		req.Header[k] = v
	}
	res, err := b.http.Do(req)
	require.NoError(b.t, err)
	b.t.Cleanup(func() { _ = res.Body.Close() })
	return res
}

func (b *browser) get(path string) *http.Response { return b.do(http.MethodGet, path, nil) }

// login recorre el login contra fake y devuelve la respuesta del callback.
func (b *browser) login(fake *providertest.Server, loginPath string) *http.Response {
	b.t.Helper()
	res := b.get(loginPath)
	require.Equal(b.t, http.StatusFound, res.StatusCode)
	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(b.t, err)
	require.True(b.t, strings.HasPrefix(loc.String(), fake.URL+"/authorize"))
	state := loc.Query().Get("state")
	require.NotEmpty(b.t, state)

	q := url.Values{"code": {fake.NewCode()}, "state": {state}}
	return b.get(loginPath + "?" + q.Encode())
}

func decode(t *testing.T, res *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func authorityNames(t *testing.T, v any) []string {
	t.Helper()
	items, ok := v.([]any)
	require.True(t, ok, "authorities: %#v", v)
	var out []string
	for _, it := range items {
		switch a := it.(type) {
		case string:
			out = append(out, a)
		case map[string]any:
			out = append(out, a["authority"].(string))
		}
	}
	return out
}

func ixUser(name, first string, authorities ...any) map[string]any {
	return map[string]any{
		"name":        name,
		"authorities": authorities,
		"userInfo":    map[string]any{"firstName": first, "lastName": "Liddell"},
	}
}

func TestLoginPage_ListsProviders(t *testing.T) {
	h := newHarness(t)
	res := h.browser(t).get("/login")
	require.Equal(t, http.StatusOK, res.StatusCode)
	page := readAll(t, res)
	require.Contains(t, page, `<a href="http://federation.test/login/ixortalk">Login with Ixortalk</a>`)
	require.Contains(t, page, `<a href="http://federation.test/login/eventbrite">Login with Eventbrite</a>`)
}

func TestSessionLogin_EvictResyncsProfile(t *testing.T) {
	h := newHarness(t)
	h.ix.SetUserInfo(ixUser("alice@ixortalk.com", "Alice", "ROLE_X"))

	b := h.browser(t)
	res := b.login(h.ix, "/login/ixortalk")
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/", res.Header.Get("Location"))

	res = b.get("/user")
	require.Equal(t, http.StatusOK, res.StatusCode)
	me := decode(t, res)
	require.Equal(t, "alice@ixortalk.com", me["name"])
	require.Equal(t, "Alice", me["firstName"])
	require.Equal(t, "INTERNAL", me["loginProvider"])
	require.Equal(t, []string{"ROLE_X"}, authorityNames(t, me["authorities"]))

	h.ix.SetUserInfo(ixUser("alice@ixortalk.com", "Alicia", "ROLE_Y"))
	res = b.do(http.MethodPost, "/user/evict", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	profile := decode(t, res)
	require.Equal(t, "Alicia", profile["firstName"])
	require.Equal(t, []string{"ROLE_Y"}, authorityNames(t, profile["authorities"]))
	require.Equal(t, 1, h.ix.RefreshCalls())

	res = b.get("/user")
	require.Equal(t, http.StatusOK, res.StatusCode)
	me = decode(t, res)
	require.Equal(t, "Alicia", me["firstName"])
	require.Equal(t, []string{"ROLE_Y"}, authorityNames(t, me["authorities"]))

	stored, err := h.c.Profiles.FindByName(context.Background(), "alice@ixortalk.com")
	require.NoError(t, err)
	require.Equal(t, "Alicia", stored.FirstName)
}

func TestLogin_ProviderConflictIsUnauthorized(t *testing.T) {
	h := newHarness(t)
	h.ix.SetUserInfo(ixUser("bob@ixortalk.com", "Bob"))
	res := h.browser(t).login(h.ix, "/login/ixortalk")
	require.Equal(t, http.StatusFound, res.StatusCode)

	h.eb.SetUserInfo(map[string]any{
		"emails":     []any{map[string]any{"email": "bob@ixortalk.com"}},
		"first_name": "Robert",
	})
	res = h.browser(t).login(h.eb, "/login/eventbrite")
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "PROFILE_CONFLICT", decode(t, res)["code"])

	p, err := h.c.Profiles.FindByName(context.Background(), "bob@ixortalk.com")
	require.NoError(t, err)
	require.Equal(t, domain.ProviderInternal, p.Provider)
	require.Equal(t, "Bob", p.FirstName)
}

func TestFailedLogin_RetryLoginGoesThroughLogout(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)

	res := b.get("/protected?redirect_uri=" + url.QueryEscape("https://app.example.com/home"))
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/login", res.Header.Get("Location"))

	// user-info sin emails: no hay principal
	h.eb.SetUserInfo(map[string]any{"first_name": "Nobody"})
	res = b.login(h.eb, "/login/eventbrite")
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res = b.get("/retry-login")
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/logout?redirect_uri="+url.QueryEscape("https://app.example.com/home"), res.Header.Get("Location"))

	res = b.get("/retry-login")
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/logout", res.Header.Get("Location"))

	res = b.get("/logout?redirect_uri=" + url.QueryEscape("https://app.example.com/home"))
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "https://app.example.com/home", res.Header.Get("Location"))
}

func TestConflictingProviderLogin_RetryLoginGoesThroughLogout(t *testing.T) {
	h := newHarness(t)
	h.ix.SetUserInfo(ixUser("bob@ixortalk.com", "Bob"))
	require.Equal(t, http.StatusFound, h.browser(t).login(h.ix, "/login/ixortalk").StatusCode)

	b := h.browser(t)
	res := b.get("/protected?redirect_uri=" + url.QueryEscape("https://app.example.com/home"))
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/login", res.Header.Get("Location"))

	// mismo nombre, otro proveedor
	h.eb.SetUserInfo(map[string]any{
		"emails":     []any{map[string]any{"email": "bob@ixortalk.com"}},
		"first_name": "Robert",
	})
	res = b.login(h.eb, "/login/eventbrite")
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Equal(t, "PROFILE_CONFLICT", decode(t, res)["code"])

	res = b.get("/retry-login")
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/logout?redirect_uri="+url.QueryEscape("https://app.example.com/home"), res.Header.Get("Location"))

	res = b.get("/retry-login")
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/logout", res.Header.Get("Location"))

	// la sesión sigue anónima
	res = b.get("/user")
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/login", res.Header.Get("Location"))
}

func TestLogin_ReturnsToSavedRequest(t *testing.T) {
	h := newHarness(t)
	h.ix.SetUserInfo(ixUser("carol@ixortalk.com", "Carol"))
	b := h.browser(t)

	res := b.get("/user")
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/login", res.Header.Get("Location"))

	res = b.login(h.ix, "/login/ixortalk")
	require.Equal(t, http.StatusFound, res.StatusCode)
	require.Equal(t, "/user", res.Header.Get("Location"))
}

func TestAuthorizationCodeFlow_IssuesBearerForFederatedUser(t *testing.T) {
	h := newHarness(t)
	h.ix.SetUserInfo(ixUser("dave@ixortalk.com", "Dave", "ROLE_USER"))
	b := h.browser(t)
	require.Equal(t, http.StatusFound, b.login(h.ix, "/login/ixortalk").StatusCode)

	q := url.Values{
		"client_id":     {"webapp"},
		"response_type": {"code"},
		"redirect_uri":  {"https://app.example.com/cb"},
		"state":         {"xyz"},
	}
	res := b.get("/oauth/authorize?" + q.Encode())
	require.Equal(t, http.StatusFound, res.StatusCode)
	loc, err := url.Parse(res.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "app.example.com", loc.Host)
	require.Equal(t, "xyz", loc.Query().Get("state"))
	code := loc.Query().Get("code")
	require.NotEmpty(t, code)

	// el redirect con code cierra la sesión web
	require.Equal(t, http.StatusFound, b.get("/user").StatusCode)

	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {"https://app.example.com/cb"},
	}
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/oauth/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("webapp", "webapp-secret")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	tok := decode(t, res)
	access, _ := tok["access_token"].(string)
	require.NotEmpty(t, access)
	require.Equal(t, "read", tok["scope"])

	api := h.browser(t)
	res = api.do(http.MethodGet, "/user", http.Header{"Authorization": {"Bearer " + access}})
	require.Equal(t, http.StatusOK, res.StatusCode)
	me := decode(t, res)
	require.Equal(t, "dave@ixortalk.com", me["name"])
	require.Equal(t, "INTERNAL", me["loginProvider"])

	// el code es de un solo uso
	req, err = http.NewRequest(http.MethodPost, h.srv.URL+"/oauth/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("webapp", "webapp-secret")
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestBearer_InvalidTokenIsRejected(t *testing.T) {
	h := newHarness(t)
	res := h.browser(t).do(http.MethodGet, "/user", http.Header{"Authorization": {"Bearer not-a-token"}})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	require.Contains(t, res.Header.Get("WWW-Authenticate"), "invalid_token")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	b := h.browser(t)
	require.Equal(t, http.StatusOK, b.get("/healthz").StatusCode)
	require.Equal(t, http.StatusOK, b.get("/readyz").StatusCode)

	res := b.get("/metrics")
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, readAll(t, res), "http_requests_total")
}

func readAll(t *testing.T, res *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return string(b)
}
