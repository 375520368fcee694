// Package providertest levanta un proveedor OAuth2 falso sobre httptest para
// tests de login, refresh y user-info.
package providertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/oauth2"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/provider"
)

// Server es un proveedor OAuth2 en memoria.
type Server struct {
	*httptest.Server

	ClientID     string
	ClientSecret string

	mu            sync.Mutex
	userInfo      map[string]any
	issueRefresh  bool
	expiresIn     int
	rejectRefresh bool
	seq           int
	codes         map[string]bool
	access        map[string]bool
	refresh       map[string]bool
	media         map[string]string
	refreshCalls  int
}

// New arranca el servidor; se cierra con t.Cleanup del llamador.
func New(clientID string) *Server {
	s := &Server{
		ClientID:     clientID,
		ClientSecret: clientID + "-secret",
		issueRefresh: true,
		expiresIn:    3600,
		codes:        map[string]bool{},
		access:       map[string]bool{},
		refresh:      map[string]bool{},
		media:        map[string]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", s.handleAuthorize)
	mux.HandleFunc("/token", s.handleToken)
	mux.HandleFunc("/userinfo", s.handleUserInfo)
	mux.HandleFunc("/media/", s.handleMedia)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetUserInfo fija el payload devuelto por /userinfo.
func (s *Server) SetUserInfo(v map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userInfo = v
}

// SetRefreshTokens controla si el token endpoint emite refresh tokens.
func (s *Server) SetRefreshTokens(on bool) {
	s.mu.Lock()
	s.issueRefresh = on
	s.mu.Unlock()
}

// SetExpiresIn fija expires_in (0 = sin expiración).
func (s *Server) SetExpiresIn(seconds int) {
	s.mu.Lock()
	s.expiresIn = seconds
	s.mu.Unlock()
}

// RejectRefresh hace que el refresh grant devuelva invalid_grant.
func (s *Server) RejectRefresh(on bool) {
	s.mu.Lock()
	s.rejectRefresh = on
	s.mu.Unlock()
}

// SetMedia registra la URL pública de un image_id.
func (s *Server) SetMedia(imageID, url string) {
	s.mu.Lock()
	s.media[imageID] = url
	s.mu.Unlock()
}

// RefreshCalls cuenta los refresh grants atendidos.
func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

// NewCode emite un authorization code válido.
func (s *Server) NewCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	c := fmt.Sprintf("code-%d", s.seq)
	s.codes[c] = true
	return c
}

// Binding arma un provider.Binding apuntando a este servidor.
func (s *Server) Binding(p domain.Provider, name, loginPath, redirectURL string, scopes ...string) *provider.Binding {
	return &provider.Binding{
		Provider:  p,
		Name:      name,
		LoginPath: loginPath,
		OAuth: &oauth2.Config{
			ClientID:     s.ClientID,
			ClientSecret: s.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   s.URL + "/authorize",
				TokenURL:  s.URL + "/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			RedirectURL: redirectURL,
			Scopes:      scopes,
		},
		UserInfoURL: s.URL + "/userinfo",
		MediaURL:    s.URL + "/media/",
		HTTPClient:  s.Client(),
	}
}

// Token emite un token directamente (sin code), útil para sembrar stores.
func (s *Server) Token() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, rt, _ := s.issueLocked()
	return &oauth2.Token{AccessToken: at, TokenType: "Bearer", RefreshToken: rt}
}

func (s *Server) issueLocked() (access, refresh string, expiresIn int) {
	s.seq++
	access = fmt.Sprintf("at-%d", s.seq)
	s.access[access] = true
	if s.issueRefresh {
		refresh = fmt.Sprintf("rt-%d", s.seq)
		s.refresh[refresh] = true
	}
	return access, refresh, s.expiresIn
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	redirect, err := url.Parse(r.URL.Query().Get("redirect_uri"))
	if err != nil || redirect.String() == "" {
		http.Error(w, "redirect_uri", http.StatusBadRequest)
		return
	}
	q := redirect.Query()
	q.Set("code", s.NewCode())
	q.Set("state", r.URL.Query().Get("state"))
	redirect.RawQuery = q.Encode()
	http.Redirect(w, r, redirect.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if id, secret, ok := r.BasicAuth(); !ok || id != s.ClientID || secret != s.ClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		code := r.PostForm.Get("code")
		if !s.codes[code] {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		delete(s.codes, code)
	case "refresh_token":
		s.refreshCalls++
		rt := r.PostForm.Get("refresh_token")
		if s.rejectRefresh || !s.refresh[rt] {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
			return
		}
		delete(s.refresh, rt)
	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type")
		return
	}

	at, rt, exp := s.issueLocked()
	body := map[string]any{"access_token": at, "token_type": "bearer"}
	if rt != "" {
		body["refresh_token"] = rt
	}
	if exp > 0 {
		body["expires_in"] = exp
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	s.mu.Lock()
	info := s.userInfo
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/media/")
	s.mu.Lock()
	u, ok := s.media[id]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "url": u})
}

func (s *Server) authorized(r *http.Request) bool {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access[tok]
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
