package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/federation/internal/cache"
)

const keyPrefix = "session:"

// Store persiste sesiones como JSON en el cache.
type Store struct {
	cache  cache.Client
	cookie CookieConfig
	ttl    time.Duration
	now    func() time.Time
}

func NewStore(c cache.Client, cookie CookieConfig, ttl time.Duration) *Store {
	if cookie.Name == "" {
		cookie.Name = "FEDSESSION"
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Store{cache: c, cookie: cookie, ttl: ttl, now: time.Now}
}

// CookieName devuelve el nombre de la cookie de sesión.
func (s *Store) CookieName() string { return s.cookie.Name }

// Load devuelve la sesión de la cookie del request, o una nueva sin persistir
// si no hay cookie o la sesión expiró.
func (s *Store) Load(ctx context.Context, r *http.Request) (*Session, error) {
	ck, err := r.Cookie(s.cookie.Name)
	if err != nil || strings.TrimSpace(ck.Value) == "" {
		return s.fresh(), nil
	}
	raw, err := s.cache.Get(ctx, keyPrefix+ck.Value)
	if cache.IsNotFound(err) {
		return s.fresh(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	var sess Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || sess.ID != ck.Value {
		// sesión corrupta: se descarta
		return s.fresh(), nil
	}
	sess.persisted = true
	return &sess, nil
}

func (s *Store) fresh() *Session {
	return &Session{ID: uuid.NewString(), CreatedAt: s.now().UTC()}
}

// Save persiste la sesión y emite la cookie.
func (s *Store) Save(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.cache.Set(ctx, keyPrefix+sess.ID, string(b), s.ttl); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	if !sess.persisted {
		http.SetCookie(w, BuildSessionCookie(s.cookie, sess.ID, s.ttl))
		sess.persisted = true
	}
	return nil
}

// Invalidate borra la sesión del store y del browser.
func (s *Store) Invalidate(ctx context.Context, w http.ResponseWriter, sess *Session) error {
	http.SetCookie(w, BuildDeletionCookie(s.cookie))
	if sess == nil || !sess.persisted {
		return nil
	}
	sess.persisted = false
	if err := s.cache.Delete(ctx, keyPrefix+sess.ID); err != nil {
		return fmt.Errorf("session: invalidate: %w", err)
	}
	return nil
}

// Renew reemplaza la sesión por una con id nuevo y el mismo contenido.
func (s *Store) Renew(ctx context.Context, w http.ResponseWriter, old *Session) (*Session, error) {
	if old.persisted {
		if err := s.cache.Delete(ctx, keyPrefix+old.ID); err != nil {
			return nil, fmt.Errorf("session: renew: %w", err)
		}
	}
	next := *old
	next.ID = uuid.NewString()
	next.persisted = false
	if err := s.Save(ctx, w, &next); err != nil {
		return nil, err
	}
	return &next, nil
}
