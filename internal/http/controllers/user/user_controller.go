// Package user expone el principal autenticado y el refresh forzado.
package user

import (
	"net/http"

	"github.com/dropDatabas3/federation/internal/domain"
	"github.com/dropDatabas3/federation/internal/domain/repository"
	"github.com/dropDatabas3/federation/internal/federation"
	httperrors "github.com/dropDatabas3/federation/internal/http/errors"
	"github.com/dropDatabas3/federation/internal/http/helpers"
	"github.com/dropDatabas3/federation/internal/http/middlewares"
	"github.com/dropDatabas3/federation/internal/observability/logger"
	"github.com/dropDatabas3/federation/internal/session"
	"github.com/dropDatabas3/federation/internal/token"
)

// UserResponse es el principal canónico con sus authorities.
type UserResponse struct {
	domain.CanonicalPrincipal
	Authorities []string `json:"authorities"`
}

// UserController maneja GET /user y POST /user/evict.
type UserController struct {
	fed      *federation.Service
	profiles repository.ProfileRepository
	tokens   *token.Service
	sessions *session.Store
}

func NewUserController(fed *federation.Service, profiles repository.ProfileRepository, tokens *token.Service, sessions *session.Store) *UserController {
	return &UserController{fed: fed, profiles: profiles, tokens: tokens, sessions: sessions}
}

// Me maneja GET /user. Requiere RequireAuthentication.
func (c *UserController) Me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auth := middlewares.GetAuth(ctx)
	if auth == nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}
	a := auth.Authentication
	if cp, ok := a.Principal(); ok {
		helpers.WriteJSON(w, http.StatusOK, UserResponse{CanonicalPrincipal: cp, Authorities: domain.AuthorityNames(a.Authorities)})
		return
	}

	// autenticación reconstruida desde el perfil: no hay user-info crudo
	p, err := c.profiles.FindByName(ctx, a.UserName)
	if repository.IsNotFound(err) {
		httperrors.WriteError(w, httperrors.ErrTokenStateInconsistent)
		return
	}
	if err != nil {
		httperrors.WriteError(w, err)
		return
	}
	helpers.WriteJSON(w, http.StatusOK, UserResponse{
		CanonicalPrincipal: domain.CanonicalPrincipal{
			Provider:          p.Provider,
			Name:              p.Name,
			FirstName:         p.FirstName,
			LastName:          p.LastName,
			ProfilePictureURL: p.ProfilePictureURL,
		},
		Authorities: domain.AuthorityNames(p.Authorities),
	})
}

// Evict maneja POST /user/evict: refresh del token de terceros, resync del
// perfil y reescritura de la autenticación del token interno o de la sesión.
func (c *UserController) Evict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("UserController.Evict"))
	auth := middlewares.GetAuth(ctx)
	if auth == nil {
		httperrors.WriteError(w, httperrors.ErrUnauthorized)
		return
	}

	res, err := c.fed.Refresh(ctx, federation.RefreshRequest{
		Authentication: auth.Authentication,
		AccessToken:    auth.Bearer,
	})
	if err != nil {
		log.Info("evict failed", logger.Err(err))
		httperrors.WriteError(w, err)
		return
	}

	if auth.Bearer != "" {
		c.tokens.Invalidate(auth.Bearer)
	} else if sess := session.From(ctx); sess.Authenticated() {
		sess.Upstream = res.Upstream
		if err := c.sessions.Save(ctx, w, sess); err != nil {
			log.Warn("save session after evict", logger.Err(err))
		}
	}
	helpers.WriteJSON(w, http.StatusOK, res.Profile)
}
