package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/forgehost/controlplane/internal/apperr"
	"github.com/forgehost/controlplane/internal/credential"
	"github.com/forgehost/controlplane/internal/httpserver"
)

// Handlers exposes the auth route group over HTTP.
type Handlers struct {
	service *Service
}

// NewHandlers builds the auth HTTP handlers.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Mount registers the public auth routes (register, login) on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Post("/register", h.register)
	r.Post("/login", h.login)
}

// MountAuthenticated registers the routes that require a bearer token
// (me, logout) on r. r is expected to already carry RequireBearer.
func (h *Handlers) MountAuthenticated(r chi.Router) {
	r.Get("/me", h.me)
	r.Post("/logout", h.logout)
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

type registerResponse struct {
	User userResponse `json:"user"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expires_in"`
	User      userResponse `json:"user"`
}

type meResponse struct {
	User userResponse `json:"user"`
}

func toUserResponse(u User) userResponse {
	return userResponse{ID: u.ID.String(), Email: u.Email, CreatedAt: u.CreatedAt}
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	if err := httpserver.ValidateEmail(req.Email); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	if err := credential.ValidatePolicy(req.Password); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusCreated, registerResponse{User: toUserResponse(user)})
}

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		httpserver.RespondError(w, apperr.New(apperr.KindValidation, "email and password are required"))
		return
	}

	result, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, loginResponse{
		Token:     result.Token,
		ExpiresIn: result.ExpiresIn,
		User:      toUserResponse(result.User),
	})
}

func (h *Handlers) me(w http.ResponseWriter, r *http.Request) {
	claims := credential.FromContext(r.Context())
	if claims == nil {
		httpserver.RespondError(w, apperr.New(apperr.KindAuthRequired, "authentication required"))
		return
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		httpserver.RespondError(w, apperr.New(apperr.KindAuthRequired, "authentication required"))
		return
	}

	user, err := h.service.Me(r.Context(), userID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, meResponse{User: toUserResponse(user)})
}

// logout is a no-op: bearer tokens are self-contained and stateless, so
// there is no server-side session to revoke. It exists for client
// symmetry with login/register.
func (h *Handlers) logout(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{"message": "logged out"})
}
