package workspace

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/forgehost/controlplane/internal/apperr"
	"github.com/forgehost/controlplane/internal/credential"
	"github.com/forgehost/controlplane/internal/httpserver"
)

// EntitlementChecker reports whether userID currently holds an active
// entitlement (spec §3). It is injected so that this package does not
// import subscription.
type EntitlementChecker func(ctx context.Context, userID uuid.UUID) (bool, error)

// Handlers exposes the workspace route group over HTTP.
type Handlers struct {
	service  *Service
	entitled EntitlementChecker
}

// NewHandlers builds the workspace HTTP handlers. entitled is consulted
// before create/start/stop, per spec §4.8's "bearer+entitled" auth column.
func NewHandlers(service *Service, entitled EntitlementChecker) *Handlers {
	return &Handlers{service: service, entitled: entitled}
}

func (h *Handlers) requireEntitled(r *http.Request, userID uuid.UUID) error {
	ok, err := h.entitled(r.Context(), userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindUnentitled, "an active subscription is required")
	}
	return nil
}

// Mount registers the non-lifecycle workspace routes on r: list, get,
// create, delete. Every route requires an authenticated caller; r is
// expected to already carry RequireBearer.
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Delete("/{id}", h.delete)
}

// MountLifecycle registers start/stop on r, kept separate from Mount so
// the caller can apply the tighter per-owner lifecycle rate limit (spec
// §4.5) to just these two routes instead of the whole workspace group.
func (h *Handlers) MountLifecycle(r chi.Router) {
	r.Post("/{id}/start", h.start)
	r.Post("/{id}/stop", h.stop)
}

type createRequest struct {
	Name        string   `json:"name"`
	CPULimit    *float64 `json:"cpuLimit"`
	MemoryLimit *string  `json:"memoryLimit"`
}

type workspaceResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	State           string     `json:"state"`
	CPUQuota        float64    `json:"cpu_quota"`
	MemoryBytes     int64      `json:"memory_bytes"`
	LastStartedAt   *time.Time `json:"last_started_at,omitempty"`
	ProxyCredential string     `json:"proxy_credential,omitempty"`
}

func toResponse(w Workspace) workspaceResponse {
	return workspaceResponse{
		ID:            w.ID.String(),
		Name:          w.Name,
		State:         string(w.State),
		CPUQuota:      w.CPUQuota,
		MemoryBytes:   w.MemoryBytes,
		LastStartedAt: w.LastStartedAt,
	}
}

type singleWorkspaceResponse struct {
	Workspace workspaceResponse `json:"workspace"`
}

type listWorkspacesResponse struct {
	Workspaces []workspaceResponse `json:"workspaces"`
	Count      int                 `json:"count"`
}

func callerID(r *http.Request) (uuid.UUID, error) {
	claims := credential.FromContext(r.Context())
	if claims == nil {
		return uuid.UUID{}, apperr.New(apperr.KindAuthRequired, "authentication required")
	}
	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return uuid.UUID{}, apperr.New(apperr.KindAuthRequired, "authentication required")
	}
	return id, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.UUID{}, apperr.New(apperr.KindValidation, "invalid workspace id")
	}
	return id, nil
}

func (h *Handlers) create(w http.ResponseWriter, r *http.Request) {
	owner, err := callerID(r)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	if err := h.requireEntitled(r, owner); err != nil {
		httpserver.RespondError(w, err)
		return
	}

	var req createRequest
	if err := httpserver.DecodeJSON(r, &req); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	if req.Name == "" {
		httpserver.RespondError(w, apperr.New(apperr.KindValidation, "name is required"))
		return
	}

	result, err := h.service.Create(r.Context(), owner, req.Name, req.CPULimit, req.MemoryLimit)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	resp := toResponse(result.Workspace)
	resp.ProxyCredential = result.ProxyCredential
	httpserver.Respond(w, http.StatusCreated, singleWorkspaceResponse{Workspace: resp})
}

func (h *Handlers) list(w http.ResponseWriter, r *http.Request) {
	owner, err := callerID(r)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	items, err := h.service.List(r.Context(), owner)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	out := make([]workspaceResponse, 0, len(items))
	for _, ws := range items {
		out = append(out, toResponse(ws))
	}
	httpserver.Respond(w, http.StatusOK, listWorkspacesResponse{Workspaces: out, Count: len(out)})
}

func (h *Handlers) get(w http.ResponseWriter, r *http.Request) {
	owner, err := callerID(r)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}

	ws, err := h.service.Get(r.Context(), id, owner)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, toResponse(ws))
}

func (h *Handlers) start(w http.ResponseWriter, r *http.Request) {
	h.withOwnedWorkspace(w, r, func(id uuid.UUID) {
		owner, err := callerID(r)
		if err != nil {
			httpserver.RespondError(w, err)
			return
		}
		if err := h.requireEntitled(r, owner); err != nil {
			httpserver.RespondError(w, err)
			return
		}
		ws, err := h.service.Start(r.Context(), id)
		if err != nil {
			httpserver.RespondError(w, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, toResponse(ws))
	})
}

func (h *Handlers) stop(w http.ResponseWriter, r *http.Request) {
	h.withOwnedWorkspace(w, r, func(id uuid.UUID) {
		owner, err := callerID(r)
		if err != nil {
			httpserver.RespondError(w, err)
			return
		}
		if err := h.requireEntitled(r, owner); err != nil {
			httpserver.RespondError(w, err)
			return
		}
		ws, err := h.service.Stop(r.Context(), id)
		if err != nil {
			httpserver.RespondError(w, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, toResponse(ws))
	})
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	h.withOwnedWorkspace(w, r, func(id uuid.UUID) {
		if err := h.service.Delete(r.Context(), id); err != nil {
			httpserver.RespondError(w, err)
			return
		}
		httpserver.RespondNoContent(w)
	})
}

// withOwnedWorkspace verifies the caller owns the path workspace ID before
// running fn, so lifecycle operations can never act on another tenant's
// workspace even though they take the ID straight from the URL.
func (h *Handlers) withOwnedWorkspace(w http.ResponseWriter, r *http.Request, fn func(id uuid.UUID)) {
	owner, err := callerID(r)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	if _, err := h.service.Get(r.Context(), id, owner); err != nil {
		httpserver.RespondError(w, err)
		return
	}
	fn(id)
}
