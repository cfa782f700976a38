// Package proxy implements the authenticated reverse proxy (spec §4.7):
// it resolves a per-workspace credential to a live container address on
// the internal network, on every request, and streams traffic through to
// it with the credential stripped.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/forgehost/controlplane/internal/apperr"
	"github.com/forgehost/controlplane/internal/containerengine"
	"github.com/forgehost/controlplane/internal/credential"
	"github.com/forgehost/controlplane/internal/httpserver"
)

// CredentialHeader is the fixed header a caller presents a workspace's
// proxy credential in. It is always stripped before the request reaches
// the upstream container.
const CredentialHeader = "X-Workspace-Credential"

// pathPrefix is the route prefix stripped from the forwarded path.
const pathPrefix = "/api/proxy"

// WorkspaceLookup resolves a workspace by the SHA-256 hash of its proxy
// credential. Implemented by workspace.Store.GetByProxyCredentialHash,
// injected so that this package does not import workspace.
type WorkspaceLookup func(ctx context.Context, credentialHash string) (WorkspaceView, error)

// EntitlementChecker reports whether ownerID currently holds an active
// entitlement. Implemented by subscription.Engine.GetEntitlement.
type EntitlementChecker func(ctx context.Context, ownerID uuid.UUID) (bool, error)

// WorkspaceView is the subset of workspace state the proxy needs per
// request. It is re-fetched on every request — spec §4.7's "must be
// evaluated at dispatch time, not at process start" rule applies to the
// whole chain, not just the container address.
type WorkspaceView struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	State       string
	ContainerID string
}

// Handler implements the per-request resolve-then-forward algorithm.
type Handler struct {
	lookupWorkspace WorkspaceLookup
	checkEntitled   EntitlementChecker
	engine          containerengine.Engine
	logger          *slog.Logger
	dialTimeout     time.Duration
	containerPort   int
}

// NewHandler builds the proxy Handler.
func NewHandler(lookupWorkspace WorkspaceLookup, checkEntitled EntitlementChecker, engine containerengine.Engine, logger *slog.Logger, dialTimeout time.Duration, containerPort int) *Handler {
	return &Handler{
		lookupWorkspace: lookupWorkspace,
		checkEntitled:   checkEntitled,
		engine:          engine,
		logger:          logger,
		dialTimeout:     dialTimeout,
		containerPort:   containerPort,
	}
}

// Mount registers the wildcard proxy route on r.
func (h *Handler) Mount(r chi.Router) {
	r.HandleFunc("/{workspaceID}/*", h.ServeHTTP)
	r.HandleFunc("/{workspaceID}", h.ServeHTTP)
}

// ServeHTTP runs the full per-request algorithm in spec §4.7: credential
// extraction, lookup, entitlement, runtime-state and engine checks, then a
// target resolved fresh for this request only — never cached or captured
// by a director built at startup.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	credentialPlain := r.Header.Get(CredentialHeader)
	if credentialPlain == "" {
		httpserver.RespondError(w, apperr.New(apperr.KindAuthRequired, "workspace credential required"))
		return
	}

	ws, err := h.lookupWorkspace(r.Context(), credential.HashProxyCredential(credentialPlain))
	if err != nil {
		h.logger.Warn("proxy: unknown workspace credential", "credential_prefix", prefixOf(credentialPlain))
		httpserver.RespondError(w, err)
		return
	}

	// Unlike the workspace-mutating transactions in the lifecycle manager,
	// there is no write here for a lock to protect: this is a plain,
	// uncached read executed fresh for every request, never hoisted out of
	// the handler or memoized across requests, which is what makes it the
	// entitlement state "at the moment of the operation" spec §9 requires.
	entitled, err := h.checkEntitled(r.Context(), ws.OwnerID)
	if err != nil {
		httpserver.RespondError(w, err)
		return
	}
	if !entitled {
		httpserver.RespondError(w, apperr.New(apperr.KindUnentitled, "owning account has no active entitlement"))
		return
	}

	if ws.State != "running" || ws.ContainerID == "" {
		httpserver.RespondError(w, apperr.New(apperr.KindNotRunning, "workspace is not running").
			WithDetails(map[string]any{"state": ws.State}))
		return
	}

	status, err := h.engine.Inspect(r.Context(), ws.ContainerID)
	if err != nil || !status.Exists || !status.Running || status.InternalIP == "" {
		httpserver.RespondError(w, apperr.New(apperr.KindUpstreamUnreachable, "workspace container is unreachable"))
		return
	}

	target := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("%s:%d", status.InternalIP, h.containerPort),
	}

	reverseProxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = rewritePath(r.URL.Path, ws.ID.String())
			pr.Out.URL.RawQuery = pr.In.URL.RawQuery
			pr.Out.Header.Del(CredentialHeader)
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			httpserver.RespondError(w, apperr.Wrap(apperr.KindUpstreamUnreachable, "upstream connection failed", err))
		},
		FlushInterval: -1, // stream without buffering
	}

	reverseProxy.ServeHTTP(w, r)
}

// rewritePath removes the /api/proxy/{workspaceID} prefix; an empty
// remainder becomes "/".
func rewritePath(requestPath, workspaceID string) string {
	prefix := pathPrefix + "/" + workspaceID
	rest := strings.TrimPrefix(requestPath, prefix)
	if rest == "" {
		return "/"
	}
	return rest
}

// prefixOf returns a short, non-secret-revealing prefix of a credential for
// logging — never the whole value.
func prefixOf(s string) string {
	const n = 8
	if len(s) <= n {
		return "***"
	}
	return s[:n] + "***"
}
