package proxy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"testing"

	"github.com/google/uuid"

	"github.com/forgehost/controlplane/internal/apperr"
	"github.com/forgehost/controlplane/internal/containerengine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandler(t *testing.T, ws WorkspaceView, entitled bool, engine containerengine.Engine) *Handler {
	t.Helper()
	lookup := func(ctx context.Context, hash string) (WorkspaceView, error) {
		if hash != "matching-hash" {
			return WorkspaceView{}, apperr.New(apperr.KindAuthFailed, "unknown workspace credential")
		}
		return ws, nil
	}
	checkEntitled := func(ctx context.Context, ownerID uuid.UUID) (bool, error) {
		return entitled, nil
	}
	return NewHandler(lookup, checkEntitled, engine, testLogger(), 0, 9000)
}

func TestServeHTTP_MissingCredential(t *testing.T) {
	h := newTestHandler(t, WorkspaceView{}, true, containerengine.NewFake())

	r := httptest.NewRequest(http.MethodGet, "/api/proxy/abc/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestServeHTTP_UnknownCredential(t *testing.T) {
	h := newTestHandler(t, WorkspaceView{}, true, containerengine.NewFake())

	r := httptest.NewRequest(http.MethodGet, "/api/proxy/abc/health", nil)
	r.Header.Set(CredentialHeader, "wrong-credential")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestServeHTTP_Unentitled(t *testing.T) {
	wsID := uuid.New()
	ws := WorkspaceView{ID: wsID, OwnerID: uuid.New(), State: "running", ContainerID: "c1"}
	h := newTestHandler(t, ws, false, containerengine.NewFake())

	r := httptest.NewRequest(http.MethodGet, "/api/proxy/"+wsID.String()+"/health", nil)
	r.Header.Set(CredentialHeader, "matching-hash-plaintext")
	w := httptest.NewRecorder()
	// The default test lookup only accepts the literal hash "matching-hash",
	// which no plaintext hashes to, so it is replaced by one that ignores the hash.
	h.lookupWorkspace = func(ctx context.Context, hash string) (WorkspaceView, error) { return ws, nil }
	h.ServeHTTP(w, r)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestServeHTTP_NotRunning(t *testing.T) {
	wsID := uuid.New()
	ws := WorkspaceView{ID: wsID, OwnerID: uuid.New(), State: "stopped", ContainerID: ""}
	h := newTestHandler(t, ws, true, containerengine.NewFake())
	h.lookupWorkspace = func(ctx context.Context, hash string) (WorkspaceView, error) { return ws, nil }

	r := httptest.NewRequest(http.MethodGet, "/api/proxy/"+wsID.String()+"/health", nil)
	r.Header.Set(CredentialHeader, "anything")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestServeHTTP_ForwardsAndStripsCredential(t *testing.T) {
	var gotPath string
	var gotCredential string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCredential = r.Header.Get(CredentialHeader)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	upstreamURL, _ := url.Parse(upstream.URL)
	port, _ := strconv.Atoi(upstreamURL.Port())

	fake := containerengine.NewFake()
	spec := containerengine.Spec{WorkspaceID: "ws1", Image: "img", CPUQuota: 1, MemoryBytes: 1 << 20}
	if err := fake.EnsureNetwork(context.Background()); err != nil {
		t.Fatalf("EnsureNetwork: %v", err)
	}
	containerID, err := fake.CreateContainer(context.Background(), spec)
	if err != nil {
		t.Fatalf("CreateContainer: %v", err)
	}
	if err := fake.Start(context.Background(), containerID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status, err := fake.Inspect(context.Background(), containerID)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	status.InternalIP = upstreamURL.Hostname()

	wsID := uuid.New()
	ws := WorkspaceView{ID: wsID, OwnerID: uuid.New(), State: "running", ContainerID: containerID}

	spyEngine := &spyInspectEngine{Engine: fake, override: status}
	h := NewHandler(
		func(ctx context.Context, hash string) (WorkspaceView, error) { return ws, nil },
		func(ctx context.Context, ownerID uuid.UUID) (bool, error) { return true, nil },
		spyEngine,
		testLogger(),
		0,
		port,
	)

	r := httptest.NewRequest(http.MethodGet, "/api/proxy/"+wsID.String()+"/health", nil)
	r.Header.Set(CredentialHeader, "plaintext-credential")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	if string(body) != "ok" {
		t.Errorf("body = %q, want %q", string(body), "ok")
	}
	if gotPath != "/health" {
		t.Errorf("upstream path = %q, want %q", gotPath, "/health")
	}
	if gotCredential != "" {
		t.Errorf("upstream received credential header %q, want empty", gotCredential)
	}
}

// spyInspectEngine overrides Inspect's InternalIP so the test can point the
// proxy at an httptest server regardless of the fake engine's own addressing.
type spyInspectEngine struct {
	containerengine.Engine
	override containerengine.Status
}

func (s *spyInspectEngine) Inspect(ctx context.Context, containerID string) (containerengine.Status, error) {
	status, err := s.Engine.Inspect(ctx, containerID)
	if err != nil {
		return status, err
	}
	status.InternalIP = s.override.InternalIP
	return status, nil
}

func TestRewritePath(t *testing.T) {
	id := "11111111-1111-1111-1111-111111111111"
	tests := []struct {
		path string
		want string
	}{
		{"/api/proxy/" + id, "/"},
		{"/api/proxy/" + id + "/", "/"},
		{"/api/proxy/" + id + "/health", "/health"},
		{"/api/proxy/" + id + "/v1/items", "/v1/items"},
	}
	for _, tt := range tests {
		if got := rewritePath(tt.path, id); got != tt.want {
			t.Errorf("rewritePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
