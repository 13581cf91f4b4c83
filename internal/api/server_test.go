package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dgnsrekt/linkgate/internal/cdpcontrol"
	"github.com/dgnsrekt/linkgate/internal/router"
)

// stubHost is a browser that has no tabs and a fixed container list.
type stubHost struct {
	mu             sync.Mutex
	containers     []router.Container
	queryErr       error
	createErr      error
	removedWindows []router.WindowID
}

func (h *stubHost) GetTab(ctx context.Context, id router.TabID) (router.Tab, error) {
	return router.Tab{}, errors.New("no such tab")
}
func (h *stubHost) CreateTab(ctx context.Context, url string, container router.ContainerID) (router.TabID, error) {
	return "", errors.New("not supported")
}
func (h *stubHost) UpdateTab(ctx context.Context, id router.TabID, url string) error { return nil }
func (h *stubHost) RemoveTab(ctx context.Context, id router.TabID) error            { return nil }
func (h *stubHost) CreatePopup(ctx context.Context, spec router.PopupSpec) (router.WindowID, error) {
	return 0, errors.New("not supported")
}
func (h *stubHost) ResizeWindow(ctx context.Context, id router.WindowID, width, height int) error {
	return nil
}
func (h *stubHost) RemoveWindow(ctx context.Context, id router.WindowID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removedWindows = append(h.removedWindows, id)
	return nil
}
func (h *stubHost) CurrentWindowBounds(ctx context.Context) (router.Bounds, error) {
	return router.Bounds{}, nil
}
func (h *stubHost) QueryContainers(ctx context.Context, filter router.ContainerFilter) ([]router.Container, error) {
	return h.containers, h.queryErr
}
func (h *stubHost) CreateContainer(ctx context.Context, spec router.ContainerSpec) (router.Container, error) {
	if h.createErr != nil {
		return router.Container{}, h.createErr
	}
	if err := cdpcontrol.ValidateContainerSpec(spec); err != nil {
		return router.Container{}, err
	}
	return router.Container{ID: "ctx-new", Name: spec.Name, Color: spec.Color, Icon: spec.Icon}, nil
}

// recordingService wraps a real router and records resolution calls.
type recordingService struct {
	*router.Router
	mu    sync.Mutex
	calls []string
}

func (s *recordingService) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingService) ResolveWithContainer(ctx context.Context, id router.RequestID, container router.ContainerID, target string, from router.WindowID) router.Ack {
	s.record("with:" + string(id) + ":" + string(container) + ":" + target)
	return s.Router.ResolveWithContainer(ctx, id, container, target, from)
}

func (s *recordingService) ResolveWithoutContainer(ctx context.Context, id router.RequestID, target string, from router.WindowID) router.Ack {
	s.record("without:" + string(id) + ":" + target)
	return s.Router.ResolveWithoutContainer(ctx, id, target, from)
}

func (s *recordingService) Cancel(ctx context.Context, id router.RequestID, from router.WindowID) router.Ack {
	s.record("cancel:" + string(id))
	return s.Router.Cancel(ctx, id, from)
}

func newTestServer(t *testing.T, host *stubHost, mounts Mounts) (http.Handler, *recordingService) {
	t.Helper()
	svc := &recordingService{Router: router.New(host, router.Options{PromptBaseURL: "http://127.0.0.1:8190"})}
	return NewServer(svc, mounts), svc
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	h, _ := newTestServer(t, &stubHost{}, Mounts{})
	w := do(t, h, http.MethodGet, "/docs", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `data-theme="dark"`) {
		t.Fatalf("docs missing dark theme marker")
	}
	if strings.Contains(w.Body.String(), "linkgate-nav\">") {
		t.Fatalf("docs show shortcuts without mounts")
	}
}

func TestPromptPage(t *testing.T) {
	h, _ := newTestServer(t, &stubHost{}, Mounts{})
	w := do(t, h, http.MethodGet, "/prompt?requestId=req-1&url=https%3A%2F%2Fexample.com%2F", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content-type = %q", ct)
	}
	body := w.Body.String()
	for _, want := range []string{
		"/api/v1/messages",
		`action: "createContainer"`,
		`e.key === "Escape"`,
		`id="empty"`,
		`<option value="turquoise">`,
		`<option value="fence">`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("prompt page missing %q", want)
		}
	}
	if strings.Contains(body, "{{") {
		t.Fatal("prompt page has unexpanded placeholders")
	}
}

func TestMessageEndpoint(t *testing.T) {
	host := &stubHost{
		containers: []router.Container{{ID: "ctx-work", Name: "Work", Color: "blue", Icon: "briefcase"}},
	}
	h, svc := newTestServer(t, host, Mounts{})

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantBody string
		wantAck  bool
	}{
		{
			name:     "open in container for unknown request",
			body:     `{"action":"openInContainer","request_id":"missing","container_id":"ctx-work","sender_window_id":42}`,
			wantCode: http.StatusOK,
			wantAck:  true,
		},
		{
			name:     "open without container",
			body:     `{"action":"openWithoutContainer","request_id":"missing"}`,
			wantCode: http.StatusOK,
			wantAck:  true,
		},
		{
			name:     "cancel",
			body:     `{"action":"cancel","request_id":"missing"}`,
			wantCode: http.StatusOK,
			wantAck:  true,
		},
		{
			name:     "get containers",
			body:     `{"action":"getContainers"}`,
			wantCode: http.StatusOK,
			wantBody: `"name":"Work"`,
		},
		{
			name:     "create container",
			body:     `{"action":"createContainer","name":"Bank","color":"green","icon":"dollar"}`,
			wantCode: http.StatusOK,
			wantBody: `"id":"ctx-new"`,
		},
		{
			name:     "invalid container",
			body:     `{"action":"createContainer","name":"Bank","color":"magenta","icon":"dollar"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown action",
			body:     `{"action":"explode"}`,
			wantCode: http.StatusBadRequest,
			wantBody: "unknown action",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/messages", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantCode, w.Body.String())
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Fatalf("body = %s; want it to contain %s", w.Body.String(), tt.wantBody)
			}
			if tt.wantAck {
				var ack router.Ack
				if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil || !ack.Success {
					t.Fatalf("body = %s; want a successful ack", w.Body.String())
				}
			}
		})
	}

	host.mu.Lock()
	defer host.mu.Unlock()
	if len(host.removedWindows) != 1 || host.removedWindows[0] != 42 {
		t.Fatalf("removed windows = %v; want the sender window 42", host.removedWindows)
	}
	if len(svc.calls) != 0 {
		t.Fatalf("REST resolution methods called from message endpoint: %v", svc.calls)
	}
}

func TestRequestEndpoints(t *testing.T) {
	host := &stubHost{}
	h, svc := newTestServer(t, host, Mounts{})

	steps := []struct {
		path string
		body string
	}{
		{"/api/v1/requests/req-1/open-in-container?sender_window_id=7", `{"container_id":"ctx-work","url":"https://example.com/a"}`},
		{"/api/v1/requests/req-2/open-without-container", `{"url":"https://example.com/b"}`},
		{"/api/v1/requests/req-3/cancel", ""},
	}
	for _, s := range steps {
		w := do(t, h, http.MethodPost, s.path, s.body)
		if w.Code != http.StatusOK {
			t.Fatalf("POST %s status = %d; body %s", s.path, w.Code, w.Body.String())
		}
		var ack router.Ack
		if err := json.Unmarshal(w.Body.Bytes(), &ack); err != nil || !ack.Success {
			t.Fatalf("POST %s body = %s; want success", s.path, w.Body.String())
		}
	}

	want := []string{
		"with:req-1:ctx-work:https://example.com/a",
		"without:req-2:https://example.com/b",
		"cancel:req-3",
	}
	if strings.Join(svc.calls, "|") != strings.Join(want, "|") {
		t.Fatalf("calls = %v; want %v", svc.calls, want)
	}
	if len(host.removedWindows) != 1 || host.removedWindows[0] != 7 {
		t.Fatalf("removed windows = %v; want [7]", host.removedWindows)
	}

	w := do(t, h, http.MethodGet, "/api/v1/requests", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"requests":[]`) {
		t.Fatalf("GET /api/v1/requests = %d %s", w.Code, w.Body.String())
	}
}

func TestContainerEndpointsMapErrors(t *testing.T) {
	tests := []struct {
		name     string
		host     *stubHost
		method   string
		body     string
		wantCode int
	}{
		{name: "list", host: &stubHost{containers: []router.Container{{ID: "ctx-1", Name: "Work"}}}, method: http.MethodGet, wantCode: http.StatusOK},
		{name: "list unavailable", host: &stubHost{queryErr: &cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: "cdp down"}}, method: http.MethodGet, wantCode: http.StatusBadGateway},
		{name: "create", host: &stubHost{}, method: http.MethodPost, body: `{"name":"Work","color":"blue","icon":"briefcase"}`, wantCode: http.StatusCreated},
		{name: "create invalid", host: &stubHost{}, method: http.MethodPost, body: `{"name":"Work","color":"blue","icon":"rocket"}`, wantCode: http.StatusBadRequest},
		{name: "create unavailable", host: &stubHost{createErr: &cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: "cdp down"}}, method: http.MethodPost, body: `{"name":"Work","color":"blue","icon":"briefcase"}`, wantCode: http.StatusBadGateway},
		{name: "create plain failure", host: &stubHost{createErr: errors.New("boom")}, method: http.MethodPost, body: `{"name":"Work","color":"blue","icon":"briefcase"}`, wantCode: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestServer(t, tt.host, Mounts{})
			w := do(t, h, tt.method, "/api/v1/containers", tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body %s", w.Code, tt.wantCode, w.Body.String())
			}
		})
	}
}

func TestMounts(t *testing.T) {
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("events"))
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	})

	h, _ := newTestServer(t, &stubHost{}, Mounts{Events: events, Metrics: metrics})
	if w := do(t, h, http.MethodGet, "/api/v1/events", ""); w.Body.String() != "events" {
		t.Fatalf("/api/v1/events = %q", w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/metrics", ""); w.Body.String() != "metrics" {
		t.Fatalf("/metrics = %q", w.Body.String())
	}
	if w := do(t, h, http.MethodGet, "/docs", ""); !strings.Contains(w.Body.String(), `href="/api/v1/events"`) || !strings.Contains(w.Body.String(), `href="/metrics"`) {
		t.Fatalf("docs missing mount shortcuts")
	}

	bare, _ := newTestServer(t, &stubHost{}, Mounts{})
	if w := do(t, bare, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Fatalf("/metrics without mount status = %d; want 404", w.Code)
	}
	if w := do(t, bare, http.MethodGet, "/health", ""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"pending_requests":0`) {
		t.Fatalf("/health = %d %s", w.Code, w.Body.String())
	}
}

func TestMapErr(t *testing.T) {
	if mapErr(nil) != nil {
		t.Fatal("mapErr(nil) != nil")
	}
	tests := []struct {
		err  error
		want int
	}{
		{&cdpcontrol.CodedError{Code: cdpcontrol.CodeValidation, Message: "bad"}, http.StatusBadRequest},
		{&cdpcontrol.CodedError{Code: cdpcontrol.CodeNotFound, Message: "gone"}, http.StatusNotFound},
		{&cdpcontrol.CodedError{Code: cdpcontrol.CodeCDPUnavailable, Message: "down"}, http.StatusBadGateway},
		{&cdpcontrol.CodedError{Code: "OTHER", Message: "?"}, http.StatusInternalServerError},
		{router.ErrUnknownAction, http.StatusBadRequest},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		got := mapErr(tt.err)
		var status interface{ GetStatus() int }
		if !errors.As(got, &status) || status.GetStatus() != tt.want {
			t.Fatalf("mapErr(%v) = %v; want status %d", tt.err, got, tt.want)
		}
	}
}

func TestRequestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	oldLogger := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() {
		slog.SetDefault(oldLogger)
	})

	h, _ := newTestServer(t, &stubHost{}, Mounts{})
	do(t, h, http.MethodGet, "/health", "")
	if strings.Contains(buf.String(), "path=/health") {
		t.Fatalf("health poll logged at info: %q", buf.String())
	}
	do(t, h, http.MethodGet, "/api/v1/requests", "")
	if !strings.Contains(buf.String(), "path=/api/v1/requests") || !strings.Contains(buf.String(), "request_id=") {
		t.Fatalf("request not logged: %q", buf.String())
	}
}
