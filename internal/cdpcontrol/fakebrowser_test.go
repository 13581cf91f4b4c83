package cdpcontrol

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/dgnsrekt/linkgate/internal/router"
)

type fakeCall struct {
	Method    string
	SessionID string
	Params    json.RawMessage
}

// fakeBrowser speaks just enough of the DevTools HTTP and WebSocket protocol
// to drive a Client.
type fakeBrowser struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	handlers map[string]func(params json.RawMessage) (any, error)
	calls    []fakeCall
	targets  []map[string]any

	writeMu sync.Mutex
	conn    net.Conn
}

func newFakeBrowser(t *testing.T) *fakeBrowser {
	t.Helper()
	fb := &fakeBrowser{
		t:        t,
		handlers: make(map[string]func(json.RawMessage) (any, error)),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://" + r.Host + "/devtools/browser/fake",
		})
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		targets := fb.targets
		fb.mu.Unlock()
		if targets == nil {
			targets = []map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(targets)
	})
	mux.HandleFunc("/devtools/browser/fake", fb.serveWS)
	fb.srv = httptest.NewServer(mux)
	t.Cleanup(fb.srv.Close)
	return fb
}

func (fb *fakeBrowser) handle(method string, fn func(params json.RawMessage) (any, error)) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.handlers[method] = fn
}

func (fb *fakeBrowser) reply(method string, result any) {
	fb.handle(method, func(json.RawMessage) (any, error) { return result, nil })
}

func (fb *fakeBrowser) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}
	fb.writeMu.Lock()
	fb.conn = conn
	fb.writeMu.Unlock()
	defer conn.Close()

	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var req struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &req) != nil {
			continue
		}

		fb.mu.Lock()
		fb.calls = append(fb.calls, fakeCall{Method: req.Method, SessionID: req.SessionID, Params: req.Params})
		h := fb.handlers[req.Method]
		fb.mu.Unlock()

		resp := map[string]any{"id": req.ID}
		if req.SessionID != "" {
			resp["sessionId"] = req.SessionID
		}
		var result any = map[string]any{}
		if h != nil {
			out, err := h(req.Params)
			if err != nil {
				resp["error"] = map[string]any{"code": -32000, "message": err.Error()}
			} else if out != nil {
				result = out
			}
		}
		if _, failed := resp["error"]; !failed {
			resp["result"] = result
		}
		fb.write(resp)
	}
}

func (fb *fakeBrowser) write(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fb.t.Errorf("marshal fake frame: %v", err)
		return
	}
	fb.writeMu.Lock()
	defer fb.writeMu.Unlock()
	if fb.conn == nil {
		fb.t.Error("fake browser has no client connection")
		return
	}
	_ = wsutil.WriteServerText(fb.conn, b)
}

// emit sends an event, scoped to sessionID when it is non-empty.
func (fb *fakeBrowser) emit(method, sessionID string, params any) {
	msg := map[string]any{"method": method, "params": params}
	if sessionID != "" {
		msg["sessionId"] = sessionID
	}
	fb.write(msg)
}

func (fb *fakeBrowser) callsTo(method string) []fakeCall {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var out []fakeCall
	for _, c := range fb.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (fb *fakeBrowser) connect(t *testing.T, promptPrefix string) *Client {
	t.Helper()
	c := NewClient(fb.srv.URL, promptPrefix, 2*time.Second)
	if err := c.Connect(t.Context()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type listenerView struct {
	created  []router.Tab
	requests []string
	origins  []bool
	commits  []router.Commit
	removed  []router.TabID
	prompts  []router.WindowID
}

type recordingListener struct {
	mu sync.Mutex
	listenerView
}

func (l *recordingListener) OnTabCreated(tab router.Tab) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.created = append(l.created, tab)
}

func (l *recordingListener) OnMainFrameRequestObserved(_ router.TabID, url string, hasOrigin bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, url)
	l.origins = append(l.origins, hasOrigin)
}

func (l *recordingListener) OnNavigationCommitted(_ context.Context, c router.Commit) router.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commits = append(l.commits, c)
	return router.Decision{}
}

func (l *recordingListener) OnTabRemoved(id router.TabID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.removed = append(l.removed, id)
}

func (l *recordingListener) OnPromptWindowRemoved(id router.WindowID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, id)
}

func (l *recordingListener) snapshot() listenerView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return listenerView{
		created:  append([]router.Tab(nil), l.created...),
		requests: append([]string(nil), l.requests...),
		origins:  append([]bool(nil), l.origins...),
		commits:  append([]router.Commit(nil), l.commits...),
		removed:  append([]router.TabID(nil), l.removed...),
		prompts:  append([]router.WindowID(nil), l.prompts...),
	}
}
