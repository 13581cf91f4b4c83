package cdpcontrol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// rawCDP is a minimal browser-level CDP client. It speaks the flattened
// session protocol directly instead of going through chromedp's session
// setup, so the adapter decides exactly which domains get enabled on which
// targets.
type rawCDP struct {
	httpBase string // e.g. "http://127.0.0.1:9220"

	mu   sync.Mutex
	conn net.Conn
	seq  atomic.Int64
	done chan struct{}

	pending   map[int64]chan json.RawMessage
	pendingMu sync.Mutex

	eventMu       sync.RWMutex
	eventHandlers map[string][]eventHandler
}

type eventHandler struct {
	id int64
	fn func(sessionID string, params json.RawMessage)
}

func newRawCDP(httpBase string) *rawCDP {
	return &rawCDP{
		httpBase:      strings.TrimRight(httpBase, "/"),
		done:          make(chan struct{}),
		pending:       make(map[int64]chan json.RawMessage),
		eventHandlers: make(map[string][]eventHandler),
	}
}

// connect dials the browser-level WebSocket endpoint.
func (r *rawCDP) connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	wsURL, err := r.browserWSURL(ctx)
	if err != nil {
		return fmt.Errorf("rawcdp: browser ws url: %w", err)
	}

	slog.Debug("rawcdp connecting", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("rawcdp: dial: %w", err)
	}

	r.conn = conn
	r.pending = make(map[int64]chan json.RawMessage)
	go r.readLoop(conn)
	return nil
}

func (r *rawCDP) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// closed is signalled once the read loop exits.
func (r *rawCDP) closed() <-chan struct{} { return r.done }

// readLoop processes incoming messages, handing responses to waiters and
// events to registered handlers.
func (r *rawCDP) readLoop(conn net.Conn) {
	defer close(r.done)
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			slog.Debug("rawcdp read loop exit", "error", err)
			r.closeAllPending()
			return
		}

		var msg struct {
			ID        int64           `json:"id"`
			Method    string          `json:"method"`
			SessionID string          `json:"sessionId"`
			Params    json.RawMessage `json:"params"`
		}
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg.ID > 0 {
			r.pendingMu.Lock()
			ch, ok := r.pending[msg.ID]
			if ok {
				delete(r.pending, msg.ID)
			}
			r.pendingMu.Unlock()
			if ok {
				ch <- json.RawMessage(data)
			}
		} else if msg.Method != "" {
			r.dispatchEvent(msg.Method, msg.SessionID, msg.Params)
		}
	}
}

func (r *rawCDP) closeAllPending() {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
}

// deletePending removes a pending response channel by ID.
func (r *rawCDP) deletePending(id int64) {
	r.pendingMu.Lock()
	delete(r.pending, id)
	r.pendingMu.Unlock()
}

// sendRaw marshals an envelope, sends it over the WebSocket, and waits for
// the response keyed by the given id.
func (r *rawCDP) sendRaw(ctx context.Context, id int64, envelope any) (json.RawMessage, error) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("rawcdp: not connected")
	}

	ch := make(chan json.RawMessage, 1)
	r.pendingMu.Lock()
	r.pending[id] = ch
	r.pendingMu.Unlock()

	data, err := json.Marshal(envelope)
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: marshal: %w", err)
	}

	r.mu.Lock()
	err = wsutil.WriteClientText(conn, data)
	r.mu.Unlock()
	if err != nil {
		r.deletePending(id)
		return nil, fmt.Errorf("rawcdp: send: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("rawcdp: connection closed")
		}
		return resp, nil
	case <-ctx.Done():
		r.deletePending(id)
		return nil, ctx.Err()
	}
}

// send sends a browser-level command and returns its result.
func (r *rawCDP) send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return r.sendFlat(ctx, "", method, params)
}

// sendFlat sends a command on a flattened session (sessionId in the outer
// envelope) and returns the inner "result" field.
func (r *rawCDP) sendFlat(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	id := r.seq.Add(1)
	req := struct {
		ID        int64  `json:"id"`
		Method    string `json:"method"`
		SessionID string `json:"sessionId,omitempty"`
		Params    any    `json:"params,omitempty"`
	}{ID: id, Method: method, SessionID: sessionID, Params: params}

	resp, err := r.sendRaw(ctx, id, req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp, &envelope); err != nil {
		return nil, fmt.Errorf("rawcdp: unmarshal %s: %w", method, err)
	}
	if envelope.Error != nil {
		return nil, fmt.Errorf("rawcdp: %s: %s", method, envelope.Error.Message)
	}
	return envelope.Result, nil
}

// call sends a command and decodes its result into out when out is non-nil.
func (r *rawCDP) call(ctx context.Context, sessionID, method string, params, out any) error {
	raw, err := r.sendFlat(ctx, sessionID, method, params)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("rawcdp: unmarshal %s: %w", method, err)
	}
	return nil
}

// watchTargets turns on target discovery and flat auto-attach. New targets
// stay paused until runIfWaitingForDebugger so their first request is seen.
func (r *rawCDP) watchTargets(ctx context.Context) error {
	if err := r.call(ctx, "", "Target.setDiscoverTargets", struct {
		Discover bool `json:"discover"`
	}{Discover: true}, nil); err != nil {
		return err
	}
	return r.call(ctx, "", "Target.setAutoAttach", struct {
		AutoAttach             bool `json:"autoAttach"`
		WaitForDebuggerOnStart bool `json:"waitForDebuggerOnStart"`
		Flatten                bool `json:"flatten"`
	}{AutoAttach: true, WaitForDebuggerOnStart: true, Flatten: true}, nil)
}

// instrumentSession enables the domains the classifier listens to and
// resumes the target.
func (r *rawCDP) instrumentSession(ctx context.Context, sessionID string) error {
	if err := r.call(ctx, sessionID, "Network.enable", struct{}{}, nil); err != nil {
		return err
	}
	if err := r.call(ctx, sessionID, "Page.enable", nil, nil); err != nil {
		return err
	}
	return r.call(ctx, sessionID, "Runtime.runIfWaitingForDebugger", nil, nil)
}

// attachToTarget attaches a flat session to the given target.
func (r *rawCDP) attachToTarget(ctx context.Context, targetID target.ID) (string, error) {
	var resp struct {
		SessionID string `json:"sessionId"`
	}
	err := r.call(ctx, "", "Target.attachToTarget", struct {
		TargetID target.ID `json:"targetId"`
		Flatten  bool      `json:"flatten"`
	}{TargetID: targetID, Flatten: true}, &resp)
	if err != nil {
		return "", err
	}
	return resp.SessionID, nil
}

// detachFromTarget detaches from a session without closing the target.
func (r *rawCDP) detachFromTarget(ctx context.Context, sessionID string) error {
	return r.call(ctx, "", "Target.detachFromTarget", struct {
		SessionID string `json:"sessionId"`
	}{SessionID: sessionID}, nil)
}

func (r *rawCDP) getTargetInfo(ctx context.Context, targetID target.ID) (targetInfo, error) {
	var resp struct {
		TargetInfo targetInfo `json:"targetInfo"`
	}
	err := r.call(ctx, "", "Target.getTargetInfo", struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: targetID}, &resp)
	return resp.TargetInfo, err
}

type createTargetParams struct {
	URL              string               `json:"url"`
	NewWindow        bool                 `json:"newWindow,omitempty"`
	Left             *int                 `json:"left,omitempty"`
	Top              *int                 `json:"top,omitempty"`
	Width            int                  `json:"width,omitempty"`
	Height           int                  `json:"height,omitempty"`
	BrowserContextID cdp.BrowserContextID `json:"browserContextId,omitempty"`
}

func (r *rawCDP) createTarget(ctx context.Context, p createTargetParams) (target.ID, error) {
	var resp struct {
		TargetID target.ID `json:"targetId"`
	}
	if err := r.call(ctx, "", "Target.createTarget", p, &resp); err != nil {
		return "", err
	}
	return resp.TargetID, nil
}

func (r *rawCDP) closeTarget(ctx context.Context, targetID target.ID) error {
	return r.call(ctx, "", "Target.closeTarget", struct {
		TargetID target.ID `json:"targetId"`
	}{TargetID: targetID}, nil)
}

// navigate loads url in the page attached to sessionID.
func (r *rawCDP) navigate(ctx context.Context, sessionID, url string) error {
	var resp struct {
		ErrorText string `json:"errorText"`
	}
	err := r.call(ctx, sessionID, "Page.navigate", struct {
		URL string `json:"url"`
	}{URL: url}, &resp)
	if err != nil {
		return err
	}
	if resp.ErrorText != "" {
		return fmt.Errorf("rawcdp: navigate: %s", resp.ErrorText)
	}
	return nil
}

type navigationHistory struct {
	CurrentIndex int `json:"currentIndex"`
	Entries      []struct {
		URL            string `json:"url"`
		TransitionType string `json:"transitionType"`
	} `json:"entries"`
}

// currentTransition returns the transition type of the session's current
// history entry.
func (r *rawCDP) currentTransition(ctx context.Context, sessionID string) (string, error) {
	var h navigationHistory
	if err := r.call(ctx, sessionID, "Page.getNavigationHistory", nil, &h); err != nil {
		return "", err
	}
	if h.CurrentIndex < 0 || h.CurrentIndex >= len(h.Entries) {
		return "", fmt.Errorf("rawcdp: navigation history index %d out of range", h.CurrentIndex)
	}
	return h.Entries[h.CurrentIndex].TransitionType, nil
}

type windowForTarget struct {
	WindowID browser.WindowID `json:"windowId"`
	Bounds   browser.Bounds   `json:"bounds"`
}

func (r *rawCDP) windowForTarget(ctx context.Context, targetID target.ID) (windowForTarget, error) {
	var resp windowForTarget
	err := r.call(ctx, "", "Browser.getWindowForTarget", struct {
		TargetID target.ID `json:"targetId,omitempty"`
	}{TargetID: targetID}, &resp)
	return resp, err
}

func (r *rawCDP) setWindowBounds(ctx context.Context, windowID browser.WindowID, bounds browser.Bounds) error {
	return r.call(ctx, "", "Browser.setWindowBounds", struct {
		WindowID browser.WindowID `json:"windowId"`
		Bounds   browser.Bounds   `json:"bounds"`
	}{WindowID: windowID, Bounds: bounds}, nil)
}

func (r *rawCDP) windowBounds(ctx context.Context, windowID browser.WindowID) (browser.Bounds, error) {
	var resp struct {
		Bounds browser.Bounds `json:"bounds"`
	}
	err := r.call(ctx, "", "Browser.getWindowBounds", struct {
		WindowID browser.WindowID `json:"windowId"`
	}{WindowID: windowID}, &resp)
	return resp.Bounds, err
}

// browserContexts lists every non-default browser context.
func (r *rawCDP) browserContexts(ctx context.Context) ([]cdp.BrowserContextID, error) {
	var resp struct {
		BrowserContextIDs []cdp.BrowserContextID `json:"browserContextIds"`
	}
	if err := r.call(ctx, "", "Target.getBrowserContexts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.BrowserContextIDs, nil
}

func (r *rawCDP) createBrowserContext(ctx context.Context) (cdp.BrowserContextID, error) {
	var resp struct {
		BrowserContextID cdp.BrowserContextID `json:"browserContextId"`
	}
	err := r.call(ctx, "", "Target.createBrowserContext", struct {
		DisposeOnDetach bool `json:"disposeOnDetach"`
	}{DisposeOnDetach: false}, &resp)
	if err != nil {
		return "", err
	}
	return resp.BrowserContextID, nil
}

// listTargets fetches open targets via the HTTP /json/list endpoint.
func (r *rawCDP) listTargets(ctx context.Context) ([]targetInfo, error) {
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(listCtx, http.MethodGet, r.httpBase+"/json/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rawcdp: /json/list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var entries []struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	out := make([]targetInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, targetInfo{
			TargetID: target.ID(e.ID),
			Type:     e.Type,
			Title:    e.Title,
			URL:      e.URL,
		})
	}
	return out, nil
}

// registerEventHandler registers a handler for a CDP event method (e.g.
// "Target.targetCreated"). Returns an unregister function.
func (r *rawCDP) registerEventHandler(method string, fn func(sessionID string, params json.RawMessage)) func() {
	id := r.seq.Add(1)
	r.eventMu.Lock()
	r.eventHandlers[method] = append(r.eventHandlers[method], eventHandler{id: id, fn: fn})
	r.eventMu.Unlock()
	return func() {
		r.eventMu.Lock()
		defer r.eventMu.Unlock()
		handlers := r.eventHandlers[method]
		for i, h := range handlers {
			if h.id == id {
				r.eventHandlers[method] = append(handlers[:i], handlers[i+1:]...)
				break
			}
		}
	}
}

// dispatchEvent invokes all registered handlers for the given CDP event method.
func (r *rawCDP) dispatchEvent(method, sessionID string, params json.RawMessage) {
	r.eventMu.RLock()
	handlers := make([]eventHandler, len(r.eventHandlers[method]))
	copy(handlers, r.eventHandlers[method])
	r.eventMu.RUnlock()
	for _, h := range handlers {
		h.fn(sessionID, params)
	}
}

// browserWSURL fetches the WebSocket debugger URL from /json/version.
func (r *rawCDP) browserWSURL(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.httpBase+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("rawcdp: /json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
