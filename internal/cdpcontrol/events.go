package cdpcontrol

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/linkgate/internal/router"
)

// Listener receives browser events in arrival order.
type Listener interface {
	OnTabCreated(tab router.Tab)
	OnMainFrameRequestObserved(tabID router.TabID, url string, hasOrigin bool)
	OnNavigationCommitted(ctx context.Context, c router.Commit) router.Decision
	OnTabRemoved(tabID router.TabID)
	OnPromptWindowRemoved(windowID router.WindowID)
}

const (
	evTargetCreated      = "Target.targetCreated"
	evTargetInfoChanged  = "Target.targetInfoChanged"
	evTargetDestroyed    = "Target.targetDestroyed"
	evAttachedToTarget   = "Target.attachedToTarget"
	evDetachedFromTarget = "Target.detachedFromTarget"
	evRequestWillBeSent  = "Network.requestWillBeSent"
	evFrameNavigated     = "Page.frameNavigated"
)

var watchedEvents = []string{
	evTargetCreated,
	evTargetInfoChanged,
	evTargetDestroyed,
	evAttachedToTarget,
	evDetachedFromTarget,
	evRequestWillBeSent,
	evFrameNavigated,
}

type cdpEvent struct {
	method    string
	sessionID string
	params    json.RawMessage
}

// eventQueue is an unbounded FIFO between the read loop and the pump. The
// read loop must never block, since the pump itself waits on responses that
// the read loop delivers.
type eventQueue struct {
	mu    sync.Mutex
	items []cdpEvent
	ready chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(e cdpEvent) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []cdpEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Run pumps browser events into l until ctx is done, reconnecting with
// backoff when the browser connection drops.
func (c *Client) Run(ctx context.Context, l Listener) error {
	for {
		conn, err := c.conn()
		if err != nil {
			if err := c.reconnectWithBackoff(ctx); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.queue.ready:
			for _, evt := range c.queue.drain() {
				c.handleEvent(ctx, l, evt)
			}
		case <-conn.closed():
			slog.Warn("cdpcontrol connection lost")
			c.mu.Lock()
			if c.cdp == conn {
				c.cleanupLocked()
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) reconnectWithBackoff(ctx context.Context) error {
	delay := 500 * time.Millisecond
	for {
		err := c.reconnect(ctx)
		if err == nil {
			return nil
		}
		if !c.shouldRetry(err) {
			return err
		}
		slog.Warn("cdpcontrol reconnect failed", "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func (c *Client) handleEvent(ctx context.Context, l Listener, evt cdpEvent) {
	switch evt.method {
	case evTargetCreated, evTargetInfoChanged:
		info, ok := decodeTargetInfo(evt.params)
		if !ok || !info.isPage() {
			return
		}
		if evt.method == evTargetCreated {
			c.onTargetCreated(l, info)
		} else {
			c.onTargetInfoChanged(info)
		}
	case evTargetDestroyed:
		var p struct {
			TargetID target.ID `json:"targetId"`
		}
		if json.Unmarshal(evt.params, &p) != nil {
			return
		}
		c.onTargetDestroyed(l, p.TargetID)
	case evAttachedToTarget:
		c.onAttached(ctx, evt.params)
	case evDetachedFromTarget:
		var p struct {
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal(evt.params, &p) != nil {
			return
		}
		c.mu.Lock()
		if id, ok := c.sessions[p.SessionID]; ok {
			delete(c.sessions, p.SessionID)
			if st, ok := c.pages[id]; ok && st.sessionID == p.SessionID {
				st.sessionID = ""
			}
		}
		c.mu.Unlock()
	case evRequestWillBeSent:
		tabID, ok := c.pageForSession(evt.sessionID)
		if !ok {
			return
		}
		url, hasOrigin, ok := mainFrameRequest(evt.params, tabID)
		if !ok {
			return
		}
		l.OnMainFrameRequestObserved(router.TabID(tabID), url, hasOrigin)
	case evFrameNavigated:
		c.onFrameNavigated(ctx, l, evt.sessionID, evt.params)
	}
}

func (c *Client) onTargetCreated(l Listener, info targetInfo) {
	c.mu.Lock()
	if _, isPrompt := c.prompts[info.TargetID]; isPrompt || c.isPromptURL(info.URL) {
		c.mu.Unlock()
		return
	}
	st, ok := c.pages[info.TargetID]
	if ok && st.announced {
		c.mu.Unlock()
		return
	}
	if !ok {
		st = &pageState{}
		c.pages[info.TargetID] = st
	}
	st.info = info
	st.announced = true
	c.lastPage = info.TargetID
	c.mu.Unlock()

	slog.Debug("cdpcontrol page created", "target_id", info.TargetID, "opener_id", info.OpenerID, "url", info.URL)
	l.OnTabCreated(router.Tab{
		ID:       router.TabID(info.TargetID),
		OpenerID: router.TabID(info.OpenerID),
		URL:      info.URL,
	})
}

func (c *Client) onTargetInfoChanged(info targetInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pages[info.TargetID]; ok {
		p.info.URL = info.URL
		p.info.Title = info.Title
	}
}

func (c *Client) onTargetDestroyed(l Listener, id target.ID) {
	c.mu.Lock()
	windowID, isPrompt := c.prompts[id]
	if isPrompt {
		delete(c.prompts, id)
		delete(c.windows, windowID)
	}
	p, isPage := c.pages[id]
	if isPage {
		delete(c.pages, id)
		if p.sessionID != "" {
			delete(c.sessions, p.sessionID)
		}
		if c.lastPage == id {
			c.lastPage = ""
		}
	}
	c.mu.Unlock()

	switch {
	case isPrompt:
		slog.Debug("cdpcontrol prompt window closed", "window_id", windowID)
		l.OnPromptWindowRemoved(windowID)
	case isPage:
		l.OnTabRemoved(router.TabID(id))
	}
}

// onAttached instruments a freshly attached page and lets it continue.
func (c *Client) onAttached(ctx context.Context, params json.RawMessage) {
	var p struct {
		SessionID          string     `json:"sessionId"`
		TargetInfo         targetInfo `json:"targetInfo"`
		WaitingForDebugger bool       `json:"waitingForDebugger"`
	}
	if json.Unmarshal(params, &p) != nil || p.SessionID == "" {
		return
	}
	conn, err := c.conn()
	if err != nil {
		return
	}
	cmdCtx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	c.mu.Lock()
	_, isPrompt := c.prompts[p.TargetInfo.TargetID]
	c.mu.Unlock()
	if !p.TargetInfo.isPage() || isPrompt || c.isPromptURL(p.TargetInfo.URL) {
		// Only pages are instrumented; everything else is just released.
		if p.WaitingForDebugger {
			_ = conn.call(cmdCtx, p.SessionID, "Runtime.runIfWaitingForDebugger", nil, nil)
		}
		return
	}

	c.mu.Lock()
	st, ok := c.pages[p.TargetInfo.TargetID]
	if !ok {
		st = &pageState{info: p.TargetInfo}
		c.pages[p.TargetInfo.TargetID] = st
	}
	st.sessionID = p.SessionID
	c.sessions[p.SessionID] = p.TargetInfo.TargetID
	c.mu.Unlock()

	if err := conn.instrumentSession(cmdCtx, p.SessionID); err != nil {
		slog.Debug("cdpcontrol session instrument failed", "target_id", p.TargetInfo.TargetID, "error", err)
	}
}

func (c *Client) onFrameNavigated(ctx context.Context, l Listener, sessionID string, params json.RawMessage) {
	tabID, ok := c.pageForSession(sessionID)
	if !ok {
		return
	}
	var p struct {
		Frame struct {
			ID       string `json:"id"`
			ParentID string `json:"parentId"`
			URL      string `json:"url"`
		} `json:"frame"`
	}
	if json.Unmarshal(params, &p) != nil {
		return
	}
	commit := router.Commit{
		TabID:    router.TabID(tabID),
		URL:      p.Frame.URL,
		TopLevel: p.Frame.ParentID == "",
	}
	if !commit.TopLevel {
		return
	}

	c.mu.Lock()
	if st, ok := c.pages[tabID]; ok {
		st.info.URL = p.Frame.URL
	}
	c.lastPage = tabID
	c.mu.Unlock()

	conn, err := c.conn()
	if err != nil {
		return
	}
	cmdCtx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	transition, err := conn.currentTransition(cmdCtx, sessionID)
	cancel()
	if err != nil {
		slog.Debug("cdpcontrol navigation history failed", "target_id", tabID, "error", err)
		transition = string(page.TransitionTypeOther)
	}
	commit.Transition, commit.Qualifiers = mapTransition(transition)
	commit.CommittedAt = time.Now()
	l.OnNavigationCommitted(ctx, commit)
}

func (c *Client) pageForSession(sessionID string) (target.ID, bool) {
	if sessionID == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.sessions[sessionID]
	return id, ok
}

func decodeTargetInfo(params json.RawMessage) (targetInfo, bool) {
	var p struct {
		TargetInfo targetInfo `json:"targetInfo"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.TargetInfo.TargetID == "" {
		return targetInfo{}, false
	}
	return p.TargetInfo, true
}

// mainFrameRequest extracts the URL of a main-frame document request. The
// main frame of a page shares the page's target ID.
func mainFrameRequest(params json.RawMessage, pageID target.ID) (url string, hasOrigin bool, ok bool) {
	var p struct {
		Type    string `json:"type"`
		FrameID string `json:"frameId"`
		Request struct {
			URL     string         `json:"url"`
			Headers map[string]any `json:"headers"`
		} `json:"request"`
		Initiator struct {
			Type string `json:"type"`
			URL  string `json:"url"`
		} `json:"initiator"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return "", false, false
	}
	if p.Type != string(network.ResourceTypeDocument) || p.FrameID != string(pageID) || p.Request.URL == "" {
		return "", false, false
	}
	for k, v := range p.Request.Headers {
		if strings.EqualFold(k, "referer") {
			if s, _ := v.(string); s != "" {
				hasOrigin = true
			}
		}
	}
	if p.Initiator.URL != "" {
		hasOrigin = true
	}
	return p.Request.URL, hasOrigin, true
}

// mapTransition converts a Chromium transition type to the router's
// vocabulary. Chromium reports links the OS hands to the browser as
// auto_toplevel, and address bar navigations as their own type.
func mapTransition(t string) (router.TransitionType, []router.TransitionQualifier) {
	switch page.TransitionType(t) {
	case page.TransitionTypeLink, page.TransitionTypeAutoToplevel:
		return router.TransitionLink, nil
	case page.TransitionTypeAddressBar:
		return router.TransitionLink, []router.TransitionQualifier{router.QualifierFromAddressBar}
	case page.TransitionTypeTyped:
		return router.TransitionTyped, nil
	case page.TransitionTypeAutoBookmark:
		return router.TransitionAutoBookmark, nil
	case page.TransitionTypeAutoSubframe:
		return router.TransitionAutoSubframe, nil
	case page.TransitionTypeManualSubframe:
		return router.TransitionManualSubframe, nil
	case page.TransitionTypeGenerated:
		return router.TransitionGenerated, nil
	case page.TransitionTypeFormSubmit:
		return router.TransitionFormSubmit, nil
	case page.TransitionTypeReload:
		return router.TransitionReload, nil
	case page.TransitionTypeKeyword:
		return router.TransitionKeyword, nil
	case page.TransitionTypeKeywordGenerated:
		return router.TransitionKeywordGenerated, nil
	}
	return router.TransitionOther, nil
}
