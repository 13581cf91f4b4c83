package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/linkgate/internal/router"
)

// transientHints are substrings in error causes that indicate a transient
// failure worth retrying (e.g. broken connection, closed session).
var transientHints = []string{
	"context canceled",
	"target closed",
	"session closed",
	"websocket",
	"connection reset",
	"broken pipe",
	"eof",
	"connection refused",
	"connection closed",
	"not connected",
}

// Client drives a Chromium browser as a router.Host and feeds its target,
// network and page events to a Listener.
type Client struct {
	cdpURL       string
	promptPrefix string
	cmdTimeout   time.Duration

	mu       sync.Mutex
	cdp      *rawCDP
	pages    map[target.ID]*pageState
	sessions map[string]target.ID
	prompts  map[target.ID]router.WindowID
	windows  map[router.WindowID]target.ID
	lastPage target.ID

	catalog *catalog
	queue   *eventQueue
}

var (
	_ router.Host          = (*Client)(nil)
	_ router.PromptLocator = (*Client)(nil)
)

// NewClient returns a client for the CDP endpoint at cdpURL. Targets whose
// URL starts with promptPrefix are treated as prompt windows.
func NewClient(cdpURL, promptPrefix string, cmdTimeout time.Duration) *Client {
	if cmdTimeout <= 0 {
		cmdTimeout = 5 * time.Second
	}
	return &Client{
		cdpURL:       cdpURL,
		promptPrefix: strings.TrimSpace(promptPrefix),
		cmdTimeout:   cmdTimeout,
		pages:        make(map[target.ID]*pageState),
		sessions:     make(map[string]target.ID),
		prompts:      make(map[target.ID]router.WindowID),
		windows:      make(map[router.WindowID]target.ID),
		catalog:      newCatalog(),
		queue:        newEventQueue(),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.cdpURL == "" {
		return newError(CodeCDPUnavailable, "missing CDP URL", nil)
	}

	slog.Info("cdpcontrol connect start", "cdp_url", c.cdpURL)
	c.cleanupLocked()

	conn := newRawCDP(c.cdpURL)
	if err := conn.connect(ctx); err != nil {
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}
	c.cdp = conn

	if err := c.syncPagesLocked(ctx); err != nil {
		slog.Error("cdpcontrol initial page sync failed", "error", err)
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "connect to CDP failed", err)
	}

	for _, method := range watchedEvents {
		conn.registerEventHandler(method, func(sessionID string, params json.RawMessage) {
			c.queue.push(cdpEvent{method: method, sessionID: sessionID, params: params})
		})
	}

	cmdCtx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()
	if err := conn.watchTargets(cmdCtx); err != nil {
		c.cleanupLocked()
		return newError(CodeCDPUnavailable, "enable target discovery failed", err)
	}

	slog.Info("cdpcontrol connect ok", "cdp_url", c.cdpURL, "pages", len(c.pages))
	return nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked()
	return nil
}

func (c *Client) cleanupLocked() {
	if c.cdp != nil {
		for sessionID := range c.sessions {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := c.cdp.detachFromTarget(ctx, sessionID); err != nil {
				slog.Debug("cdpcontrol detach cleanup failed", "session_id", sessionID, "error", err)
			}
			cancel()
		}
		c.cdp.close()
		c.cdp = nil
	}
	c.pages = make(map[target.ID]*pageState)
	c.sessions = make(map[string]target.ID)
	c.prompts = make(map[target.ID]router.WindowID)
	c.windows = make(map[router.WindowID]target.ID)
	c.lastPage = ""
}

// syncPagesLocked records the pages that already exist so their creation is
// never replayed as a new tab.
func (c *Client) syncPagesLocked(ctx context.Context) error {
	if c.cdp == nil {
		return newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	targets, err := c.cdp.listTargets(ctx)
	if err != nil {
		return newError(CodeCDPUnavailable, "failed to list targets", err)
	}
	for _, t := range targets {
		if !t.isPage() || c.isPromptURL(t.URL) {
			continue
		}
		c.pages[t.TargetID] = &pageState{info: t, announced: true}
		c.lastPage = t.TargetID
	}
	slog.Debug("cdpcontrol page sync", "targets", len(targets), "pages", len(c.pages))
	return nil
}

func (c *Client) reconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

// conn returns the live connection or a CDP_UNAVAILABLE error.
func (c *Client) conn() (*rawCDP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cdp == nil {
		return nil, newError(CodeCDPUnavailable, "CDP client not connected", nil)
	}
	return c.cdp, nil
}

func (c *Client) isPromptURL(url string) bool {
	return c.promptPrefix != "" && strings.HasPrefix(url, c.promptPrefix)
}

// containerFor maps a browser context to a container ID. The default
// context maps to the empty ID.
func (c *Client) containerFor(ctx context.Context, conn *rawCDP, id cdp.BrowserContextID) router.ContainerID {
	if id == "" {
		return ""
	}
	if c.catalog.known(id) {
		return router.ContainerID(id)
	}
	ids, err := conn.browserContexts(ctx)
	if err != nil {
		slog.Debug("cdpcontrol browser context refresh failed", "error", err)
		return ""
	}
	for _, known := range ids {
		if known == id {
			c.catalog.lookup(id)
			return router.ContainerID(id)
		}
	}
	return ""
}

// GetTab returns the browser's current view of a page target.
func (c *Client) GetTab(ctx context.Context, id router.TabID) (router.Tab, error) {
	conn, err := c.conn()
	if err != nil {
		return router.Tab{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	info, err := conn.getTargetInfo(ctx, target.ID(id))
	if err != nil {
		return router.Tab{}, newError(CodeNotFound, "tab not found: "+string(id), err)
	}
	return router.Tab{
		ID:          id,
		OpenerID:    router.TabID(info.OpenerID),
		ContainerID: c.containerFor(ctx, conn, info.BrowserContextID),
		URL:         info.URL,
	}, nil
}

// CreateTab opens url in a new tab, inside container when it is non-empty.
func (c *Client) CreateTab(ctx context.Context, url string, container router.ContainerID) (router.TabID, error) {
	conn, err := c.conn()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	id, err := conn.createTarget(ctx, createTargetParams{URL: url, BrowserContextID: cdp.BrowserContextID(container)})
	if err != nil {
		return "", newError(CodeCDPUnavailable, "create tab failed", err)
	}
	slog.Debug("cdpcontrol tab created", "tab_id", id, "container_id", container)
	return router.TabID(id), nil
}

// UpdateTab navigates an existing tab.
func (c *Client) UpdateTab(ctx context.Context, id router.TabID, url string) error {
	conn, err := c.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	sessionID, err := c.ensureSession(ctx, conn, target.ID(id))
	if err != nil {
		return err
	}
	if err := conn.navigate(ctx, sessionID, url); err != nil {
		return newError(CodeCDPUnavailable, "navigate tab failed", err)
	}
	return nil
}

// ensureSession returns a CDP session for the target, attaching if needed.
func (c *Client) ensureSession(ctx context.Context, conn *rawCDP, id target.ID) (string, error) {
	c.mu.Lock()
	if p, ok := c.pages[id]; ok && p.sessionID != "" {
		c.mu.Unlock()
		return p.sessionID, nil
	}
	c.mu.Unlock()

	sid, err := conn.attachToTarget(ctx, id)
	if err != nil {
		return "", newError(CodeNotFound, "attach to tab failed: "+string(id), err)
	}
	c.mu.Lock()
	p, ok := c.pages[id]
	if !ok {
		p = &pageState{info: targetInfo{TargetID: id, Type: "page"}}
		c.pages[id] = p
	}
	p.sessionID = sid
	c.sessions[sid] = id
	c.mu.Unlock()
	slog.Debug("cdpcontrol session attached", "target_id", id, "session_id", sid)
	return sid, nil
}

// RemoveTab closes a tab.
func (c *Client) RemoveTab(ctx context.Context, id router.TabID) error {
	conn, err := c.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	if err := conn.closeTarget(ctx, target.ID(id)); err != nil {
		return newError(CodeNotFound, "close tab failed: "+string(id), err)
	}
	return nil
}

// CreatePopup opens spec.URL in a new window and returns the window ID.
func (c *Client) CreatePopup(ctx context.Context, spec router.PopupSpec) (router.WindowID, error) {
	conn, err := c.conn()
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	id, err := conn.createTarget(ctx, createTargetParams{
		URL:       spec.URL,
		NewWindow: true,
		Left:      spec.Left,
		Top:       spec.Top,
		Width:     spec.Width,
		Height:    spec.Height,
	})
	if err != nil {
		return 0, newError(CodeCDPUnavailable, "create prompt window failed", err)
	}

	w, err := conn.windowForTarget(ctx, id)
	if err != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), c.cmdTimeout)
		_ = conn.closeTarget(closeCtx, id)
		closeCancel()
		return 0, newError(CodeCDPUnavailable, "resolve prompt window failed", err)
	}

	windowID := router.WindowID(w.WindowID)
	c.mu.Lock()
	c.prompts[id] = windowID
	c.windows[windowID] = id
	c.mu.Unlock()
	slog.Debug("cdpcontrol prompt window opened", "window_id", windowID, "target_id", id)
	return windowID, nil
}

// ResizeWindow sets a window's size.
func (c *Client) ResizeWindow(ctx context.Context, id router.WindowID, width, height int) error {
	conn, err := c.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	bounds := browser.Bounds{Width: int64(width), Height: int64(height)}
	if err := conn.setWindowBounds(ctx, browser.WindowID(id), bounds); err != nil {
		return newError(CodeCDPUnavailable, "resize window failed", err)
	}
	return nil
}

// RemoveWindow closes a prompt window opened by CreatePopup.
func (c *Client) RemoveWindow(ctx context.Context, id router.WindowID) error {
	c.mu.Lock()
	targetID, ok := c.windows[id]
	c.mu.Unlock()
	if !ok {
		return newError(CodeNotFound, "unknown window", nil)
	}
	conn, err := c.conn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	if err := conn.closeTarget(ctx, targetID); err != nil {
		return newError(CodeNotFound, "close window failed", err)
	}
	return nil
}

// PromptWindow finds the window of an open prompt page for request id. Prompts
// opened by an earlier connection are adopted so RemoveWindow can close them.
func (c *Client) PromptWindow(ctx context.Context, id router.RequestID) (router.WindowID, error) {
	conn, err := c.conn()
	if err != nil {
		return 0, err
	}
	targets, err := conn.listTargets(ctx)
	if err != nil {
		return 0, newError(CodeCDPUnavailable, "list targets failed", err)
	}
	for _, t := range targets {
		if !t.isPage() || !c.isPromptURL(t.URL) || promptRequestID(t.URL) != string(id) {
			continue
		}
		c.mu.Lock()
		windowID, known := c.prompts[t.TargetID]
		c.mu.Unlock()
		if known {
			return windowID, nil
		}

		cmdCtx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
		w, err := conn.windowForTarget(cmdCtx, t.TargetID)
		cancel()
		if err != nil {
			return 0, newError(CodeCDPUnavailable, "resolve prompt window failed", err)
		}
		windowID = router.WindowID(w.WindowID)
		c.mu.Lock()
		c.prompts[t.TargetID] = windowID
		c.windows[windowID] = t.TargetID
		c.mu.Unlock()
		slog.Debug("cdpcontrol prompt window adopted", "request_id", id, "window_id", windowID, "target_id", t.TargetID)
		return windowID, nil
	}
	return 0, newError(CodeNotFound, "no prompt for request", nil)
}

func promptRequestID(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get("requestId")
}

// CurrentWindowBounds returns the bounds of the window holding the most
// recently active page.
func (c *Client) CurrentWindowBounds(ctx context.Context) (router.Bounds, error) {
	c.mu.Lock()
	last := c.lastPage
	c.mu.Unlock()
	if last == "" {
		return router.Bounds{}, newError(CodeNotFound, "no active page", nil)
	}
	conn, err := c.conn()
	if err != nil {
		return router.Bounds{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	w, err := conn.windowForTarget(ctx, last)
	if err != nil {
		return router.Bounds{}, newError(CodeCDPUnavailable, "window lookup failed", err)
	}
	b := w.Bounds
	if b.Width == 0 || b.Height == 0 {
		if b, err = conn.windowBounds(ctx, w.WindowID); err != nil {
			return router.Bounds{}, newError(CodeCDPUnavailable, "window bounds failed", err)
		}
	}
	return router.Bounds{Left: int(b.Left), Top: int(b.Top), Width: int(b.Width), Height: int(b.Height)}, nil
}

func (c *Client) shouldRetry(err error) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	if coded.Code != CodeCDPUnavailable {
		return false
	}
	if coded.Cause == nil {
		return false
	}
	cause := strings.ToLower(coded.Cause.Error())
	for _, hint := range transientHints {
		if strings.Contains(cause, hint) {
			return true
		}
	}
	return false
}
