package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var errGone = errors.New("no tab with given id")

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	c       *manualClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type createdTab struct {
	URL       string
	Container ContainerID
}

type fakeHost struct {
	mu sync.Mutex

	tabs       map[TabID]Tab
	nextTab    int
	nextWindow WindowID
	bounds     Bounds
	containers []Container

	getTabErr       error
	createTabErr    error
	updateErr       error
	removeTabErr    error
	popupErr        error
	resizeErr       error
	removeWindowErr error
	boundsErr       error
	containersErr   error

	onCreatePopup func()
	onCreateTab   func(id TabID, url string)
	promptWindows map[RequestID]WindowID

	created        []createdTab
	updated        map[TabID][]string
	removedTabs    []TabID
	popups         []PopupSpec
	resized        []WindowID
	removedWindows []WindowID
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		tabs:       make(map[TabID]Tab),
		nextWindow: 100,
		bounds:     Bounds{Left: 0, Top: 0, Width: 1280, Height: 800},
		updated:    make(map[TabID][]string),
	}
}

func (h *fakeHost) addTab(tab Tab) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tabs[tab.ID] = tab
}

func (h *fakeHost) GetTab(_ context.Context, id TabID) (Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.getTabErr != nil {
		return Tab{}, h.getTabErr
	}
	tab, ok := h.tabs[id]
	if !ok {
		return Tab{}, errGone
	}
	return tab, nil
}

func (h *fakeHost) CreateTab(_ context.Context, url string, container ContainerID) (TabID, error) {
	h.mu.Lock()
	if h.createTabErr != nil {
		h.mu.Unlock()
		return "", h.createTabErr
	}
	h.nextTab++
	id := TabID(fmt.Sprintf("new-%d", h.nextTab))
	h.tabs[id] = Tab{ID: id, URL: url, ContainerID: container}
	h.created = append(h.created, createdTab{URL: url, Container: container})
	hook := h.onCreateTab
	h.mu.Unlock()
	if hook != nil {
		hook(id, url)
	}
	return id, nil
}

func (h *fakeHost) UpdateTab(_ context.Context, id TabID, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updated[id] = append(h.updated[id], url)
	if h.updateErr != nil {
		return h.updateErr
	}
	return nil
}

func (h *fakeHost) RemoveTab(_ context.Context, id TabID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removedTabs = append(h.removedTabs, id)
	if h.removeTabErr != nil {
		return h.removeTabErr
	}
	delete(h.tabs, id)
	return nil
}

func (h *fakeHost) CreatePopup(_ context.Context, spec PopupSpec) (WindowID, error) {
	h.mu.Lock()
	hook := h.onCreatePopup
	h.popups = append(h.popups, spec)
	err := h.popupErr
	h.nextWindow++
	id := h.nextWindow
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (h *fakeHost) ResizeWindow(_ context.Context, id WindowID, _, _ int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.resized = append(h.resized, id)
	return h.resizeErr
}

func (h *fakeHost) RemoveWindow(_ context.Context, id WindowID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removedWindows = append(h.removedWindows, id)
	return h.removeWindowErr
}

func (h *fakeHost) CurrentWindowBounds(context.Context) (Bounds, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.boundsErr != nil {
		return Bounds{}, h.boundsErr
	}
	return h.bounds, nil
}

func (h *fakeHost) QueryContainers(context.Context, ContainerFilter) ([]Container, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.containersErr != nil {
		return nil, h.containersErr
	}
	return append([]Container(nil), h.containers...), nil
}

func (h *fakeHost) CreateContainer(_ context.Context, spec ContainerSpec) (Container, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.containersErr != nil {
		return Container{}, h.containersErr
	}
	c := Container{ID: ContainerID(fmt.Sprintf("ctx-%d", len(h.containers)+1)), Name: spec.Name, Color: spec.Color, Icon: spec.Icon}
	h.containers = append(h.containers, c)
	return c, nil
}

func (h *fakeHost) PromptWindow(_ context.Context, id RequestID) (WindowID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if w, ok := h.promptWindows[id]; ok {
		return w, nil
	}
	return 0, errors.New("no prompt for request")
}

func (h *fakeHost) createdTabs() []createdTab {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]createdTab(nil), h.created...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind)
	}
	return out
}

type countingRecorder struct {
	mu        sync.Mutex
	decisions map[string]int
	outcomes  map[string]int
	pending   int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{decisions: map[string]int{}, outcomes: map[string]int{}}
}

func (c *countingRecorder) ObserveDecision(_ bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decisions[reason]++
}

func (c *countingRecorder) ObserveResolution(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[outcome]++
}

func (c *countingRecorder) SetPending(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = n
}

func (c *countingRecorder) SetCandidates(int) {}

type fixture struct {
	host  *fakeHost
	clock *manualClock
	sink  *recordingSink
	rec   *countingRecorder
	r     *Router
}

func newFixture() *fixture {
	f := &fixture{
		host:  newFakeHost(),
		clock: newManualClock(),
		sink:  &recordingSink{},
		rec:   newCountingRecorder(),
	}
	f.r = New(f.host, Options{
		PromptBaseURL: "http://127.0.0.1:8190/",
		Clock:         f.clock,
		Events:        f.sink,
		Recorder:      f.rec,
	})
	seq := 0
	f.r.newID = func() RequestID {
		seq++
		return RequestID(fmt.Sprintf("req-%d", seq))
	}
	return f
}

// openExternal replays the event sequence of an OS-opened link up to, but not
// including, the commit.
func (f *fixture) openExternal(tabID TabID, initialURL, url string) {
	f.host.addTab(Tab{ID: tabID, URL: initialURL})
	f.r.OnTabCreated(Tab{ID: tabID, URL: initialURL})
	f.r.OnMainFrameRequestObserved(tabID, url, false)
}

func linkCommit(tabID TabID, url string) Commit {
	return Commit{TabID: tabID, URL: url, TopLevel: true, Transition: TransitionLink}
}
