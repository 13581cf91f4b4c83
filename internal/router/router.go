// Package router decides whether a navigation was opened from outside the
// browser and coordinates redirecting it into a user-chosen container.
//
// All tracked state lives on a Router. Event handlers may be called from any
// goroutine; the Router never holds its lock across a host call, so every
// handler re-checks state after each host round trip.
package router

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultCandidateTTL   = 5 * time.Second
	DefaultClassifyWindow = 3 * time.Second
	DefaultPromptWidth    = 360
	DefaultPromptHeight   = 400
	DefaultPlaceholderURL = "about:blank"
)

// DefaultInternalPages are browser-owned pages that never count as an
// externally opened tab.
var DefaultInternalPages = []string{
	"about:newtab",
	"about:home",
	"about:privatebrowsing",
	"chrome://newtab/",
	"chrome://new-tab-page/",
	"edge://newtab/",
}

// Options configures a Router. Zero fields take the package defaults.
type Options struct {
	CandidateTTL   time.Duration
	ClassifyWindow time.Duration
	InternalPages  []string
	PromptBaseURL  string
	PromptWidth    int
	PromptHeight   int
	PlaceholderURL string

	Clock    Clock
	Events   EventSink
	Recorder Recorder
}

// Router owns the candidate tracker, the handled set and the pending-request
// registry.
type Router struct {
	host          Host
	opts          Options
	clock         Clock
	events        EventSink
	rec           Recorder
	internalPages map[string]struct{}
	newID         func() RequestID

	mu         sync.Mutex
	candidates map[TabID]*CandidateRecord
	handled    map[TabID]struct{}
	pending    map[RequestID]*PendingRequest
	opening    map[string]int
}

// New builds a Router that drives the given host.
func New(host Host, opts Options) *Router {
	if opts.CandidateTTL <= 0 {
		opts.CandidateTTL = DefaultCandidateTTL
	}
	if opts.ClassifyWindow <= 0 {
		opts.ClassifyWindow = DefaultClassifyWindow
	}
	if opts.PromptWidth <= 0 {
		opts.PromptWidth = DefaultPromptWidth
	}
	if opts.PromptHeight <= 0 {
		opts.PromptHeight = DefaultPromptHeight
	}
	if opts.PlaceholderURL == "" {
		opts.PlaceholderURL = DefaultPlaceholderURL
	}
	if len(opts.InternalPages) == 0 {
		opts.InternalPages = DefaultInternalPages
	}
	opts.PromptBaseURL = strings.TrimRight(opts.PromptBaseURL, "/")

	r := &Router{
		host:          host,
		opts:          opts,
		clock:         opts.Clock,
		events:        opts.Events,
		rec:           opts.Recorder,
		internalPages: make(map[string]struct{}, len(opts.InternalPages)),
		newID:         newRequestID,
		candidates:    make(map[TabID]*CandidateRecord),
		handled:       make(map[TabID]struct{}),
		pending:       make(map[RequestID]*PendingRequest),
		opening:       make(map[string]int),
	}
	if r.clock == nil {
		r.clock = SystemClock()
	}
	if r.events == nil {
		r.events = discardSink{}
	}
	if r.rec == nil {
		r.rec = discardRecorder{}
	}
	for _, p := range opts.InternalPages {
		r.internalPages[normalizePageURL(p)] = struct{}{}
	}
	slog.Debug("router ready",
		"candidate_ttl", opts.CandidateTTL,
		"classify_window", opts.ClassifyWindow,
		"internal_pages", len(r.internalPages),
		"prompt_base_url", opts.PromptBaseURL,
	)
	return r
}

func newRequestID() RequestID {
	id, err := uuid.NewV7()
	if err != nil {
		return RequestID(uuid.NewString())
	}
	return RequestID(id.String())
}

func (r *Router) publish(kind string, req *PendingRequest, container ContainerID) {
	r.events.Publish(Event{
		Kind:      kind,
		RequestID: req.ID,
		TabID:     req.OriginTabID,
		URL:       req.TargetURL,
		Container: string(container),
		At:        r.clock.Now(),
	})
}

// Sinks fans an event out to several sinks in order.
type Sinks []EventSink

func (s Sinks) Publish(evt Event) {
	for _, sink := range s {
		sink.Publish(evt)
	}
}

type discardSink struct{}

func (discardSink) Publish(Event) {}

type discardRecorder struct{}

func (discardRecorder) ObserveDecision(bool, string) {}
func (discardRecorder) ObserveResolution(string)     {}
func (discardRecorder) SetPending(int)               {}
func (discardRecorder) SetCandidates(int)            {}
