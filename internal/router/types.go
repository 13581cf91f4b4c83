package router

import (
	"context"
	"time"
)

// TabID identifies a browser tab (a CDP page target).
type TabID string

// WindowID identifies a browser window.
type WindowID int64

// ContainerID identifies an isolated browsing context. The zero value is the
// default, uncontained context.
type ContainerID string

// RequestID identifies a PendingRequest.
type RequestID string

// TransitionType is the provenance of a committed top-level navigation.
type TransitionType string

const (
	TransitionLink             TransitionType = "link"
	TransitionTyped            TransitionType = "typed"
	TransitionAutoBookmark     TransitionType = "auto_bookmark"
	TransitionAutoSubframe     TransitionType = "auto_subframe"
	TransitionManualSubframe   TransitionType = "manual_subframe"
	TransitionGenerated        TransitionType = "generated"
	TransitionStartPage        TransitionType = "start_page"
	TransitionFormSubmit       TransitionType = "form_submit"
	TransitionReload           TransitionType = "reload"
	TransitionKeyword          TransitionType = "keyword"
	TransitionKeywordGenerated TransitionType = "keyword_generated"
	TransitionOther            TransitionType = "other"
)

// TransitionQualifier refines a TransitionType.
type TransitionQualifier string

const (
	QualifierClientRedirect TransitionQualifier = "client_redirect"
	QualifierServerRedirect TransitionQualifier = "server_redirect"
	QualifierForwardBack    TransitionQualifier = "forward_back"
	QualifierFromAddressBar TransitionQualifier = "from_address_bar"
)

// Tab is the host's view of a tab at a point in time.
type Tab struct {
	ID          TabID
	OpenerID    TabID
	ContainerID ContainerID
	URL         string
	PendingURL  string
}

// HasOpener reports whether the tab was spawned by another tab.
func (t Tab) HasOpener() bool { return t.OpenerID != "" }

// Commit describes a committed navigation.
type Commit struct {
	TabID       TabID
	URL         string
	TopLevel    bool
	Transition  TransitionType
	Qualifiers  []TransitionQualifier
	CommittedAt time.Time
}

// CandidateRecord is the provisional record of a possibly external navigation.
type CandidateRecord struct {
	TabID      TabID
	CreatedAt  time.Time
	InitialURL string
	URL        string

	timer Timer
}

// PendingRequest links a held navigation to its selection prompt.
type PendingRequest struct {
	ID             RequestID `json:"request_id"`
	OriginTabID    TabID     `json:"origin_tab_id"`
	TargetURL      string    `json:"target_url"`
	PromptWindowID WindowID  `json:"prompt_window_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Container describes an isolated browsing context.
type Container struct {
	ID    ContainerID `json:"id"`
	Name  string      `json:"name"`
	Color string      `json:"color"`
	Icon  string      `json:"icon"`
}

// ContainerSpec is the input for creating a container.
type ContainerSpec struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// ContainerFilter narrows QueryContainers. The zero value matches everything.
type ContainerFilter struct {
	Name string
}

// Bounds is a window rectangle in screen pixels.
type Bounds struct {
	Left   int
	Top    int
	Width  int
	Height int
}

// PopupSpec describes a prompt window to open.
type PopupSpec struct {
	URL    string
	Width  int
	Height int
	Left   *int
	Top    *int
}

// Tabs controls browser tabs.
type Tabs interface {
	GetTab(ctx context.Context, id TabID) (Tab, error)
	CreateTab(ctx context.Context, url string, container ContainerID) (TabID, error)
	UpdateTab(ctx context.Context, id TabID, url string) error
	RemoveTab(ctx context.Context, id TabID) error
}

// Windows controls browser windows.
type Windows interface {
	CreatePopup(ctx context.Context, spec PopupSpec) (WindowID, error)
	ResizeWindow(ctx context.Context, id WindowID, width, height int) error
	RemoveWindow(ctx context.Context, id WindowID) error
	CurrentWindowBounds(ctx context.Context) (Bounds, error)
}

// Containers queries and creates isolated browsing contexts.
type Containers interface {
	QueryContainers(ctx context.Context, filter ContainerFilter) ([]Container, error)
	CreateContainer(ctx context.Context, spec ContainerSpec) (Container, error)
}

// PromptLocator is implemented by hosts that can find the prompt window still
// showing a request the router no longer knows, such as one left open by a
// previous run.
type PromptLocator interface {
	PromptWindow(ctx context.Context, id RequestID) (WindowID, error)
}

// Host is everything the router needs from the browser.
type Host interface {
	Tabs
	Windows
	Containers
}

// Lifecycle event kinds published to an EventSink.
const (
	EventRequestCreated   = "request_created"
	EventRequestResolved  = "request_resolved"
	EventRequestCancelled = "request_cancelled"
	EventRequestReaped    = "request_reaped"
)

// Event is a pending-request lifecycle notification.
type Event struct {
	Kind      string    `json:"kind"`
	RequestID RequestID `json:"request_id"`
	TabID     TabID     `json:"tab_id,omitempty"`
	URL       string    `json:"url,omitempty"`
	Container string    `json:"container_id,omitempty"`
	At        time.Time `json:"at"`
}

// EventSink receives lifecycle events. Publish must not block.
type EventSink interface {
	Publish(evt Event)
}

// Recorder receives counters from the router.
type Recorder interface {
	ObserveDecision(accepted bool, reason string)
	ObserveResolution(outcome string)
	SetPending(n int)
	SetCandidates(n int)
}
