package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Resolution outcomes reported to the Recorder.
const (
	OutcomeContainer   = "container"
	OutcomeNoContainer = "no_container"
	OutcomeCancelled   = "cancelled"
	OutcomeReaped      = "reaped"
)

// Ack is the reply to every resolution message.
type Ack struct {
	Success bool `json:"success"`
}

var ackSuccess = Ack{Success: true}

// ResolveWithContainer closes the origin tab and reopens the request's URL in
// the given container. from is the prompt window that sent the choice, used
// when the request is no longer known; zero means unknown.
func (r *Router) ResolveWithContainer(ctx context.Context, id RequestID, container ContainerID, target string, from WindowID) Ack {
	window := from
	if req, found := r.claim(id); found {
		if target == "" {
			target = req.TargetURL
		}
		attempt(ctx, "origin tab remove", func(ctx context.Context) error {
			return r.host.RemoveTab(ctx, req.OriginTabID)
		})
		if _, err := r.openOwnTab(ctx, target, container); err != nil {
			slog.Warn("container tab create failed", "request_id", id, "container_id", container, "error", err)
		}
		if req.PromptWindowID != 0 {
			window = req.PromptWindowID
		}
		r.rec.ObserveResolution(OutcomeContainer)
		r.publish(EventRequestResolved, req, container)
		slog.Info("request opened in container", "request_id", id, "container_id", container)
	} else if window == 0 {
		window = r.locatePrompt(ctx, id)
	}
	r.closePrompt(ctx, window)
	return ackSuccess
}

// ResolveWithoutContainer loads the URL in the origin tab, or in a fresh
// uncontained tab when the origin tab is gone.
func (r *Router) ResolveWithoutContainer(ctx context.Context, id RequestID, target string, from WindowID) Ack {
	window := from
	if req, found := r.claim(id); found {
		if target == "" {
			target = req.TargetURL
		}
		if err := r.host.UpdateTab(ctx, req.OriginTabID, target); err != nil {
			slog.Debug("origin tab update failed, opening new tab", "request_id", id, "tab_id", req.OriginTabID, "error", err)
			if _, err := r.openOwnTab(ctx, target, ""); err != nil {
				slog.Warn("uncontained tab create failed", "request_id", id, "error", err)
			}
		}
		if req.PromptWindowID != 0 {
			window = req.PromptWindowID
		}
		r.rec.ObserveResolution(OutcomeNoContainer)
		r.publish(EventRequestResolved, req, "")
		slog.Info("request opened without container", "request_id", id)
	} else if window == 0 {
		window = r.locatePrompt(ctx, id)
	}
	r.closePrompt(ctx, window)
	return ackSuccess
}

// Cancel drops the request and closes its origin tab.
func (r *Router) Cancel(ctx context.Context, id RequestID, from WindowID) Ack {
	window := from
	if req, found := r.claim(id); found {
		attempt(ctx, "origin tab remove", func(ctx context.Context) error {
			return r.host.RemoveTab(ctx, req.OriginTabID)
		})
		if req.PromptWindowID != 0 {
			window = req.PromptWindowID
		}
		r.rec.ObserveResolution(OutcomeCancelled)
		r.publish(EventRequestCancelled, req, "")
		slog.Info("request cancelled", "request_id", id)
	} else if window == 0 {
		window = r.locatePrompt(ctx, id)
	}
	r.closePrompt(ctx, window)
	return ackSuccess
}

// ReapOrphaned deletes every request whose prompt window is windowID and
// returns how many were removed.
func (r *Router) ReapOrphaned(windowID WindowID) int {
	if windowID == 0 {
		return 0
	}
	r.mu.Lock()
	var reaped []*PendingRequest
	for id, req := range r.pending {
		if req.PromptWindowID == windowID {
			delete(r.pending, id)
			reaped = append(reaped, req)
		}
	}
	r.rec.SetPending(len(r.pending))
	r.mu.Unlock()

	for _, req := range reaped {
		r.rec.ObserveResolution(OutcomeReaped)
		r.publish(EventRequestReaped, req, "")
		slog.Info("request dropped with its prompt", "request_id", req.ID, "window_id", windowID)
	}
	return len(reaped)
}

// OnPromptWindowRemoved reacts to a prompt window closing by any path.
func (r *Router) OnPromptWindowRemoved(windowID WindowID) {
	r.ReapOrphaned(windowID)
}

// locatePrompt asks the host for a prompt window still showing an unknown
// request. It returns zero when the host cannot tell.
func (r *Router) locatePrompt(ctx context.Context, id RequestID) WindowID {
	loc, ok := r.host.(PromptLocator)
	if !ok || id == "" {
		return 0
	}
	windowID, err := loc.PromptWindow(ctx, id)
	if err != nil {
		slog.Debug("prompt lookup failed", "request_id", id, "error", err)
		return 0
	}
	return windowID
}

func (r *Router) closePrompt(ctx context.Context, windowID WindowID) {
	if windowID == 0 {
		return
	}
	attempt(ctx, "prompt close", func(ctx context.Context) error {
		return r.host.RemoveWindow(ctx, windowID)
	})
}

// Message actions understood by HandleMessage.
const (
	ActionOpenInContainer      = "openInContainer"
	ActionOpenWithoutContainer = "openWithoutContainer"
	ActionCancel               = "cancel"
	ActionGetContainers        = "getContainers"
	ActionCreateContainer      = "createContainer"
)

// ErrUnknownAction is returned by HandleMessage for unrecognised actions.
var ErrUnknownAction = errors.New("unknown action")

// Message is a request from the selection prompt.
type Message struct {
	Action         string      `json:"action"`
	RequestID      RequestID   `json:"request_id,omitempty"`
	ContainerID    ContainerID `json:"container_id,omitempty"`
	URL            string      `json:"url,omitempty"`
	Name           string      `json:"name,omitempty"`
	Color          string      `json:"color,omitempty"`
	Icon           string      `json:"icon,omitempty"`
	SenderWindowID WindowID    `json:"sender_window_id,omitempty"`
}

// HandleMessage dispatches a prompt message and returns its reply.
func (r *Router) HandleMessage(ctx context.Context, msg Message) (any, error) {
	switch msg.Action {
	case ActionOpenInContainer:
		return r.ResolveWithContainer(ctx, msg.RequestID, msg.ContainerID, msg.URL, msg.SenderWindowID), nil
	case ActionOpenWithoutContainer:
		return r.ResolveWithoutContainer(ctx, msg.RequestID, msg.URL, msg.SenderWindowID), nil
	case ActionCancel:
		return r.Cancel(ctx, msg.RequestID, msg.SenderWindowID), nil
	case ActionGetContainers:
		cs, err := r.Containers(ctx)
		if err != nil {
			return nil, err
		}
		return cs, nil
	case ActionCreateContainer:
		c, err := r.CreateContainer(ctx, ContainerSpec{Name: msg.Name, Color: msg.Color, Icon: msg.Icon})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, msg.Action)
}

// Containers lists the available containers.
func (r *Router) Containers(ctx context.Context) ([]Container, error) {
	cs, err := r.host.QueryContainers(ctx, ContainerFilter{})
	if err != nil {
		return nil, fmt.Errorf("query containers: %w", err)
	}
	if cs == nil {
		cs = []Container{}
	}
	return cs, nil
}

// CreateContainer creates a container.
func (r *Router) CreateContainer(ctx context.Context, spec ContainerSpec) (Container, error) {
	c, err := r.host.CreateContainer(ctx, spec)
	if err != nil {
		return Container{}, fmt.Errorf("create container: %w", err)
	}
	slog.Info("container created", "container_id", c.ID, "name", c.Name)
	return c, nil
}
