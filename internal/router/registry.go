package router

import (
	"context"
	"log/slog"
	"net/url"
	"sort"
)

// intercept holds a navigation and opens the selection prompt for it.
func (r *Router) intercept(ctx context.Context, tabID TabID, target string) {
	req := &PendingRequest{
		ID:          r.newID(),
		OriginTabID: tabID,
		TargetURL:   target,
		CreatedAt:   r.clock.Now(),
	}

	r.mu.Lock()
	r.pending[req.ID] = req
	r.rec.SetPending(len(r.pending))
	r.mu.Unlock()
	slog.Info("navigation held for container choice", "request_id", req.ID, "tab_id", tabID, "url", truncateURL(target))

	attempt(ctx, "tab placeholder", func(ctx context.Context) error {
		return r.host.UpdateTab(ctx, tabID, r.opts.PlaceholderURL)
	})

	spec := r.promptSpec(ctx, req)
	windowID, err := r.host.CreatePopup(ctx, spec)
	if err != nil {
		slog.Warn("prompt window failed, releasing navigation", "request_id", req.ID, "tab_id", tabID, "error", err)
		if _, ok := r.claim(req.ID); ok {
			attempt(ctx, "tab restore", func(ctx context.Context) error {
				return r.host.UpdateTab(ctx, tabID, target)
			})
		}
		return
	}

	r.mu.Lock()
	cur, ok := r.pending[req.ID]
	if ok {
		cur.PromptWindowID = windowID
	}
	r.mu.Unlock()
	if !ok {
		// Resolved while the prompt was opening.
		r.closePrompt(ctx, windowID)
		return
	}

	attempt(ctx, "prompt resize", func(ctx context.Context) error {
		return r.host.ResizeWindow(ctx, windowID, spec.Width, spec.Height)
	})
	r.publish(EventRequestCreated, req, "")
}

func (r *Router) promptSpec(ctx context.Context, req *PendingRequest) PopupSpec {
	spec := PopupSpec{
		URL:    r.PromptURL(req.ID, req.TargetURL),
		Width:  r.opts.PromptWidth,
		Height: r.opts.PromptHeight,
	}
	b, err := r.host.CurrentWindowBounds(ctx)
	if err != nil {
		slog.Debug("current window bounds unavailable", "error", err)
		return spec
	}
	if b.Width <= 0 || b.Height <= 0 {
		return spec
	}
	left := b.Left + (b.Width-spec.Width)/2
	top := b.Top + (b.Height-spec.Height)/2
	spec.Left, spec.Top = &left, &top
	return spec
}

// PromptURL is the address of the selection prompt for a request.
func (r *Router) PromptURL(id RequestID, target string) string {
	q := url.Values{}
	q.Set("requestId", string(id))
	q.Set("url", target)
	return r.opts.PromptBaseURL + "/prompt?" + q.Encode()
}

// claim removes a pending request and returns it. Only one caller can claim
// a given request.
func (r *Router) claim(id RequestID) (*PendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[id]
	if !ok {
		return nil, false
	}
	delete(r.pending, id)
	r.rec.SetPending(len(r.pending))
	return req, true
}

// Pending returns a snapshot of the pending requests, oldest first.
func (r *Router) Pending() []PendingRequest {
	r.mu.Lock()
	out := make([]PendingRequest, 0, len(r.pending))
	for _, req := range r.pending {
		out = append(out, *req)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Lookup returns a pending request by ID.
func (r *Router) Lookup(id RequestID) (PendingRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.pending[id]
	if !ok {
		return PendingRequest{}, false
	}
	return *req, true
}
