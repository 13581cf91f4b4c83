package router

import (
	"context"
	"log/slog"
)

// OnTabCreated starts tracking a tab that was opened without an opener.
func (r *Router) OnTabCreated(tab Tab) {
	if tab.HasOpener() {
		return
	}
	initial := tab.URL
	if initial == "" {
		initial = tab.PendingURL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.dropCandidateLocked(tab.ID)
	rec := &CandidateRecord{
		TabID:      tab.ID,
		CreatedAt:  r.clock.Now(),
		InitialURL: initial,
	}
	rec.timer = r.clock.AfterFunc(r.opts.CandidateTTL, func() { r.expireCandidate(rec) })
	r.candidates[tab.ID] = rec
	r.rec.SetCandidates(len(r.candidates))
	slog.Debug("candidate tracked", "tab_id", tab.ID, "initial_url", initial)
}

// OnMainFrameRequestObserved records the URL a candidate tab is about to load.
// Requests that carry a referrer or an originating document are ignored.
func (r *Router) OnMainFrameRequestObserved(tabID TabID, url string, hasOrigin bool) {
	if hasOrigin {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.candidates[tabID]
	if !ok {
		return
	}
	rec.URL = url
	slog.Debug("candidate url observed", "tab_id", tabID, "url", truncateURL(url))
}

// OnTabRemoved forgets everything tracked for a closed tab.
func (r *Router) OnTabRemoved(tabID TabID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropCandidateLocked(tabID)
	delete(r.handled, tabID)
}

func (r *Router) expireCandidate(rec *CandidateRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.candidates[rec.TabID]; !ok || cur != rec {
		return
	}
	delete(r.candidates, rec.TabID)
	r.rec.SetCandidates(len(r.candidates))
	slog.Debug("candidate expired", "tab_id", rec.TabID)
}

// takeCandidateLocked removes and returns the candidate for a tab, if any.
func (r *Router) takeCandidateLocked(tabID TabID) *CandidateRecord {
	rec, ok := r.candidates[tabID]
	if !ok {
		return nil
	}
	if rec.timer != nil {
		rec.timer.Stop()
	}
	delete(r.candidates, tabID)
	r.rec.SetCandidates(len(r.candidates))
	return rec
}

func (r *Router) dropCandidateLocked(tabID TabID) {
	_ = r.takeCandidateLocked(tabID)
}

// openOwnTab creates a tab for url and marks it handled. The URL is
// registered before the host call, so a commit delivered before CreateTab
// returns is still recognised as the router's own tab.
func (r *Router) openOwnTab(ctx context.Context, url string, container ContainerID) (TabID, error) {
	key := normalizePageURL(url)
	r.mu.Lock()
	r.opening[key]++
	r.mu.Unlock()

	tabID, err := r.host.CreateTab(ctx, url, container)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseOpeningLocked(key)
	if err != nil {
		return "", err
	}
	r.dropCandidateLocked(tabID)
	r.handled[tabID] = struct{}{}
	return tabID, nil
}

// claimOpeningLocked reports whether a commit to one of urls belongs to a tab
// the router is still creating, consuming the registration when it does.
func (r *Router) claimOpeningLocked(urls ...string) bool {
	for _, u := range urls {
		if u == "" {
			continue
		}
		key := normalizePageURL(u)
		if r.opening[key] > 0 {
			r.releaseOpeningLocked(key)
			return true
		}
	}
	return false
}

func (r *Router) releaseOpeningLocked(key string) {
	if r.opening[key] <= 1 {
		delete(r.opening, key)
		return
	}
	r.opening[key]--
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
