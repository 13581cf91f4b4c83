package router

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Decision reason codes.
const (
	ReasonAlreadyHandled  = "already_handled"
	ReasonNoCandidate     = "no_candidate"
	ReasonNoURL           = "no_url"
	ReasonExpired         = "expired"
	ReasonTransition      = "transition"
	ReasonAddressBar      = "address_bar"
	ReasonInternalPage    = "internal_page"
	ReasonTabLookupFailed = "tab_lookup_failed"
	ReasonHasOpener       = "has_opener"
	ReasonContained       = "contained"
	ReasonExternal        = "external"
)

// Decision is the classifier verdict for one committed navigation.
type Decision struct {
	Accept bool
	Reason string
	URL    string
}

func reject(reason string) Decision { return Decision{Reason: reason} }

// OnNavigationCommitted classifies a committed navigation and, when it looks
// like an external link opened into the default context, holds it for a
// container choice. Sub-frame commits are ignored.
func (r *Router) OnNavigationCommitted(ctx context.Context, c Commit) Decision {
	if !c.TopLevel {
		return Decision{}
	}

	now := r.clock.Now()
	r.mu.Lock()
	_, handled := r.handled[c.TabID]
	rec := r.takeCandidateLocked(c.TabID)
	if !handled {
		candidateURL := ""
		if rec != nil {
			candidateURL = rec.URL
		}
		if r.claimOpeningLocked(c.URL, candidateURL) {
			r.handled[c.TabID] = struct{}{}
			handled = true
		}
	}
	r.mu.Unlock()

	d := r.screen(handled, rec, c, now)
	if !d.Accept {
		r.observe(c, d)
		return d
	}

	tab, err := r.host.GetTab(ctx, c.TabID)
	if err != nil {
		slog.Debug("classifier tab lookup failed", "tab_id", c.TabID, "error", err)
		d = reject(ReasonTabLookupFailed)
	} else if v := inspectTab(tab); !v.Accept {
		d = v
	}

	if d.Accept {
		r.mu.Lock()
		if _, dup := r.handled[c.TabID]; dup {
			d = reject(ReasonAlreadyHandled)
		} else {
			r.handled[c.TabID] = struct{}{}
		}
		r.mu.Unlock()
	}

	r.observe(c, d)
	if d.Accept {
		r.intercept(ctx, c.TabID, d.URL)
	}
	return d
}

// screen applies every check that needs only tracked state.
func (r *Router) screen(handled bool, rec *CandidateRecord, c Commit, now time.Time) Decision {
	switch {
	case handled:
		return reject(ReasonAlreadyHandled)
	case rec == nil:
		return reject(ReasonNoCandidate)
	case rec.URL == "":
		return reject(ReasonNoURL)
	case now.Sub(rec.CreatedAt) >= r.opts.ClassifyWindow:
		return reject(ReasonExpired)
	case c.Transition != TransitionLink:
		return reject(ReasonTransition)
	case hasQualifier(c.Qualifiers, QualifierFromAddressBar):
		return reject(ReasonAddressBar)
	case r.isInternalPage(rec.InitialURL):
		return reject(ReasonInternalPage)
	}
	return Decision{Accept: true, Reason: ReasonExternal, URL: rec.URL}
}

// inspectTab applies the checks on the host's current view of the tab.
func inspectTab(tab Tab) Decision {
	if tab.HasOpener() {
		return reject(ReasonHasOpener)
	}
	if tab.ContainerID != "" {
		return reject(ReasonContained)
	}
	return Decision{Accept: true, Reason: ReasonExternal}
}

func (r *Router) observe(c Commit, d Decision) {
	r.rec.ObserveDecision(d.Accept, d.Reason)
	if d.Accept {
		slog.Info("external link detected", "tab_id", c.TabID, "url", truncateURL(d.URL))
		return
	}
	slog.Debug("navigation not external", "tab_id", c.TabID, "reason", d.Reason, "transition", c.Transition)
}

func (r *Router) isInternalPage(url string) bool {
	_, ok := r.internalPages[normalizePageURL(url)]
	return ok
}

func normalizePageURL(url string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(url)), "/")
}

func hasQualifier(qs []TransitionQualifier, want TransitionQualifier) bool {
	for _, q := range qs {
		if q == want {
			return true
		}
	}
	return false
}
