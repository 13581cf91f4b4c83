package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dgnsrekt/linkgate/internal/router"
)

// KindSnapshot is the first frame of every stream when a pending source is
// set: the requests held at connect time.
const KindSnapshot = "snapshot"

const keepAliveInterval = 30 * time.Second

// PendingFunc lists the requests currently waiting for a container choice.
type PendingFunc func() []router.PendingRequest

// SSEHandler streams lifecycle events as SSE. A new client first receives a
// snapshot of the held links from pending (skipped when pending is nil), then
// live events. Clients may filter kinds via
// ?kinds=snapshot,request_created,request_resolved.
func SSEHandler(broker *Broker, pending PendingFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}
		kindFilter := parseKinds(r.URL.Query().Get("kinds"))
		wants := func(kind string) bool { return kindFilter == nil || kindFilter[kind] }

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		// Subscribe before the snapshot so nothing published in between is lost.
		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)

		if pending != nil && wants(KindSnapshot) {
			writeSnapshot(w, pending())
		}
		flusher.Flush()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if !wants(evt.Kind) {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Payload)
				flusher.Flush()
			}
		}
	}
}

func writeSnapshot(w http.ResponseWriter, reqs []router.PendingRequest) {
	if reqs == nil {
		reqs = []router.PendingRequest{}
	}
	data, err := json.Marshal(struct {
		Requests []router.PendingRequest `json:"requests"`
	}{Requests: reqs})
	if err != nil {
		slog.Warn("relay snapshot encode failed", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", KindSnapshot, data)
}

func parseKinds(q string) map[string]bool {
	if q == "" {
		return nil
	}
	kinds := make(map[string]bool)
	for _, k := range strings.Split(q, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}
	return kinds
}
