package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/linkgate/internal/router"
)

const sendTimeout = 5 * time.Second

// Notifier posts an ntfy message whenever linkgate holds an external link
// waiting for a container choice. It satisfies router.EventSink.
type Notifier struct {
	endpoint string
	client   *http.Client
	wg       sync.WaitGroup
}

var _ router.EventSink = (*Notifier)(nil)

// NewNotifier returns a Notifier for endpoint. A nil client uses
// http.DefaultClient.
func NewNotifier(endpoint string, client *http.Client) *Notifier {
	return &Notifier{endpoint: endpoint, client: client}
}

// Publish sends held-link notifications in the background and ignores every
// other lifecycle event.
func (n *Notifier) Publish(evt router.Event) {
	if evt.Kind != router.EventRequestCreated {
		return
	}
	msg := heldMessage(evt)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := Send(ctx, n.client, n.endpoint, msg); err != nil {
			slog.Warn("ntfy notification failed", "request_id", evt.RequestID, "error", err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func heldMessage(evt router.Event) string {
	return fmt.Sprintf("linkgate is holding %s until a container is chosen (request %s)", evt.URL, evt.RequestID)
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return errors.New("ntfy endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", "linkgate")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
