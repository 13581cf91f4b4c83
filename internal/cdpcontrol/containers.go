package cdpcontrol

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"

	"github.com/dgnsrekt/linkgate/internal/router"
)

// Container colors and icons accepted by CreateContainer.
var (
	ContainerColors = []string{"blue", "turquoise", "green", "yellow", "orange", "red", "pink", "purple", "toolbar"}
	ContainerIcons  = []string{"fingerprint", "briefcase", "dollar", "cart", "circle", "gift", "vacation", "food", "fruit", "pet", "tree", "chill", "fence"}
)

const (
	defaultContainerColor = "toolbar"
	defaultContainerIcon  = "circle"
)

// catalog attaches names, colors and icons to browser contexts. Contexts
// created outside linkgate get a generated entry the first time they are
// seen.
type catalog struct {
	mu      sync.Mutex
	entries map[cdp.BrowserContextID]router.Container
	seen    int
}

func newCatalog() *catalog {
	return &catalog{entries: make(map[cdp.BrowserContextID]router.Container)}
}

func (c *catalog) add(id cdp.BrowserContextID, spec router.ContainerSpec) router.Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct := router.Container{ID: router.ContainerID(id), Name: spec.Name, Color: spec.Color, Icon: spec.Icon}
	c.entries[id] = ct
	c.seen++
	return ct
}

// lookup returns the entry for id, generating one for unknown contexts.
func (c *catalog) lookup(id cdp.BrowserContextID) router.Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ct, ok := c.entries[id]; ok {
		return ct
	}
	c.seen++
	ct := router.Container{
		ID:    router.ContainerID(id),
		Name:  fmt.Sprintf("Context %d", c.seen),
		Color: defaultContainerColor,
		Icon:  defaultContainerIcon,
	}
	c.entries[id] = ct
	return ct
}

func (c *catalog) known(id cdp.BrowserContextID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[id]
	return ok
}

// retain drops entries whose context no longer exists.
func (c *catalog) retain(live []cdp.BrowserContextID) {
	keep := make(map[cdp.BrowserContextID]struct{}, len(live))
	for _, id := range live {
		keep[id] = struct{}{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		if _, ok := keep[id]; !ok {
			delete(c.entries, id)
		}
	}
}

// ValidateContainerSpec checks a container spec before anything is created.
func ValidateContainerSpec(spec router.ContainerSpec) error {
	if strings.TrimSpace(spec.Name) == "" {
		return newError(CodeValidation, "container name is required", nil)
	}
	if !contains(ContainerColors, spec.Color) {
		return newError(CodeValidation, fmt.Sprintf("unsupported container color %q", spec.Color), nil)
	}
	if !contains(ContainerIcons, spec.Icon) {
		return newError(CodeValidation, fmt.Sprintf("unsupported container icon %q", spec.Icon), nil)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// QueryContainers lists the browser's non-default contexts, optionally
// filtered by exact name.
func (c *Client) QueryContainers(ctx context.Context, filter router.ContainerFilter) ([]router.Container, error) {
	conn, err := c.conn()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	ids, err := conn.browserContexts(ctx)
	if err != nil {
		return nil, newError(CodeCDPUnavailable, "list browser contexts failed", err)
	}
	c.catalog.retain(ids)

	out := make([]router.Container, 0, len(ids))
	for _, id := range ids {
		ct := c.catalog.lookup(id)
		if filter.Name != "" && ct.Name != filter.Name {
			continue
		}
		out = append(out, ct)
	}
	slog.Debug("cdpcontrol containers listed", "count", len(out), "filter", filter.Name)
	return out, nil
}

// CreateContainer validates spec and creates a persistent browser context
// for it.
func (c *Client) CreateContainer(ctx context.Context, spec router.ContainerSpec) (router.Container, error) {
	if err := ValidateContainerSpec(spec); err != nil {
		return router.Container{}, err
	}
	conn, err := c.conn()
	if err != nil {
		return router.Container{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cmdTimeout)
	defer cancel()

	id, err := conn.createBrowserContext(ctx)
	if err != nil {
		return router.Container{}, newError(CodeCDPUnavailable, "create browser context failed", err)
	}
	ct := c.catalog.add(id, spec)
	slog.Info("cdpcontrol container created", "container_id", ct.ID, "name", ct.Name)
	return ct, nil
}

// EnsureContainers creates each spec whose name is not already present.
func (c *Client) EnsureContainers(ctx context.Context, specs []router.ContainerSpec) error {
	if len(specs) == 0 {
		return nil
	}
	existing, err := c.QueryContainers(ctx, router.ContainerFilter{})
	if err != nil {
		return err
	}
	have := make(map[string]struct{}, len(existing))
	for _, ct := range existing {
		have[ct.Name] = struct{}{}
	}
	for _, spec := range specs {
		if _, ok := have[spec.Name]; ok {
			continue
		}
		if _, err := c.CreateContainer(ctx, spec); err != nil {
			return fmt.Errorf("container %q: %w", spec.Name, err)
		}
		have[spec.Name] = struct{}{}
	}
	return nil
}
