package cdpcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/dgnsrekt/linkgate/internal/router"
)

func TestValidateContainerSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    router.ContainerSpec
		wantErr bool
	}{
		{name: "valid", spec: router.ContainerSpec{Name: "Work", Color: "blue", Icon: "briefcase"}},
		{name: "toolbar color", spec: router.ContainerSpec{Name: "Misc", Color: "toolbar", Icon: "fence"}},
		{name: "blank name", spec: router.ContainerSpec{Name: "  ", Color: "blue", Icon: "briefcase"}, wantErr: true},
		{name: "unknown color", spec: router.ContainerSpec{Name: "Work", Color: "magenta", Icon: "briefcase"}, wantErr: true},
		{name: "unknown icon", spec: router.ContainerSpec{Name: "Work", Color: "blue", Icon: "rocket"}, wantErr: true},
		{name: "empty color", spec: router.ContainerSpec{Name: "Work", Icon: "briefcase"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContainerSpec(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateContainerSpec() error = %v; wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			var codedErr *CodedError
			if !errors.As(err, &codedErr) || codedErr.Code != CodeValidation {
				t.Fatalf("error = %v; want %s", err, CodeValidation)
			}
		})
	}
}

func TestCreateContainerValidatesBeforeConnecting(t *testing.T) {
	c := NewClient("http://example.com", "", 0)
	_, err := c.CreateContainer(context.Background(), router.ContainerSpec{Name: "Work", Color: "magenta", Icon: "briefcase"})
	var codedErr *CodedError
	if !errors.As(err, &codedErr) || codedErr.Code != CodeValidation {
		t.Fatalf("CreateContainer() error = %v; want %s", err, CodeValidation)
	}
}

func TestContainerCatalog(t *testing.T) {
	fb := newFakeBrowser(t)
	contexts := []string{"ctx-foreign"}
	fb.handle("Target.getBrowserContexts", func(json.RawMessage) (any, error) {
		return map[string]any{"browserContextIds": contexts}, nil
	})
	fb.handle("Target.createBrowserContext", func(json.RawMessage) (any, error) {
		id := "ctx-work"
		if len(contexts) > 1 {
			id = fmt.Sprintf("ctx-%d", len(contexts))
		}
		contexts = append(contexts, id)
		return map[string]any{"browserContextId": id}, nil
	})
	c := fb.connect(t, "")
	ctx := context.Background()

	created, err := c.CreateContainer(ctx, router.ContainerSpec{Name: "Work", Color: "blue", Icon: "briefcase"})
	if err != nil {
		t.Fatalf("CreateContainer() error = %v", err)
	}
	if created.ID != "ctx-work" || created.Name != "Work" {
		t.Fatalf("created = %+v; want ctx-work named Work", created)
	}

	all, err := c.QueryContainers(ctx, router.ContainerFilter{})
	if err != nil {
		t.Fatalf("QueryContainers() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("containers = %+v; want 2", all)
	}
	if all[0].ID != "ctx-foreign" || all[0].Color != defaultContainerColor || all[0].Icon != defaultContainerIcon || all[0].Name == "" {
		t.Fatalf("foreign context = %+v; want generated entry", all[0])
	}

	named, err := c.QueryContainers(ctx, router.ContainerFilter{Name: "Work"})
	if err != nil {
		t.Fatalf("QueryContainers(Work) error = %v", err)
	}
	if len(named) != 1 || named[0].ID != "ctx-work" {
		t.Fatalf("filtered = %+v; want only ctx-work", named)
	}

	err = c.EnsureContainers(ctx, []router.ContainerSpec{
		{Name: "Work", Color: "blue", Icon: "briefcase"},
		{Name: "Shopping", Color: "pink", Icon: "cart"},
	})
	if err != nil {
		t.Fatalf("EnsureContainers() error = %v", err)
	}
	if n := len(fb.callsTo("Target.createBrowserContext")); n != 2 {
		t.Fatalf("createBrowserContext calls = %d; want 2 (Work already existed)", n)
	}
	shopping, err := c.QueryContainers(ctx, router.ContainerFilter{Name: "Shopping"})
	if err != nil || len(shopping) != 1 || shopping[0].Color != "pink" {
		t.Fatalf("Shopping = %+v, %v; want one pink container", shopping, err)
	}
}
