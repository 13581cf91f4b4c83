package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/linkgate/internal/router"
)

func registerContainerHandlers(api huma.API, svc Service) {
	type listContainersOutput struct {
		Body struct {
			Containers []router.Container `json:"containers"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-containers", Method: http.MethodGet, Path: "/api/v1/containers", Summary: "List containers", Tags: []string{"Containers"}},
		func(ctx context.Context, input *struct{}) (*listContainersOutput, error) {
			cs, err := svc.Containers(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listContainersOutput{}
			out.Body.Containers = cs
			return out, nil
		})

	type containerOutput struct {
		Body router.Container
	}

	huma.Register(api, huma.Operation{OperationID: "create-container", Method: http.MethodPost, Path: "/api/v1/containers", Summary: "Create a container", Tags: []string{"Containers"}, DefaultStatus: http.StatusCreated},
		func(ctx context.Context, input *struct {
			Body struct {
				Name  string `json:"name" required:"true" doc:"Display name"`
				Color string `json:"color" required:"true" doc:"blue, turquoise, green, yellow, orange, red, pink, purple or toolbar"`
				Icon  string `json:"icon" required:"true" doc:"fingerprint, briefcase, dollar, cart, circle, gift, vacation, food, fruit, pet, tree, chill or fence"`
			}
		}) (*containerOutput, error) {
			c, err := svc.CreateContainer(ctx, router.ContainerSpec{Name: input.Body.Name, Color: input.Body.Color, Icon: input.Body.Icon})
			if err != nil {
				return nil, mapErr(err)
			}
			return &containerOutput{Body: c}, nil
		})
}
