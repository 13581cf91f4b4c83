package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/linkgate/internal/router"
)

func registerRequestHandlers(api huma.API, svc Service) {
	type messageOutput struct {
		Body any
	}

	huma.Register(api, huma.Operation{OperationID: "send-message", Method: http.MethodPost, Path: "/api/v1/messages", Summary: "Send a prompt message", Tags: []string{"Prompt"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Action         string `json:"action" required:"true" doc:"openInContainer, openWithoutContainer, cancel, getContainers or createContainer"`
				RequestID      string `json:"request_id,omitempty" doc:"Pending request ID"`
				ContainerID    string `json:"container_id,omitempty" doc:"Target container for openInContainer"`
				URL            string `json:"url,omitempty" doc:"URL to open; defaults to the held URL"`
				Name           string `json:"name,omitempty" doc:"Container name for createContainer"`
				Color          string `json:"color,omitempty" doc:"Container color for createContainer"`
				Icon           string `json:"icon,omitempty" doc:"Container icon for createContainer"`
				SenderWindowID int64  `json:"sender_window_id,omitempty" doc:"Browser window that sent the message"`
			}
		}) (*messageOutput, error) {
			b := input.Body
			reply, err := svc.HandleMessage(ctx, router.Message{
				Action:         b.Action,
				RequestID:      router.RequestID(b.RequestID),
				ContainerID:    router.ContainerID(b.ContainerID),
				URL:            b.URL,
				Name:           b.Name,
				Color:          b.Color,
				Icon:           b.Icon,
				SenderWindowID: router.WindowID(b.SenderWindowID),
			})
			if err != nil {
				return nil, mapErr(err)
			}
			return &messageOutput{Body: reply}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "open-in-container", Method: http.MethodPost, Path: "/api/v1/requests/{request_id}/open-in-container", Summary: "Open a held link in a container", Tags: []string{"Requests"}},
		func(ctx context.Context, input *struct {
			RequestID      string `path:"request_id" doc:"Pending request ID from the prompt URL"`
			SenderWindowID int64  `query:"sender_window_id" doc:"Prompt window to close when the request is unknown"`
			Body struct {
				ContainerID string `json:"container_id" required:"true" doc:"Target container ID"`
				URL         string `json:"url,omitempty" doc:"URL to open; defaults to the held URL"`
			}
		}) (*ackOutput, error) {
			ack := svc.ResolveWithContainer(ctx, router.RequestID(input.RequestID), router.ContainerID(input.Body.ContainerID), input.Body.URL, router.WindowID(input.SenderWindowID))
			return &ackOutput{Body: ack}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "open-without-container", Method: http.MethodPost, Path: "/api/v1/requests/{request_id}/open-without-container", Summary: "Open a held link without a container", Tags: []string{"Requests"}},
		func(ctx context.Context, input *struct {
			RequestID      string `path:"request_id" doc:"Pending request ID from the prompt URL"`
			SenderWindowID int64  `query:"sender_window_id" doc:"Prompt window to close when the request is unknown"`
			Body struct {
				URL string `json:"url,omitempty" doc:"URL to open; defaults to the held URL"`
			}
		}) (*ackOutput, error) {
			ack := svc.ResolveWithoutContainer(ctx, router.RequestID(input.RequestID), input.Body.URL, router.WindowID(input.SenderWindowID))
			return &ackOutput{Body: ack}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "cancel-request", Method: http.MethodPost, Path: "/api/v1/requests/{request_id}/cancel", Summary: "Cancel a held link", Tags: []string{"Requests"}},
		func(ctx context.Context, input *struct {
			RequestID      string `path:"request_id" doc:"Pending request ID from the prompt URL"`
			SenderWindowID int64  `query:"sender_window_id" doc:"Prompt window to close when the request is unknown"`
		}) (*ackOutput, error) {
			ack := svc.Cancel(ctx, router.RequestID(input.RequestID), router.WindowID(input.SenderWindowID))
			return &ackOutput{Body: ack}, nil
		})

	type listRequestsOutput struct {
		Body struct {
			Requests []router.PendingRequest `json:"requests"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "list-requests", Method: http.MethodGet, Path: "/api/v1/requests", Summary: "List held links", Tags: []string{"Requests"}},
		func(ctx context.Context, input *struct{}) (*listRequestsOutput, error) {
			out := &listRequestsOutput{}
			out.Body.Requests = svc.Pending()
			return out, nil
		})
}
