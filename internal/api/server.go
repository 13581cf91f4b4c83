package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/linkgate/internal/cdpcontrol"
	"github.com/dgnsrekt/linkgate/internal/router"
)

// Service is the part of the router the prompt protocol drives.
type Service interface {
	HandleMessage(ctx context.Context, msg router.Message) (any, error)
	ResolveWithContainer(ctx context.Context, id router.RequestID, container router.ContainerID, target string, from router.WindowID) router.Ack
	ResolveWithoutContainer(ctx context.Context, id router.RequestID, target string, from router.WindowID) router.Ack
	Cancel(ctx context.Context, id router.RequestID, from router.WindowID) router.Ack
	Pending() []router.PendingRequest
	Containers(ctx context.Context) ([]router.Container, error)
	CreateContainer(ctx context.Context, spec router.ContainerSpec) (router.Container, error)
}

var _ Service = (*router.Router)(nil)

// Mounts are plain HTTP handlers served next to the API. Nil handlers are
// not mounted.
type Mounts struct {
	Events  http.Handler
	Metrics http.Handler
}

type ackOutput struct {
	Body router.Ack
}

func NewServer(svc Service, mounts Mounts) http.Handler {
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(requestLogger)
	mux.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("linkgate API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(mux, cfg)

	docs := []byte(docsPage(mounts))
	mux.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write(docs); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	mux.Get("/prompt", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		if _, err := w.Write([]byte(promptHTML)); err != nil {
			slog.Debug("prompt response write failed", "error", err)
		}
	})
	if mounts.Events != nil {
		mux.Method(http.MethodGet, "/api/v1/events", mounts.Events)
	}
	if mounts.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", mounts.Metrics)
	}

	registerRequestHandlers(api, svc)
	registerContainerHandlers(api, svc)
	registerMiscHandlers(api, svc)

	return mux
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, router.ErrUnknownAction) {
		return huma.Error400BadRequest(err.Error())
	}
	var coded *cdpcontrol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case cdpcontrol.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case cdpcontrol.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case cdpcontrol.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
