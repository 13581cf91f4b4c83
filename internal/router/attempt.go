package router

import (
	"context"
	"log/slog"
)

// attempt runs a best-effort host operation and discards its error.
// It reports whether the operation succeeded.
func attempt(ctx context.Context, op string, fn func(context.Context) error) bool {
	if err := fn(ctx); err != nil {
		slog.Debug("best-effort host call failed", "op", op, "error", err)
		return false
	}
	return true
}
