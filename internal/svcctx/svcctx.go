// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/docpipe/docpipe/internal/config"
	"github.com/docpipe/docpipe/internal/flows"
	"github.com/docpipe/docpipe/internal/pipeline"
	"github.com/docpipe/docpipe/internal/store"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Stores        store.Stores
	Scheduler     *flows.Scheduler
	Orchestrator  *pipeline.Orchestrator
	MappingSink   *store.MappingSink
	ConfigManager *config.Manager
	Logger        *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoresFrom extracts the persistence ports from context.
func StoresFrom(ctx context.Context) store.Stores {
	if s := ServicesFrom(ctx); s != nil {
		return s.Stores
	}
	return store.Stores{}
}

// SchedulerFrom extracts the flow scheduler from context.
func SchedulerFrom(ctx context.Context) *flows.Scheduler {
	if s := ServicesFrom(ctx); s != nil {
		return s.Scheduler
	}
	return nil
}

// OrchestratorFrom extracts the pipeline orchestrator from context.
func OrchestratorFrom(ctx context.Context) *pipeline.Orchestrator {
	if s := ServicesFrom(ctx); s != nil {
		return s.Orchestrator
	}
	return nil
}

// MappingSinkFrom extracts the async mapping writer from context.
func MappingSinkFrom(ctx context.Context) *store.MappingSink {
	if s := ServicesFrom(ctx); s != nil {
		return s.MappingSink
	}
	return nil
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigManager
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
