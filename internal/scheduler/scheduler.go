// Package scheduler wraps robfig/cron for periodic discovery refreshes.
package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// RunFunc is one scheduled run.
type RunFunc func(ctx context.Context)

// Engine manages the cron scheduler for watch mode.
type Engine struct {
	cron *cron.Cron
}

// New creates a new cron-based Engine.
func New() *Engine {
	return &Engine{cron: cron.New()}
}

// Start registers run under the cron expression and starts the engine.
// The engine stops when ctx is cancelled.
func (e *Engine) Start(ctx context.Context, expr string, run RunFunc) error {
	_, err := e.cron.AddFunc(expr, func() {
		log.Printf("scheduler: running scheduled refresh")
		run(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduler.Start: parse cron %q: %w", expr, err)
	}

	e.cron.Start()
	go func() {
		<-ctx.Done()
		e.cron.Stop()
	}()
	return nil
}
