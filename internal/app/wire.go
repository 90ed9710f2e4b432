// Package app wires configuration into the grading components shared by the binaries.
package app

import (
	"fmt"

	"github.com/timmy/gradeflow/internal/backend"
	"github.com/timmy/gradeflow/internal/config"
	"github.com/timmy/gradeflow/internal/history"
	"github.com/timmy/gradeflow/internal/logger"
	"github.com/timmy/gradeflow/internal/progress"
)

// Components are the long-lived pieces built from configuration.
type Components struct {
	Backend    *backend.HTTPClient
	Controller *progress.Controller
	// History is nil when run history is disabled.
	History *history.Repository
	close   func() error
}

// Close releases database connections.
func (c *Components) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// Build creates the backend client, optional history store and controller.
func Build(cfg *config.Config, log *logger.Logger) (*Components, error) {
	client := backend.NewHTTPClient(&backend.HTTPConfig{
		BaseURL:       cfg.Backend.BaseURL,
		APIKey:        cfg.Backend.APIKey,
		Timeout:       cfg.Backend.Timeout,
		RetryCount:    cfg.Backend.RetryCount,
		RetryWaitTime: cfg.Backend.RetryWaitTime,
	})

	comp := &Components{Backend: client}
	opts := &progress.Options{
		TickInterval:    cfg.Progress.TickInterval,
		CompletionDelay: cfg.Progress.CompletionDelay,
		EventBuffer:     cfg.Progress.EventBuffer,
		Logger:          log,
	}
	// an explicit 0 in config means no display delay
	if opts.CompletionDelay == 0 {
		opts.CompletionDelay = -1
	}

	if cfg.History.Enabled {
		db, err := history.InitDB(&cfg.History)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize run history: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB instance: %w", err)
		}
		comp.History = history.NewRepository(db)
		comp.close = sqlDB.Close
		opts.Recorder = comp.History
	}

	comp.Controller = progress.NewController(client, opts)
	return comp, nil
}
