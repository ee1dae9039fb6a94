// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package poll optionally broadcasts periodic enumerate() calls on a cron
// schedule, for applications that want active re-discovery in addition to
// the broker's own ENUMERATE_CALLBACK push stream.
package poll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Enumerator triggers fn on the given cron schedule.
type Enumerator struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New builds an Enumerator that calls fn on schedule. fn is typically
// (*client.Connection).Enumerate; errors are logged, never returned to the
// scheduler, since a broker that's momentarily unreachable should not stop
// future ticks.
func New(schedule string, logger *slog.Logger, fn func() error) (*Enumerator, error) {
	logger = logger.With("component", "poll_enumerator")
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	if _, err := c.AddFunc(schedule, func() {
		if err := fn(); err != nil {
			logger.Warn("scheduled enumerate failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("registering enumerate schedule %q: %w", schedule, err)
	}

	return &Enumerator{cron: c, logger: logger}, nil
}

// Start begins the schedule.
func (e *Enumerator) Start() {
	e.logger.Info("poll enumerator started")
	e.cron.Start()
}

// Stop halts the schedule, waiting up to ctx's deadline for any in-flight
// tick to finish.
func (e *Enumerator) Stop(ctx context.Context) {
	stopCtx := e.cron.Stop()
	select {
	case <-stopCtx.Done():
		e.logger.Info("poll enumerator stopped")
	case <-ctx.Done():
		e.logger.Warn("poll enumerator stop timed out")
	}
}
