// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package client

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// reconnectPacer rate-limits the dispatch worker's auto-reconnect retry
// loop. A bare time.Sleep between attempts works but gives up the ability
// to burst a single immediate retry after a long idle period; rate.Limiter
// gives us that for free and is the corpus's standard tool for pacing a
// retry loop (SPEC_FULL.md §2).
type reconnectPacer struct {
	limiter *rate.Limiter
}

func newReconnectPacer(interval time.Duration) *reconnectPacer {
	return &reconnectPacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// wait blocks until the pacer admits the next reconnect attempt.
func (p *reconnectPacer) wait(ctx context.Context) {
	_ = p.limiter.Wait(ctx)
}
