// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/companion/internal/metrics"
)

// HealthTimeout bounds a single health probe.
const HealthTimeout = 10 * time.Second

// Health probes the backend liveness endpoint.
func (g *Gateway) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.endpoints.HealthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		g.metrics.HealthProbe(metrics.ResultFailed)
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.metrics.HealthProbe(metrics.ResultFailed)
		return &StatusError{Code: resp.StatusCode}
	}
	g.metrics.HealthProbe(metrics.ResultOK)
	return nil
}

// =============================================================================
// WARMER
// =============================================================================

// DefaultWarmInterval is the period between background probes.
const DefaultWarmInterval = 4 * time.Minute

// minPokeSpacing is the closest two probes may be, whatever pokes arrive.
const minPokeSpacing = 15 * time.Second

// Prober is the probe the Warmer runs.
type Prober interface {
	Health(ctx context.Context) error
}

// Warmer keeps a sleeping backend warm by probing its health endpoint
// periodically and on demand.
type Warmer struct {
	prober   Prober
	interval time.Duration
	limiter  *rate.Limiter
	poke     chan struct{}

	mu       sync.Mutex
	onResult func(err error)
	lastErr  error
	lastAt   time.Time
}

// NewWarmer creates a Warmer. A zero interval uses DefaultWarmInterval.
func NewWarmer(p Prober, interval time.Duration) *Warmer {
	if interval <= 0 {
		interval = DefaultWarmInterval
	}
	return &Warmer{
		prober:   p,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(minPokeSpacing), 1),
		poke:     make(chan struct{}, 1),
	}
}

// SetOnResult registers a callback invoked after every probe.
func (w *Warmer) SetOnResult(fn func(err error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onResult = fn
}

// Poke requests an early probe, typically when the user starts typing.
// Pokes are coalesced and rate limited.
func (w *Warmer) Poke() {
	select {
	case w.poke <- struct{}{}:
	default:
	}
}

// Last returns the result and time of the most recent probe.
func (w *Warmer) Last() (time.Time, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastAt, w.lastErr
}

// Run probes immediately and then on every tick or poke until ctx is done.
func (w *Warmer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.probe(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.probe(ctx, true)
		case <-w.poke:
			w.probe(ctx, false)
		}
	}
}

// probe runs one health check. Scheduled probes always run; pokes only run
// when the limiter has a token.
func (w *Warmer) probe(ctx context.Context, scheduled bool) {
	if scheduled {
		w.limiter.Allow()
	} else if !w.limiter.Allow() {
		return
	}

	err := w.prober.Health(ctx)
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	w.lastErr = err
	w.lastAt = time.Now()
	fn := w.onResult
	w.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}
