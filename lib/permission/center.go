// Copyright 2026 The Caretaker Authors
// SPDX-License-Identifier: Apache-2.0

package permission

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/caretaker-app/caretaker/lib/clock"
)

// Prober answers live permission state queries against the OS. The
// production implementation sends no-op control messages and inspects
// protected paths; tests inject fakes.
type Prober interface {
	// Probe returns the current status of kind. For automation kinds
	// it classifies the failure mode of a no-op control message:
	// explicit denial → Denied, peer not running → Unknown, consent
	// never requested → NotDetermined.
	Probe(ctx context.Context, kind Kind) (Status, error)

	// RequestConsent triggers the OS-native consent flow for kind.
	// Non-blocking with respect to the user's decision: returning nil
	// means the prompt was triggered, not that the permission was
	// granted. The caller must re-probe.
	RequestConsent(ctx context.Context, kind Kind) error
}

// cacheTTL is how long a probed status is served without re-probing.
// Short, because grants change out-of-band; foreground activation
// invalidates the cache regardless of age.
const cacheTTL = 30 * time.Second

// cachedStatus is one cache entry.
type cachedStatus struct {
	status    Status
	checkedAt time.Time
}

// Center owns the PermissionKind → PermissionStatus mapping. All reads
// and writes of the cache happen under one mutex; readers always see a
// consistent snapshot, never a partially-updated map.
type Center struct {
	prober Prober
	clock  clock.Clock
	logger *slog.Logger

	mu    sync.Mutex
	cache map[Kind]cachedStatus
}

// NewCenter creates a permission center backed by the given prober.
func NewCenter(prober Prober, clk clock.Clock, logger *slog.Logger) *Center {
	return &Center{
		prober: prober,
		clock:  clk,
		logger: logger,
		cache:  make(map[Kind]cachedStatus),
	}
}

// Check returns the status of kind, probing the OS if the cached value
// is stale or absent. Probe errors leave the cache untouched and are
// returned alongside Unknown.
func (c *Center) Check(ctx context.Context, kind Kind) (Status, error) {
	now := c.clock.Now()

	c.mu.Lock()
	entry, ok := c.cache[kind]
	c.mu.Unlock()
	if ok && now.Sub(entry.checkedAt) < cacheTTL {
		return entry.status, nil
	}

	status, err := c.prober.Probe(ctx, kind)
	if err != nil {
		return Unknown, err
	}

	c.mu.Lock()
	c.cache[kind] = cachedStatus{status: status, checkedAt: now}
	c.mu.Unlock()
	return status, nil
}

// Request triggers the OS consent flow for kind and invalidates the
// cached entry so the next Check observes the outcome. It does not
// wait for or guarantee a grant.
func (c *Center) Request(ctx context.Context, kind Kind) error {
	c.mu.Lock()
	delete(c.cache, kind)
	c.mu.Unlock()
	return c.prober.RequestConsent(ctx, kind)
}

// RefreshAll drops every cached status and re-probes the kinds that
// were cached. Used on foreground activation and on demand.
func (c *Center) RefreshAll(ctx context.Context) {
	c.mu.Lock()
	kinds := make([]Kind, 0, len(c.cache))
	for kind := range c.cache {
		kinds = append(kinds, kind)
	}
	c.cache = make(map[Kind]cachedStatus, len(kinds))
	c.mu.Unlock()

	for _, kind := range kinds {
		if _, err := c.Check(ctx, kind); err != nil {
			c.logger.Debug("permission refresh probe failed",
				"kind", kind.String(),
				"error", err,
			)
		}
	}
}

// BindActivation subscribes the center to host-application foreground
// activation events. Each event invalidates and re-probes the cache,
// because grants are changed in System Settings while the app is
// backgrounded and the OS pushes nothing. Returns when ctx is
// cancelled or events is closed.
func (c *Center) BindActivation(ctx context.Context, events <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			c.RefreshAll(ctx)
		}
	}
}
