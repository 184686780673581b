// Package inventory decides whether an item may enter a cart, based on a
// retailer availability probe.
package inventory

import (
	"context"
	"fmt"
	"time"
)

// Probe reports whether a retailer can currently supply the named item.
// An error means the answer is unknown, not that the item is absent.
type Probe func(ctx context.Context, name string) (bool, error)

// AlwaysAvailable admits every item. It stands in for retailers without an
// inventory feed.
func AlwaysAvailable(context.Context, string) (bool, error) {
	return true, nil
}

// Reason says why an item was not admitted.
type Reason string

const (
	// ReasonAbsent means the probe answered and the item is unavailable.
	ReasonAbsent Reason = "absent"
	// ReasonProbeFailed means the probe errored, panicked or timed out.
	ReasonProbeFailed Reason = "probe_failed"
)

// Outcome is the gate's decision for one item.
type Outcome struct {
	Available bool
	Reason    Reason // Empty when Available
	Err       error  // Set when Reason is ReasonProbeFailed
}

// Gate wraps a Probe with a per-call timeout and failure containment.
type Gate struct {
	probe   Probe
	timeout time.Duration
}

// NewGate returns a Gate around probe. A zero timeout leaves the caller's
// context deadline as the only limit. A nil probe admits everything.
func NewGate(probe Probe, timeout time.Duration) *Gate {
	if probe == nil {
		probe = AlwaysAvailable
	}
	return &Gate{probe: probe, timeout: timeout}
}

// Check probes name once. Probe errors and panics become a rejection with
// ReasonProbeFailed; they never escape.
func (g *Gate) Check(ctx context.Context, name string) Outcome {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	ok, err := g.call(ctx, name)
	switch {
	case err != nil:
		return Outcome{Reason: ReasonProbeFailed, Err: err}
	case !ok:
		return Outcome{Reason: ReasonAbsent}
	default:
		return Outcome{Available: true}
	}
}

func (g *Gate) call(ctx context.Context, name string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("probe panicked: %v", r)
		}
	}()
	return g.probe(ctx, name)
}
