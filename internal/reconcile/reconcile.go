// Package reconcile merges a source cart into a target cart.
//
// A run first probes inventory for every source item, then applies the
// decisions to the target under its write lock in source order. Because the
// lock is held for the whole apply step, concurrent transfers into the same
// target are serialized and the first occurrence of a matching key always
// wins, whatever order the probes finished in.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"basket-sync/internal/cart"
	"basket-sync/internal/inventory"
	"basket-sync/internal/model"
)

// Options configures an Engine.
type Options struct {
	Logger *slog.Logger

	// ProbeConcurrency bounds parallel inventory probes per run.
	// 0 or 1 probes one item at a time.
	ProbeConcurrency int

	// ProbeTimeout limits each probe call. 0 means no per-probe limit.
	ProbeTimeout time.Duration
}

// Engine runs basket transfers against a cart store.
type Engine struct {
	store       *cart.Store
	logger      *slog.Logger
	concurrency int
	timeout     time.Duration
}

// New creates an Engine over store.
func New(store *cart.Store, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.ProbeConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Engine{
		store:       store,
		logger:      logger,
		concurrency: concurrency,
		timeout:     opts.ProbeTimeout,
	}
}

// TransferBasket merges the source session's cart into the target session's
// cart. Items the probe rejects are reported in OutOfStock; items whose
// matching key is already in the target count as duplicates and leave the
// existing target item untouched. The source cart is never modified.
//
// An empty source fails with *model.EmptySourceError and touches nothing.
// If ctx is cancelled mid-run, the items decided so far stay applied and
// the partial result is returned with a nil error.
func (e *Engine) TransferBasket(ctx context.Context, sourceID, targetID string, probe inventory.Probe) (*Result, error) {
	return e.run(ctx, sourceID, targetID, probe, false)
}

// Preview classifies the source items exactly as TransferBasket would,
// without writing to the target cart.
func (e *Engine) Preview(ctx context.Context, sourceID, targetID string, probe inventory.Probe) (*Result, error) {
	return e.run(ctx, sourceID, targetID, probe, true)
}

func (e *Engine) run(ctx context.Context, sourceID, targetID string, probe inventory.Probe, dryRun bool) (*Result, error) {
	source := e.store.GetCart(sourceID)
	if len(source) == 0 {
		return nil, &model.EmptySourceError{SessionID: sourceID}
	}

	logger := e.logger.With("source", sourceID, "target", targetID)
	start := time.Now()

	gate := inventory.NewGate(probe, e.timeout)
	outcomes, probed := e.probeAll(ctx, gate, source)

	keys := e.store.Keyer()
	res := newResult(len(source), dryRun)

	apply := func(has func(key string) bool, add func(item model.CartItem)) {
		for i := 0; i < probed; i++ {
			item := source[i]
			key := keys.Key(item.Name)
			outcome := outcomes[i]

			switch {
			case !outcome.Available:
				res.reject(item.Name, key, outcome.Reason)
				if outcome.Err != nil {
					logger.Warn("inventory probe failed", "item", item.Name, "error", outcome.Err)
				} else {
					logger.Debug("item out of stock", "item", item.Name)
				}
			case has(key):
				res.duplicate(item.Name, key)
				logger.Debug("item already in target", "item", item.Name, "key", key)
			default:
				add(model.CartItem{Name: item.Name, Quantity: item.Quantity})
				res.add(item.Name, key)
				logger.Debug("item added", "item", item.Name, "key", key)
			}
		}
	}

	switch {
	case probed == 0:
		// Cancelled before the first item; leave the target alone.
	case dryRun:
		present := e.store.Keys(targetID)
		apply(
			func(key string) bool { _, ok := present[key]; return ok },
			func(item model.CartItem) { present[keys.Key(item.Name)] = struct{}{} },
		)
	default:
		err := e.store.Update(targetID, func(tx *cart.Tx) error {
			apply(tx.Has, func(item model.CartItem) { tx.Append(item) })
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("updating cart %s: %w", targetID, err)
		}
	}

	for _, item := range source[probed:] {
		res.skip(item.Name, keys.Key(item.Name))
	}

	logger.Info("basket transfer finished",
		"items", len(source),
		"added", res.Added,
		"duplicates", res.Duplicates,
		"out_of_stock", len(res.OutOfStock),
		"unprocessed", res.Unprocessed,
		"dry_run", dryRun,
		"duration", time.Since(start),
	)

	return res, nil
}

// probeAll checks every item and returns the outcomes plus the length of
// the leading run of items that were fully probed. Cancellation is checked
// before each item; a probe cut short by cancellation does not count.
func (e *Engine) probeAll(ctx context.Context, gate *inventory.Gate, items []model.CartItem) ([]inventory.Outcome, int) {
	outcomes := make([]inventory.Outcome, len(items))
	done := make([]bool, len(items))

	check := func(i int) {
		outcome := gate.Check(ctx, items[i].Name)
		if ctx.Err() != nil && outcome.Reason == inventory.ReasonProbeFailed {
			return
		}
		outcomes[i] = outcome
		done[i] = true
	}

	if e.concurrency == 1 {
		for i := range items {
			if ctx.Err() != nil {
				break
			}
			check(i)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(e.concurrency)
		for i := range items {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if ctx.Err() != nil {
					return nil
				}
				check(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	prefix := 0
	for prefix < len(done) && done[prefix] {
		prefix++
	}
	return outcomes, prefix
}
