package reconcile

import "basket-sync/internal/inventory"

// Action is the classification of one source item.
type Action string

const (
	ActionAdd         Action = "add"
	ActionDuplicate   Action = "duplicate"
	ActionOutOfStock  Action = "out_of_stock"
	ActionUnprocessed Action = "unprocessed" // Not reached before cancellation
)

// Decision records what happened to one source item, in source order.
type Decision struct {
	Name   string           `json:"name"`
	Key    string           `json:"key"`
	Action Action           `json:"action"`
	Reason inventory.Reason `json:"reason,omitempty"` // Set for ActionOutOfStock
}

// Rejection names an item the inventory gate refused and why.
type Rejection struct {
	Name   string           `json:"name"`
	Reason inventory.Reason `json:"reason"`
}

// Result summarizes one reconciliation run.
//
// Every source item lands in exactly one bucket:
// Added + Duplicates + len(OutOfStock) + Unprocessed == len(source).
// Unprocessed is zero unless the run was cancelled.
type Result struct {
	Added       int         `json:"added"`
	Duplicates  int         `json:"duplicates"`
	OutOfStock  []string    `json:"out_of_stock"`
	Rejections  []Rejection `json:"rejections"`
	Unprocessed int         `json:"unprocessed"`
	Cancelled   bool        `json:"cancelled"`
	DryRun      bool        `json:"dry_run"`
	Decisions   []Decision  `json:"decisions"`
}

func newResult(size int, dryRun bool) *Result {
	return &Result{
		OutOfStock: []string{},
		Rejections: []Rejection{},
		DryRun:     dryRun,
		Decisions:  make([]Decision, 0, size),
	}
}

// Total returns the number of source items the result accounts for.
func (r *Result) Total() int {
	return r.Added + r.Duplicates + len(r.OutOfStock) + r.Unprocessed
}

func (r *Result) add(name, key string) {
	r.Added++
	r.Decisions = append(r.Decisions, Decision{Name: name, Key: key, Action: ActionAdd})
}

func (r *Result) duplicate(name, key string) {
	r.Duplicates++
	r.Decisions = append(r.Decisions, Decision{Name: name, Key: key, Action: ActionDuplicate})
}

func (r *Result) reject(name, key string, reason inventory.Reason) {
	r.OutOfStock = append(r.OutOfStock, name)
	r.Rejections = append(r.Rejections, Rejection{Name: name, Reason: reason})
	r.Decisions = append(r.Decisions, Decision{Name: name, Key: key, Action: ActionOutOfStock, Reason: reason})
}

func (r *Result) skip(name, key string) {
	r.Unprocessed++
	r.Cancelled = true
	r.Decisions = append(r.Decisions, Decision{Name: name, Key: key, Action: ActionUnprocessed})
}
