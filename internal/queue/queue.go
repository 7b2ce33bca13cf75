// Package queue is the durable work queue. Every acknowledged mutation is
// written to a JSON snapshot before it returns, and items found in progress
// at startup are returned to pending.
package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"
)

// SnapshotVersion is written into every snapshot file.
const SnapshotVersion = 1

// ErrPersistenceFailed wraps any failure to write the snapshot.
var ErrPersistenceFailed = errors.New("queue persistence failed")

// Snapshot is the on-disk form of the queue.
type Snapshot struct {
	Items   []Item `json:"items"`
	Version int    `json:"version"`
}

// Queue is safe for concurrent use. Readers take mu; writers additionally
// serialize on saveMu so snapshots reach disk in mutation order.
type Queue struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	saveMu sync.Mutex
	mu     sync.RWMutex
	items  []Item

	listenMu  sync.Mutex
	listeners []func(Counts)
}

// Option configures a Queue.
type Option func(*Queue)

func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source used for lifecycle timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Open loads the snapshot at path, or starts empty when the file does not
// exist. Items left in progress by a previous run are reset to pending and
// the recovered state is persisted immediately.
func Open(path string, opts ...Option) (*Queue, error) {
	q := &Queue{
		path:   path,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(q)
	}

	var snap Snapshot
	if err := readJSON(path, &snap); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load queue: %w", err)
		}
		return q, nil
	}
	if snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("load queue: snapshot version %d is newer than supported %d", snap.Version, SnapshotVersion)
	}

	recovered := 0
	for i := range snap.Items {
		if snap.Items[i].Status == StatusInProgress {
			snap.Items[i].Status = StatusPending
			snap.Items[i].StartedAt = nil
			recovered++
		}
	}
	q.items = snap.Items

	if recovered > 0 {
		q.logger.Info("recovered interrupted queue items", "count", recovered)
		if err := q.save(q.items); err != nil {
			return nil, err
		}
	}
	q.logger.Debug("queue loaded", "path", path, "items", len(q.items))
	return q, nil
}

// Path returns the snapshot file location.
func (q *Queue) Path() string { return q.path }

// OnChange registers fn to be called with fresh counts after every
// successful mutation. fn must not block.
func (q *Queue) OnChange(fn func(Counts)) {
	q.listenMu.Lock()
	q.listeners = append(q.listeners, fn)
	q.listenMu.Unlock()
}

func (q *Queue) save(items []Item) error {
	if items == nil {
		items = []Item{}
	}
	if err := writeJSON(q.path, Snapshot{Items: items, Version: SnapshotVersion}); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailed, err)
	}
	return nil
}

// mutate applies fn to a copy of the items, persists the result and only
// then publishes it. On persistence failure the in-memory state is left
// unchanged.
func (q *Queue) mutate(fn func(items []Item) ([]Item, bool)) error {
	q.saveMu.Lock()
	defer q.saveMu.Unlock()

	q.mu.RLock()
	next, changed := fn(slices.Clone(q.items))
	q.mu.RUnlock()
	if !changed {
		return nil
	}

	if err := q.save(next); err != nil {
		return err
	}

	q.mu.Lock()
	q.items = next
	counts := countItems(next)
	q.mu.Unlock()

	q.listenMu.Lock()
	listeners := slices.Clone(q.listeners)
	q.listenMu.Unlock()
	for _, fn := range listeners {
		fn(counts)
	}
	return nil
}

// Enqueue appends a pending item.
func (q *Queue) Enqueue(item Item) error {
	return q.EnqueueMany([]Item{item})
}

// EnqueueMany appends items in order with a single write.
func (q *Queue) EnqueueMany(items []Item) error {
	if len(items) == 0 {
		return nil
	}
	var dupErr error
	err := q.mutate(func(cur []Item) ([]Item, bool) {
		seen := make(map[string]bool, len(cur)+len(items))
		for _, it := range cur {
			seen[it.ID] = true
		}
		for _, it := range items {
			if it.ID == "" {
				dupErr = errors.New("enqueue: item has no id")
				return nil, false
			}
			if seen[it.ID] {
				dupErr = fmt.Errorf("enqueue: duplicate item id %s", it.ID)
				return nil, false
			}
			seen[it.ID] = true
			if it.Status == "" {
				it.Status = StatusPending
			}
			if it.CreatedAt.IsZero() {
				it.CreatedAt = q.now()
			}
			cur = append(cur, it)
		}
		return cur, true
	})
	if dupErr != nil {
		return dupErr
	}
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	q.logger.Debug("items enqueued", "count", len(items))
	return nil
}

// DequeueNext removes and returns the oldest pending item.
func (q *Queue) DequeueNext() (Item, bool, error) {
	var out Item
	var found bool
	err := q.mutate(func(cur []Item) ([]Item, bool) {
		for i, it := range cur {
			if it.Status == StatusPending {
				out, found = it, true
				return slices.Delete(cur, i, i+1), true
			}
		}
		return nil, false
	})
	if err != nil {
		return Item{}, false, fmt.Errorf("dequeue: %w", err)
	}
	return out, found, nil
}

// Claim marks up to n of the oldest pending items in progress and returns
// them. n <= 0 claims every pending item.
func (q *Queue) Claim(n int) ([]Item, error) {
	var claimed []Item
	err := q.mutate(func(cur []Item) ([]Item, bool) {
		now := q.now()
		for i := range cur {
			if n > 0 && len(claimed) >= n {
				break
			}
			if cur[i].Status != StatusPending {
				continue
			}
			cur[i].StartProcessing(now)
			claimed = append(claimed, cur[i])
		}
		return cur, len(claimed) > 0
	})
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	return claimed, nil
}

// Update replaces the stored item with the same ID. An unknown ID is
// logged and ignored.
func (q *Queue) Update(item Item) error {
	missing := false
	err := q.mutate(func(cur []Item) ([]Item, bool) {
		i := slices.IndexFunc(cur, func(it Item) bool { return it.ID == item.ID })
		if i < 0 {
			missing = true
			return nil, false
		}
		cur[i] = item
		return cur, true
	})
	if missing {
		q.logger.Warn("update for unknown queue item", "id", item.ID)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", item.ID, err)
	}
	return nil
}

// Remove deletes the item with id. It reports whether the item existed.
func (q *Queue) Remove(id string) (bool, error) {
	removed := false
	err := q.mutate(func(cur []Item) ([]Item, bool) {
		i := slices.IndexFunc(cur, func(it Item) bool { return it.ID == id })
		if i < 0 {
			return nil, false
		}
		removed = true
		return slices.Delete(cur, i, i+1), true
	})
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", id, err)
	}
	return removed, nil
}

// RetryFailed resets every failed item to pending and returns how many
// were reset.
func (q *Queue) RetryFailed() (int, error) {
	n := 0
	err := q.mutate(func(cur []Item) ([]Item, bool) {
		for i := range cur {
			if cur[i].Status == StatusFailed {
				cur[i].ResetForRetry()
				n++
			}
		}
		return cur, n > 0
	})
	if err != nil {
		return 0, fmt.Errorf("retry failed: %w", err)
	}
	return n, nil
}

// ClearCompleted drops completed and skipped items.
func (q *Queue) ClearCompleted() (int, error) {
	n := 0
	err := q.mutate(func(cur []Item) ([]Item, bool) {
		kept := cur[:0]
		for _, it := range cur {
			if it.Status == StatusCompleted || it.Status == StatusSkipped {
				n++
				continue
			}
			kept = append(kept, it)
		}
		return kept, n > 0
	})
	if err != nil {
		return 0, fmt.Errorf("clear completed: %w", err)
	}
	return n, nil
}

// Reconcile returns in-progress items to pending. It is used after the
// processor has been stopped mid-batch.
func (q *Queue) Reconcile() (int, error) {
	n := 0
	err := q.mutate(func(cur []Item) ([]Item, bool) {
		for i := range cur {
			if cur[i].Status == StatusInProgress {
				cur[i].Status = StatusPending
				cur[i].StartedAt = nil
				n++
			}
		}
		return cur, n > 0
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}
	return n, nil
}

// Get returns a copy of the item with id.
func (q *Queue) Get(id string) (Item, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, it := range q.items {
		if it.ID == id {
			return it, true
		}
	}
	return Item{}, false
}

// Items returns a copy of every item in queue order.
func (q *Queue) Items() []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return slices.Clone(q.items)
}

// PendingItems returns pending items in queue order.
func (q *Queue) PendingItems() []Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var out []Item
	for _, it := range q.items {
		if it.Status == StatusPending {
			out = append(out, it)
		}
	}
	return out
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

func (q *Queue) StatusCounts() Counts {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return countItems(q.items)
}
