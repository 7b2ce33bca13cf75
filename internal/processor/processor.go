// Package processor drains the durable queue through the resolve and fetch
// pipeline with bounded concurrency.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slapglif/clippyb/internal/limiter"
	"github.com/slapglif/clippyb/internal/queue"
)

const (
	DefaultBatchInterval = 5 * time.Second
	DefaultIdleInterval  = time.Second
)

// ErrInterrupted marks work stopped by an abort rather than by a failure.
// Items ending with it go back to pending.
var ErrInterrupted = errors.New("processing interrupted")

// Handler resolves and fetches one item.
type Handler interface {
	Process(ctx context.Context, item queue.Item) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item queue.Item) error

func (f HandlerFunc) Process(ctx context.Context, item queue.Item) error { return f(ctx, item) }

// Store is the part of the queue the processor writes through.
type Store interface {
	Claim(n int) ([]queue.Item, error)
	Update(item queue.Item) error
	StatusCounts() queue.Counts
	Items() []queue.Item
}

// Options tunes a Processor. Zero values select the defaults.
type Options struct {
	BatchInterval time.Duration
	IdleInterval  time.Duration
	MaxRetries    int
	Logger        *slog.Logger
}

// Processor claims pending items and runs each on its own goroutine, gated
// by a shared limiter. Items are marked in progress before their goroutine
// starts, so a later batch can never pick them up again.
type Processor struct {
	store   Store
	handler Handler
	limiter *limiter.Limiter
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	wg       sync.WaitGroup
	inflight atomic.Int64
	paused   atomic.Bool

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	started   atomic.Int64
	completed atomic.Int64
	skipped   atomic.Int64
	failed    atomic.Int64
}

func New(store Store, h Handler, l *limiter.Limiter, opts Options) *Processor {
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = DefaultBatchInterval
	}
	if opts.IdleInterval <= 0 {
		opts.IdleInterval = DefaultIdleInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if l == nil {
		l = limiter.New(0)
	}
	return &Processor{
		store:   store,
		handler: h,
		limiter: l,
		opts:    opts,
		logger:  opts.Logger,
		now:     func() time.Time { return time.Now().UTC() },
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run processes batches until ctx is done, then waits for in-flight items.
func (p *Processor) Run(ctx context.Context) error {
	p.logger.Info("queue processor started", "workers", p.limiter.Size())
	defer p.logger.Info("queue processor stopped")

	for {
		n, err := p.RunOnce(ctx)
		if err != nil {
			p.logger.Error("processor batch failed", "error", err)
		}

		wait := p.opts.IdleInterval
		if n > 0 {
			wait = p.opts.BatchInterval
		}
		select {
		case <-ctx.Done():
			p.Wait()
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RunOnce claims as many pending items as there are free permits and
// starts them. It returns the number of items started.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	if ctx.Err() != nil || p.paused.Load() {
		return 0, nil
	}
	free := p.limiter.Size() - int(p.inflight.Load())
	if free <= 0 {
		return 0, nil
	}

	items, err := p.store.Claim(free)
	if err != nil {
		return 0, fmt.Errorf("claiming items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	p.logger.Info("processing batch", "items", len(items))
	for _, it := range items {
		p.wg.Add(1)
		p.inflight.Add(1)
		p.started.Add(1)
		itemCtx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.cancels[it.ID] = cancel
		p.mu.Unlock()
		go func(item queue.Item) {
			defer p.wg.Done()
			defer p.inflight.Add(-1)
			defer p.release(item.ID)
			p.process(itemCtx, item)
		}(it)
	}
	return len(items), nil
}

func (p *Processor) process(ctx context.Context, item queue.Item) {
	log := p.logger.With("item_id", item.ID, "item", item.DisplayName())

	err := p.limiter.Do(ctx, func(ctx context.Context) error {
		log.Info("processing item", "type", item.Type, "attempt", item.RetryCount+1)
		return p.handler.Process(ctx, item)
	})

	now := p.now()
	switch {
	case err == nil:
		item.Complete(now)
		p.completed.Add(1)
		log.Info("item completed")
	case ctx.Err() != nil || errors.Is(err, ErrInterrupted):
		item.ResetForRetry()
		log.Info("item interrupted, returned to pending", "error", err)
	case IsDuplicate(err):
		item.Skip("Duplicate: "+err.Error(), now)
		p.skipped.Add(1)
		log.Info("item skipped as duplicate", "reason", err)
	default:
		item.Fail(err.Error(), now)
		p.failed.Add(1)
		log.Warn("item failed", "error", err, "retry_count", item.RetryCount)
		if p.opts.MaxRetries > 0 && item.RetryCount >= p.opts.MaxRetries {
			log.Warn("item exhausted retry budget", "max_retries", p.opts.MaxRetries)
		}
	}

	if err := p.store.Update(item); err != nil {
		log.Error("failed to persist item outcome", "error", err)
	}
}

// IsDuplicate reports whether err says the output already exists.
func IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}

// Wait blocks until every started item has finished.
func (p *Processor) Wait() { p.wg.Wait() }

func (p *Processor) release(id string) {
	p.mu.Lock()
	cancel := p.cancels[id]
	delete(p.cancels, id)
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Abort pauses the processor and cancels every running item. Cancelled
// items go back to pending. It returns the number of items cancelled.
func (p *Processor) Abort() int {
	p.Pause()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.cancels {
		cancel()
	}
	n := len(p.cancels)
	p.logger.Warn("aborting running items", "items", n)
	return n
}

// Drain waits until every started item has recorded its outcome or ctx is
// done.
func (p *Processor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running items: %w", ctx.Err())
	}
}

// Pause stops new batches from being claimed. Running items continue.
func (p *Processor) Pause() { p.paused.Store(true) }

func (p *Processor) Resume() { p.paused.Store(false) }

func (p *Processor) Paused() bool { return p.paused.Load() }

// Progress is a point-in-time view of the queue. Completed includes
// skipped items.
type Progress struct {
	Pending    int  `json:"pending"`
	InProgress int  `json:"in_progress"`
	Completed  int  `json:"completed"`
	Failed     int  `json:"failed"`
	Exhausted  int  `json:"exhausted,omitempty"`
	Paused     bool `json:"paused"`
}

func (p *Processor) Progress() Progress {
	c := p.store.StatusCounts()
	prog := Progress{
		Pending:    c.Pending,
		InProgress: c.InProgress,
		Completed:  c.Completed + c.Skipped,
		Failed:     c.Failed,
		Paused:     p.paused.Load(),
	}
	if p.opts.MaxRetries > 0 && c.Failed > 0 {
		for _, it := range p.store.Items() {
			if it.Status == queue.StatusFailed && it.RetryCount >= p.opts.MaxRetries {
				prog.Exhausted++
			}
		}
	}
	return prog
}

// Summary renders Progress on one line.
func (p *Processor) Summary() string {
	prog := p.Progress()
	s := fmt.Sprintf("Queue: %d pending, %d processing, %d completed, %d failed",
		prog.Pending, prog.InProgress, prog.Completed, prog.Failed)
	if prog.Exhausted > 0 {
		s += fmt.Sprintf(" (%d out of retries)", prog.Exhausted)
	}
	if prog.Paused {
		s += " [paused]"
	}
	return s
}

// Stats counts outcomes since the processor was created.
type Stats struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
	Skipped   int64 `json:"skipped"`
	Failed    int64 `json:"failed"`
}

func (p *Processor) Stats() Stats {
	return Stats{
		Started:   p.started.Load(),
		Completed: p.completed.Load(),
		Skipped:   p.skipped.Load(),
		Failed:    p.failed.Load(),
	}
}
