package draft

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/bartermate/internal/checksum"
	"github.com/starford/bartermate/internal/events"
	"github.com/starford/bartermate/internal/models"
)

// DefaultDelay is the quiescence period before an edited draft is written.
const DefaultDelay = time.Second

// Debouncer coalesces draft edits and writes the latest one to the queue
// after a period without further edits.
type Debouncer struct {
	queue    *Queue
	delay    time.Duration
	notifier events.Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	pending *models.Draft
	timer   *time.Timer
}

// NewDebouncer creates a debouncer writing to q.
func NewDebouncer(q *Queue, delay time.Duration, notifier events.Notifier, logger *slog.Logger) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if notifier == nil {
		notifier = events.Discard{}
	}
	return &Debouncer{queue: q, delay: delay, notifier: notifier, logger: logger}
}

// Update records an edit and restarts the quiescence timer. A draft without
// an ID inherits the ID of the draft being edited, or gets a new one.
func (b *Debouncer) Update(d models.Draft) models.Draft {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d.ID == "" {
		if b.pending != nil {
			d.ID = b.pending.ID
		} else if stored, ok := b.queue.Load(context.Background()); ok {
			d.ID = stored.ID
		}
		EnsureID(&d)
	}

	b.pending = &d
	if b.timer == nil {
		b.timer = time.AfterFunc(b.delay, b.fire)
	} else {
		b.timer.Reset(b.delay)
	}
	return d
}

// Pending returns the edit waiting to be written, if any.
func (b *Debouncer) Pending() (models.Draft, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pending == nil {
		return models.Draft{}, false
	}
	return *b.pending, true
}

// Current returns the pending edit, or the stored draft when nothing is pending.
func (b *Debouncer) Current(ctx context.Context) (models.Draft, bool) {
	if d, ok := b.Pending(); ok {
		return d, true
	}
	return b.queue.Load(ctx)
}

// Flush writes the pending edit immediately.
func (b *Debouncer) Flush(ctx context.Context) error {
	b.mu.Lock()
	d := b.take()
	var err error
	var saved bool
	if d != nil {
		saved, err = b.write(ctx, *d)
	}
	b.mu.Unlock()

	if saved {
		b.notifier.Notify(events.DraftSaved, map[string]string{"id": d.ID})
	}
	return err
}

// Discard drops the pending edit without writing it.
func (b *Debouncer) Discard() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.take()
}

// take must be called with b.mu held.
func (b *Debouncer) take() *models.Draft {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	d := b.pending
	b.pending = nil
	return d
}

func (b *Debouncer) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Flush(ctx); err != nil {
		b.logger.Warn("draft: debounced save failed", slog.String("error", err.Error()))
	}
}

// write saves d unless the stored draft is already identical.
// It must be called with b.mu held.
func (b *Debouncer) write(ctx context.Context, d models.Draft) (bool, error) {
	if stored, ok := b.queue.Load(ctx); ok {
		a, errA := checksum.JSON(stored)
		c, errC := checksum.JSON(d)
		if errA == nil && errC == nil && a == c {
			return false, nil
		}
	}
	if err := b.queue.Save(ctx, d); err != nil {
		return false, err
	}
	b.logger.Debug("draft: saved", slog.String("id", d.ID))
	return true, nil
}
