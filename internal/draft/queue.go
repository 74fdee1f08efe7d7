// Package draft keeps the single pending listing composition on the device.
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/starford/bartermate/internal/apperr"
	"github.com/starford/bartermate/internal/checksum"
	"github.com/starford/bartermate/internal/localstore"
	"github.com/starford/bartermate/internal/models"
)

const storageKey = "listing_draft"

// Queue is a durable single-slot store for one pending draft.
// Operations are serialized in call order; the last write wins.
type Queue struct {
	store  localstore.Store
	logger *slog.Logger
	mu     sync.Mutex

	// replaced maps the ID of every submitted draft to the ID that edits
	// still carrying it are saved under.
	replaced map[string]string
}

// NewQueue creates a queue backed by store.
func NewQueue(store localstore.Store, logger *slog.Logger) *Queue {
	return &Queue{store: store, logger: logger, replaced: make(map[string]string)}
}

// Save overwrites the stored draft. A draft carrying the ID of an already
// submitted listing is saved under that listing's replacement ID, so it is
// submitted as a new listing rather than absorbed by the old one.
func (q *Queue) Save(ctx context.Context, d models.Draft) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.saveLocked(ctx, d)
}

func (q *Queue) saveLocked(ctx context.Context, d models.Draft) error {
	if next, ok := q.replaced[d.ID]; ok {
		d.ID = next
	}
	if err := q.store.Set(ctx, storageKey, d); err != nil {
		return fmt.Errorf("draft: save: %w", err)
	}
	return nil
}

// Load returns the stored draft. A storage failure is logged and reported as
// absent so callers never act on a half-read record.
func (q *Queue) Load(ctx context.Context) (models.Draft, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var d models.Draft
	if err := q.store.Get(ctx, storageKey, &d); err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			q.logger.Warn("draft: load failed", slog.String("error", err.Error()))
		}
		return models.Draft{}, false
	}
	return d, true
}

// Clear deletes the stored draft. Clearing an empty queue is not an error.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.store.Remove(ctx, storageKey); err != nil {
		return fmt.Errorf("draft: clear: %w", err)
	}
	return nil
}

// Complete records that submitted reached the remote store. The stored
// draft is removed only if it is still exactly what was submitted. An edit
// made while the submission was in flight is kept under a fresh ID, and any
// later save carrying the submitted ID is redirected to that fresh ID.
func (q *Queue) Complete(ctx context.Context, submitted models.Draft) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.replaced[submitted.ID]; !ok {
		q.replaced[submitted.ID] = uuid.NewString()
	}

	var stored models.Draft
	if err := q.store.Get(ctx, storageKey, &stored); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("draft: complete: %w", err)
	}
	if stored.ID != submitted.ID {
		return false, nil
	}

	a, errA := checksum.JSON(stored)
	b, errB := checksum.JSON(submitted)
	if errA == nil && errB == nil && a == b {
		if err := q.store.Remove(ctx, storageKey); err != nil {
			return false, fmt.Errorf("draft: complete: %w", err)
		}
		return true, nil
	}

	if err := q.saveLocked(ctx, stored); err != nil {
		return false, err
	}
	q.logger.Info("draft: edited during submit, kept as new draft",
		slog.String("submitted_id", submitted.ID),
		slog.String("id", q.replaced[submitted.ID]),
	)
	return false, nil
}

// EnsureID assigns a client identifier to d if it has none.
func EnsureID(d *models.Draft) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
}
