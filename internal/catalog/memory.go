package catalog

import (
	"context"
	"sync"
	"time"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/pkg/model"
)

type MemoryCatalog struct {
	mu     sync.RWMutex
	events map[string]model.EventCapacity
}

func NewMemoryCatalog(seed ...*model.EventCapacity) *MemoryCatalog {
	c := &MemoryCatalog{events: make(map[string]model.EventCapacity)}
	for _, e := range seed {
		c.events[e.ID] = *e
	}
	return c
}

func (c *MemoryCatalog) GetEventCapacity(ctx context.Context, eventID string) (*model.EventCapacity, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	event, ok := c.events[eventID]
	if !ok {
		return nil, admissionerrors.ErrEventNotFound
	}
	return &event, nil
}

func (c *MemoryCatalog) MarkCancelled(ctx context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	event, ok := c.events[eventID]
	if !ok {
		return admissionerrors.ErrEventNotFound
	}
	event.IsCancelled = true
	event.UpdatedAt = time.Now().UTC()
	c.events[eventID] = event
	return nil
}

func (c *MemoryCatalog) Upsert(ctx context.Context, event *model.EventCapacity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := *event
	next.UpdatedAt = time.Now().UTC()
	if existing, ok := c.events[event.ID]; ok {
		if existing.TotalCapacity != event.TotalCapacity {
			return admissionerrors.ErrCapacityChanged
		}
		next.IsCancelled = existing.IsCancelled || event.IsCancelled
	}
	c.events[event.ID] = next
	return nil
}
