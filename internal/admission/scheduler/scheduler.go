// Package scheduler arms one timer per outstanding offer and expires it when
// the deadline passes. Timers live in memory. Deadlines live in storage, so
// Recover and the periodic sweep rebuild whatever a restart lost.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"turnstile/pkg/clock"
	"turnstile/pkg/logger"
	"turnstile/pkg/model"

	"github.com/robfig/cron/v3"
)

type ExpireFunc func(ctx context.Context, entryID string) error

type OfferSource interface {
	ListOffered(ctx context.Context, dueBy *time.Time) ([]*model.WaitingEntry, error)
}

type Config struct {
	// SweepSchedule is a cron spec such as "@every 30s".
	SweepSchedule string
	ExpireTimeout time.Duration
	Log           *logger.Logger
}

type armedTimer struct {
	timer clock.Timer
	gen   uint64
}

type Scheduler struct {
	clock  clock.Clock
	source OfferSource
	cfg    Config

	mu     sync.Mutex
	timers map[string]armedTimer
	gen    uint64
	expire ExpireFunc
	cron   *cron.Cron
}

func New(clk clock.Clock, source OfferSource, cfg Config) *Scheduler {
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	return &Scheduler{
		clock:  clk,
		source: source,
		cfg:    cfg,
		timers: make(map[string]armedTimer),
	}
}

// Bind sets the function timers call. It must be called before the first
// Schedule.
func (s *Scheduler) Bind(fn ExpireFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expire = fn
}

// Schedule arms the entry's timer, replacing any earlier one. A deadline
// that has already passed fires before Schedule returns.
func (s *Scheduler) Schedule(entryID string, deadline time.Time) {
	s.mu.Lock()
	s.disarmLocked(entryID)

	delay := deadline.Sub(s.clock.Now())
	if delay <= 0 {
		s.mu.Unlock()
		s.fire(entryID, 0)
		return
	}

	s.gen++
	gen := s.gen
	s.timers[entryID] = armedTimer{
		timer: s.clock.AfterFunc(delay, func() { s.fire(entryID, gen) }),
		gen:   gen,
	}
	s.mu.Unlock()
}

// Cancel disarms the entry's timer if one is armed.
func (s *Scheduler) Cancel(entryID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(entryID)
}

func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) disarmLocked(entryID string) {
	if armed, ok := s.timers[entryID]; ok {
		armed.timer.Stop()
		delete(s.timers, entryID)
	}
}

func (s *Scheduler) fire(entryID string, gen uint64) {
	s.mu.Lock()
	if armed, ok := s.timers[entryID]; ok && armed.gen == gen {
		delete(s.timers, entryID)
	}
	expire := s.expire
	s.mu.Unlock()

	if expire == nil {
		s.cfg.Log.Warn("Offer timer fired before an expirer was bound", "entry_id", entryID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ExpireTimeout)
	defer cancel()

	if err := expire(ctx, entryID); err != nil {
		s.cfg.Log.Error("Failed to expire offer, sweep will retry",
			"entry_id", entryID,
			"error", err,
		)
	}
}

// Recover re-arms a timer for every persisted offer. Overdue offers expire
// immediately.
func (s *Scheduler) Recover(ctx context.Context) error {
	offered, err := s.source.ListOffered(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to load outstanding offers: %w", err)
	}

	for _, entry := range offered {
		if entry.OfferDeadline == nil {
			s.fire(entry.ID, 0)
			continue
		}
		s.Schedule(entry.ID, *entry.OfferDeadline)
	}

	s.cfg.Log.Info("Recovered offer timers", "offers", len(offered), "armed", s.Armed())
	return nil
}

// Sweep expires every offer whose deadline has passed, whether or not this
// process holds its timer.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.clock.Now()
	overdue, err := s.source.ListOffered(ctx, &now)
	if err != nil {
		return 0, fmt.Errorf("failed to load overdue offers: %w", err)
	}

	for _, entry := range overdue {
		s.Cancel(entry.ID)
		s.fire(entry.ID, 0)
	}

	if len(overdue) > 0 {
		s.cfg.Log.Info("Swept overdue offers", "count", len(overdue))
	}
	return len(overdue), nil
}

// Start launches the periodic sweep.
func (s *Scheduler) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ExpireTimeout)
		defer cancel()
		if _, err := s.Sweep(ctx); err != nil {
			s.cfg.Log.Error("Offer sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.SweepSchedule, err)
	}

	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()

	c.Start()
	s.cfg.Log.Info("Offer sweep started", "schedule", s.cfg.SweepSchedule)
	return nil
}

// Stop halts the sweep, waits for a running sweep to finish and disarms
// every timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.timers {
		s.disarmLocked(id)
	}
}
