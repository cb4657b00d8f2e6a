package push

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/store"
)

// Runner is the part of the Dispatcher the trigger loop drives.
type Runner interface {
	Run(ctx context.Context, notifType string) (Result, error)
}

// ScheduleConfig holds the local HH:MM at which each daily type fires.
type ScheduleConfig struct {
	Tick      time.Duration
	JourneyAt string
	SummaryAt string
	IMCAt     string
}

// capsuleSlotMinutes spaces capsule runs so each minute of the day lies within
// CapsuleWindowMinutes of exactly one run.
const capsuleSlotMinutes = 2*CapsuleWindowMinutes + 1

// triggerRunRetention is how long slot and daily claims are kept.
const triggerRunRetention = 48 * time.Hour

const pruneRunKey = "prune"

// Scheduler is the in-process trigger. Water runs on every tick. Capsule runs
// once per capsuleSlotMinutes slot, on local minutes divisible by it. Daily
// types run once per local date, on the first tick at or after their time.
// Slot and daily runs are claimed in trigger_runs, so instances sharing a
// database fire each of them once.
type Scheduler struct {
	mu       sync.RWMutex
	runner   Runner
	push     *store.PushStore
	loc      *time.Location
	now      func() time.Time
	interval time.Duration
	daily    map[string]int
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewScheduler creates the trigger loop. Invalid daily times are rejected.
func NewScheduler(runner Runner, pushStore *store.PushStore, loc *time.Location, cfg ScheduleConfig, logger *slog.Logger) (*Scheduler, error) {
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if err := validateTick(cfg.Tick); err != nil {
		return nil, err
	}
	daily := make(map[string]int, 3)
	for notifType, at := range map[string]string{
		model.NotifTypeJourneyDaily: cfg.JourneyAt,
		model.NotifTypeDailySummary: cfg.SummaryAt,
		model.NotifTypeIMCReminder:  cfg.IMCAt,
	} {
		if at == "" {
			continue
		}
		minutes, err := ParseClock(at)
		if err != nil {
			return nil, err
		}
		daily[notifType] = minutes
	}
	return &Scheduler{
		runner:   runner,
		push:     pushStore,
		loc:      loc,
		now:      time.Now,
		interval: cfg.Tick,
		daily:    daily,
		logger:   logger,
	}, nil
}

// validateTick rejects ticks that could skip a wall-clock minute, since capsule
// slots are matched on the minute.
func validateTick(tick time.Duration) error {
	if tick <= 0 || tick > time.Minute || time.Minute%tick != 0 {
		return fmt.Errorf("schedule tick %s must evenly divide one minute", tick)
	}
	return nil
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().In(s.loc)

	current := now.Hour()*60 + now.Minute()
	today := now.Format(model.DateLayout)

	if current%capsuleSlotMinutes == 0 && s.claim(model.NotifTypeCapsule, now.Format("2006-01-02 15:04")) {
		s.run(ctx, model.NotifTypeCapsule)
	}
	s.run(ctx, model.NotifTypeWater)

	for _, notifType := range model.NotificationTypes {
		at, ok := s.daily[notifType]
		if !ok || current < at {
			continue
		}
		if s.claim(notifType, today) {
			s.run(ctx, notifType)
		}
	}

	if s.claim(pruneRunKey, today) {
		if err := s.push.CleanupTriggerRuns(now.Add(-triggerRunRetention)); err != nil {
			s.logger.Error("prune trigger runs", "error", err)
		}
	}
}

func (s *Scheduler) claim(notifType, runKey string) bool {
	claimed, err := s.push.ClaimTriggerRun(notifType, runKey)
	if err != nil {
		s.logger.Error("claim trigger run", "type", notifType, "key", runKey, "error", err)
		return false
	}
	return claimed
}

func (s *Scheduler) run(ctx context.Context, notifType string) {
	if _, err := s.runner.Run(ctx, notifType); err != nil {
		s.logger.Error("scheduled dispatch", "type", notifType, "error", err)
	}
}
