package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/obs"
	"github.com/dukerupert/nudge/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrUnknownType is returned for a type outside model.NotificationTypes.
	ErrUnknownType = errors.New("unknown notification type")
	// ErrInvocationInProgress is returned when the guard is held by another invocation.
	ErrInvocationInProgress = errors.New("invocation already in progress")
)

// Sender delivers one payload to one subscription.
type Sender interface {
	Send(ctx context.Context, sub *model.PushSubscription, payload Payload) error
}

// Result is the outcome of one invocation. Total counts the selected
// (user, subscription) pairs, Sent the successful deliveries among them.
type Result struct {
	Sent   int `json:"sent"`
	Total  int `json:"total"`
	Pruned int `json:"pruned"`
}

// Options tune a Dispatcher. Zero values pick the defaults.
type Options struct {
	Location       *time.Location
	Workers        int
	Icon           string
	CampaignLedger bool
	Guard          Guard
	Metrics        *obs.Metrics
	Logger         *slog.Logger
}

// Dispatcher selects the audience for a notification type and drives the
// sender for every selected subscription. It keeps no state between
// invocations; cursors live in the store.
type Dispatcher struct {
	sender   Sender
	push     *store.PushStore
	settings *store.SettingsStore
	profiles *store.ProfileStore

	loc     *time.Location
	now     func() time.Time
	workers int
	icon    string
	ledger  bool
	guard   Guard
	metrics *obs.Metrics
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewDispatcher(sender Sender, pushStore *store.PushStore, settingsStore *store.SettingsStore, profileStore *store.ProfileStore, opts Options) *Dispatcher {
	if opts.Location == nil {
		opts.Location = time.FixedZone("UTC-3", -3*60*60)
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Icon == "" {
		opts.Icon = "/icons/icon-192.png"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher{
		sender:   sender,
		push:     pushStore,
		settings: settingsStore,
		profiles: profileStore,
		loc:      opts.Location,
		now:      time.Now,
		workers:  opts.Workers,
		icon:     opts.Icon,
		ledger:   opts.CampaignLedger,
		guard:    opts.Guard,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		tracer:   otel.Tracer("github.com/dukerupert/nudge/internal/push"),
	}
}

// WithClock replaces the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Location returns the fixed zone used for wall-clock decisions.
func (d *Dispatcher) Location() *time.Location {
	return d.loc
}

// job is one user's share of an invocation.
type job struct {
	userID  int64
	subs    []model.PushSubscription
	payload Payload
	// ledgerRef is set when the campaign ledger records this delivery.
	ledgerRef string
	// afterSent runs once when at least one subscription accepted the payload.
	afterSent func() error
}

// Run performs one invocation for notifType.
func (d *Dispatcher) Run(ctx context.Context, notifType string) (Result, error) {
	if !model.ValidNotificationType(notifType) {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownType, notifType)
	}

	if d.guard != nil {
		release, ok := d.guard.Acquire(ctx, notifType)
		if !ok {
			return Result{}, fmt.Errorf("%w: %s", ErrInvocationInProgress, notifType)
		}
		defer release()
	}

	start := time.Now()
	runID := uuid.NewString()
	logger := d.logger.With("type", notifType, "run_id", runID)

	ctx, span := d.tracer.Start(ctx, "dispatch.run", trace.WithAttributes(
		attribute.String("notification.type", notifType),
		attribute.String("run.id", runID),
	))
	defer span.End()

	now := d.now().In(d.loc)
	jobs, err := d.plan(notifType, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "audience query")
		d.metrics.Run(notifType, "error", time.Since(start).Seconds())
		logger.Error("dispatch audience query failed", "error", err)
		return Result{}, fmt.Errorf("select %s audience: %w", notifType, err)
	}

	res, err := d.deliver(ctx, notifType, jobs, logger)
	span.SetAttributes(
		attribute.Int("dispatch.total", res.Total),
		attribute.Int("dispatch.sent", res.Sent),
		attribute.Int("dispatch.pruned", res.Pruned),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "deliver")
		d.metrics.Run(notifType, "error", time.Since(start).Seconds())
		logger.Error("dispatch failed", "sent", res.Sent, "total", res.Total, "error", err)
		return res, err
	}

	d.metrics.Run(notifType, "ok", time.Since(start).Seconds())
	logger.Info("dispatch complete",
		"sent", res.Sent, "total", res.Total, "pruned", res.Pruned,
		"duration", time.Since(start))
	return res, nil
}

// SendTest delivers the message of notifType to one user, ignoring the
// audience rules. Cursors and the campaign ledger are left untouched.
func (d *Dispatcher) SendTest(ctx context.Context, userID int64, notifType string) (Result, error) {
	if !model.ValidNotificationType(notifType) {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownType, notifType)
	}

	now := d.now().In(d.loc)
	subs, err := d.push.ListByUser(userID)
	if err != nil {
		return Result{}, err
	}

	var payload Payload
	switch notifType {
	case model.NotifTypeCapsule:
		payload = d.capsuleMessage(now)
	case model.NotifTypeWater:
		payload = d.waterMessage(now)
	case model.NotifTypeIMCReminder:
		payload = d.imcMessage(now)
	case model.NotifTypeDailySummary:
		payload, err = d.userSummary(userID, now)
		if err != nil {
			return Result{}, err
		}
	case model.NotifTypeJourneyDaily:
		day := 1
		p, err := d.profiles.Get(userID)
		if err != nil {
			return Result{}, err
		}
		if p != nil && p.CreatedAt != nil {
			if _, ok := journeySteps[JourneyDay(*p.CreatedAt, now)]; ok {
				day = JourneyDay(*p.CreatedAt, now)
			}
		}
		payload, _ = d.journeyMessage(day)
	}
	payload.Tag = payload.Tag + "-test-" + uuid.NewString()[:8]

	jobs := []job{{userID: userID, subs: subs, payload: payload}}
	return d.deliver(ctx, notifType, jobs, d.logger.With("type", notifType, "test_user_id", userID))
}

// plan runs the audience queries for notifType and returns the work list.
// Any store error aborts the invocation.
func (d *Dispatcher) plan(notifType string, now time.Time) ([]job, error) {
	subsByUser, err := d.push.ListByUserIndex()
	if err != nil {
		return nil, err
	}

	switch notifType {
	case model.NotifTypeCapsule:
		return d.planCapsule(subsByUser, now)
	case model.NotifTypeJourneyDaily:
		return d.planJourney(subsByUser, now)
	case model.NotifTypeWater:
		return d.planWater(subsByUser, now)
	case model.NotifTypeDailySummary:
		return d.planSummary(subsByUser, now)
	case model.NotifTypeIMCReminder:
		return d.planIMC(subsByUser, now)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, notifType)
}

func (d *Dispatcher) planCapsule(subsByUser map[int64][]model.PushSubscription, now time.Time) ([]job, error) {
	settings, err := d.settings.ListCapsuleEnabled()
	if err != nil {
		return nil, err
	}

	var jobs []job
	for _, ns := range settings {
		if ns.CapsuleTime == nil {
			continue
		}
		due, err := CapsuleDue(*ns.CapsuleTime, now)
		if err != nil {
			d.logger.Debug("skip capsule reminder", "user_id", ns.UserID, "error", err)
			continue
		}
		if !due || len(subsByUser[ns.UserID]) == 0 {
			continue
		}
		jobs = append(jobs, job{userID: ns.UserID, subs: subsByUser[ns.UserID], payload: d.capsuleMessage(now)})
	}
	return jobs, nil
}

func (d *Dispatcher) planJourney(subsByUser map[int64][]model.PushSubscription, now time.Time) ([]job, error) {
	profiles, err := d.profiles.ListCreated()
	if err != nil {
		return nil, err
	}

	var jobs []job
	for _, p := range profiles {
		subs := subsByUser[p.UserID]
		if p.CreatedAt == nil || len(subs) == 0 {
			continue
		}
		day := JourneyDay(*p.CreatedAt, now)
		payload, ok := d.journeyMessage(day)
		if !ok {
			continue
		}

		j := job{userID: p.UserID, subs: subs, payload: payload}
		if d.ledger {
			j.ledgerRef = fmt.Sprintf("day-%d", day)
			sent, err := d.push.WasSent(p.UserID, model.NotifTypeJourneyDaily, j.ledgerRef)
			if err != nil {
				return nil, err
			}
			if sent {
				continue
			}
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (d *Dispatcher) planWater(subsByUser map[int64][]model.PushSubscription, now time.Time) ([]job, error) {
	settings, err := d.settings.ListWaterEnabled()
	if err != nil {
		return nil, err
	}

	var jobs []job
	for _, ns := range settings {
		subs := subsByUser[ns.UserID]
		if len(subs) == 0 || !WaterDue(ns, now) {
			continue
		}
		userID := ns.UserID
		jobs = append(jobs, job{
			userID:  userID,
			subs:    subs,
			payload: d.waterMessage(now),
			// Written after delivery, not claimed before it: overlapping
			// invocations can both observe the old cursor.
			afterSent: func() error {
				return d.settings.TouchWaterNotification(userID, now)
			},
		})
	}
	return jobs, nil
}

func (d *Dispatcher) planSummary(subsByUser map[int64][]model.PushSubscription, now time.Time) ([]job, error) {
	userIDs := make([]int64, 0, len(subsByUser))
	for id := range subsByUser {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })

	var jobs []job
	for _, userID := range userIDs {
		j := job{userID: userID, subs: subsByUser[userID]}
		if d.ledger {
			j.ledgerRef = now.Format(model.DateLayout)
			sent, err := d.push.WasSent(userID, model.NotifTypeDailySummary, j.ledgerRef)
			if err != nil {
				return nil, err
			}
			if sent {
				continue
			}
		}
		payload, err := d.userSummary(userID, now)
		if err != nil {
			return nil, err
		}
		j.payload = payload
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// userSummary gathers the daily counters for one user. A missing profile
// falls back to the generic label and default goal.
func (d *Dispatcher) userSummary(userID int64, now time.Time) (Payload, error) {
	profile, err := d.profiles.Get(userID)
	if err != nil {
		return Payload{}, err
	}
	capsuleDays, err := d.profiles.CapsuleDays(userID)
	if err != nil {
		return Payload{}, err
	}
	waterML, err := d.profiles.WaterOnDay(userID, now.Format(model.DateLayout))
	if err != nil {
		return Payload{}, err
	}

	stats := model.DailyStats{
		CapsuleDays: capsuleDays,
		WaterML:     waterML,
		WaterGoalML: model.DefaultWaterGoalML,
	}
	if profile != nil {
		if profile.WaterGoalML > 0 {
			stats.WaterGoalML = profile.WaterGoalML
		}
		stats.TreatmentDay = TreatmentDay(profile.TreatmentStartDate, now)
	}
	return d.summaryMessage(FirstName(profile), stats, now), nil
}

func (d *Dispatcher) planIMC(subsByUser map[int64][]model.PushSubscription, now time.Time) ([]job, error) {
	progress, err := d.profiles.ListLatestProgress()
	if err != nil {
		return nil, err
	}

	var jobs []job
	for _, up := range progress {
		subs := subsByUser[up.UserID]
		if len(subs) == 0 {
			continue
		}
		due, err := IMCDue(up.LastEntry, now)
		if err != nil {
			d.logger.Debug("skip imc reminder", "user_id", up.UserID, "error", err)
			continue
		}
		if !due {
			continue
		}
		jobs = append(jobs, job{userID: up.UserID, subs: subs, payload: d.imcMessage(now)})
	}
	return jobs, nil
}

// deliver fans jobs out over a bounded pool. Delivery failures are counted,
// never returned; only store write failures are.
func (d *Dispatcher) deliver(ctx context.Context, notifType string, jobs []job, logger *slog.Logger) (Result, error) {
	var total int
	for _, j := range jobs {
		total += len(j.subs)
	}

	var sent, pruned atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(d.workers)

	for _, j := range jobs {
		g.Go(func() error {
			delivered := 0
			for i := range j.subs {
				sub := &j.subs[i]
				switch d.sendOne(ctx, notifType, sub, j.payload, logger) {
				case deliverySent:
					delivered++
					sent.Add(1)
				case deliveryGone:
					pruned.Add(1)
				}
			}
			if delivered == 0 {
				return nil
			}
			if j.ledgerRef != "" {
				if err := d.push.RecordSent(j.userID, notifType, j.ledgerRef); err != nil {
					return err
				}
			}
			if j.afterSent != nil {
				if err := j.afterSent(); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	return Result{Sent: int(sent.Load()), Total: total, Pruned: int(pruned.Load())}, err
}

type deliveryOutcome int

const (
	deliverySent deliveryOutcome = iota
	deliveryFailed
	deliveryGone
)

func (d *Dispatcher) sendOne(ctx context.Context, notifType string, sub *model.PushSubscription, payload Payload, logger *slog.Logger) deliveryOutcome {
	ctx, span := d.tracer.Start(ctx, "push.send", trace.WithAttributes(
		attribute.Int64("user.id", sub.UserID),
		attribute.Int64("subscription.id", sub.ID),
	))
	defer span.End()

	err := d.sender.Send(ctx, sub, payload)
	if err == nil {
		d.metrics.Delivery(notifType, "sent")
		return deliverySent
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "send")
	logger.Warn("push delivery failed", "user_id", sub.UserID, "subscription_id", sub.ID, "error", err)

	if !errors.Is(err, ErrGone) {
		d.metrics.Delivery(notifType, "failed")
		return deliveryFailed
	}

	d.metrics.Delivery(notifType, "gone")
	if err := d.push.DeleteByEndpoint(sub.Endpoint); err != nil {
		logger.Error("prune expired subscription", "user_id", sub.UserID, "error", err)
		return deliveryFailed
	}
	logger.Info("pruned expired subscription", "user_id", sub.UserID, "subscription_id", sub.ID)
	return deliveryGone
}
