// Package diagnostics compares what a browser reports about its push setup
// with what the registry holds for the same user, and runs the repair
// actions a support page offers.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/nudge/internal/model"
	"github.com/dukerupert/nudge/internal/push"
	"github.com/dukerupert/nudge/internal/registry"
	"github.com/dukerupert/nudge/internal/websocket"
)

var (
	ErrUnknownAction       = errors.New("unknown diagnostics action")
	ErrMissingSubscription = errors.New("action requires a client subscription")
	ErrInvalidReport       = errors.New("invalid client report")
)

// Permission is the browser's notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

func (p Permission) Valid() bool {
	return p == PermissionDefault || p == PermissionGranted || p == PermissionDenied
}

// CanPrompt is true only for "default". A denial stays terminal until the
// user resets it in the browser.
func (p Permission) CanPrompt() bool {
	return p == PermissionDefault
}

// ClientReport is the browser's view, collected by the client shell.
type ClientReport struct {
	ServiceWorkerSupported bool                   `json:"service_worker_supported"`
	PushManagerSupported   bool                   `json:"push_manager_supported"`
	NotificationSupported  bool                   `json:"notification_supported"`
	WorkerRegistered       bool                   `json:"worker_registered"`
	WorkerActive           bool                   `json:"worker_active"`
	Permission             Permission             `json:"permission"`
	Subscription           *registry.Subscription `json:"subscription,omitempty"`
	// ApplicationServerKey is the VAPID key the browser subscription was created with, when known.
	ApplicationServerKey string `json:"application_server_key,omitempty"`
}

// Supported reports whether the browser can receive push at all.
func (r ClientReport) Supported() bool {
	return r.ServiceWorkerSupported && r.PushManagerSupported && r.NotificationSupported
}

func (r ClientReport) Validate() error {
	if !r.Permission.Valid() {
		return fmt.Errorf("%w: permission %q", ErrInvalidReport, r.Permission)
	}
	return nil
}

// Drift classifies the client and server subscriptions against each other.
type Drift string

const (
	Synchronized Drift = "synchronized"
	ClientOnly   Drift = "client_only"
	ServerOnly   Drift = "server_only"
	Absent       Drift = "absent"
	// Mismatched means both sides hold a subscription but for different endpoints.
	Mismatched Drift = "mismatched"
)

func Classify(client *registry.Subscription, server *model.PushSubscription) Drift {
	switch {
	case client == nil && server == nil:
		return Absent
	case server == nil:
		return ClientOnly
	case client == nil:
		return ServerOnly
	case client.Endpoint == server.Endpoint:
		return Synchronized
	default:
		return Mismatched
	}
}

// Action is one repair step. Server actions run here; client actions are
// handed back to the browser as instructions.
type Action string

const (
	ActionDeleteSubscription   Action = "delete_subscription"
	ActionSaveSubscription     Action = "save_subscription"
	ActionRecreateSubscription Action = "recreate_subscription"
	ActionSendTest             Action = "send_test"

	ActionRegisterWorker            Action = "register_worker"
	ActionUpdateWorker              Action = "update_worker"
	ActionUnregisterWorker          Action = "unregister_worker"
	ActionRequestPermission         Action = "request_permission"
	ActionCreateBrowserSubscription Action = "create_browser_subscription"
)

var clientInstructions = map[Action]string{
	ActionRegisterWorker:            "register the service worker",
	ActionUpdateWorker:              "update the service worker registration",
	ActionUnregisterWorker:          "unregister the service worker",
	ActionRequestPermission:         "request notification permission",
	ActionCreateBrowserSubscription: "subscribe the push manager with the current VAPID key",
}

// ServerSide reports whether the action is executed by this service.
func (a Action) ServerSide() bool {
	switch a {
	case ActionDeleteSubscription, ActionSaveSubscription, ActionRecreateSubscription, ActionSendTest:
		return true
	}
	return false
}

func (a Action) Valid() bool {
	_, client := clientInstructions[a]
	return client || a.ServerSide()
}

// Step is one suggested action with the reason it was suggested.
type Step struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
	Client bool   `json:"client"`
}

func step(a Action, reason string) Step {
	return Step{Action: a, Reason: reason, Client: !a.ServerSide()}
}

// Plan suggests the steps that bring the two sides back in sync.
func Plan(report ClientReport, drift Drift, staleKey bool) []Step {
	if !report.Supported() {
		return nil
	}

	var steps []Step
	if !report.WorkerRegistered {
		steps = append(steps, step(ActionRegisterWorker, "no service worker registered"))
	} else if !report.WorkerActive {
		steps = append(steps, step(ActionUpdateWorker, "service worker registered but not active"))
	}

	switch report.Permission {
	case PermissionDenied:
		if drift == ServerOnly || drift == Mismatched {
			steps = append(steps, step(ActionDeleteSubscription, "permission denied, stored subscription cannot receive"))
		}
		return steps
	case PermissionDefault:
		steps = append(steps, step(ActionRequestPermission, "permission not yet requested"))
	}

	switch drift {
	case Absent, ServerOnly:
		steps = append(steps,
			step(ActionCreateBrowserSubscription, "browser holds no subscription"),
			step(ActionSaveSubscription, "store the new subscription"))
	case ClientOnly:
		steps = append(steps, step(ActionSaveSubscription, "server holds no subscription"))
	case Mismatched:
		steps = append(steps, step(ActionSaveSubscription, "server holds a different endpoint"))
	case Synchronized:
		if staleKey {
			steps = append(steps,
				step(ActionCreateBrowserSubscription, "subscription was created with a rotated VAPID key"),
				step(ActionRecreateSubscription, "replace the stored subscription"))
		}
	}
	return steps
}

// Snapshot is the side-by-side comparison returned to the page.
type Snapshot struct {
	UserID          int64                   `json:"user_id"`
	Client          ClientReport            `json:"client"`
	Server          *model.PushSubscription `json:"server"`
	Drift           Drift                   `json:"drift"`
	StaleKey        bool                    `json:"stale_key"`
	CurrentVAPIDKey string                  `json:"current_vapid_key"`
	CanPrompt       bool                    `json:"can_prompt"`
	Plan            []Step                  `json:"plan"`
	CheckedAt       time.Time               `json:"checked_at"`
}

// Tester sends a one-off notification of a given type to one user.
type Tester interface {
	SendTest(ctx context.Context, userID int64, notifType string) (push.Result, error)
}

// Publisher receives every snapshot produced by an executed action.
type Publisher interface {
	SendToUser(msg websocket.Message)
}

type Service struct {
	registry  *registry.Registry
	tester    Tester
	publisher Publisher
	now       func() time.Time
	logger    *slog.Logger
}

// New creates the reconciler. publisher may be nil.
func New(reg *registry.Registry, tester Tester, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		registry:  reg,
		tester:    tester,
		publisher: publisher,
		now:       time.Now,
		logger:    logger,
	}
}

// Diagnose compares report with the registry row for userID.
func (s *Service) Diagnose(userID int64, report ClientReport) (Snapshot, error) {
	if err := report.Validate(); err != nil {
		return Snapshot{}, err
	}
	server, err := s.registry.Current(userID)
	if err != nil {
		return Snapshot{}, err
	}

	current := s.registry.VAPIDKey()
	stale := s.registry.Stale(server) ||
		(report.ApplicationServerKey != "" && report.ApplicationServerKey != current)
	drift := Classify(report.Subscription, server)

	return Snapshot{
		UserID:          userID,
		Client:          report,
		Server:          server,
		Drift:           drift,
		StaleKey:        stale,
		CurrentVAPIDKey: current,
		CanPrompt:       report.Permission.CanPrompt(),
		Plan:            Plan(report, drift, stale),
		CheckedAt:       s.now().UTC(),
	}, nil
}

// ActionRequest asks for one action. Subscription is the browser's current
// subscription for save/recreate; Type selects the message for send_test.
type ActionRequest struct {
	Action       Action                 `json:"action"`
	Type         string                 `json:"type,omitempty"`
	Subscription *registry.Subscription `json:"subscription,omitempty"`
	Report       ClientReport           `json:"report"`
}

// Outcome is the result of Execute. Snapshot is the comparison re-run after
// the action.
type Outcome struct {
	Action      Action                  `json:"action"`
	Executed    bool                    `json:"executed"`
	Instruction string                  `json:"instruction,omitempty"`
	Result      *push.Result            `json:"result,omitempty"`
	Previous    *model.PushSubscription `json:"previous,omitempty"`
	Snapshot    Snapshot                `json:"snapshot"`
}

// Execute runs a server action, or returns the instruction for a client
// action, then re-runs Diagnose. Executed actions publish the new snapshot.
func (s *Service) Execute(ctx context.Context, userID int64, req ActionRequest) (Outcome, error) {
	if !req.Action.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if err := req.Report.Validate(); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Action: req.Action}
	if !req.Action.ServerSide() {
		out.Instruction = clientInstructions[req.Action]
		snap, err := s.Diagnose(userID, req.Report)
		if err != nil {
			return Outcome{}, err
		}
		out.Snapshot = snap
		return out, nil
	}

	sub := req.Subscription
	if sub == nil {
		sub = req.Report.Subscription
	}

	switch req.Action {
	case ActionDeleteSubscription:
		if _, err := s.registry.Delete(userID); err != nil {
			return Outcome{}, err
		}
	case ActionSaveSubscription:
		if sub == nil {
			return Outcome{}, ErrMissingSubscription
		}
		if _, err := s.registry.Replace(userID, *sub); err != nil {
			return Outcome{}, err
		}
	case ActionRecreateSubscription:
		if sub == nil {
			return Outcome{}, ErrMissingSubscription
		}
		previous, _, err := s.registry.Recreate(userID, *sub)
		if err != nil {
			return Outcome{}, err
		}
		out.Previous = previous
	case ActionSendTest:
		res, err := s.tester.SendTest(ctx, userID, req.Type)
		if err != nil {
			return Outcome{}, err
		}
		out.Result = &res
	}
	out.Executed = true

	report := req.Report
	if req.Action == ActionSaveSubscription || req.Action == ActionRecreateSubscription {
		report.Subscription = sub
		report.ApplicationServerKey = ""
	}
	snap, err := s.Diagnose(userID, report)
	if err != nil {
		return Outcome{}, err
	}
	out.Snapshot = snap

	s.logger.Info("diagnostics action executed", "user_id", userID, "action", req.Action, "drift", snap.Drift)
	if s.publisher != nil {
		s.publisher.SendToUser(websocket.NewMessage("diagnostics", string(req.Action), userID, snap))
	}
	return out, nil
}
