package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/dukerupert/nudge/internal/auth"
	"github.com/dukerupert/nudge/internal/config"
	"github.com/dukerupert/nudge/internal/database"
	"github.com/dukerupert/nudge/internal/diagnostics"
	"github.com/dukerupert/nudge/internal/handler"
	"github.com/dukerupert/nudge/internal/middleware"
	"github.com/dukerupert/nudge/internal/obs"
	"github.com/dukerupert/nudge/internal/push"
	"github.com/dukerupert/nudge/internal/registry"
	"github.com/dukerupert/nudge/internal/store"
	ws "github.com/dukerupert/nudge/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Server struct {
	db           *sql.DB
	cfg          *config.Config
	hub          *ws.Hub
	dispatchH    *handler.DispatchHandler
	pushH        *handler.PushHandler
	settingsH    *handler.SettingsHandler
	diagnosticsH *handler.DiagnosticsHandler
	verifier     *auth.Verifier
	pushStore    *store.PushStore
	registry     *registry.Registry
	dispatcher   *push.Dispatcher
	scheduler    *push.Scheduler
	rateLimiter  *middleware.RateLimiter
	metrics      *prometheus.Registry
	logger       *slog.Logger
}

// New wires stores, the push pipeline and the HTTP handlers. rdb may be nil,
// in which case invocations of the same type are not serialised across instances.
func New(db *sql.DB, cfg *config.Config, rdb *redis.Client, logger *slog.Logger) (*Server, error) {
	loc, err := cfg.Schedule.Location()
	if err != nil {
		return nil, err
	}

	pushSt := store.NewPushStore(db)
	settingsSt := store.NewSettingsStore(db)
	profileSt := store.NewProfileStore(db)

	pushSvc, err := push.NewService(push.Config{
		VAPIDPublicKey:  cfg.VAPID.PublicKey,
		VAPIDPrivateKey: cfg.VAPID.PrivateKey,
		Subject:         cfg.VAPID.Subject,
		Mode:            push.Mode(cfg.Push.Mode),
		Timeout:         cfg.Push.HTTPTimeout,
		SendRate:        cfg.Push.SendRate,
	})
	if err != nil {
		return nil, fmt.Errorf("push service: %w", err)
	}

	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pushLogger := logger.With("component", "push")
	opts := push.Options{
		Location:       loc,
		Workers:        cfg.Push.Workers,
		Icon:           cfg.Push.Icon,
		CampaignLedger: cfg.Push.CampaignLedger,
		Metrics:        obs.NewMetrics(metricsReg),
		Logger:         pushLogger,
	}
	if rdb != nil {
		opts.Guard = push.NewRedisGuard(rdb, cfg.Redis.LockTTL, logger.With("component", "guard"))
	}
	dispatcher := push.NewDispatcher(pushSvc, pushSt, settingsSt, profileSt, opts)

	var sched *push.Scheduler
	if cfg.Schedule.Enabled {
		sched, err = push.NewScheduler(dispatcher, pushSt, loc, push.ScheduleConfig{
			Tick:      cfg.Schedule.Tick,
			JourneyAt: cfg.Schedule.JourneyAt,
			SummaryAt: cfg.Schedule.SummaryAt,
			IMCAt:     cfg.Schedule.IMCAt,
		}, logger.With("component", "scheduler"))
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
	}

	hub := ws.NewHub(logger.With("component", "websocket"))
	reg := registry.New(pushSt, cfg.VAPID.PublicKey, logger.With("component", "registry"))
	diag := diagnostics.New(reg, dispatcher, hub, logger.With("component", "diagnostics"))

	return &Server{
		db:           db,
		cfg:          cfg,
		hub:          hub,
		dispatchH:    handler.NewDispatchHandler(dispatcher, logger.With("component", "dispatch")),
		pushH:        handler.NewPushHandler(reg, logger.With("component", "push_handler")),
		settingsH:    handler.NewSettingsHandler(settingsSt, logger.With("component", "settings")),
		diagnosticsH: handler.NewDiagnosticsHandler(diag, logger.With("component", "diagnostics_handler")),
		verifier:     auth.NewVerifier(cfg.Auth.JWTSecret),
		pushStore:    pushSt,
		registry:     reg,
		dispatcher:   dispatcher,
		scheduler:    sched,
		rateLimiter:  middleware.NewRateLimiter(),
		metrics:      metricsReg,
		logger:       logger,
	}, nil
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// PushScheduler returns the in-process trigger, or nil when scheduling is disabled.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.scheduler
}

// PushStore returns the push store for ledger cleanup.
func (s *Server) PushStore() *store.PushStore {
	return s.pushStore
}

// Registry returns the subscription registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	outerMux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)

	// Trigger route, guarded by the shared secret instead of a user token
	trigger := middleware.RequireTriggerSecret(s.cfg.Trigger.Secret)
	outerMux.Handle("POST /api/notifications/dispatch", trigger(http.HandlerFunc(s.dispatchH.Dispatch)))

	// User routes
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	requireUser := middleware.RequireUser(s.verifier, s.logger.With("component", "auth"))
	outerMux.Handle("/", requireUser(protectedMux))

	var h http.Handler = middleware.CORS(s.cfg.HTTP.CORSOrigins)(outerMux)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	if s.cfg.OTEL.Enable {
		h = otelhttp.NewHandler(h, "http.server")
	}
	return h
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := database.Healthy(r.Context(), s.db); err != nil {
		s.logger.Error("health check", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.UserOrIPKey, s.cfg.Diagnostics.RateLimit, s.cfg.Diagnostics.RateWindow)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(h).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Subscription registry
	mux.HandleFunc("GET /api/push/subscription", s.pushH.GetSubscription)
	mux.HandleFunc("PUT /api/push/subscription", s.pushH.PutSubscription)
	mux.HandleFunc("DELETE /api/push/subscription", s.pushH.DeleteSubscription)
	mux.HandleFunc("POST /api/push/subscription/recreate", s.pushH.RecreateSubscription)

	// Preferences
	mux.HandleFunc("GET /api/push/settings", s.settingsH.Get)
	mux.HandleFunc("PUT /api/push/settings", s.settingsH.Update)

	// Diagnostics
	mux.HandleFunc("POST /api/push/diagnostics", s.diagnosticsH.Diagnose)
	mux.HandleFunc("POST /api/push/diagnostics/actions", s.rateLimitedHandler(s.diagnosticsH.Execute))

	// WebSocket
	mux.HandleFunc("GET /ws/diagnostics", ws.HandleWebSocket(s.hub, originPatterns(s.cfg.HTTP.CORSOrigins), s.logger.With("component", "websocket")))
}

// originPatterns turns CORS origins into the host patterns the websocket
// handshake checks against.
func originPatterns(origins []string) []string {
	var out []string
	for _, o := range origins {
		if o == "*" {
			out = append(out, "*")
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}
