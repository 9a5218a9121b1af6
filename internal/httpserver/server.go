// Package httpserver exposes the tenant configuration store over a JSON API.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/callanalyzer/tenantconfig/internal/auth"
	"github.com/callanalyzer/tenantconfig/internal/health"
	"github.com/callanalyzer/tenantconfig/internal/hooks"
	"github.com/callanalyzer/tenantconfig/internal/metrics"
	"github.com/callanalyzer/tenantconfig/internal/tenantcfg"
)

// DefaultRateLimit is the number of writes a user may make per minute.
const DefaultRateLimit = 120

// Config wires the server's collaborators.
type Config struct {
	Store        tenantcfg.Store
	Auth         *auth.Manager
	AuthDisabled bool
	Hooks        *hooks.Dispatcher
	Health       *health.Checker
	Logger       *zap.Logger
	// Location is the zone used for report date ranges.
	Location *time.Location
	// RateLimit caps writes per user per minute; 0 applies DefaultRateLimit
	// and a negative value disables limiting.
	RateLimit int
}

// Server exposes REST endpoints for the configuration store.
type Server struct {
	store        tenantcfg.Store
	auth         *auth.Manager
	authDisabled bool
	hooks        *hooks.Dispatcher
	health       *health.Checker
	logger       *zap.Logger
	loc          *time.Location
	rateLimit    int
	now          func() time.Time
}

// New constructs the HTTP server wrapper.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	limit := cfg.RateLimit
	if limit == 0 {
		limit = DefaultRateLimit
	}
	return &Server{
		store:        cfg.Store,
		auth:         cfg.Auth,
		authDisabled: cfg.AuthDisabled,
		hooks:        cfg.Hooks,
		health:       cfg.Health,
		logger:       logger.Named("http"),
		loc:          loc,
		rateLimit:    limit,
		now:          time.Now,
	}
}

// Router returns a configured chi router for embedding in HTTP servers.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/status", s.handleStatus)

		api.Group(func(priv chi.Router) {
			priv.Use(s.authenticate)

			priv.Get("/config", s.handleGetConfig)
			priv.Get("/stations", s.handleGetStations)
			priv.Get("/prompts", s.handleGetPrompts)
			priv.Get("/vocabulary", s.handleGetVocabulary)
			priv.Get("/script-prompt", s.handleGetScriptPrompt)
			priv.Get("/reports/schedules", s.handleListSchedules)
			priv.Get("/reports/schedules/{reportType}/range", s.handleScheduleRange)

			priv.Group(func(w chi.Router) {
				if s.rateLimit > 0 {
					w.Use(s.limitWrites(s.rateLimit, time.Minute))
				}
				w.Put("/config", s.handlePutConfig)
				w.Put("/stations", s.handlePutStations)
				w.Post("/stations", s.handleAddStation)
				w.Put("/prompts", s.handlePutPrompts)
				w.Put("/vocabulary", s.handlePutVocabulary)
				w.Put("/script-prompt", s.handlePutScriptPrompt)
				w.Put("/reports/schedules/{reportType}", s.handlePutSchedule)
				w.Delete("/reports/schedules/{reportType}", s.handleDeleteSchedule)
				w.Post("/reports/schedules/{reportType}/toggle", s.handleToggleSchedule)
			})
		})
	})
	return r
}

// update runs load, modify, save for one user and emits config.saved.
func (s *Server) update(ctx context.Context, userID int64, section string, modify func(*tenantcfg.Aggregate) error) (*tenantcfg.Aggregate, error) {
	agg, err := s.store.LoadConfig(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := modify(agg); err != nil {
		return nil, err
	}
	if err := s.store.SaveConfig(ctx, userID, *agg); err != nil {
		return nil, err
	}
	s.emit(ctx, hooks.EventConfigSaved, userID, map[string]any{"section": section})
	return s.store.LoadConfig(ctx, userID)
}

func (s *Server) emit(ctx context.Context, typ hooks.EventType, userID int64, metadata map[string]any) {
	if s.hooks == nil {
		return
	}
	evt := hooks.NewEvent(typ, userID, "api", metadata)
	if err := s.hooks.Emit(ctx, evt); err != nil {
		s.logger.Warn("hook delivery failed",
			zap.String("event", string(typ)), zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20))
	if err := dec.Decode(dst); err != nil {
		var inv *tenantcfg.InvalidConfigError
		if errors.As(err, &inv) {
			return err
		}
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}
