// Package api exposes the send engine over HTTP: preflight and preview,
// schedule/send/retry/test operations, webhook ingestion, cron dispatch,
// and read-only analytics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/newsletter-engine/internal/config"
	"github.com/ignite/newsletter-engine/internal/domain"
	"github.com/ignite/newsletter-engine/internal/orchestrator"
	"github.com/ignite/newsletter-engine/internal/pkg/ratelimit"
	"github.com/ignite/newsletter-engine/internal/provider"
	"github.com/ignite/newsletter-engine/internal/scheduler"
	"github.com/ignite/newsletter-engine/internal/store"
	"github.com/ignite/newsletter-engine/internal/webhook"
)

// Orchestrator is the slice of the send engine the handlers call.
type Orchestrator interface {
	Preflight(ctx context.Context, id string, opts orchestrator.PreflightOptions) (*orchestrator.PreflightResult, error)
	Send(ctx context.Context, id string, req orchestrator.SendRequest) (*orchestrator.SendOutcome, error)
	Schedule(ctx context.Context, id string, req orchestrator.ScheduleRequest) (*orchestrator.ScheduleOutcome, error)
	RetryFailed(ctx context.Context, id string, req orchestrator.SendRequest) (*orchestrator.RetryOutcome, error)
	SendTest(ctx context.Context, id, toEmail, providerParam string) (*provider.Result, error)
	Transition(ctx context.Context, id string, to domain.NewsletterStatus) (*domain.Newsletter, error)
}

// WebhookProcessor applies one provider event payload.
type WebhookProcessor interface {
	Process(ctx context.Context, raw []byte) (*webhook.Outcome, error)
}

// CronDispatcher runs one due-newsletter dispatch tick.
type CronDispatcher interface {
	DispatchDue(ctx context.Context) (*scheduler.RunResult, error)
}

// AnalyticsReader serves the read-only aggregation endpoints.
type AnalyticsReader interface {
	GetAnalytics(ctx context.Context, newsletterID string) (*store.Analytics, error)
	GetTimeline(ctx context.Context, newsletterID string, limit int) ([]store.TimelineEntry, error)
}

// Server is the HTTP front of the engine.
type Server struct {
	engine     Orchestrator
	webhooks   WebhookProcessor
	dispatcher CronDispatcher
	analytics  AnalyticsReader

	webhookSecret string
	cronSecret    string
	limiter       *ratelimit.Limiter

	handler http.Handler
	server  *http.Server
}

// NewServer wires the router.
func NewServer(cfg *config.Config, engine Orchestrator, webhooks WebhookProcessor,
	dispatcher CronDispatcher, analytics AnalyticsReader, limiter *ratelimit.Limiter) *Server {
	s := &Server{
		engine:        engine,
		webhooks:      webhooks,
		dispatcher:    dispatcher,
		analytics:     analytics,
		webhookSecret: cfg.Webhook.Secret,
		cronSecret:    cfg.Cron.Secret,
		limiter:       limiter,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	origins := []string{"*"}
	if cfg.Server.CORSOrigins != "" {
		origins = strings.Split(cfg.Server.CORSOrigins, ",")
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/newsletters/{id}", func(r chi.Router) {
			r.Get("/preflight", s.handlePreflight)
			r.Get("/send-preview", s.handleSendPreview)
			r.Post("/schedule", s.handleSchedule)
			r.Post("/send", s.handleSend)
			r.Post("/retry", s.handleRetry)
			r.Post("/send-test", s.handleSendTest)
			r.Patch("/status", s.handleStatusPatch)
			r.Get("/analytics", s.handleAnalytics)
			r.Get("/timeline", s.handleTimeline)
		})
		r.Post("/webhooks/email-events", s.handleWebhook)
		r.Get("/cron/dispatch-due", s.handleCronDispatch)
		r.Post("/cron/dispatch-due", s.handleCronDispatch)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.handler = r
	return s
}

// Handler returns the router for tests.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// synchronous sends to large audiences take a while
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// respondDomainError maps engine errors onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	var pfErr *orchestrator.PreflightError
	var transErr *domain.ErrInvalidTransition

	switch {
	case errors.Is(err, store.ErrNewsletterNotFound), errors.Is(err, store.ErrClientNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &pfErr):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":    "preflight blocked the action",
			"blockers": pfErr.Report.Blockers,
			"warnings": pfErr.Report.Warnings,
			"can_send": false,
		})
	case errors.As(err, &transErr):
		respondError(w, http.StatusUnprocessableEntity, transErr.Error())
	case errors.Is(err, orchestrator.ErrExportOnlyProvider):
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
