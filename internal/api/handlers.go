package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/newsletter-engine/internal/domain"
	"github.com/ignite/newsletter-engine/internal/orchestrator"
)

// handlePreflight returns blockers, warnings, and canSend. The audience is
// only resolved (and the zero-recipients blocker armed) when the caller
// asks for it with a tag or resolve_audience=true.
func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := orchestrator.PreflightOptions{
		Tag:             q.Get("tag"),
		Provider:        q.Get("provider"),
		ResolveAudience: q.Get("tag") != "" || q.Get("resolve_audience") == "true",
	}

	result, err := s.engine.Preflight(r.Context(), chi.URLParam(r, "id"), opts)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result.Report)
}

// handleSendPreview is preflight plus the resolved send facts.
func (s *Server) handleSendPreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := s.engine.Preflight(r.Context(), chi.URLParam(r, "id"), orchestrator.PreflightOptions{
		Tag:             q.Get("tag"),
		Provider:        q.Get("provider"),
		ResolveAudience: true,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type scheduleBody struct {
	SendAt   *time.Time `json:"send_at"`
	Tag      string     `json:"tag"`
	Provider string     `json:"provider"`
	Timezone string     `json:"timezone"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	sendAt := body.SendAt
	if sendAt != nil && body.Timezone != "" {
		loc, err := time.LoadLocation(body.Timezone)
		if err != nil {
			respondError(w, http.StatusBadRequest, "unknown timezone "+body.Timezone)
			return
		}
		// the timestamp's wall-clock fields are taken as local time in the
		// requested zone; any offset the client sent is discarded
		t := time.Date(sendAt.Year(), sendAt.Month(), sendAt.Day(),
			sendAt.Hour(), sendAt.Minute(), sendAt.Second(), 0, loc)
		sendAt = &t
	}

	outcome, err := s.engine.Schedule(r.Context(), chi.URLParam(r, "id"), orchestrator.ScheduleRequest{
		SendAt:   sendAt,
		Tag:      body.Tag,
		Provider: body.Provider,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

type sendBody struct {
	Tag            string `json:"tag"`
	Provider       string `json:"provider"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if r.Body != nil {
		// an empty body is a plain send with defaults
		json.NewDecoder(r.Body).Decode(&body)
	}

	outcome, err := s.engine.Send(r.Context(), chi.URLParam(r, "id"), orchestrator.SendRequest{
		Tag:            body.Tag,
		Provider:       body.Provider,
		IdempotencyKey: body.IdempotencyKey,
		Source:         "api",
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	outcome, err := s.engine.RetryFailed(r.Context(), chi.URLParam(r, "id"), orchestrator.SendRequest{
		Tag:      body.Tag,
		Provider: body.Provider,
		Source:   "retry",
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if outcome.NoFailed {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"message":  "no failed recipients to retry",
			"requeued": 0,
		})
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

type sendTestBody struct {
	To       string `json:"to"`
	Provider string `json:"provider"`
}

func (s *Server) handleSendTest(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow(r.Context(), "send-test") {
		respondError(w, http.StatusTooManyRequests, "test send rate limit exceeded")
		return
	}

	var body sendTestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.To == "" {
		respondError(w, http.StatusBadRequest, "a destination address is required")
		return
	}

	result, err := s.engine.SendTest(r.Context(), chi.URLParam(r, "id"), body.To, body.Provider)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type statusBody struct {
	Status string `json:"status"`
}

func (s *Server) handleStatusPatch(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		respondError(w, http.StatusBadRequest, "a target status is required")
		return
	}

	n, err := s.engine.Transition(r.Context(), chi.URLParam(r, "id"), domain.NewsletterStatus(body.Status))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, n)
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.analytics.GetAnalytics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.analytics.GetTimeline(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"newsletter_id": chi.URLParam(r, "id"),
		"entries":       entries,
	})
}
