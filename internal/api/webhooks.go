package api

import (
	"crypto/subtle"
	"io"
	"log"
	"net/http"
	"strings"
)

// maxWebhookBody bounds provider payloads; real events are a few KB.
const maxWebhookBody = 1 << 20

// secretMatch compares secrets in constant time.
func secretMatch(got, want string) bool {
	if want == "" || got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// handleWebhook ingests provider event payloads. The shared secret rides
// in a header or query parameter. Once authenticated the response is
// always 200: a non-2xx would make the provider retry a payload we have
// already decided to drop.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get("X-Webhook-Secret")
	if got == "" {
		got = r.URL.Query().Get("secret")
	}
	if !secretMatch(got, s.webhookSecret) {
		respondError(w, http.StatusUnauthorized, "invalid webhook secret")
		return
	}

	// no rate limiting here: every authenticated event carries a delivery
	// confirmation or suppression we cannot reconstruct later, so shedding
	// any of them would leave rows queued forever

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "dropped"})
		return
	}

	outcome, err := s.webhooks.Process(r.Context(), body)
	if err != nil {
		// our storage failed; the provider should retry this one
		log.Printf("[API] Webhook processing error: %v", err)
		respondError(w, http.StatusInternalServerError, "event processing failed")
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}

// handleCronDispatch triggers one due-newsletter dispatch run. The secret
// arrives as a bearer token or X-Cron-Secret header.
func (s *Server) handleCronDispatch(w http.ResponseWriter, r *http.Request) {
	got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if got == r.Header.Get("Authorization") {
		got = ""
	}
	if got == "" {
		got = r.Header.Get("X-Cron-Secret")
	}
	if !secretMatch(got, s.cronSecret) {
		respondError(w, http.StatusUnauthorized, "invalid cron secret")
		return
	}

	result, err := s.dispatcher.DispatchDue(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}
