// Package events implements the append-only campaign event log. Events
// are the audit trail for every material send step and double as the
// idempotency guard's lookup source; they are never updated or deleted.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/newsletter-engine/internal/domain"
)

// Recorder appends and reads campaign events.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a campaign event recorder.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends one event. payload is marshalled to JSONB; a nil payload
// records an empty object.
func (r *Recorder) Record(ctx context.Context, newsletterID string, typ domain.EventType, payload interface{}) error {
	data := []byte("{}")
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", typ, err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_events (id, newsletter_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, uuid.New().String(), newsletterID, typ, data)
	if err != nil {
		return fmt.Errorf("record %s for %s: %w", typ, newsletterID, err)
	}
	return nil
}

// MustRecord appends one event and logs instead of failing. Audit logging
// must never abort the send path it is auditing.
func (r *Recorder) MustRecord(ctx context.Context, newsletterID string, typ domain.EventType, payload interface{}) {
	if err := r.Record(ctx, newsletterID, typ, payload); err != nil {
		log.Printf("[Events] Warning: failed to record %s for %s: %v", typ, newsletterID, err)
	}
}

// sendEventTypes is the subset the idempotency guard inspects.
var sendEventTypes = []string{
	string(domain.EventSendRequested),
	string(domain.EventSendProcessing),
	string(domain.EventSendCompleted),
	string(domain.EventSendFailed),
}

// LatestSendEventByKey returns the most recent send_* event carrying the
// given idempotency key, or nil when the key has never been seen.
func (r *Recorder) LatestSendEventByKey(ctx context.Context, newsletterID, key string) (*domain.CampaignEvent, error) {
	var e domain.CampaignEvent
	var payload []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, newsletter_id, type, payload, created_at
		FROM campaign_events
		WHERE newsletter_id = $1
		  AND type = ANY($2)
		  AND payload->>'idempotency_key' = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, newsletterID, pq.Array(sendEventTypes), key).Scan(
		&e.ID, &e.NewsletterID, &e.Type, &payload, &e.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup send event by key: %w", err)
	}
	e.Payload = json.RawMessage(payload)
	return &e, nil
}
