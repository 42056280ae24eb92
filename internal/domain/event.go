package domain

import (
	"encoding/json"
	"time"
)

// EventType classifies campaign log entries.
type EventType string

const (
	EventSendRequested      EventType = "send_requested"
	EventSendProcessing     EventType = "send_processing"
	EventSendCompleted      EventType = "send_completed"
	EventSendFailed         EventType = "send_failed"
	EventSendScheduled      EventType = "send_scheduled"
	EventSendRetryRequested EventType = "send_retry_requested"
	EventExportGenerated    EventType = "export_generated"
	EventTestSent           EventType = "test_sent"
	EventWebhookReceived    EventType = "webhook_received"
)

// CampaignEvent is one append-only audit record tied to a newsletter.
// Events are never mutated or deleted; the idempotency guard reads the
// send_* subset and analytics read everything.
type CampaignEvent struct {
	ID           string          `json:"id" db:"id"`
	NewsletterID string          `json:"newsletter_id" db:"newsletter_id"`
	Type         EventType       `json:"type" db:"type"`
	Payload      json.RawMessage `json:"payload" db:"payload"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// SendPayload is the structured payload carried by send_* events.
type SendPayload struct {
	IdempotencyKey string       `json:"idempotency_key,omitempty"`
	Provider       ProviderType `json:"provider,omitempty"`
	AudienceTag    string       `json:"audience_tag,omitempty"`
	Accepted       int          `json:"accepted,omitempty"`
	Failed         int          `json:"failed,omitempty"`
	Queued         int          `json:"queued,omitempty"`
	Error          string       `json:"error,omitempty"`
	ScheduledAt    *time.Time   `json:"scheduled_at,omitempty"`
	Source         string       `json:"source,omitempty"`
}

// WebhookPayload is the structured payload carried by webhook_received
// events. RecordType is the provider's raw type string; Kind is our
// normalized classification.
type WebhookPayload struct {
	Provider   string `json:"provider,omitempty"`
	RecordType string `json:"record_type"`
	Kind       string `json:"kind"`
	MessageID  string `json:"message_id,omitempty"`
	Recipient  string `json:"recipient,omitempty"`
	URL        string `json:"url,omitempty"`
}
