// Package webhook ingests provider-pushed delivery events and reconciles
// them onto delivery rows and contact suppression state. Authentication
// happens at the HTTP layer; everything here assumes an authenticated
// payload. Unattributable events are dropped without error so the caller
// can ack 200 and stop provider retry storms.
package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/ignite/newsletter-engine/internal/domain"
	"github.com/ignite/newsletter-engine/internal/pkg/logger"
)

// EventKind is the closed classification of provider event types.
type EventKind string

const (
	KindDelivery    EventKind = "delivery"
	KindOpen        EventKind = "open"
	KindClick       EventKind = "click"
	KindBounce      EventKind = "bounce"
	KindComplaint   EventKind = "complaint"
	KindUnsubscribe EventKind = "unsubscribe"
	KindUnknown     EventKind = "unknown"
)

// NormalizeKind maps a provider's free-text record type onto the closed
// kind set. Unrecognized types classify as unknown rather than erroring:
// providers add event types without warning.
func NormalizeKind(recordType string) EventKind {
	switch strings.ToLower(strings.TrimSpace(recordType)) {
	case "delivery", "delivered", "send", "sent":
		return KindDelivery
	case "open", "opened", "unique_open":
		return KindOpen
	case "click", "clicked":
		return KindClick
	case "bounce", "bounced", "hard_bounce", "soft_bounce", "hardbounce", "softbounce":
		return KindBounce
	case "spamcomplaint", "spam_complaint", "complaint", "complained", "abuse":
		return KindComplaint
	case "subscriptionchange", "subscription_change", "unsubscribe", "unsubscribed", "unsub":
		return KindUnsubscribe
	}
	return KindUnknown
}

// Event is the inbound payload envelope. Field pairs tolerate both our
// canonical snake_case and Postmark's PascalCase on the wire.
type Event struct {
	Provider   string `json:"provider,omitempty"`
	RecordType string `json:"record_type,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Recipient  string `json:"recipient,omitempty"`
	URL        string `json:"url,omitempty"`

	PMRecordType string `json:"RecordType,omitempty"`
	PMMessageID  string `json:"MessageID,omitempty"`
	PMRecipient  string `json:"Recipient,omitempty"`
	PMEmail      string `json:"Email,omitempty"`
	PMLink       string `json:"OriginalLink,omitempty"`

	MCType  string `json:"type,omitempty"`
	MCEmail string `json:"email,omitempty"`
}

func (e *Event) recordType() string {
	if e.RecordType != "" {
		return e.RecordType
	}
	if e.PMRecordType != "" {
		return e.PMRecordType
	}
	return e.MCType
}

func (e *Event) messageID() string {
	if e.MessageID != "" {
		return e.MessageID
	}
	return e.PMMessageID
}

func (e *Event) recipient() string {
	for _, v := range []string{e.Recipient, e.PMRecipient, e.PMEmail, e.MCEmail} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (e *Event) url() string {
	if e.URL != "" {
		return e.URL
	}
	return e.PMLink
}

// EventRecorder appends campaign events.
type EventRecorder interface {
	MustRecord(ctx context.Context, newsletterID string, typ domain.EventType, payload interface{})
}

// StatusReconciler re-derives newsletter status after delivery rows moved.
type StatusReconciler interface {
	ReconcileStatus(ctx context.Context, newsletterID string) error
}

// Outcome reports what one webhook event did.
type Outcome struct {
	Attributed   bool      `json:"attributed"`
	Kind         EventKind `json:"kind"`
	NewsletterID string    `json:"newsletter_id,omitempty"`
	Updated      int       `json:"updated"`
	Suppressed   bool      `json:"suppressed"`
}

// Reconciler applies provider events to delivery rows.
type Reconciler struct {
	db       *sql.DB
	events   EventRecorder
	status   StatusReconciler
	statusUp map[EventKind]domain.DeliveryStatus
}

// NewReconciler creates a webhook reconciler. status may be nil in tests.
func NewReconciler(db *sql.DB, events EventRecorder, status StatusReconciler) *Reconciler {
	return &Reconciler{
		db:     db,
		events: events,
		status: status,
		statusUp: map[EventKind]domain.DeliveryStatus{
			KindDelivery:    domain.DeliverySent,
			KindBounce:      domain.DeliveryBounced,
			KindComplaint:   domain.DeliveryUnsubscribed,
			KindUnsubscribe: domain.DeliveryUnsubscribed,
		},
	}
}

// Process parses and applies one provider event. Returns an Outcome for
// the HTTP layer; errors are reserved for our own storage failing, never
// for bad input.
func (r *Reconciler) Process(ctx context.Context, raw []byte) (*Outcome, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		log.Printf("[Webhook] Dropping unparseable payload: %v", err)
		return &Outcome{Attributed: false, Kind: KindUnknown}, nil
	}

	kind := NormalizeKind(e.recordType())
	messageID := e.messageID()
	if messageID == "" {
		log.Printf("[Webhook] Dropping %s event without message id", kind)
		return &Outcome{Attributed: false, Kind: kind}, nil
	}

	deliveries, err := r.findDeliveries(ctx, messageID, e.recipient())
	if err != nil {
		return nil, err
	}
	if len(deliveries) == 0 {
		log.Printf("[Webhook] No delivery matches message %s (%s), dropping", messageID, kind)
		return &Outcome{Attributed: false, Kind: kind}, nil
	}

	outcome := &Outcome{
		Attributed:   true,
		Kind:         kind,
		NewsletterID: deliveries[0].NewsletterID,
	}

	if next, ok := r.statusUp[kind]; ok {
		for _, d := range deliveries {
			updated, err := r.applyStatus(ctx, d, next, e.recordType())
			if err != nil {
				return nil, err
			}
			if updated {
				outcome.Updated++
			}
		}
	}

	if kind == KindBounce || kind == KindComplaint || kind == KindUnsubscribe {
		if err := r.suppressContact(ctx, deliveries[0].ContactID); err != nil {
			return nil, err
		}
		outcome.Suppressed = true
		log.Printf("[Webhook] Suppressed contact %s after %s (%s)",
			deliveries[0].ContactID, kind, logger.RedactEmail(deliveries[0].Email))
	}

	r.events.MustRecord(ctx, outcome.NewsletterID, domain.EventWebhookReceived, domain.WebhookPayload{
		Provider:   e.Provider,
		RecordType: e.recordType(),
		Kind:       string(kind),
		MessageID:  messageID,
		Recipient:  e.recipient(),
		URL:        e.url(),
	})

	if outcome.Updated > 0 && r.status != nil {
		if err := r.status.ReconcileStatus(ctx, outcome.NewsletterID); err != nil {
			log.Printf("[Webhook] Warning: status reconcile for %s failed: %v", outcome.NewsletterID, err)
		}
	}

	return outcome, nil
}

// findDeliveries matches rows by provider message id. A campaign-API
// message id covers every recipient of the campaign, so the recipient
// email narrows the match when present.
func (r *Reconciler) findDeliveries(ctx context.Context, messageID, recipient string) ([]domain.Delivery, error) {
	query := `
		SELECT id, newsletter_id, client_id, contact_id, email, audience_tag, status, provider_message_id, last_error, created_at, updated_at
		FROM deliveries
		WHERE provider_message_id = $1`
	args := []interface{}{messageID}
	if recipient != "" {
		query += ` AND LOWER(email) = LOWER($2)`
		args = append(args, recipient)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup deliveries for message %s: %w", messageID, err)
	}
	defer rows.Close()

	var deliveries []domain.Delivery
	for rows.Next() {
		var d domain.Delivery
		if err := rows.Scan(
			&d.ID, &d.NewsletterID, &d.ClientID, &d.ContactID, &d.Email,
			&d.AudienceTag, &d.Status, &d.ProviderMessageID, &d.LastError,
			&d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// applyStatus moves one delivery forward. Replays are idempotent on state:
// a delivery event never downgrades a bounced or unsubscribed row, and a
// row already at the target status is left alone.
func (r *Reconciler) applyStatus(ctx context.Context, d domain.Delivery, next domain.DeliveryStatus, reason string) (bool, error) {
	if d.Status == next {
		return false, nil
	}
	if next == domain.DeliverySent && d.Status != domain.DeliveryQueued {
		return false, nil
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, d.ID, next, reasonFor(next, reason), d.Status)
	if err != nil {
		return false, fmt.Errorf("update delivery %s to %s: %w", d.ID, next, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func reasonFor(next domain.DeliveryStatus, recordType string) string {
	if next == domain.DeliverySent {
		return ""
	}
	return recordType
}

// suppressContact removes a contact from future audiences: inactive plus
// the suppressed tag. Idempotent.
func (r *Reconciler) suppressContact(ctx context.Context, contactID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET active = false,
		    tags = CASE WHEN $2 = ANY(tags) THEN tags ELSE array_append(tags, $2) END
		WHERE id = $1
	`, contactID, domain.SuppressedTag)
	if err != nil {
		return fmt.Errorf("suppress contact %s: %w", contactID, err)
	}
	return nil
}
