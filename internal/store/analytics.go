package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/newsletter-engine/internal/domain"
)

// Analytics aggregates a newsletter's delivery rows and engagement events.
type Analytics struct {
	NewsletterID string                `json:"newsletter_id"`
	Deliveries   domain.DeliveryCounts `json:"deliveries"`
	UniqueOpens  int                   `json:"unique_opens"`
	UniqueClicks int                   `json:"unique_clicks"`
	TotalEvents  int                   `json:"total_events"`
}

// TimelineEntry is one chronological step for a newsletter: a lifecycle
// event or a per-recipient engagement record.
type TimelineEntry struct {
	At        time.Time        `json:"at"`
	Type      domain.EventType `json:"type"`
	Recipient string           `json:"recipient,omitempty"`
	Detail    json.RawMessage  `json:"detail,omitempty"`
}

// GetAnalytics computes delivery status counts and unique opens/clicks.
// Opens and clicks are deduplicated by provider message id so a replayed
// webhook never inflates the numbers.
func (s *Store) GetAnalytics(ctx context.Context, newsletterID string) (*Analytics, error) {
	a := &Analytics{NewsletterID: newsletterID}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM deliveries
		WHERE newsletter_id = $1
		GROUP BY status
	`, newsletterID)
	if err != nil {
		return nil, fmt.Errorf("delivery counts for %s: %w", newsletterID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan delivery count: %w", err)
		}
		switch domain.DeliveryStatus(status) {
		case domain.DeliveryQueued:
			a.Deliveries.Queued = count
		case domain.DeliverySent:
			a.Deliveries.Sent = count
		case domain.DeliveryFailed:
			a.Deliveries.Failed = count
		case domain.DeliveryBounced:
			a.Deliveries.Bounced = count
		case domain.DeliveryUnsubscribed:
			a.Deliveries.Unsubscribed = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(DISTINCT payload->>'message_id') FILTER (WHERE payload->>'kind' = 'open'),
			COUNT(DISTINCT payload->>'message_id') FILTER (WHERE payload->>'kind' = 'click'),
			COUNT(*)
		FROM campaign_events
		WHERE newsletter_id = $1 AND type = 'webhook_received'
	`, newsletterID).Scan(&a.UniqueOpens, &a.UniqueClicks, &a.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("engagement counts for %s: %w", newsletterID, err)
	}
	return a, nil
}

// GetTimeline returns campaign events in chronological order, newest last.
func (s *Store) GetTimeline(ctx context.Context, newsletterID string, limit int) ([]TimelineEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, COALESCE(payload->>'recipient', ''), payload, created_at
		FROM campaign_events
		WHERE newsletter_id = $1
		ORDER BY created_at ASC
		LIMIT $2
	`, newsletterID, limit)
	if err != nil {
		return nil, fmt.Errorf("timeline for %s: %w", newsletterID, err)
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		var payload []byte
		if err := rows.Scan(&e.Type, &e.Recipient, &payload, &e.At); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		e.Detail = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
