// Package queue owns the delivery rows: the per-recipient units of send
// work. One live queued batch exists per (newsletter, audience tag);
// re-queuing wipes only still-queued rows, so rows a send already acted on
// survive for audit and retry.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ignite/newsletter-engine/internal/domain"
)

// Manager creates and mutates delivery rows.
type Manager struct {
	db *sql.DB
}

// NewManager creates a delivery queue manager.
func NewManager(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// Queue replaces the live queued batch for (newsletter, tag) with one row
// per recipient. Runs in a transaction so a failed insert never leaves the
// tag without its previous batch and without a new one.
func (m *Manager) Queue(ctx context.Context, n *domain.Newsletter, tag string, recipients []domain.Contact) ([]domain.Delivery, error) {
	if tag == "" {
		tag = domain.AudienceTagAll
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin queue tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM deliveries
		WHERE newsletter_id = $1 AND audience_tag = $2 AND status = 'queued'
	`, n.ID, tag); err != nil {
		return nil, fmt.Errorf("wipe queued rows for %s/%s: %w", n.ID, tag, err)
	}

	now := time.Now()
	deliveries := make([]domain.Delivery, 0, len(recipients))
	for _, c := range recipients {
		d := domain.Delivery{
			ID:           uuid.New().String(),
			NewsletterID: n.ID,
			ClientID:     n.ClientID,
			ContactID:    c.ID,
			Email:        c.Email,
			AudienceTag:  tag,
			Status:       domain.DeliveryQueued,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO deliveries (id, newsletter_id, client_id, contact_id, email, audience_tag, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, 'queued', $7, $7)
		`, d.ID, d.NewsletterID, d.ClientID, d.ContactID, d.Email, d.AudienceTag, now); err != nil {
			return nil, fmt.Errorf("insert delivery for %s: %w", c.ID, err)
		}
		deliveries = append(deliveries, d)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit queue tx: %w", err)
	}
	return deliveries, nil
}

// RequeueFailed flips failed and bounced rows for (newsletter, tag) back
// to queued in place. Additive: no wipe, accepted recipients are left
// alone. Returns the re-queued rows.
func (m *Manager) RequeueFailed(ctx context.Context, newsletterID, tag string) ([]domain.Delivery, error) {
	if tag == "" {
		tag = domain.AudienceTagAll
	}
	rows, err := m.db.QueryContext(ctx, `
		UPDATE deliveries
		SET status = 'queued', last_error = '', updated_at = NOW()
		WHERE newsletter_id = $1 AND audience_tag = $2 AND status = ANY($3)
		RETURNING id, newsletter_id, client_id, contact_id, email, audience_tag, status, provider_message_id, last_error, created_at, updated_at
	`, newsletterID, tag, pq.Array([]string{string(domain.DeliveryFailed), string(domain.DeliveryBounced)}))
	if err != nil {
		return nil, fmt.Errorf("requeue failed rows for %s/%s: %w", newsletterID, tag, err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// ListQueued returns the queued rows for (newsletter, tag), the batch a
// send attempt will hand to the provider adapter.
func (m *Manager) ListQueued(ctx context.Context, newsletterID, tag string) ([]domain.Delivery, error) {
	if tag == "" {
		tag = domain.AudienceTagAll
	}
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, newsletter_id, client_id, contact_id, email, audience_tag, status, provider_message_id, last_error, created_at, updated_at
		FROM deliveries
		WHERE newsletter_id = $1 AND audience_tag = $2 AND status = 'queued'
		ORDER BY email
	`, newsletterID, tag)
	if err != nil {
		return nil, fmt.Errorf("list queued for %s/%s: %w", newsletterID, tag, err)
	}
	defer rows.Close()
	return scanDeliveries(rows)
}

// MarkAccepted records the provider message id for a delivery the provider
// accepted. The row stays queued: the delivery webhook is what flips it to
// sent on the per-recipient feedback path.
func (m *Manager) MarkAccepted(ctx context.Context, deliveryID, providerMessageID string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE deliveries
		SET provider_message_id = $2, last_error = '', updated_at = NOW()
		WHERE id = $1
	`, deliveryID, providerMessageID)
	if err != nil {
		return fmt.Errorf("mark delivery %s accepted: %w", deliveryID, err)
	}
	return nil
}

// MarkFailed records a per-recipient provider failure.
func (m *Manager) MarkFailed(ctx context.Context, deliveryID, reason string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = 'failed', last_error = $2, updated_at = NOW()
		WHERE id = $1
	`, deliveryID, reason)
	if err != nil {
		return fmt.Errorf("mark delivery %s failed: %w", deliveryID, err)
	}
	return nil
}

// MarkBatchSent flips every queued row for (newsletter, tag) to sent. The
// campaign-API path uses it: there is no per-recipient feedback loop, so
// provider acceptance is the terminal signal.
func (m *Manager) MarkBatchSent(ctx context.Context, newsletterID, tag, providerMessageID string) (int, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = 'sent', provider_message_id = $3, updated_at = NOW()
		WHERE newsletter_id = $1 AND audience_tag = $2 AND status = 'queued'
	`, newsletterID, tag, providerMessageID)
	if err != nil {
		return 0, fmt.Errorf("mark batch sent for %s/%s: %w", newsletterID, tag, err)
	}
	count, _ := res.RowsAffected()
	return int(count), nil
}

// MarkBatchFailed flips every queued row for (newsletter, tag) to failed.
// Used when an all-or-nothing provider call fails: leaving the rows queued
// would park them forever with no webhook coming.
func (m *Manager) MarkBatchFailed(ctx context.Context, newsletterID, tag, reason string) (int, error) {
	res, err := m.db.ExecContext(ctx, `
		UPDATE deliveries
		SET status = 'failed', last_error = $3, updated_at = NOW()
		WHERE newsletter_id = $1 AND audience_tag = $2 AND status = 'queued'
	`, newsletterID, tag, reason)
	if err != nil {
		return 0, fmt.Errorf("mark batch failed for %s/%s: %w", newsletterID, tag, err)
	}
	count, _ := res.RowsAffected()
	return int(count), nil
}

// Counts aggregates a newsletter's delivery rows by status for the status
// reconciler.
func (m *Manager) Counts(ctx context.Context, newsletterID string) (domain.DeliveryCounts, error) {
	var c domain.DeliveryCounts
	err := m.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'queued'),
			COUNT(*) FILTER (WHERE status = 'sent'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			COUNT(*) FILTER (WHERE status = 'bounced'),
			COUNT(*) FILTER (WHERE status = 'unsubscribed')
		FROM deliveries
		WHERE newsletter_id = $1
	`, newsletterID).Scan(&c.Queued, &c.Sent, &c.Failed, &c.Bounced, &c.Unsubscribed)
	if err != nil {
		return c, fmt.Errorf("delivery counts for %s: %w", newsletterID, err)
	}
	return c, nil
}

func scanDeliveries(rows *sql.Rows) ([]domain.Delivery, error) {
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
