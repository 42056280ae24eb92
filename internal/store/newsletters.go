package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/newsletter-engine/internal/domain"
)

const newsletterColumns = `
	id, client_id, title, status, subject, preview_text,
	from_email, reply_to, html_content, provider, audience_tag,
	expected_send_date, scheduled_at, sent_at, send_date,
	open_change_requests, created_at, updated_at`

func scanNewsletter(row interface{ Scan(...interface{}) error }) (*domain.Newsletter, error) {
	var n domain.Newsletter
	var provider string
	err := row.Scan(
		&n.ID, &n.ClientID, &n.Title, &n.Status, &n.Subject, &n.PreviewText,
		&n.FromEmail, &n.ReplyTo, &n.HTMLContent, &provider, &n.AudienceTag,
		&n.ExpectedSendDate, &n.ScheduledAt, &n.SentAt, &n.SendDate,
		&n.OpenChangeRequests, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Provider = domain.ProviderType(provider)
	return &n, nil
}

// GetNewsletter returns one newsletter or ErrNewsletterNotFound.
func (s *Store) GetNewsletter(ctx context.Context, id string) (*domain.Newsletter, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+newsletterColumns+`
		FROM newsletters WHERE id = $1
	`, id)
	n, err := scanNewsletter(row)
	if err == sql.ErrNoRows {
		return nil, ErrNewsletterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get newsletter %s: %w", id, err)
	}
	return n, nil
}

// SaveLifecycle persists the fields the state machine mutates. Everything
// else on the newsletter belongs to the authoring flows.
func (s *Store) SaveLifecycle(ctx context.Context, n *domain.Newsletter) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE newsletters
		SET status = $2, scheduled_at = $3, sent_at = $4, send_date = $5, updated_at = NOW()
		WHERE id = $1
	`, n.ID, n.Status, n.ScheduledAt, n.SentAt, n.SendDate)
	if err != nil {
		return fmt.Errorf("save newsletter lifecycle %s: %w", n.ID, err)
	}
	if count, _ := res.RowsAffected(); count == 0 {
		return ErrNewsletterNotFound
	}
	return nil
}

// ListDueScheduled returns scheduled newsletters whose send time has
// elapsed, oldest first. limit bounds one cron batch.
func (s *Store) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Newsletter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+newsletterColumns+`
		FROM newsletters
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due newsletters: %w", err)
	}
	defer rows.Close()

	var due []domain.Newsletter
	for rows.Next() {
		n, err := scanNewsletter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due newsletter: %w", err)
		}
		due = append(due, *n)
	}
	return due, rows.Err()
}

// GetClient returns the sending facts for one client or ErrClientNotFound.
func (s *Store) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	var c domain.Client
	var defaultProvider string
	var enabled pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, domain, default_provider, enabled_providers, sender_verified
		FROM clients WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Domain, &defaultProvider, &enabled, &c.SenderVerified)
	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get client %s: %w", id, err)
	}

	c.DefaultProvider = domain.ProviderType(defaultProvider)
	for _, p := range enabled {
		if pt, ok := domain.ParseProvider(p); ok {
			c.EnabledProviders = append(c.EnabledProviders, pt)
		}
	}
	return &c, nil
}
