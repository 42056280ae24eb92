// Package audience resolves a (client, tag) pair into the concrete set of
// sendable contacts. Resolution always runs at send time: suppressions and
// archivals applied after scheduling must be honored, so nothing here is
// cached.
package audience

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/newsletter-engine/internal/domain"

	"github.com/lib/pq"
)

// Resolver loads active, non-archived, non-suppressed contacts by tag.
type Resolver struct {
	db *sql.DB
}

// NewResolver creates a resolver over the given database handle.
func NewResolver(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the sendable contacts for the tag. The "all" tag (and an
// empty tag, normalized to it) selects every active contact. Suppressed
// contacts are excluded both by the active flag and by tag, so a
// half-applied suppression still keeps the contact out.
func (r *Resolver) Resolve(ctx context.Context, clientID, tag string) ([]domain.Contact, error) {
	if tag == "" {
		tag = domain.AudienceTagAll
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, client_id, email, first_name, last_name, tags
		FROM contacts
		WHERE client_id = $1
		  AND active
		  AND NOT archived
		  AND NOT ($2 = ANY(tags))
		  AND ($3 = 'all' OR $3 = ANY(tags))
		ORDER BY email
	`, clientID, domain.SuppressedTag, tag)
	if err != nil {
		return nil, fmt.Errorf("resolve audience %q for client %s: %w", tag, clientID, err)
	}
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		var c domain.Contact
		var tags pq.StringArray
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Email, &c.FirstName, &c.LastName, &tags); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.Tags = tags
		c.Active = true
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ResolveByIDs loads specific contacts regardless of tag filtering. The
// retry path uses it: the failed rows already name their contacts, and a
// retry must not silently drop a recipient whose tags changed since.
func (r *Resolver) ResolveByIDs(ctx context.Context, ids []string) ([]domain.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, client_id, email, first_name, last_name, tags
		FROM contacts
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("resolve contacts by id: %w", err)
	}
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		var c domain.Contact
		var tags pq.StringArray
		if err := rows.Scan(&c.ID, &c.ClientID, &c.Email, &c.FirstName, &c.LastName, &tags); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.Tags = tags
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// Count returns the size of the audience without loading contact rows.
// The preflight endpoints use it so a 50k-recipient preview doesn't pull
// 50k rows.
func (r *Resolver) Count(ctx context.Context, clientID, tag string) (int, error) {
	if tag == "" {
		tag = domain.AudienceTagAll
	}
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM contacts
		WHERE client_id = $1
		  AND active
		  AND NOT archived
		  AND NOT ($2 = ANY(tags))
		  AND ($3 = 'all' OR $3 = ANY(tags))
	`, clientID, domain.SuppressedTag, tag).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audience %q for client %s: %w", tag, clientID, err)
	}
	return count, nil
}
