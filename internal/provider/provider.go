// Package provider implements the delivery backends. Three adapters share
// one result contract: Postmark (transactional batch API), Mailchimp
// (campaign API), and HTML export (no network send). Dispatch over the
// provider enum happens once, in the registry; adapters never inspect
// provider strings again.
package provider

import (
	"context"
	"fmt"

	"github.com/ignite/newsletter-engine/internal/domain"
)

// Recipient is one queued delivery joined with the contact fields the
// adapters personalize with.
type Recipient struct {
	DeliveryID string
	ContactID  string
	Email      string
	FirstName  string
	LastName   string
}

// RecipientResult is the per-recipient outcome of a send attempt.
type RecipientResult struct {
	DeliveryID string `json:"delivery_id"`
	Email      string `json:"email"`
	MessageID  string `json:"message_id,omitempty"`
	Accepted   bool   `json:"accepted"`
	Error      string `json:"error,omitempty"`
}

// Result is the uniform outcome contract across all adapters.
//
// BatchSent reports that the provider confirmed delivery of the whole
// batch synchronously. Postmark leaves it false: accepted rows stay queued
// until delivery webhooks confirm them. Mailchimp and export set it true.
type Result struct {
	Provider   domain.ProviderType `json:"provider"`
	Accepted   int                 `json:"accepted"`
	Failed     int                 `json:"failed"`
	Recipients []RecipientResult   `json:"recipients,omitempty"`
	BatchSent  bool                `json:"batch_sent"`
	CampaignID string              `json:"campaign_id,omitempty"`
	HTML       string              `json:"html,omitempty"`
	ExportURL  string              `json:"export_url,omitempty"`
}

// Sender delivers one newsletter to a resolved recipient batch.
type Sender interface {
	Type() domain.ProviderType
	Send(ctx context.Context, n *domain.Newsletter, recipients []Recipient) (*Result, error)
}

// TestSender sends a single personalized message outside the delivery
// queue. Adapters without single-message semantics don't implement it.
type TestSender interface {
	SendTest(ctx context.Context, n *domain.Newsletter, to Recipient) (*Result, error)
}

// Registry holds the configured adapters keyed by provider type.
type Registry struct {
	senders map[domain.ProviderType]Sender
}

// NewRegistry builds a registry from the given adapters. Nil entries are
// skipped so an unconfigured provider is simply absent.
func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: make(map[domain.ProviderType]Sender)}
	for _, s := range senders {
		if s != nil {
			r.senders[s.Type()] = s
		}
	}
	return r
}

// Get returns the adapter for p.
func (r *Registry) Get(p domain.ProviderType) (Sender, error) {
	s, ok := r.senders[p]
	if !ok {
		return nil, fmt.Errorf("provider %s is not configured", p)
	}
	return s, nil
}

// Tester returns an adapter capable of single-message test sends for p,
// falling back to any configured TestSender when p itself has none.
func (r *Registry) Tester(p domain.ProviderType) (TestSender, error) {
	if s, ok := r.senders[p]; ok {
		if ts, ok := s.(TestSender); ok {
			return ts, nil
		}
	}
	for _, s := range r.senders {
		if ts, ok := s.(TestSender); ok {
			return ts, nil
		}
	}
	return nil, fmt.Errorf("no provider capable of test sends is configured")
}

// ResolveType applies the selection precedence: explicit request value,
// then the newsletter's stored provider, then the client's default, then
// the engine default. A resolved provider the client has not enabled falls
// back to the client default (matching the QA warning for it).
func ResolveType(requested string, n *domain.Newsletter, c *domain.Client, engineDefault string) domain.ProviderType {
	pick := func() domain.ProviderType {
		if p, ok := domain.ParseProvider(requested); ok {
			return p
		}
		if n != nil && n.Provider != "" {
			return n.Provider
		}
		if c != nil && c.DefaultProvider != "" {
			return c.DefaultProvider
		}
		if p, ok := domain.ParseProvider(engineDefault); ok {
			return p
		}
		return domain.ProviderPostmark
	}

	p := pick()
	if c != nil && len(c.EnabledProviders) > 0 && !c.ProviderEnabled(p) {
		if c.DefaultProvider != "" && c.ProviderEnabled(c.DefaultProvider) {
			return c.DefaultProvider
		}
		return c.EnabledProviders[0]
	}
	return p
}
