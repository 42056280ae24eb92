package domain

import (
	"time"
)

// NewsletterStatus enumerates the lifecycle states of a newsletter.
type NewsletterStatus string

const (
	StatusDraft            NewsletterStatus = "draft"
	StatusInReview         NewsletterStatus = "in_review"
	StatusChangesRequested NewsletterStatus = "changes_requested"
	StatusApproved         NewsletterStatus = "approved"
	StatusScheduled        NewsletterStatus = "scheduled"
	StatusSent             NewsletterStatus = "sent"
)

// ProviderType identifies the delivery backend for a newsletter.
// The set is closed; dispatch happens once at the API boundary.
type ProviderType string

const (
	ProviderPostmark   ProviderType = "postmark"
	ProviderMailchimp  ProviderType = "mailchimp"
	ProviderHTMLExport ProviderType = "html_export"
)

// ParseProvider maps a request/config string onto the closed provider set.
// Unknown values return false so callers can fall back to the default.
func ParseProvider(s string) (ProviderType, bool) {
	switch ProviderType(s) {
	case ProviderPostmark, ProviderMailchimp, ProviderHTMLExport:
		return ProviderType(s), true
	}
	return "", false
}

// Newsletter is the unit of send orchestration. Content authoring happens
// elsewhere; by the time a newsletter reaches this engine its subject,
// sender fields, and compiled HTML body are resolved.
type Newsletter struct {
	ID          string           `json:"id" db:"id"`
	ClientID    string           `json:"client_id" db:"client_id"`
	Title       string           `json:"title" db:"title"`
	Status      NewsletterStatus `json:"status" db:"status"`
	Subject     string           `json:"subject" db:"subject"`
	PreviewText string           `json:"preview_text" db:"preview_text"`
	FromEmail   string           `json:"from_email" db:"from_email"`
	ReplyTo     string           `json:"reply_to" db:"reply_to"`
	HTMLContent string           `json:"html_content" db:"html_content"`
	Provider    ProviderType     `json:"provider" db:"provider"`
	AudienceTag string           `json:"audience_tag" db:"audience_tag"`

	// ExpectedSendDate is the author-facing target date; Schedule falls
	// back to it when no explicit timestamp is supplied.
	ExpectedSendDate *time.Time `json:"expected_send_date" db:"expected_send_date"`

	ScheduledAt *time.Time `json:"scheduled_at" db:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at" db:"sent_at"`
	SendDate    *time.Time `json:"send_date" db:"send_date"`

	// OpenChangeRequests counts unresolved review comments. Maintained by
	// the external review flow; the QA gate only reads it.
	OpenChangeRequests int `json:"open_change_requests" db:"open_change_requests"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsSent reports whether the newsletter reached its terminal state.
func (n *Newsletter) IsSent() bool { return n.Status == StatusSent }

// Client holds the per-client facts the send engine needs: sending domain,
// provider enablement, and sender verification. Client CRUD is external.
type Client struct {
	ID               string         `json:"id" db:"id"`
	Name             string         `json:"name" db:"name"`
	Domain           string         `json:"domain" db:"domain"`
	DefaultProvider  ProviderType   `json:"default_provider" db:"default_provider"`
	EnabledProviders []ProviderType `json:"enabled_providers" db:"enabled_providers"`
	SenderVerified   bool           `json:"sender_verified" db:"sender_verified"`
}

// ProviderEnabled reports whether the client may send through p.
func (c *Client) ProviderEnabled(p ProviderType) bool {
	for _, e := range c.EnabledProviders {
		if e == p {
			return true
		}
	}
	return false
}

// SenderProfile is the ephemeral projection of sender facts used to gate a
// send. It is derived, never persisted on its own.
type SenderProfile struct {
	FromEmail    string `json:"from_email"`
	ReplyTo      string `json:"reply_to"`
	FromDomain   string `json:"from_domain"`
	ClientDomain string `json:"client_domain"`
	DomainMatch  bool   `json:"domain_match"`
	Verified     bool   `json:"verified"`
}
