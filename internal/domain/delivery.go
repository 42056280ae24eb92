package domain

import "time"

// DeliveryStatus enumerates the lifecycle of a single recipient delivery.
type DeliveryStatus string

const (
	DeliveryQueued       DeliveryStatus = "queued"
	DeliverySent         DeliveryStatus = "sent"
	DeliveryFailed       DeliveryStatus = "failed"
	DeliveryBounced      DeliveryStatus = "bounced"
	DeliveryUnsubscribed DeliveryStatus = "unsubscribed"
)

// Delivery is one row per (newsletter, recipient) for one audience-tag
// generation. Rows are never deleted once a send has acted on them; only
// still-queued rows are wiped when the same tag is re-queued.
type Delivery struct {
	ID                string         `json:"id" db:"id"`
	NewsletterID      string         `json:"newsletter_id" db:"newsletter_id"`
	ClientID          string         `json:"client_id" db:"client_id"`
	ContactID         string         `json:"contact_id" db:"contact_id"`
	Email             string         `json:"email" db:"email"`
	AudienceTag       string         `json:"audience_tag" db:"audience_tag"`
	Status            DeliveryStatus `json:"status" db:"status"`
	ProviderMessageID string         `json:"provider_message_id" db:"provider_message_id"`
	LastError         string         `json:"last_error" db:"last_error"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// Retryable reports whether a delivery can be flipped back to queued.
func (d *Delivery) Retryable() bool {
	return d.Status == DeliveryFailed || d.Status == DeliveryBounced
}

// DeliveryCounts aggregates a newsletter's delivery rows by status. The
// status reconciler derives the newsletter's terminal state from it.
type DeliveryCounts struct {
	Queued       int `json:"queued"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	Bounced      int `json:"bounced"`
	Unsubscribed int `json:"unsubscribed"`
}

// Total returns the number of delivery rows across all statuses.
func (c DeliveryCounts) Total() int {
	return c.Queued + c.Sent + c.Failed + c.Bounced + c.Unsubscribed
}

// Contact is a member of a client's audience. Contact CRUD lives outside
// this engine; the audience resolver and webhook reconciler read and
// suppress contacts respectively.
type Contact struct {
	ID        string    `json:"id" db:"id"`
	ClientID  string    `json:"client_id" db:"client_id"`
	Email     string    `json:"email" db:"email"`
	FirstName string    `json:"first_name" db:"first_name"`
	LastName  string    `json:"last_name" db:"last_name"`
	Tags      []string  `json:"tags" db:"tags"`
	Active    bool      `json:"active" db:"active"`
	Archived  bool      `json:"archived" db:"archived"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SuppressedTag marks contacts removed from future audiences after a
// bounce, complaint, or unsubscribe.
const SuppressedTag = "suppressed"

// AudienceTagAll selects every active contact regardless of tags.
const AudienceTagAll = "all"
