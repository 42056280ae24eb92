// Package idempotency computes send-attempt fingerprints and suppresses
// duplicate dispatch. The guard is a read over the campaign event log, not
// a database uniqueness constraint: two racing attempts can both pass the
// check in a narrow window. That trade-off is accepted; the key exists to
// stop retrying callers and overlapping cron ticks, not to provide hard
// exactly-once delivery.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ignite/newsletter-engine/internal/domain"
)

// EventLookup is the slice of the event recorder the guard needs.
type EventLookup interface {
	LatestSendEventByKey(ctx context.Context, newsletterID, key string) (*domain.CampaignEvent, error)
}

// Guard decides whether a send attempt under a key may proceed.
type Guard struct {
	events EventLookup
}

// NewGuard creates a guard over the given event log.
func NewGuard(events EventLookup) *Guard {
	return &Guard{events: events}
}

// KeyFor computes the deterministic fingerprint of a send attempt. Subject
// and from-address are normalized (trimmed, lower-cased) so cosmetic edits
// don't mint a fresh key.
func KeyFor(newsletterID, tag string, provider domain.ProviderType, subject, fromEmail string) string {
	if tag == "" {
		tag = domain.AudienceTagAll
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s",
		newsletterID,
		tag,
		provider,
		strings.ToLower(strings.TrimSpace(subject)),
		strings.ToLower(strings.TrimSpace(fromEmail)),
	)
	return "snd-" + hex.EncodeToString(h.Sum(nil))[:32]
}

// CronKey mints a key unique to one cron run and newsletter. Cron attempts
// deliberately do not share keys with manual sends: the cron path relies
// on the scheduled-status check for dedup and must not be blocked by an
// old manual attempt's key.
func CronKey(runID, newsletterID string) string {
	return fmt.Sprintf("cron-%s-%s", runID, newsletterID)
}

// NewRunID returns a fresh identifier for one cron dispatch run.
func NewRunID() string { return uuid.New().String()[:8] }

// Check reports whether an attempt under key is a duplicate. A previous
// send_requested/processing/completed event under the same key blocks the
// attempt; a send_failed event does not, because failure is explicitly
// recoverable. Whether a partially failed attempt (some recipients
// accepted) should need a new key is an open question upstream; the retry
// path only re-dispatches failed rows, so the broad exemption stays safe.
func (g *Guard) Check(ctx context.Context, newsletterID, key string) (bool, error) {
	e, err := g.events.LatestSendEventByKey(ctx, newsletterID, key)
	if err != nil {
		return false, fmt.Errorf("idempotency lookup for %s: %w", key, err)
	}
	if e == nil {
		return false, nil
	}
	return e.Type != domain.EventSendFailed, nil
}
