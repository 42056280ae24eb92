package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ignite/newsletter-engine/internal/domain"
)

// ObjectStore persists export output. Optional; a nil store keeps the
// export inline-only.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, body []byte) (string, error)
}

// HTMLExport performs no network send. The footer-injected HTML is the
// result; when an object store is configured the HTML is persisted there
// too. Export sends cannot be scheduled or retried.
type HTMLExport struct {
	store ObjectStore
}

// NewHTMLExport creates the export adapter. store may be nil.
func NewHTMLExport(store ObjectStore) *HTMLExport {
	return &HTMLExport{store: store}
}

// Type implements Sender.
func (e *HTMLExport) Type() domain.ProviderType { return domain.ProviderHTMLExport }

// Send returns the rendered HTML for the caller to export. All recipients
// report accepted and the batch counts as sent: there is no downstream
// confirmation to wait for.
func (e *HTMLExport) Send(ctx context.Context, n *domain.Newsletter, recipients []Recipient) (*Result, error) {
	html := EnsureFooter(n.HTMLContent)

	result := &Result{
		Provider:  domain.ProviderHTMLExport,
		Accepted:  len(recipients),
		BatchSent: true,
		HTML:      html,
	}
	for _, r := range recipients {
		result.Recipients = append(result.Recipients, RecipientResult{
			DeliveryID: r.DeliveryID, Email: r.Email, Accepted: true,
		})
	}

	if e.store != nil {
		key := fmt.Sprintf("newsletters/%s/%d.html", n.ID, time.Now().UTC().Unix())
		url, err := e.store.Put(ctx, key, "text/html; charset=utf-8", []byte(html))
		if err != nil {
			// the inline HTML is still a complete result
			log.Printf("[Export] Warning: failed to persist export for %s: %v", n.ID, err)
		} else {
			result.ExportURL = url
		}
	}

	return result, nil
}

// SendTest returns the HTML personalized for the operator address.
func (e *HTMLExport) SendTest(ctx context.Context, n *domain.Newsletter, to Recipient) (*Result, error) {
	html := Personalize(EnsureFooter(n.HTMLContent), to, UnsubscribeURL("", n.ID, to.ContactID))
	return &Result{
		Provider:   domain.ProviderHTMLExport,
		Accepted:   1,
		BatchSent:  true,
		HTML:       html,
		Recipients: []RecipientResult{{Email: to.Email, Accepted: true}},
	}, nil
}
