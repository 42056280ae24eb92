package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/ignite/newsletter-engine/internal/config"
	"github.com/ignite/newsletter-engine/internal/domain"
	"github.com/ignite/newsletter-engine/internal/pkg/httpretry"
)

// postmarkBatchLimit is the API's maximum messages per batch call.
const postmarkBatchLimit = 400

// Postmark sends through the Postmark transactional batch API. Accepted
// messages are confirmed later by delivery webhooks, so Result.BatchSent
// stays false.
type Postmark struct {
	token      string
	baseURL    string
	unsubBase  string
	httpClient httpretry.Doer
}

// NewPostmark creates the Postmark adapter.
func NewPostmark(cfg config.PostmarkConfig, unsubBase string) *Postmark {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.postmarkapp.com"
	}
	return &Postmark{
		token:      cfg.ServerToken,
		baseURL:    base,
		unsubBase:  unsubBase,
		httpClient: httpretry.New(nil, 3),
	}
}

// Type implements Sender.
func (p *Postmark) Type() domain.ProviderType { return domain.ProviderPostmark }

type postmarkMessage struct {
	From          string            `json:"From"`
	To            string            `json:"To"`
	ReplyTo       string            `json:"ReplyTo,omitempty"`
	Subject       string            `json:"Subject"`
	HtmlBody      string            `json:"HtmlBody"`
	MessageStream string            `json:"MessageStream"`
	Metadata      map[string]string `json:"Metadata,omitempty"`
}

type postmarkResponse struct {
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageID"`
	To        string `json:"To"`
}

// Send dispatches recipients in batches of at most 400, personalizing each
// body just before the call. Batches run strictly in sequence. A failed
// batch call marks only that batch's recipients failed; later batches
// still run.
func (p *Postmark) Send(ctx context.Context, n *domain.Newsletter, recipients []Recipient) (*Result, error) {
	body := EnsureFooter(n.HTMLContent)
	result := &Result{Provider: domain.ProviderPostmark}

	for start := 0; start < len(recipients); start += postmarkBatchLimit {
		end := start + postmarkBatchLimit
		if end > len(recipients) {
			end = len(recipients)
		}
		batch := recipients[start:end]

		messages := make([]postmarkMessage, 0, len(batch))
		for _, r := range batch {
			messages = append(messages, postmarkMessage{
				From:          n.FromEmail,
				To:            r.Email,
				ReplyTo:       n.ReplyTo,
				Subject:       n.Subject,
				HtmlBody:      Personalize(body, r, UnsubscribeURL(p.unsubBase, n.ID, r.ContactID)),
				MessageStream: "broadcast",
				Metadata: map[string]string{
					"newsletter_id": n.ID,
					"delivery_id":   r.DeliveryID,
				},
			})
		}

		responses, err := p.sendBatch(ctx, messages)
		if err != nil {
			log.Printf("[Postmark] Batch %d-%d failed for %s: %v", start, end, n.ID, err)
			for _, r := range batch {
				result.Failed++
				result.Recipients = append(result.Recipients, RecipientResult{
					DeliveryID: r.DeliveryID, Email: r.Email, Error: err.Error(),
				})
			}
			continue
		}

		for i, r := range batch {
			rr := RecipientResult{DeliveryID: r.DeliveryID, Email: r.Email}
			if i < len(responses) && responses[i].ErrorCode == 0 {
				rr.Accepted = true
				rr.MessageID = responses[i].MessageID
				result.Accepted++
			} else {
				if i < len(responses) {
					rr.Error = responses[i].Message
				} else {
					rr.Error = "no response for message"
				}
				result.Failed++
			}
			result.Recipients = append(result.Recipients, rr)
		}
	}

	return result, nil
}

// SendTest sends one personalized message. The subject is prefixed so test
// traffic is unmistakable in the operator's inbox.
func (p *Postmark) SendTest(ctx context.Context, n *domain.Newsletter, to Recipient) (*Result, error) {
	body := EnsureFooter(n.HTMLContent)
	msg := postmarkMessage{
		From:          n.FromEmail,
		To:            to.Email,
		ReplyTo:       n.ReplyTo,
		Subject:       "[TEST] " + n.Subject,
		HtmlBody:      Personalize(body, to, UnsubscribeURL(p.unsubBase, n.ID, to.ContactID)),
		MessageStream: "broadcast",
		Metadata:      map[string]string{"newsletter_id": n.ID, "test": "true"},
	}

	responses, err := p.sendBatch(ctx, []postmarkMessage{msg})
	if err != nil {
		return nil, err
	}
	if len(responses) == 0 || responses[0].ErrorCode != 0 {
		detail := "empty response"
		if len(responses) > 0 {
			detail = responses[0].Message
		}
		return nil, fmt.Errorf("postmark rejected test message: %s", detail)
	}
	return &Result{
		Provider: domain.ProviderPostmark,
		Accepted: 1,
		Recipients: []RecipientResult{{
			Email: to.Email, MessageID: responses[0].MessageID, Accepted: true,
		}},
	}, nil
}

func (p *Postmark) sendBatch(ctx context.Context, messages []postmarkMessage) ([]postmarkResponse, error) {
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshaling batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/email/batch", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var responses []postmarkResponse
	if err := json.Unmarshal(respBody, &responses); err != nil {
		return nil, fmt.Errorf("parsing batch response: %w", err)
	}
	return responses, nil
}
