package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/ignite/newsletter-engine/internal/config"
	"github.com/ignite/newsletter-engine/internal/domain"
	"github.com/ignite/newsletter-engine/internal/pkg/httpretry"
)

// Mailchimp sends through the campaign API: create a campaign, upload the
// rendered content, trigger one send over the configured list. The API has
// no per-recipient result, so success reports the whole batch accepted and
// BatchSent true; any step failing fails the whole batch.
type Mailchimp struct {
	apiKey     string
	baseURL    string
	listID     string
	httpClient httpretry.Doer
}

// NewMailchimp creates the Mailchimp adapter. The datacenter is taken from
// the API key suffix ("...-us21") unless a base URL or server prefix is
// configured explicitly.
func NewMailchimp(cfg config.MailchimpConfig) *Mailchimp {
	base := cfg.BaseURL
	if base == "" {
		dc := cfg.ServerPref
		if dc == "" {
			if i := strings.LastIndex(cfg.APIKey, "-"); i >= 0 {
				dc = cfg.APIKey[i+1:]
			}
		}
		if dc == "" {
			dc = "us1"
		}
		base = fmt.Sprintf("https://%s.api.mailchimp.com", dc)
	}
	return &Mailchimp{
		apiKey:     cfg.APIKey,
		baseURL:    base,
		listID:     cfg.ListID,
		httpClient: httpretry.New(nil, 3),
	}
}

// Type implements Sender.
func (m *Mailchimp) Type() domain.ProviderType { return domain.ProviderMailchimp }

type mailchimpCampaign struct {
	ID string `json:"id"`
}

// Send runs create/upload/trigger. Personalization uses the list's own
// merge tags on Mailchimp's side; only the compliance footer is injected
// here.
func (m *Mailchimp) Send(ctx context.Context, n *domain.Newsletter, recipients []Recipient) (*Result, error) {
	campaign, err := m.createCampaign(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("creating campaign: %w", err)
	}

	// the injected footer carries a liquid token; Mailchimp resolves its
	// own *|UNSUB|* merge tag instead
	html := strings.ReplaceAll(EnsureFooter(n.HTMLContent), "{{ unsubscribe_url }}", "*|UNSUB|*")
	if err := m.uploadContent(ctx, campaign.ID, html); err != nil {
		return nil, fmt.Errorf("uploading content for campaign %s: %w", campaign.ID, err)
	}

	if err := m.triggerSend(ctx, campaign.ID); err != nil {
		return nil, fmt.Errorf("triggering campaign %s: %w", campaign.ID, err)
	}

	log.Printf("[Mailchimp] Campaign %s sent for newsletter %s (%d recipients)",
		campaign.ID, n.ID, len(recipients))

	result := &Result{
		Provider:   domain.ProviderMailchimp,
		Accepted:   len(recipients),
		BatchSent:  true,
		CampaignID: campaign.ID,
	}
	for _, r := range recipients {
		result.Recipients = append(result.Recipients, RecipientResult{
			DeliveryID: r.DeliveryID,
			Email:      r.Email,
			MessageID:  campaign.ID,
			Accepted:   true,
		})
	}
	return result, nil
}

func (m *Mailchimp) createCampaign(ctx context.Context, n *domain.Newsletter) (*mailchimpCampaign, error) {
	payload := map[string]interface{}{
		"type": "regular",
		"recipients": map[string]string{
			"list_id": m.listID,
		},
		"settings": map[string]string{
			"subject_line": n.Subject,
			"preview_text": n.PreviewText,
			"title":        n.Title,
			"from_name":    n.FromEmail,
			"reply_to":     n.ReplyTo,
		},
	}

	body, err := m.doRequest(ctx, http.MethodPost, "/3.0/campaigns", payload)
	if err != nil {
		return nil, err
	}
	var campaign mailchimpCampaign
	if err := json.Unmarshal(body, &campaign); err != nil {
		return nil, fmt.Errorf("parsing campaign response: %w", err)
	}
	if campaign.ID == "" {
		return nil, fmt.Errorf("campaign created without an id")
	}
	return &campaign, nil
}

func (m *Mailchimp) uploadContent(ctx context.Context, campaignID, html string) error {
	_, err := m.doRequest(ctx, http.MethodPut,
		"/3.0/campaigns/"+campaignID+"/content",
		map[string]string{"html": html})
	return err
}

func (m *Mailchimp) triggerSend(ctx context.Context, campaignID string) error {
	_, err := m.doRequest(ctx, http.MethodPost,
		"/3.0/campaigns/"+campaignID+"/actions/send", nil)
	return err
}

func (m *Mailchimp) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	// Mailchimp uses Basic Auth with any username
	req.SetBasicAuth("anystring", m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
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
	return respBody, nil
}
