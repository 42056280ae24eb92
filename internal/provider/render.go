package provider

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/osteele/liquid"
)

// complianceFooter is appended when the body carries no unsubscribe
// control. CAN-SPAM requires one; injecting beats blocking the send.
const complianceFooter = `<div style="margin-top:32px;padding-top:16px;border-top:1px solid #e0e0e0;font-size:12px;color:#888;text-align:center;">
  <p>You are receiving this email because you subscribed to this newsletter.</p>
  <p><a href="{{ unsubscribe_url }}" style="color:#888;">Unsubscribe</a></p>
</div>`

var unsubscribeRegex = regexp.MustCompile(`(?i)(unsubscribe|opt[\s-]?out|\{\{\s*unsubscribe_url)`)

// EnsureFooter appends the compliance footer when html has no unsubscribe
// control, before </body> when one exists.
func EnsureFooter(html string) string {
	if unsubscribeRegex.MatchString(html) {
		return html
	}
	if i := strings.LastIndex(strings.ToLower(html), "</body>"); i >= 0 {
		return html[:i] + complianceFooter + html[i:]
	}
	return html + complianceFooter
}

var liquidEngine = liquid.NewEngine()

// Personalize renders recipient tokens into html. Template errors fall
// back to the raw body: a stray token must not fail a live send (the QA
// gate already warned about missing personalization).
func Personalize(html string, r Recipient, unsubscribeURL string) string {
	bindings := map[string]interface{}{
		"first_name":      r.FirstName,
		"last_name":       r.LastName,
		"email":           r.Email,
		"unsubscribe_url": unsubscribeURL,
	}
	out, err := liquidEngine.ParseAndRenderString(html, bindings)
	if err != nil {
		log.Printf("[Provider] Warning: personalization failed for %s: %v", r.DeliveryID, err)
		return html
	}
	return out
}

// UnsubscribeURL builds the per-recipient opt-out link embedded in the
// compliance footer.
func UnsubscribeURL(baseURL, newsletterID, contactID string) string {
	base := strings.TrimSuffix(baseURL, "/")
	if base == "" {
		base = "https://unsubscribe.ignite.email"
	}
	return fmt.Sprintf("%s/u/%s/%s", base, newsletterID, contactID)
}
