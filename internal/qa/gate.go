// Package qa implements the preflight gate run before any send-affecting
// action. The gate is a pure function over already-loaded data: it never
// touches the database, so every caller re-runs it immediately before
// acting instead of trusting an earlier result.
package qa

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ignite/newsletter-engine/internal/domain"
)

// Issue codes. Blockers stop the action; warnings are advisory.
const (
	BlockAlreadySent        = "already_sent"
	BlockMissingSubject     = "missing_subject"
	BlockMissingFromEmail   = "missing_from_email"
	BlockFromDomainMismatch = "from_domain_mismatch"
	BlockMissingReplyTo     = "missing_reply_to"
	BlockMissingContent     = "missing_content"
	BlockMalformedURL       = "malformed_url"
	BlockNoRecipients       = "no_recipients"
	BlockSenderUnverified   = "sender_unverified"

	WarnMissingPreviewText     = "missing_preview_text"
	WarnSubjectTooLong         = "subject_too_long"
	WarnImageMissingAlt        = "image_missing_alt"
	WarnMissingPersonalization = "missing_personalization"
	WarnMissingUnsubscribe     = "missing_unsubscribe"
	WarnProviderNotEnabled     = "provider_not_enabled"
	WarnOpenChangeRequests     = "open_change_requests"
	WarnSenderUnverified       = "sender_unverified"
)

// SubjectDisplayLimit is the display-safe subject length; longer subjects
// get truncated by most inbox clients.
const SubjectDisplayLimit = 60

// minContentLength is the threshold below which stripped body text counts
// as empty.
const minContentLength = 20

// Issue is one blocker or warning with a human-readable message.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Report is the gate's verdict. CanSend is true iff Blockers is empty.
type Report struct {
	Blockers []Issue `json:"blockers"`
	Warnings []Issue `json:"warnings"`
	CanSend  bool    `json:"can_send"`
}

// Input carries everything the gate evaluates. RecipientCount is nil when
// audience resolution was not requested; the no-recipients blocker only
// fires when it is set.
type Input struct {
	Newsletter *domain.Newsletter
	Profile    domain.SenderProfile
	Client     *domain.Client
	Provider   domain.ProviderType

	RecipientCount *int

	// TestSend downgrades the send-time-specific blockers
	// (sender-unverified, malformed URLs) to warnings.
	TestSend bool
}

// requiresVerifiedSender reports whether the provider refuses mail from an
// unverified sender signature. Postmark enforces this server-side; the
// campaign and export paths merely warn.
func requiresVerifiedSender(p domain.ProviderType) bool {
	return p == domain.ProviderPostmark
}

// Evaluate runs every check and returns the ordered blocker/warning lists.
func Evaluate(in Input) Report {
	var r Report
	n := in.Newsletter

	block := func(code, msg string) { r.Blockers = append(r.Blockers, Issue{code, msg}) }
	warn := func(code, msg string) { r.Warnings = append(r.Warnings, Issue{code, msg}) }

	if n.Status == domain.StatusSent {
		block(BlockAlreadySent, "newsletter has already been sent")
	}
	if strings.TrimSpace(n.Subject) == "" {
		block(BlockMissingSubject, "subject line is empty")
	}
	if strings.TrimSpace(in.Profile.FromEmail) == "" {
		block(BlockMissingFromEmail, "no from-address is configured")
	} else if !in.Profile.DomainMatch {
		block(BlockFromDomainMismatch, fmt.Sprintf(
			"from-address domain %q does not match client domain %q",
			in.Profile.FromDomain, in.Profile.ClientDomain))
	}
	if strings.TrimSpace(in.Profile.ReplyTo) == "" {
		block(BlockMissingReplyTo, "no reply-to address is configured")
	}

	if len(stripTags(n.HTMLContent)) < minContentLength {
		block(BlockMissingContent, "newsletter body is empty or near-empty")
	}

	if bad := malformedURLs(n.HTMLContent); len(bad) > 0 {
		msg := fmt.Sprintf("body contains %d malformed link/image URL(s), first: %q", len(bad), bad[0])
		if in.TestSend {
			warn(BlockMalformedURL, msg)
		} else {
			block(BlockMalformedURL, msg)
		}
	}

	if in.RecipientCount != nil && *in.RecipientCount == 0 {
		block(BlockNoRecipients, "audience resolved to zero recipients")
	}

	if !in.Profile.Verified {
		msg := "sender identity is not verified"
		if !in.TestSend && requiresVerifiedSender(in.Provider) {
			block(BlockSenderUnverified, msg+" and the selected provider requires verified sending")
		} else {
			warn(WarnSenderUnverified, msg)
		}
	}

	// ---- warnings ----

	if strings.TrimSpace(n.PreviewText) == "" {
		warn(WarnMissingPreviewText, "no preview text set; inboxes will show the first body line")
	}
	if len([]rune(n.Subject)) > SubjectDisplayLimit {
		warn(WarnSubjectTooLong, fmt.Sprintf("subject is %d characters; clients truncate around %d", len([]rune(n.Subject)), SubjectDisplayLimit))
	}
	if count := imagesWithoutAlt(n.HTMLContent); count > 0 {
		warn(WarnImageMissingAlt, fmt.Sprintf("%d image(s) have no alt text", count))
	}
	if !hasPersonalizationToken(n.HTMLContent) && !hasPersonalizationToken(n.Subject) {
		warn(WarnMissingPersonalization, "no first-name personalization token found")
	}
	if !hasUnsubscribeControl(n.HTMLContent) {
		warn(WarnMissingUnsubscribe, "no unsubscribe link found; a compliance footer will be injected at send time")
	}
	if in.Client != nil && !in.Client.ProviderEnabled(in.Provider) {
		warn(WarnProviderNotEnabled, fmt.Sprintf("provider %q is not enabled for this client; the default will be used", in.Provider))
	}
	if n.OpenChangeRequests > 0 {
		warn(WarnOpenChangeRequests, fmt.Sprintf("%d change request(s) are still unresolved", n.OpenChangeRequests))
	}

	r.CanSend = len(r.Blockers) == 0
	return r
}

var (
	tagRegex       = regexp.MustCompile(`<[^>]*>`)
	urlAttrRegex   = regexp.MustCompile(`(?i)(?:href|src)\s*=\s*"([^"]*)"`)
	imgRegex       = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	altRegex       = regexp.MustCompile(`(?i)\balt\s*=\s*"[^"]+"`)
	firstNameRegex = regexp.MustCompile(`\{\{-?\s*first_name`)
)

func stripTags(html string) string {
	return strings.TrimSpace(tagRegex.ReplaceAllString(html, ""))
}

// malformedURLs returns href/src values that would break at send time.
// Liquid tokens ({{ unsubscribe_url }} and friends) are resolved later and
// pass unchecked.
func malformedURLs(html string) []string {
	var bad []string
	for _, m := range urlAttrRegex.FindAllStringSubmatch(html, -1) {
		raw := strings.TrimSpace(m[1])
		if raw == "" {
			bad = append(bad, m[1])
			continue
		}
		if strings.Contains(raw, "{{") {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || strings.ContainsAny(raw, " \t") {
			bad = append(bad, raw)
			continue
		}
		switch u.Scheme {
		case "http", "https", "mailto", "data", "cid":
			// ok
		case "":
			// relative URLs don't survive in email clients
			bad = append(bad, raw)
		default:
			bad = append(bad, raw)
		}
	}
	return bad
}

func imagesWithoutAlt(html string) int {
	count := 0
	for _, img := range imgRegex.FindAllString(html, -1) {
		if !altRegex.MatchString(img) {
			count++
		}
	}
	return count
}

func hasPersonalizationToken(s string) bool {
	return firstNameRegex.MatchString(s)
}

func hasUnsubscribeControl(html string) bool {
	lower := strings.ToLower(html)
	return strings.Contains(lower, "unsubscribe")
}

// BuildSenderProfile derives the ephemeral sender facts from a newsletter
// and its client.
func BuildSenderProfile(n *domain.Newsletter, c *domain.Client) domain.SenderProfile {
	p := domain.SenderProfile{
		FromEmail:    n.FromEmail,
		ReplyTo:      n.ReplyTo,
		ClientDomain: strings.ToLower(c.Domain),
		Verified:     c.SenderVerified,
	}
	if at := strings.LastIndex(n.FromEmail, "@"); at >= 0 && at < len(n.FromEmail)-1 {
		p.FromDomain = strings.ToLower(n.FromEmail[at+1:])
	}
	p.DomainMatch = p.FromDomain != "" && p.FromDomain == p.ClientDomain
	return p
}
