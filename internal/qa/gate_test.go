package qa

import (
	"strings"
	"testing"

	"github.com/ignite/newsletter-engine/internal/domain"
)

const goodBody = `<html><body>
<p>Hello {{ first_name }}, welcome to the March issue of our newsletter.</p>
<img src="https://cdn.acme.example/banner.png" alt="Banner">
<a href="https://acme.example/read-more">Read more</a>
<a href="{{ unsubscribe_url }}">Unsubscribe</a>
</body></html>`

func goodClient() *domain.Client {
	return &domain.Client{
		ID:               "client-1",
		Domain:           "acme.example",
		DefaultProvider:  domain.ProviderPostmark,
		EnabledProviders: []domain.ProviderType{domain.ProviderPostmark, domain.ProviderHTMLExport},
		SenderVerified:   true,
	}
}

func goodNewsletter() *domain.Newsletter {
	return &domain.Newsletter{
		ID:          "nl-1",
		ClientID:    "client-1",
		Status:      domain.StatusApproved,
		Subject:     "March product news",
		PreviewText: "Everything we shipped in March",
		FromEmail:   "news@acme.example",
		ReplyTo:     "hello@acme.example",
		HTMLContent: goodBody,
	}
}

func evaluate(n *domain.Newsletter, c *domain.Client, opts ...func(*Input)) Report {
	in := Input{
		Newsletter: n,
		Client:     c,
		Profile:    BuildSenderProfile(n, c),
		Provider:   domain.ProviderPostmark,
	}
	for _, o := range opts {
		o(&in)
	}
	return Evaluate(in)
}

func hasIssue(issues []Issue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

func TestCleanNewsletterCanSend(t *testing.T) {
	r := evaluate(goodNewsletter(), goodClient())
	if !r.CanSend {
		t.Fatalf("expected canSend, blockers: %+v", r.Blockers)
	}
	if len(r.Blockers) != 0 {
		t.Errorf("unexpected blockers: %+v", r.Blockers)
	}
}

func TestEmptyBodyIsBlocked(t *testing.T) {
	n := goodNewsletter()
	n.HTMLContent = "<html><body>   </body></html>"
	r := evaluate(n, goodClient())
	if r.CanSend {
		t.Error("empty body must not be sendable")
	}
	if !hasIssue(r.Blockers, BlockMissingContent) {
		t.Errorf("want missing_content blocker, got %+v", r.Blockers)
	}
}

func TestAlreadySentIsBlocked(t *testing.T) {
	n := goodNewsletter()
	n.Status = domain.StatusSent
	r := evaluate(n, goodClient())
	if !hasIssue(r.Blockers, BlockAlreadySent) {
		t.Errorf("want already_sent blocker, got %+v", r.Blockers)
	}
}

func TestDomainMismatchIsBlocked(t *testing.T) {
	n := goodNewsletter()
	n.FromEmail = "news@other.example"
	r := evaluate(n, goodClient())
	if !hasIssue(r.Blockers, BlockFromDomainMismatch) {
		t.Errorf("want from_domain_mismatch blocker, got %+v", r.Blockers)
	}
}

func TestZeroRecipientsOnlyWhenRequested(t *testing.T) {
	zero := 0
	r := evaluate(goodNewsletter(), goodClient(), func(in *Input) { in.RecipientCount = &zero })
	if !hasIssue(r.Blockers, BlockNoRecipients) {
		t.Errorf("want no_recipients blocker when count requested, got %+v", r.Blockers)
	}

	// without resolution the blocker must not fire
	r = evaluate(goodNewsletter(), goodClient())
	if hasIssue(r.Blockers, BlockNoRecipients) {
		t.Error("no_recipients must not fire when resolution was not requested")
	}
}

func TestUnverifiedSenderDependsOnProvider(t *testing.T) {
	c := goodClient()
	c.SenderVerified = false

	r := evaluate(goodNewsletter(), c)
	if !hasIssue(r.Blockers, BlockSenderUnverified) {
		t.Errorf("postmark requires verified sender, got blockers %+v", r.Blockers)
	}

	r = evaluate(goodNewsletter(), c, func(in *Input) { in.Provider = domain.ProviderHTMLExport })
	if hasIssue(r.Blockers, BlockSenderUnverified) {
		t.Error("export path must demote sender_unverified to a warning")
	}
	if !hasIssue(r.Warnings, WarnSenderUnverified) {
		t.Errorf("want sender_unverified warning, got %+v", r.Warnings)
	}
}

func TestMalformedURLs(t *testing.T) {
	n := goodNewsletter()
	n.HTMLContent = strings.Replace(goodBody, `href="https://acme.example/read-more"`, `href="htp:/broken link"`, 1)
	r := evaluate(n, goodClient())
	if !hasIssue(r.Blockers, BlockMalformedURL) {
		t.Errorf("want malformed_url blocker, got %+v", r.Blockers)
	}

	// test sends downgrade the same finding to a warning
	r = evaluate(n, goodClient(), func(in *Input) { in.TestSend = true })
	if hasIssue(r.Blockers, BlockMalformedURL) {
		t.Error("test send must downgrade malformed_url to a warning")
	}
	if !hasIssue(r.Warnings, BlockMalformedURL) {
		t.Errorf("want malformed_url warning in test mode, got %+v", r.Warnings)
	}
}

func TestLiquidTokenURLsPass(t *testing.T) {
	r := evaluate(goodNewsletter(), goodClient())
	if hasIssue(r.Blockers, BlockMalformedURL) {
		t.Error("template-token URLs must not count as malformed")
	}
}

func TestWarnings(t *testing.T) {
	n := goodNewsletter()
	n.PreviewText = ""
	n.Subject = strings.Repeat("very long subject ", 5)
	n.HTMLContent = `<html><body><p>A perfectly fine body with plenty of text in it.</p>
<img src="https://cdn.acme.example/x.png"></body></html>`
	n.OpenChangeRequests = 2

	r := evaluate(n, goodClient(), func(in *Input) { in.Provider = domain.ProviderMailchimp })
	if !r.CanSend {
		t.Fatalf("warnings alone must not block, blockers: %+v", r.Blockers)
	}
	for _, code := range []string{
		WarnMissingPreviewText, WarnSubjectTooLong, WarnImageMissingAlt,
		WarnMissingPersonalization, WarnMissingUnsubscribe,
		WarnProviderNotEnabled, WarnOpenChangeRequests,
	} {
		if !hasIssue(r.Warnings, code) {
			t.Errorf("missing warning %s in %+v", code, r.Warnings)
		}
	}
}

func TestBuildSenderProfile(t *testing.T) {
	p := BuildSenderProfile(goodNewsletter(), goodClient())
	if !p.DomainMatch {
		t.Errorf("domains should match: %+v", p)
	}
	if p.FromDomain != "acme.example" {
		t.Errorf("from domain = %q", p.FromDomain)
	}

	n := goodNewsletter()
	n.FromEmail = "broken-address"
	p = BuildSenderProfile(n, goodClient())
	if p.DomainMatch {
		t.Error("address without domain must not match")
	}
}
