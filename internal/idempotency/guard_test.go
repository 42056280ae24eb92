package idempotency

import (
	"context"
	"testing"

	"github.com/ignite/newsletter-engine/internal/domain"
)

type fakeLookup struct {
	event *domain.CampaignEvent
	err   error
}

func (f *fakeLookup) LatestSendEventByKey(ctx context.Context, newsletterID, key string) (*domain.CampaignEvent, error) {
	return f.event, f.err
}

func TestKeyForIsStable(t *testing.T) {
	k1 := KeyFor("nl-1", "all", domain.ProviderPostmark, "Hello", "news@acme.example")
	k2 := KeyFor("nl-1", "all", domain.ProviderPostmark, "  hello ", "NEWS@acme.example")
	if k1 != k2 {
		t.Errorf("normalization should make keys equal: %s != %s", k1, k2)
	}
}

func TestKeyForDistinguishesAttempts(t *testing.T) {
	base := KeyFor("nl-1", "all", domain.ProviderPostmark, "Hello", "news@acme.example")
	variants := []string{
		KeyFor("nl-2", "all", domain.ProviderPostmark, "Hello", "news@acme.example"),
		KeyFor("nl-1", "vip", domain.ProviderPostmark, "Hello", "news@acme.example"),
		KeyFor("nl-1", "all", domain.ProviderMailchimp, "Hello", "news@acme.example"),
		KeyFor("nl-1", "all", domain.ProviderPostmark, "Other subject", "news@acme.example"),
		KeyFor("nl-1", "all", domain.ProviderPostmark, "Hello", "other@acme.example"),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d should produce a different key", i)
		}
	}
}

func TestKeyForNormalizesEmptyTag(t *testing.T) {
	if KeyFor("nl-1", "", domain.ProviderPostmark, "s", "f@x") !=
		KeyFor("nl-1", "all", domain.ProviderPostmark, "s", "f@x") {
		t.Error("empty tag must hash like 'all'")
	}
}

func TestCheckNoPriorEvent(t *testing.T) {
	g := NewGuard(&fakeLookup{})
	dup, err := g.Check(context.Background(), "nl-1", "key")
	if err != nil || dup {
		t.Errorf("dup=%v err=%v, want fresh attempt allowed", dup, err)
	}
}

func TestCheckBlocksNonFailedEvents(t *testing.T) {
	for _, typ := range []domain.EventType{
		domain.EventSendRequested, domain.EventSendProcessing, domain.EventSendCompleted,
	} {
		g := NewGuard(&fakeLookup{event: &domain.CampaignEvent{Type: typ}})
		dup, err := g.Check(context.Background(), "nl-1", "key")
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if !dup {
			t.Errorf("prior %s must flag a duplicate", typ)
		}
	}
}

func TestCheckAllowsRetryAfterFailure(t *testing.T) {
	g := NewGuard(&fakeLookup{event: &domain.CampaignEvent{Type: domain.EventSendFailed}})
	dup, err := g.Check(context.Background(), "nl-1", "key")
	if err != nil {
		t.Fatal(err)
	}
	if dup {
		t.Error("send_failed must not block a retry under the same key")
	}
}

func TestCronKeyScopedPerRun(t *testing.T) {
	r1, r2 := NewRunID(), NewRunID()
	if r1 == r2 {
		t.Fatal("run ids should differ")
	}
	if CronKey(r1, "nl-1") == CronKey(r2, "nl-1") {
		t.Error("cron keys must differ per run")
	}
	if CronKey(r1, "nl-1") == CronKey(r1, "nl-2") {
		t.Error("cron keys must differ per newsletter")
	}
}
