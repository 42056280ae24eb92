package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ignite/newsletter-engine/internal/domain"
	"github.com/ignite/newsletter-engine/internal/orchestrator"
	"github.com/ignite/newsletter-engine/internal/provider"
)

type fakeLister struct {
	due []domain.Newsletter
	err error
}

func (f *fakeLister) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Newsletter, error) {
	return f.due, f.err
}

type sendCall struct {
	newsletterID string
	req          orchestrator.SendRequest
}

type fakeEngine struct {
	calls   []sendCall
	failFor map[string]error
	dupFor  map[string]bool
}

func (f *fakeEngine) Send(ctx context.Context, id string, req orchestrator.SendRequest) (*orchestrator.SendOutcome, error) {
	f.calls = append(f.calls, sendCall{id, req})
	if err := f.failFor[id]; err != nil {
		return nil, err
	}
	if f.dupFor[id] {
		return &orchestrator.SendOutcome{Duplicate: true}, nil
	}
	return &orchestrator.SendOutcome{
		Result: &provider.Result{Accepted: 10},
	}, nil
}

type fakeLock struct {
	acquired bool
	released bool
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) { return f.acquired, nil }
func (f *fakeLock) Release(ctx context.Context) error         { f.released = true; return nil }

func TestDispatchDuePerItemIsolation(t *testing.T) {
	lister := &fakeLister{due: []domain.Newsletter{
		{ID: "nl-1", Title: "A", AudienceTag: "vip"},
		{ID: "nl-2", Title: "B"},
		{ID: "nl-3", Title: "C"},
	}}
	engine := &fakeEngine{failFor: map[string]error{"nl-2": errors.New("provider down")}}
	d := NewDispatcher(lister, engine, nil)

	result, err := d.DispatchDue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(engine.calls) != 3 {
		t.Fatalf("send calls = %d, want 3 (failure must not stop the batch)", len(engine.calls))
	}
	if result.Dispatched != 2 {
		t.Errorf("dispatched = %d, want 2", result.Dispatched)
	}
	if result.Items[1].Error == "" {
		t.Error("failed item must carry its error")
	}
	if engine.calls[0].req.Tag != "vip" {
		t.Errorf("tag = %q, want the newsletter's own tag", engine.calls[0].req.Tag)
	}
}

func TestDispatchDueMintsCronScopedKeys(t *testing.T) {
	lister := &fakeLister{due: []domain.Newsletter{{ID: "nl-1"}, {ID: "nl-2"}}}
	engine := &fakeEngine{}
	d := NewDispatcher(lister, engine, nil)

	result, err := d.DispatchDue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, call := range engine.calls {
		if !strings.HasPrefix(call.req.IdempotencyKey, "cron-"+result.RunID) {
			t.Errorf("key %q not scoped to run %s", call.req.IdempotencyKey, result.RunID)
		}
		if call.req.Source != "cron" {
			t.Errorf("source = %q", call.req.Source)
		}
	}
	if engine.calls[0].req.IdempotencyKey == engine.calls[1].req.IdempotencyKey {
		t.Error("keys must differ per newsletter")
	}
}

func TestDispatchDueSkipsWhenLockHeld(t *testing.T) {
	engine := &fakeEngine{}
	lock := &fakeLock{acquired: false}
	d := NewDispatcher(&fakeLister{due: []domain.Newsletter{{ID: "nl-1"}}}, engine, lock)

	result, err := d.DispatchDue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Skipped {
		t.Error("run must report skipped when the lock is held elsewhere")
	}
	if len(engine.calls) != 0 {
		t.Error("no sends may run without the lock")
	}
}

func TestDispatchDueReleasesLock(t *testing.T) {
	lock := &fakeLock{acquired: true}
	d := NewDispatcher(&fakeLister{}, &fakeEngine{}, lock)

	if _, err := d.DispatchDue(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !lock.released {
		t.Error("lock must be released after the run")
	}
}

func TestDispatchDueCountsDuplicates(t *testing.T) {
	lister := &fakeLister{due: []domain.Newsletter{{ID: "nl-1"}}}
	engine := &fakeEngine{dupFor: map[string]bool{"nl-1": true}}
	d := NewDispatcher(lister, engine, nil)

	result, err := d.DispatchDue(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Dispatched != 0 || !result.Items[0].Duplicate {
		t.Errorf("result = %+v", result)
	}
}
