// Package scheduler dispatches scheduled newsletters whose send time has
// elapsed. The primary trigger is the authenticated cron endpoint; an
// optional in-process ticker drives the same dispatch method. A
// distributed lock keeps multiple instances from double-dispatching the
// same tick.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ignite/newsletter-engine/internal/domain"
	"github.com/ignite/newsletter-engine/internal/idempotency"
	"github.com/ignite/newsletter-engine/internal/orchestrator"
	"github.com/ignite/newsletter-engine/internal/pkg/distlock"
)

// dispatchBatchLimit bounds one tick so a backlog drains across ticks
// instead of one giant run.
const dispatchBatchLimit = 25

// DueLister loads scheduled newsletters whose send time has elapsed.
type DueLister interface {
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]domain.Newsletter, error)
}

// SendEngine runs the send pipeline for one newsletter.
type SendEngine interface {
	Send(ctx context.Context, newsletterID string, req orchestrator.SendRequest) (*orchestrator.SendOutcome, error)
}

// ItemResult is the per-newsletter outcome of one dispatch run.
type ItemResult struct {
	NewsletterID string `json:"newsletter_id"`
	Title        string `json:"title,omitempty"`
	Accepted     int    `json:"accepted,omitempty"`
	Failed       int    `json:"failed,omitempty"`
	Duplicate    bool   `json:"duplicate,omitempty"`
	Error        string `json:"error,omitempty"`
}

// RunResult summarizes one dispatch run.
type RunResult struct {
	RunID      string       `json:"run_id"`
	Dispatched int          `json:"dispatched"`
	Skipped    bool         `json:"skipped,omitempty"`
	Items      []ItemResult `json:"items,omitempty"`
}

// Dispatcher polls for due newsletters and pushes them through the send
// pipeline.
type Dispatcher struct {
	store  DueLister
	engine SendEngine
	lock   distlock.DistLock
	now    func() time.Time
}

// NewDispatcher wires the dispatcher. lock may be nil for single-instance
// deployments and tests.
func NewDispatcher(store DueLister, engine SendEngine, lock distlock.DistLock) *Dispatcher {
	return &Dispatcher{store: store, engine: engine, lock: lock, now: time.Now}
}

// DispatchDue runs one tick: list due newsletters, send each under a
// fresh cron-scoped idempotency key. Items are isolated; one failure never
// stops the rest of the batch. When another instance holds the lock the
// run is skipped, not an error.
func (d *Dispatcher) DispatchDue(ctx context.Context) (*RunResult, error) {
	runID := idempotency.NewRunID()
	result := &RunResult{RunID: runID}

	if d.lock != nil {
		acquired, err := d.lock.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if !acquired {
			log.Printf("[Scheduler] Run %s skipped: another instance holds the dispatch lock", runID)
			result.Skipped = true
			return result, nil
		}
		defer func() {
			if err := d.lock.Release(ctx); err != nil {
				log.Printf("[Scheduler] Warning: releasing dispatch lock: %v", err)
			}
		}()
	}

	due, err := d.store.ListDueScheduled(ctx, d.now(), dispatchBatchLimit)
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return result, nil
	}
	log.Printf("[Scheduler] Run %s: %d newsletter(s) due", runID, len(due))

	for _, n := range due {
		item := ItemResult{NewsletterID: n.ID, Title: n.Title}

		outcome, err := d.engine.Send(ctx, n.ID, orchestrator.SendRequest{
			Tag:            n.AudienceTag,
			IdempotencyKey: idempotency.CronKey(runID, n.ID),
			Source:         "cron",
		})
		switch {
		case err != nil:
			item.Error = err.Error()
			log.Printf("[Scheduler] Run %s: newsletter %s failed: %v", runID, n.ID, err)
		case outcome.Duplicate:
			item.Duplicate = true
		default:
			result.Dispatched++
			if outcome.Result != nil {
				item.Accepted = outcome.Result.Accepted
				item.Failed = outcome.Result.Failed
			}
		}
		result.Items = append(result.Items, item)
	}

	return result, nil
}

// Ticker runs DispatchDue on a cron schedule in-process. The external
// trigger endpoint stays the primary path; the ticker exists for
// deployments without an external cron.
type Ticker struct {
	cron *cron.Cron
}

// StartTicker schedules DispatchDue under spec (standard cron syntax).
func StartTicker(d *Dispatcher, spec string) (*Ticker, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := d.DispatchDue(ctx); err != nil {
			log.Printf("[Scheduler] Ticker run failed: %v", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	log.Printf("[Scheduler] In-process ticker started with spec %q", spec)
	return &Ticker{cron: c}, nil
}

// Stop halts the ticker and waits for a running job to finish.
func (t *Ticker) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
}
