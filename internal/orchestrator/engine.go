// Package orchestrator drives the send pipeline: preflight, queueing,
// provider dispatch, event logging, and status reconciliation. Every
// send-affecting entry point re-runs the QA gate against freshly loaded
// data; nothing trusts an earlier preflight result.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/newsletter-engine/internal/domain"
	"github.com/ignite/newsletter-engine/internal/idempotency"
	"github.com/ignite/newsletter-engine/internal/provider"
	"github.com/ignite/newsletter-engine/internal/qa"
)

// scheduleGrace is how far a past or absent schedule time is pushed into
// the future so the next cron tick picks the newsletter up cleanly.
const scheduleGrace = 5 * time.Minute

// ErrExportOnlyProvider rejects scheduling or retrying with the export
// renderer. It dispatches no mail, and its whole-batch-sent result would
// finalize the newsletter the moment the cron dispatcher picked it up.
var ErrExportOnlyProvider = errors.New("the html_export provider can only be invoked synchronously")

// NewsletterStore loads and persists the lifecycle slice of newsletters.
type NewsletterStore interface {
	GetNewsletter(ctx context.Context, id string) (*domain.Newsletter, error)
	GetClient(ctx context.Context, id string) (*domain.Client, error)
	SaveLifecycle(ctx context.Context, n *domain.Newsletter) error
}

// AudienceResolver resolves recipients at send time.
type AudienceResolver interface {
	Resolve(ctx context.Context, clientID, tag string) ([]domain.Contact, error)
	ResolveByIDs(ctx context.Context, ids []string) ([]domain.Contact, error)
	Count(ctx context.Context, clientID, tag string) (int, error)
}

// DeliveryQueue owns the per-recipient delivery rows.
type DeliveryQueue interface {
	Queue(ctx context.Context, n *domain.Newsletter, tag string, recipients []domain.Contact) ([]domain.Delivery, error)
	RequeueFailed(ctx context.Context, newsletterID, tag string) ([]domain.Delivery, error)
	MarkAccepted(ctx context.Context, deliveryID, providerMessageID string) error
	MarkFailed(ctx context.Context, deliveryID, reason string) error
	MarkBatchSent(ctx context.Context, newsletterID, tag, providerMessageID string) (int, error)
	MarkBatchFailed(ctx context.Context, newsletterID, tag, reason string) (int, error)
	Counts(ctx context.Context, newsletterID string) (domain.DeliveryCounts, error)
}

// IdempotencyGuard short-circuits duplicate send attempts.
type IdempotencyGuard interface {
	Check(ctx context.Context, newsletterID, key string) (bool, error)
}

// EventLog appends campaign events.
type EventLog interface {
	Record(ctx context.Context, newsletterID string, typ domain.EventType, payload interface{}) error
	MustRecord(ctx context.Context, newsletterID string, typ domain.EventType, payload interface{})
}

// SenderRegistry resolves provider adapters.
type SenderRegistry interface {
	Get(p domain.ProviderType) (provider.Sender, error)
	Tester(p domain.ProviderType) (provider.TestSender, error)
}

// PreflightError carries the QA verdict that blocked an action.
type PreflightError struct {
	Report qa.Report
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("preflight blocked the action with %d blocker(s)", len(e.Report.Blockers))
}

// Engine is the send orchestrator.
type Engine struct {
	store           NewsletterStore
	audience        AudienceResolver
	queue           DeliveryQueue
	guard           IdempotencyGuard
	events          EventLog
	registry        SenderRegistry
	defaultProvider string
	now             func() time.Time
}

// NewEngine wires the orchestrator.
func NewEngine(store NewsletterStore, audience AudienceResolver, queue DeliveryQueue,
	guard IdempotencyGuard, events EventLog, registry SenderRegistry, defaultProvider string) *Engine {
	return &Engine{
		store:           store,
		audience:        audience,
		queue:           queue,
		guard:           guard,
		events:          events,
		registry:        registry,
		defaultProvider: defaultProvider,
		now:             time.Now,
	}
}

// PreflightOptions select what a preflight evaluates.
type PreflightOptions struct {
	Tag      string
	Provider string
	// ResolveAudience turns on recipient counting (and with it the
	// zero-recipients blocker).
	ResolveAudience bool
	TestSend        bool
}

// PreflightResult is the QA verdict plus the resolved send facts.
type PreflightResult struct {
	Report             qa.Report             `json:"report"`
	Provider           domain.ProviderType   `json:"provider"`
	Profile            domain.SenderProfile  `json:"sender_profile"`
	Subject            string                `json:"subject"`
	AudienceTag        string                `json:"audience_tag"`
	RecipientCount     *int                  `json:"recipient_count,omitempty"`
	AvailableProviders []domain.ProviderType `json:"available_providers,omitempty"`

	newsletter *domain.Newsletter
	client     *domain.Client
}

// Preflight evaluates the QA gate for a newsletter without acting on it.
func (e *Engine) Preflight(ctx context.Context, newsletterID string, opts PreflightOptions) (*PreflightResult, error) {
	n, err := e.store.GetNewsletter(ctx, newsletterID)
	if err != nil {
		return nil, err
	}
	c, err := e.store.GetClient(ctx, n.ClientID)
	if err != nil {
		return nil, err
	}

	tag := opts.Tag
	if tag == "" {
		tag = n.AudienceTag
	}
	if tag == "" {
		tag = domain.AudienceTagAll
	}

	p := provider.ResolveType(opts.Provider, n, c, e.defaultProvider)
	profile := qa.BuildSenderProfile(n, c)

	in := qa.Input{
		Newsletter: n,
		Profile:    profile,
		Client:     c,
		Provider:   p,
		TestSend:   opts.TestSend,
	}
	if opts.ResolveAudience {
		count, err := e.audience.Count(ctx, n.ClientID, tag)
		if err != nil {
			return nil, err
		}
		in.RecipientCount = &count
	}

	return &PreflightResult{
		Report:             qa.Evaluate(in),
		Provider:           p,
		Profile:            profile,
		Subject:            n.Subject,
		AudienceTag:        tag,
		RecipientCount:     in.RecipientCount,
		AvailableProviders: c.EnabledProviders,
		newsletter:         n,
		client:             c,
	}, nil
}

// SendRequest parameterizes a synchronous send.
type SendRequest struct {
	Tag            string
	Provider       string
	IdempotencyKey string
	Source         string // "api", "cron", "retry"
}

// SendOutcome is the result of a send attempt.
type SendOutcome struct {
	Duplicate      bool                `json:"duplicate"`
	IdempotencyKey string              `json:"idempotency_key"`
	Provider       domain.ProviderType `json:"provider"`
	Queued         int                 `json:"queued"`
	Result         *provider.Result    `json:"result,omitempty"`
}

// Send runs the full pipeline: preflight, queue, idempotency check,
// provider dispatch, event logging, status reconciliation.
func (e *Engine) Send(ctx context.Context, newsletterID string, req SendRequest) (*SendOutcome, error) {
	pf, err := e.Preflight(ctx, newsletterID, PreflightOptions{
		Tag: req.Tag, Provider: req.Provider, ResolveAudience: true,
	})
	if err != nil {
		return nil, err
	}
	if !pf.Report.CanSend {
		return nil, &PreflightError{Report: pf.Report}
	}
	n := pf.newsletter

	key := req.IdempotencyKey
	if key == "" {
		key = idempotency.KeyFor(n.ID, pf.AudienceTag, pf.Provider, n.Subject, n.FromEmail)
	}

	dup, err := e.guard.Check(ctx, n.ID, key)
	if err != nil {
		return nil, err
	}
	if dup {
		log.Printf("[Orchestrator] Duplicate send attempt for %s under key %s", n.ID, key)
		return &SendOutcome{Duplicate: true, IdempotencyKey: key, Provider: pf.Provider}, nil
	}

	// the guard reads this event back; failing to write it aborts the send
	if err := e.events.Record(ctx, n.ID, domain.EventSendRequested, domain.SendPayload{
		IdempotencyKey: key, Provider: pf.Provider, AudienceTag: pf.AudienceTag, Source: req.Source,
	}); err != nil {
		return nil, err
	}

	contacts, err := e.audience.Resolve(ctx, n.ClientID, pf.AudienceTag)
	if err != nil {
		return nil, e.failSend(ctx, n, pf, key, err)
	}
	deliveries, err := e.queue.Queue(ctx, n, pf.AudienceTag, contacts)
	if err != nil {
		return nil, e.failSend(ctx, n, pf, key, err)
	}

	result, err := e.dispatch(ctx, n, pf, key, deliveries, contacts)
	if err != nil {
		return nil, err
	}
	return &SendOutcome{
		IdempotencyKey: key,
		Provider:       pf.Provider,
		Queued:         len(deliveries),
		Result:         result,
	}, nil
}

// dispatch hands a queued batch to the provider adapter and records the
// outcome. Shared by send, retry, and the cron path.
func (e *Engine) dispatch(ctx context.Context, n *domain.Newsletter, pf *PreflightResult,
	key string, deliveries []domain.Delivery, contacts []domain.Contact) (*provider.Result, error) {

	sender, err := e.registry.Get(pf.Provider)
	if err != nil {
		return nil, e.failSend(ctx, n, pf, key, err)
	}

	e.events.MustRecord(ctx, n.ID, domain.EventSendProcessing, domain.SendPayload{
		IdempotencyKey: key, Provider: pf.Provider, AudienceTag: pf.AudienceTag, Queued: len(deliveries),
	})

	recipients := joinRecipients(deliveries, contacts)
	result, err := sender.Send(ctx, n, recipients)
	if err != nil {
		if _, mErr := e.queue.MarkBatchFailed(ctx, n.ID, pf.AudienceTag, err.Error()); mErr != nil {
			log.Printf("[Orchestrator] Warning: marking batch failed for %s: %v", n.ID, mErr)
		}
		return nil, e.failSend(ctx, n, pf, key, err)
	}

	if err := e.applyResult(ctx, n, pf.AudienceTag, result); err != nil {
		return nil, err
	}

	if result.HTML != "" {
		e.events.MustRecord(ctx, n.ID, domain.EventExportGenerated, domain.WebhookPayload{
			Provider: string(pf.Provider), RecordType: "export", Kind: "export", URL: result.ExportURL,
		})
	}

	payload := domain.SendPayload{
		IdempotencyKey: key, Provider: pf.Provider, AudienceTag: pf.AudienceTag,
		Accepted: result.Accepted, Failed: result.Failed,
	}
	if result.Accepted == 0 && result.Failed > 0 {
		e.events.MustRecord(ctx, n.ID, domain.EventSendFailed, payload)
	} else {
		e.events.MustRecord(ctx, n.ID, domain.EventSendCompleted, payload)
	}

	if err := e.ReconcileStatus(ctx, n.ID); err != nil {
		log.Printf("[Orchestrator] Warning: status reconcile after send for %s: %v", n.ID, err)
	}
	return result, nil
}

// applyResult moves delivery rows per the adapter's result contract.
func (e *Engine) applyResult(ctx context.Context, n *domain.Newsletter, tag string, result *provider.Result) error {
	if result.BatchSent {
		if _, err := e.queue.MarkBatchSent(ctx, n.ID, tag, result.CampaignID); err != nil {
			return err
		}
		return nil
	}
	for _, rr := range result.Recipients {
		if rr.DeliveryID == "" {
			continue
		}
		var err error
		if rr.Accepted {
			err = e.queue.MarkAccepted(ctx, rr.DeliveryID, rr.MessageID)
		} else {
			err = e.queue.MarkFailed(ctx, rr.DeliveryID, rr.Error)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// failSend records send_failed and reconciles before surfacing err.
func (e *Engine) failSend(ctx context.Context, n *domain.Newsletter, pf *PreflightResult, key string, err error) error {
	e.events.MustRecord(ctx, n.ID, domain.EventSendFailed, domain.SendPayload{
		IdempotencyKey: key, Provider: pf.Provider, AudienceTag: pf.AudienceTag, Error: err.Error(),
	})
	if rErr := e.ReconcileStatus(ctx, n.ID); rErr != nil {
		log.Printf("[Orchestrator] Warning: status reconcile after failure for %s: %v", n.ID, rErr)
	}
	return err
}

// ScheduleRequest parameterizes the schedule operation.
type ScheduleRequest struct {
	SendAt   *time.Time
	Tag      string
	Provider string
}

// ScheduleOutcome reports the effective schedule.
type ScheduleOutcome struct {
	ScheduledAt time.Time           `json:"scheduled_at"`
	Queued      int                 `json:"queued"`
	Provider    domain.ProviderType `json:"provider"`
}

// Schedule validates, queues the audience, and moves the newsletter into
// the scheduled state. A past or absent send time is advanced to now plus
// a small grace so the next dispatch tick picks it up.
func (e *Engine) Schedule(ctx context.Context, newsletterID string, req ScheduleRequest) (*ScheduleOutcome, error) {
	pf, err := e.Preflight(ctx, newsletterID, PreflightOptions{
		Tag: req.Tag, Provider: req.Provider, ResolveAudience: true,
	})
	if err != nil {
		return nil, err
	}
	if !pf.Report.CanSend {
		return nil, &PreflightError{Report: pf.Report}
	}
	if pf.Provider == domain.ProviderHTMLExport {
		return nil, ErrExportOnlyProvider
	}
	n := pf.newsletter

	// reject an illegal transition before the queue is touched; the old
	// queued batch must survive a failed schedule attempt intact
	if !domain.CanSchedule(n.Status) {
		return nil, &domain.ErrInvalidTransition{From: n.Status, To: domain.StatusScheduled}
	}

	now := e.now()
	effective := now.Add(scheduleGrace)
	if req.SendAt != nil && req.SendAt.After(now) {
		effective = *req.SendAt
	} else if req.SendAt == nil && n.ExpectedSendDate != nil && n.ExpectedSendDate.After(now) {
		effective = *n.ExpectedSendDate
	}

	contacts, err := e.audience.Resolve(ctx, n.ClientID, pf.AudienceTag)
	if err != nil {
		return nil, err
	}
	deliveries, err := e.queue.Queue(ctx, n, pf.AudienceTag, contacts)
	if err != nil {
		return nil, err
	}

	if err := domain.Schedule(n, &effective, now); err != nil {
		return nil, err
	}
	if err := e.store.SaveLifecycle(ctx, n); err != nil {
		return nil, err
	}

	e.events.MustRecord(ctx, n.ID, domain.EventSendScheduled, domain.SendPayload{
		Provider: pf.Provider, AudienceTag: pf.AudienceTag,
		Queued: len(deliveries), ScheduledAt: &effective,
	})
	log.Printf("[Orchestrator] Newsletter %s scheduled for %s (%d queued)",
		n.ID, effective.Format(time.RFC3339), len(deliveries))

	return &ScheduleOutcome{ScheduledAt: effective, Queued: len(deliveries), Provider: pf.Provider}, nil
}

// RetryOutcome reports a retry attempt.
type RetryOutcome struct {
	NoFailed       bool             `json:"no_failed,omitempty"`
	Requeued       int              `json:"requeued"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
	Result         *provider.Result `json:"result,omitempty"`
}

// RetryFailed flips failed and bounced rows back to queued and re-invokes
// the provider on that subset only. With nothing to retry it is a no-op.
func (e *Engine) RetryFailed(ctx context.Context, newsletterID string, req SendRequest) (*RetryOutcome, error) {
	pf, err := e.Preflight(ctx, newsletterID, PreflightOptions{
		Tag: req.Tag, Provider: req.Provider,
	})
	if err != nil {
		return nil, err
	}
	if !pf.Report.CanSend {
		return nil, &PreflightError{Report: pf.Report}
	}
	if pf.Provider == domain.ProviderHTMLExport {
		return nil, ErrExportOnlyProvider
	}
	n := pf.newsletter

	requeued, err := e.queue.RequeueFailed(ctx, n.ID, pf.AudienceTag)
	if err != nil {
		return nil, err
	}
	if len(requeued) == 0 {
		return &RetryOutcome{NoFailed: true}, nil
	}

	// retries mint their own key: the original attempt's key may carry a
	// non-failed event and must not block re-sending the failed subset
	key := req.IdempotencyKey
	if key == "" {
		key = "rty-" + uuid.New().String()[:8]
	}
	e.events.MustRecord(ctx, n.ID, domain.EventSendRetryRequested, domain.SendPayload{
		IdempotencyKey: key, Provider: pf.Provider, AudienceTag: pf.AudienceTag, Queued: len(requeued),
	})

	ids := make([]string, 0, len(requeued))
	for _, d := range requeued {
		ids = append(ids, d.ContactID)
	}
	contacts, err := e.audience.ResolveByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	result, err := e.dispatch(ctx, n, pf, key, requeued, contacts)
	if err != nil {
		return nil, err
	}
	return &RetryOutcome{Requeued: len(requeued), IdempotencyKey: key, Result: result}, nil
}

// SendTest sends one personalized message to an operator address. Delivery
// rows are never touched.
func (e *Engine) SendTest(ctx context.Context, newsletterID, toEmail string, providerParam string) (*provider.Result, error) {
	pf, err := e.Preflight(ctx, newsletterID, PreflightOptions{
		Provider: providerParam, TestSend: true,
	})
	if err != nil {
		return nil, err
	}
	if !pf.Report.CanSend {
		return nil, &PreflightError{Report: pf.Report}
	}

	tester, err := e.registry.Tester(pf.Provider)
	if err != nil {
		return nil, err
	}
	result, err := tester.SendTest(ctx, pf.newsletter, provider.Recipient{
		Email:     toEmail,
		FirstName: "Test",
		LastName:  "Recipient",
	})
	if err != nil {
		return nil, err
	}

	e.events.MustRecord(ctx, newsletterID, domain.EventTestSent, domain.WebhookPayload{
		Provider: string(result.Provider), RecordType: "test", Kind: "test", Recipient: toEmail,
	})
	return result, nil
}

// Transition applies a generic lifecycle change (the PATCH status path).
// The scheduled state is unreachable here; Schedule is its only entry.
func (e *Engine) Transition(ctx context.Context, newsletterID string, to domain.NewsletterStatus) (*domain.Newsletter, error) {
	n, err := e.store.GetNewsletter(ctx, newsletterID)
	if err != nil {
		return nil, err
	}
	if err := domain.Transition(n, to, e.now()); err != nil {
		return nil, err
	}
	if err := e.store.SaveLifecycle(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// ReconcileStatus derives the newsletter status from its delivery counts.
// Zero queued with at least one sent is terminal success; zero queued,
// zero sent, and at least one failure while scheduled falls back to
// approved so the newsletter can be fixed and re-sent. Anything else is
// left alone (queued rows mean webhooks are still outstanding).
func (e *Engine) ReconcileStatus(ctx context.Context, newsletterID string) error {
	counts, err := e.queue.Counts(ctx, newsletterID)
	if err != nil {
		return err
	}
	n, err := e.store.GetNewsletter(ctx, newsletterID)
	if err != nil {
		return err
	}

	switch {
	case counts.Queued == 0 && counts.Sent >= 1 && n.Status != domain.StatusSent:
		if err := domain.Transition(n, domain.StatusSent, e.now()); err != nil {
			// a draft with stray sent rows cannot legally finish
			log.Printf("[Orchestrator] Not finalizing %s: %v", n.ID, err)
			return nil
		}
		if err := e.store.SaveLifecycle(ctx, n); err != nil {
			return err
		}
		e.events.MustRecord(ctx, n.ID, domain.EventSendCompleted, domain.SendPayload{
			Accepted: counts.Sent, Failed: counts.Failed + counts.Bounced, Source: "reconciler",
		})
		log.Printf("[Orchestrator] Newsletter %s confirmed sent (%d delivered)", n.ID, counts.Sent)

	case counts.Queued == 0 && counts.Sent == 0 &&
		counts.Failed+counts.Bounced+counts.Unsubscribed >= 1 &&
		n.Status == domain.StatusScheduled:
		if err := domain.Transition(n, domain.StatusApproved, e.now()); err != nil {
			return err
		}
		if err := e.store.SaveLifecycle(ctx, n); err != nil {
			return err
		}
		e.events.MustRecord(ctx, n.ID, domain.EventSendFailed, domain.SendPayload{
			Failed: counts.Failed + counts.Bounced + counts.Unsubscribed, Source: "reconciler",
		})
		log.Printf("[Orchestrator] Newsletter %s fell back to approved after total failure", n.ID)
	}
	return nil
}

// joinRecipients pairs delivery rows with their contacts' name fields.
func joinRecipients(deliveries []domain.Delivery, contacts []domain.Contact) []provider.Recipient {
	byID := make(map[string]domain.Contact, len(contacts))
	for _, c := range contacts {
		byID[c.ID] = c
	}
	recipients := make([]provider.Recipient, 0, len(deliveries))
	for _, d := range deliveries {
		r := provider.Recipient{
			DeliveryID: d.ID,
			ContactID:  d.ContactID,
			Email:      d.Email,
		}
		if c, ok := byID[d.ContactID]; ok {
			r.FirstName = c.FirstName
			r.LastName = c.LastName
		}
		recipients = append(recipients, r)
	}
	return recipients
}
