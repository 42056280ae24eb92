package domain

import (
	"fmt"
	"time"
)

// ErrInvalidTransition wraps a rejected lifecycle transition. It carries
// both statuses so handlers can surface a descriptive message.
type ErrInvalidTransition struct {
	From NewsletterStatus
	To   NewsletterStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot transition newsletter from %q to %q", e.From, e.To)
}

// transitions is the directional table of legal status changes reachable
// through the generic transition path. StatusScheduled is deliberately
// absent from every target list: it is only reachable through Schedule.
// StatusSent accepts no outgoing transition (sent -> sent is a no-op).
var transitions = map[NewsletterStatus][]NewsletterStatus{
	StatusDraft:            {StatusInReview},
	StatusInReview:         {StatusDraft, StatusChangesRequested, StatusApproved},
	StatusChangesRequested: {StatusDraft, StatusInReview},
	StatusApproved:         {StatusDraft, StatusInReview, StatusSent},
	StatusScheduled:        {StatusApproved, StatusSent},
	StatusSent:             {},
}

// CanTransition reports whether the generic transition from -> to is legal.
func CanTransition(from, to NewsletterStatus) bool {
	if from == StatusSent && to == StatusSent {
		return true
	}
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Transition applies a generic status change and its side effects. Entering
// any non-scheduled, non-sent state clears a stale ScheduledAt; entering
// sent stamps SentAt and a date-only SendDate if not already set. The
// function performs no I/O; persisting the mutated newsletter is the
// caller's job.
func Transition(n *Newsletter, to NewsletterStatus, now time.Time) error {
	if n.Status == StatusSent && to == StatusSent {
		return nil // idempotent no-op on the terminal state
	}
	if !CanTransition(n.Status, to) {
		return &ErrInvalidTransition{From: n.Status, To: to}
	}

	n.Status = to
	switch to {
	case StatusSent:
		MarkSent(n, now)
	case StatusScheduled:
		// unreachable through the table, kept for exhaustiveness
	default:
		n.ScheduledAt = nil
	}
	return nil
}

// CanSchedule reports whether a newsletter in the given status may enter
// the scheduled state. Legal from approved and from scheduled itself
// (re-schedule); never from sent.
func CanSchedule(from NewsletterStatus) bool {
	return from == StatusApproved || from == StatusScheduled
}

// Schedule is the dedicated entry into the scheduled state. The effective
// time is the explicit value when set, else the newsletter's expected send
// date, else now.
func Schedule(n *Newsletter, at *time.Time, now time.Time) error {
	if !CanSchedule(n.Status) {
		return &ErrInvalidTransition{From: n.Status, To: StatusScheduled}
	}

	effective := now
	switch {
	case at != nil:
		effective = *at
	case n.ExpectedSendDate != nil:
		effective = *n.ExpectedSendDate
	}

	n.Status = StatusScheduled
	n.ScheduledAt = &effective
	return nil
}

// MarkSent stamps the terminal state's timestamps. SendDate is date-only
// and preserved when already set (a re-confirmed send keeps the original
// date).
func MarkSent(n *Newsletter, now time.Time) {
	n.Status = StatusSent
	if n.SentAt == nil {
		t := now
		n.SentAt = &t
	}
	if n.SendDate == nil {
		d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		n.SendDate = &d
	}
}
