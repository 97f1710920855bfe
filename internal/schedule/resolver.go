package schedule

import (
	"time"

	"github.com/google/uuid"

	"chairside/backend/internal/domain"
)

type RejectReason string

const (
	RejectInvalidRange           RejectReason = "invalid_range"
	RejectTooSoon                RejectReason = "too_soon"
	RejectOutsideBusinessHours   RejectReason = "outside_business_hours"
	RejectOverlap                RejectReason = "overlap"
	RejectInvalidStateTransition RejectReason = "invalid_state_transition"
)

// Decision is the outcome of validating a candidate interval. A rejected
// decision carries the reason and, for overlaps, the conflicting interval id.
type Decision struct {
	Accepted   bool
	Reason     RejectReason
	ConflictID uuid.UUID
}

func Accept() Decision { return Decision{Accepted: true} }

func Reject(reason RejectReason) Decision { return Decision{Reason: reason} }

func RejectWithConflict(conflictID uuid.UUID) Decision {
	return Decision{Reason: RejectOverlap, ConflictID: conflictID}
}

// Candidate is a proposed [StartTime, EndTime) interval for one professional.
// ExcludeID exempts an existing interval from the overlap check, so a move
// does not conflict with itself.
type Candidate struct {
	ProfessionalID string
	Kind           domain.IntervalKind
	StartTime      time.Time
	EndTime        time.Time
	ExcludeID      uuid.UUID
}

// Resolver decides whether a candidate interval may exist. It is a pure check
// over the business calendar and the interval snapshot; it never mutates
// either. Checks run in a fixed order and the first failure wins, so an
// out-of-hours overlap reports OutsideBusinessHours, not Overlap.
type Resolver struct {
	store       *IntervalStore
	minLeadTime time.Duration

	// Now is the clock used for the lead-time check. Tests override it.
	Now func() time.Time
}

func NewResolver(store *IntervalStore, minLeadTime time.Duration) *Resolver {
	return &Resolver{
		store:       store,
		minLeadTime: minLeadTime,
		Now:         time.Now,
	}
}

func (r *Resolver) Validate(cal domain.BusinessCalendar, c Candidate) Decision {
	if !c.EndTime.After(c.StartTime) {
		return Reject(RejectInvalidRange)
	}

	if c.Kind == domain.IntervalKindAppointment {
		if r.minLeadTime > 0 && c.StartTime.Before(r.Now().Add(r.minLeadTime)) {
			return Reject(RejectTooSoon)
		}
		if !cal.IsOperatingWindow(c.StartTime, c.EndTime) {
			return Reject(RejectOutsideBusinessHours)
		}
	}

	conflictID, conflict := r.store.Overlaps(c.ProfessionalID, c.StartTime, c.EndTime, c.ExcludeID, overlapScope(c.Kind)...)
	if conflict {
		return RejectWithConflict(conflictID)
	}

	return Accept()
}

// overlapScope narrows which interval kinds a candidate is checked against.
// Appointments conflict with everything; blocked time is only checked against
// other blocked time and deliberately ignores appointments.
func overlapScope(kind domain.IntervalKind) []domain.IntervalKind {
	if kind == domain.IntervalKindBlockedTime {
		return []domain.IntervalKind{domain.IntervalKindBlockedTime}
	}
	return nil
}
