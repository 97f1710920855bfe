package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type IntervalKind string

const (
	IntervalKindAppointment IntervalKind = "appointment"
	IntervalKindBlockedTime IntervalKind = "blocked_time"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusConfirmed AppointmentStatus = "confirmed"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case AppointmentStatusScheduled, AppointmentStatusConfirmed, AppointmentStatusCompleted, AppointmentStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the appointment status machine allows the
// move: scheduled -> confirmed -> completed, with cancellation allowed from
// scheduled or confirmed. Completed and cancelled are terminal.
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	switch s {
	case AppointmentStatusScheduled:
		return next == AppointmentStatusConfirmed || next == AppointmentStatusCancelled
	case AppointmentStatusConfirmed:
		return next == AppointmentStatusCompleted || next == AppointmentStatusCancelled
	default:
		return false
	}
}

// Blocks reports whether an appointment in this status occupies its time range
// for conflict purposes. Completed and cancelled appointments free the slot.
func (s AppointmentStatus) Blocks() bool {
	return s == AppointmentStatusScheduled || s == AppointmentStatusConfirmed
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID             uuid.UUID         `bun:"id,pk,type:uuid"`
	ProfessionalID string            `bun:"professional_id,notnull"`
	ClientID       string            `bun:"client_id,notnull"`
	ServiceID      string            `bun:"service_id,notnull"`
	Status         AppointmentStatus `bun:"status,notnull"`
	StartTime      time.Time         `bun:"start_time,notnull"`
	EndTime        time.Time         `bun:"end_time,notnull"`
	CreatedAt      time.Time         `bun:"created_at,notnull"`
	UpdatedAt      time.Time         `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

func (a Appointment) Interval() Interval {
	return Interval{
		ID:             a.ID,
		ProfessionalID: a.ProfessionalID,
		Kind:           IntervalKindAppointment,
		Status:         a.Status,
		Label:          a.ServiceID,
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
	}
}

type BlockedTime struct {
	bun.BaseModel `bun:"table:blocked_times"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	ProfessionalID string    `bun:"professional_id,notnull"`
	Reason         string    `bun:"reason"`
	StartTime      time.Time `bun:"start_time,notnull"`
	EndTime        time.Time `bun:"end_time,notnull"`
	AllDay         bool      `bun:"all_day,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

func (b *BlockedTime) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			b.ID = id
		}
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b BlockedTime) Interval() Interval {
	return Interval{
		ID:             b.ID,
		ProfessionalID: b.ProfessionalID,
		Kind:           IntervalKindBlockedTime,
		Label:          b.Reason,
		StartTime:      b.StartTime,
		EndTime:        b.EndTime,
		AllDay:         b.AllDay,
	}
}

// Interval is the occupancy view shared by appointments and blocked time: a
// half-open range [StartTime, EndTime) on one professional's calendar.
type Interval struct {
	ID             uuid.UUID
	ProfessionalID string
	Kind           IntervalKind
	Status         AppointmentStatus
	Label          string
	StartTime      time.Time
	EndTime        time.Time
	AllDay         bool
}

// Active reports whether the interval still belongs on the calendar at all.
// Cancelled appointments are gone; completed ones remain as history.
func (iv Interval) Active() bool {
	if iv.Kind == IntervalKindBlockedTime {
		return true
	}
	return iv.Status != AppointmentStatusCancelled
}

// Blocks reports whether the interval occupies capacity for conflict checks.
func (iv Interval) Blocks() bool {
	if iv.Kind == IntervalKindBlockedTime {
		return true
	}
	return iv.Status.Blocks()
}

// Overlaps uses half-open semantics: touching endpoints do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

type Service struct {
	bun.BaseModel `bun:"table:services"`

	ID              string    `bun:"id,pk"`
	Name            string    `bun:"name,notnull"`
	DurationMinutes int       `bun:"duration_minutes,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`
}

func (s *Service) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		if s.UpdatedAt.IsZero() {
			s.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		s.UpdatedAt = now
	}
	return nil
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Role string

const (
	RoleClient       Role = "client"
	RoleProfessional Role = "professional"
	RoleAdmin        Role = "admin"
)

func (r Role) Valid() bool {
	return r == RoleClient || r == RoleProfessional || r == RoleAdmin
}
