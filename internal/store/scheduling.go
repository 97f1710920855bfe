package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chairside/backend/internal/domain"
)

// CalendarRepository is the persisted, authoritative side of the schedule.
// Overlap exclusion is enforced here as the backstop for concurrent clients;
// a violated constraint surfaces as ErrConflict.
type CalendarRepository interface {
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	MoveAppointment(ctx context.Context, appointmentID uuid.UUID, newStart, newEnd time.Time) (domain.Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, status domain.AppointmentStatus) (domain.Appointment, error)

	CreateBlockedTime(ctx context.Context, bt domain.BlockedTime) (domain.BlockedTime, error)
	DeleteBlockedTime(ctx context.Context, blockedTimeID uuid.UUID) error

	ListIntervals(ctx context.Context, professionalID string, windowStart, windowEnd time.Time) ([]domain.Interval, error)
	ListAllIntervals(ctx context.Context) ([]domain.Interval, error)

	LoadBusinessHours(ctx context.Context) (domain.BusinessHours, []domain.Holiday, error)
	SaveBusinessHours(ctx context.Context, hours domain.BusinessHours, holidays []domain.Holiday) error
}

// ServiceCatalog resolves a service identifier to its booked duration.
type ServiceCatalog interface {
	GetDuration(ctx context.Context, serviceID string) (time.Duration, error)
}
