package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"chairside/backend/internal/domain"
	"chairside/backend/internal/schedule"
	"chairside/backend/internal/store"
)

var ErrForbidden = errors.New("forbidden")

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// RejectError is the typed outcome of a scheduling decision that did not pass
// validation. ConflictID is set for overlap rejections.
type RejectError struct {
	Reason     schedule.RejectReason
	ConflictID uuid.UUID
}

func (e *RejectError) Error() string {
	if e.Reason == schedule.RejectOverlap && e.ConflictID != uuid.Nil {
		return fmt.Sprintf("rejected: %s (conflicts with %s)", e.Reason, e.ConflictID)
	}
	return fmt.Sprintf("rejected: %s", e.Reason)
}

func reject(d schedule.Decision) error {
	return &RejectError{Reason: d.Reason, ConflictID: d.ConflictID}
}

// Actor is the caller identity handed in by the external authorization
// collaborator. Only the role participates in decisions here.
type Actor struct {
	ID   string
	Role domain.Role
}

func (a Actor) canManageCalendar() bool {
	return a.Role == domain.RoleProfessional || a.Role == domain.RoleAdmin
}

// Service is the single mutation surface for the schedule. Every operation
// validates against the resolver first, persists second, and only then
// applies the change to the interval snapshot: a failed write must never
// leave the snapshot ahead of the store.
type Service struct {
	repo     store.CalendarRepository
	services store.ServiceCatalog
	cache    *schedule.IntervalStore
	resolver *schedule.Resolver

	mu       sync.RWMutex
	calendar domain.BusinessCalendar
}

func NewService(repo store.CalendarRepository, services store.ServiceCatalog, cache *schedule.IntervalStore, resolver *schedule.Resolver, calendar domain.BusinessCalendar) *Service {
	return &Service{
		repo:     repo,
		services: services,
		cache:    cache,
		resolver: resolver,
		calendar: calendar,
	}
}

func (s *Service) Calendar() domain.BusinessCalendar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calendar
}

type CreateAppointmentInput struct {
	ProfessionalID string
	ClientID       string
	ServiceID      string
	StartTime      time.Time
	IdempotencyKey string
}

func (s *Service) CreateAppointment(ctx context.Context, actor Actor, in CreateAppointmentInput) (domain.Appointment, error) {
	if !actor.Role.Valid() {
		return domain.Appointment{}, ErrForbidden
	}
	if in.ProfessionalID == "" {
		return domain.Appointment{}, validationError("professional_id is required")
	}
	if in.ClientID == "" {
		return domain.Appointment{}, validationError("client_id is required")
	}
	if in.ServiceID == "" {
		return domain.Appointment{}, validationError("service_id is required")
	}

	duration, err := s.services.GetDuration(ctx, in.ServiceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Appointment{}, validationError("unknown service")
		}
		return domain.Appointment{}, err
	}
	if duration <= 0 {
		return domain.Appointment{}, validationError("service has no usable duration")
	}

	start := in.StartTime.UTC()
	end := start.Add(duration)

	dec := s.resolver.Validate(s.Calendar(), schedule.Candidate{
		ProfessionalID: in.ProfessionalID,
		Kind:           domain.IntervalKindAppointment,
		StartTime:      start,
		EndTime:        end,
	})
	if !dec.Accepted {
		return domain.Appointment{}, reject(dec)
	}

	appt := domain.Appointment{
		ProfessionalID: in.ProfessionalID,
		ClientID:       in.ClientID,
		ServiceID:      in.ServiceID,
		Status:         domain.AppointmentStatusScheduled,
		StartTime:      start,
		EndTime:        end,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		appt.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("chairside:create_appointment:"+in.ProfessionalID+":"+key))
	}

	created, err := s.repo.CreateAppointment(ctx, appt)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Appointment{}, &RejectError{Reason: schedule.RejectOverlap}
		}
		return domain.Appointment{}, err
	}

	s.cache.Insert(created.Interval())
	return created, nil
}

func (s *Service) MoveAppointment(ctx context.Context, actor Actor, appointmentID uuid.UUID, newStart, newEnd time.Time) (domain.Appointment, error) {
	if !actor.canManageCalendar() {
		return domain.Appointment{}, ErrForbidden
	}
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	iv, ok := s.cache.Get(appointmentID)
	if !ok || iv.Kind != domain.IntervalKindAppointment {
		return domain.Appointment{}, store.ErrNotFound
	}
	if !iv.Status.Blocks() {
		return domain.Appointment{}, &RejectError{Reason: schedule.RejectInvalidStateTransition}
	}

	start := newStart.UTC()
	end := newEnd.UTC()

	dec := s.resolver.Validate(s.Calendar(), schedule.Candidate{
		ProfessionalID: iv.ProfessionalID,
		Kind:           domain.IntervalKindAppointment,
		StartTime:      start,
		EndTime:        end,
		ExcludeID:      appointmentID,
	})
	if !dec.Accepted {
		return domain.Appointment{}, reject(dec)
	}

	moved, err := s.repo.MoveAppointment(ctx, appointmentID, start, end)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.Appointment{}, &RejectError{Reason: schedule.RejectOverlap}
		}
		return domain.Appointment{}, err
	}

	_ = s.cache.Move(appointmentID, moved.StartTime, moved.EndTime)
	return moved, nil
}

type CreateBlockedTimeInput struct {
	ProfessionalID string
	Reason         string
	StartTime      time.Time
	EndTime        time.Time
	AllDay         bool
}

func (s *Service) CreateBlockedTime(ctx context.Context, actor Actor, in CreateBlockedTimeInput) (domain.BlockedTime, error) {
	if !actor.canManageCalendar() {
		return domain.BlockedTime{}, ErrForbidden
	}
	if in.ProfessionalID == "" {
		return domain.BlockedTime{}, validationError("professional_id is required")
	}

	start := in.StartTime.UTC()
	end := in.EndTime.UTC()
	if in.AllDay {
		start, end = s.Calendar().FullDaySpan(start, end)
	}

	dec := s.resolver.Validate(s.Calendar(), schedule.Candidate{
		ProfessionalID: in.ProfessionalID,
		Kind:           domain.IntervalKindBlockedTime,
		StartTime:      start,
		EndTime:        end,
	})
	if !dec.Accepted {
		return domain.BlockedTime{}, reject(dec)
	}

	bt := domain.BlockedTime{
		ProfessionalID: in.ProfessionalID,
		Reason:         strings.TrimSpace(in.Reason),
		StartTime:      start,
		EndTime:        end,
		AllDay:         in.AllDay,
	}

	created, err := s.repo.CreateBlockedTime(ctx, bt)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.BlockedTime{}, &RejectError{Reason: schedule.RejectOverlap}
		}
		return domain.BlockedTime{}, err
	}

	s.cache.Insert(created.Interval())
	return created, nil
}

func (s *Service) DeleteBlockedTime(ctx context.Context, actor Actor, blockedTimeID uuid.UUID) error {
	if !actor.canManageCalendar() {
		return ErrForbidden
	}
	if blockedTimeID == uuid.Nil {
		return validationError("blocked_time_id is required")
	}
	if iv, ok := s.cache.Get(blockedTimeID); ok && iv.Kind != domain.IntervalKindBlockedTime {
		return store.ErrNotFound
	}

	if err := s.repo.DeleteBlockedTime(ctx, blockedTimeID); err != nil {
		return err
	}
	_ = s.cache.Remove(blockedTimeID)
	return nil
}

func (s *Service) ConfirmAppointment(ctx context.Context, actor Actor, appointmentID uuid.UUID) (domain.Appointment, error) {
	if !actor.canManageCalendar() {
		return domain.Appointment{}, ErrForbidden
	}
	return s.transition(ctx, appointmentID, domain.AppointmentStatusConfirmed)
}

func (s *Service) CompleteAppointment(ctx context.Context, actor Actor, appointmentID uuid.UUID) (domain.Appointment, error) {
	if !actor.canManageCalendar() {
		return domain.Appointment{}, ErrForbidden
	}
	return s.transition(ctx, appointmentID, domain.AppointmentStatusCompleted)
}

func (s *Service) CancelAppointment(ctx context.Context, actor Actor, appointmentID uuid.UUID) (domain.Appointment, error) {
	if !actor.Role.Valid() {
		return domain.Appointment{}, ErrForbidden
	}
	return s.transition(ctx, appointmentID, domain.AppointmentStatusCancelled)
}

// transition applies a status-machine step. Terminal transitions free the
// interval's capacity, so no overlap re-validation is needed here.
func (s *Service) transition(ctx context.Context, appointmentID uuid.UUID, next domain.AppointmentStatus) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	iv, ok := s.cache.Get(appointmentID)
	if !ok || iv.Kind != domain.IntervalKindAppointment {
		return domain.Appointment{}, store.ErrNotFound
	}
	if !iv.Status.CanTransitionTo(next) {
		return domain.Appointment{}, &RejectError{Reason: schedule.RejectInvalidStateTransition}
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appointmentID, next)
	if err != nil {
		return domain.Appointment{}, err
	}

	_ = s.cache.UpdateStatus(appointmentID, updated.Status)
	return updated, nil
}

// Intervals is the read surface for presentation layers: a fresh snapshot of
// active intervals intersecting the window, start-ascending.
func (s *Service) Intervals(professionalID string, windowStart, windowEnd time.Time) ([]domain.Interval, error) {
	if professionalID == "" {
		return nil, validationError("professional_id is required")
	}
	if !windowEnd.After(windowStart) {
		return nil, validationError("window_end must be after window_start")
	}
	return s.cache.Query(professionalID, windowStart.UTC(), windowEnd.UTC()), nil
}

// FreeSlots lists the bookable slot boundaries of one local calendar day that
// no blocking interval occupies.
func (s *Service) FreeSlots(professionalID string, day time.Time) ([]time.Time, error) {
	if professionalID == "" {
		return nil, validationError("professional_id is required")
	}
	cal := s.Calendar()
	slot := cal.SlotDuration()

	starts := cal.SlotStarts(day)
	out := make([]time.Time, 0, len(starts))
	for _, start := range starts {
		if _, busy := s.cache.Overlaps(professionalID, start, start.Add(slot), uuid.Nil); busy {
			continue
		}
		out = append(out, start.UTC())
	}
	return out, nil
}

type UpdateBusinessHoursInput struct {
	Hours    domain.BusinessHours
	Holidays []domain.Holiday
}

func (s *Service) UpdateBusinessHours(ctx context.Context, actor Actor, in UpdateBusinessHoursInput) (domain.BusinessCalendar, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.BusinessCalendar{}, ErrForbidden
	}

	cal, err := domain.NewBusinessCalendar(in.Hours, in.Holidays)
	if err != nil {
		return domain.BusinessCalendar{}, validationError(err.Error())
	}

	if err := s.repo.SaveBusinessHours(ctx, in.Hours, in.Holidays); err != nil {
		return domain.BusinessCalendar{}, err
	}

	s.mu.Lock()
	s.calendar = cal
	s.mu.Unlock()
	return cal, nil
}
