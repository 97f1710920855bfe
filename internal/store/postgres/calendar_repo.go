package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"chairside/backend/internal/domain"
	"chairside/backend/internal/store"
)

const businessHoursRowID = 1

type CalendarRepo struct {
	db *bun.DB
}

func NewCalendarRepo(db *bun.DB) *CalendarRepo {
	return &CalendarRepo{db: db}
}

func (r *CalendarRepo) inProfessionalTx(ctx context.Context, professionalID string, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockProfessionalCalendar(ctx, tx, professionalID); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

// lockProfessionalCalendar serializes all mutations of one professional's
// calendar within the surrounding transaction.
func lockProfessionalCalendar(ctx context.Context, tx bun.Tx, professionalID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", professionalID).Exec(ctx)
	return err
}

func (r *CalendarRepo) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.inProfessionalTx(ctx, appt.ProfessionalID, func(ctx context.Context, tx bun.Tx) error {
		m := appt
		_, err := tx.NewInsert().Model(&m).Exec(ctx)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) {
				if pgErr.Code == "23P01" && pgErr.ConstraintName == "appointments_no_overlap" {
					return store.ErrConflict
				}
				if pgErr.Code == "23505" {
					var existing domain.Appointment
					selectErr := tx.NewSelect().
						Model(&existing).
						Where("id = ?", m.ID).
						Limit(1).
						Scan(ctx)
					if selectErr != nil {
						return err
					}
					if !appointmentMatches(existing, appt) {
						return store.ErrIdempotencyConflict
					}
					out = existing
					return nil
				}
			}
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Appointment{}, mapUnavailable(err)
	}
	return out, nil
}

// appointmentMatches decides whether a primary-key collision is an idempotent
// replay of the same booking or a reused key.
func appointmentMatches(existing, candidate domain.Appointment) bool {
	return existing.ProfessionalID == candidate.ProfessionalID &&
		existing.ClientID == candidate.ClientID &&
		existing.ServiceID == candidate.ServiceID &&
		existing.StartTime.Equal(candidate.StartTime) &&
		existing.EndTime.Equal(candidate.EndTime)
}

func (r *CalendarRepo) MoveAppointment(ctx context.Context, appointmentID uuid.UUID, newStart, newEnd time.Time) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m domain.Appointment
		err := tx.NewSelect().
			Model(&m).
			Where("id = ?", appointmentID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return store.ErrNotFound
			}
			return err
		}
		if err := lockProfessionalCalendar(ctx, tx, m.ProfessionalID); err != nil {
			return err
		}

		m.StartTime = newStart
		m.EndTime = newEnd
		_, err = tx.NewUpdate().
			Model(&m).
			Column("start_time", "end_time", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23P01" && pgErr.ConstraintName == "appointments_no_overlap" {
				return store.ErrConflict
			}
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Appointment{}, mapUnavailable(err)
	}
	return out, nil
}

func (r *CalendarRepo) UpdateAppointmentStatus(ctx context.Context, appointmentID uuid.UUID, status domain.AppointmentStatus) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var m domain.Appointment
		err := tx.NewSelect().
			Model(&m).
			Where("id = ?", appointmentID).
			Limit(1).
			Scan(ctx)
		if err != nil {
			if isNoRows(err) {
				return store.ErrNotFound
			}
			return err
		}
		if err := lockProfessionalCalendar(ctx, tx, m.ProfessionalID); err != nil {
			return err
		}

		m.Status = status
		_, err = tx.NewUpdate().
			Model(&m).
			Column("status", "updated_at").
			WherePK().
			Exec(ctx)
		if err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Appointment{}, mapUnavailable(err)
	}
	return out, nil
}

func (r *CalendarRepo) CreateBlockedTime(ctx context.Context, bt domain.BlockedTime) (domain.BlockedTime, error) {
	var out domain.BlockedTime
	err := r.inProfessionalTx(ctx, bt.ProfessionalID, func(ctx context.Context, tx bun.Tx) error {
		m := bt
		_, err := tx.NewInsert().Model(&m).Exec(ctx)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23P01" && pgErr.ConstraintName == "blocked_times_no_overlap" {
				return store.ErrConflict
			}
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.BlockedTime{}, mapUnavailable(err)
	}
	return out, nil
}

func (r *CalendarRepo) DeleteBlockedTime(ctx context.Context, blockedTimeID uuid.UUID) error {
	res, err := r.db.NewDelete().
		Model((*domain.BlockedTime)(nil)).
		Where("id = ?", blockedTimeID).
		Exec(ctx)
	if err != nil {
		return mapUnavailable(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *CalendarRepo) ListIntervals(ctx context.Context, professionalID string, windowStart, windowEnd time.Time) ([]domain.Interval, error) {
	var appts []domain.Appointment
	err := r.db.NewSelect().
		Model(&appts).
		Where("professional_id = ?", professionalID).
		Where("status != ?", domain.AppointmentStatusCancelled).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapUnavailable(err)
	}

	var blocks []domain.BlockedTime
	err = r.db.NewSelect().
		Model(&blocks).
		Where("professional_id = ?", professionalID).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, mapUnavailable(err)
	}

	return mergeIntervals(appts, blocks), nil
}

func (r *CalendarRepo) ListAllIntervals(ctx context.Context) ([]domain.Interval, error) {
	var appts []domain.Appointment
	err := r.db.NewSelect().
		Model(&appts).
		Where("status != ?", domain.AppointmentStatusCancelled).
		Scan(ctx)
	if err != nil {
		return nil, mapUnavailable(err)
	}

	var blocks []domain.BlockedTime
	err = r.db.NewSelect().
		Model(&blocks).
		Scan(ctx)
	if err != nil {
		return nil, mapUnavailable(err)
	}

	return mergeIntervals(appts, blocks), nil
}

func mergeIntervals(appts []domain.Appointment, blocks []domain.BlockedTime) []domain.Interval {
	out := make([]domain.Interval, 0, len(appts)+len(blocks))
	for _, a := range appts {
		out = append(out, a.Interval())
	}
	for _, b := range blocks {
		out = append(out, b.Interval())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

func (r *CalendarRepo) LoadBusinessHours(ctx context.Context) (domain.BusinessHours, []domain.Holiday, error) {
	var hours domain.BusinessHours
	err := r.db.NewSelect().
		Model(&hours).
		Where("id = ?", businessHoursRowID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return domain.BusinessHours{}, nil, store.ErrNotFound
		}
		return domain.BusinessHours{}, nil, mapUnavailable(err)
	}

	var holidays []domain.Holiday
	err = r.db.NewSelect().
		Model(&holidays).
		OrderExpr("day ASC").
		Scan(ctx)
	if err != nil {
		return domain.BusinessHours{}, nil, mapUnavailable(err)
	}
	return hours, holidays, nil
}

func (r *CalendarRepo) SaveBusinessHours(ctx context.Context, hours domain.BusinessHours, holidays []domain.Holiday) error {
	if err := domain.ValidateBusinessHours(hours); err != nil {
		return err
	}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		m := hours
		m.ID = businessHoursRowID
		m.UpdatedAt = time.Now().UTC()
		_, err := tx.NewInsert().
			Model(&m).
			On("CONFLICT (id) DO UPDATE").
			Set("opening_minutes = EXCLUDED.opening_minutes").
			Set("closing_minutes = EXCLUDED.closing_minutes").
			Set("slot_minutes = EXCLUDED.slot_minutes").
			Set("weekdays = EXCLUDED.weekdays").
			Set("timezone = EXCLUDED.timezone").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return err
		}

		if _, err := tx.NewDelete().Model((*domain.Holiday)(nil)).Where("TRUE").Exec(ctx); err != nil {
			return err
		}
		if len(holidays) == 0 {
			return nil
		}
		rows := make([]domain.Holiday, len(holidays))
		copy(rows, holidays)
		_, err = tx.NewInsert().Model(&rows).Exec(ctx)
		return err
	})
	return mapUnavailable(err)
}

func (r *CalendarRepo) GetDuration(ctx context.Context, serviceID string) (time.Duration, error) {
	var svc domain.Service
	err := r.db.NewSelect().
		Model(&svc).
		Where("id = ?", serviceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return 0, store.ErrNotFound
		}
		return 0, mapUnavailable(err)
	}
	return svc.Duration(), nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// mapUnavailable translates connectivity failures into the retryable
// ErrUnavailable condition; everything else passes through untouched.
func mapUnavailable(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}
