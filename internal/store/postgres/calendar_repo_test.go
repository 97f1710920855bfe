package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"chairside/backend/internal/domain"
	"chairside/backend/internal/store"
)

func TestAppointmentMatches(t *testing.T) {
	base := domain.Appointment{
		ID:             uuid.MustParse("00000000-0000-0000-0000-000000000901"),
		ProfessionalID: "pro-1",
		ClientID:       "client-1",
		ServiceID:      "haircut",
		StartTime:      time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		EndTime:        time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
	}

	t.Run("identical booking matches", func(t *testing.T) {
		if !appointmentMatches(base, base) {
			t.Fatal("identical appointments should match")
		}
	})

	t.Run("same instant in another zone matches", func(t *testing.T) {
		other := base
		other.StartTime = base.StartTime.In(time.FixedZone("X", 3600))
		other.EndTime = base.EndTime.In(time.FixedZone("X", 3600))
		if !appointmentMatches(base, other) {
			t.Fatal("wall-clock representation should not matter")
		}
	})

	t.Run("different client does not match", func(t *testing.T) {
		other := base
		other.ClientID = "client-2"
		if appointmentMatches(base, other) {
			t.Fatal("different client should not match")
		}
	})

	t.Run("different time does not match", func(t *testing.T) {
		other := base
		other.StartTime = base.StartTime.Add(time.Hour)
		other.EndTime = base.EndTime.Add(time.Hour)
		if appointmentMatches(base, other) {
			t.Fatal("different times should not match")
		}
	})
}

func TestMergeIntervals(t *testing.T) {
	at := func(h int) time.Time {
		return time.Date(2026, 3, 2, h, 0, 0, 0, time.UTC)
	}
	appts := []domain.Appointment{
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000001"), ProfessionalID: "pro-1", Status: domain.AppointmentStatusScheduled, StartTime: at(11), EndTime: at(12)},
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000002"), ProfessionalID: "pro-1", Status: domain.AppointmentStatusConfirmed, StartTime: at(9), EndTime: at(10)},
	}
	blocks := []domain.BlockedTime{
		{ID: uuid.MustParse("00000000-0000-0000-0000-000000000003"), ProfessionalID: "pro-1", StartTime: at(10), EndTime: at(11)},
	}

	out := mergeIntervals(appts, blocks)
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].StartTime.Before(out[i-1].StartTime) {
			t.Fatal("merged intervals should be start-ascending")
		}
	}
	if out[1].Kind != domain.IntervalKindBlockedTime {
		t.Fatalf("middle interval kind = %s, want blocked_time", out[1].Kind)
	}

	if got := mergeIntervals(nil, nil); len(got) != 0 {
		t.Fatalf("empty merge should be empty, got %d", len(got))
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestMapUnavailable(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		if got := mapUnavailable(nil); got != nil {
			t.Fatalf("mapUnavailable(nil) = %v", got)
		}
	})

	t.Run("network error becomes unavailable", func(t *testing.T) {
		if got := mapUnavailable(timeoutErr{}); !errors.Is(got, store.ErrUnavailable) {
			t.Fatalf("mapUnavailable = %v, want ErrUnavailable", got)
		}
	})

	t.Run("deadline becomes unavailable", func(t *testing.T) {
		if got := mapUnavailable(context.DeadlineExceeded); !errors.Is(got, store.ErrUnavailable) {
			t.Fatalf("mapUnavailable = %v, want ErrUnavailable", got)
		}
	})

	t.Run("domain errors pass through", func(t *testing.T) {
		if got := mapUnavailable(store.ErrConflict); !errors.Is(got, store.ErrConflict) || errors.Is(got, store.ErrUnavailable) {
			t.Fatalf("mapUnavailable = %v, want ErrConflict untouched", got)
		}
	})
}
