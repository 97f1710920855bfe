package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"chairside/backend/internal/domain"
	"chairside/backend/internal/store"
)

// The integration test drives the real exclusion constraints, so it needs a
// running Postgres. It pins the pool to one connection and installs a
// throwaway schema via session search_path.
func TestPostgresIntegration_CalendarRepo(t *testing.T) {
	databaseURL := strings.TrimSpace(os.Getenv("CHAIRSIDE_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("CHAIRSIDE_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	db, err := Open(ctx, databaseURL, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})

	schema := "chairside_test_" + randomHex(t, 8)
	if _, err := db.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cleanupCancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(cleanupCtx)
	})
	if _, err := db.NewRaw("SET search_path TO " + schema + ", public").Exec(ctx); err != nil {
		t.Fatalf("set search_path: %v", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	repo := NewCalendarRepo(db)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(30 * time.Minute)

	a1, err := repo.CreateAppointment(ctx, domain.Appointment{
		ID:             uuid.MustParse("00000000-0000-0000-0000-000000000901"),
		ProfessionalID: "pro-1",
		ClientID:       "client-1",
		ServiceID:      "haircut",
		Status:         domain.AppointmentStatusScheduled,
		StartTime:      start,
		EndTime:        end,
	})
	if err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}

	t.Run("overlap hits the exclusion constraint", func(t *testing.T) {
		_, err := repo.CreateAppointment(ctx, domain.Appointment{
			ProfessionalID: "pro-1",
			ClientID:       "client-2",
			ServiceID:      "haircut",
			Status:         domain.AppointmentStatusScheduled,
			StartTime:      start.Add(15 * time.Minute),
			EndTime:        end.Add(15 * time.Minute),
		})
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("touching appointment is allowed", func(t *testing.T) {
		if _, err := repo.CreateAppointment(ctx, domain.Appointment{
			ProfessionalID: "pro-1",
			ClientID:       "client-2",
			ServiceID:      "haircut",
			Status:         domain.AppointmentStatusScheduled,
			StartTime:      end,
			EndTime:        end.Add(30 * time.Minute),
		}); err != nil {
			t.Fatalf("CreateAppointment: %v", err)
		}
	})

	t.Run("idempotent replay returns the original", func(t *testing.T) {
		replay, err := repo.CreateAppointment(ctx, domain.Appointment{
			ID:             a1.ID,
			ProfessionalID: "pro-1",
			ClientID:       "client-1",
			ServiceID:      "haircut",
			Status:         domain.AppointmentStatusScheduled,
			StartTime:      start,
			EndTime:        end,
		})
		if err != nil {
			t.Fatalf("replay: %v", err)
		}
		if replay.ID != a1.ID {
			t.Fatalf("replay id = %s, want %s", replay.ID, a1.ID)
		}
	})

	t.Run("reused key with different payload conflicts", func(t *testing.T) {
		_, err := repo.CreateAppointment(ctx, domain.Appointment{
			ID:             a1.ID,
			ProfessionalID: "pro-1",
			ClientID:       "someone-else",
			ServiceID:      "haircut",
			Status:         domain.AppointmentStatusScheduled,
			StartTime:      start,
			EndTime:        end,
		})
		if !errors.Is(err, store.ErrIdempotencyConflict) {
			t.Fatalf("err = %v, want ErrIdempotencyConflict", err)
		}
	})

	t.Run("cancelled appointment frees the range", func(t *testing.T) {
		if _, err := repo.UpdateAppointmentStatus(ctx, a1.ID, domain.AppointmentStatusCancelled); err != nil {
			t.Fatalf("UpdateAppointmentStatus: %v", err)
		}
		if _, err := repo.CreateAppointment(ctx, domain.Appointment{
			ProfessionalID: "pro-1",
			ClientID:       "client-3",
			ServiceID:      "haircut",
			Status:         domain.AppointmentStatusScheduled,
			StartTime:      start,
			EndTime:        end,
		}); err != nil {
			t.Fatalf("rebooking a cancelled slot: %v", err)
		}
	})

	t.Run("move lands on the constraint too", func(t *testing.T) {
		late, err := repo.CreateAppointment(ctx, domain.Appointment{
			ProfessionalID: "pro-1",
			ClientID:       "client-4",
			ServiceID:      "haircut",
			Status:         domain.AppointmentStatusScheduled,
			StartTime:      start.Add(2 * time.Hour),
			EndTime:        end.Add(2 * time.Hour),
		})
		if err != nil {
			t.Fatalf("CreateAppointment: %v", err)
		}
		if _, err := repo.MoveAppointment(ctx, late.ID, start.Add(15*time.Minute), end.Add(15*time.Minute)); !errors.Is(err, store.ErrConflict) {
			t.Fatalf("err = %v, want ErrConflict", err)
		}
		if _, err := repo.MoveAppointment(ctx, late.ID, start.Add(3*time.Hour), end.Add(3*time.Hour)); err != nil {
			t.Fatalf("MoveAppointment: %v", err)
		}
	})

	t.Run("blocked time overlap conflicts only with blocked time", func(t *testing.T) {
		bStart := start.Add(6 * time.Hour)
		bEnd := bStart.Add(time.Hour)
		b1, err := repo.CreateBlockedTime(ctx, domain.BlockedTime{
			ProfessionalID: "pro-1",
			Reason:         "inventory",
			StartTime:      bStart,
			EndTime:        bEnd,
		})
		if err != nil {
			t.Fatalf("CreateBlockedTime: %v", err)
		}
		_, err = repo.CreateBlockedTime(ctx, domain.BlockedTime{
			ProfessionalID: "pro-1",
			StartTime:      bStart.Add(30 * time.Minute),
			EndTime:        bEnd.Add(30 * time.Minute),
		})
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("err = %v, want ErrConflict", err)
		}
		// An appointment under blocked time passes at this layer; the
		// resolver is the one that rejects it.
		if _, err := repo.CreateAppointment(ctx, domain.Appointment{
			ProfessionalID: "pro-1",
			ClientID:       "client-5",
			ServiceID:      "haircut",
			Status:         domain.AppointmentStatusScheduled,
			StartTime:      bStart,
			EndTime:        bStart.Add(30 * time.Minute),
		}); err != nil {
			t.Fatalf("CreateAppointment under blocked time: %v", err)
		}

		if err := repo.DeleteBlockedTime(ctx, b1.ID); err != nil {
			t.Fatalf("DeleteBlockedTime: %v", err)
		}
		if err := repo.DeleteBlockedTime(ctx, b1.ID); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("second delete = %v, want ErrNotFound", err)
		}
	})

	t.Run("intervals exclude cancelled appointments", func(t *testing.T) {
		rows, err := repo.ListIntervals(ctx, "pro-1", start.Add(-time.Hour), start.Add(12*time.Hour))
		if err != nil {
			t.Fatalf("ListIntervals: %v", err)
		}
		for _, iv := range rows {
			if iv.ID == a1.ID {
				t.Fatal("cancelled appointment should not be listed")
			}
		}
		for i := 1; i < len(rows); i++ {
			if rows[i].StartTime.Before(rows[i-1].StartTime) {
				t.Fatal("intervals should be start-ascending")
			}
		}
	})

	t.Run("business hours round trip", func(t *testing.T) {
		hours, _, err := repo.LoadBusinessHours(ctx)
		if err != nil {
			t.Fatalf("LoadBusinessHours: %v", err)
		}
		if hours.OpeningMinutes != 480 || hours.ClosingMinutes != 1200 {
			t.Fatalf("seeded hours = %d..%d, want 480..1200", hours.OpeningMinutes, hours.ClosingMinutes)
		}

		hours.OpeningMinutes = 540
		holiday := domain.Holiday{
			Day:   time.Date(2026, 12, 25, 0, 0, 0, 0, time.UTC),
			Label: "Christmas",
		}
		if err := repo.SaveBusinessHours(ctx, hours, []domain.Holiday{holiday}); err != nil {
			t.Fatalf("SaveBusinessHours: %v", err)
		}

		reloaded, holidays, err := repo.LoadBusinessHours(ctx)
		if err != nil {
			t.Fatalf("LoadBusinessHours: %v", err)
		}
		if reloaded.OpeningMinutes != 540 {
			t.Fatalf("opening = %d, want 540", reloaded.OpeningMinutes)
		}
		if len(holidays) != 1 || holidays[0].Label != "Christmas" {
			t.Fatalf("holidays = %+v", holidays)
		}
	})

	t.Run("service durations", func(t *testing.T) {
		if _, err := db.NewRaw(
			"INSERT INTO services (id, name, duration_minutes) VALUES (?, ?, ?)",
			"haircut", "Haircut", 30,
		).Exec(ctx); err != nil {
			t.Fatalf("seed service: %v", err)
		}
		d, err := repo.GetDuration(ctx, "haircut")
		if err != nil {
			t.Fatalf("GetDuration: %v", err)
		}
		if d != 30*time.Minute {
			t.Fatalf("duration = %v, want 30m", d)
		}
		if _, err := repo.GetDuration(ctx, "perm"); !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("unknown service = %v, want ErrNotFound", err)
		}
	})
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		for _, stmt := range splitSQLStatements(string(b)) {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

// normalizeExtensionStatement pins btree_gist into public so per-run test
// schemas do not race each other over the extension.
func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
