package schedule

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"chairside/backend/internal/domain"
	"chairside/backend/internal/store"
)

// IntervalStore is the in-process snapshot of occupied intervals per
// professional. It performs no validation; the persisted store remains the
// authority for cross-client conflicts.
type IntervalStore struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]domain.Interval
}

func NewIntervalStore() *IntervalStore {
	return &IntervalStore{byID: make(map[uuid.UUID]domain.Interval)}
}

// Load replaces the full contents, typically from a boot-time read of the
// persisted store. Cancelled appointments are dropped.
func (s *IntervalStore) Load(intervals []domain.Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[uuid.UUID]domain.Interval, len(intervals))
	for _, iv := range intervals {
		if !iv.Active() {
			continue
		}
		s.byID[iv.ID] = iv
	}
}

func (s *IntervalStore) Get(id uuid.UUID) (domain.Interval, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	iv, ok := s.byID[id]
	return iv, ok
}

// Query returns all active intervals for the professional intersecting
// [rangeStart, rangeEnd), ordered by start time ascending. The result is a
// fresh snapshot each call.
func (s *IntervalStore) Query(professionalID string, rangeStart, rangeEnd time.Time) []domain.Interval {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Interval, 0, 8)
	for _, iv := range s.byID {
		if iv.ProfessionalID != professionalID {
			continue
		}
		if !iv.Active() {
			continue
		}
		if !domain.Overlaps(iv.StartTime, iv.EndTime, rangeStart, rangeEnd) {
			continue
		}
		out = append(out, iv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Overlaps reports whether any blocking interval of one of the given kinds,
// other than excludeID, intersects [start, end). Half-open semantics: touching
// endpoints do not conflict. When several intervals conflict, the
// earliest-starting one is reported.
func (s *IntervalStore) Overlaps(professionalID string, start, end time.Time, excludeID uuid.UUID, kinds ...domain.IntervalKind) (uuid.UUID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found    bool
		earliest domain.Interval
	)
	for _, iv := range s.byID {
		if iv.ProfessionalID != professionalID || iv.ID == excludeID {
			continue
		}
		if !iv.Blocks() {
			continue
		}
		if !kindMatches(iv.Kind, kinds) {
			continue
		}
		if !domain.Overlaps(iv.StartTime, iv.EndTime, start, end) {
			continue
		}
		if !found || iv.StartTime.Before(earliest.StartTime) {
			found = true
			earliest = iv
		}
	}
	if !found {
		return uuid.Nil, false
	}
	return earliest.ID, true
}

func kindMatches(kind domain.IntervalKind, kinds []domain.IntervalKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (s *IntervalStore) Insert(iv domain.Interval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[iv.ID] = iv
}

func (s *IntervalStore) Remove(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

// UpdateStatus records an appointment status change. Cancelled intervals stay
// in the snapshot so later transition attempts can be judged against their
// terminal state; Query and Overlaps already ignore them.
func (s *IntervalStore) UpdateStatus(id uuid.UUID, status domain.AppointmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	iv.Status = status
	s.byID[id] = iv
	return nil
}

func (s *IntervalStore) Move(id uuid.UUID, newStart, newEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	iv, ok := s.byID[id]
	if !ok {
		return store.ErrNotFound
	}
	iv.StartTime = newStart
	iv.EndTime = newEnd
	s.byID[id] = iv
	return nil
}
