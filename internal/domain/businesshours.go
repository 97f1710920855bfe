package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BusinessHours is the single shared weekly operating schedule. Times of day
// are stored as minutes from local midnight; weekdays use 1=Monday .. 7=Sunday.
type BusinessHours struct {
	bun.BaseModel `bun:"table:business_hours"`

	ID             int64     `bun:"id,pk"`
	OpeningMinutes int       `bun:"opening_minutes,notnull"`
	ClosingMinutes int       `bun:"closing_minutes,notnull"`
	SlotMinutes    int       `bun:"slot_minutes,notnull"`
	Weekdays       []int16   `bun:"weekdays,array,notnull"`
	Timezone       string    `bun:"timezone,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

func (h *BusinessHours) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	switch query.(type) {
	case *bun.InsertQuery, *bun.UpdateQuery:
		if h.UpdatedAt.IsZero() {
			h.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

type Holiday struct {
	bun.BaseModel `bun:"table:holidays"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	Day       time.Time `bun:"day,notnull"`
	Label     string    `bun:"label,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (o *Holiday) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if o.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			o.ID = id
		}
		if o.CreatedAt.IsZero() {
			o.CreatedAt = now
		}
		if o.UpdatedAt.IsZero() {
			o.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		o.UpdatedAt = now
	}
	return nil
}

var validSlotMinutes = map[int]struct{}{15: {}, 30: {}, 60: {}}

// ValidateBusinessHours rejects malformed configuration at write time so that
// calendar checks never observe it.
func ValidateBusinessHours(h BusinessHours) error {
	if h.OpeningMinutes < 0 || h.OpeningMinutes >= 24*60 {
		return errors.New("opening time out of range")
	}
	if h.ClosingMinutes <= h.OpeningMinutes || h.ClosingMinutes > 24*60 {
		return errors.New("closing time must be after opening time")
	}
	if _, ok := validSlotMinutes[h.SlotMinutes]; !ok {
		return errors.New("slot duration must be 15, 30 or 60 minutes")
	}
	if len(h.Weekdays) == 0 {
		return errors.New("at least one weekday is required")
	}
	seen := make(map[int16]struct{}, len(h.Weekdays))
	for _, wd := range h.Weekdays {
		if wd < 1 || wd > 7 {
			return fmt.Errorf("invalid weekday %d", wd)
		}
		if _, ok := seen[wd]; ok {
			return fmt.Errorf("duplicate weekday %d", wd)
		}
		seen[wd] = struct{}{}
	}
	if _, err := time.LoadLocation(h.Timezone); err != nil {
		return errors.New("invalid timezone")
	}
	return nil
}

// BusinessCalendar answers operating-hours questions for validated
// configuration. Construct via NewBusinessCalendar only.
type BusinessCalendar struct {
	hours    BusinessHours
	holidays []Holiday
	weekdays map[int16]struct{}
	byDay    map[string]Holiday
	loc      *time.Location
}

func NewBusinessCalendar(hours BusinessHours, holidays []Holiday) (BusinessCalendar, error) {
	if err := ValidateBusinessHours(hours); err != nil {
		return BusinessCalendar{}, err
	}
	loc, err := time.LoadLocation(hours.Timezone)
	if err != nil {
		return BusinessCalendar{}, errors.New("invalid timezone")
	}

	weekdays := make(map[int16]struct{}, len(hours.Weekdays))
	for _, wd := range hours.Weekdays {
		weekdays[wd] = struct{}{}
	}

	byDay := make(map[string]Holiday, len(holidays))
	sorted := make([]Holiday, len(holidays))
	copy(sorted, holidays)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Day.Before(sorted[j].Day) })
	for _, hol := range sorted {
		byDay[hol.Day.In(loc).Format("2006-01-02")] = hol
	}

	return BusinessCalendar{
		hours:    hours,
		holidays: sorted,
		weekdays: weekdays,
		byDay:    byDay,
		loc:      loc,
	}, nil
}

func (c BusinessCalendar) Hours() BusinessHours { return c.hours }

func (c BusinessCalendar) Holidays() []Holiday {
	out := make([]Holiday, len(c.holidays))
	copy(out, c.holidays)
	return out
}

func (c BusinessCalendar) Location() *time.Location { return c.loc }

func (c BusinessCalendar) SlotDuration() time.Duration {
	return time.Duration(c.hours.SlotMinutes) * time.Minute
}

// WeekdayNumber maps time.Weekday to the 1=Monday .. 7=Sunday convention.
func WeekdayNumber(wd time.Weekday) int16 {
	if wd == time.Sunday {
		return 7
	}
	return int16(wd)
}

func (c BusinessCalendar) IsHoliday(t time.Time) (Holiday, bool) {
	hol, ok := c.byDay[t.In(c.loc).Format("2006-01-02")]
	return hol, ok
}

func (c BusinessCalendar) activeWeekday(t time.Time) bool {
	_, ok := c.weekdays[WeekdayNumber(t.In(c.loc).Weekday())]
	return ok
}

// DayWindow returns the opening and closing instants for the local calendar
// date of t. ok is false on holidays and inactive weekdays.
func (c BusinessCalendar) DayWindow(t time.Time) (open, close time.Time, ok bool) {
	if _, holiday := c.IsHoliday(t); holiday {
		return time.Time{}, time.Time{}, false
	}
	if !c.activeWeekday(t) {
		return time.Time{}, time.Time{}, false
	}
	local := t.In(c.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	open = midnight.Add(time.Duration(c.hours.OpeningMinutes) * time.Minute)
	close = midnight.Add(time.Duration(c.hours.ClosingMinutes) * time.Minute)
	return open, close, true
}

// IsOperatingAt reports whether the instant falls inside [opening, closing)
// on an active, non-holiday day.
func (c BusinessCalendar) IsOperatingAt(t time.Time) bool {
	open, close, ok := c.DayWindow(t)
	if !ok {
		return false
	}
	return !t.Before(open) && t.Before(close)
}

// IsOperatingWindow reports whether every instant of [start, end) is within
// operating hours. The window must stay inside a single day's open window, so
// anything crossing midnight fails.
func (c BusinessCalendar) IsOperatingWindow(start, end time.Time) bool {
	if !end.After(start) {
		return false
	}
	open, close, ok := c.DayWindow(start)
	if !ok {
		return false
	}
	return !start.Before(open) && !end.After(close)
}

// NextSlotBoundary rounds the instant up to the nearest slot boundary, counted
// in slot-duration multiples from that day's opening time.
func (c BusinessCalendar) NextSlotBoundary(t time.Time) time.Time {
	local := t.In(c.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	open := midnight.Add(time.Duration(c.hours.OpeningMinutes) * time.Minute)
	if !t.After(open) {
		return open
	}
	slot := c.SlotDuration()
	offset := t.Sub(open)
	steps := offset / slot
	if offset%slot != 0 {
		steps++
	}
	return open.Add(steps * slot)
}

// SlotStarts materializes the bookable slot boundaries for the local calendar
// date of day, oldest first. Nil on closed days.
func (c BusinessCalendar) SlotStarts(day time.Time) []time.Time {
	open, close, ok := c.DayWindow(day)
	if !ok {
		return nil
	}
	slot := c.SlotDuration()
	out := make([]time.Time, 0, int(close.Sub(open)/slot))
	for cur := open; !cur.Add(slot).After(close); cur = cur.Add(slot) {
		out = append(out, cur)
	}
	return out
}

// FullDaySpan expands [start, end) to the full local calendar days it touches.
func (c BusinessCalendar) FullDaySpan(start, end time.Time) (time.Time, time.Time) {
	s := start.In(c.loc)
	dayStart := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, c.loc)
	if !end.After(start) {
		end = start
	}
	e := end.In(c.loc)
	dayEnd := time.Date(e.Year(), e.Month(), e.Day(), 0, 0, 0, 0, c.loc)
	if e.After(dayEnd) || dayEnd.Equal(dayStart) {
		dayEnd = dayEnd.AddDate(0, 0, 1)
	}
	return dayStart.UTC(), dayEnd.UTC()
}
