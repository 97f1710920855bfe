package view

import (
	"hash/fnv"
	"time"

	"chairside/backend/internal/domain"
)

// Event is the calendar-grid-renderable projection of an interval. It carries
// no business rules and can be rebuilt from the interval snapshot at any time.
type Event struct {
	ID     string    `json:"id"`
	Lane   string    `json:"lane"`
	Label  string    `json:"label"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Color  string    `json:"color"`
	Kind   string    `json:"kind"`
	Status string    `json:"status,omitempty"`
	AllDay bool      `json:"all_day,omitempty"`
}

var palette = []string{
	"#2f6fed",
	"#0f9d58",
	"#ab47bc",
	"#ef6c00",
	"#00838f",
	"#c2185b",
	"#5d4037",
	"#455a64",
}

const blockedColor = "#9e9e9e"

// ColorFor assigns a stable lane color per professional.
func ColorFor(professionalID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(professionalID))
	return palette[h.Sum32()%uint32(len(palette))]
}

func Events(intervals []domain.Interval) []Event {
	out := make([]Event, 0, len(intervals))
	for _, iv := range intervals {
		out = append(out, fromInterval(iv))
	}
	return out
}

func fromInterval(iv domain.Interval) Event {
	ev := Event{
		ID:     iv.ID.String(),
		Lane:   iv.ProfessionalID,
		Start:  iv.StartTime,
		End:    iv.EndTime,
		Kind:   string(iv.Kind),
		AllDay: iv.AllDay,
	}
	if iv.Kind == domain.IntervalKindBlockedTime {
		ev.Color = blockedColor
		ev.Label = "Blocked"
		if iv.Label != "" {
			ev.Label = "Blocked: " + iv.Label
		}
		return ev
	}
	ev.Color = ColorFor(iv.ProfessionalID)
	ev.Label = iv.Label
	ev.Status = string(iv.Status)
	return ev
}
