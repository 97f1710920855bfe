package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chairside/backend/internal/domain"
	"chairside/backend/internal/schedule"
	"chairside/backend/internal/service/scheduling"
	"chairside/backend/internal/store"
	"chairside/backend/internal/view"
)

type schedulingService interface {
	Calendar() domain.BusinessCalendar
	CreateAppointment(ctx context.Context, actor scheduling.Actor, in scheduling.CreateAppointmentInput) (domain.Appointment, error)
	MoveAppointment(ctx context.Context, actor scheduling.Actor, appointmentID uuid.UUID, newStart, newEnd time.Time) (domain.Appointment, error)
	ConfirmAppointment(ctx context.Context, actor scheduling.Actor, appointmentID uuid.UUID) (domain.Appointment, error)
	CompleteAppointment(ctx context.Context, actor scheduling.Actor, appointmentID uuid.UUID) (domain.Appointment, error)
	CancelAppointment(ctx context.Context, actor scheduling.Actor, appointmentID uuid.UUID) (domain.Appointment, error)
	CreateBlockedTime(ctx context.Context, actor scheduling.Actor, in scheduling.CreateBlockedTimeInput) (domain.BlockedTime, error)
	DeleteBlockedTime(ctx context.Context, actor scheduling.Actor, blockedTimeID uuid.UUID) error
	Intervals(professionalID string, windowStart, windowEnd time.Time) ([]domain.Interval, error)
	FreeSlots(professionalID string, day time.Time) ([]time.Time, error)
	UpdateBusinessHours(ctx context.Context, actor scheduling.Actor, in scheduling.UpdateBusinessHoursInput) (domain.BusinessCalendar, error)
}

type SchedulingHandler struct {
	svc schedulingService
	log *slog.Logger
}

func NewSchedulingHandler(svc schedulingService, log *slog.Logger) *SchedulingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &SchedulingHandler{
		svc: svc,
		log: log.With(slog.String("component", "http.scheduling")),
	}
}

func actorFrom(c *gin.Context) scheduling.Actor {
	return scheduling.Actor{
		ID:   strings.TrimSpace(c.GetHeader("X-Actor-Id")),
		Role: domain.Role(strings.TrimSpace(strings.ToLower(c.GetHeader("X-Actor-Role")))),
	}
}

func idempotencyKey(c *gin.Context) string {
	key := c.GetHeader("Idempotency-Key")
	if key == "" {
		key = c.GetHeader("X-Idempotency-Key")
	}
	return strings.TrimSpace(key)
}

type createAppointmentRequest struct {
	ClientID  string    `json:"client_id" binding:"required"`
	ServiceID string    `json:"service_id" binding:"required"`
	StartTime time.Time `json:"start_time" binding:"required"`
}

func (h *SchedulingHandler) CreateAppointment(c *gin.Context) {
	log := h.log.With(slog.String("op", "CreateAppointment"))

	var req createAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		writeInvalid(c, "invalid payload")
		return
	}

	appt, err := h.svc.CreateAppointment(c.Request.Context(), actorFrom(c), scheduling.CreateAppointmentInput{
		ProfessionalID: c.Param("id"),
		ClientID:       req.ClientID,
		ServiceID:      req.ServiceID,
		StartTime:      req.StartTime,
		IdempotencyKey: idempotencyKey(c),
	})
	if err != nil {
		h.writeError(c, log, err)
		return
	}

	log.Info(
		"appointment created",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("professional_id", appt.ProfessionalID),
		slog.Time("start_time", appt.StartTime),
		slog.Time("end_time", appt.EndTime),
	)
	c.JSON(http.StatusCreated, toAppointmentResponse(appt))
}

type moveAppointmentRequest struct {
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time" binding:"required"`
}

func (h *SchedulingHandler) MoveAppointment(c *gin.Context) {
	log := h.log.With(slog.String("op", "MoveAppointment"))

	id, ok := pathID(c, log)
	if !ok {
		return
	}
	var req moveAppointmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		writeInvalid(c, "invalid payload")
		return
	}

	appt, err := h.svc.MoveAppointment(c.Request.Context(), actorFrom(c), id, req.StartTime, req.EndTime)
	if err != nil {
		h.writeError(c, log, err)
		return
	}

	log.Info(
		"appointment moved",
		slog.String("appointment_id", appt.ID.String()),
		slog.Time("start_time", appt.StartTime),
		slog.Time("end_time", appt.EndTime),
	)
	c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

func (h *SchedulingHandler) ConfirmAppointment(c *gin.Context) {
	h.transition(c, "ConfirmAppointment", h.svc.ConfirmAppointment)
}

func (h *SchedulingHandler) CompleteAppointment(c *gin.Context) {
	h.transition(c, "CompleteAppointment", h.svc.CompleteAppointment)
}

func (h *SchedulingHandler) CancelAppointment(c *gin.Context) {
	h.transition(c, "CancelAppointment", h.svc.CancelAppointment)
}

func (h *SchedulingHandler) transition(c *gin.Context, op string, fn func(ctx context.Context, actor scheduling.Actor, id uuid.UUID) (domain.Appointment, error)) {
	log := h.log.With(slog.String("op", op))

	id, ok := pathID(c, log)
	if !ok {
		return
	}

	appt, err := fn(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		h.writeError(c, log, err)
		return
	}

	log.Info(
		"appointment status changed",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("status", string(appt.Status)),
	)
	c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

type createBlockedTimeRequest struct {
	Reason    string    `json:"reason"`
	StartTime time.Time `json:"start_time" binding:"required"`
	EndTime   time.Time `json:"end_time"`
	AllDay    bool      `json:"all_day"`
}

func (h *SchedulingHandler) CreateBlockedTime(c *gin.Context) {
	log := h.log.With(slog.String("op", "CreateBlockedTime"))

	var req createBlockedTimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		writeInvalid(c, "invalid payload")
		return
	}

	bt, err := h.svc.CreateBlockedTime(c.Request.Context(), actorFrom(c), scheduling.CreateBlockedTimeInput{
		ProfessionalID: c.Param("id"),
		Reason:         req.Reason,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		AllDay:         req.AllDay,
	})
	if err != nil {
		h.writeError(c, log, err)
		return
	}

	log.Info(
		"blocked time created",
		slog.String("blocked_time_id", bt.ID.String()),
		slog.String("professional_id", bt.ProfessionalID),
		slog.Time("start_time", bt.StartTime),
		slog.Time("end_time", bt.EndTime),
	)
	c.JSON(http.StatusCreated, toBlockedTimeResponse(bt))
}

func (h *SchedulingHandler) DeleteBlockedTime(c *gin.Context) {
	log := h.log.With(slog.String("op", "DeleteBlockedTime"))

	id, ok := pathID(c, log)
	if !ok {
		return
	}

	if err := h.svc.DeleteBlockedTime(c.Request.Context(), actorFrom(c), id); err != nil {
		h.writeError(c, log, err)
		return
	}

	log.Info("blocked time deleted", slog.String("blocked_time_id", id.String()))
	c.Status(http.StatusNoContent)
}

func (h *SchedulingHandler) Calendar(c *gin.Context) {
	log := h.log.With(slog.String("op", "Calendar"))

	windowStart, err := time.Parse(time.RFC3339, c.Query("window_start"))
	if err != nil {
		writeInvalid(c, "window_start must be RFC 3339")
		return
	}
	windowEnd, err := time.Parse(time.RFC3339, c.Query("window_end"))
	if err != nil {
		writeInvalid(c, "window_end must be RFC 3339")
		return
	}

	intervals, err := h.svc.Intervals(c.Param("id"), windowStart, windowEnd)
	if err != nil {
		h.writeError(c, log, err)
		return
	}

	events := view.Events(intervals)
	log.Debug("calendar listed", slog.String("professional_id", c.Param("id")), slog.Int("count", len(events)))
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *SchedulingHandler) Slots(c *gin.Context) {
	log := h.log.With(slog.String("op", "Slots"))

	cal := h.svc.Calendar()
	day, err := time.ParseInLocation("2006-01-02", c.Query("date"), cal.Location())
	if err != nil {
		writeInvalid(c, "date must be YYYY-MM-DD")
		return
	}

	slots, err := h.svc.FreeSlots(c.Param("id"), day)
	if err != nil {
		h.writeError(c, log, err)
		return
	}

	log.Debug("slots listed", slog.String("professional_id", c.Param("id")), slog.Int("count", len(slots)))
	c.JSON(http.StatusOK, gin.H{
		"date":         c.Query("date"),
		"slot_minutes": cal.Hours().SlotMinutes,
		"slots":        slots,
	})
}

func (h *SchedulingHandler) GetBusinessHours(c *gin.Context) {
	c.JSON(http.StatusOK, toBusinessHoursResponse(h.svc.Calendar()))
}

type businessHoursRequest struct {
	Opening     string   `json:"opening" binding:"required"`
	Closing     string   `json:"closing" binding:"required"`
	SlotMinutes int      `json:"slot_minutes" binding:"required"`
	Weekdays    []int16  `json:"weekdays" binding:"required"`
	Timezone    string   `json:"timezone" binding:"required"`
	Holidays    []struct {
		Day   string `json:"day" binding:"required"`
		Label string `json:"label"`
	} `json:"holidays"`
}

func (h *SchedulingHandler) PutBusinessHours(c *gin.Context) {
	log := h.log.With(slog.String("op", "PutBusinessHours"))

	var req businessHoursRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn("invalid request", slog.Any("err", err))
		writeInvalid(c, "invalid payload")
		return
	}

	opening, err := parseClock(req.Opening)
	if err != nil {
		writeInvalid(c, "opening must be HH:MM")
		return
	}
	closing, err := parseClock(req.Closing)
	if err != nil {
		writeInvalid(c, "closing must be HH:MM")
		return
	}

	loc, err := time.LoadLocation(req.Timezone)
	if err != nil {
		writeInvalid(c, "invalid timezone")
		return
	}
	holidays := make([]domain.Holiday, 0, len(req.Holidays))
	for _, hol := range req.Holidays {
		day, err := time.ParseInLocation("2006-01-02", hol.Day, loc)
		if err != nil {
			writeInvalid(c, "holiday day must be YYYY-MM-DD")
			return
		}
		holidays = append(holidays, domain.Holiday{Day: day.UTC(), Label: hol.Label})
	}

	cal, err := h.svc.UpdateBusinessHours(c.Request.Context(), actorFrom(c), scheduling.UpdateBusinessHoursInput{
		Hours: domain.BusinessHours{
			OpeningMinutes: opening,
			ClosingMinutes: closing,
			SlotMinutes:    req.SlotMinutes,
			Weekdays:       req.Weekdays,
			Timezone:       req.Timezone,
		},
		Holidays: holidays,
	})
	if err != nil {
		h.writeError(c, log, err)
		return
	}

	log.Info("business hours updated", slog.String("timezone", req.Timezone))
	c.JSON(http.StatusOK, toBusinessHoursResponse(cal))
}

func pathID(c *gin.Context, log *slog.Logger) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		writeInvalid(c, "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

type errorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	ConflictID string `json:"conflict_id,omitempty"`
}

func writeInvalid(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": errorBody{Code: "invalid_argument", Message: msg}})
}

func (h *SchedulingHandler) writeError(c *gin.Context, log *slog.Logger, err error) {
	var rej *scheduling.RejectError
	if errors.As(err, &rej) {
		log.Info("request rejected", slog.String("reason", string(rej.Reason)))
		status, body := rejectionResponse(rej)
		c.JSON(status, gin.H{"error": body})
		return
	}
	if errors.Is(err, store.ErrIdempotencyConflict) {
		log.Info("idempotency conflict")
		c.JSON(http.StatusConflict, gin.H{"error": errorBody{
			Code:    "idempotency_conflict",
			Message: "This request key was already used for a different appointment. Try again.",
		}})
		return
	}
	var vErr *scheduling.ValidationError
	if errors.As(err, &vErr) {
		log.Warn("invalid request", slog.Any("err", err))
		writeInvalid(c, vErr.Error())
		return
	}
	if errors.Is(err, scheduling.ErrForbidden) {
		log.Warn("forbidden")
		c.JSON(http.StatusForbidden, gin.H{"error": errorBody{
			Code:    "forbidden",
			Message: "Your role does not allow this operation.",
		}})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		log.Info("not found")
		c.JSON(http.StatusNotFound, gin.H{"error": errorBody{Code: "not_found", Message: "No such record."}})
		return
	}
	if errors.Is(err, store.ErrUnavailable) {
		log.Warn("store unavailable", slog.Any("err", err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": errorBody{
			Code:    "unavailable",
			Message: "The scheduling store is temporarily unreachable. Retry shortly.",
		}})
		return
	}
	log.Error("request failed", slog.Any("err", err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": errorBody{Code: "internal", Message: "internal error"}})
}

func rejectionResponse(rej *scheduling.RejectError) (int, errorBody) {
	switch rej.Reason {
	case schedule.RejectOverlap:
		body := errorBody{
			Code:    string(rej.Reason),
			Message: "That time is already taken. Pick a different slot.",
		}
		if rej.ConflictID != uuid.Nil {
			body.ConflictID = rej.ConflictID.String()
			body.Message = fmt.Sprintf("That time is already taken by %s. Pick a different slot.", rej.ConflictID)
		}
		return http.StatusConflict, body
	case schedule.RejectInvalidStateTransition:
		return http.StatusConflict, errorBody{
			Code:    string(rej.Reason),
			Message: "The appointment's current status does not allow that change.",
		}
	case schedule.RejectOutsideBusinessHours:
		return http.StatusUnprocessableEntity, errorBody{
			Code:    string(rej.Reason),
			Message: "That time falls outside business hours.",
		}
	case schedule.RejectTooSoon:
		return http.StatusUnprocessableEntity, errorBody{
			Code:    string(rej.Reason),
			Message: "That start time is too soon. Pick a later slot.",
		}
	default:
		return http.StatusUnprocessableEntity, errorBody{
			Code:    string(rej.Reason),
			Message: "The end time must be after the start time.",
		}
	}
}

type appointmentResponse struct {
	ID             string    `json:"id"`
	ProfessionalID string    `json:"professional_id"`
	ClientID       string    `json:"client_id"`
	ServiceID      string    `json:"service_id"`
	Status         string    `json:"status"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:             a.ID.String(),
		ProfessionalID: a.ProfessionalID,
		ClientID:       a.ClientID,
		ServiceID:      a.ServiceID,
		Status:         string(a.Status),
		StartTime:      a.StartTime,
		EndTime:        a.EndTime,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type blockedTimeResponse struct {
	ID             string    `json:"id"`
	ProfessionalID string    `json:"professional_id"`
	Reason         string    `json:"reason"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	AllDay         bool      `json:"all_day"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toBlockedTimeResponse(b domain.BlockedTime) blockedTimeResponse {
	return blockedTimeResponse{
		ID:             b.ID.String(),
		ProfessionalID: b.ProfessionalID,
		Reason:         b.Reason,
		StartTime:      b.StartTime,
		EndTime:        b.EndTime,
		AllDay:         b.AllDay,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

type holidayResponse struct {
	Day   string `json:"day"`
	Label string `json:"label"`
}

type businessHoursResponse struct {
	Opening     string            `json:"opening"`
	Closing     string            `json:"closing"`
	SlotMinutes int               `json:"slot_minutes"`
	Weekdays    []int16           `json:"weekdays"`
	Timezone    string            `json:"timezone"`
	Holidays    []holidayResponse `json:"holidays"`
}

func toBusinessHoursResponse(cal domain.BusinessCalendar) businessHoursResponse {
	hours := cal.Hours()
	holidays := cal.Holidays()
	out := businessHoursResponse{
		Opening:     formatClock(hours.OpeningMinutes),
		Closing:     formatClock(hours.ClosingMinutes),
		SlotMinutes: hours.SlotMinutes,
		Weekdays:    hours.Weekdays,
		Timezone:    hours.Timezone,
		Holidays:    make([]holidayResponse, 0, len(holidays)),
	}
	for _, hol := range holidays {
		out.Holidays = append(out.Holidays, holidayResponse{
			Day:   hol.Day.In(cal.Location()).Format("2006-01-02"),
			Label: hol.Label,
		})
	}
	return out
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
