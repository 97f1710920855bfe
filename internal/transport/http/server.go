package http

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

func NewRouter(h *SchedulingHandler, log *slog.Logger) *gin.Engine {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	v1 := r.Group("/v1")
	{
		v1.POST("/professionals/:id/appointments", h.CreateAppointment)
		v1.POST("/professionals/:id/blocked-times", h.CreateBlockedTime)
		v1.GET("/professionals/:id/calendar", h.Calendar)
		v1.GET("/professionals/:id/slots", h.Slots)

		v1.POST("/appointments/:id/move", h.MoveAppointment)
		v1.POST("/appointments/:id/confirm", h.ConfirmAppointment)
		v1.POST("/appointments/:id/complete", h.CompleteAppointment)
		v1.POST("/appointments/:id/cancel", h.CancelAppointment)

		v1.DELETE("/blocked-times/:id", h.DeleteBlockedTime)

		v1.GET("/business-hours", h.GetBusinessHours)
		v1.PUT("/business-hours", h.PutBusinessHours)
	}

	return r
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	log = log.With(slog.String("component", "http.server"))
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug(
			"request handled",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	}
}
