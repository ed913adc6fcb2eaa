package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notification-engine/internal/config"
	"notification-engine/internal/logging"
)

func NewRouter(h *Handler, logger *logging.Logger, cfg config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))
	r.Use(MetricsMiddleware())

	api := r.Group(cfg.API.BasePath)
	{
		// Notifications
		api.POST("/notifications", h.Notify)
		api.POST("/notifications/:id/dispatch", h.Dispatch)
		api.GET("/notifications/:id/deliveries", h.ListDeliveries)
		api.GET("/notifications/:id/stats", h.DeliveryStats)
		api.POST("/notifications/:id/delivered", h.MarkDelivered)
		api.POST("/notifications/:id/seen", h.MarkSeen)

		// Deliveries
		api.GET("/deliveries/failed", h.ListFailedDeliveries)
		api.GET("/deliveries/:id", h.GetDelivery)
		api.POST("/deliveries/:id/retry", h.RetryDelivery)

		// Users
		api.POST("/users/:user_id/seen-all", h.MarkAllSeen)
		api.GET("/users/:user_id/unseen", h.ListUnseen)
		api.GET("/users/:user_id/unseen/count", h.UnseenCount)
		api.GET("/users/:user_id/reminders", h.ListReminders)

		// Reminders
		api.POST("/notifications/:id/reminders", h.ScheduleReminder)
		api.PUT("/notifications/:id/reminders", h.RescheduleReminder)
		api.DELETE("/notifications/:id/reminders", h.CancelReminder)
		api.GET("/reminders/options", h.ReminderOptions)
		api.GET("/reminders/stats", h.ReminderStats)
		api.POST("/reminders/process", h.ProcessReminders)
		api.POST("/reminders/cleanup", h.CleanupReminders)

		// Resolution
		api.POST("/recipients/resolve", h.ResolveRecipients)
		api.POST("/channels/resolve", h.ResolveChannels)

		// Analytics
		api.GET("/analytics/overview", h.AnalyticsOverview)
	}

	r.GET("/ws", h.WebSocket)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}
