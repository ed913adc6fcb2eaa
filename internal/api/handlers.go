package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "notification-engine/internal/errors"
	"notification-engine/internal/logging"
	"notification-engine/internal/models"
	"notification-engine/internal/providers"
	"notification-engine/internal/services"
)

type Handler struct {
	engine *services.Engine
	hub    *providers.Hub
	logger *logging.Logger
}

func NewHandler(engine *services.Engine, hub *providers.Hub, logger *logging.Logger) *Handler {
	return &Handler{engine: engine, hub: hub, logger: logger}
}

func (h *Handler) Notify(c *gin.Context) {
	var req models.NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	res, err := h.engine.Notify(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "Notify", err)
		return
	}
	h.logger.Infof("Created %d notifications for request %s", len(res.NotificationIDs), req.RequestID)
	c.JSON(http.StatusCreated, res)
}

func (h *Handler) Dispatch(c *gin.Context) {
	id := c.Param("id")
	results, err := h.engine.DispatchNotification(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Dispatch "+id, err)
		return
	}
	c.JSON(http.StatusAccepted, results)
}

func (h *Handler) ListDeliveries(c *gin.Context) {
	deliveries, err := h.engine.ListDeliveries(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "List deliveries", err)
		return
	}
	c.JSON(http.StatusOK, deliveries)
}

func (h *Handler) DeliveryStats(c *gin.Context) {
	stats, err := h.engine.GetDeliveryStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Delivery stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) MarkDelivered(c *gin.Context) {
	var req struct {
		Channel string `json:"channel" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	ch, err := models.ParseChannel(req.Channel)
	if err != nil {
		h.fail(c, "Mark delivered", apperrors.NewInvalidRequest("%v", err))
		return
	}
	d, err := h.engine.MarkDelivered(c.Request.Context(), c.Param("id"), ch)
	if err != nil {
		h.fail(c, "Mark delivered", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) MarkSeen(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if err := h.engine.MarkSeen(c.Request.Context(), c.Param("id"), req.UserID); err != nil {
		h.fail(c, "Mark seen", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) GetDelivery(c *gin.Context) {
	d, err := h.engine.GetDelivery(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "Get delivery", err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) ListFailedDeliveries(c *gin.Context) {
	deliveries, err := h.engine.ListFailedDeliveries(c.Request.Context(), intQuery(c, "limit", 0))
	if err != nil {
		h.fail(c, "List failed deliveries", err)
		return
	}
	c.JSON(http.StatusOK, deliveries)
}

func (h *Handler) RetryDelivery(c *gin.Context) {
	var req struct {
		MaxRetries int `json:"max_retries"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}
	res, err := h.engine.RetryDelivery(c.Request.Context(), c.Param("id"), req.MaxRetries)
	if err != nil {
		h.fail(c, "Retry delivery", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) MarkAllSeen(c *gin.Context) {
	n, err := h.engine.MarkAllSeen(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, "Mark all seen", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

func (h *Handler) ListUnseen(c *gin.Context) {
	list, err := h.engine.ListUnseen(c.Request.Context(), c.Param("user_id"), intQuery(c, "limit", 0), intQuery(c, "offset", 0))
	if err != nil {
		h.fail(c, "List unseen", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) UnseenCount(c *gin.Context) {
	n, err := h.engine.UnseenCount(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, "Unseen count", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": n})
}

type reminderRequest struct {
	UserID   string     `json:"user_id" binding:"required"`
	Interval string     `json:"interval"`
	RemindAt *time.Time `json:"remind_at"`
}

func (h *Handler) ScheduleReminder(c *gin.Context) {
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	var (
		r   models.Reminder
		err error
	)
	if req.RemindAt != nil {
		r, err = h.engine.ScheduleReminderAt(c.Request.Context(), c.Param("id"), req.UserID, *req.RemindAt)
	} else {
		r, err = h.engine.ScheduleReminder(c.Request.Context(), c.Param("id"), req.UserID, req.Interval)
	}
	if err != nil {
		h.fail(c, "Schedule reminder", err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) RescheduleReminder(c *gin.Context) {
	var req reminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	r, err := h.engine.RescheduleReminder(c.Request.Context(), c.Param("id"), req.UserID, req.Interval)
	if err != nil {
		h.fail(c, "Reschedule reminder", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) CancelReminder(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	r, err := h.engine.CancelReminder(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		h.fail(c, "Cancel reminder", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (h *Handler) ListReminders(c *gin.Context) {
	list, err := h.engine.ListReminders(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.fail(c, "List reminders", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handler) ReminderOptions(c *gin.Context) {
	c.JSON(http.StatusOK, h.engine.ReminderOptions())
}

func (h *Handler) ReminderStats(c *gin.Context) {
	stats, err := h.engine.ReminderStats(c.Request.Context())
	if err != nil {
		h.fail(c, "Reminder stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ProcessReminders(c *gin.Context) {
	res, err := h.engine.TriggerManualProcessing(c.Request.Context())
	if err != nil {
		h.fail(c, "Process reminders", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) CleanupReminders(c *gin.Context) {
	var maxAge time.Duration
	if raw := c.Query("max_age"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_age"})
			return
		}
		maxAge = d
	}
	n, err := h.engine.CleanupStaleReminders(c.Request.Context(), maxAge)
	if err != nil {
		h.fail(c, "Cleanup reminders", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": n})
}

func (h *Handler) ResolveRecipients(c *gin.Context) {
	var req struct {
		Rule    models.TargetingRule     `json:"rule"`
		Context models.ResolutionContext `json:"context"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	users, err := h.engine.ResolveRecipients(c.Request.Context(), req.Rule, req.Context)
	if err != nil {
		h.fail(c, "Resolve recipients", err)
		return
	}
	c.JSON(http.StatusOK, users)
}

func (h *Handler) ResolveChannels(c *gin.Context) {
	var req struct {
		ConfigKey string `json:"config_key" binding:"required"`
		UserID    string `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	channels, err := h.engine.ResolveChannelsForUser(c.Request.Context(), req.ConfigKey, req.UserID)
	if err != nil {
		h.fail(c, "Resolve channels", err)
		return
	}
	c.JSON(http.StatusOK, channels)
}

func (h *Handler) AnalyticsOverview(c *gin.Context) {
	var r models.TimeRange
	for key, dst := range map[string]*time.Time{"from": &r.From, "to": &r.To} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key + ", expected RFC3339"})
			return
		}
		*dst = t
	}
	out, err := h.engine.AnalyticsOverview(c.Request.Context(), r)
	if err != nil {
		h.fail(c, "Analytics overview", err)
		return
	}
	c.JSON(http.StatusOK, out)
}
