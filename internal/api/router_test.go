package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notification-engine/internal/audit"
	"notification-engine/internal/config"
	"notification-engine/internal/db/memdb"
	"notification-engine/internal/dispatcher"
	"notification-engine/internal/logging"
	"notification-engine/internal/models"
	"notification-engine/internal/providers"
	"notification-engine/internal/queue"
	"notification-engine/internal/reminder"
	"notification-engine/internal/resolver"
	"notification-engine/internal/services"
	"notification-engine/internal/tracker"
)

type testServer struct {
	router *gin.Engine
	store  *memdb.Store
	hub    *providers.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logging.NewNop()
	store := memdb.New()
	recorder := audit.NewRecorder(nil, logger)
	hub := providers.NewHub(logger)
	tr := tracker.New(store, recorder, logger)
	registry := providers.Registry{models.ChannelInApp: providers.NewInAppSender(hub)}
	disp := dispatcher.New(store, queue.NewRedisQueue(client, "test"), tr, registry, nil, logger, dispatcher.Config{})
	engine := services.New(services.Deps{
		Store:      store,
		Recipients: resolver.NewRecipientResolver(store, logger, time.UTC),
		Channels:   resolver.NewChannelResolver(store, logger),
		Dispatcher: disp,
		Tracker:    tr,
		Reminders:  reminder.New(store, hub, disp, nil, recorder, logger, reminder.Config{}),
	}, logger)

	var cfg config.Config
	cfg.API.BasePath = "/api/v1"
	store.AddUser(models.User{ID: "u1", Name: "Ana", Active: true})

	return &testServer{router: NewRouter(NewHandler(engine, hub, logger), logger, cfg), store: store, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", nil).Code)
}

func TestNotifyEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/notifications", models.NotifyRequest{
		Title:    "Payslip ready",
		Body:     "Your October payslip is available",
		Channels: []models.Channel{models.ChannelInApp},
		Rule:     models.TargetingRule{IncludeUserIDs: []string{"u1"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var res models.NotifyResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res.NotificationIDs, 1)

	w = s.do(t, http.MethodGet, "/api/v1/notifications/"+res.NotificationIDs[0]+"/deliveries", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"PENDING"`)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/notifications", models.NotifyRequest{Body: "no title", Channels: []models.Channel{models.ChannelInApp}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/notifications/missing/stats", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodDelete, "/api/v1/notifications/missing/reminders", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/analytics/overview?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReminderEndpoints(t *testing.T) {
	s := newTestServer(t)
	userID := "u1"
	n := models.Notification{Title: "Vacation approved", Body: "Enjoy", Importance: models.ImportanceUrgent, Channels: []models.Channel{models.ChannelInApp}, UserID: &userID}
	require.NoError(t, s.store.CreateNotification(context.Background(), &n))

	w := s.do(t, http.MethodPost, "/api/v1/notifications/"+n.ID+"/reminders", gin.H{"user_id": "u1", "interval": "1h"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, http.MethodGet, "/api/v1/users/u1/reminders", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.Reminder
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = s.do(t, http.MethodDelete, "/api/v1/notifications/"+n.ID+"/reminders?user_id=u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.do(t, http.MethodDelete, "/api/v1/notifications/"+n.ID+"/reminders?user_id=u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/reminders/options", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "next_monday_9am")

	w = s.do(t, http.MethodPost, "/api/v1/reminders/process", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebSocketRegistersWithHub(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Eventually(t, func() bool { return s.hub.Connected("u1") == 1 }, time.Second, 10*time.Millisecond)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	assert.Error(t, err, "user_id is required")
}
