//go:build integration

package app

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bissquit/alert-relay/internal/config"
	"github.com/bissquit/alert-relay/internal/notifications"
	"github.com/bissquit/alert-relay/internal/testutil"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	openAPISpecPath = "../../api/openapi/openapi.yaml"
	serviceSecret   = "test-service-secret"
)

var (
	testServer    *httptest.Server
	testValidator *testutil.OpenAPIValidator
	serviceToken  string
)

func TestMain(m *testing.M) {
	os.Exit(runMain(m))
}

func runMain(m *testing.M) int {
	ctx := context.Background()

	db, err := testutil.StartDatabase(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := db.Close(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	redisServer, err := miniredis.Run()
	if err != nil {
		log.Fatalf("start redis: %v", err)
	}
	defer redisServer.Close()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	cfg.Server.MetricsPort = "0"
	cfg.Database.URL = db.URL
	cfg.Database.ConnectTimeout = 30 * time.Second
	cfg.Log = config.LogConfig{Level: "error", Format: "text"}
	cfg.Auth.ServiceTokenSecret = serviceSecret
	cfg.Redis.URL = "redis://" + redisServer.Addr()
	cfg.Email.Providers = []string{"log"}
	// Passes are triggered explicitly by the tests.
	cfg.Worker.Enabled = false

	application, err := New(&cfg)
	if err != nil {
		log.Fatalf("create app: %v", err)
	}

	testServer = httptest.NewServer(application.Router())
	defer testServer.Close()

	testValidator, err = testutil.LoadOpenAPIValidator(openAPISpecPath)
	if err != nil {
		log.Fatalf("load OpenAPI validator: %v", err)
	}

	serviceToken, err = jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "service_role",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(serviceSecret))
	if err != nil {
		log.Fatalf("sign service token: %v", err)
	}

	code := m.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown app: %v", err)
	}

	return code
}

func newTestClient(t *testing.T) *testutil.Client {
	t.Helper()
	c := testutil.NewClientWithValidator(t, testServer.URL, testValidator)
	c.Token = serviceToken
	return c
}

func TestProbes(t *testing.T) {
	client := testutil.NewClient(testServer.URL)

	for _, path := range []string{"/healthz", "/readyz", "/version"} {
		resp, err := client.GET(path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestFunctionRoutesRequireServiceToken(t *testing.T) {
	client := testutil.NewClient(testServer.URL)

	resp, err := client.POST("/functions/v1/process-notification-queue", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = client.Do(http.MethodOptions, "/functions/v1/send-alert-notification", nil, map[string]string{
		"Origin": "https://dashboard.example",
	})
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestQueueRoundTrip(t *testing.T) {
	client := newTestClient(t)
	userID := uuid.NewString()

	resp, err := client.POST("/api/v1/notifications", map[string]any{
		"user_id":           userID,
		"notification_type": "email",
		"recipient":         "ops@harborview.example",
		"subject":           "Occupancy alert",
		"message":           "Occupancy dropped to 71%",
		"priority":          1,
		"max_retries":       3,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		Data notifications.QueuedNotification `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &created)
	require.NotEmpty(t, created.Data.ID)
	assert.Equal(t, notifications.QueueStatusPending, created.Data.Status)

	resp, err = client.POST("/functions/v1/process-notification-queue", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pass notifications.ProcessQueueResponse
	testutil.DecodeJSON(t, resp, &pass)
	assert.True(t, pass.Success)
	assert.GreaterOrEqual(t, pass.Processed, 1)

	resp, err = client.GET("/api/v1/notifications/" + created.Data.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Data notifications.QueuedNotification `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &got)
	assert.Equal(t, notifications.QueueStatusSent, got.Data.Status)
	assert.NotNil(t, got.Data.SentAt)

	resp, err = client.GET("/api/v1/users/" + userID + "/delivery-logs")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var logs struct {
		Data []notifications.DeliveryLogEntry `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &logs)
	require.Len(t, logs.Data, 1)
	assert.Equal(t, notifications.DeliveryStatusSent, logs.Data[0].DeliveryStatus)
	assert.Equal(t, "log", logs.Data[0].Provider)
}

func TestSendAlertNotificationIdempotency(t *testing.T) {
	client := newTestClient(t)
	body := map[string]any{
		"userId":           uuid.NewString(),
		"recipientType":    "sms",
		"recipientAddress": "+15550100",
		"messageContent":   "Work order WO-118 is overdue",
	}
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}

	resp, err := client.Do(http.MethodPost, "/functions/v1/send-alert-notification", body, headers)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result notifications.DispatchResult
	testutil.DecodeJSON(t, resp, &result)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.MessageID)

	resp, err = client.Do(http.MethodPost, "/functions/v1/send-alert-notification", body, headers)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
