package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/readmaster-api/internal/models"
	"github.com/noah-isme/readmaster-api/internal/service"
)

func dialWS(t *testing.T, addr, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}
	return dialer.Dial("ws://"+addr+"/ws"+query, header)
}

func TestRealtimeHandlerRejectsMissingOrInvalidToken(t *testing.T) {
	env := setupApp(t)
	addr := startFiberServer(t, env.app)

	_, resp, err := dialWS(t, addr, "", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dialWS(t, addr, "?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	require.Empty(t, env.registry.Users())
}

func TestRealtimeHandlerDeliversNotificationsAndAnswersPing(t *testing.T) {
	env := setupApp(t)
	addr := startFiberServer(t, env.app)

	conn, resp, err := dialWS(t, addr, "?token="+tokenFor(t, "student-1", "student"), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return env.registry.Count("student-1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`)))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"pong"}`, string(message))

	_, err = env.notifications.Raise(context.Background(), service.NotificationRaise{
		UserID:    "student-1",
		Type:      models.NotificationTypeResult,
		Message:   "Your reading assessment is ready.",
		RelatedID: "assessment-1",
		Payload:   map[string]string{"assessmentId": "assessment-1", "status": "completed"},
	})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, message, err = conn.ReadMessage()
	require.NoError(t, err)

	var envelope struct {
		Event   string            `json:"event"`
		UserID  string            `json:"userId"`
		Payload map[string]string `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(message, &envelope))
	require.Equal(t, models.NotificationTypeResult, envelope.Event)
	require.Equal(t, "student-1", envelope.UserID)
	require.Equal(t, "completed", envelope.Payload["status"])

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	require.Eventually(t, func() bool { return env.registry.Count("student-1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRealtimeHandlerAcceptsAuthorizationHeader(t *testing.T) {
	env := setupApp(t)
	addr := startFiberServer(t, env.app)

	header := http.Header{"Authorization": {"Bearer " + tokenFor(t, "parent-1", "parent")}}
	conn, resp, err := dialWS(t, addr, "", header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	require.Eventually(t, func() bool { return env.registry.Count("parent-1") == 1 }, 2*time.Second, 10*time.Millisecond)
}
