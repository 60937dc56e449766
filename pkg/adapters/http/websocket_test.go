package http_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/Open-Harness/open-harness-sub011/pkg/adapters/http"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
	"github.com/Open-Harness/open-harness-sub011/pkg/runner"
)

const wsReadTimeout = 2 * time.Second

func dial(t *testing.T, srv *testServer, runID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/runs/" + runID + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) httpadapter.SocketMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var msg httpadapter.SocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips messages until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(httpadapter.SocketMessage) bool) httpadapter.SocketMessage {
	t.Helper()
	for {
		if msg := read(t, conn); match(msg) {
			return msg
		}
	}
}

func isEvent(name domain.EventName) func(httpadapter.SocketMessage) bool {
	return func(m httpadapter.SocketMessage) bool {
		return m.Type == httpadapter.SocketEvent && m.Event.Name() == name
	}
}

func TestSocket_ReplyThroughCommand(t *testing.T) {
	srv := newTestServer(t)
	code, body := srv.do(t, http.MethodPost, "/runs", map[string]any{"flow": "approve", "runId": "ws-1"})
	require.Equal(t, http.StatusCreated, code, string(body))

	conn := dial(t, srv, "ws-1")

	first := read(t, conn)
	require.Equal(t, httpadapter.SocketEvent, first.Type)
	assert.Equal(t, domain.EventRunStart, first.Event.Name())

	msg := readUntil(t, conn, isEvent(domain.EventSessionPrompt))
	prompt := msg.Event.Payload.(*domain.SessionPrompt)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "reply", "promptId": prompt.PromptID, "response": "yes"}))

	ack := readUntil(t, conn, func(m httpadapter.SocketMessage) bool { return m.Type != httpadapter.SocketEvent })
	assert.Equal(t, httpadapter.SocketMessage{Type: httpadapter.SocketAck, Command: "reply"}, ack)

	done := readUntil(t, conn, isEvent(domain.EventRunComplete))
	assert.Equal(t, domain.StatusComplete, done.Event.Payload.(*domain.RunComplete).Status)

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestSocket_Commands(t *testing.T) {
	srv := newTestServer(t)
	code, body := srv.do(t, http.MethodPost, "/runs", map[string]any{"flow": "chat", "runId": "ws-2"})
	require.Equal(t, http.StatusCreated, code, string(body))

	conn := dial(t, srv, "ws-2")
	readUntil(t, conn, isEvent(domain.EventAgentStart))

	t.Run("rejects bad commands", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
		msg := readUntil(t, conn, func(m httpadapter.SocketMessage) bool { return m.Type == httpadapter.SocketError })
		assert.Contains(t, msg.Error, "not JSON")

		require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
		msg = readUntil(t, conn, func(m httpadapter.SocketMessage) bool { return m.Type == httpadapter.SocketError })
		assert.Equal(t, "dance", msg.Command)
		assert.Contains(t, msg.Error, "unknown command")
	})

	t.Run("send reaches the agent", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(map[string]any{"type": "send", "content": "over the wire"}))
		ack := readUntil(t, conn, func(m httpadapter.SocketMessage) bool { return m.Type == httpadapter.SocketAck })
		assert.Equal(t, "send", ack.Command)

		done := readUntil(t, conn, isEvent(domain.EventRunComplete))
		outputs := done.Event.Payload.(*domain.RunComplete).Outputs
		assert.Equal(t, "over the wire", outputs["agent"].(map[string]any)["text"])
	})
}

func TestSocket_FinishedRun(t *testing.T) {
	srv := newTestServer(t)
	code, body := srv.do(t, http.MethodPost, "/runs", map[string]any{"flow": "chat", "runId": "old"})
	require.Equal(t, http.StatusCreated, code, string(body))
	srv.waitView(t, "old", func(v runner.RunView) bool { return len(v.Agents) == 1 })
	require.NoError(t, srv.Runs.Abort("old", "stop"))
	srv.waitView(t, "old", runner.RunView.Terminal)

	conn := dial(t, srv, "old")
	done := readUntil(t, conn, isEvent(domain.EventRunComplete))
	assert.Equal(t, domain.StatusAborted, done.Event.Payload.(*domain.RunComplete).Status)

	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestSocket_UnknownRun(t *testing.T) {
	srv := newTestServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/runs/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
