package http

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/Open-Harness/open-harness-sub011/internal/logging"
	"github.com/Open-Harness/open-harness-sub011/pkg/domain"
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 64 * 1024
	wsBufferSize       = 1024
	incomingBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Socket message types.
const (
	SocketEvent = "event"
	SocketAck   = "ack"
	SocketError = "error"
)

// SocketMessage is what the server writes on a run socket.
type SocketMessage struct {
	Type    string        `json:"type"`
	Event   *domain.Event `json:"event,omitempty"`
	Command string        `json:"command,omitempty"`
	Error   string        `json:"error,omitempty"`
}

var errUnknownCommand = errors.New("unknown command")

// RunSocket handles GET /runs/{id}/ws. The server pushes every event of the
// run; the client steers it with JSON commands:
//
//	{"type":"send","content":...,"from":"...","invocationId":"..."}
//	{"type":"reply","promptId":"...","response":...}
//	{"type":"abort","reason":"..."}
//
// The socket closes after run:complete.
func (s *Server) RunSocket(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	stream, err := s.openStream(r.Context(), runID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		stream.stop()
		s.Logger.Error("WebSocket upgrade failed", logging.Err(err))
		return
	}
	go s.serveSocket(conn, runID, stream)
}

func (s *Server) serveSocket(conn *websocket.Conn, runID string, stream *eventStream) {
	defer func() {
		stream.stop()
		_ = conn.Close()
	}()
	logger := s.Logger.With(logging.RunID(runID))

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	write := func(msg SocketMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug("WebSocket write failed", logging.Err(err))
			return false
		}
		return true
	}
	// sendEvents reports false once the socket should close.
	sendEvents := func(events []domain.Event) bool {
		for i := range events {
			if !write(SocketMessage{Type: SocketEvent, Event: &events[i]}) {
				return false
			}
			if events[i].Name() == domain.EventRunComplete {
				return false
			}
		}
		return true
	}
	closeNormally := func() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"))
	}

	if !sendEvents(stream.backlog) || stream.queue == nil {
		closeNormally()
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	done := make(chan struct{})
	defer close(done)
	incoming := make(chan []byte, incomingBufferSize)
	go readMessages(conn, incoming, done)

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			command, err := s.handleCommand(runID, message)
			reply := SocketMessage{Type: SocketAck, Command: command}
			if err != nil {
				reply = SocketMessage{Type: SocketError, Command: command, Error: err.Error()}
			}
			if !write(reply) {
				return
			}

		case <-stream.queue.ready:
			if !sendEvents(stream.queue.drain()) {
				closeNormally()
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readMessages(conn *websocket.Conn, incoming chan<- []byte, done <-chan struct{}) {
	defer close(incoming)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case incoming <- message:
		case <-done:
			return
		}
	}
}

// handleCommand applies one client command and returns its type.
func (s *Server) handleCommand(runID string, message []byte) (string, error) {
	if !gjson.ValidBytes(message) {
		return "", fmt.Errorf("%w: not JSON", errBadRequest)
	}
	cmd := gjson.ParseBytes(message)
	kind := cmd.Get("type").String()

	switch kind {
	case "send":
		msg := domain.Message{Content: cmd.Get("content").Value(), From: cmd.Get("from").String()}
		if target := cmd.Get("invocationId"); target.Exists() {
			return kind, s.Runs.SendTo(runID, target.String(), msg)
		}
		return kind, s.Runs.Send(runID, msg)
	case "reply":
		promptID := cmd.Get("promptId").String()
		if promptID == "" {
			return kind, fmt.Errorf("%w: promptId is required", errBadRequest)
		}
		return kind, s.Runs.Reply(runID, promptID, cmd.Get("response").Value())
	case "abort":
		reason := cmd.Get("reason").String()
		if reason == "" {
			reason = "aborted by client"
		}
		return kind, s.Runs.Abort(runID, reason)
	default:
		return kind, fmt.Errorf("%w: %q", errUnknownCommand, kind)
	}
}
