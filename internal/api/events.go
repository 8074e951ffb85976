package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"galleryfetch/internal/task"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	eventBuffer    = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// eventMessage is one frame on the events socket.
type eventMessage struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	Timestamp string `json:"timestamp"`
}

func newEventMessage(kind string, payload any) eventMessage {
	return eventMessage{Type: kind, Payload: payload, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

// Events upgrades to a websocket, sends the current task list, then one
// "task" frame per change until the client goes away.
func (a *API) Events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	events, unsubscribe := a.taskManager.Subscribe(eventBuffer)
	go readPump(conn, unsubscribe)

	writePump(conn, events, a.taskManager.List())
	unsubscribe()
	_ = conn.Close()
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, unsubscribe func()) {
	defer unsubscribe()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("websocket closed unexpectedly")
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, events <-chan task.Snapshot, initial []task.Snapshot) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := writeJSON(conn, newEventMessage("tasks", initial)); err != nil {
		return
	}
	for {
		select {
		case snap, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := writeJSON(conn, newEventMessage("task", snap)); err != nil {
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

func writeJSON(conn *websocket.Conn, msg eventMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		log.Debug().Err(err).Msg("websocket write failed")
		return err //nolint:wrapcheck
	}
	return nil
}
