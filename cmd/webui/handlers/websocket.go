package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/23skdu/longbow-lens/internal/inference"
	"github.com/23skdu/longbow-lens/internal/logger"
	"github.com/23skdu/longbow-lens/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// WSMessage is the envelope of every WebSocket frame in both directions.
//
// Client to server types: "analyze" (inference.Request), "select"
// (SelectRequest), "state". Server to client types: "state"
// (session.Snapshot), "event" (session.Event), "error".
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsOut struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Connection struct {
	conn    *websocket.Conn
	session *session.Session
	send    chan []byte
	done    chan struct{}
}

// WebSocketHandler pushes session events to the client and accepts analyze
// and select commands.
func WebSocketHandler(s *session.Session, cors *CORSMiddleware) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || cors == nil || cors.isOriginAllowed(origin)
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Log.Warn("WebSocket upgrade failed", "error", err)
			return
		}

		c := &Connection{
			conn:    conn,
			session: s,
			send:    make(chan []byte, 256),
			done:    make(chan struct{}),
		}
		activeConnections.Inc()

		events, unsubscribe := s.Subscribe()
		go c.forward(events)
		go c.writePump()
		go func() {
			c.readPump()
			unsubscribe()
			close(c.done)
			activeConnections.Dec()
		}()

		c.sendMessage("state", s.Snapshot())
	}
}

func (c *Connection) forward(events <-chan session.Event) {
	for ev := range events {
		c.sendMessage("event", ev)
	}
}

func (c *Connection) readPump() {
	defer c.conn.Close()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.sendError("INVALID_REQUEST", "Invalid JSON format")
			continue
		}
		c.handleMessage(msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Connection) handleMessage(msg WSMessage) {
	switch msg.Type {
	case "analyze":
		var req inference.Request
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("INVALID_REQUEST", "Invalid analyze request")
			return
		}
		if _, err := c.session.Submit(context.Background(), req); err != nil {
			c.sendErr(err)
		}
	case "select":
		var req SelectRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("INVALID_REQUEST", "Invalid select request")
			return
		}
		if err := applySelection(c.session, req); err != nil {
			c.sendErr(err)
		}
	case "state":
		c.sendMessage("state", c.session.Snapshot())
	default:
		c.sendError("UNKNOWN_TYPE", "Unknown message type: "+msg.Type)
	}
}

func (c *Connection) sendErr(err error) {
	_, kind := statusOf(err)
	RecordError(kind)
	c.sendError(kind, err.Error())
}

func (c *Connection) sendError(code, message string) {
	c.sendMessage("error", wsError{Code: code, Message: message})
}

// sendMessage queues a frame, dropping it once the connection is closing
// or the client has stopped reading.
func (c *Connection) sendMessage(typ string, payload interface{}) {
	data, err := json.Marshal(wsOut{Type: typ, Payload: payload})
	if err != nil {
		logger.Log.Warn("Failed to encode WebSocket message", "type", typ, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		logger.Log.Debug("WebSocket send buffer full, dropping message", "type", typ)
	}
}
