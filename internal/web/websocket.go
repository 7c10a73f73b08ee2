package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mordilloSan/go-logger/logger"

	"odmclient/internal/session"
)

// WebSocket keepalive configuration
const (
	// How often to send ping frames to the client
	pingInterval = 25 * time.Second

	// Read deadline, must be longer than pingInterval
	pongWait = 35 * time.Second

	// Maximum time allowed to write a message (ping or data)
	writeWait = 10 * time.Second

	// Progress events buffered per connection before dropping
	progressBuffer = 64
)

// Server to client message types
const (
	MessageSnapshot = "snapshot"
	MessageProgress = "progress"
	MessageState    = "state"
	MessageError    = "error"
)

// Client to server commands
const (
	CommandMinimize = "minimize"
	CommandCancel   = "cancel"
)

// Message is the envelope of every frame sent to the client
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return isLoopbackOrigin(r.Header.Get("Origin"))
	},
}

func isExpectedWSClose(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure:
			return true
		}
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "i/o timeout")
}

// parseCommand accepts a bare command word or {"type": "<command>"}
func parseCommand(data []byte) string {
	text := strings.TrimSpace(string(data))
	if strings.HasPrefix(text, "{") {
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(text), &msg); err == nil {
			text = msg.Type
		}
	}
	return strings.ToLower(text)
}

// attach restores the session onto this connection. The snapshot is sent
// first, then live events. Closing the connection minimizes the session.
func (h *sessionHandlers) attach(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("[WSBridge] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	surface := session.NewChannelSurface(progressBuffer)
	snap := s.Restore(surface)
	defer s.Detach(surface)
	logger.InfoKV("surface attached", "session", s.ID)

	c := &surfaceConn{conn: conn, done: make(chan struct{})}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(snap, surface)
	}()
	defer func() {
		close(c.done)
		wg.Wait()
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Warnf("[WSBridge] failed to set initial read deadline: %v", err)
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !isExpectedWSClose(err) {
				logger.Warnf("[WSBridge] read error: %v", err)
			}
			break
		}
		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			break
		}

		switch cmd := parseCommand(data); cmd {
		case CommandMinimize:
			s.Detach(surface)
			c.close(websocket.CloseNormalClosure, "minimized")
			logger.InfoKV("surface minimized", "session", s.ID)
			return
		case CommandCancel:
			if err := s.Cancel(); err != nil {
				_ = c.send(Message{Type: MessageError, Data: err.Error()})
			}
		default:
			logger.Debugf("[WSBridge] ignoring unknown command %q", cmd)
			_ = c.send(Message{Type: MessageError, Data: "unknown command: " + cmd})
		}
	}
	logger.InfoKV("surface detached", "session", s.ID)
}

// surfaceConn serializes writes to one WebSocket
type surfaceConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
}

func (c *surfaceConn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *surfaceConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *surfaceConn) close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func (c *surfaceConn) writeLoop(snap session.Snapshot, surface *session.ChannelSurface) {
	if err := c.send(Message{Type: MessageSnapshot, Data: snap}); err != nil {
		logger.Debugf("[WSBridge] snapshot write failed: %v", err)
		_ = c.conn.Close()
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var err error
		select {
		case <-c.done:
			return
		case p := <-surface.Progress():
			err = c.send(Message{Type: MessageProgress, Data: p})
		case change := <-surface.States():
			err = c.send(Message{Type: MessageState, Data: change})
		case <-ticker.C:
			err = c.ping()
		}
		if err != nil {
			logger.Debugf("[WSBridge] write failed: %v", err)
			// Unblocks the reader so the handler returns
			_ = c.conn.Close()
			return
		}
	}
}
