package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xhad/datallama/pkg/researcher"
)

const wsWriteTimeout = 10 * time.Second

// Message is the WebSocket envelope in both directions. Clients send
// {"type":"ask","content":"question","data":{"model":"id"}}.
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *zap.Logger
}

func (c *wsConn) send(msgType, content string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(Message{Type: msgType, Content: content, Data: data}); err != nil {
		c.log.Debug("failed to send message", zap.Error(err))
	}
}

// OnEvent forwards research progress to the client.
func (c *wsConn) OnEvent(e researcher.Event) {
	msgType := "progress"
	switch e.Type {
	case researcher.EventSearchStarted, researcher.EventSearchDone, researcher.EventDone:
		msgType = "status"
	}
	content := e.Message
	if content == "" {
		content = string(e.Type) + " " + e.URL
	}
	c.send(msgType, content, e)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || s.anyOrig || s.origins[origin]
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	c := &wsConn{conn: conn, log: s.log}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.send("error", "Invalid message", nil)
			continue
		}
		if msg.Type != "ask" {
			c.send("error", "Unsupported message type: "+msg.Type, nil)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, c, msg)
		}()
	}
}

func (s *Server) handleMessage(ctx context.Context, c *wsConn, msg Message) {
	start := time.Now()
	req := askRequest{Question: strings.TrimSpace(msg.Content)}
	if data, ok := msg.Data.(map[string]any); ok {
		if model, ok := data["model"].(string); ok {
			req.Model = strings.TrimSpace(model)
		}
	}
	if errMsg := s.checkRequest(req); errMsg != "" {
		c.send("error", errMsg, errorResponse{Error: errMsg, ErrorType: "INVALID_INPUT"})
		return
	}

	c.send("status", "Researching: "+req.Question, nil)
	status, body := s.answer(ctx, req, c, start)
	if status != http.StatusOK {
		content := "Request failed"
		if e, ok := body.(errorResponse); ok {
			content = e.Error
		}
		c.send("error", content, body)
		return
	}
	c.send("response", "", body)
}
