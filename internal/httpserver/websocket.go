package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/fredcamaral/gomcp-sdk/protocol"
	"github.com/gorilla/websocket"

	"scoped-memory-mcp/internal/logging"
)

const (
	wsMaxMessageSize = maxRequestBytes
	wsPongTimeout    = 60 * time.Second
	wsPingInterval   = 54 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsConn serializes writes; gorilla connections allow one concurrent writer
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) send(resp *protocol.JSONRPCResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

// handleWebSocket runs a JSON-RPC session: one response per request, in order
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	c := &wsConn{conn: conn}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	})

	go s.pingLoop(ctx, c)

	s.logger.Info("WebSocket client connected", "remote", r.RemoteAddr)
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket read failed", "error", err, "remote", r.RemoteAddr)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var req protocol.JSONRPCRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if c.send(&protocol.JSONRPCResponse{
				JSONRPC: "2.0",
				Error:   protocol.NewJSONRPCError(protocol.ParseError, "Parse error", err.Error()),
			}) != nil {
				return
			}
			continue
		}

		reqCtx := logging.WithTraceID(ctx, logging.GenerateTraceID())
		if err := c.send(s.handler.HandleRequest(reqCtx, &req)); err != nil {
			return
		}
	}
}

func (s *Server) pingLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
