package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/p2pmodels/committees/app/committees/types"
	"github.com/p2pmodels/committees/pkg/state"
)

const (
	pingInterval = 30 * time.Second
	readDeadline = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action string `json:"action"` // "snapshot" re-sends the latest snapshot
}

// HandleWebSocket upgrades the connection and pushes every published snapshot.
//
// Server sends:
// - {"type": "snapshot", "payload": {...}} on connect and after every commit that changes state
// - {"type": "error", "payload": {"message": "..."}}
//
// Client sends:
// - {"action": "snapshot"} to receive the latest snapshot again
//
// Slow clients skip intermediate snapshots but always receive the latest one.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	updates, unsubscribe := c.App.Reducer.Subscribe(8)
	defer unsubscribe()

	send := make(chan types.ServerMessage, 64)
	// resend coalesces snapshot requests; the writer answers with the snapshot current at write time.
	resend := make(chan struct{}, 1)
	var wg sync.WaitGroup

	// Everything that writes to conn runs on this one goroutine.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		defer c.recoverConn(r, cancel, "message writer")
		c.writeMessages(ctx, conn, updates, resend, send)
		// Unblock the reader once nothing more will be written.
		_ = conn.SetReadDeadline(time.Now())
	}()

	c.readClientMessages(ctx, conn, cancel, resend, send)

	cancel()
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

func (c *Controller) recoverConn(r *http.Request, cancel context.CancelFunc, where string) {
	if rec := recover(); rec != nil {
		c.App.Logger.Error("Panic in websocket goroutine",
			zap.String("goroutine", where),
			zap.Any("panic", rec),
			zap.String("stack", string(debug.Stack())),
			zap.String("remote_addr", r.RemoteAddr))
		cancel()
	}
}

// writeMessages serializes snapshots, replies and keep-alive pings onto the connection.
func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, updates <-chan *state.Snapshot, resend <-chan struct{}, send <-chan types.ServerMessage) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		var msg types.ServerMessage
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			msg = types.ServerMessage{Type: types.MessageSnapshot, Payload: snap}
		case <-resend:
			msg = types.ServerMessage{Type: types.MessageSnapshot, Payload: c.App.Reducer.Snapshot()}
		case msg = <-send:
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			c.App.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
			return
		}
	}
}

// readClientMessages handles client requests and detects connection closure.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, resend chan<- struct{}, send chan<- types.ServerMessage) {
	if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
		c.App.Logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	reply := func(msg types.ServerMessage) bool {
		select {
		case send <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.App.Logger.Warn("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			cancel()
			return
		}

		switch msg.Action {
		case "snapshot":
			select {
			case resend <- struct{}{}:
			default:
			}
		default:
			out := types.ServerMessage{Type: types.MessageError, Payload: map[string]string{"message": "unknown action: " + msg.Action}}
			if !reply(out) {
				return
			}
		}
	}
}
