package controller

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/verus-network/vrscx/pkg/redis"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard frontend is served from a different origin.
		return true
	},
}

// ServerMessage is the websocket envelope.
type ServerMessage struct {
	Type    string `json:"type"` // "mempool.seen" | "index.complete" | "ping"
	Payload any    `json:"payload"`
}

// HandleWebSocket streams the advisory events (mempool first-seen,
// index completions) bridged from Redis pub/sub.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	sub := c.App.RedisClient.Subscribe(r.Context(), redis.ChannelMempoolSeen, redis.ChannelIndexComplete)
	defer func() { _ = sub.Close() }()

	// Reader goroutine only to detect client close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, rerr := conn.ReadMessage(); rerr != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	events := sub.Channel()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ping.C:
			msg := ServerMessage{Type: "ping", Payload: map[string]int64{"timestamp": time.Now().Unix()}}
			if werr := conn.WriteJSON(msg); werr != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			var payload any
			if uerr := json.Unmarshal([]byte(ev.Payload), &payload); uerr != nil {
				payload = ev.Payload
			}
			msgType := "index.complete"
			if ev.Channel == redis.ChannelMempoolSeen {
				msgType = "mempool.seen"
			}
			if werr := conn.WriteJSON(ServerMessage{Type: msgType, Payload: payload}); werr != nil {
				return
			}
		}
	}
}
