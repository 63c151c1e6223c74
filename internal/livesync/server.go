package livesync

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Defaults for the heartbeat; PingPeriod must be less than PongWait.
	DefaultPongWait   = 60 * time.Second
	DefaultPingPeriod = 54 * time.Second

	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards and overlays are served from other origins
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Heartbeat configures the server's ping/pong keepalive.
type Heartbeat struct {
	PingPeriod time.Duration
	PongWait   time.Duration
}

func (hb Heartbeat) withDefaults() Heartbeat {
	if hb.PongWait <= 0 {
		hb.PongWait = DefaultPongWait
	}
	if hb.PingPeriod <= 0 || hb.PingPeriod >= hb.PongWait {
		hb.PingPeriod = hb.PongWait * 9 / 10
	}
	return hb
}

// Handler returns an http.Handler serving the sync channel over websocket.
// New clients receive the current documents first, then live updates.
// Messages a client sends are published to every client, itself included.
func (h *Hub) Handler(hb Heartbeat) http.Handler {
	hb = hb.withDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveWS(w, r, hb)
	})
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, hb Heartbeat) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	log := h.log.With().Str("remote", r.RemoteAddr).Logger()

	replay, sub, cancel := h.Subscribe()
	h.addClient(1)
	defer func() {
		cancel()
		conn.Close()
		h.addClient(-1)
		log.Debug().Msg("sync client disconnected")
	}()
	log.Debug().Int("replay", len(replay)).Msg("sync client connected")

	for _, msg := range replay {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Warn().Err(err).Msg("ws write replay failed")
			return
		}
	}

	done := make(chan struct{})

	// Reader goroutine - handles pongs, close messages and client updates
	go func() {
		defer close(done)
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(hb.PongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(hb.PongWait))
			return nil
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			msg, err := DecodeMessage(data)
			if err != nil {
				log.Warn().Err(err).Msg("ignoring sync message from client")
				continue
			}
			h.Publish(msg)
		}
	}()

	// Writer loop - sends updates and pings
	ticker := time.NewTicker(hb.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return

		case msg := <-sub:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn().Err(err).Msg("ws write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
