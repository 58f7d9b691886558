package api

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/linetally/peoplecount/internal/bus"
	"github.com/linetally/peoplecount/internal/tokens"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wireEnvelope struct {
	Type bus.Kind `json:"type"`
	Data any      `json:"data"`
}

const wsPingInterval = 20 * time.Second

// ServeWS upgrades to a websocket and streams bus messages to the client
// (spec §6, WS /ws). Auth is a bearer token in the "token" query param,
// since browsers cannot set Authorization headers on a WS handshake.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := s.Tokens.ValidateToken(tokenStr)
	if err != nil || claims.TokenType != tokens.Access {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if blacklisted, err := s.Blacklist.IsBlacklisted(r.Context(), claims.ID); err != nil || blacklisted {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := s.Bus.Subscribe(uuid.New().String())
	defer s.Bus.Unsubscribe(sub.ID())

	go s.wsReadLoop(conn)

	idle := s.SubscriptionIdleTimeout
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	idleTimer := time.NewTimer(idle)
	defer idleTimer.Stop()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	var lastDropped uint64
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(idle)

			// The bus head-drops this subscriber's oldest pending message when
			// its buffer is full (spec §7 "Subscriber slowness"); tell the
			// client once per overflow rather than silently losing messages.
			if dropped := sub.Dropped(); dropped > lastDropped {
				lastDropped = dropped
				if err := conn.WriteJSON(wireEnvelope{Type: bus.KindStatus, Data: map[string]any{"message": "subscriber buffer overflow, messages were dropped", "overflowed": true}}); err != nil {
					return
				}
			}

			if err := conn.WriteJSON(wireEnvelope{Type: msg.Kind, Data: msg.Data}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-idleTimer.C:
			_ = conn.WriteJSON(wireEnvelope{Type: bus.KindStatus, Data: map[string]string{"message": "idle timeout"}})
			return
		}
	}
}

// wsReadLoop drains client frames (pongs, close) so the connection's read
// deadline keeps advancing; this server never expects inbound messages.
func (s *Server) wsReadLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
