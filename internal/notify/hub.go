package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	models "github.com/CodeAndHammer/heungbuja/internal/models"
	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// SampleSink receives inbound movement samples from sockets.
type SampleSink interface {
	Submit(sample models.Sample)
}

// Hub bridges websocket clients to session topics. Each connection is bound
// to one session: it receives that session's push messages and may stream
// movement samples in.
type Hub struct {
	broker   Broker
	sink     SampleSink
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]int
}

func NewHub(b Broker, sink SampleSink) *Hub {
	return &Hub{
		broker: b,
		sink:   sink,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		conns: make(map[string]int),
	}
}

// Connections returns the number of open sockets.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	total := 0
	for _, n := range h.conns {
		total += n
	}
	return total
}

func (h *Hub) track(sessionID string, delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sessionID] += delta
	if h.conns[sessionID] <= 0 {
		delete(h.conns, sessionID)
	}
}

// Serve upgrades the request and runs the connection until either side
// closes it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, sessionID string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	messages, err := h.broker.Subscribe(ctx, sessionID)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		return err
	}

	h.track(sessionID, 1)
	defer h.track(sessionID, -1)
	util.Session(sessionID).Debug().Msg("socket connected")

	go h.writePump(ctx, cancel, conn, messages)
	h.readPump(conn, sessionID)
	return nil
}

func (h *Hub) readPump(conn *websocket.Conn, sessionID string) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.Session(sessionID).Warn().Err(err).Msg("socket closed unexpectedly")
			}
			return
		}
		var sample models.Sample
		if err := json.Unmarshal(data, &sample); err != nil || sample.SessionID == "" {
			continue
		}
		// a socket only feeds the session it subscribed to
		if sample.SessionID != sessionID {
			util.Session(sessionID).Debug().Str("sampleSession", sample.SessionID).Msg("dropping sample for another session")
			continue
		}
		h.sink.Submit(sample)
	}
}

func (h *Hub) writePump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, messages <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()
	defer cancel()

	for {
		select {
		case payload, ok := <-messages:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
