package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/stockfleet/internal/agent"
	"github.com/nextlevelbuilder/stockfleet/internal/router"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// writeWait bounds a single frame write to the socket.
const writeWait = 10 * time.Second

// wsClient is one subscription transport: a websocket bound to one agent
// subscription. The write pump drains the subscription buffer; the read
// pump feeds frames into the agent's dispatcher.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	agent   *agent.Agent
	sub     *agent.Subscription
	limiter *rate.Limiter
	server  *Server
}

// handleSubscribe upgrades the connection and attaches it to the owning
// agent. The on-open snapshot is deferred by the agent until it is READY.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, route router.Route) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway.upgrade_failed", "error", err)
		return
	}

	a := s.registry.Get(route.Key)
	c := &wsClient{
		id:     uuid.Must(uuid.NewV7()).String(),
		conn:   conn,
		agent:  a,
		sub:    agent.NewSubscription(uuid.Must(uuid.NewV7()).String()),
		server: s,
	}
	if rpm := s.cfg.GatewaySnapshot().RateLimitRPM; rpm > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rpm)/60, 5)
	}

	s.registerClient(c)
	defer func() {
		s.unregisterClient(c)
		a.Unsubscribe(c.sub.ID)
		c.sub.Close()
		conn.Close()
	}()

	subCtx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	err = a.Subscribe(subCtx, c.sub)
	cancel()
	if err != nil {
		slog.Warn("gateway.subscribe_failed", "owner", a.Key().Display(), "error", err)
		return
	}

	go c.writePump()
	c.readPump(r.Context())
}

// sendEvent forwards a bus event frame through the subscription buffer.
func (c *wsClient) sendEvent(ev protocol.EventFrame) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	c.sub.Send(data)
}

// writePump drains the subscription buffer to the socket and keeps the
// connection alive with protocol-level pings.
func (c *wsClient) writePump() {
	interval := c.server.cfg.Tunables().PingInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-c.sub.Frames():
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump feeds inbound frames into the agent until the connection idles
// out or closes. A channel must show traffic within idleMax.
func (c *wsClient) readPump(ctx context.Context) {
	idleMax := c.server.cfg.Tunables().IdleMax
	c.conn.SetReadDeadline(time.Now().Add(idleMax))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(idleMax))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("gateway.read_closed", "id", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(idleMax))

		if c.limiter != nil && !c.limiter.Allow() {
			c.sub.Send(mustMarshal(protocol.NewErrorFrame(
				protocol.ErrValidation, "rate limit exceeded", "")))
			continue
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sub.Send(mustMarshal(protocol.NewErrorFrame(
				protocol.ErrValidation, "invalid frame", err.Error())))
			continue
		}

		opCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		c.agent.HandleFrame(opCtx, c.sub, &frame)
		cancel()
	}
}

func mustMarshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
