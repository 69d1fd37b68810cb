// Package gateway is the HTTP/WebSocket front door. It resolves each
// request to an owner key through the router, forwards API calls to the
// owning agent with the tenant and fleet-path headers set, upgrades
// subscription requests, and serves the static shell for everything else.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/stockfleet/internal/bus"
	"github.com/nextlevelbuilder/stockfleet/internal/config"
	"github.com/nextlevelbuilder/stockfleet/internal/router"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// Server is the gateway server handling WebSocket and HTTP connections.
type Server struct {
	cfg      *config.Config
	registry *router.Registry
	eventPub bus.EventPublisher
	dataDir  string

	upgrader websocket.Upgrader
	cache    *ttlCache

	mu      sync.RWMutex
	clients map[string]*wsClient

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates a gateway server.
func NewServer(cfg *config.Config, registry *router.Registry, eventPub bus.EventPublisher, dataDir string) *Server {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		eventPub: eventPub,
		dataDir:  dataDir,
		clients:  make(map[string]*wsClient),
		cache:    newTTLCache(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	if eventPub != nil {
		eventPub.Subscribe("gateway-cache", s.cache.onEvent)
	}
	return s
}

// checkOrigin validates the WebSocket Origin header against the allowed
// origins list. No config means allow all; an empty Origin (non-browser
// client) is always allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	allowed := s.cfg.GatewaySnapshot().AllowedOrigins
	if len(allowed) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if origin == a || a == "*" {
			return true
		}
	}
	slog.Warn("security.origin_rejected", "origin", origin)
	return false
}

// BuildMux creates and caches the HTTP mux.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc(router.EndpointHealth, s.handleHealth)
	mux.HandleFunc("/", s.handleRequest)
	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	gw := s.cfg.GatewaySnapshot()
	addr := fmt.Sprintf("%s:%d", gw.Host, gw.Port)
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("gateway.starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// handleRequest is the front door: resolve, then dispatch.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	route, err := router.Resolve(r.Host, r.URL.Path)
	if err != nil {
		writeResolveError(w, err)
		return
	}

	switch {
	case route.Upgrade:
		if r.Method != http.MethodGet || !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			writeError(w, http.StatusBadRequest, protocol.ErrValidation,
				"subscription endpoint requires a websocket upgrade", "")
			return
		}
		s.handleSubscribe(w, r, route)

	case route.Endpoint == "":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusNotFound, protocol.ErrNotFound, "unknown endpoint", r.URL.Path)
			return
		}
		serveStatic(w, r)

	default:
		// Forwarding contract: the owning agent reads these headers.
		r.Header.Set(protocol.HeaderTenant, route.Key.Tenant)
		r.Header.Set(protocol.HeaderPath, route.Key.Path.String())
		s.handleAPI(w, r, route)
	}
}

// handleHealth answers the liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","protocol":%d}`, protocol.ProtocolVersion)
}

func (s *Server) registerClient(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.id] = c

	owner := c.agent.Key().String()
	if s.eventPub != nil {
		s.eventPub.Subscribe(c.id, func(event bus.Event) {
			if strings.HasPrefix(event.Name, "cache.") {
				return
			}
			// Owner-scoped events stay with their agent's subscribers.
			if event.Owner != "" && event.Owner != owner {
				return
			}
			c.sendEvent(protocol.NewEvent(event.Name, event.Payload))
		})
	}
	slog.Info("client.connected", "id", c.id, "owner", c.agent.Key().Display())
}

func (s *Server) unregisterClient(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c.id)
	if s.eventPub != nil {
		s.eventPub.Unsubscribe(c.id)
	}
	slog.Info("client.disconnected", "id", c.id)
}

// StartTestServer listens on a random local port and returns the address
// plus a start function. Integration tests drive it directly.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	mux := s.BuildMux()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: mux}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
