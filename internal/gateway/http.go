package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/stockfleet/internal/agent"
	"github.com/nextlevelbuilder/stockfleet/internal/bus"
	"github.com/nextlevelbuilder/stockfleet/internal/fleet"
	"github.com/nextlevelbuilder/stockfleet/internal/router"
	"github.com/nextlevelbuilder/stockfleet/internal/store"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// requestTimeout bounds every forwarded HTTP operation.
const requestTimeout = 30 * time.Second

// handleAPI dispatches one resolved API call to the owning agent.
func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request, route router.Route) {
	key := keyFromHeaders(r, route.Key)
	a := s.registry.Get(key)

	ctx, cancel := contextWithTimeout(r)
	defer cancel()

	switch route.Endpoint {
	case router.EndpointState:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		if cached, ok := s.cache.get(bus.CacheKindState, key.String()); ok {
			writeRaw(w, cached)
			return
		}
		view, err := a.State(ctx)
		if err != nil {
			writeAgentError(w, err)
			return
		}
		data, _ := json.Marshal(map[string]interface{}{"counter": view.Counter, "agents": view.Agents})
		s.cache.set(bus.CacheKindState, key.String(), data, s.cfg.Tunables().CacheTTLState)
		writeRaw(w, data)

	case router.EndpointIncrement:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		counter, err := a.Increment(ctx)
		if err != nil {
			writeAgentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"counter": counter})

	case router.EndpointMessages:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		page, err := a.Messages(ctx, limit, offset)
		if err != nil {
			writeAgentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)

	case router.EndpointMessage:
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var body struct {
			From    string `json:"from"`
			Content string `json:"content"`
			Type    string `json:"type"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrValidation, "invalid JSON body", err.Error())
			return
		}
		if body.Type == "" {
			body.Type = store.MessageDirect
		}
		if err := a.InboundMessage(ctx, body.From, body.Content, body.Type); err != nil {
			writeAgentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case router.EndpointDeleteSubtree:
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		if err := a.DeleteSubtree(ctx); err != nil {
			writeAgentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})

	case router.EndpointStock:
		switch r.Method {
		case http.MethodGet:
			if cached, ok := s.cache.get(bus.CacheKindInventory, key.String()); ok {
				writeRaw(w, cached)
				return
			}
			view, err := a.InventorySnapshot(ctx)
			if err != nil {
				writeAgentError(w, err)
				return
			}
			data, _ := json.Marshal(view)
			s.cache.set(bus.CacheKindInventory, key.String(), data, s.cfg.Tunables().CacheTTLInventory)
			writeRaw(w, data)
		case http.MethodPost:
			var update agent.StockUpdate
			if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
				writeError(w, http.StatusBadRequest, protocol.ErrValidation, "invalid JSON body", err.Error())
				return
			}
			item, err := a.ApplyStock(ctx, update)
			if err != nil {
				writeAgentError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "update": item})
		default:
			writeError(w, http.StatusMethodNotAllowed, protocol.ErrMethodNotAllowed, "method not allowed", r.Method)
		}

	case router.EndpointQuery:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		item, err := a.StockQuery(ctx, r.URL.Query().Get("sku"))
		if err != nil {
			writeAgentError(w, err)
			return
		}
		if item == nil {
			writeError(w, http.StatusNotFound, protocol.ErrNotFound, "sku not found", r.URL.Query().Get("sku"))
			return
		}
		writeJSON(w, http.StatusOK, item)

	case router.EndpointSync:
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var body struct {
			Updates []agent.StockUpdate `json:"updates"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, protocol.ErrValidation, "invalid JSON body", err.Error())
			return
		}
		result, err := a.InventorySync(ctx, body.Updates)
		if err != nil {
			writeAgentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case router.EndpointAlerts:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		alerts, err := a.Alerts(ctx)
		if err != nil {
			writeAgentError(w, err)
			return
		}
		critical := 0
		for _, al := range alerts {
			if al.Severity == "critical" {
				critical++
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"alerts":         alerts,
			"totalAlerts":    len(alerts),
			"criticalAlerts": critical,
		})

	case router.EndpointAnalyze:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		view, err := a.Analyze(ctx, r.URL.Query().Get("sku"))
		if err != nil {
			writeAgentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case router.EndpointForecast:
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		forecasts, err := a.Forecast(ctx)
		if err != nil {
			writeAgentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"forecasts": forecasts})

	case router.EndpointInsights:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		view, err := a.Insights(ctx)
		if err != nil {
			writeAgentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	case router.EndpointDebugLocations:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		dump, err := store.DumpLocations(s.dataDir)
		if err != nil {
			writeError(w, http.StatusInternalServerError, protocol.ErrInternal, "dump failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, dump)

	case router.EndpointDebugDB:
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		view, err := a.DebugSnapshot(ctx)
		if err != nil {
			writeAgentError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)

	default:
		writeError(w, http.StatusNotFound, protocol.ErrNotFound, "unknown endpoint", route.Endpoint)
	}
}

// keyFromHeaders prefers the forwarding headers over the resolved route.
func keyFromHeaders(r *http.Request, fallback fleet.OwnerKey) fleet.OwnerKey {
	tenant := r.Header.Get(protocol.HeaderTenant)
	rawPath := r.Header.Get(protocol.HeaderPath)
	if tenant == "" || rawPath == "" {
		return fallback
	}
	path, err := fleet.ParsePath(rawPath)
	if err != nil {
		return fallback
	}
	return fleet.NewOwnerKey(tenant, path)
}

func contextWithTimeout(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), requestTimeout)
}
