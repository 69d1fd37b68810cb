package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/stockfleet/internal/agent"
	"github.com/nextlevelbuilder/stockfleet/internal/bus"
	"github.com/nextlevelbuilder/stockfleet/internal/config"
	"github.com/nextlevelbuilder/stockfleet/internal/router"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// newTestServer wires a full in-process stack: bus, registry, gateway.
func newTestServer(t *testing.T) (addr string) {
	t.Helper()

	cfg := config.Default()
	cfg.Fleet.ApprovalWait = "1ms"

	b := bus.New()
	dataDir := t.TempDir()
	registry := router.NewRegistry(dataDir, agent.Deps{Config: cfg, Bus: b})
	srv := NewServer(cfg, registry, b, dataDir)

	ctx, cancel := context.WithCancel(context.Background())
	addr, start := StartTestServer(srv, ctx)
	go start()

	t.Cleanup(func() {
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		registry.Shutdown(shutdownCtx)
	})

	// Wait for the listener to answer.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + addr + "/health")
		if err == nil {
			resp.Body.Close()
			return addr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server never came up")
	return ""
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("GET %s: bad body %s: %v", url, body, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, payload interface{}, out interface{}) int {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			t.Fatalf("POST %s: bad body %s: %v", url, body, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	addr := newTestServer(t)

	var body struct {
		Status   string `json:"status"`
		Protocol int    `json:"protocol"`
	}
	if code := getJSON(t, "http://"+addr+"/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Status != "ok" || body.Protocol != protocol.ProtocolVersion {
		t.Errorf("health = %+v", body)
	}
}

func TestTenantCounterIsolation(t *testing.T) {
	addr := newTestServer(t)
	base := "http://" + addr

	var counter struct {
		Counter int64 `json:"counter"`
	}
	getJSON(t, base+"/acme/increment", &counter)
	getJSON(t, base+"/acme/increment", &counter)
	if counter.Counter != 2 {
		t.Errorf("acme counter = %d, want 2", counter.Counter)
	}

	getJSON(t, base+"/bravo/increment", &counter)
	if counter.Counter != 1 {
		t.Errorf("bravo counter = %d, want 1", counter.Counter)
	}

	var state struct {
		Counter int64    `json:"counter"`
		Agents  []string `json:"agents"`
	}
	if code := getJSON(t, base+"/acme/state", &state); code != http.StatusOK {
		t.Fatalf("state status = %d", code)
	}
	if state.Counter != 2 {
		t.Errorf("acme state counter = %d, want 2", state.Counter)
	}
}

func TestStateCacheInvalidation(t *testing.T) {
	addr := newTestServer(t)
	base := "http://" + addr

	var state struct {
		Counter int64 `json:"counter"`
	}
	getJSON(t, base+"/acme/state", &state)
	if state.Counter != 0 {
		t.Fatalf("initial counter = %d", state.Counter)
	}

	getJSON(t, base+"/acme/increment", nil)

	// The write published a cache.invalidate event, so the next read must
	// not serve the cached zero.
	getJSON(t, base+"/acme/state", &state)
	if state.Counter != 1 {
		t.Errorf("counter after increment = %d, want 1", state.Counter)
	}
}

func TestInventoryFlow(t *testing.T) {
	addr := newTestServer(t)
	base := "http://" + addr

	// Warm the parent first so upward propagation finds it ready.
	getJSON(t, base+"/acme/state", nil)

	var applied struct {
		Success bool `json:"success"`
		Update  struct {
			SKU          string `json:"sku"`
			CurrentStock int64  `json:"currentStock"`
		} `json:"update"`
	}
	code := postJSON(t, base+"/acme/east/inventory/stock", map[string]interface{}{
		"sku": "W1", "quantity": 10, "operation": "set", "lowStockThreshold": 5,
	}, &applied)
	if code != http.StatusOK || !applied.Success || applied.Update.CurrentStock != 10 {
		t.Fatalf("set: code %d, %+v", code, applied)
	}

	// 10 → 5 crosses the threshold.
	postJSON(t, base+"/acme/east/inventory/stock", map[string]interface{}{
		"sku": "W1", "quantity": 5, "operation": "decrement",
	}, &applied)
	if applied.Update.CurrentStock != 5 {
		t.Fatalf("decrement: %+v", applied)
	}

	var item struct {
		SKU          string `json:"sku"`
		CurrentStock int64  `json:"currentStock"`
	}
	if code := getJSON(t, base+"/acme/east/inventory/query?sku=W1", &item); code != http.StatusOK {
		t.Fatalf("query status = %d", code)
	}
	if item.CurrentStock != 5 {
		t.Errorf("queried stock = %d, want 5", item.CurrentStock)
	}

	if code := getJSON(t, base+"/acme/east/inventory/query?sku=NOPE", nil); code != http.StatusNotFound {
		t.Errorf("unknown sku status = %d, want 404", code)
	}

	// The crossing left a decision on record.
	var insights struct {
		Decisions []struct {
			DecisionType string `json:"decisionType"`
		} `json:"decisions"`
	}
	getJSON(t, base+"/acme/east/ai/insights", &insights)
	if len(insights.Decisions) != 1 || insights.Decisions[0].DecisionType != "reorder" {
		t.Errorf("decisions = %+v", insights.Decisions)
	}

	var alerts struct {
		TotalAlerts int `json:"totalAlerts"`
	}
	getJSON(t, base+"/acme/east/inventory/alerts", &alerts)
	if alerts.TotalAlerts != 1 {
		t.Errorf("alerts = %+v", alerts)
	}

	// Propagation reached the tenant root.
	if code := getJSON(t, base+"/acme/inventory/query?sku=W1", &item); code != http.StatusOK {
		t.Fatalf("parent query status = %d", code)
	}
	if item.CurrentStock != 5 {
		t.Errorf("parent stock = %d, want 5", item.CurrentStock)
	}
}

func TestInventorySyncEndpoint(t *testing.T) {
	addr := newTestServer(t)
	base := "http://" + addr

	var result struct {
		Successful int      `json:"successful"`
		Failed     int      `json:"failed"`
		Errors     []string `json:"errors"`
	}
	code := postJSON(t, base+"/acme/inventory/sync", map[string]interface{}{
		"updates": []map[string]interface{}{
			{"sku": "A1", "quantity": 5, "operation": "set"},
			{"sku": "bad/sku", "quantity": 5, "operation": "set"},
		},
	}, &result)
	if code != http.StatusOK {
		t.Fatalf("sync status = %d", code)
	}
	if result.Successful != 1 || result.Failed != 1 || len(result.Errors) != 1 {
		t.Errorf("result = %+v", result)
	}
}

func TestMessageEndpoints(t *testing.T) {
	addr := newTestServer(t)
	base := "http://" + addr

	for i := 0; i < 3; i++ {
		code := postJSON(t, base+"/acme/message", map[string]string{
			"from": "/ops", "content": fmt.Sprintf("note %d", i),
		}, nil)
		if code != http.StatusOK {
			t.Fatalf("message %d status = %d", i, code)
		}
	}

	var page struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
		TotalCount int64 `json:"totalCount"`
		HasMore    bool  `json:"hasMore"`
	}
	getJSON(t, base+"/acme/messages?limit=2", &page)
	if page.TotalCount != 3 || len(page.Messages) != 2 || !page.HasMore {
		t.Errorf("page = %+v", page)
	}
	if page.Messages[0].Content != "note 0" {
		t.Errorf("order = %+v", page.Messages)
	}

	// Empty content is rejected with the protocol error shape.
	var errBody struct {
		Code string `json:"code"`
	}
	code := postJSON(t, base+"/acme/message", map[string]string{"from": "/ops", "content": " "}, &errBody)
	if code != http.StatusBadRequest || errBody.Code != protocol.ErrValidation {
		t.Errorf("empty message: code %d, body %+v", code, errBody)
	}
}

func TestDeleteSubtreeAndRespawn(t *testing.T) {
	addr := newTestServer(t)
	base := "http://" + addr

	getJSON(t, base+"/acme/east/increment", nil)
	postJSON(t, base+"/acme/east/inventory/stock", map[string]interface{}{
		"sku": "W1", "quantity": 3, "operation": "set",
	}, nil)

	// Warm both response caches so deletion has stale entries to evict.
	var state struct {
		Counter int64 `json:"counter"`
	}
	getJSON(t, base+"/acme/east/state", &state)
	if state.Counter != 1 {
		t.Fatalf("warmed counter = %d, want 1", state.Counter)
	}
	var inv struct {
		TotalItems int `json:"totalItems"`
	}
	getJSON(t, base+"/acme/east/inventory/stock", &inv)
	if inv.TotalItems != 1 {
		t.Fatalf("warmed totalItems = %d, want 1", inv.TotalItems)
	}

	var ok struct {
		Success bool `json:"success"`
	}
	if code := postJSON(t, base+"/acme/east/delete-subtree", nil, &ok); code != http.StatusOK || !ok.Success {
		t.Fatalf("delete-subtree: %d, %+v", code, ok)
	}

	// The next request respawns a fresh agent over cleared state, and the
	// cached pre-deletion bodies must not be served.
	if code := getJSON(t, base+"/acme/east/state", &state); code != http.StatusOK {
		t.Fatalf("state after delete = %d", code)
	}
	if state.Counter != 0 {
		t.Errorf("counter after delete = %d, want 0", state.Counter)
	}
	getJSON(t, base+"/acme/east/inventory/stock", &inv)
	if inv.TotalItems != 0 {
		t.Errorf("totalItems after delete = %d, want 0", inv.TotalItems)
	}
}

func TestColdStartStockWrite(t *testing.T) {
	addr := newTestServer(t)

	// The very first request to this path is a write; it waits behind the
	// agent's initialization instead of being rejected.
	var applied struct {
		Success bool `json:"success"`
		Update  struct {
			CurrentStock int64 `json:"currentStock"`
		} `json:"update"`
	}
	code := postJSON(t, "http://"+addr+"/wh/inventory/stock", map[string]interface{}{
		"sku": "W1", "quantity": 100, "operation": "set",
	}, &applied)
	if code != http.StatusOK || !applied.Success {
		t.Fatalf("cold write: code %d, %+v", code, applied)
	}
	if applied.Update.CurrentStock != 100 {
		t.Errorf("currentStock = %d, want 100", applied.Update.CurrentStock)
	}
}

func TestHTTPErrorMapping(t *testing.T) {
	addr := newTestServer(t)
	base := "http://" + addr

	var errBody struct {
		Code string `json:"code"`
	}

	t.Run("method not allowed", func(t *testing.T) {
		code := postJSON(t, base+"/acme/state", nil, &errBody)
		if code != http.StatusMethodNotAllowed || errBody.Code != protocol.ErrMethodNotAllowed {
			t.Errorf("code %d, body %+v", code, errBody)
		}
	})

	t.Run("unknown inventory endpoint", func(t *testing.T) {
		code := getJSON(t, base+"/acme/inventory/bogus", &errBody)
		if code != http.StatusNotFound || errBody.Code != protocol.ErrNotFound {
			t.Errorf("code %d, body %+v", code, errBody)
		}
	})

	t.Run("invalid stock operation", func(t *testing.T) {
		code := postJSON(t, base+"/acme/inventory/stock", map[string]interface{}{
			"sku": "W1", "quantity": 1, "operation": "teleport",
		}, &errBody)
		if code != http.StatusBadRequest || errBody.Code != protocol.ErrValidation {
			t.Errorf("code %d, body %+v", code, errBody)
		}
	})

	t.Run("invalid path segment", func(t *testing.T) {
		code := getJSON(t, base+"/acme/a.b/state", &errBody)
		if code != http.StatusBadRequest {
			t.Errorf("code = %d, want 400", code)
		}
	})
}

func TestStaticShell(t *testing.T) {
	addr := newTestServer(t)

	resp, err := http.Get("http://" + addr + "/acme/dashboard")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content type = %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte("<html")) {
		t.Error("shell body is not HTML")
	}

	resp, err = http.Get("http://" + addr + "/favicon.ico")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("favicon status = %d, want 204", resp.StatusCode)
	}
}

func TestUpgradeRequiredOnWSPath(t *testing.T) {
	addr := newTestServer(t)

	resp, err := http.Get("http://" + addr + "/acme/ws")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("plain GET on /ws = %d, want 400", resp.StatusCode)
	}
}

// readWSFrame reads frames until one of the wanted type arrives, skipping
// forwarded bus events.
func readWSFrame(t *testing.T, conn *websocket.Conn, want string) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read (waiting for %q): %v", want, err)
		}
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("bad frame %s: %v", data, err)
		}
		typ, _ := frame["type"].(string)
		if typ == want {
			return frame
		}
		if typ == protocol.MsgEvent {
			continue
		}
		t.Fatalf("frame = %q (%s), want %q", typ, data, want)
	}
}

func TestWebSocketSession(t *testing.T) {
	addr := newTestServer(t)

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/acme/east/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Snapshot: state first, then today's stats.
	state := readWSFrame(t, conn, protocol.MsgState)
	if state["counter"].(float64) != 0 {
		t.Errorf("initial counter = %v", state["counter"])
	}
	readWSFrame(t, conn, protocol.MsgChatStats)

	// Increment over the socket.
	if err := conn.WriteJSON(map[string]string{"type": protocol.MsgIncrement}); err != nil {
		t.Fatal(err)
	}
	state = readWSFrame(t, conn, protocol.MsgState)
	if state["counter"].(float64) != 1 {
		t.Errorf("counter after increment = %v", state["counter"])
	}

	// Invalid JSON produces an error frame, the session survives.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	readWSFrame(t, conn, protocol.MsgError)

	// Unknown frame type: error frame, session still survives.
	if err := conn.WriteJSON(map[string]string{"type": "levitate"}); err != nil {
		t.Fatal(err)
	}
	errFrame := readWSFrame(t, conn, protocol.MsgError)
	if msg, _ := errFrame["message"].(string); msg != "Unknown message type" {
		t.Errorf("error message = %q", msg)
	}

	// Ping still answered after the errors.
	if err := conn.WriteJSON(map[string]string{"type": protocol.MsgPing}); err != nil {
		t.Fatal(err)
	}
	readWSFrame(t, conn, protocol.MsgPong)
	readWSFrame(t, conn, protocol.MsgState)

	// Stock update then query over the same session.
	if err := conn.WriteJSON(map[string]interface{}{
		"type": protocol.MsgStockUpdate, "sku": "W1", "quantity": 7, "operation": "set",
	}); err != nil {
		t.Fatal(err)
	}
	readWSFrame(t, conn, protocol.MsgStockUpdate)

	if err := conn.WriteJSON(map[string]string{"type": protocol.MsgStockQuery, "sku": "W1"}); err != nil {
		t.Fatal(err)
	}
	query := readWSFrame(t, conn, protocol.MsgStockResponse)
	if query["quantity"].(float64) != 7 || query["available"].(bool) != true {
		t.Errorf("stock response = %+v", query)
	}
}

func TestWebSocketSeesHTTPMutations(t *testing.T) {
	addr := newTestServer(t)
	base := "http://" + addr

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/acme/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	readWSFrame(t, conn, protocol.MsgState)
	readWSFrame(t, conn, protocol.MsgChatStats)

	// A mutation arriving over HTTP shows up on the subscription.
	getJSON(t, base+"/acme/increment", nil)
	state := readWSFrame(t, conn, protocol.MsgState)
	if state["counter"].(float64) != 1 {
		t.Errorf("pushed counter = %v", state["counter"])
	}
}

// readRawFrame reads exactly one frame without skipping anything.
func readRawFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("bad frame %s: %v", data, err)
	}
	return frame
}

func TestBusEventsScopedToOwner(t *testing.T) {
	addr := newTestServer(t)
	base := "http://" + addr

	dial := func(path string) *websocket.Conn {
		conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+path, nil)
		if err != nil {
			t.Fatalf("dial %s: %v", path, err)
		}
		if resp != nil {
			resp.Body.Close()
		}
		t.Cleanup(func() { conn.Close() })
		readWSFrame(t, conn, protocol.MsgState)
		readWSFrame(t, conn, protocol.MsgChatStats)
		return conn
	}
	acme := dial("/acme/ws")
	bravo := dial("/bravo/ws")

	postJSON(t, base+"/acme/inventory/stock", map[string]interface{}{
		"sku": "W1", "quantity": 5, "operation": "set",
	}, nil)

	// The owning agent's subscriber sees the broadcast frame, then the
	// audit event.
	frame := readRawFrame(t, acme)
	if frame["type"] != protocol.MsgStockUpdate {
		t.Fatalf("first acme frame = %v", frame["type"])
	}
	frame = readRawFrame(t, acme)
	if frame["type"] != protocol.MsgEvent || frame["name"] != "audit.inventory" {
		t.Errorf("second acme frame = %+v", frame)
	}

	// Bus delivery ran synchronously during the POST, so a leaked event
	// would already sit ahead of this pong in bravo's buffer.
	if err := bravo.WriteJSON(map[string]string{"type": protocol.MsgPing}); err != nil {
		t.Fatal(err)
	}
	frame = readRawFrame(t, bravo)
	if frame["type"] != protocol.MsgPong {
		t.Errorf("bravo received %+v, want pong (no foreign events)", frame)
	}
}
