package store

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory("/a/b")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFleetStateRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if row, err := s.LoadFleetState(); err != nil || row != nil {
		t.Fatalf("fresh store: row=%v err=%v, want nil, nil", row, err)
	}

	want := &FleetStateRow{
		ID:        "/a/b",
		Counter:   7,
		Children:  []string{"east", "west"},
		AgentType: AgentWarehouse,
	}
	if err := s.SaveFleetState(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.LoadFleetState()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Counter != want.Counter || got.AgentType != want.AgentType {
		t.Errorf("loaded %+v, want counter=%d type=%s", got, want.Counter, want.AgentType)
	}
	if !reflect.DeepEqual(got.Children, want.Children) {
		t.Errorf("children = %v, want %v", got.Children, want.Children)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestFleetStateUpsertKeepsCreatedAt(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveFleetState(&FleetStateRow{ID: "/a/b", Counter: 1}); err != nil {
		t.Fatal(err)
	}
	first, _ := s.LoadFleetState()

	if err := s.SaveFleetState(&FleetStateRow{ID: "/a/b", Counter: 2, CreatedAt: first.CreatedAt}); err != nil {
		t.Fatal(err)
	}
	second, _ := s.LoadFleetState()

	if second.Counter != 2 {
		t.Errorf("counter = %d, want 2", second.Counter)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("created_at changed on upsert: %v → %v", first.CreatedAt, second.CreatedAt)
	}
}

func TestUpsertItemWithTransaction(t *testing.T) {
	s := newTestStore(t)

	item := &InventoryItem{SKU: "WIDGET-1", Name: "Widget", CurrentStock: 10, LowStockThreshold: 3}
	txn := &Transaction{SKU: "WIDGET-1", Operation: "set", Quantity: 10, Timestamp: time.Now()}
	if err := s.UpsertItem(item, txn); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetItem("WIDGET-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v, %v", got, err)
	}
	if got.CurrentStock != 10 || got.LowStockThreshold != 3 {
		t.Errorf("item = %+v", got)
	}

	// Second write updates in place, appends a second transaction.
	item.CurrentStock = 4
	if err := s.UpsertItem(item, &Transaction{SKU: "WIDGET-1", Operation: "decrement", Quantity: 6, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	items, err := s.ListItems()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].CurrentStock != 4 {
		t.Errorf("items = %+v", items)
	}

	n, err := s.CountTransactions("WIDGET-1")
	if err != nil || n != 2 {
		t.Errorf("transactions = %d, %v; want 2", n, err)
	}

	txns, err := s.RecentTransactions("WIDGET-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 2 || txns[0].Operation != "decrement" {
		t.Errorf("recent order wrong: %+v", txns)
	}

	if missing, err := s.GetItem("NOPE"); err != nil || missing != nil {
		t.Errorf("unknown sku: %v, %v; want nil, nil", missing, err)
	}
}

func TestMessagesPagingAndPurge(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		msg := &StoredMessage{
			ID:          string(rune('a' + i)),
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			FromAgent:   "/a",
			Content:     "msg",
			MessageType: MessageBroadcast,
		}
		if err := s.AppendMessage(msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, total, err := s.ListMessages(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(msgs) != 2 {
		t.Fatalf("page = %d msgs, total %d", len(msgs), total)
	}
	if msgs[0].ID != "b" || msgs[1].ID != "c" {
		t.Errorf("chronological order broken: %s, %s", msgs[0].ID, msgs[1].ID)
	}

	// Purge strictly-older rows: the cutoff row itself survives.
	cutoff := base.Add(2 * time.Minute)
	n, err := s.PurgeMessagesBefore(cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("purged %d, want 2", n)
	}
	_, total, _ = s.ListMessages(10, 0)
	if total != 3 {
		t.Errorf("remaining = %d, want 3", total)
	}
}

func TestChatStatsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	date := StatsDate(time.Now())

	st, err := s.LoadChatStats(date)
	if err != nil {
		t.Fatal(err)
	}
	if st.Location != "/a/b" || st.Date != date || st.MessagesToday != 0 {
		t.Fatalf("fresh stats = %+v", st)
	}

	st.MessagesToday = 4
	st.ActionsExecuted = 3
	st.SuccessfulActions = 2
	st.Recompute()
	if err := s.SaveChatStats(st); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadChatStats(date)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessagesToday != 4 || got.ActionsExecuted != 3 || got.SuccessfulActions != 2 {
		t.Errorf("loaded = %+v", got)
	}
	want := float64(2) / 3 * 100
	if got.SuccessRate < want-0.001 || got.SuccessRate > want+0.001 {
		t.Errorf("successRate = %v, want %v", got.SuccessRate, want)
	}
}

func TestChatStatsRecompute(t *testing.T) {
	tests := []struct {
		name      string
		executed  int64
		succeeded int64
		want      float64
	}{
		{"no actions", 0, 0, 0},
		{"all succeed", 5, 5, 100},
		{"half", 4, 2, 50},
		{"none succeed", 3, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ChatStats{ActionsExecuted: tt.executed, SuccessfulActions: tt.succeeded}
			st.Recompute()
			if st.SuccessRate != tt.want {
				t.Errorf("SuccessRate = %v, want %v", st.SuccessRate, tt.want)
			}
			if st.SuccessRate < 0 || st.SuccessRate > 100 {
				t.Errorf("SuccessRate out of bounds: %v", st.SuccessRate)
			}
		})
	}
}

func TestInsightRows(t *testing.T) {
	s := newTestStore(t)

	raw, _ := json.Marshal(map[string]any{"shouldReorder": true})
	if err := s.InsertAnalysis(&Analysis{SKU: "W1", Analysis: raw, Confidence: 0.8, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertDecision(&Decision{SKU: "W1", DecisionType: "reorder", Reasoning: "below threshold", Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertForecast(&Forecast{SKU: "W1", PredictedDemand: 12, Confidence: 0.5, TrendDirection: "declining", ForecastDate: time.Now()}); err != nil {
		t.Fatal(err)
	}

	analyses, err := s.RecentAnalyses(10)
	if err != nil || len(analyses) != 1 || analyses[0].SKU != "W1" {
		t.Errorf("analyses = %+v, %v", analyses, err)
	}
	decisions, err := s.RecentDecisions(10)
	if err != nil || len(decisions) != 1 || decisions[0].DecisionType != "reorder" {
		t.Errorf("decisions = %+v, %v", decisions, err)
	}
	forecasts, err := s.RecentForecasts(10)
	if err != nil || len(forecasts) != 1 || forecasts[0].TrendDirection != "declining" {
		t.Errorf("forecasts = %+v, %v", forecasts, err)
	}
}

func TestClearAll(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveFleetState(&FleetStateRow{ID: "/a/b", Counter: 3}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertItem(&InventoryItem{SKU: "W1", Name: "w", CurrentStock: 1}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendMessage(&StoredMessage{ID: "m1", Timestamp: time.Now(), FromAgent: "x", Content: "c", MessageType: MessageSystem}); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearAll(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if row, _ := s.LoadFleetState(); row != nil {
		t.Errorf("fleet state survived clear: %+v", row)
	}
	if items, _ := s.ListItems(); len(items) != 0 {
		t.Errorf("items survived clear: %+v", items)
	}
	if _, total, _ := s.ListMessages(10, 0); total != 0 {
		t.Errorf("messages survived clear: %d", total)
	}
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, "acme|/a/b", "/a/b")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SaveFleetState(&FleetStateRow{ID: "/a/b", Counter: 9}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopen the same owner key: state survives.
	s2, err := Open(dir, "acme|/a/b", "/a/b")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	row, err := s2.LoadFleetState()
	if err != nil || row == nil || row.Counter != 9 {
		t.Fatalf("reloaded row = %+v, %v", row, err)
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		ownerKey string
		want     string
	}{
		{"acme|/a/b", "acme__a_b.db"},
		{"demo|/", "demo__.db"},
		{"t|/warehouse east", "t__warehouse east.db"},
		{"|||", "___.db"},
		{"   ", "root.db"},
	}
	for _, tt := range tests {
		if got := fileName(tt.ownerKey); got != tt.want {
			t.Errorf("fileName(%q) = %q, want %q", tt.ownerKey, got, tt.want)
		}
	}
}

func TestDumpLocations(t *testing.T) {
	dir := t.TempDir()

	for _, loc := range []string{"/", "/east"} {
		s, err := Open(dir, "demo|"+loc, loc)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.SaveFleetState(&FleetStateRow{ID: loc, Counter: 1}); err != nil {
			t.Fatal(err)
		}
		s.Close()
	}

	dump, err := DumpLocations(dir)
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	if len(dump) != 2 {
		t.Fatalf("dump has %d files, want 2: %v", len(dump), dump)
	}
	for file, rows := range dump {
		if strings.HasSuffix(file, ".db") {
			t.Errorf("dump key %q should be trimmed of the .db suffix", file)
		}
		if len(rows) != 1 {
			t.Errorf("%s: %d rows, want 1", file, len(rows))
		}
	}
}
