package store

import (
	"encoding/json"
	"time"
)

// Message type constants for stored_messages.message_type.
const (
	MessageDirect    = "direct"
	MessageBroadcast = "broadcast"
	MessageSystem    = "system"
)

// Agent type enum for fleet_state.agent_type.
const (
	AgentOrchestrator = "orchestrator"
	AgentWarehouse    = "warehouse"
	AgentRetail       = "retail"
	AgentFulfillment  = "fulfillment"
)

// ValidAgentType reports whether t is a known agent type.
func ValidAgentType(t string) bool {
	switch t {
	case AgentOrchestrator, AgentWarehouse, AgentRetail, AgentFulfillment:
		return true
	}
	return false
}

// FleetStateRow is the single persisted row for one path.
type FleetStateRow struct {
	ID        string    `json:"id"` // canonical path
	Counter   int64     `json:"counter"`
	Children  []string  `json:"children"`
	AgentType string    `json:"agentType"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InventoryItem is one SKU held at a location.
type InventoryItem struct {
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	CurrentStock      int64     `json:"currentStock"`
	LowStockThreshold int64     `json:"lowStockThreshold"`
	Location          string    `json:"location"`
	CreatedAt         time.Time `json:"createdAt"`
	LastUpdated       time.Time `json:"lastUpdated"`
}

// StoredMessage is an entry in the per-location message log. A nil ToAgent
// means broadcast.
type StoredMessage struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	FromAgent   string    `json:"fromAgent"`
	ToAgent     *string   `json:"toAgent,omitempty"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	Location    string    `json:"location"`
}

// Transaction records one applied stock operation.
type Transaction struct {
	ID        int64     `json:"id"`
	SKU       string    `json:"sku"`
	Operation string    `json:"operation"`
	Quantity  int64     `json:"quantity"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
}

// Analysis is a stored model trend analysis for one SKU.
type Analysis struct {
	ID         int64           `json:"id"`
	SKU        string          `json:"sku"`
	Location   string          `json:"location"`
	Analysis   json.RawMessage `json:"analysis"`
	Confidence float64         `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Decision records a reorder (or skip) decision made after an analysis.
type Decision struct {
	ID           int64     `json:"id"`
	SKU          string    `json:"sku"`
	Location     string    `json:"location"`
	DecisionType string    `json:"decisionType"`
	Reasoning    string    `json:"reasoning"`
	Timestamp    time.Time `json:"timestamp"`
}

// Forecast is one demand forecast row.
type Forecast struct {
	ID              int64     `json:"id"`
	SKU             string    `json:"sku"`
	Location        string    `json:"location"`
	PredictedDemand int64     `json:"predictedDemand"`
	Confidence      float64   `json:"confidence"`
	TrendDirection  string    `json:"trendDirection"`
	Reasoning       string    `json:"reasoning"`
	ForecastDate    time.Time `json:"forecastDate"`
}

// ChatStats are the per-day chat counters for one location. Date is the UTC
// calendar day in "2006-01-02" form.
type ChatStats struct {
	Location          string    `json:"location"`
	Date              string    `json:"date"`
	MessagesToday     int64     `json:"messagesToday"`
	ActionsExecuted   int64     `json:"actionsExecuted"`
	SuccessfulActions int64     `json:"successfulActions"`
	SuccessRate       float64   `json:"successRate"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Recompute refreshes SuccessRate from the action counters.
// successRate = successfulActions / actionsExecuted × 100, 0 when no actions.
func (s *ChatStats) Recompute() {
	if s.ActionsExecuted <= 0 {
		s.SuccessRate = 0
		return
	}
	s.SuccessRate = float64(s.SuccessfulActions) / float64(s.ActionsExecuted) * 100
}

// StatsDate formats t as the UTC calendar-day key.
func StatsDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
