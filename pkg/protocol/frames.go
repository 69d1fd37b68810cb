// Package protocol defines the wire types shared between the gateway and
// subscription clients. Frames are JSON objects tagged by a "type" field.
package protocol

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is bumped whenever a frame shape changes incompatibly.
const ProtocolVersion = 1

// Frame is the envelope for every message on a subscription channel.
// Payload fields are flattened next to Type on the wire; the raw form is
// kept so the dispatcher can decode into the typed payload for its case.
type Frame struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON keeps the raw bytes alongside the decoded type tag.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	f.Type = probe.Type
	f.Raw = append(f.Raw[:0], data...)
	return nil
}

// Decode unmarshals the frame payload into dst.
func (f *Frame) Decode(dst interface{}) error {
	return json.Unmarshal(f.Raw, dst)
}

// Client → agent message types.
const (
	MsgIncrement         = "increment"
	MsgCreateAgent       = "createAgent"
	MsgDeleteAgent       = "deleteAgent"
	MsgDirectMessage     = "directMessage"
	MsgBroadcast         = "broadcast"
	MsgPing              = "ping"
	MsgPong              = "pong"
	MsgStockUpdate       = "stockUpdate"
	MsgStockQuery        = "stockQuery"
	MsgInventorySync     = "inventorySync"
	MsgChatMessage       = "chatMessage"
	MsgTestPersistence   = "testPersistence"
	MsgTestPersistence25 = "testPersistence25s"
)

// Agent → client message types.
const (
	MsgEvent         = "event"
	MsgState         = "state"
	MsgAgentCreated  = "agentCreated"
	MsgAgentDeleted  = "agentDeleted"
	MsgMessage       = "message"
	MsgError         = "error"
	MsgStockResponse = "stockResponse"
	MsgLowStockAlert = "lowStockAlert"
	MsgChatResponse  = "chatResponse"
	MsgChatStats     = "chatStats"
)

// Error codes surfaced over HTTP and on subscription error frames.
const (
	ErrValidation       = "VALIDATION_ERROR"
	ErrAgentExists      = "AGENT_EXISTS"
	ErrNotFound         = "NOT_FOUND"
	ErrMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrInternal         = "INTERNAL_ERROR"
)

// ErrorFrame is the canonical protocol error shape.
type ErrorFrame struct {
	Type      string `json:"type"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

// NewErrorFrame builds an error frame with the current UTC timestamp.
func NewErrorFrame(code, message, details string) ErrorFrame {
	return ErrorFrame{
		Type:      MsgError,
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// StateFrame is the agent state snapshot sent on open, after mutations and
// with every pong.
type StateFrame struct {
	Type    string   `json:"type"`
	Counter int64    `json:"counter"`
	Agents  []string `json:"agents"`
}

// AgentLifecycleFrame covers agentCreated / agentDeleted.
type AgentLifecycleFrame struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// MessageFrame delivers a stored direct/broadcast/system message.
type MessageFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	From    string `json:"from"`
	Content string `json:"content"`
}

// PongFrame answers a ping; a StateFrame follows on the same channel.
type PongFrame struct {
	Type string `json:"type"`
}

// StockUpdateFrame is both a client command and a server event.
type StockUpdateFrame struct {
	Type      string `json:"type"`
	SKU       string `json:"sku"`
	Quantity  int64  `json:"quantity"`
	Operation string `json:"operation"` // "set", "increment", "decrement"
}

// StockQueryFrame asks for the current stock of one SKU.
type StockQueryFrame struct {
	Type string `json:"type"`
	SKU  string `json:"sku"`
}

// StockResponseFrame answers a stockQuery.
type StockResponseFrame struct {
	Type      string `json:"type"`
	SKU       string `json:"sku"`
	Quantity  int64  `json:"quantity"`
	Location  string `json:"location"`
	Available bool   `json:"available"`
}

// LowStockAlertFrame is pushed when a mutation crosses the threshold.
type LowStockAlertFrame struct {
	Type         string `json:"type"`
	SKU          string `json:"sku"`
	CurrentStock int64  `json:"currentStock"`
	Threshold    int64  `json:"threshold"`
	Location     string `json:"location"`
	Severity     string `json:"severity"` // "warning" or "critical"
}

// InventorySyncFrame applies a batch of stock updates.
type InventorySyncFrame struct {
	Type    string             `json:"type"`
	Updates []StockUpdatePlain `json:"updates"`
}

// StockUpdatePlain is a stock update without the frame type tag (batch items).
type StockUpdatePlain struct {
	SKU       string `json:"sku"`
	Quantity  int64  `json:"quantity"`
	Operation string `json:"operation"`
}

// NameFrame covers createAgent / deleteAgent commands.
type NameFrame struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// DirectMessageFrame sends text to one named child.
type DirectMessageFrame struct {
	Type      string `json:"type"`
	AgentName string `json:"agentName"`
	Message   string `json:"message"`
}

// BroadcastFrame sends text to every direct child and echoes locally.
type BroadcastFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ChatMessageFrame is a user chat turn.
type ChatMessageFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	UserID  string `json:"userId,omitempty"`
}

// ChatResponseFrame streams a chat role turn back to the client.
type ChatResponseFrame struct {
	Type      string            `json:"type"`
	Role      string            `json:"role"` // "user" or "assistant"
	Content   string            `json:"content"`
	Timestamp string            `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ChatStatsFrame reports today's chat counters.
type ChatStatsFrame struct {
	Type            string  `json:"type"`
	MessagesToday   int64   `json:"messagesToday"`
	ActionsExecuted int64   `json:"actionsExecuted"`
	SuccessRate     float64 `json:"successRate"`
}

// EventFrame forwards a named server-side bus event to clients.
type EventFrame struct {
	Type    string      `json:"type"`
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent builds an event frame.
func NewEvent(name string, payload interface{}) EventFrame {
	return EventFrame{Type: MsgEvent, Name: name, Payload: payload}
}

// Forwarding headers set by the router on every call it forwards.
const (
	HeaderTenant = "tenant"
	HeaderPath   = "fleet-path"
)
