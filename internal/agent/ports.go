package agent

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/stockfleet/internal/bus"
	"github.com/nextlevelbuilder/stockfleet/internal/config"
	"github.com/nextlevelbuilder/stockfleet/internal/fleet"
	"github.com/nextlevelbuilder/stockfleet/internal/model"
	"github.com/nextlevelbuilder/stockfleet/internal/vector"
	"github.com/nextlevelbuilder/stockfleet/internal/workflow"
)

// StockUpdate is one stock mutation request.
type StockUpdate struct {
	SKU       string `json:"sku"`
	Name      string `json:"name,omitempty"`
	Quantity  int64  `json:"quantity"`
	Operation string `json:"operation"` // "set", "increment", "decrement"
	Threshold int64  `json:"lowStockThreshold,omitempty"`
	Location  string `json:"location,omitempty"`
}

// Stock operations.
const (
	OpSet       = "set"
	OpIncrement = "increment"
	OpDecrement = "decrement"
)

// ValidOperation reports whether op is a known stock operation.
func ValidOperation(op string) bool {
	return op == OpSet || op == OpIncrement || op == OpDecrement
}

// Peers is the hierarchy fabric: agent-to-agent calls addressed by OwnerKey
// and routed through the registry. Every call is deadline-bounded and
// best-effort from the caller's point of view.
type Peers interface {
	SendMessage(ctx context.Context, key fleet.OwnerKey, from, content, msgType string) error
	DeleteSubtree(ctx context.Context, key fleet.OwnerKey) error
	PropagateStock(ctx context.Context, key fleet.OwnerKey, update StockUpdate) error
}

// ApprovalRequest describes a reorder awaiting approval.
type ApprovalRequest struct {
	SKU      string
	Location string
	Quantity int64
	Urgency  string
	Reason   string
}

// Approver is the pluggable human-in-the-loop hook for large or critical
// reorders.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) bool
}

// AutoApprover approves every request after a bounded wait. The default
// binding; real deployments supply their own.
type AutoApprover struct {
	Wait time.Duration
}

func (a AutoApprover) Approve(ctx context.Context, _ ApprovalRequest) bool {
	select {
	case <-time.After(a.Wait):
		return true
	case <-ctx.Done():
		return false
	}
}

// Deps carries everything an agent needs beyond its own key. Model, Vector,
// Workflow, Bus and Approver may each be nil; the agent degrades to the
// documented fallback for each.
type Deps struct {
	Config   *config.Config
	Peers    Peers
	Model    model.Client
	Vector   vector.Store
	Workflow workflow.Dispatcher
	Bus      bus.Publisher
	Approver Approver
}
