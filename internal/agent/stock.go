package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/stockfleet/internal/bus"
	"github.com/nextlevelbuilder/stockfleet/internal/model"
	"github.com/nextlevelbuilder/stockfleet/internal/store"
	"github.com/nextlevelbuilder/stockfleet/internal/vector"
	"github.com/nextlevelbuilder/stockfleet/internal/workflow"
	"github.com/nextlevelbuilder/stockfleet/pkg/protocol"
)

// maxSKULen bounds a SKU string.
const maxSKULen = 50

// modelTimeout bounds every analysis and forecast model call.
const modelTimeout = 10 * time.Second

// ValidSKU reports whether s is a legal SKU: 1..50 chars from the segment
// character class.
func ValidSKU(s string) bool {
	if len(s) == 0 || len(s) > maxSKULen {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == ' ' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// validateUpdate normalizes and checks one stock update.
func validateUpdate(u *StockUpdate) error {
	u.SKU = strings.TrimSpace(u.SKU)
	if !ValidSKU(u.SKU) {
		return errValidation("invalid sku %q", u.SKU)
	}
	if u.Quantity < 0 {
		return errValidation("quantity must be non-negative")
	}
	if !ValidOperation(u.Operation) {
		return errValidation("invalid operation %q", u.Operation)
	}
	if u.Threshold < 0 {
		return errValidation("threshold must be non-negative")
	}
	return nil
}

// ApplyStock applies one stock mutation: update the in-memory item, persist
// item plus transaction, broadcast, then run the threshold chain when the
// mutation crosses the low-stock line, and propagate the update to the
// parent best-effort.
func (a *Agent) ApplyStock(ctx context.Context, update StockUpdate) (*store.InventoryItem, error) {
	if err := validateUpdate(&update); err != nil {
		return nil, err
	}
	var result *store.InventoryItem
	err := a.do(ctx, true, func() error {
		item, err := a.applyStockLocked(update)
		if err != nil {
			return err
		}
		result = item
		a.maybePurge()
		return nil
	})
	return result, err
}

// applyStockLocked runs on the writer. Split out so inventory sync can batch
// without re-entering the mailbox.
func (a *Agent) applyStockLocked(update StockUpdate) (*store.InventoryItem, error) {
	item, ok := a.inventory[update.SKU]
	if !ok {
		name := update.Name
		if name == "" {
			name = update.SKU
		}
		item = &store.InventoryItem{
			SKU:               update.SKU,
			Name:              name,
			LowStockThreshold: update.Threshold,
			Location:          a.key.Path.String(),
			CreatedAt:         time.Now(),
		}
	} else if update.Threshold > 0 {
		item.LowStockThreshold = update.Threshold
	}

	prev := item.CurrentStock
	switch update.Operation {
	case OpSet:
		item.CurrentStock = update.Quantity
	case OpIncrement:
		item.CurrentStock = prev + update.Quantity
	case OpDecrement:
		// Clamp at zero: stock never goes negative.
		item.CurrentStock = prev - update.Quantity
		if item.CurrentStock < 0 {
			item.CurrentStock = 0
		}
	}
	item.LastUpdated = time.Now()

	txn := &store.Transaction{
		SKU:       update.SKU,
		Operation: update.Operation,
		Quantity:  update.Quantity,
		Location:  a.key.Path.String(),
		Timestamp: item.LastUpdated,
	}
	if err := a.st.UpsertItem(item, txn); err != nil {
		return nil, errInternal(err)
	}
	a.inventory[update.SKU] = item

	a.publish(protocol.StockUpdateFrame{
		Type:      protocol.MsgStockUpdate,
		SKU:       update.SKU,
		Quantity:  item.CurrentStock,
		Operation: update.Operation,
	})
	a.busSend(bus.TopicAuditInventory, txn)
	a.invalidateInventory()

	crossed := item.LowStockThreshold > 0 &&
		prev > item.LowStockThreshold &&
		item.CurrentStock <= item.LowStockThreshold
	if crossed {
		a.runThresholdChain(item)
	}

	a.propagateToParent(update)
	return item, nil
}

// propagateToParent forwards the update one level up, best-effort. Paths
// strictly shorten, so the chain always terminates at the root.
func (a *Agent) propagateToParent(update StockUpdate) {
	parent, ok := a.key.Parent()
	if !ok || a.deps.Peers == nil {
		return
	}
	rpcCtx, cancel := context.WithTimeout(context.Background(), peerTimeout)
	defer cancel()
	if err := a.deps.Peers.PropagateStock(rpcCtx, parent, update); err != nil {
		slog.Warn("agent.propagate_failed", "owner", a.key.Display(), "error", err)
	}
}

// analysisResult is the decoded shape of a trend analysis.
type analysisResult struct {
	ShouldReorder   bool    `json:"shouldReorder"`
	Urgency         string  `json:"urgency"`
	ReorderQuantity int64   `json:"reorderQuantity"`
	Confidence      float64 `json:"confidence"`
	Reasoning       string  `json:"reasoning"`
}

var analysisSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"shouldReorder":   map[string]interface{}{"type": "boolean"},
		"urgency":         map[string]interface{}{"type": "string"},
		"reorderQuantity": map[string]interface{}{"type": "integer"},
		"confidence":      map[string]interface{}{"type": "number"},
		"reasoning":       map[string]interface{}{"type": "string"},
	},
}

// runThresholdChain executes the low-stock effect chain: alert, analysis,
// approval, reorder dispatch, decision row, parent notice. Collaborator
// failures never fail the stock operation.
func (a *Agent) runThresholdChain(item *store.InventoryItem) {
	severity := "warning"
	if item.CurrentStock == 0 {
		severity = "critical"
	}

	alert := protocol.LowStockAlertFrame{
		Type:         protocol.MsgLowStockAlert,
		SKU:          item.SKU,
		CurrentStock: item.CurrentStock,
		Threshold:    item.LowStockThreshold,
		Location:     item.Location,
		Severity:     severity,
	}
	a.publish(alert)
	a.busSend(bus.TopicNotifyAlerts, alert)

	analysis := a.analyzeTrend(item)

	tun := a.deps.Config.Tunables()
	decisionType := "no_reorder"
	reasoning := analysis.Reasoning

	if analysis.ShouldReorder {
		approved := true
		if analysis.Urgency == "critical" || analysis.ReorderQuantity > tun.ApprovalAmountThreshold {
			approved = a.requestApproval(item, analysis, tun.ApprovalWait)
		}
		if approved {
			a.dispatchReorder(item, analysis)
			decisionType = "reorder"
		} else {
			decisionType = "reorder_rejected"
			reasoning = "approval denied: " + reasoning
		}
	}

	if err := a.st.InsertDecision(&store.Decision{
		SKU:          item.SKU,
		Location:     item.Location,
		DecisionType: decisionType,
		Reasoning:    reasoning,
		Timestamp:    time.Now(),
	}); err != nil {
		slog.Warn("agent.decision_store_failed", "owner", a.key.Display(), "error", err)
	}

	a.notifyParentLowStock(item, severity)
}

// analyzeTrend asks the model for a trend analysis, falling back to a
// deterministic local result on any failure. The result is stored and, when
// a vector binding exists, embedded for similarity lookups.
func (a *Agent) analyzeTrend(item *store.InventoryItem) analysisResult {
	result := a.fallbackAnalysis(item)

	if a.deps.Model != nil {
		txns, _ := a.st.RecentTransactions(item.SKU, 20)
		mctx, cancel := context.WithTimeout(context.Background(), modelTimeout)
		resp, err := a.deps.Model.Run(mctx, model.Request{
			Messages: []model.Message{
				{Role: "system", Content: "You are an inventory analyst. Decide whether to reorder."},
				{Role: "user", Content: a.analysisPrompt(item, txns)},
			},
			ResponseSchema: analysisSchema,
		})
		cancel()
		if err != nil {
			slog.Warn("agent.analysis_model_failed", "owner", a.key.Display(), "sku", item.SKU, "error", err)
		} else if resp.Parsed != nil {
			var parsed analysisResult
			if jsonErr := json.Unmarshal(resp.Parsed, &parsed); jsonErr == nil {
				if parsed.Reasoning == "" {
					parsed.Reasoning = result.Reasoning
				}
				result = parsed
			}
		}
	}

	raw, _ := json.Marshal(result)
	if err := a.st.InsertAnalysis(&store.Analysis{
		SKU:        item.SKU,
		Location:   item.Location,
		Analysis:   raw,
		Confidence: result.Confidence,
		Timestamp:  time.Now(),
	}); err != nil {
		slog.Warn("agent.analysis_store_failed", "owner", a.key.Display(), "error", err)
	}

	a.indexAnalysis(item, result)
	return result
}

// fallbackAnalysis is the deterministic stand-in when the model is absent
// or failing.
func (a *Agent) fallbackAnalysis(item *store.InventoryItem) analysisResult {
	urgency := "normal"
	if item.CurrentStock == 0 {
		urgency = "critical"
	}
	qty := item.LowStockThreshold*2 - item.CurrentStock
	if qty < 1 {
		qty = 1
	}
	return analysisResult{
		ShouldReorder:   true,
		Urgency:         urgency,
		ReorderQuantity: qty,
		Confidence:      0.5,
		Reasoning: fmt.Sprintf("stock %d at or below threshold %d for %s",
			item.CurrentStock, item.LowStockThreshold, item.SKU),
	}
}

func (a *Agent) analysisPrompt(item *store.InventoryItem, txns []*store.Transaction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SKU %s at %s: stock %d, threshold %d.\nRecent transactions:\n",
		item.SKU, item.Location, item.CurrentStock, item.LowStockThreshold)
	for _, t := range txns {
		fmt.Fprintf(&b, "- %s %d at %s\n", t.Operation, t.Quantity, t.Timestamp.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// indexAnalysis embeds the analysis reasoning into the vector store so
// later insight queries can surface related SKUs.
func (a *Agent) indexAnalysis(item *store.InventoryItem, analysis analysisResult) {
	if a.deps.Vector == nil {
		return
	}
	id := uuid.Must(uuid.NewV7()).String()
	vctx, cancel := context.WithTimeout(context.Background(), modelTimeout)
	defer cancel()
	err := a.deps.Vector.Insert(vctx, id, vector.Embed(analysis.Reasoning), map[string]string{
		"sku":      item.SKU,
		"location": item.Location,
		"content":  analysis.Reasoning,
	})
	if err != nil {
		slog.Warn("agent.vector_insert_failed", "owner", a.key.Display(), "error", err)
		return
	}
	a.busSend(bus.TopicEmbeddingsUpdate, map[string]string{"id": id, "sku": item.SKU})
}

func (a *Agent) requestApproval(item *store.InventoryItem, analysis analysisResult, wait time.Duration) bool {
	approver := a.deps.Approver
	if approver == nil {
		approver = AutoApprover{Wait: wait}
	}
	ctx, cancel := context.WithTimeout(context.Background(), wait+peerTimeout)
	defer cancel()
	return approver.Approve(ctx, ApprovalRequest{
		SKU:      item.SKU,
		Location: item.Location,
		Quantity: analysis.ReorderQuantity,
		Urgency:  analysis.Urgency,
		Reason:   analysis.Reasoning,
	})
}

// dispatchReorder enqueues the reorder workflow. Non-blocking by contract.
func (a *Agent) dispatchReorder(item *store.InventoryItem, analysis analysisResult) {
	if a.deps.Workflow == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"sku":      item.SKU,
		"location": item.Location,
		"quantity": analysis.ReorderQuantity,
		"urgency":  analysis.Urgency,
	})
	id, err := a.deps.Workflow.Create(workflow.NameReorder, payload)
	if err != nil {
		slog.Warn("agent.reorder_dispatch_failed", "owner", a.key.Display(), "sku", item.SKU, "error", err)
		return
	}
	slog.Info("agent.reorder_dispatched", "owner", a.key.Display(), "sku", item.SKU, "workflow", id)
}

// notifyParentLowStock sends the alert upward as a system message the
// parent stores and broadcasts.
func (a *Agent) notifyParentLowStock(item *store.InventoryItem, severity string) {
	parent, ok := a.key.Parent()
	if !ok || a.deps.Peers == nil {
		return
	}
	content := fmt.Sprintf("low stock (%s): %s at %s, %d ≤ %d",
		severity, item.SKU, item.Location, item.CurrentStock, item.LowStockThreshold)
	rpcCtx, cancel := context.WithTimeout(context.Background(), peerTimeout)
	defer cancel()
	if err := a.deps.Peers.SendMessage(rpcCtx, parent, a.key.Path.String(), content, store.MessageSystem); err != nil {
		slog.Warn("agent.parent_notify_failed", "owner", a.key.Display(), "error", err)
	}
}

// StockQuery returns one item, or (nil, nil) when unknown here.
func (a *Agent) StockQuery(ctx context.Context, sku string) (*store.InventoryItem, error) {
	sku = strings.TrimSpace(sku)
	if !ValidSKU(sku) {
		return nil, errValidation("invalid sku %q", sku)
	}
	var item *store.InventoryItem
	err := a.do(ctx, false, func() error {
		if it, ok := a.inventory[sku]; ok {
			cp := *it
			item = &cp
		}
		return nil
	})
	return item, err
}

// SyncResult reports a batch apply: per-item failures don't abort the batch
// and at most ten error strings are returned.
type SyncResult struct {
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// InventorySync applies a batch of updates sequentially.
func (a *Agent) InventorySync(ctx context.Context, updates []StockUpdate) (SyncResult, error) {
	var result SyncResult
	err := a.do(ctx, true, func() error {
		for i := range updates {
			u := updates[i]
			if err := validateUpdate(&u); err != nil {
				result.Failed++
				if len(result.Errors) < 10 {
					result.Errors = append(result.Errors, err.Error())
				}
				continue
			}
			if _, err := a.applyStockLocked(u); err != nil {
				result.Failed++
				if len(result.Errors) < 10 {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", u.SKU, err))
				}
				continue
			}
			result.Successful++
		}
		a.maybePurge()
		return nil
	})
	return result, err
}

// Alert is one low-stock entry in the alerts listing.
type Alert struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	CurrentStock int64  `json:"currentStock"`
	Threshold    int64  `json:"threshold"`
	Location     string `json:"location"`
	Severity     string `json:"severity"`
}

// Alerts lists every item at or below its threshold. Zero stock is
// critical, anything else warning.
func (a *Agent) Alerts(ctx context.Context) ([]Alert, error) {
	var alerts []Alert
	err := a.do(ctx, false, func() error {
		for _, item := range a.inventory {
			if item.CurrentStock > item.LowStockThreshold {
				continue
			}
			severity := "warning"
			if item.CurrentStock == 0 {
				severity = "critical"
			}
			alerts = append(alerts, Alert{
				SKU:          item.SKU,
				Name:         item.Name,
				CurrentStock: item.CurrentStock,
				Threshold:    item.LowStockThreshold,
				Location:     item.Location,
				Severity:     severity,
			})
		}
		return nil
	})
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].SKU < alerts[j].SKU })
	return alerts, err
}

// InventoryView is the GET /inventory/stock response shape.
type InventoryView struct {
	Location    string                 `json:"location"`
	AgentType   string                 `json:"agentType"`
	Inventory   []*store.InventoryItem `json:"inventory"`
	TotalItems  int                    `json:"totalItems"`
	LastUpdated string                 `json:"lastUpdated"`
}

// InventorySnapshot returns the full inventory listing, ordered by SKU.
func (a *Agent) InventorySnapshot(ctx context.Context) (InventoryView, error) {
	var view InventoryView
	err := a.do(ctx, false, func() error {
		items, err := a.st.ListItems()
		if err != nil {
			return errInternal(err)
		}
		var last time.Time
		for _, it := range items {
			if it.LastUpdated.After(last) {
				last = it.LastUpdated
			}
		}
		view = InventoryView{
			Location:   a.key.Path.String(),
			AgentType:  a.agentType,
			Inventory:  items,
			TotalItems: len(items),
		}
		if !last.IsZero() {
			view.LastUpdated = last.UTC().Format(time.RFC3339)
		}
		return nil
	})
	return view, err
}
