package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/stockfleet/internal/model"
	"github.com/nextlevelbuilder/stockfleet/internal/store"
	"github.com/nextlevelbuilder/stockfleet/internal/vector"
)

// AnalyzeView is the GET /ai/analyze response.
type AnalyzeView struct {
	SKU      string          `json:"sku"`
	Location string          `json:"location"`
	Insights json.RawMessage `json:"insights"`
	Related  []RelatedSKU    `json:"related,omitempty"`
}

// RelatedSKU is a similarity hit from previous analyses.
type RelatedSKU struct {
	SKU     string  `json:"sku"`
	Score   float32 `json:"score"`
	Content string  `json:"content,omitempty"`
}

// Analyze runs the trend analysis flow for one SKU on demand.
func (a *Agent) Analyze(ctx context.Context, sku string) (AnalyzeView, error) {
	sku = strings.TrimSpace(sku)
	if !ValidSKU(sku) {
		return AnalyzeView{}, errValidation("invalid sku %q", sku)
	}
	var view AnalyzeView
	err := a.do(ctx, true, func() error {
		item, ok := a.inventory[sku]
		if !ok {
			return errNotFound("sku %q not found", sku)
		}
		result := a.analyzeTrend(item)
		raw, _ := json.Marshal(result)
		view = AnalyzeView{
			SKU:      sku,
			Location: a.key.Path.String(),
			Insights: raw,
			Related:  a.relatedSKUs(result.Reasoning, sku),
		}
		return nil
	})
	return view, err
}

// relatedSKUs surfaces similar past analyses from the vector store. Absent
// binding or any failure yields an empty list.
func (a *Agent) relatedSKUs(text, excludeSKU string) []RelatedSKU {
	if a.deps.Vector == nil || text == "" {
		return nil
	}
	vctx, cancel := context.WithTimeout(context.Background(), modelTimeout)
	defer cancel()
	matches, err := a.deps.Vector.Query(vctx, vector.Embed(text), 5, true)
	if err != nil {
		slog.Warn("agent.vector_query_failed", "owner", a.key.Display(), "error", err)
		return nil
	}
	var related []RelatedSKU
	for _, m := range matches {
		sku := m.Metadata["sku"]
		if sku == "" || sku == excludeSKU {
			continue
		}
		related = append(related, RelatedSKU{SKU: sku, Score: m.Score, Content: m.Metadata["content"]})
	}
	return related
}

// forecastResult is the decoded shape of one demand forecast.
type forecastResult struct {
	PredictedDemand int64   `json:"predictedDemand"`
	Confidence      float64 `json:"confidence"`
	TrendDirection  string  `json:"trendDirection"`
	Reasoning       string  `json:"reasoning"`
}

var forecastSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"predictedDemand": map[string]interface{}{"type": "integer"},
		"confidence":      map[string]interface{}{"type": "number"},
		"trendDirection":  map[string]interface{}{"type": "string"},
		"reasoning":       map[string]interface{}{"type": "string"},
	},
}

// Forecast produces a demand forecast per inventory item and returns the
// newest stored forecasts.
func (a *Agent) Forecast(ctx context.Context) ([]*store.Forecast, error) {
	var out []*store.Forecast
	err := a.do(ctx, true, func() error {
		for _, item := range a.inventory {
			f := a.forecastItem(item)
			if err := a.st.InsertForecast(f); err != nil {
				slog.Warn("agent.forecast_store_failed", "owner", a.key.Display(), "sku", item.SKU, "error", err)
			}
		}
		forecasts, err := a.st.RecentForecasts(20)
		if err != nil {
			return errInternal(err)
		}
		out = forecasts
		return nil
	})
	return out, err
}

// forecastItem asks the model for one forecast, falling back to a moving
// average of recent outbound transactions.
func (a *Agent) forecastItem(item *store.InventoryItem) *store.Forecast {
	result := a.fallbackForecast(item)

	if a.deps.Model != nil {
		txns, _ := a.st.RecentTransactions(item.SKU, 20)
		mctx, cancel := context.WithTimeout(context.Background(), modelTimeout)
		resp, err := a.deps.Model.Run(mctx, model.Request{
			Messages: []model.Message{
				{Role: "system", Content: "You forecast next-week demand for one SKU."},
				{Role: "user", Content: a.analysisPrompt(item, txns)},
			},
			ResponseSchema: forecastSchema,
		})
		cancel()
		if err != nil {
			slog.Warn("agent.forecast_model_failed", "owner", a.key.Display(), "sku", item.SKU, "error", err)
		} else if resp.Parsed != nil {
			var parsed forecastResult
			if jsonErr := json.Unmarshal(resp.Parsed, &parsed); jsonErr == nil && parsed.TrendDirection != "" {
				result = parsed
			}
		}
	}

	return &store.Forecast{
		SKU:             item.SKU,
		Location:        item.Location,
		PredictedDemand: result.PredictedDemand,
		Confidence:      result.Confidence,
		TrendDirection:  result.TrendDirection,
		Reasoning:       result.Reasoning,
		ForecastDate:    time.Now(),
	}
}

// fallbackForecast averages recent decrements; no model involved.
func (a *Agent) fallbackForecast(item *store.InventoryItem) forecastResult {
	txns, _ := a.st.RecentTransactions(item.SKU, 20)
	var outbound, n int64
	for _, t := range txns {
		if t.Operation == OpDecrement {
			outbound += t.Quantity
			n++
		}
	}
	demand := int64(0)
	if n > 0 {
		demand = outbound / n
	}
	trend := "stable"
	if item.CurrentStock <= item.LowStockThreshold {
		trend = "declining"
	}
	return forecastResult{
		PredictedDemand: demand,
		Confidence:      0.5,
		TrendDirection:  trend,
		Reasoning:       fmt.Sprintf("average of %d recent decrements for %s", n, item.SKU),
	}
}

// InsightsView is the GET /ai/insights response.
type InsightsView struct {
	Location  string            `json:"location"`
	Analyses  []*store.Analysis `json:"analyses"`
	Decisions []*store.Decision `json:"decisions"`
	Forecasts []*store.Forecast `json:"forecasts"`
	Related   []RelatedSKU      `json:"related,omitempty"`
	Summary   string            `json:"summary"`
}

// Insights aggregates the stored analysis history with similarity context.
func (a *Agent) Insights(ctx context.Context) (InsightsView, error) {
	var view InsightsView
	err := a.do(ctx, false, func() error {
		analyses, err := a.st.RecentAnalyses(10)
		if err != nil {
			return errInternal(err)
		}
		decisions, err := a.st.RecentDecisions(10)
		if err != nil {
			return errInternal(err)
		}
		forecasts, err := a.st.RecentForecasts(10)
		if err != nil {
			return errInternal(err)
		}

		view = InsightsView{
			Location:  a.key.Path.String(),
			Analyses:  analyses,
			Decisions: decisions,
			Forecasts: forecasts,
			Summary: fmt.Sprintf("%d analyses, %d decisions, %d forecasts on record at %s",
				len(analyses), len(decisions), len(forecasts), a.key.Path.String()),
		}
		if len(analyses) > 0 {
			var latest analysisResult
			if jsonErr := json.Unmarshal(analyses[0].Analysis, &latest); jsonErr == nil {
				view.Related = a.relatedSKUs(latest.Reasoning, analyses[0].SKU)
			}
		}
		return nil
	})
	return view, err
}

// DebugView is the GET /debug/db response: the persisted row next to the
// in-memory snapshot.
type DebugView struct {
	OwnerKey  string               `json:"ownerKey"`
	Lifecycle string               `json:"lifecycle"`
	Persisted *store.FleetStateRow `json:"persisted"`
	Counter   int64                `json:"counter"`
	Children  []string             `json:"children"`
	Items     int                  `json:"items"`
	Messages  int                  `json:"messagesInRing"`
	Sessions  int                  `json:"sessions"`
}

// DebugSnapshot dumps the current row and in-memory state for diagnostics.
func (a *Agent) DebugSnapshot(ctx context.Context) (DebugView, error) {
	var view DebugView
	err := a.do(ctx, false, func() error {
		row, err := a.st.LoadFleetState()
		if err != nil {
			return errInternal(err)
		}
		view = DebugView{
			OwnerKey:  a.key.Display(),
			Lifecycle: a.Lifecycle().String(),
			Persisted: row,
			Counter:   a.counter,
			Children:  a.childList(),
			Items:     len(a.inventory),
			Messages:  len(a.messages),
			Sessions:  len(a.subs),
		}
		return nil
	})
	return view, err
}
