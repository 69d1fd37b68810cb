package store

import (
	"fmt"
)

// InsertAnalysis stores a model trend analysis.
func (s *Store) InsertAnalysis(a *Analysis) error {
	_, err := s.db.Exec(
		`INSERT INTO inventory_analysis (sku, location, analysis, confidence, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		a.SKU, s.location, string(a.Analysis), a.Confidence, encodeTime(a.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// RecentAnalyses returns the newest analyses for this location.
func (s *Store) RecentAnalyses(limit int) ([]*Analysis, error) {
	rows, err := s.db.Query(
		`SELECT id, sku, location, analysis, confidence, timestamp
		 FROM inventory_analysis WHERE location = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, s.location, limit)
	if err != nil {
		return nil, fmt.Errorf("recent analyses: %w", err)
	}
	defer rows.Close()

	var out []*Analysis
	for rows.Next() {
		var (
			a        Analysis
			raw, ts  string
		)
		if err := rows.Scan(&a.ID, &a.SKU, &a.Location, &raw, &a.Confidence, &ts); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		a.Analysis = []byte(raw)
		a.Timestamp = decodeTime(ts)
		out = append(out, &a)
	}
	return out, rows.Err()
}

// InsertDecision records a reorder decision.
func (s *Store) InsertDecision(d *Decision) error {
	_, err := s.db.Exec(
		`INSERT INTO inventory_decisions (sku, location, decision_type, reasoning, timestamp)
		 VALUES (?, ?, ?, ?, ?)`,
		d.SKU, s.location, d.DecisionType, d.Reasoning, encodeTime(d.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// RecentDecisions returns the newest decisions for this location.
func (s *Store) RecentDecisions(limit int) ([]*Decision, error) {
	rows, err := s.db.Query(
		`SELECT id, sku, location, decision_type, reasoning, timestamp
		 FROM inventory_decisions WHERE location = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, s.location, limit)
	if err != nil {
		return nil, fmt.Errorf("recent decisions: %w", err)
	}
	defer rows.Close()

	var out []*Decision
	for rows.Next() {
		var (
			d  Decision
			ts string
		)
		if err := rows.Scan(&d.ID, &d.SKU, &d.Location, &d.DecisionType, &d.Reasoning, &ts); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		d.Timestamp = decodeTime(ts)
		out = append(out, &d)
	}
	return out, rows.Err()
}

// InsertForecast stores a demand forecast.
func (s *Store) InsertForecast(f *Forecast) error {
	_, err := s.db.Exec(
		`INSERT INTO demand_forecasts (sku, location, predicted_demand, confidence, trend_direction, reasoning, forecast_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.SKU, s.location, f.PredictedDemand, f.Confidence, f.TrendDirection, f.Reasoning, encodeTime(f.ForecastDate),
	)
	if err != nil {
		return fmt.Errorf("insert forecast: %w", err)
	}
	return nil
}

// RecentForecasts returns the newest forecasts for this location.
func (s *Store) RecentForecasts(limit int) ([]*Forecast, error) {
	rows, err := s.db.Query(
		`SELECT id, sku, location, predicted_demand, confidence, trend_direction, reasoning, forecast_date
		 FROM demand_forecasts WHERE location = ?
		 ORDER BY forecast_date DESC, id DESC LIMIT ?`, s.location, limit)
	if err != nil {
		return nil, fmt.Errorf("recent forecasts: %w", err)
	}
	defer rows.Close()

	var out []*Forecast
	for rows.Next() {
		var (
			f  Forecast
			ts string
		)
		if err := rows.Scan(&f.ID, &f.SKU, &f.Location, &f.PredictedDemand, &f.Confidence,
			&f.TrendDirection, &f.Reasoning, &ts); err != nil {
			return nil, fmt.Errorf("scan forecast: %w", err)
		}
		f.ForecastDate = decodeTime(ts)
		out = append(out, &f)
	}
	return out, rows.Err()
}
