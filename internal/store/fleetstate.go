package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// LoadFleetState reads the state row for this location. Returns (nil, nil)
// when no row exists yet (a freshly created agent).
func (s *Store) LoadFleetState() (*FleetStateRow, error) {
	row := s.db.QueryRow(
		`SELECT id, counter, children, agent_type, created_at, updated_at
		 FROM fleet_state WHERE id = ?`, s.location)

	var (
		st                   FleetStateRow
		childrenJSON         string
		createdAt, updatedAt string
	)
	err := row.Scan(&st.ID, &st.Counter, &childrenJSON, &st.AgentType, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load fleet state: %w", err)
	}

	if err := json.Unmarshal([]byte(childrenJSON), &st.Children); err != nil {
		return nil, fmt.Errorf("decode children: %w", err)
	}
	st.CreatedAt = decodeTime(createdAt)
	st.UpdatedAt = decodeTime(updatedAt)
	return &st, nil
}

// SaveFleetState upserts the state row for this location.
func (s *Store) SaveFleetState(st *FleetStateRow) error {
	children := st.Children
	if children == nil {
		children = []string{}
	}
	childrenJSON, err := json.Marshal(children)
	if err != nil {
		return fmt.Errorf("encode children: %w", err)
	}

	now := time.Now()
	created := st.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = s.db.Exec(
		`INSERT INTO fleet_state (id, counter, children, agent_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			counter = excluded.counter,
			children = excluded.children,
			agent_type = excluded.agent_type,
			updated_at = excluded.updated_at`,
		s.location, st.Counter, string(childrenJSON), st.AgentType,
		encodeTime(created), encodeTime(now),
	)
	if err != nil {
		return fmt.Errorf("save fleet state: %w", err)
	}
	return nil
}

// ClearAll wipes every row belonging to this location. Used by subtree
// deletion: a later awakening at the same path starts from empty state.
func (s *Store) ClearAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin clear: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		`DELETE FROM fleet_state WHERE id = ?`,
		`DELETE FROM inventory_items WHERE location = ?`,
		`DELETE FROM stored_messages WHERE location = ?`,
		`DELETE FROM inventory_transactions WHERE location = ?`,
		`DELETE FROM inventory_analysis WHERE location = ?`,
		`DELETE FROM inventory_decisions WHERE location = ?`,
		`DELETE FROM demand_forecasts WHERE location = ?`,
		`DELETE FROM chat_statistics WHERE location = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, s.location); err != nil {
			return fmt.Errorf("clear state: %w", err)
		}
	}
	return tx.Commit()
}
