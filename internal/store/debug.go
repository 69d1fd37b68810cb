package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DumpLocations opens every agent database under dataDir and collects its
// fleet_state rows, keyed by database file name. Diagnostic only; each
// handle is opened read-only and closed immediately.
func DumpLocations(dataDir string) (map[string][]*FleetStateRow, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]*FleetStateRow{}, nil
		}
		return nil, fmt.Errorf("read data dir: %w", err)
	}

	out := make(map[string][]*FleetStateRow)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db") {
			continue
		}
		rows, err := readFleetStates(filepath.Join(dataDir, e.Name()))
		if err != nil {
			// A database mid-write or mid-migration is not fatal to a dump.
			continue
		}
		out[strings.TrimSuffix(e.Name(), ".db")] = rows
	}
	return out, nil
}

func readFleetStates(path string) ([]*FleetStateRow, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(1000)", path))
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query(`SELECT id, counter, children, agent_type, created_at, updated_at FROM fleet_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FleetStateRow
	for rows.Next() {
		var (
			st                   FleetStateRow
			childrenJSON         string
			createdAt, updatedAt string
		)
		if err := rows.Scan(&st.ID, &st.Counter, &childrenJSON, &st.AgentType, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(childrenJSON), &st.Children)
		st.CreatedAt = decodeTime(createdAt)
		st.UpdatedAt = decodeTime(updatedAt)
		out = append(out, &st)
	}
	return out, rows.Err()
}
