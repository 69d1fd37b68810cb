package store

import (
	"fmt"
	"time"
)

// AppendMessage stores one message in the per-location log.
func (s *Store) AppendMessage(m *StoredMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO stored_messages (id, timestamp, from_agent, to_agent, content, message_type, location)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, encodeTime(m.Timestamp), m.FromAgent, m.ToAgent, m.Content, m.MessageType, s.location,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// ListMessages pages through the log in chronological order and reports the
// total count so callers can compute hasMore.
func (s *Store) ListMessages(limit, offset int) ([]*StoredMessage, int64, error) {
	var total int64
	if err := s.db.QueryRow(
		`SELECT COUNT(*) FROM stored_messages WHERE location = ?`, s.location,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.db.Query(
		`SELECT id, timestamp, from_agent, to_agent, content, message_type, location
		 FROM stored_messages WHERE location = ?
		 ORDER BY timestamp, id LIMIT ? OFFSET ?`, s.location, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*StoredMessage
	for rows.Next() {
		var (
			m  StoredMessage
			ts string
		)
		if err := rows.Scan(&m.ID, &ts, &m.FromAgent, &m.ToAgent, &m.Content, &m.MessageType, &m.Location); err != nil {
			return nil, 0, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = decodeTime(ts)
		msgs = append(msgs, &m)
	}
	return msgs, total, rows.Err()
}

// PurgeMessagesBefore deletes rows older than the cutoff. A single DELETE:
// the caller runs it opportunistically inside the agent's writer and needs
// it cheap.
func (s *Store) PurgeMessagesBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(
		`DELETE FROM stored_messages WHERE location = ? AND timestamp < ?`,
		s.location, encodeTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("purge messages: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
