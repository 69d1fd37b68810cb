package store

import (
	"database/sql"
	"fmt"
	"time"
)

// LoadChatStats reads the counters for one UTC calendar day. A missing row
// yields zeroed stats for that day, not an error.
func (s *Store) LoadChatStats(date string) (*ChatStats, error) {
	row := s.db.QueryRow(
		`SELECT location, date, messages_today, actions_executed, successful_actions, success_rate, created_at, updated_at
		 FROM chat_statistics WHERE location = ? AND date = ?`, s.location, date)

	var (
		st                   ChatStats
		createdAt, updatedAt string
	)
	err := row.Scan(&st.Location, &st.Date, &st.MessagesToday, &st.ActionsExecuted,
		&st.SuccessfulActions, &st.SuccessRate, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return &ChatStats{Location: s.location, Date: date}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load chat stats: %w", err)
	}
	st.CreatedAt = decodeTime(createdAt)
	st.UpdatedAt = decodeTime(updatedAt)
	return &st, nil
}

// SaveChatStats upserts the per-day counters.
func (s *Store) SaveChatStats(st *ChatStats) error {
	now := time.Now()
	created := st.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err := s.db.Exec(
		`INSERT INTO chat_statistics (location, date, messages_today, actions_executed, successful_actions, success_rate, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(location, date) DO UPDATE SET
			messages_today = excluded.messages_today,
			actions_executed = excluded.actions_executed,
			successful_actions = excluded.successful_actions,
			success_rate = excluded.success_rate,
			updated_at = excluded.updated_at`,
		s.location, st.Date, st.MessagesToday, st.ActionsExecuted,
		st.SuccessfulActions, st.SuccessRate, encodeTime(created), encodeTime(now),
	)
	if err != nil {
		return fmt.Errorf("save chat stats: %w", err)
	}
	return nil
}
