package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertItem writes an inventory item and appends the transaction that
// produced it in one SQL transaction, so a subsequent read sees both or
// neither.
func (s *Store) UpsertItem(item *InventoryItem, txn *Transaction) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	created := item.CreatedAt
	if created.IsZero() {
		created = now
	}

	_, err = tx.Exec(
		`INSERT INTO inventory_items (sku, name, current_stock, low_stock_threshold, location, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(sku) DO UPDATE SET
			name = excluded.name,
			current_stock = excluded.current_stock,
			low_stock_threshold = excluded.low_stock_threshold,
			updated_at = excluded.updated_at`,
		item.SKU, item.Name, item.CurrentStock, item.LowStockThreshold,
		s.location, encodeTime(created), encodeTime(now),
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}

	if txn != nil {
		_, err = tx.Exec(
			`INSERT INTO inventory_transactions (sku, operation, quantity, location, timestamp)
			 VALUES (?, ?, ?, ?, ?)`,
			txn.SKU, txn.Operation, txn.Quantity, s.location, encodeTime(txn.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append transaction: %w", err)
		}
	}

	return tx.Commit()
}

// GetItem returns one item, or (nil, nil) when the SKU is unknown here.
func (s *Store) GetItem(sku string) (*InventoryItem, error) {
	row := s.db.QueryRow(
		`SELECT sku, name, current_stock, low_stock_threshold, location, created_at, updated_at
		 FROM inventory_items WHERE sku = ? AND location = ?`, sku, s.location)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems returns every item at this location ordered by SKU.
func (s *Store) ListItems() ([]*InventoryItem, error) {
	rows, err := s.db.Query(
		`SELECT sku, name, current_stock, low_stock_threshold, location, created_at, updated_at
		 FROM inventory_items WHERE location = ? ORDER BY sku`, s.location)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// RecentTransactions returns the newest transactions for one SKU.
func (s *Store) RecentTransactions(sku string, limit int) ([]*Transaction, error) {
	rows, err := s.db.Query(
		`SELECT id, sku, operation, quantity, location, timestamp
		 FROM inventory_transactions
		 WHERE sku = ? AND location = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`, sku, s.location, limit)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		var (
			t  Transaction
			ts string
		)
		if err := rows.Scan(&t.ID, &t.SKU, &t.Operation, &t.Quantity, &t.Location, &ts); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.Timestamp = decodeTime(ts)
		txns = append(txns, &t)
	}
	return txns, rows.Err()
}

// CountTransactions returns how many transactions exist for one SKU.
func (s *Store) CountTransactions(sku string) (int64, error) {
	var n int64
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM inventory_transactions WHERE sku = ? AND location = ?`,
		sku, s.location).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dst ...interface{}) error
}

func scanItem(r rowScanner) (*InventoryItem, error) {
	var (
		item                 InventoryItem
		createdAt, updatedAt string
	)
	err := r.Scan(&item.SKU, &item.Name, &item.CurrentStock, &item.LowStockThreshold,
		&item.Location, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	item.CreatedAt = decodeTime(createdAt)
	item.LastUpdated = decodeTime(updatedAt)
	return &item, nil
}
