package storage

import (
	"context"
	"fmt"
	"time"
)

// ScheduledDeletion is a durable request to remove a delivered message at
// FireAt. Rows survive restarts; the sweep re-arms whatever came due while
// the process was down.
type ScheduledDeletion struct {
	Key       string
	ChatID    int64
	MessageID int
	FireAt    time.Time
}

// DeletionKey builds the canonical row key. Deterministic keys make re-arming
// idempotent: scheduling the same (chat, message) twice overwrites one row.
func DeletionKey(chatID int64, messageID int) string {
	return fmt.Sprintf("delete_%d_%d", chatID, messageID)
}

func (s *Store) PutDeletion(ctx context.Context, d ScheduledDeletion) error {
	if d.Key == "" {
		d.Key = DeletionKey(d.ChatID, d.MessageID)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_deletions(key, chat_id, message_id, fire_at) VALUES(?,?,?,?)
		 ON CONFLICT(key) DO UPDATE SET fire_at=excluded.fire_at`,
		d.Key, d.ChatID, d.MessageID, d.FireAt.UnixMilli(),
	)
	return err
}

// DueDeletions returns rows whose fire time has passed, oldest first.
func (s *Store) DueDeletions(ctx context.Context, now time.Time, limit int) ([]ScheduledDeletion, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, chat_id, message_id, fire_at FROM scheduled_deletions
		 WHERE fire_at <= ? ORDER BY fire_at LIMIT ?`,
		now.UnixMilli(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledDeletion
	for rows.Next() {
		var d ScheduledDeletion
		var ms int64
		if err := rows.Scan(&d.Key, &d.ChatID, &d.MessageID, &ms); err != nil {
			return nil, err
		}
		d.FireAt = time.UnixMilli(ms)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) RemoveDeletion(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_deletions WHERE key = ?`, key)
	return err
}

func (s *Store) PendingDeletions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scheduled_deletions`).Scan(&n)
	return n, err
}
