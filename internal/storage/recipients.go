package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Recipient is an addressable broadcast target. Step marks its progress
// through the onboarding funnel and doubles as the audience filter key.
type Recipient struct {
	ID        int64
	Username  string
	Step      int
	CreatedAt time.Time
}

// UpsertRecipient records a recipient, refreshing the username on conflict.
// Step and created_at are preserved for existing rows.
func (s *Store) UpsertRecipient(ctx context.Context, id int64, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipients(id, username, step, created_at) VALUES(?,?,0,?)
		 ON CONFLICT(id) DO UPDATE SET username=excluded.username`,
		id, username, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetRecipient(ctx context.Context, id int64) (Recipient, bool, error) {
	var r Recipient
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, step, created_at FROM recipients WHERE id = ?`, id,
	).Scan(&r.ID, &r.Username, &r.Step, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Recipient{}, false, nil
	}
	if err != nil {
		return Recipient{}, false, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return r, true, nil
}

// ListRecipients returns the live recipient set. step > 0 filters by funnel
// step; step 0 means everyone.
func (s *Store) ListRecipients(ctx context.Context, step int) ([]Recipient, error) {
	q := `SELECT id, username, step, created_at FROM recipients ORDER BY created_at, id`
	args := []any{}
	if step > 0 {
		q = `SELECT id, username, step, created_at FROM recipients WHERE step = ? ORDER BY created_at, id`
		args = append(args, step)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		var created string
		if err := rows.Scan(&r.ID, &r.Username, &r.Step, &created); err != nil {
			return nil, err
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CountRecipients(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipients`).Scan(&n)
	return n, err
}

// AdvanceRecipientStep bumps the recipient one funnel step forward.
func (s *Store) AdvanceRecipientStep(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE recipients SET step = step + 1 WHERE id = ?`, id)
	return err
}

func (s *Store) DeleteRecipient(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM recipients WHERE id = ?`, id)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM recipient_channels WHERE recipient_id = ?`, id)
	return err
}

// HasChannel reports whether the recipient already got a starter message for
// this channel. Keeps EmitFunnelMessage idempotent per recipient+channel.
func (s *Store) HasChannel(ctx context.Context, recipientID, channelID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM recipient_channels WHERE recipient_id = ? AND channel_id = ?`,
		recipientID, channelID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) AddChannel(ctx context.Context, recipientID, channelID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recipient_channels(recipient_id, channel_id) VALUES(?,?)
		 ON CONFLICT(recipient_id, channel_id) DO NOTHING`,
		recipientID, channelID,
	)
	return err
}
