package storage

import (
	"context"
	"database/sql"
	"errors"
)

// Funnel setting names. Every funnel step owns one row per name.
const (
	SettingStartMessageID = "start_msg_id"
	SettingStartFromChat  = "start_from_chat_id"
	SettingStartKeyboard  = "start_kb"
	SettingSendStart      = "send_start"
	SettingStartDelete    = "start_delete"
)

// stepDefaults seeds a freshly created funnel step.
var stepDefaults = map[string]string{
	SettingStartMessageID: "0",
	SettingStartFromChat:  "0",
	SettingStartKeyboard:  "",
	SettingSendStart:      "1",
	SettingStartDelete:    "0",
}

// GetSettings returns one value per requested name for the given step, nil
// where no row exists.
func (s *Store) GetSettings(ctx context.Context, names []string, step int) ([]*string, error) {
	out := make([]*string, len(names))
	for i, name := range names {
		var v sql.NullString
		err := s.db.QueryRowContext(ctx,
			`SELECT value FROM settings WHERE name = ? AND step = ?`, name, step,
		).Scan(&v)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if v.Valid {
			val := v.String
			out[i] = &val
		} else {
			empty := ""
			out[i] = &empty
		}
	}
	return out, nil
}

// SetSettings updates existing rows only. Row creation happens exclusively
// through CreateStep, so a typo'd name can never mint a stray setting.
func (s *Store) SetSettings(ctx context.Context, pairs map[string]string, step int) error {
	for name, value := range pairs {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE settings SET value = ? WHERE name = ? AND step = ?`,
			value, name, step,
		); err != nil {
			return err
		}
	}
	return nil
}

// CreateStep allocates the next funnel step (max existing + 1) and seeds its
// five settings with defaults. Returns the new step number.
func (s *Store) CreateStep(ctx context.Context) (int, error) {
	var maxStep sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(step) FROM settings`).Scan(&maxStep); err != nil {
		return 0, err
	}
	step := int(maxStep.Int64) + 1
	for name, value := range stepDefaults {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO settings(name, step, value) VALUES(?,?,?)`,
			name, step, value,
		); err != nil {
			return 0, err
		}
	}
	return step, nil
}

// StepCount reports how many distinct funnel steps exist.
func (s *Store) StepCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT step) FROM settings`).Scan(&n)
	return n, err
}
