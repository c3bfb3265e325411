package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Funnel   FunnelConfig   `json:"funnel,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// AdminUserIDs may use the admin panel and run broadcasts.
	AdminUserIDs []int64 `json:"admin_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite database holding recipients, funnel
// settings and pending scheduled deletions.
type StorageConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DispatchConfig tunes broadcast delivery. All durations are Go duration
// strings. Zero values fall back to the defaults noted per field.
type DispatchConfig struct {
	// SendInterval paces throttled mode (default "50ms").
	SendInterval string `json:"send_interval,omitempty"`
	// ProgressEvery is the throttled-mode progress period in attempts
	// (default 50).
	ProgressEvery int `json:"progress_every,omitempty"`
	// BatchSize is the concurrent-mode fan-out width (default 25).
	BatchSize int `json:"batch_size,omitempty"`
	// BatchPause is the concurrent-mode inter-batch pause (default "1s").
	BatchPause string `json:"batch_pause,omitempty"`
	// SweepEvery is the scheduled-deletion sweep period (default "15s").
	SweepEvery string `json:"sweep_every,omitempty"`
}

// FunnelConfig tunes starter-message behavior.
type FunnelConfig struct {
	// Disabled turns off join-request handling without touching the
	// per-step send_start flags.
	Disabled bool `json:"disabled,omitempty"`
}
