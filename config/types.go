package config

// Config is the host-facing configuration for a timekeep runtime.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	// DataDir holds the job-list file and every named store's file.
	DataDir string `json:"data_dir"`

	// Debounce is the quiet period coalescing mutations into one disk write.
	// Defaults to "500ms" when omitted.
	Debounce string `json:"debounce,omitempty"`

	// RestoreGrace delays overdue jobs found at restore.
	// Defaults to "500ms" when omitted.
	RestoreGrace string `json:"restore_grace,omitempty"`

	Logging LoggingConfig  `json:"logging"`
	History *HistoryConfig `json:"history,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// HistoryConfig controls durable firing-history recording.
// If the section is omitted, history is disabled.
type HistoryConfig struct {
	// Driver: "file", "sqlite", or "none".
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`

	// BusyTimeout applies to the sqlite driver only.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
