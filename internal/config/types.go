package config

// StalenessConfig holds the staleness policy thresholds.
type StalenessConfig struct {
	InProgressMinutes int `json:"in_progress_minutes" yaml:"in_progress_minutes"` // in_progress tasks older than this are stale; 0 disables
	PendingDays       int `json:"pending_days" yaml:"pending_days"`               // pending tasks untouched longer than this are stale; 0 disables
}

// ValidationConfig holds the structural warning thresholds.
type ValidationConfig struct {
	MaxChainDepth int `json:"max_chain_depth" yaml:"max_chain_depth"` // Longer dependency chains warn
	MaxPhaseWidth int `json:"max_phase_width" yaml:"max_phase_width"` // Wider execution phases warn
}

// DispatchConfig configures the pre-dispatch gate.
type DispatchConfig struct {
	ConcurrencyLimit     int  `json:"concurrency_limit" yaml:"concurrency_limit"`           // Max in_progress tasks; 0 = unlimited
	MinDescriptionLength int  `json:"min_description_length" yaml:"min_description_length"` // Shorter descriptions warn; 0 disables
	WarnOnConflicts      bool `json:"warn_on_conflicts" yaml:"warn_on_conflicts"`
}

// StoreConfig locates the task database.
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// Config is the top-level configuration.
type Config struct {
	Staleness  StalenessConfig  `json:"staleness" yaml:"staleness"`
	Validation ValidationConfig `json:"validation" yaml:"validation"`
	Dispatch   DispatchConfig   `json:"dispatch" yaml:"dispatch"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Log        LogConfig        `json:"log" yaml:"log"`
}
