package config

import (
	"fmt"
	"time"

	"github.com/aristath/taskgraph/internal/gate"
	"github.com/aristath/taskgraph/internal/scheduler"
	"github.com/aristath/taskgraph/internal/staleness"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Staleness: StalenessConfig{
			InProgressMinutes: 30,
			PendingDays:       7,
		},
		Validation: ValidationConfig{
			MaxChainDepth: 10,
			MaxPhaseWidth: 5,
		},
		Dispatch: DispatchConfig{
			ConcurrencyLimit:     4,
			MinDescriptionLength: 50,
			WarnOnConflicts:      true,
		},
		Store: StoreConfig{
			Path: ".taskgraph/tasks.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate rejects values no component can act on.
func (c *Config) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"staleness.in_progress_minutes", c.Staleness.InProgressMinutes},
		{"staleness.pending_days", c.Staleness.PendingDays},
		{"validation.max_chain_depth", c.Validation.MaxChainDepth},
		{"validation.max_phase_width", c.Validation.MaxPhaseWidth},
		{"dispatch.concurrency_limit", c.Dispatch.ConcurrencyLimit},
		{"dispatch.min_description_length", c.Dispatch.MinDescriptionLength},
	}
	for _, check := range checks {
		if check.value < 0 {
			return fmt.Errorf("%s must not be negative, got %d", check.name, check.value)
		}
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json; got %q", c.Log.Format)
	}

	return nil
}

// StalenessPolicy converts the staleness section into a detector policy.
func (c *Config) StalenessPolicy() staleness.Policy {
	return staleness.Policy{
		InProgressThreshold: time.Duration(c.Staleness.InProgressMinutes) * time.Minute,
		PendingThreshold:    time.Duration(c.Staleness.PendingDays) * 24 * time.Hour,
	}
}

// ValidationOptions converts the validation section into validator options.
func (c *Config) ValidationOptions() scheduler.ValidationOptions {
	return scheduler.ValidationOptions{
		MaxChainDepth: c.Validation.MaxChainDepth,
		MaxPhaseWidth: c.Validation.MaxPhaseWidth,
	}
}

// GateOptions converts the dispatch section into gate options.
func (c *Config) GateOptions() gate.Options {
	return gate.Options{
		ConcurrencyLimit:     c.Dispatch.ConcurrencyLimit,
		MinDescriptionLength: c.Dispatch.MinDescriptionLength,
		WarnOnConflicts:      c.Dispatch.WarnOnConflicts,
	}
}
