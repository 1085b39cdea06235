package postgres

import (
	"github.com/wolfeidau/leadlink/internal/store"
)

// StoreConfig holds lead store configuration for the PostgreSQL backend.
// Pool and session timeouts are handled separately via PoolConfig.
type StoreConfig struct {
	// Retry bounds how often implicit single statement calls are retried on ErrConflict.
	// Explicit transactions are retried by their callers.
	Retry store.RetryConfig

	// HistoryLimit is used when History is called without a limit.
	// Default: store.DefaultHistoryLimit
	HistoryLimit int
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *StoreConfig) ApplyDefaults() {
	c.Retry.ApplyDefaults()
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = store.DefaultHistoryLimit
	}
}
