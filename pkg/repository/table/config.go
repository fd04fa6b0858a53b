package table

import (
	"strings"
	"time"
)

const (
	// MaxBatchSize is the largest number of writes the store accepts in one atomic
	// transaction.
	MaxBatchSize = 100
	// DeletePageSize is the number of items evaluated per page by bulk deletes.
	DeletePageSize = 100
)

// Config configures a table repository.
type Config struct {
	Table string `mapstructure:"table"`
	// CreateTimeout bounds how long Initialize keeps retrying table creation while the
	// store reports the table as being deleted or created.
	CreateTimeout time.Duration `mapstructure:"create_timeout"`
	// CreateRetryDelay is the first pause between creation attempts; it doubles per
	// attempt.
	CreateRetryDelay time.Duration `mapstructure:"create_retry_delay"`
	// BatchParallelism caps concurrently running batches. Zero means unbounded.
	BatchParallelism int `mapstructure:"batch_parallelism"`
	// PageSize caps items evaluated per read page. Zero leaves paging to the store.
	PageSize int32 `mapstructure:"page_size"`
}

// DefaultConfig returns the defaults for table.
func DefaultConfig(table string) Config {
	return Config{
		Table:            table,
		CreateTimeout:    30 * time.Second,
		CreateRetryDelay: time.Second,
	}
}

func (c Config) normalize() Config {
	c.Table = strings.TrimSpace(c.Table)
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = 30 * time.Second
	}
	if c.CreateRetryDelay <= 0 {
		c.CreateRetryDelay = time.Second
	}
	if c.BatchParallelism < 0 {
		c.BatchParallelism = 0
	}
	if c.PageSize < 0 {
		c.PageSize = 0
	}
	return c
}
