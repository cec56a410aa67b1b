package sqlite

import "fmt"

const (
	defaultDBFile      = "graph.db"
	defaultSearchLimit = 100
)

// Config holds the SQLite graph module configuration.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/graph.db.
	Path string `yaml:"path"`

	// WAL enables WAL journal mode. Defaults to true.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is the milliseconds to wait on a busy lock. Defaults to 5000.
	BusyTimeout int `yaml:"busy_timeout"`

	// SearchLimit caps Search and GetAll when the caller passes no limit.
	// Defaults to 100.
	SearchLimit int `yaml:"search_limit"`
}

func (c *Config) defaults() {
	if c.WAL == nil {
		t := true
		c.WAL = &t
	}
	if c.SearchLimit <= 0 {
		c.SearchLimit = defaultSearchLimit
	}
}

func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	return nil
}
