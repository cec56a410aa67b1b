package chromem

import (
	"errors"
	"fmt"
)

const (
	defaultCollection = "memories"
	defaultDir        = "vectors"
	defaultDimensions = 1536
)

// Config holds the chromem vector module configuration.
type Config struct {
	// Path is the persistence directory. Defaults to {DataDir}/vectors.
	Path string `yaml:"path"`

	// Persist writes every document to disk. Defaults to true. When false
	// the store lives in memory only.
	Persist *bool `yaml:"persist"`

	// Compress gzips persisted documents.
	Compress bool `yaml:"compress"`

	// Collection names the chromem collection. Defaults to "memories".
	Collection string `yaml:"collection"`

	// Dimensions is the embedding size. It must match the embedder.
	// Defaults to 1536.
	Dimensions int `yaml:"dimensions"`
}

func (c *Config) defaults() {
	if c.Persist == nil {
		t := true
		c.Persist = &t
	}
	if c.Collection == "" {
		c.Collection = defaultCollection
	}
	if c.Dimensions == 0 {
		c.Dimensions = defaultDimensions
	}
}

func (c *Config) persistent() bool {
	return c.Persist == nil || *c.Persist
}

func (c *Config) validate() error {
	var errs []error
	if c.Dimensions < 1 {
		errs = append(errs, fmt.Errorf("chromem: dimensions must be positive, got %d", c.Dimensions))
	}
	if c.persistent() && c.Path == "" {
		errs = append(errs, errors.New("chromem: path is required when persist is enabled"))
	}
	return errors.Join(errs...)
}
