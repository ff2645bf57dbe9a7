// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"time"

	"github.com/spf13/pflag"
)

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific config file when set.
	ConfigFilePath string
	// ConfigDirPath overrides the config directory lookup when set.
	ConfigDirPath string
	// Flags are bound on top of env and file values; only flags the user set take effect.
	Flags *pflag.FlagSet
	// Now supplies the clock used for the default container name.
	Now func() time.Time
}

// Provider loads configuration from explicit options.
type Provider interface {
	Load(ctx context.Context, opts LoadOptions) (*Config, error)
	// Source returns the config file path used by the last successful Load ("" if none).
	Source() string
}

type fileProvider struct {
	source string
}

// NewProvider creates a configuration provider.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load reads configuration from the requested source.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, path, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	p.source = path

	return cfg, nil
}

// Source returns the config file read by the last Load.
func (p *fileProvider) Source() string {
	return p.source
}
