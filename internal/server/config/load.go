// Package config defines the server configuration structure.
package config

import (
	"fmt"

	"github.com/yndnr/warmstart/internal/infra/confloader"
)

// NewResolver returns the layered resolver for the server directory dir with
// the built-in defaults as its lowest tier.
func NewResolver(dir string) *confloader.Layered {
	return confloader.NewLayered(dir, confloader.WithDefaults(DefaultMap()))
}

// Load resolves every tier of r, decodes the result over the defaults and
// verifies it. The resolution is returned for callers that need the flat
// values.
func Load(r *confloader.Layered) (*ServerConfig, *confloader.Resolution, error) {
	res, err := r.Resolve()
	if err != nil {
		return nil, nil, fmt.Errorf("resolve configuration: %w", err)
	}
	cfg := Default()
	if err := res.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := Verify(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, res, nil
}
