package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ServeEnv holds server secrets that never live in degasline.yml.
type ServeEnv struct {
	JWTSecret              string `env:"DEGASLINE_JWT_SECRET"`
	AllowLegacyActorHeader bool   `env:"DEGASLINE_ALLOW_LEGACY_ACTOR_HEADER" envDefault:"false"`
}

// ParseServeEnv loads ServeEnv from the process environment.
func ParseServeEnv() (ServeEnv, error) {
	var out ServeEnv
	if err := env.Parse(&out); err != nil {
		return ServeEnv{}, fmt.Errorf("parse env: %w", err)
	}
	return out, nil
}
