package config

import (
	"fmt"
	"io"
	"log"

	"github.com/caarlos0/env/v11"
)

// LogOptions come from the environment only.
type LogOptions struct {
	Prefix string `env:"FLAGSHIP_LOG_PREFIX" envDefault:"flagship: "`
	Quiet  bool   `env:"FLAGSHIP_QUIET"`
	Micro  bool   `env:"FLAGSHIP_LOG_MICROSECONDS"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Logger builds the process logger. Quiet discards everything.
func (o LogOptions) Logger(out io.Writer) *log.Logger {
	if o.Quiet {
		out = io.Discard
	}
	flags := log.LstdFlags
	if o.Micro {
		flags |= log.Lmicroseconds
	}
	return log.New(out, o.Prefix, flags)
}
