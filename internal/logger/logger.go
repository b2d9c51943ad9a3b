// Package logger wires zerolog the same way across every long-lived component.
package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/alfred/services/payouts/internal/config"
)

// New returns a zerolog.Logger configured for the given environment.
func New(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
