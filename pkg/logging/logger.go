// Package logging builds the process logger and scrubs sensitive values
// before they reach log output.
package logging

import (
	"strings"

	"go.uber.org/zap"
)

// New builds the root logger for the given environment. Production gets JSON
// output at info level; anything else gets the console encoder at debug.
// Components derive their own loggers with Named.
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(env) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
