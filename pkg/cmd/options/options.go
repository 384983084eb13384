package options

import (
	"context"

	log "github.com/rs/zerolog"
)

// CommonOptions are shared by every command.
type CommonOptions struct {
	Ctx      context.Context
	Logger   log.Logger
	LogLevel string
}

// ConfigureLogger applies LogLevel to Logger.
func (o *CommonOptions) ConfigureLogger() error {
	level, err := log.ParseLevel(o.LogLevel)
	if err != nil {
		return err
	}
	o.Logger = o.Logger.Level(level)

	return nil
}
