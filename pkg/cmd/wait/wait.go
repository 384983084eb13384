package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/maxgio92/stackprof/internal/settings"
	"github.com/maxgio92/stackprof/pkg/healthcheck"
)

const (
	CmdName         = "wait"
	defaultTimeout  = 120 * time.Second
	defaultInterval = 500 * time.Millisecond
)

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:               CmdName,
		Short:             fmt.Sprintf("Wait for the %s profiler to be sampling", settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Args:              cobra.NoArgs,
		RunE:              o.Run,
	}

	cmd.Flags().StringVarP(&o.socketPath, "socket-path", "s", settings.HealthCheckSockPath,
		fmt.Sprintf("Path to the %s health check socket", settings.CmdName))
	cmd.Flags().DurationVar(&o.timeout, "timeout", defaultTimeout, "Timeout")
	cmd.Flags().DurationVar(&o.interval, "interval", defaultInterval, "Polling interval")

	return cmd
}

func (o *Options) Run(cmd *cobra.Command, _ []string) error {
	if err := o.ConfigureLogger(); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	logger := o.Logger.With().Str("component", CmdName).Logger()

	ctx := o.Ctx
	if ctx == nil {
		ctx = cmd.Context()
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	logger.Info().Str("socket", o.socketPath).Msg("waiting for the profiler to be ready")
	if err := healthcheck.Wait(ctx, o.socketPath, o.interval); err != nil {
		return err
	}
	logger.Info().Msg("profiler is ready")

	return nil
}
