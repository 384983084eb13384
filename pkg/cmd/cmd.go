package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/maxgio92/stackprof/internal/settings"
	"github.com/maxgio92/stackprof/pkg/capture"
	"github.com/maxgio92/stackprof/pkg/cmd/wait"
	"github.com/maxgio92/stackprof/pkg/profiler"
	"github.com/maxgio92/stackprof/pkg/transport"
)

const logLevelInfo = "info"

func NewCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   settings.CmdName,
		Short: fmt.Sprintf("%s is a sampling stack profiler", settings.CmdName),
		Long: fmt.Sprintf(`
%s samples the kernel and user stacks of whatever runs on every online CPU,
at the given frequency, and prints them symbolized.
`, settings.CmdName),
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		Args:              cobra.NoArgs,
		PersistentPreRunE: o.bindEnv,
		RunE:              o.Run,
	}

	cmd.Flags().IntVarP(&o.frequency, "frequency", "f", 1, "Sampling frequency in Hz (values below 1 are raised to 1)")
	cmd.Flags().BoolVar(&o.swEvent, "sw-event", false, "Use the software cpu clock event instead of the hardware cycles counter")
	cmd.Flags().StringVar(&o.transport, "transport", string(transport.KindLibbpf),
		fmt.Sprintf("Ring buffer consumer (%s, %s)", transport.KindLibbpf, transport.KindRingbuf))
	cmd.Flags().StringVar(&o.bpfObject, "bpf-object", "", "Path to the BPF object to load instead of the embedded one")
	cmd.Flags().StringVar(&o.vmlinux, "vmlinux", "", "Path to a vmlinux image with debug info, for kernel source locations")
	cmd.Flags().BoolVar(&o.status, "status", false, "Periodically print a status line on stderr")
	cmd.Flags().StringVar(&o.healthSocket, "health-socket", "", fmt.Sprintf("Serve readiness on this unix socket (e.g. %s)", settings.HealthCheckSockPath))

	cmd.PersistentFlags().StringVar(&o.LogLevel, "log-level", logLevelInfo, "Log level (trace, debug, info, warn, error, fatal, panic)")
	cmd.PersistentFlags().BoolVarP(&o.help, "help", "h", false, "Print usage")

	cmd.AddCommand(wait.NewCommand(wait.NewOptions(
		wait.WithCommonOptions(o.CommonOptions),
	)))

	return cmd
}

// bindEnv fills the flags not set on the command line from STACKPROF_*
// environment variables.
func (o *Options) bindEnv(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	v.SetEnvPrefix(settings.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return errors.Wrap(err, "failed to bind flags")
	}

	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed || f.Name == "help" {
			return
		}
		if val := v.GetString(f.Name); val != f.DefValue {
			if serr := cmd.Flags().Set(f.Name, val); serr != nil {
				err = errors.Wrapf(serr, "invalid value for %s_%s", settings.EnvPrefix,
					strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")))
			}
		}
	})

	return err
}

func (o *Options) Run(_ *cobra.Command, _ []string) error {
	if err := o.ConfigureLogger(); err != nil {
		return errors.Wrap(err, "invalid log level")
	}

	kind, err := transport.ParseKind(o.transport)
	if err != nil {
		return err
	}

	mode := capture.ModeHardware
	if o.swEvent {
		mode = capture.ModeSoftware
	}

	p := profiler.NewProfiler(
		profiler.WithFrequency(o.frequency),
		profiler.WithMode(mode),
		profiler.WithTransport(kind),
		profiler.WithBPFObjPath(o.bpfObject),
		profiler.WithVmlinux(o.vmlinux),
		profiler.WithStatus(o.status),
		profiler.WithHealthSocket(o.healthSocket),
		profiler.WithLogger(o.Logger),
	)

	if err := p.Run(o.Ctx); err != nil {
		return errors.Wrap(err, "failed to run profiler")
	}

	return nil
}

// Execute runs the root command, exiting non-zero on failure and when usage
// was requested.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(
		log.ConsoleWriter{Out: os.Stderr},
	).With().Timestamp().Logger()

	go func() {
		<-ctx.Done()
		logger.Debug().Msg("terminating...")
	}()

	opts := NewOptions(
		WithContext(ctx),
		WithLogger(logger),
	)

	err := NewCommand(opts).Execute()
	if err != nil || opts.HelpRequested() {
		cancel()
		os.Exit(1)
	}
}
