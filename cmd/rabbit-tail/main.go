package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"rabbittail/internal/config"
	"rabbittail/internal/constants"
	"rabbittail/internal/logger"
	apperrors "rabbittail/pkg/errors"
	"rabbittail/pkg/logging"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

func execute(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd(stdout, stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return apperrors.ExitCode(err)
	}
	return apperrors.ExitOK
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		configFile string
		examples   bool
	)

	cmd := &cobra.Command{
		Use:   constants.ServiceName + " --binding exchange[:key1,key2] [flags]",
		Short: "Tail the stream of messages from RabbitMQ exchanges",
		Long: "rabbit-tail binds a transient, exclusive queue to one or more exchanges\n" +
			"and prints every matching message to stdout. Logs go to stderr.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if examples {
				printExamples(stdout)
				return nil
			}
			return runTail(cmd.Context(), configFile, cmd.Flags(), stdout, stderr)
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.Flags().StringVar(&configFile, "config", "", "path to a YAML config file")
	cmd.Flags().BoolVar(&examples, "examples", false, "print usage examples and exit")
	config.RegisterFlags(cmd.Flags())

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		logging.NewEarlyLogTo(stderr).Error("%v", err)
		return apperrors.ErrConfiguration.WithCause(err)
	})

	return cmd
}

func runTail(parent context.Context, configFile string, flags *pflag.FlagSet, stdout, stderr io.Writer) error {
	earlyLog := logging.NewEarlyLogTo(stderr)

	if configFile == "" {
		configFile = os.Getenv("RABBIT_TAIL_CONFIG")
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		if !apperrors.IsConfiguration(err) {
			err = apperrors.ErrConfiguration.WithCause(err)
		}
		return err
	}

	log, err := logger.New(logger.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		NoColor: cfg.Logging.NoColor,
	})
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return apperrors.ErrInternal.WithCause(err)
	}
	defer log.Sync()

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := NewApp(cfg, log, stdout)
	defer func() {
		if err := app.Shutdown(context.Background()); err != nil {
			log.Warnw("Shutdown finished with errors", "error", err)
		}
	}()

	if err := app.Initialize(ctx); err != nil {
		log.Errorw(fmt.Sprintf("Failed to start: %v", err), "code", apperrors.Code(err))
		return err
	}

	if err := app.Run(ctx); err != nil {
		log.Errorw(fmt.Sprintf("Stopped with error: %v", err), "code", apperrors.Code(err))
		return err
	}

	log.Debugw("Tail finished", "consumed", app.Consumed())
	return nil
}
