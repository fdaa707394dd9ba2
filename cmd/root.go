package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"reimage/internal/configure"
	"reimage/internal/logging"
	"reimage/internal/monitoring"
	"reimage/internal/processor"
	"reimage/internal/tui"
)

var (
	cfg       *configure.Config
	logger    *logging.Logger
	logWriter = tui.NewLogWriter(os.Stderr)
	noTUI     bool
)

var rootCmd = &cobra.Command{
	Use:   "reimage",
	Short: "reimage - batch convert, downsample and rename images",
	Long:  "reimage walks a directory tree and converts, downsamples, renames and backs up the images it finds, in place.",

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := configure.Load(cmd.Flags())
		if err != nil {
			return err
		}
		cfg = c

		l, err := logging.New(cfg.Log, logging.WithConsole(logWriter))
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger == nil {
			return nil
		}
		_ = logger.Close()
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default ./reimage.yaml if present)")
	flags.String("log-file", "reimage.log", "persistent log file, empty to disable")
	flags.String("log-file-level", "debug", "minimum level written to the log file")
	flags.String("log-level", "info", "minimum level written to the console")
	flags.BoolVar(&noTUI, "no-tui", false, "print log lines instead of the progress view")
}

// runFlags registers the options shared by run and watch.
func runFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.Bool("recurse", true, "descend into subdirectories")
	flags.Int("max-axis", 0, fmt.Sprintf("downsample so neither side exceeds this many pixels (%d-%d, 0 disables)", processor.MinMaxAxis, processor.MaxMaxAxis))
	flags.String("rename", "", "rename images to <text><n>.<ext>")
	flags.String("format", "", "convert to jpg, png, bmp or gif")
	flags.Bool("backup", true, "copy originals into "+processor.BackupDirName+" before changing them")
}

// paramsFor builds run parameters for dir from the effective config.
func paramsFor(dir string) (processor.Params, error) {
	format, err := processor.ParseTargetFormat(cfg.Run.Format)
	if err != nil {
		return processor.Params{}, err
	}
	return processor.Params{
		SourceDir:  dir,
		Recurse:    cfg.Run.Recurse,
		Resize:     cfg.Run.MaxAxis != processor.NoResize,
		MaxAxis:    cfg.Run.MaxAxis,
		Rename:     cfg.Run.Rename != "",
		RenameText: cfg.Run.Rename,
		Format:     format,
		Backup:     cfg.Run.Backup,
	}, nil
}

// newController wires a controller and, when enabled, the metrics endpoint.
// A fatal log entry stops the current run.
func newController(ctx context.Context) (*processor.Controller, error) {
	var opts []processor.SchedulerOption
	if cfg.Monitoring.Enabled {
		metrics := monitoring.NewPrometheus(monitoring.Options{Labels: cfg.Monitoring.Labels.ToPrometheus()})
		registry := prometheus.NewRegistry()
		metrics.Register(registry)
		if _, err := monitoring.Serve(ctx, cfg.Monitoring.Bind, registry, logger); err != nil {
			return nil, fmt.Errorf("monitoring: %w", err)
		}
		opts = append(opts, processor.WithMetrics(metrics))
	}

	scheduler := processor.NewScheduler(processor.NewTransformer(logger), logger, opts...)
	ctrl := processor.NewController(scheduler, logger)
	logger.OnFatal(ctrl.Stop)
	return ctrl, nil
}
