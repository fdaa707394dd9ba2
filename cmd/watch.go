package cmd

import (
	"github.com/spf13/cobra"

	"reimage/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch [flags] <dir>",
	Short: "Run once, then re-run whenever images in the directory change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := paramsFor(args[0])
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		ctrl, err := newController(ctx)
		if err != nil {
			return err
		}

		w, err := watch.New(ctrl, params, cfg.Watch.Debounce, logger)
		if err != nil {
			return err
		}

		logger.Infow("watching",
			"dir", params.SourceDir,
			"debounce", cfg.Watch.Debounce,
			"metrics", cfg.Monitoring.Enabled,
		)
		return w.Run(ctx)
	},
}

func init() {
	runFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", 0, "quiet period before a change triggers a new pass (default from config, 2s)")
	watchCmd.Flags().Bool("metrics", false, "serve Prometheus metrics")
	watchCmd.Flags().String("metrics-bind", "127.0.0.1:9100", "metrics listen address")

	rootCmd.AddCommand(watchCmd)
}
