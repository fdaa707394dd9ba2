package cmd

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"reimage/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <dir>",
	Short: "Convert, downsample, rename and back up the images in a directory",
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
		defer ctrl.Shutdown()

		started := time.Now()
		if _, err := ctrl.Start(ctx, params); err != nil {
			return err
		}

		done := make(chan struct{})
		go func() {
			ctrl.Wait()
			close(done)
		}()

		if useTUI() {
			program := tea.NewProgram(tui.NewModel("reimage", ctrl, done, ctrl.Stop))
			logWriter.Attach(program)
			_, err := program.Run()
			logWriter.Detach()
			if err != nil {
				ctrl.Stop()
			}
		}
		<-done

		st := ctrl.Status()
		fmt.Fprintln(os.Stdout, tui.RenderSummary(tui.StatusRows(st, time.Since(started))))
		if st.Failed > 0 {
			return fmt.Errorf("%d file(s) failed, see the log for details", st.Failed)
		}
		return nil
	},
}

func useTUI() bool {
	return !noTUI && isatty.IsTerminal(os.Stdout.Fd())
}

func init() {
	runFlags(runCmd)

	rootCmd.AddCommand(runCmd)
}
