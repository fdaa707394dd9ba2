package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"reimage/internal/processor"
	"reimage/internal/tui"
)

var scanRecurse bool

var scanCmd = &cobra.Command{
	Use:   "scan <dir>",
	Short: "Report the images a run would touch without modifying files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		scanner := processor.NewScanner(logger)

		var (
			reports []processor.ScanReport
			scanErr error
		)
		done := make(chan struct{})
		go func() {
			defer close(done)
			reports, scanErr = scanner.Scan(ctx, args[0], scanRecurse)
		}()

		if useTUI() {
			program := tea.NewProgram(tui.NewModel("reimage scan", scanner, done, cancel))
			logWriter.Attach(program)
			_, _ = program.Run()
			logWriter.Detach()
		}
		<-done
		if scanErr != nil {
			return scanErr
		}

		for i, report := range reports {
			if i > 0 {
				fmt.Fprintln(os.Stdout)
			}
			printReport(report)
		}
		if len(reports) == 0 {
			fmt.Fprintln(os.Stdout, scanDimStyle.Render("no images found"))
		}
		return nil
	},
}

func printReport(report processor.ScanReport) {
	fmt.Fprintf(os.Stdout, "%s\n", scanFileStyle.Render(report.Path))
	if report.Err != nil {
		fmt.Fprintf(os.Stdout, "  %s %s\n",
			scanBulletStyle.Render("-"),
			scanErrStyle.Render(report.Err.Error()),
		)
		return
	}

	fmt.Fprintf(os.Stdout, "  %s %s\n",
		scanCategoryStyle.Render("Type:"),
		scanValueStyle.Render(fmt.Sprintf("%s (%s) %dx%d", report.Kind, report.MIME, report.Width, report.Height)),
	)

	fmt.Fprintf(os.Stdout, "  %s\n", scanCategoryStyle.Render("Metadata:"))
	if len(report.Categories) == 0 {
		fmt.Fprintf(os.Stdout, "    %s %s\n",
			scanBulletStyle.Render("-"),
			scanDimStyle.Render("none"),
		)
		return
	}
	fmt.Fprintf(os.Stdout, "    %s %s\n",
		scanBulletStyle.Render("-"),
		scanValueStyle.Render(strings.Join(report.Categories, ", ")),
	)
	for _, insight := range report.Insights {
		fmt.Fprintf(os.Stdout, "    %s %s\n",
			scanBulletStyle.Render("-"),
			scanDimStyle.Render(insight.Kind+": "+insight.Message),
		)
	}
}

var (
	scanFileStyle     = lipgloss.NewStyle().Bold(true).Foreground(tui.ColorAccent)
	scanCategoryStyle = lipgloss.NewStyle().Foreground(tui.ColorAccentAlt)
	scanValueStyle    = lipgloss.NewStyle().Foreground(tui.ColorInk)
	scanDimStyle      = lipgloss.NewStyle().Foreground(tui.ColorDim)
	scanBulletStyle   = lipgloss.NewStyle().Foreground(tui.ColorDim)
	scanErrStyle      = lipgloss.NewStyle().Foreground(tui.ColorWarn)
)

func init() {
	scanCmd.Flags().BoolVar(&scanRecurse, "recurse", true, "descend into subdirectories")

	rootCmd.AddCommand(scanCmd)
}
