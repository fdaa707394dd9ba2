package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"reimage/internal/processor"
)

type SummaryRow struct {
	Label string
	Value string
}

// StatusRows describes a finished run.
func StatusRows(st processor.Status, elapsed time.Duration) []SummaryRow {
	return []SummaryRow{
		{Label: "Directories visited", Value: fmt.Sprintf("%d", st.Dirs)},
		{Label: "Files seen", Value: fmt.Sprintf("%d", st.Files)},
		{Label: "Images transformed", Value: fmt.Sprintf("%d", st.Images)},
		{Label: "Failures", Value: fmt.Sprintf("%d", st.Failed)},
		{Label: "Elapsed", Value: elapsed.Round(time.Millisecond).String()},
	}
}

func RenderSummary(rows []SummaryRow) string {
	labelWidth := 0
	valueWidth := 0
	for _, row := range rows {
		if len(row.Label) > labelWidth {
			labelWidth = len(row.Label)
		}
		if len(row.Value) > valueWidth {
			valueWidth = len(row.Value)
		}
	}

	hline := strings.Repeat("-", labelWidth+valueWidth+3)
	lines := []string{hline}

	for _, row := range rows {
		label := padRight(row.Label, labelWidth)
		value := padRight(row.Value, valueWidth)
		line := fmt.Sprintf("%s | %s", labelStyle.Render(label), valueStyle.Render(value))
		lines = append(lines, line)
	}

	lines = append(lines, hline)
	return strings.Join(lines, "\n")
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

var (
	valueStyle = lipgloss.NewStyle().Foreground(ColorInk).Bold(true)
)
