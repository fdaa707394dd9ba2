package tui

import (
	"bytes"
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// LogWriter routes console log lines above a running program so they do not
// tear the view. Until a program is attached, lines go to fallback.
type LogWriter struct {
	mu       sync.Mutex
	program  *tea.Program
	fallback io.Writer
	pending  bytes.Buffer
}

func NewLogWriter(fallback io.Writer) *LogWriter {
	return &LogWriter{fallback: fallback}
}

func (w *LogWriter) Attach(p *tea.Program) {
	w.mu.Lock()
	w.program = p
	w.mu.Unlock()
}

func (w *LogWriter) Detach() {
	w.mu.Lock()
	w.program = nil
	w.mu.Unlock()
}

func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.program == nil {
		return w.fallback.Write(p)
	}

	w.pending.Write(p)
	for {
		line, err := w.pending.ReadString('\n')
		if err != nil {
			// keep the partial line for the next write
			w.pending.Reset()
			w.pending.WriteString(line)
			break
		}
		// Send gives up once the program has exited, Println would block.
		w.program.Send(tea.Println(strings.TrimSuffix(line, "\n"))())
	}
	return len(p), nil
}
