// Package ui renders run progress: a bubbletea progress bar on a terminal,
// plain lines otherwise, and a summary table at the end.
package ui

import (
	"io"
	"os"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

// UI receives results while the run is in progress.
type UI interface {
	model.ResultListener
	Start(total int) error
	Close()
}

// New returns a TUI when tty is set and a plain line printer otherwise.
func New(w io.Writer, tty bool) UI {
	if tty {
		return NewTUI(w)
	}
	return NewSimple(w)
}

// IsTTY reports whether w is an interactive terminal.
func IsTTY(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fileInfo, err := file.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
