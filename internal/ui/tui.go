// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and feeds it status updates
package ui

import (
	"github.com/Resonate-Protocol/lockstep-go/pkg/clocksync"
	tea "github.com/charmbracelet/bubbletea"
)

// TUI runs the node view
type TUI struct {
	program  *tea.Program
	updates  chan StatusMsg
	quitChan chan struct{}
}

// NewModel creates a new TUI model
func NewModel(quit chan struct{}) Model {
	return Model{
		role:     "",
		phase:    "idle",
		quality:  clocksync.QualityLost,
		quitChan: quit,
	}
}

// NewTUI creates a TUI. Start blocks until the user quits.
func NewTUI() *TUI {
	t := &TUI{
		updates:  make(chan StatusMsg, 32),
		quitChan: make(chan struct{}, 1),
	}
	t.program = tea.NewProgram(NewModel(t.quitChan), tea.WithAltScreen())
	return t
}

// Start runs the program until it exits
func (t *TUI) Start() error {
	go func() {
		for status := range t.updates {
			t.program.Send(status)
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update without blocking
func (t *TUI) Update(status StatusMsg) {
	select {
	case t.updates <- status:
	default:
	}
}

// QuitChan is signalled when the user asks to quit
func (t *TUI) QuitChan() <-chan struct{} {
	return t.quitChan
}

// Stop ends the program
func (t *TUI) Stop() {
	t.program.Quit()
}
