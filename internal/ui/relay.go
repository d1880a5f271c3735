// ABOUTME: Relay TUI showing connected nodes and frame counters
// ABOUTME: Real-time relay status display using bubbletea
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/internal/version"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// RelayStatus holds relay state for the TUI
type RelayStatus struct {
	Name      string
	Addr      string
	Uptime    time.Duration
	Clients   int
	Forwarded int64
	Dropped   int64
	MDNS      bool
}

type relayStatusMsg RelayStatus

// relayModel is the bubbletea model for the relay TUI
type relayModel struct {
	status   RelayStatus
	quitting bool
	quitChan chan struct{}
}

func (m relayModel) Init() tea.Cmd {
	return tickEvery()
}

func (m relayModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case relayStatusMsg:
		m.status = RelayStatus(msg)
	}

	return m, nil
}

func (m relayModel) View() string {
	if m.quitting {
		return "Shutting down relay...\n"
	}

	clientHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render(version.Product + " Relay"))
	b.WriteString("\n\n")

	field(&b, "Relay", m.status.Name)
	field(&b, "Listening", m.status.Addr)
	field(&b, "Uptime", m.status.Uptime.Round(time.Second).String())

	mdns := "off"
	if m.status.MDNS {
		mdns = "advertising"
	}
	field(&b, "mDNS", mdns)
	b.WriteString("\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Connected Nodes (%d)", m.status.Clients)))
	b.WriteString("\n\n")
	field(&b, "  Forwarded", fmt.Sprintf("%d frames", m.status.Forwarded))
	field(&b, "  Dropped", fmt.Sprintf("%d frames", m.status.Dropped))

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

// RelayTUI manages the relay TUI
type RelayTUI struct {
	program  *tea.Program
	updates  chan RelayStatus
	quitChan chan struct{}
}

// NewRelayTUI creates a relay TUI
func NewRelayTUI(status RelayStatus) *RelayTUI {
	t := &RelayTUI{
		updates:  make(chan RelayStatus, 10),
		quitChan: make(chan struct{}, 1),
	}
	t.program = tea.NewProgram(relayModel{status: status, quitChan: t.quitChan}, tea.WithAltScreen())
	return t
}

// Start runs the TUI until it exits
func (t *RelayTUI) Start() error {
	go func() {
		for status := range t.updates {
			t.program.Send(relayStatusMsg(status))
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *RelayTUI) Update(status RelayStatus) {
	select {
	case t.updates <- status:
	default:
	}
}

// QuitChan is signalled when the user asks to quit
func (t *RelayTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}

// Stop stops the TUI
func (t *RelayTUI) Stop() {
	t.program.Quit()
}
