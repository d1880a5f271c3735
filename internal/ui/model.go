// ABOUTME: Bubbletea model for the node TUI
// ABOUTME: Shows role, round progress, clock offset and score playback
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/lockstep-go/internal/version"
	"github.com/Resonate-Protocol/lockstep-go/pkg/clocksync"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("250"))

	goodStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	degradedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	lostStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().Faint(true)
)

// Model represents the TUI state
type Model struct {
	// Identity
	serial    uint32
	group     uint8
	transport string
	groupSize int

	// Election
	role   string
	master uint32
	rank   int

	// Rounds
	phase    string
	round    uint64
	failed   uint64
	offset   int64
	rtt      int64
	quality  clocksync.Quality
	deadline uint32
	now      uint32
	lastErr  string

	// Score
	scoreTitle string
	part       int
	current    int
	total      int

	showDebug bool
	quitting  bool
	quitChan  chan struct{}

	width  int
	height int
}

// StatusMsg updates TUI state. Zero fields leave the model unchanged.
type StatusMsg struct {
	Serial    uint32
	Group     *uint8
	Transport string
	GroupSize int

	Role   string
	Master uint32
	Rank   *int

	Phase    string
	Round    uint64
	Failed   uint64
	Offset   *int64
	RTT      int64
	Quality  *clocksync.Quality
	Deadline uint32
	Now      uint32
	Err      error

	ScoreTitle string
	Part       *int
	Current    int
	Total      int
}

type tickMsg time.Time

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts the refresh tick
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tickMsg:
		return m, tickEvery()
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("%s %s", version.Product, version.Version)))
	b.WriteString("\n\n")

	field(&b, "Node", fmt.Sprintf("%d (group %d via %s)", m.serial, m.group, m.transport))
	field(&b, "Role", m.renderRole())
	field(&b, "Phase", m.phase)
	b.WriteString("\n")

	field(&b, "Round", fmt.Sprintf("%d (%d failed)", m.round, m.failed))
	b.WriteString(headerStyle.Render("Sync: "))
	b.WriteString(m.renderSync())
	b.WriteString("\n")
	if m.lastErr != "" {
		b.WriteString(lostStyle.Render("Last error: " + truncate(m.lastErr, 60)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(m.renderScore())

	if m.showDebug {
		b.WriteString(m.renderDebug())
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render("d:Debug  q:Quit"))

	return b.String()
}

func field(b *strings.Builder, name, value string) {
	b.WriteString(headerStyle.Render(name + ": "))
	b.WriteString(valueStyle.Render(value))
	b.WriteString("\n")
}

func (m Model) renderRole() string {
	switch m.role {
	case "":
		return fmt.Sprintf("electing (%d nodes)", m.groupSize)
	case "master":
		return "master"
	default:
		return fmt.Sprintf("follower of %d, rank %d", m.master, m.rank)
	}
}

// renderSync renders offset and quality
func (m Model) renderSync() string {
	switch m.quality {
	case clocksync.QualityGood:
		return goodStyle.Render(fmt.Sprintf("✓ offset %+dms, rtt %dms", m.offset, m.rtt))
	case clocksync.QualityDegraded:
		return degradedStyle.Render(fmt.Sprintf("⚠ offset %+dms, rtt %dms", m.offset, m.rtt))
	default:
		return lostStyle.Render("✗ not synced")
	}
}

func (m Model) renderScore() string {
	if m.scoreTitle == "" {
		return valueStyle.Render("No score loaded") + "\n"
	}

	var b strings.Builder
	field(&b, "Score", fmt.Sprintf("%s, part %d", m.scoreTitle, m.part))
	b.WriteString(headerStyle.Render("Progress: "))
	b.WriteString(fmt.Sprintf("[%s] %d/%d", renderBar(m.current, m.total, 20), m.current, m.total))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderDebug() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(headerStyle.Render("DEBUG"))
	b.WriteString("\n")
	field(&b, "  System time", fmt.Sprintf("%dms", m.now))
	field(&b, "  Last deadline", fmt.Sprintf("%dms", m.deadline))
	field(&b, "  Offset", fmt.Sprintf("%+dms", m.offset))
	return b.String()
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		if m.quitChan != nil {
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Serial != 0 {
		m.serial = msg.Serial
	}
	if msg.Group != nil {
		m.group = *msg.Group
	}
	if msg.Transport != "" {
		m.transport = msg.Transport
	}
	if msg.GroupSize != 0 {
		m.groupSize = msg.GroupSize
	}
	if msg.Role != "" {
		m.role = msg.Role
		m.master = msg.Master
	}
	if msg.Rank != nil {
		m.rank = *msg.Rank
	}
	if msg.Phase != "" {
		m.phase = msg.Phase
	}
	if msg.Round != 0 {
		m.round = msg.Round
	}
	if msg.Failed != 0 {
		m.failed = msg.Failed
	}
	if msg.Offset != nil {
		m.offset = *msg.Offset
		m.rtt = msg.RTT
	}
	if msg.Quality != nil {
		m.quality = *msg.Quality
	}
	if msg.Deadline != 0 {
		m.deadline = msg.Deadline
	}
	if msg.Now != 0 {
		m.now = msg.Now
	}
	if msg.Err != nil {
		m.lastErr = msg.Err.Error()
	}
	if msg.ScoreTitle != "" {
		m.scoreTitle = msg.ScoreTitle
	}
	if msg.Part != nil {
		m.part = *msg.Part
	}
	if msg.Total != 0 {
		m.current = msg.Current
		m.total = msg.Total
	}
}

// Utility functions
func renderBar(value, max, width int) string {
	if max <= 0 {
		return strings.Repeat("░", width)
	}
	filled := min((value*width)/max, width)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
