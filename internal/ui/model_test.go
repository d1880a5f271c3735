// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status updates, key handling and rendering helpers
package ui

import (
	"errors"
	"strings"
	"testing"

	"github.com/Resonate-Protocol/lockstep-go/pkg/clocksync"
	tea "github.com/charmbracelet/bubbletea"
)

func TestNewModel(t *testing.T) {
	model := NewModel(nil)

	if model.role != "" {
		t.Errorf("expected no role before election, got %q", model.role)
	}

	if model.phase != "idle" {
		t.Errorf("expected phase idle, got %q", model.phase)
	}

	if model.quality != clocksync.QualityLost {
		t.Errorf("expected QualityLost initially, got %v", model.quality)
	}

	if model.showDebug {
		t.Error("expected showDebug to be false initially")
	}
}

func TestStatusMsgIdentity(t *testing.T) {
	model := NewModel(nil)

	group := uint8(3)
	model.applyStatus(StatusMsg{
		Serial:    500,
		Group:     &group,
		Transport: "relay",
		GroupSize: 3,
	})

	if model.serial != 500 {
		t.Errorf("expected serial 500, got %d", model.serial)
	}
	if model.group != 3 {
		t.Errorf("expected group 3, got %d", model.group)
	}
	if model.transport != "relay" {
		t.Errorf("expected transport 'relay', got %q", model.transport)
	}
	if got := model.renderRole(); got != "electing (3 nodes)" {
		t.Errorf("unexpected role text %q", got)
	}
}

func TestStatusMsgRole(t *testing.T) {
	model := NewModel(nil)

	rank := 2
	model.applyStatus(StatusMsg{Role: "follower", Master: 100, Rank: &rank})

	if model.master != 100 {
		t.Errorf("expected master 100, got %d", model.master)
	}
	if got := model.renderRole(); got != "follower of 100, rank 2" {
		t.Errorf("unexpected role text %q", got)
	}

	model.applyStatus(StatusMsg{Role: "master", Master: 100})
	if got := model.renderRole(); got != "master" {
		t.Errorf("unexpected role text %q", got)
	}
}

func TestStatusMsgSync(t *testing.T) {
	model := NewModel(nil)

	offset := int64(-50)
	quality := clocksync.QualityGood
	model.applyStatus(StatusMsg{
		Round:   4,
		Offset:  &offset,
		RTT:     40,
		Quality: &quality,
	})

	if model.round != 4 {
		t.Errorf("expected round 4, got %d", model.round)
	}
	if model.offset != -50 {
		t.Errorf("expected offset -50, got %d", model.offset)
	}
	if model.rtt != 40 {
		t.Errorf("expected rtt 40, got %d", model.rtt)
	}
	if !strings.Contains(model.renderSync(), "offset -50ms") {
		t.Errorf("sync line should show the offset: %q", model.renderSync())
	}
}

func TestStatusMsgZeroOffset(t *testing.T) {
	model := NewModel(nil)

	offset := int64(-50)
	model.applyStatus(StatusMsg{Offset: &offset})

	// A zero offset is a valid measurement and must be applied
	zero := int64(0)
	model.applyStatus(StatusMsg{Offset: &zero})

	if model.offset != 0 {
		t.Errorf("expected offset 0, got %d", model.offset)
	}

	// Messages without an offset leave it alone
	model.applyStatus(StatusMsg{Phase: "await-sync"})
	if model.offset != 0 {
		t.Errorf("offset changed unexpectedly to %d", model.offset)
	}
}

func TestStatusMsgError(t *testing.T) {
	model := NewModel(nil)

	model.applyStatus(StatusMsg{Err: errors.New("round 3: timed out waiting for the group")})

	if model.lastErr == "" {
		t.Error("expected last error to be recorded")
	}

	model.applyStatus(StatusMsg{Round: 4})
	if model.lastErr == "" {
		t.Error("last error should persist until replaced")
	}
}

func TestStatusMsgScore(t *testing.T) {
	model := NewModel(nil)

	part := 1
	model.applyStatus(StatusMsg{ScoreTitle: "canon", Part: &part, Current: 3, Total: 12})

	if model.scoreTitle != "canon" {
		t.Errorf("expected score title 'canon', got %q", model.scoreTitle)
	}
	if model.part != 1 {
		t.Errorf("expected part 1, got %d", model.part)
	}
	if model.current != 3 || model.total != 12 {
		t.Errorf("expected progress 3/12, got %d/%d", model.current, model.total)
	}
	if !strings.Contains(model.renderScore(), "3/12") {
		t.Errorf("score line should show progress: %q", model.renderScore())
	}
}

func TestQualityDisplay(t *testing.T) {
	tests := []struct {
		quality  clocksync.Quality
		expected string
	}{
		{clocksync.QualityGood, "✓"},
		{clocksync.QualityDegraded, "⚠"},
		{clocksync.QualityLost, "✗"},
	}

	for _, tt := range tests {
		model := NewModel(nil)
		q := tt.quality
		model.applyStatus(StatusMsg{Quality: &q})

		if !strings.Contains(model.renderSync(), tt.expected) {
			t.Errorf("quality %v: expected %q in %q", tt.quality, tt.expected, model.renderSync())
		}
	}
}

func TestKeyHandling(t *testing.T) {
	quit := make(chan struct{}, 1)
	model := NewModel(quit)

	updated, _ := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	if !updated.(Model).showDebug {
		t.Error("d should toggle debug")
	}

	updated, cmd := updated.(Model).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Error("q should return a quit command")
	}
	if !updated.(Model).quitting {
		t.Error("model should be quitting")
	}

	select {
	case <-quit:
	default:
		t.Error("quit should be signalled")
	}
}

func TestViewRenders(t *testing.T) {
	model := NewModel(nil)
	model.applyStatus(StatusMsg{Serial: 300, Transport: "memory"})

	view := model.View()
	if !strings.Contains(view, "300") {
		t.Error("view should include the serial")
	}
	if !strings.Contains(view, "No score loaded") {
		t.Error("view should mention the missing score")
	}
}

func TestRenderBar(t *testing.T) {
	tests := []struct {
		value, max, width int
		expected          string
	}{
		{0, 10, 4, "░░░░"},
		{5, 10, 4, "██░░"},
		{10, 10, 4, "████"},
		{12, 10, 4, "████"},
		{3, 0, 4, "░░░░"},
	}

	for _, tt := range tests {
		if got := renderBar(tt.value, tt.max, tt.width); got != tt.expected {
			t.Errorf("renderBar(%d, %d, %d) = %q, expected %q", tt.value, tt.max, tt.width, got, tt.expected)
		}
	}
}

func TestTruncateFunction(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"this is longer than allowed", 10, "this is..."},
		{"", 10, ""},
		{"abcd", 4, "abcd"},
		{"abcde", 4, "a..."},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q",
				tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestRelayModelView(t *testing.T) {
	m := relayModel{status: RelayStatus{Name: "studio", Addr: ":8928", Clients: 3, Forwarded: 120, MDNS: true}}

	view := m.View()
	for _, want := range []string{"studio", "Connected Nodes (3)", "120 frames", "advertising"} {
		if !strings.Contains(view, want) {
			t.Errorf("relay view missing %q", want)
		}
	}
}
