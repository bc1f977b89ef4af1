// ABOUTME: Tests for the dashboard model
// ABOUTME: Covers status updates, key handling and rendering helpers
package ui

import (
	"strings"
	"testing"

	"github.com/Resonate-Protocol/audiopipe/internal/status"
	tea "github.com/charmbracelet/bubbletea"
)

func key(s string) tea.KeyMsg {
	switch s {
	case "up":
		return tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m Model, keys ...string) Model {
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(Model)
	}
	return m
}

func TestNewModel(t *testing.T) {
	m := NewModel(nil)
	if m.volume != 100 {
		t.Errorf("expected default volume 100, got %d", m.volume)
	}
	if m.muted || m.showDebug || m.seen {
		t.Error("expected a fresh model")
	}
	if got := m.View(); got != "Loading..." {
		t.Errorf("expected loading view before a size, got %q", got)
	}
}

func TestVolumeKeys(t *testing.T) {
	tests := []struct {
		name   string
		start  int
		keys   []string
		volume int
		muted  bool
	}{
		{"up clamps", 100, []string{"up"}, 100, false},
		{"down", 100, []string{"down", "down"}, 90, false},
		{"down clamps", 5, []string{"down", "down"}, 0, false},
		{"up from zero", 0, []string{"up"}, 5, false},
		{"mute toggles", 100, []string{"m"}, 100, true},
		{"unmute", 100, []string{"m", "m"}, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewControls()
			m := NewModel(c)
			m.volume = tt.start
			m = press(m, tt.keys...)
			if m.volume != tt.volume || m.muted != tt.muted {
				t.Errorf("expected volume %d muted %v, got %d %v", tt.volume, tt.muted, m.volume, m.muted)
			}
			n := len(c.Changes)
			if n != len(tt.keys) {
				t.Fatalf("expected %d changes, got %d", len(tt.keys), n)
			}
			var last VolumeChangeMsg
			for i := 0; i < n; i++ {
				last = <-c.Changes
			}
			if last.Volume != tt.volume || last.Muted != tt.muted {
				t.Errorf("expected last change %d/%v, got %+v", tt.volume, tt.muted, last)
			}
		})
	}
}

func TestPauseKeyFollowsState(t *testing.T) {
	c := NewControls()
	m := NewModel(c)
	m.applyStatus(StatusMsg{Status: status.Status{State: "playing"}})
	m = press(m, " ")
	if got := <-c.Pause; !got.Pause {
		t.Error("expected pause while playing")
	}

	m.applyStatus(StatusMsg{Status: status.Status{State: "paused"}})
	press(m, " ")
	if got := <-c.Pause; got.Pause {
		t.Error("expected resume while paused")
	}
}

func TestQuitKey(t *testing.T) {
	c := NewControls()
	_, cmd := NewModel(c).Update(key("q"))
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	select {
	case <-c.Quit:
	default:
		t.Error("expected a quit message")
	}
}

func TestNilControls(t *testing.T) {
	m := press(NewModel(nil), "up", "down", "m", " ", "q")
	if m.volume != 95 {
		t.Errorf("expected volume 95, got %d", m.volume)
	}
}

func TestViewShowsStatus(t *testing.T) {
	m := NewModel(nil)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 40})
	m = next.(Model)
	next, _ = m.Update(StatusMsg{Status: status.Status{
		Title:        "Test Tone 440Hz",
		State:        "playing",
		SyncState:    "insync",
		Codec:        "opus",
		SampleRate:   48000,
		Channels:     2,
		QueueLevel:   40,
		SyncErrorMs:  -1.5,
		CacheMs:      300,
		CacheTotalMs: 500,
		Written:      12,
	}})
	m = press(next.(Model), "d")

	view := m.View()
	for _, want := range []string{"playing", "✓ insync", "Test Tone 440Hz", "opus 48000Hz Stereo", "-1.5ms", "300/500ms", "Writes: 12", "DEBUG"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q:\n%s", want, view)
		}
	}
	for _, l := range strings.Split(strings.TrimRight(view, "\n"), "\n") {
		if n := len([]rune(l)); n != boxWidth+2 {
			t.Errorf("expected line width %d, got %d: %q", boxWidth+2, n, l)
		}
	}
}

func TestViewWithoutStream(t *testing.T) {
	next, _ := NewModel(nil).Update(tea.WindowSizeMsg{Width: 80, Height: 40})
	view := next.(Model).View()
	if !strings.Contains(view, "starting") || !strings.Contains(view, "No stream") {
		t.Errorf("unexpected view:\n%s", view)
	}
}

func TestRenderBar(t *testing.T) {
	tests := []struct {
		value, total int
		want         string
	}{
		{0, 100, "░░░░░░░░░░"},
		{50, 100, "█████░░░░░"},
		{100, 100, "██████████"},
		{150, 100, "██████████"},
		{-5, 100, "░░░░░░░░░░"},
		{10, 0, "░░░░░░░░░░"},
	}
	for _, tt := range tests {
		if got := renderBar(tt.value, tt.total, 10); got != tt.want {
			t.Errorf("renderBar(%d, %d) = %q, expected %q", tt.value, tt.total, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"this is longer than allowed", 10, "this is..."},
		{"", 10, ""},
		{"abcde", 4, "a..."},
		{"ünïcödé title", 8, "ünïcö..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q", tt.input, tt.maxLen, got, tt.expected)
		}
	}
}

func TestChannelName(t *testing.T) {
	tests := []struct {
		channels int
		expected string
	}{
		{1, "Mono"},
		{2, "Stereo"},
		{6, "6ch"},
	}
	for _, tt := range tests {
		if got := channelName(tt.channels); got != tt.expected {
			t.Errorf("channelName(%d) = %q, expected %q", tt.channels, got, tt.expected)
		}
	}
}
