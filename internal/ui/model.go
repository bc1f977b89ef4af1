// ABOUTME: Bubbletea model for the pipeline dashboard
// ABOUTME: Renders sync, cache and device statistics and handles keys
package ui

import (
	"fmt"
	"strings"

	"github.com/Resonate-Protocol/audiopipe/internal/status"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	boxWidth   = 54
	volumeStep = 5
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	helpStyle  = lipgloss.NewStyle().Faint(true)
	syncStyles = map[string]lipgloss.Style{
		"insync":   lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"waitsync": lipgloss.NewStyle().Foreground(lipgloss.Color("220")),
	}
)

// Model represents the TUI state
type Model struct {
	status status.Status
	seen   bool

	volume int
	muted  bool

	showDebug bool
	controls  *Controls

	width  int
	height int
}

// StatusMsg carries a fresh pipeline snapshot.
type StatusMsg struct {
	Status status.Status
}

// VolumeChangeMsg is sent to Controls when the user changes volume.
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

// PauseMsg is sent to Controls when the user toggles pause.
type PauseMsg struct {
	Pause bool
}

// QuitMsg is sent to Controls when the user quits.
type QuitMsg struct{}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}
	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderStream())
	b.WriteString(m.renderSync())
	b.WriteString(m.renderControls())
	b.WriteString(m.renderStats())
	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

func line(format string, args ...any) string {
	text := truncate(fmt.Sprintf(format, args...), boxWidth-2)
	return fmt.Sprintf("│ %-*s │\n", boxWidth-2, text)
}

// styledLine pads before styling so escape codes do not break the border.
func styledLine(style lipgloss.Style, format string, args ...any) string {
	text := truncate(fmt.Sprintf(format, args...), boxWidth-2)
	return "│ " + style.Render(fmt.Sprintf("%-*s", boxWidth-2, text)) + " │\n"
}

func rule() string {
	return "├" + strings.Repeat("─", boxWidth) + "┤\n"
}

// renderHeader renders playback and sync state
func (m Model) renderHeader() string {
	top := "┌─ " + titleStyle.Render("audiopipe") + " " + strings.Repeat("─", boxWidth-12) + "┐\n"
	if !m.seen {
		return top + line("Status: starting") + rule()
	}
	state := m.status.SyncState
	return top +
		line("Status: %s", m.status.State) +
		styledLine(syncStyles[state], "Sync:   %s %s", syncIcon(state), state) +
		rule()
}

// renderStream renders the current stream and metadata
func (m Model) renderStream() string {
	s := m.status
	if s.Codec == "" {
		return line("No stream")
	}

	var b strings.Builder
	b.WriteString(line("Now Playing:"))
	if s.Title != "" {
		b.WriteString(line("  Track:  %s", s.Title))
		b.WriteString(line("  Artist: %s", s.Artist))
		b.WriteString(line("  Album:  %s", s.Album))
	} else {
		b.WriteString(line("  (No metadata)"))
	}
	format := fmt.Sprintf("Format: %s %dHz %s", s.Codec, s.SampleRate, channelName(s.Channels))
	if s.Passthrough {
		format += " passthrough " + s.StreamType
	}
	b.WriteString(line("%s", format))
	return b.String()
}

// renderSync renders clock sync figures
func (m Model) renderSync() string {
	s := m.status
	return line("") +
		line("Sync error: %+.1fms  Ratio: %.5f", s.SyncErrorMs, s.ResampleRatio) +
		line("Queue:  [%s] %d%%  %.1f kb/s", renderBar(s.QueueLevel, 100, 10), s.QueueLevel, s.Kbps)
}

// renderControls renders volume and device cache
func (m Model) renderControls() string {
	mute := ""
	if m.muted {
		mute = " (muted)"
	}
	cacheTotal := int(m.status.CacheTotalMs)
	cache := min(int(m.status.CacheMs), cacheTotal)
	return line("Volume: [%s] %d%%%s", renderBar(m.volume, 100, 10), m.volume, mute) +
		line("Cache:  [%s] %d/%dms", renderBar(cache, cacheTotal, 10), int(m.status.CacheMs), cacheTotal)
}

// renderStats renders device counters
func (m Model) renderStats() string {
	s := m.status
	return rule() +
		line("Writes: %d  Dropped: %d  Underruns: %d", s.Written, s.Dropped, s.Underruns) +
		line("")
}

// renderDebug renders clock positions
func (m Model) renderDebug() string {
	s := m.status
	return line("DEBUG:") +
		line("  Clock:   %.1fms", s.ClockMs) +
		line("  Playing: %.1fms", s.PlayingMs) +
		line("  Silence: %.1fms", s.SilenceMs)
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return styledLine(helpStyle, "↑/↓:Volume  m:Mute  space:Pause  d:Debug  q:Quit") +
		"└" + strings.Repeat("─", boxWidth) + "┘\n"
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.quit()
		return m, tea.Quit
	case "up":
		m.volume = min(m.volume+volumeStep, 100)
		m.controls.volume(m.volume, m.muted)
	case "down":
		m.volume = max(m.volume-volumeStep, 0)
		m.controls.volume(m.volume, m.muted)
	case "m":
		m.muted = !m.muted
		m.controls.volume(m.volume, m.muted)
	case " ":
		m.controls.pause(m.status.State != "paused")
	case "d":
		m.showDebug = !m.showDebug
	}
	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	m.status = msg.Status
	m.seen = true
}

// Utility functions
func renderBar(value, total, width int) string {
	filled := 0
	if total > 0 {
		filled = min(max(value, 0)*width/total, width)
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len([]rune(s)) <= length {
		return s
	}
	r := []rune(s)
	return string(r[:length-3]) + "..."
}

func channelName(channels int) string {
	switch channels {
	case 1:
		return "Mono"
	case 2:
		return "Stereo"
	default:
		return fmt.Sprintf("%dch", channels)
	}
}

func syncIcon(state string) string {
	switch state {
	case "insync":
		return "✓"
	case "waitsync":
		return "…"
	default:
		return "·"
	}
}
