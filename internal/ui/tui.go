// ABOUTME: TUI initialization and control channels
// ABOUTME: Wraps the bubbletea program and forwards user actions
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Controls carries user actions out of the TUI. A nil *Controls drops them.
type Controls struct {
	Changes chan VolumeChangeMsg
	Pause   chan PauseMsg
	Quit    chan QuitMsg
}

// NewControls creates buffered control channels.
func NewControls() *Controls {
	return &Controls{
		Changes: make(chan VolumeChangeMsg, 10),
		Pause:   make(chan PauseMsg, 4),
		Quit:    make(chan QuitMsg, 1),
	}
}

func (c *Controls) volume(v int, muted bool) {
	if c == nil {
		return
	}
	select {
	case c.Changes <- VolumeChangeMsg{Volume: v, Muted: muted}:
	default:
	}
}

func (c *Controls) pause(on bool) {
	if c == nil {
		return
	}
	select {
	case c.Pause <- PauseMsg{Pause: on}:
	default:
	}
}

func (c *Controls) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- QuitMsg{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{
		volume:   100,
		controls: controls,
	}
}

// New creates the program; the caller runs it and feeds it StatusMsg
// values with Send.
func New(controls *Controls, opts ...tea.ProgramOption) *tea.Program {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	return tea.NewProgram(NewModel(controls), opts...)
}
