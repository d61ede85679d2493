// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the action channel back to the app
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/warpsong/warpsong-go/internal/timesync"
	"github.com/warpsong/warpsong-go/pkg/stem"
)

// ActionKind identifies a user intent raised from the keyboard
type ActionKind int

const (
	ActionPlay ActionKind = iota
	ActionPause
	ActionReady
	ActionTempo
	ActionSelect
	ActionMute
	ActionSave
)

// Action is a user intent for the app to carry out
type Action struct {
	Kind   ActionKind
	Slot   stem.Category
	StemID string
	BPM    float64
	Muted  bool
}

// Controls holds channels for communication from the TUI to the app
type Controls struct {
	Actions chan Action
	Quit    chan struct{}
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		Actions: make(chan Action, 16),
		Quit:    make(chan struct{}, 1),
	}
}

// send never blocks the UI goroutine; actions beyond the buffer are dropped
func (c *Controls) send(a Action) {
	if c == nil {
		return
	}
	select {
	case c.Actions <- a:
	default:
	}
}

func (c *Controls) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{
		controls:    controls,
		muted:       make(map[stem.Category]bool),
		syncQuality: timesync.QualityLost,
	}
}

// Run creates the TUI program; the caller runs it
func Run(controls *Controls) *tea.Program {
	return tea.NewProgram(NewModel(controls), tea.WithAltScreen())
}
