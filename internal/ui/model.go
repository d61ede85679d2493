// ABOUTME: Bubbletea model for the participant TUI
// ABOUTME: Renders session, slots, transport and meters; turns key presses into actions
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/warpsong/warpsong-go/internal/engine"
	"github.com/warpsong/warpsong-go/internal/session"
	"github.com/warpsong/warpsong-go/internal/timesync"
	"github.com/warpsong/warpsong-go/internal/version"
	"github.com/warpsong/warpsong-go/internal/visualizer"
	"github.com/warpsong/warpsong-go/pkg/stem"
)

const tempoStep = 1.0

// MeterWidth is the number of master waveform bars the view expects
const MeterWidth = 32

// Model represents the TUI state
type Model struct {
	// Session
	session session.Snapshot
	catalog []stem.Stem

	// Sync
	syncOffset  int64
	syncRTT     int64
	syncQuality timesync.Quality

	// Meters
	levels visualizer.Frame
	bars   []float64

	// Local mix
	focus int
	muted map[stem.Category]bool

	lastError string
	showDebug bool
	controls  *Controls

	// Dimensions
	width  int
	height int
}

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

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	slotStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderRoster())
	b.WriteString(m.renderSlots())
	b.WriteString(m.renderTransport())

	if m.showDebug {
		b.WriteString(m.renderDebug())
	}
	if m.lastError != "" {
		b.WriteString(errorStyle.Render("Error: "+m.lastError) + "\n")
	}
	b.WriteString(m.renderHelp())

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func field(name, value string) string {
	return headerStyle.Render(name+": ") + valueStyle.Render(value) + "\n"
}

// renderHeader renders session and sync status
func (m Model) renderHeader() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s %s", version.Product, version.Version)))
	b.WriteString("\n\n")

	status := m.session.State.String()
	if m.session.SessionCode != "" {
		status = fmt.Sprintf("%s (session %s)", status, m.session.SessionCode)
	}
	b.WriteString(field("Status", status))

	syncIcon := "✗"
	syncText := "Lost"
	switch m.syncQuality {
	case timesync.QualityGood:
		syncIcon = "✓"
		syncText = fmt.Sprintf("Synced (offset: %+.1fms, rtt: %.1fms)",
			float64(m.syncOffset)/1000.0, float64(m.syncRTT)/1000.0)
	case timesync.QualityDegraded:
		syncIcon = "⚠"
		syncText = fmt.Sprintf("Degraded (rtt: %.1fms)", float64(m.syncRTT)/1000.0)
	}
	b.WriteString(field("Sync", syncIcon+" "+syncText))
	return b.String()
}

// renderRoster lists participants with a mark for those that are ready
func (m Model) renderRoster() string {
	ready := make(map[string]bool, len(m.session.Ready))
	for _, id := range m.session.Ready {
		ready[id] = true
	}

	var names []string
	for _, id := range m.session.Participants {
		mark := "·"
		if ready[id] {
			mark = "✓"
		}
		name := truncate(id, 12)
		if id == m.session.ParticipantID {
			name += " (you)"
		}
		names = append(names, mark+" "+name)
	}
	if len(names) == 0 {
		names = append(names, "nobody yet")
	}

	barrier := "waiting for everyone"
	if m.session.AllReady {
		barrier = "everyone ready"
	}
	return "\n" + field(fmt.Sprintf("Participants (%d)", len(m.session.Participants)), strings.Join(names, "  ")) +
		faintStyle.Render("  "+barrier) + "\n"
}

// renderSlots renders the four slots with their assignment and level
func (m Model) renderSlots() string {
	var b strings.Builder
	b.WriteString("\n")
	for i, slot := range stem.Categories {
		cursor := "  "
		if i == m.focus {
			cursor = "▸ "
		}

		name := "(empty)"
		if s, ok := m.session.Slots[slot]; ok {
			name = s.Name
			if name == "" {
				name = s.ID
			}
		}
		level := m.levels.Slots[slot]
		meter := renderBar(int(level.Peak*100), 100, 10)
		mute := ""
		if m.muted[slot] {
			mute = " muted"
		}

		b.WriteString(fmt.Sprintf("%s%s %s %s %s%s\n",
			cursor,
			slotStyle.Render(fmt.Sprintf("%d %-8s", i+1, slot)),
			valueStyle.Render(fmt.Sprintf("%-24s", truncate(name, 24))),
			meter,
			faintStyle.Render(fmt.Sprintf("%6.1fdB", level.DB())),
			mute))
	}
	return b.String()
}

// renderTransport renders playback state, tempo and the master waveform
func (m Model) renderTransport() string {
	transport := m.session.Transport.String()
	if m.session.Playing {
		transport = "▶ " + transport
	} else {
		transport = "■ " + transport
	}

	tempo := m.session.Tempo
	if tempo == 0 {
		tempo = engine.ReferenceBPM
	}

	return "\n" + field("Transport", transport) +
		field("Tempo", fmt.Sprintf("%.0f BPM", tempo)) +
		field("Master", visualizer.Sparkline(m.bars)+fmt.Sprintf(" %6.1fdB", m.levels.Master.DB()))
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return "\n" + faintStyle.Render(fmt.Sprintf("participant=%s localReady=%v clockOffset=%+dus",
		m.session.ParticipantID, m.session.LocalReady, m.syncOffset)) + "\n"
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return "\n" + faintStyle.Render("space:Play/Pause  r:Ready  1-4:Next stem  ↑/↓:Slot  m:Mute  +/-:Tempo  s:Save  d:Debug  q:Quit")
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "q", "ctrl+c":
		m.controls.quit()
		return m, tea.Quit
	case " ", "space":
		if m.session.Playing {
			m.controls.send(Action{Kind: ActionPause})
		} else {
			m.controls.send(Action{Kind: ActionPlay})
		}
	case "r":
		m.controls.send(Action{Kind: ActionReady})
	case "+", "=":
		m.controls.send(Action{Kind: ActionTempo, BPM: engine.ClampTempo(m.tempo() + tempoStep)})
	case "-", "_":
		m.controls.send(Action{Kind: ActionTempo, BPM: engine.ClampTempo(m.tempo() - tempoStep)})
	case "1", "2", "3", "4":
		slot := stem.Categories[int(key[0]-'1')]
		if next, ok := m.nextStem(slot); ok {
			m.controls.send(Action{Kind: ActionSelect, Slot: slot, StemID: next.ID})
		}
	case "up":
		if m.focus > 0 {
			m.focus--
		}
	case "down":
		if m.focus < len(stem.Categories)-1 {
			m.focus++
		}
	case "m":
		slot := stem.Categories[m.focus]
		muted := make(map[stem.Category]bool, len(m.muted)+1)
		for k, v := range m.muted {
			muted[k] = v
		}
		muted[slot] = !muted[slot]
		m.muted = muted
		m.controls.send(Action{Kind: ActionMute, Slot: slot, Muted: muted[slot]})
	case "s":
		m.controls.send(Action{Kind: ActionSave})
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

func (m Model) tempo() float64 {
	if m.session.Tempo == 0 {
		return engine.ReferenceBPM
	}
	return m.session.Tempo
}

// nextStem cycles through the catalog entries of one category
func (m Model) nextStem(slot stem.Category) (stem.Stem, bool) {
	options := stem.ListByType(m.catalog, slot)
	if len(options) == 0 {
		return stem.Stem{}, false
	}
	current, ok := m.session.Slots[slot]
	if !ok {
		return options[0], true
	}
	for i, s := range options {
		if s.SameAs(current) {
			return options[(i+1)%len(options)], true
		}
	}
	return options[0], true
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Session != nil {
		m.session = *msg.Session
		m.lastError = ""
		if m.session.Err != nil {
			m.lastError = m.session.Err.Error()
		}
	}
	if msg.Catalog != nil {
		m.catalog = msg.Catalog
	}
	if msg.Levels != nil {
		m.levels = *msg.Levels
		m.bars = msg.Bars
	}
	if msg.Sync != nil {
		m.syncOffset = msg.Sync.Offset
		m.syncRTT = msg.Sync.RTT
		m.syncQuality = msg.Sync.Quality
	}
	if msg.Error != "" {
		m.lastError = msg.Error
	}
}

// StatusMsg updates TUI state. Nil fields leave the current value untouched.
type StatusMsg struct {
	Session *session.Snapshot
	Catalog []stem.Stem
	Levels  *visualizer.Frame
	Bars    []float64
	Sync    *SyncStatus
	Error   string
}

// SyncStatus is the clock estimate against the relay, in microseconds
type SyncStatus struct {
	Offset  int64
	RTT     int64
	Quality timesync.Quality
}

// Utility functions
func renderBar(value, max, width int) string {
	if value < 0 {
		value = 0
	}
	if value > max {
		value = max
	}
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len([]rune(s)) <= length {
		return s
	}
	return string([]rune(s)[:length-3]) + "..."
}
