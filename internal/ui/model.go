// ABOUTME: Bubbletea model for the player TUI
// ABOUTME: Polls the engine for progress and maps keys to seeks and device changes
package ui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/musicthing/musicthing/pkg/audio"
	"github.com/musicthing/musicthing/pkg/audio/output"
	"github.com/musicthing/musicthing/pkg/playback"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	tickInterval = 100 * time.Millisecond
	seekStep     = 5 * time.Second
	barWidth     = 40
)

// Controller is the part of the playback engine the TUI drives
type Controller interface {
	RequestSeek(d time.Duration)
	CurrentPosition() audio.Timestamp
	Track() (audio.Track, audio.TrackMetadata, bool)
	State() playback.State
	Ended() bool
	Devices() ([]output.Device, error)
	Device() output.Device
	SelectDevice(dev output.Device) error
	Restart() error
}

// Model represents the TUI state
type Model struct {
	ctrl Controller

	// Track
	fileName string
	codec    string
	rate     int
	channels int
	timeBase audio.TimeBase
	duration audio.Timestamp

	// Playback
	state    playback.State
	position audio.Timestamp
	ended    bool

	// Output
	device string

	errLine string

	// Dimensions
	width  int
	height int
}

type tickMsg time.Time

// StreamErrorMsg reports a failure of the playing stream
type StreamErrorMsg struct {
	Err error
}

// NewModel creates a new TUI model
func NewModel(ctrl Controller, fileName string) Model {
	m := Model{ctrl: ctrl, fileName: fileName}
	m.refresh()
	return m
}

// Init starts the progress ticker
func (m Model) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
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
		m.refresh()
		return m, tickEvery()
	case StreamErrorMsg:
		m.errLine = msg.Err.Error()
		m.refresh()
	}

	return m, nil
}

// refresh copies engine state into the model
func (m *Model) refresh() {
	m.state = m.ctrl.State()
	m.position = m.ctrl.CurrentPosition()
	m.ended = m.ctrl.Ended()
	m.device = m.ctrl.Device().Name

	track, meta, ok := m.ctrl.Track()
	if !ok {
		m.codec = ""
		m.duration = 0
		return
	}
	m.codec = string(track.Params.Codec)
	m.rate = track.Params.SampleRate
	m.channels = track.Params.Channels
	m.timeBase = meta.TimeBase
	m.duration = meta.Duration
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	switch key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "left":
		m.seekBy(-seekStep)
	case "right":
		m.seekBy(seekStep)
	case "r":
		if err := m.ctrl.Restart(); err != nil {
			m.errLine = err.Error()
		} else {
			m.errLine = ""
		}
		m.refresh()
	case "d":
		m.nextDevice()
		m.refresh()
	default:
		if len(key) == 1 && key[0] >= '0' && key[0] <= '9' {
			m.seekToFraction(int(key[0] - '0'))
		}
	}

	return m, nil
}

func (m *Model) seekBy(delta time.Duration) {
	if m.duration == 0 {
		return
	}
	target := m.timeBase.Duration(m.position) + delta
	m.ctrl.RequestSeek(max(target, 0))
	m.position = m.ctrl.CurrentPosition()
}

// seekToFraction jumps to tenths of the track
func (m *Model) seekToFraction(tenths int) {
	if m.duration == 0 {
		return
	}
	length := m.timeBase.Duration(m.duration)
	m.ctrl.RequestSeek(length * time.Duration(tenths) / 10)
	m.position = m.ctrl.CurrentPosition()
}

// nextDevice switches to the device after the current one
func (m *Model) nextDevice() {
	devices, err := m.ctrl.Devices()
	if err != nil {
		m.errLine = err.Error()
		return
	}
	if len(devices) < 2 {
		return
	}

	current := m.ctrl.Device()
	next := devices[0]
	for i, d := range devices {
		if d.ID == current.ID {
			next = devices[(i+1)%len(devices)]
			break
		}
	}

	if err := m.ctrl.SelectDevice(next); err != nil {
		m.errLine = err.Error()
		return
	}
	m.errLine = ""
}

// View renders the TUI
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("musicthing"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Device: "))
	b.WriteString(valueStyle.Render(m.device))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("State:  "))
	state := m.state.String()
	if m.ended {
		state = "ended"
	}
	b.WriteString(valueStyle.Render(state))
	b.WriteString("\n\n")

	if m.codec == "" {
		b.WriteString(valueStyle.Render("  No track"))
		b.WriteString("\n")
	} else {
		if m.fileName != "" {
			b.WriteString(headerStyle.Render("Track:  "))
			b.WriteString(valueStyle.Render(truncate(filepath.Base(m.fileName), 50)))
			b.WriteString("\n")
		}
		b.WriteString(headerStyle.Render("Format: "))
		b.WriteString(valueStyle.Render(fmt.Sprintf("%s %dHz %s", m.codec, m.rate, channelName(m.channels))))
		b.WriteString("\n\n")

		b.WriteString(fmt.Sprintf("  %s [%s] %s\n",
			formatDuration(m.timeBase.Duration(m.position)),
			renderBar(int(m.position), int(m.duration), barWidth),
			formatDuration(m.timeBase.Duration(m.duration))))
	}

	if m.errLine != "" {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("Error: " + truncate(m.errLine, 70)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("←/→:Seek 5s  0-9:Jump  r:Restart  d:Next device  q:Quit"))
	b.WriteString("\n")

	return b.String()
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := 0
	if max > 0 {
		filled = (value * width) / max
	}
	return strings.Repeat("█", min(filled, width)) + strings.Repeat("░", width-min(filled, width))
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
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

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
