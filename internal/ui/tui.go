// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the player UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Run creates the TUI program; the caller runs it
func Run(ctrl Controller, fileName string) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(ctrl, fileName), tea.WithAltScreen())
	return p, nil
}

// ReportError forwards a stream error to a running program
func ReportError(p *tea.Program, err error) {
	if p != nil {
		p.Send(StreamErrorMsg{Err: err})
	}
}
