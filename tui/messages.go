package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/lukemcguire/zombiecheck/crawler"
)

// RunEventMsg carries one controller event into the update loop.
type RunEventMsg struct {
	Event crawler.RunEvent
}

// StartResultMsg reports the outcome of triggering a run.
type StartResultMsg struct {
	Err error
}

// eventsClosedMsg signals the event channel was closed.
type eventsClosedMsg struct{}

// waitForEvent returns a tea.Cmd that reads one event from the channel.
func waitForEvent(ch <-chan crawler.RunEvent) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return RunEventMsg{Event: evt}
	}
}
