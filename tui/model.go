// Package tui provides the Bubble Tea terminal UI for zombiecheck: live run
// progress, a re-run trigger that is disabled while a run is active, and a
// styled summary of results.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lukemcguire/zombiecheck/crawler"
	"github.com/lukemcguire/zombiecheck/mark"
	"github.com/lukemcguire/zombiecheck/result"
)

// StartFunc discovers links and starts a run. It is called off the update
// loop because starting emits events the model itself consumes.
type StartFunc func(ctx context.Context) error

// AbortFunc abandons the active run, if any.
type AbortFunc func() bool

// Options configures a Model.
type Options struct {
	Start  StartFunc
	Abort  AbortFunc
	Events <-chan crawler.RunEvent
	// KeepOpen keeps the UI running after a run finishes so it can be
	// re-run with r or enter.
	KeepOpen bool
	// Marked, when set, returns the links currently marked broken.
	Marked func() []mark.Entry
}

// Model is the Bubble Tea model for the link-check TUI.
type Model struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    Options
	spinner spinner.Model

	starting bool
	running  bool
	runs     int
	total    int
	checked  int
	broken   int
	percent  int
	current  string
	toasts   []string

	quitting bool
	result   *result.Result
	err      error
	width    int
}

// maxToasts bounds the broken-link notices kept on screen.
const maxToasts = 5

// NewModel creates a TUI model. The first run is triggered by Init.
func NewModel(ctx context.Context, cancel context.CancelFunc, opts Options) Model {
	spin := spinner.New()
	spin.Spinner = spinner.Dot
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{
		ctx:      ctx,
		cancel:   cancel,
		opts:     opts,
		spinner:  spin,
		starting: true,
	}
}

// Init starts the spinner, the first run and the event listener.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.trigger(), waitForEvent(m.opts.Events))
}

// trigger returns a tea.Cmd that starts a run.
func (m Model) trigger() tea.Cmd {
	start := m.opts.Start
	ctx := m.ctx
	return func() tea.Msg {
		if start == nil {
			return StartResultMsg{Err: errors.New("no start function configured")}
		}
		return StartResultMsg{Err: start(ctx)}
	}
}

// abort returns a tea.Cmd that abandons the active run.
func (m Model) abort() tea.Cmd {
	abort := m.opts.Abort
	return func() tea.Msg {
		if abort != nil {
			abort()
		}
		return nil
	}
}

// TriggerEnabled reports whether a new run can be started.
func (m Model) TriggerEnabled() bool {
	return !m.starting && !m.running
}

// Update handles messages from the Bubble Tea runtime.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			cmds := []tea.Cmd{tea.Quit}
			if m.running {
				cmds = append([]tea.Cmd{m.abort()}, cmds...)
			}
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Sequence(cmds...)
		case "r", "enter":
			if !m.TriggerEnabled() {
				return m, nil
			}
			m.starting = true
			m.err = nil
			return m, m.trigger()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case StartResultMsg:
		m.starting = false
		if msg.Err != nil && !errors.Is(msg.Err, crawler.ErrRunActive) {
			m.err = msg.Err
			if !m.opts.KeepOpen {
				return m, tea.Quit
			}
		}

	case RunEventMsg:
		return m.applyEvent(msg.Event)

	case eventsClosedMsg:
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) applyEvent(evt crawler.RunEvent) (tea.Model, tea.Cmd) {
	next := waitForEvent(m.opts.Events)

	m.total = evt.Total
	m.checked = evt.Checked
	m.broken = evt.Broken
	m.percent = evt.Percent
	m.running = evt.Running

	switch evt.Kind {
	case crawler.EventStarted:
		m.starting = false
		m.runs++
		m.current = ""
		m.toasts = nil
		m.result = nil
	case crawler.EventResult:
		m.current = evt.Result.URL
		if evt.Result.IsBroken() {
			m.toasts = append(m.toasts, fmt.Sprintf("%s: %s", evt.Result.URL, evt.Result.Error))
			if len(m.toasts) > maxToasts {
				m.toasts = m.toasts[len(m.toasts)-maxToasts:]
			}
		}
	case crawler.EventFinished, crawler.EventAborted:
		m.result = evt.Summary
		m.current = ""
		if !m.opts.KeepOpen {
			return m, tea.Quit
		}
	}
	return m, next
}

// View renders the current TUI state.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil && !m.running {
		return errorStyle.Render("Error: "+m.err.Error()) + "\n" + m.footer()
	}
	if !m.running && m.result != nil {
		return RenderSummary(m.result) + m.markedLine() + m.footer()
	}
	if m.starting && !m.running {
		return fmt.Sprintf("%s Discovering links...\n", m.spinner.View())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Checking... %d%% (%d/%d), broken %d\n",
		m.spinner.View(), m.percent, m.checked, m.total, m.broken)
	b.WriteString(dimStyle.Render("  " + m.current))
	b.WriteString("\n")
	b.WriteString(m.markedLine())
	for _, toast := range m.toasts {
		b.WriteString(toastStyle.Render("  ✗ " + toast))
		b.WriteString("\n")
	}
	b.WriteString(m.footer())
	return b.String()
}

func (m Model) markedLine() string {
	if m.opts.Marked == nil {
		return ""
	}
	entries := m.opts.Marked()
	if len(entries) == 0 {
		return ""
	}
	line := fmt.Sprintf("  %d marked broken (first: %s)", len(entries), entries[0].URL)
	return dimStyle.Render(line) + "\n"
}

func (m Model) footer() string {
	if !m.opts.KeepOpen {
		return ""
	}
	trigger := triggerStyle.Render("[r] re-run")
	if !m.TriggerEnabled() {
		trigger = disabledStyle.Render("[r] re-run (running)")
	}
	return trigger + dimStyle.Render("  [q] quit") + "\n"
}

// HasBrokenLinks reports whether the last run found any broken links.
func (m Model) HasBrokenLinks() bool {
	return m.result != nil && len(m.result.BrokenLinks) > 0
}

// GetResult returns the last run summary for output formatting.
func (m Model) GetResult() *result.Result {
	return m.result
}

// Err returns the error that stopped the last start attempt, if any.
func (m Model) Err() error {
	return m.err
}
