package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nx/nxclaw/internal/bus"
)

const tuiPollInterval = 1 * time.Second

var (
	tuiHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	tuiLabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tuiOKStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	tuiWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	tuiEventStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
)

// tuiTickMsg drives the periodic GetState poll; eventMsg carries a single
// bus event pushed as it arrives on the live subscription.
type tuiTickMsg time.Time
type eventMsg bus.Event

type tuiModel struct {
	a       *app
	events  chan bus.Event
	log     []string
	queue   int
	sessons int
	health  string
	loopOn  bool
	loopMsg string
	busy    bool
	spin    spinner.Model
}

func newTUIModel(a *app) tuiModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = tuiOKStyle
	return tuiModel{a: a, events: make(chan bus.Event, 64), spin: sp}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(tickCmd(), listenEventsCmd(m.events), m.spin.Tick)
}

func tickCmd() tea.Cmd {
	return tea.Tick(tuiPollInterval, func(t time.Time) tea.Msg { return tuiTickMsg(t) })
}

func listenEventsCmd(ch chan bus.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case tuiTickMsg:
		snap := m.a.orchestrator.GetState(true, false)
		m.queue = snap.QueueDepth
		m.sessons = snap.ActiveSessions
		m.busy = m.a.orchestrator.Busy()
		st := m.a.autoloop.Status()
		m.loopOn = st.Enabled
		if st.DisabledReason != "" {
			m.loopMsg = st.DisabledReason
		} else if st.LastSkipReason != "" {
			m.loopMsg = "last skip: " + st.LastSkipReason
		} else {
			m.loopMsg = fmt.Sprintf("%d fired, %d skipped", st.TicksFired, st.TicksSkipped)
		}
		th := m.a.orchestrator.TaskHealth()
		m.health = fmt.Sprintf("queued=%d running=%d done=%d failed=%d", th.Queued, th.Running, th.Completed, th.Failed)
		return m, tickCmd()
	case eventMsg:
		line := fmt.Sprintf("%s  %s", time.UnixMilli(bus.Event(msg).TS).Format("15:04:05"), bus.Event(msg).Type)
		m.log = append(m.log, line)
		if len(m.log) > 12 {
			m.log = m.log[len(m.log)-12:]
		}
		return m, listenEventsCmd(m.events)
	}
	return m, nil
}

func (m tuiModel) View() string {
	var b strings.Builder
	b.WriteString(tuiHeaderStyle.Render(fmt.Sprintf("nxclaw %s — %s", version, m.a.cfg.HomeDir)))
	if m.busy {
		b.WriteString("  " + m.spin.View() + " working")
	}
	b.WriteString("\n\n")

	b.WriteString(tuiLabelStyle.Render("lanes: "))
	b.WriteString(fmt.Sprintf("%d active, %d queued\n", m.sessons, m.queue))

	b.WriteString(tuiLabelStyle.Render("tasks: "))
	b.WriteString(m.health)
	b.WriteString("\n")

	b.WriteString(tuiLabelStyle.Render("autoloop: "))
	if m.loopOn {
		b.WriteString(tuiOKStyle.Render("enabled"))
	} else {
		b.WriteString(tuiWarnStyle.Render("disabled"))
	}
	b.WriteString("  " + m.loopMsg + "\n\n")

	b.WriteString(tuiLabelStyle.Render("recent events:\n"))
	if len(m.log) == 0 {
		b.WriteString(tuiEventStyle.Render("  (none yet)\n"))
	}
	for _, line := range m.log {
		b.WriteString(tuiEventStyle.Render("  " + line))
		b.WriteString("\n")
	}

	b.WriteString("\n" + tuiLabelStyle.Render("q to quit"))
	return b.String()
}

// runTUI renders a live bubbletea console sourced from the same GetState
// call and event bus subscription the HTTP dashboard uses. It blocks until
// ctx is cancelled or the user quits.
func runTUI(ctx context.Context, a *app) error {
	model := newTUIModel(a)
	program := tea.NewProgram(model, tea.WithContext(ctx))

	sub := a.bus.Subscribe("")
	defer a.bus.Unsubscribe(sub)
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(model.events)
				return
			case ev, ok := <-sub.Ch():
				if !ok {
					return
				}
				select {
				case model.events <- ev:
				default:
				}
			}
		}
	}()

	_, err := program.Run()
	return err
}
