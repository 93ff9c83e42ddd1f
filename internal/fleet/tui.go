package fleet

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"paraglider-sim/internal/physics"
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

type statsMsg struct{ Stats }

type logMsg struct{ line string }

var phaseOrder = []physics.FlightPhase{
	physics.PhaseGround,
	physics.PhaseTakeoff,
	physics.PhaseClimbing,
	physics.PhaseThermaling,
	physics.PhaseGliding,
	physics.PhaseLanding,
	physics.PhaseLanded,
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// StatusView renders live fleet statistics in a bubbletea TUI.
type StatusView struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewStatusView starts the TUI program. Quitting the view (q/ctrl+c)
// interrupts the whole run, mirroring ctrl+c on the terminal.
func NewStatusView(devices int) *StatusView {
	v := &StatusView{done: make(chan struct{})}
	v.sendSignal.Store(true)
	p := tea.NewProgram(newStatusModel(devices), tea.WithAltScreen())
	v.program = p
	go func() {
		_, _ = p.Run()
		close(v.done)
		if v.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return v
}

// Update implements StatusSink.
func (v *StatusView) Update(s Stats) {
	v.program.Send(statsMsg{s})
	v.program.Send(logMsg{line: fmt.Sprintf("%s sent=%d failed=%d closed=%d",
		dimStyle.Render(s.Time.Format(time.RFC3339)),
		s.PointsSent, s.PointsFailed, s.FlightsClosed)})
}

// Close implements StatusSink and waits for the program to exit.
func (v *StatusView) Close() error {
	v.sendSignal.Store(false)
	if v.program != nil {
		v.program.Send(tea.Quit())
	}
	if v.done != nil {
		<-v.done
	}
	return nil
}

type statusModel struct {
	devices    int
	table      table.Model
	vp         viewport.Model
	logs       []string
	stats      Stats
	wrap       bool
	autoscroll bool
	height     int
}

func newStatusModel(devices int) statusModel {
	cols := []table.Column{
		{Title: "Phase", Width: 12},
		{Title: "Devices", Width: 8},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(len(phaseOrder)+1))
	return statusModel{
		devices:    devices,
		table:      t,
		vp:         viewport.New(0, 0),
		autoscroll: true,
	}
}

func (m statusModel) Init() tea.Cmd { return nil }

func (m statusModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.height = msg.Height
		m.resize()
		m.refresh()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refresh()
		case "s":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
		case "j", "down":
			m.vp.LineDown(1)
		case "k", "up":
			m.vp.LineUp(1)
		}
	case statsMsg:
		m.stats = msg.Stats
		rows := make([]table.Row, 0, len(phaseOrder))
		for _, phase := range phaseOrder {
			rows = append(rows, table.Row{string(phase), fmt.Sprintf("%d", m.stats.PhaseCounts[phase])})
		}
		m.table.SetRows(rows)
	case logMsg:
		m.logs = append(m.logs, msg.line)
		if len(m.logs) > 500 {
			m.logs = m.logs[len(m.logs)-500:]
		}
		m.refresh()
	}
	return m, nil
}

func (m *statusModel) resize() {
	h := m.height - lipgloss.Height(m.table.View()) - lipgloss.Height(m.renderHeader()) - 4
	if h < 0 {
		h = 0
	}
	m.vp.Height = h
}

func (m *statusModel) refresh() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m statusModel) renderHeader() string {
	s := m.stats
	return headerStyle.Render(fmt.Sprintf("Paraglider fleet: %d devices", m.devices)) +
		fmt.Sprintf("  %s %s %s %s",
			okStyle.Render(fmt.Sprintf("running=%d", s.Running)),
			warnStyle.Render(fmt.Sprintf("degraded=%d", s.Degraded)),
			badStyle.Render(fmt.Sprintf("failed=%d", s.Failed)),
			dimStyle.Render(fmt.Sprintf("points=%d", s.PointsSent)))
}

func (m statusModel) View() string {
	divider := dimStyle.Render(strings.Repeat("─", max(m.vp.Width, 1)))
	sections := []string{
		m.renderHeader(),
		divider,
		m.table.View(),
		divider,
		m.vp.View(),
		dimStyle.Render("q quit · s autoscroll · w wrap"),
	}
	return strings.Join(sections, "\n")
}
