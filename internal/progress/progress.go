// Package progress drives a small bubbletea program that renders
// live download/upload progress to the terminal: one bar per file in
// flight plus a scrolling log of completed transfers.
package progress

import (
	"fmt"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	nameStyle = lipgloss.NewStyle().Bold(true).Width(28)
	doneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// FileProgressMsg reports fractional progress (0..1) for one named
// transfer. Send FileDoneMsg once it completes.
type FileProgressMsg struct {
	Name     string
	Fraction float64
}

// FileDoneMsg moves a transfer out of the active bars and into the
// completed log.
type FileDoneMsg struct {
	Name string
	Err  error
}

// QuitMsg ends the program once the whole sync is done.
type QuitMsg struct{}

type completedEntry struct {
	name string
	err  error
}

type model struct {
	bars      map[string]progress.Model
	order     []string
	completed []completedEntry
}

func newModel() model {
	return model{bars: make(map[string]progress.Model)}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case FileProgressMsg:
		bar, ok := m.bars[msg.Name]
		if !ok {
			bar = progress.New(progress.WithDefaultGradient())
			m.order = append(m.order, msg.Name)
		}
		m.bars[msg.Name] = bar
		return m, bar.SetPercent(clamp(msg.Fraction))

	case FileDoneMsg:
		delete(m.bars, msg.Name)
		m.order = removeName(m.order, msg.Name)
		m.completed = append(m.completed, completedEntry{name: msg.Name, err: msg.Err})
		return m, nil

	case QuitMsg:
		return m, tea.Quit

	case progress.FrameMsg:
		cmds := make([]tea.Cmd, 0, len(m.bars))
		for name, bar := range m.bars {
			updated, cmd := bar.Update(msg)
			if pm, ok := updated.(progress.Model); ok {
				m.bars[name] = pm
			}
			if cmd != nil {
				cmds = append(cmds, cmd)
			}
		}
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	out := ""
	for _, name := range m.order {
		bar := m.bars[name]
		out += fmt.Sprintf("%s %s\n", nameStyle.Render(name), bar.View())
	}
	for _, c := range m.completed {
		if c.err != nil {
			out += failStyle.Render(fmt.Sprintf("✗ %s: %v\n", c.name, c.err))
		} else {
			out += doneStyle.Render(fmt.Sprintf("✓ %s\n", c.name))
		}
	}
	return out
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func removeName(order []string, name string) []string {
	out := order[:0]
	for _, n := range order {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}

// Program wraps a running bubbletea program and exposes the two
// message sends the sync orchestrator needs: progress updates and
// completion.
type Program struct {
	tea *tea.Program
}

// Start launches the TUI in the background; call Send to feed it
// progress and Quit to end it.
func Start() *Program {
	p := tea.NewProgram(newModel())
	go func() {
		_, _ = p.Run()
	}()
	return &Program{tea: p}
}

func (p *Program) Report(name string, fraction float64) {
	p.tea.Send(FileProgressMsg{Name: name, Fraction: fraction})
}

func (p *Program) Done(name string, err error) {
	p.tea.Send(FileDoneMsg{Name: name, Err: err})
}

func (p *Program) Quit() {
	p.tea.Send(QuitMsg{})
}
