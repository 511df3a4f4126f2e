package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Theme holds the color scheme for the progress display.
type Theme struct {
	Status  lipgloss.Color
	Success lipgloss.Color
	Error   lipgloss.Color
	Hint    lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:  lipgloss.Color("#5FAFD7"), // light blue
	Success: lipgloss.Color("#00D787"), // green
	Error:   lipgloss.Color("#FF005F"), // red
	Hint:    lipgloss.Color("#6C6C6C"), // dim gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// reportFunc receives progress from a running task.
type reportFunc func(done, total int)

// task is a long-running operation. It returns the lines printed on success.
type task func(ctx context.Context, report reportFunc) ([]string, error)

// progressMsg carries a progress update from the task goroutine.
type progressMsg struct {
	done, total int
}

// finishedMsg carries the task outcome.
type finishedMsg struct {
	lines []string
	err   error
}

// progressModel is the bubbletea model for a local task.
type progressModel struct {
	label    string
	unit     string
	cancel   context.CancelFunc
	progress progress.Model
	theme    Theme
	done     int
	total    int
	finished bool
	quitting bool
	lines    []string
	err      error
}

func newProgressModel(label, unit string, cancel context.CancelFunc) progressModel {
	return progressModel{
		label:  label,
		unit:   unit,
		cancel: cancel,
		progress: progress.New(
			progress.WithDefaultBlend(),
			progress.WithWidth(40),
		),
		theme: defaultTheme,
	}
}

// Init returns the initial command.
func (m progressModel) Init() tea.Cmd {
	return m.progress.Init()
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// The task sees the cancellation and reports back via finishedMsg.
			m.quitting = true
			m.cancel()
		}

	case progressMsg:
		m.done, m.total = msg.done, msg.total
		return m, nil

	case finishedMsg:
		m.finished = true
		m.lines = msg.lines
		m.err = msg.err
		return m, tea.Quit

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.finished {
		return finalView(m.theme, m.lines, m.err)
	}

	var pct float64
	if m.total > 0 {
		pct = float64(m.done) / float64(m.total)
	}
	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.label))
	counts := fmt.Sprintf("%d/%d %s", m.done, m.total, m.unit)

	hint := "Press Ctrl+C to cancel"
	if m.quitting {
		hint = "Cancelling..."
	}
	return fmt.Sprintf("%s %s %s\n%s\n", status, m.progress.ViewAs(pct), counts, m.theme.hintStyle().Render(hint))
}

// finalView renders the completion message.
func finalView(theme Theme, lines []string, err error) string {
	if err != nil {
		return theme.errorStyle().Render(fmt.Sprintf("✗ Failed: %s", err)) + "\n"
	}
	var b strings.Builder
	b.WriteString(theme.completedStyle().Render("✓ Completed"))
	b.WriteString("\n")
	if len(lines) > 0 {
		b.WriteString("\n")
	}
	for _, l := range lines {
		b.WriteString("  ")
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}

// runWithProgress runs t with an interactive progress bar when stdout is a
// terminal, and with plain output otherwise.
func runWithProgress(ctx context.Context, label, unit string, t task) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		lines, err := t(ctx, func(done, total int) {
			logger.Debug("progress", "task", label, "done", done, "total", total)
		})
		if err != nil {
			return err
		}
		fmt.Print(finalView(defaultTheme, lines, nil))
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(label, unit, cancel))
	go func() {
		lines, err := t(ctx, func(done, total int) {
			p.Send(progressMsg{done: done, total: total})
		})
		p.Send(finishedMsg{lines: lines, err: err})
	}()

	finalModel, err := p.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}
	if m, ok := finalModel.(progressModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
