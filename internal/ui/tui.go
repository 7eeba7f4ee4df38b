package ui

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/CZERTAINLY/Mutiny/internal/model"
)

type resultMsg model.Result

type finishedMsg struct{}

// TUI draws a progress bar with per-status counters.
type TUI struct {
	output  io.Writer
	program *tea.Program
	stopped chan struct{}
	once    sync.Once
}

func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output, stopped: make(chan struct{})}
}

func (t *TUI) Start(total int) error {
	t.program = tea.NewProgram(
		newProgressModel(total),
		tea.WithOutput(t.output),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	go func() {
		defer close(t.stopped)
		_, _ = t.program.Run()
	}()
	return nil
}

func (t *TUI) Accept(r model.Result) {
	if t.program != nil {
		t.program.Send(resultMsg(r))
	}
}

// Close renders the final state and waits for the program to exit.
func (t *TUI) Close() {
	t.once.Do(func() {
		if t.program == nil {
			return
		}
		t.program.Send(finishedMsg{})
		<-t.stopped
	})
}

var (
	titleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true).Padding(1, 0, 0, 2)
	textStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Padding(0, 0, 0, 2)
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	barStyle    = lipgloss.NewStyle().Padding(1, 2)

	statusColors = map[model.DetectionStatus]lipgloss.Color{
		model.DetectionKilled:      lipgloss.Color("2"),
		model.DetectionSurvived:    lipgloss.Color("1"),
		model.DetectionTimedOut:    lipgloss.Color("3"),
		model.DetectionMemoryError: lipgloss.Color("3"),
		model.DetectionRunError:    lipgloss.Color("8"),
	}
)

type progressModel struct {
	bar      progress.Model
	total    int
	done     int
	counts   map[model.DetectionStatus]int
	last     string
	finished bool
}

func newProgressModel(total int) progressModel {
	return progressModel{
		bar: progress.New(
			progress.WithDefaultGradient(),
			progress.WithWidth(40),
		),
		total:  total,
		counts: make(map[model.DetectionStatus]int),
	}
}

func (m progressModel) Init() tea.Cmd {
	return nil
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(msg.Width-4, 80))
	case resultMsg:
		m.done++
		m.counts[msg.Status]++
		m.last = fmt.Sprintf("%s %s", msg.Status, msg.Unit.ID)
	case finishedMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) percent() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.done) / float64(m.total)
}

func (m progressModel) View() string {
	counters := ""
	for _, status := range Statuses {
		style := lipgloss.NewStyle().Foreground(statusColors[status])
		counters += fmt.Sprintf("%s %s  ", style.Render(string(status)), accentStyle.Render(fmt.Sprint(m.counts[status])))
	}

	lines := []string{
		titleStyle.Render("Mutiny mutation analysis"),
		textStyle.Render(fmt.Sprintf("Progress: %s / %s",
			accentStyle.Render(fmt.Sprint(m.done)),
			accentStyle.Render(fmt.Sprint(m.total)))),
		barStyle.Render(m.bar.ViewAs(m.percent())),
		textStyle.Render(counters),
	}
	if m.last != "" && !m.finished {
		lines = append(lines, textStyle.Render("Last: "+m.last))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}
