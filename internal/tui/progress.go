package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lepinkainen/bookstock/internal/batch"
)

const refreshInterval = 200 * time.Millisecond

// BatchJob is the part of a batch job the progress view drives.
type BatchJob interface {
	Progress() batch.Progress
	State() batch.State
	Pause()
	Resume()
	Cancel()
	Done() <-chan struct{}
}

type tickMsg time.Time

type doneMsg struct{}

type progressModel struct {
	title     string
	job       BatchJob
	bar       progress.Model
	snapshot  batch.Progress
	state     batch.State
	paused    bool
	cancelled bool
	done      bool
}

func newProgressModel(title string, job BatchJob) *progressModel {
	return &progressModel{
		title:    title,
		job:      job,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(defaultListWidth-12)),
		snapshot: job.Progress(),
		state:    job.State(),
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(tick(), waitDone(m.job))
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitDone(job BatchJob) tea.Cmd {
	return func() tea.Msg {
		<-job.Done()
		return doneMsg{}
	}
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "p", " ":
			if m.cancelled {
				return m, nil
			}
			if m.paused {
				m.job.Resume()
			} else {
				m.job.Pause()
			}
			m.paused = !m.paused
		case "c", "q", "ctrl+c", "esc":
			m.job.Cancel()
			m.cancelled = true
		}
	case tickMsg:
		m.refresh()
		return m, tick()
	case doneMsg:
		m.refresh()
		m.done = true
		return m, tea.Quit
	case tea.WindowSizeMsg:
		m.bar.Width = clamp(defaultListWidth-12, msg.Width-12, 20)
	}
	return m, nil
}

func (m *progressModel) refresh() {
	m.snapshot = m.job.Progress()
	m.state = m.job.State()
}

func (m *progressModel) percent() float64 {
	if m.snapshot.Total == 0 {
		return 1
	}
	return float64(m.snapshot.Current) / float64(m.snapshot.Total)
}

func (m *progressModel) status() string {
	switch {
	case m.done:
		return m.state.String()
	case m.cancelled:
		return "cancelling, waiting for running refreshes"
	case m.paused && m.state == batch.StatePaused:
		return "paused"
	case m.paused:
		return "pausing after this batch"
	}
	return m.state.String()
}

func (m *progressModel) View() string {
	header := headerStyle.Render(m.title)
	bar := m.bar.ViewAs(m.percent())

	counts := fmt.Sprintf("%d/%d books", m.snapshot.Current, m.snapshot.Total)
	if n := len(m.snapshot.Failed); n > 0 {
		counts += failedStyle.Render(fmt.Sprintf("  %d failed", n))
	}
	if m.snapshot.Skipped > 0 {
		counts += fmt.Sprintf("  %d skipped", m.snapshot.Skipped)
	}

	lines := []string{header, bar, counts, statusStyle.Render(m.status())}
	if !m.done {
		lines = append(lines, helpStyle.Render("p pause/resume | c cancel"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"
}

var (
	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("161")).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			MarginTop(1).
			Foreground(lipgloss.Color("110"))
)

// RunBatch shows a progress bar for job until it ends. The keys pause,
// resume and cancel the job.
func RunBatch(title string, job BatchJob) error {
	if strings.TrimSpace(title) == "" {
		title = "Refreshing stock"
	}
	if _, err := runProgram(newProgressModel(title, job)); err != nil {
		return fmt.Errorf("running progress view: %w", err)
	}
	return nil
}
