// Package app renders a live view of an extraction run in the terminal.
package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle = lipgloss.NewStyle().Padding(0, 1)
	headerStyle      = lipgloss.NewStyle().Bold(true)
	doneStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
)

// recentLimit is how many finished segments stay on screen.
const recentLimit = 8

type segmentLine struct {
	archive string
	worker  int
	failed  bool
	at      time.Duration
}

// AppModel is the bubbletea model of the progress view.
type AppModel struct {
	Title string
	State AppState

	spinner  spinner.Model
	bar      progress.Model
	start    time.Time
	latest   ProgressMsg
	recent   []segmentLine
	finished FinishedMsg

	termWidth int
}

func NewAppModel(title string) *AppModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &AppModel{
		Title:   title,
		State:   Running,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient()),
		start:   time.Now(),
	}
}

func (m *AppModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.State = Exiting
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.bar.Width = max(0, m.termWidth-4)
	case ProgressMsg:
		// Failures reported since the previous segment are shown against this one.
		failedHere := msg.Failed > m.latest.Failed
		m.latest = msg
		m.recent = append(m.recent, segmentLine{
			archive: msg.Archive,
			worker:  msg.Worker,
			failed:  failedHere,
			at:      time.Since(m.start),
		})
		if len(m.recent) > recentLimit {
			m.recent = m.recent[len(m.recent)-recentLimit:]
		}
	case FinishedMsg:
		m.finished = msg
		m.State = Finished
		return m, tea.Quit
	case spinner.TickMsg:
		if m.State == Running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
	}
	return m, nil
}

// Percent is the share of expected bytes already processed. Runs with no
// bytes fall back to the segment count.
func (m *AppModel) Percent() float64 {
	p := m.latest
	switch {
	case p.TotalBytes > 0:
		return float64(p.Bytes) / float64(p.TotalBytes)
	case p.Expected > 0:
		return float64(p.Done) / float64(p.Expected)
	}
	return 0
}

func (m *AppModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("--- zstash " + m.Title + " ---"))
	b.WriteString("\n\n")

	switch m.State {
	case Running:
		b.WriteString(m.spinner.View() + " ")
		b.WriteString(m.viewCounts())
	case Finished:
		b.WriteString(m.viewFinished())
	case Exiting:
		b.WriteString(infoStyle.Render("Exiting..."))
		return b.String()
	}
	b.WriteString("\n")
	b.WriteString(progressBarStyle.Render(m.bar.ViewAs(m.Percent())))
	b.WriteString("\n\n")

	if len(m.recent) > 0 {
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-24s | %-6s | %s", "Segment", "Worker", "Finished")))
		b.WriteString("\n")
		for _, s := range m.recent {
			status := doneStyle.Render("ok")
			if s.failed {
				status = errorStyle.Render("errors")
			}
			fmt.Fprintf(&b, "%-24s | %-6d | %s %s\n", s.archive, s.worker, s.at.Round(time.Second), status)
		}
	}
	if m.State == Running {
		b.WriteString("\n")
		b.WriteString(infoStyle.Render("Extraction running... 'q' or Ctrl+C to stop watching."))
	}
	return b.String()
}

func (m *AppModel) viewCounts() string {
	p := m.latest
	line := fmt.Sprintf("Segments %d/%d  %s/%s",
		p.Done, p.Expected, humanize.Bytes(uint64(p.Bytes)), humanize.Bytes(uint64(p.TotalBytes)))
	if p.Failed > 0 {
		line += errorStyle.Render(fmt.Sprintf("  %d failed", p.Failed))
	}
	return line
}

func (m *AppModel) viewFinished() string {
	f := m.finished
	elapsed := f.Elapsed.Round(time.Millisecond)
	switch {
	case f.Err != nil:
		return errorStyle.Render(fmt.Sprintf("Run aborted after %s: %v", elapsed, f.Err))
	case f.Failures > 0:
		return errorStyle.Render(fmt.Sprintf("Finished in %s with %d failed files.", elapsed, f.Failures))
	}
	return doneStyle.Render(fmt.Sprintf("Finished in %s, all files verified.", elapsed))
}
