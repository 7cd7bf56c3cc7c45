package monitor

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ppiankov/spool/internal/ringfile"
)

// Inspector reads the committed header of a queue file.
type Inspector func(path string) (ringfile.Header, error)

// Model is the bubbletea model for the queue dashboard.
type Model struct {
	path    string
	inspect Inspector
	history *History

	prev Sample
	curr Sample
	rate float64 // records/sec, negative while draining
	err  error

	paused bool

	width  int
	height int

	quitting bool
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// NewModel creates a dashboard for the queue file at path.
// A nil inspect reads the file with ringfile.Inspect.
func NewModel(path string, inspect Inspector) Model {
	if inspect == nil {
		inspect = ringfile.Inspect
	}
	return Model{
		path:    path,
		inspect: inspect,
		history: NewHistory(0),
		width:   80,
		height:  24,
	}
}

// Init starts the tick timer.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		if m.paused {
			return m, tickCmd()
		}
		m.sample(time.Time(msg))
		return m, tickCmd()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "p", " ":
			m.paused = !m.paused
		}
	}

	return m, nil
}

func (m *Model) sample(now time.Time) {
	h, err := m.inspect(m.path)
	if err != nil {
		m.err = err
		return
	}
	m.err = nil

	s := Sample{
		At:         now,
		Count:      h.Count,
		UsedBytes:  h.UsedBytes(),
		FileLength: h.FileLength,
	}
	m.prev = m.curr
	m.curr = s
	if !m.prev.At.IsZero() {
		if elapsed := s.At.Sub(m.prev.At).Seconds(); elapsed > 0 {
			m.rate = float64(s.Count-m.prev.Count) / elapsed
		}
	}
	m.history.Push(s)
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("spool watch | %s", m.path)))
	b.WriteString("\n\n")

	b.WriteString(labelStyle.Render(" Records:      "))
	b.WriteString(fmt.Sprintf("%d\n", m.curr.Count))
	b.WriteString(labelStyle.Render(" Used:         "))
	b.WriteString(fmt.Sprintf("%s / %s (%.0f%%)\n", FormatBytes(m.curr.UsedBytes), FormatBytes(m.curr.FileLength), fill(m.curr)))
	b.WriteString(labelStyle.Render(" Rate:         "))
	b.WriteString(formatTrend(m.rate))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(" History:      "))
	b.WriteString(Sparkline(m.counts(), m.width-16))
	b.WriteString("\n")

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(" " + m.err.Error()))
		b.WriteString("\n")
	}

	if m.paused {
		b.WriteString("\n")
		b.WriteString(pausedBadge.Render("PAUSED"))
	}
	return b.String()
}

func (m Model) counts() []int64 {
	snap := m.history.Snapshot()
	out := make([]int64, len(snap))
	for i, s := range snap {
		out[i] = s.Count
	}
	return out
}

// Run starts the dashboard in the alternate screen and blocks until the user quits.
func Run(path string) error {
	p := tea.NewProgram(NewModel(path, nil), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI: %w", err)
	}
	return nil
}

// styles
var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	labelStyle  = lipgloss.NewStyle().Faint(true)
	growStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	drainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	pausedBadge = lipgloss.NewStyle().Background(lipgloss.Color("226")).Foreground(lipgloss.Color("0")).Padding(0, 1)
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width values scaled between their min and max.
func Sparkline(values []int64, width int) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) * int64(len(sparkBlocks)-1) / (hi - lo))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

func fill(s Sample) float64 {
	if s.FileLength <= 0 {
		return 0
	}
	return float64(s.UsedBytes) * 100 / float64(s.FileLength)
}

func formatTrend(r float64) string {
	switch {
	case r > 0:
		return growStyle.Render(fmt.Sprintf("+%s/s growing", formatRate(r)))
	case r < 0:
		return drainStyle.Render(fmt.Sprintf("-%s/s draining", formatRate(-r)))
	default:
		return "steady"
	}
}

func formatRate(r float64) string {
	switch {
	case r >= 1_000_000:
		return fmt.Sprintf("%.1fM", r/1_000_000)
	case r >= 1_000:
		return fmt.Sprintf("%.1fK", r/1_000)
	default:
		return fmt.Sprintf("%.0f", r)
	}
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(b int64) string {
	switch {
	case b >= 1<<40:
		return fmt.Sprintf("%.1f TB", float64(b)/(1<<40))
	case b >= 1<<30:
		return fmt.Sprintf("%.1f GB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
