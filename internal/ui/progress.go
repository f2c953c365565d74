// Package ui renders batch validation progress in the terminal.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"epubwrap/internal/validator"
)

type state uint8

const (
	stateQueued state = iota
	stateValidating
	stateDone
	stateCached
	stateFailed
	stateInterrupted
)

// Цвета ANSI: 1 красный, 2 зелёный, 6 циан, 7 серый.
var states = [...]struct {
	label string
	color string
	share float64 // contribution to the progress bar
}{
	stateQueued:      {"queued", "7", 0},
	stateValidating:  {"validating", "6", 0.5},
	stateDone:        {"done", "2", 1},
	stateCached:      {"cached", "2", 1},
	stateFailed:      {"failed", "1", 1},
	stateInterrupted: {"interrupted", "1", 1},
}

func (s state) String() string { return states[s].label }
func (s state) final() bool    { return s >= stateDone }
func (s state) bad() bool      { return s >= stateFailed }

const labelWidth = 12

type archiveItem struct {
	path    string
	state   state
	elapsed time.Duration
}

type progressModel struct {
	title   string
	events  <-chan validator.Event
	spinner spinner.Model
	bar     progress.Model
	items   []archiveItem
	width   int
	done    bool
}

type eventMsg validator.Event
type doneMsg struct{}

// NewProgressModel returns a Bubble Tea model showing one line per archive.
// It quits once events is closed.
func NewProgressModel(title string, archives []string, events <-chan validator.Event) tea.Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 76

	items := make([]archiveItem, len(archives))
	for i, path := range archives {
		items[i] = archiveItem{path: path}
	}
	return &progressModel{
		title:   title,
		events:  events,
		spinner: sp,
		bar:     bar,
		items:   items,
		width:   80,
	}
}

func (m *progressModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listenForEvent())
}

func (m *progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case eventMsg:
		return m, tea.Batch(m.applyEvent(validator.Event(msg)), m.listenForEvent())
	case doneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case tea.WindowSizeMsg:
		if msg.Width > 0 {
			m.width = msg.Width
			m.bar.Width = msg.Width - 4
		}
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	case progress.FrameMsg:
		next, cmd := m.bar.Update(msg)
		m.bar = next.(progress.Model)
		return m, cmd
	}
	return m, nil
}

func (m *progressModel) View() string {
	if len(m.items) == 0 {
		return ""
	}
	finished, failed := m.counts()
	header := fmt.Sprintf("%s (%d/%d)", m.title, finished, len(m.items))
	if failed > 0 {
		header += fmt.Sprintf(", %d failed", failed)
	}
	if m.done {
		header = "done: " + header
	} else {
		header = m.spinner.View() + " " + header
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7")).Render(header))
	b.WriteString("\n\n")

	nameWidth := max(m.width-labelWidth-14, 20)
	faint := lipgloss.NewStyle().Faint(true)
	for _, item := range m.items {
		st := states[item.state]
		b.WriteString("  ")
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(st.color)).Render(fmt.Sprintf("%*s", labelWidth, st.label)))
		b.WriteString(" ")
		b.WriteString(truncate(item.path, nameWidth))
		if item.elapsed > 0 {
			b.WriteString(faint.Render(" " + item.elapsed.Round(time.Millisecond).String()))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.done {
		b.WriteString(m.bar.ViewAs(1))
	} else {
		b.WriteString(m.bar.View())
	}
	b.WriteString("\n")
	return b.String()
}

func (m *progressModel) listenForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return doneMsg{}
		}
		return eventMsg(ev)
	}
}

// applyEvent updates the item named by ev.Index. Events for unknown indices
// are dropped.
func (m *progressModel) applyEvent(ev validator.Event) tea.Cmd {
	if ev.Index < 0 || ev.Index >= len(m.items) {
		return nil
	}
	item := &m.items[ev.Index]
	item.state = stateOf(ev)
	item.elapsed = ev.Elapsed

	var total float64
	for _, it := range m.items {
		total += states[it.state].share
	}
	return m.bar.SetPercent(total / float64(len(m.items)))
}

func (m *progressModel) counts() (finished, failed int) {
	for _, it := range m.items {
		if it.state.final() {
			finished++
		}
		if it.state.bad() {
			failed++
		}
	}
	return finished, failed
}

func stateOf(ev validator.Event) state {
	switch ev.Status {
	case validator.StatusValidating:
		return stateValidating
	case validator.StatusDone:
		if ev.Cached {
			return stateCached
		}
		return stateDone
	case validator.StatusFailed:
		if ev.Err != nil {
			return stateInterrupted
		}
		return stateFailed
	}
	return stateQueued
}

// truncate clips value to width terminal cells.
func truncate(value string, width int) string {
	if width <= 0 || runewidth.StringWidth(value) <= width {
		return value
	}
	if width <= 3 {
		return runewidth.Truncate(value, width, "")
	}
	return runewidth.Truncate(value, width-3, "...")
}
