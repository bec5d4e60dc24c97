// Package eventsui provides the Bubble Tea event browser.
package eventsui

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/verte-zerg/blockcap/internal/listing"
	"github.com/verte-zerg/blockcap/internal/model"
	"github.com/verte-zerg/blockcap/internal/plot"
	"github.com/verte-zerg/blockcap/internal/sink"
)

const (
	tabEvents = iota
	tabWaveform
)

const plotHeight = 14

var (
	activeNavStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F0F0F0")).
			Bold(true).
			Padding(0, 1).
			Border(lipgloss.RoundedBorder(), true).
			BorderForeground(lipgloss.Color("#C89A3A"))
	inactiveNavStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#B0B0B0")).
				Padding(0, 1).
				Border(lipgloss.RoundedBorder(), true).
				BorderForeground(lipgloss.Color("#4A4A4A"))
	headerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	tableMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
)

// EventSource lists indexed events.
type EventSource interface {
	ListEvents(ctx context.Context, filter model.EventFilter) ([]model.EventEntry, error)
}

// Model implements the Bubble Tea event browser.
type Model struct {
	source EventSource
	filter model.EventFilter
	read   func(path string) ([]model.Row, error)

	events   []model.EventEntry
	errMsg   string
	table    table.Model
	waveform viewport.Model
	shown    string

	tabs      []string
	activeTab int

	width  int
	height int

	filterMode  bool
	filterInput textinput.Model
}

// NewModel constructs the browser and loads the first page of events.
func NewModel(src EventSource, filter model.EventFilter) *Model {
	m := &Model{
		source:   src,
		filter:   filter,
		read:     sink.ReadArtifact,
		tabs:     []string{"Events", "Waveform"},
		waveform: viewport.New(0, 0),
	}
	m.filterInput = textinput.New()
	m.filterInput.Prompt = "Outcome: "
	m.filterInput.Placeholder = "persisted | capture_failed | persist_failed"
	m.filterInput.Cursor.SetMode(cursor.CursorBlink)
	m.table = table.New(
		table.WithColumns(columnsFor(80)),
		table.WithFocused(true),
		table.WithHeight(1),
	)
	m.table.SetStyles(tableStyles())
	m.waveform.SetContent("Select a persisted event and press enter.")
	m.refresh()
	return m
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.updateLayout()
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		if m.filterMode {
			return m.updateFilter(msg)
		}
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "left", "h":
			m.activeTab = tabEvents
			return m, nil
		case "right", "l":
			m.activeTab = tabWaveform
			return m, nil
		case "esc":
			m.activeTab = tabEvents
			return m, nil
		case "r":
			m.refresh()
			return m, nil
		case "/":
			m.filterMode = true
			m.filterInput.SetValue(string(m.filter.Outcome))
			return m, m.filterInput.Focus()
		case "enter":
			if m.activeTab == tabEvents {
				m.openSelected()
			}
			return m, nil
		}
		if m.activeTab == tabEvents {
			var cmd tea.Cmd
			m.table, cmd = m.table.Update(msg)
			return m, cmd
		}
		var cmd tea.Cmd
		m.waveform, cmd = m.waveform.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}
	headerHeight, bodyHeight, footerHeight := m.layoutHeights()
	header := fitLines(m.renderHeader(), m.width, headerHeight)
	body := fitLines(m.renderBody(), m.width, bodyHeight)
	footer := fitLines(m.renderFooter(), m.width, footerHeight)
	return strings.Join([]string{header, body, footer}, "\n")
}

func (m *Model) refresh() {
	events, err := m.source.ListEvents(context.Background(), m.filter)
	if err != nil {
		m.errMsg = fmt.Sprintf("failed to load events: %v", err)
		return
	}
	m.errMsg = ""
	m.events = events
	rows := make([]table.Row, len(events))
	for i, cells := range listing.Rows(events) {
		rows[i] = table.Row(cells)
	}
	m.table.SetRows(rows)
	m.table.GotoBottom()
}

func (m *Model) openSelected() {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.events) {
		return
	}
	e := m.events[idx]
	if e.Outcome != model.OutcomePersisted || e.ArtifactPath == "" {
		m.errMsg = fmt.Sprintf("event %d has no artifact (%s)", e.ID, e.Outcome)
		return
	}
	rows, err := m.read(e.ArtifactPath)
	if err != nil {
		m.errMsg = err.Error()
		return
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	var buf bytes.Buffer
	title := fmt.Sprintf("%s  %d samples  overflow A=%t B=%t", filepath.Base(e.ArtifactPath), len(rows), e.OverflowA, e.OverflowB)
	if err := plot.Waveform(&buf, title, rows, plot.Options{Width: plot.PlotWidthFor(width), Height: plotHeight, ForceColor: true}); err != nil {
		m.errMsg = err.Error()
		return
	}
	m.errMsg = ""
	m.shown = e.ArtifactPath
	m.waveform.SetContent(strings.TrimRight(buf.String(), "\n"))
	m.waveform.GotoTop()
	m.activeTab = tabWaveform
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.filterMode = false
		m.filterInput.Blur()
		return m, nil
	case tea.KeyEnter:
		outcome, err := listing.ParseOutcome(m.filterInput.Value())
		if err != nil {
			m.errMsg = err.Error()
			return m, nil
		}
		m.filter.Outcome = outcome
		m.filterMode = false
		m.filterInput.Blur()
		m.refresh()
		return m, nil
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	return m, cmd
}

func (m *Model) layoutHeights() (headerHeight, bodyHeight, footerHeight int) {
	tabsHeight := lipgloss.Height(activeNavStyle.Render("X"))
	headerHeight = tabsHeight + 1
	footerHeight = 1
	if m.errMsg != "" {
		footerHeight++
	}
	bodyHeight = m.height - headerHeight - footerHeight
	if bodyHeight < 1 {
		bodyHeight = 1
	}
	return headerHeight, bodyHeight, footerHeight
}

func (m *Model) updateLayout() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	_, bodyHeight, _ := m.layoutHeights()
	m.table.SetColumns(columnsFor(m.width))
	m.table.SetWidth(m.width)
	// The header row and its border take two lines.
	m.table.SetHeight(maxInt(1, bodyHeight-2))
	m.waveform.Width = m.width
	m.waveform.Height = bodyHeight
	m.filterInput.Width = maxInt(10, m.width-lipgloss.Width(m.filterInput.Prompt)-2)
}

func (m *Model) renderHeader() string {
	parts := make([]string, 0, len(m.tabs))
	for i, tab := range m.tabs {
		if i == m.activeTab {
			parts = append(parts, activeNavStyle.Render(tab))
		} else {
			parts = append(parts, inactiveNavStyle.Render(tab))
		}
	}
	tabs := lipgloss.JoinHorizontal(lipgloss.Top, parts...)
	outcome := string(m.filter.Outcome)
	if outcome == "" {
		outcome = "any"
	}
	summary := fmt.Sprintf("Filter: outcome=%s  %s", outcome, listing.Summarize(m.events))
	return tabs + "\n" + headerStyle.Render(listing.Truncate(summary, m.width))
}

func (m *Model) renderBody() string {
	if m.filterMode {
		return "Filter events (enter to apply, esc to cancel)\n" + m.filterInput.View()
	}
	if m.activeTab == tabWaveform {
		return m.waveform.View()
	}
	if len(m.events) == 0 {
		return "No events recorded."
	}
	return tableMutedStyle.Render(m.table.View())
}

func (m *Model) renderFooter() string {
	help := "Move: up/down  Plot: enter  Tabs: left/right  Filter: /  Reload: r  Quit: q"
	if m.activeTab == tabWaveform {
		help = "Scroll: up/down/pgup/pgdn  Back: esc  Quit: q"
	}
	footer := headerStyle.Render(help)
	if m.errMsg != "" {
		footer += "\n" + errorStyle.Render(m.errMsg)
	}
	return footer
}

func columnsFor(width int) []table.Column {
	cols := []table.Column{
		{Title: listing.Headers[0], Width: 5},
		{Title: listing.Headers[1], Width: 19},
		{Title: listing.Headers[2], Width: 14},
		{Title: listing.Headers[3], Width: 8},
		{Title: listing.Headers[4], Width: 8},
		{Title: listing.Headers[5], Width: 4},
	}
	used := 0
	for _, c := range cols {
		// Cells carry one column of right padding.
		used += c.Width + 1
	}
	return append(cols, table.Column{Title: listing.Headers[6], Width: maxInt(10, width-used-1)})
}

func tableStyles() table.Styles {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(lipgloss.Color("#4A4A4A")).
		Foreground(lipgloss.Color("#C0C0C0")).
		Bold(true).
		Padding(0, 1).
		PaddingLeft(0)
	styles.Cell = styles.Cell.
		Padding(0, 1).
		PaddingLeft(0)
	styles.Selected = styles.Cell.
		Foreground(lipgloss.Color("#F0F0F0")).
		Bold(true)
	return styles
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func fitLines(s string, width, height int) string {
	if width <= 0 || height <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if w := lipgloss.Width(line); w < width {
			lines[i] = line + strings.Repeat(" ", width-w)
		}
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	for len(lines) < height {
		lines = append(lines, strings.Repeat(" ", width))
	}
	return strings.Join(lines, "\n")
}
