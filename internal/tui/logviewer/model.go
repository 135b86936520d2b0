// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     logviewer
// Description: Bubbletea model that follows the chatterbox-ui log file
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package logviewer

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// LevelFilter tracks which log levels are enabled
type LevelFilter struct {
	Debug bool
	Info  bool
	Warn  bool
	Error bool
}

func allLevels() LevelFilter {
	return LevelFilter{Debug: true, Info: true, Warn: true, Error: true}
}

// Model is the Bubbletea model for the log viewer
type Model struct {
	// State
	width      int
	height     int
	ready      bool
	loading    bool
	paused     bool
	fileOK     bool
	autoScroll bool
	showFields bool
	err        error

	// Components
	viewport viewport.Model
	spinner  spinner.Model

	// Log state
	allLogs         []LogEntry
	filteredLogs    []LogEntry
	levelFilter     LevelFilter
	componentFilter string
	searchFilter    string
	fileSize        int64

	// Configuration
	path        string
	maxLogCount int
	interval    time.Duration
	version     string
}

// Config holds log viewer configuration
type Config struct {
	Path        string
	MaxLogCount int
	Interval    time.Duration
	Component   string // only show entries whose component contains this
	Search      string // only show entries whose message contains this
	Version     string
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Path:        "chatterbox-ui.log",
		MaxLogCount: 1000,
		Interval:    2 * time.Second,
	}
}

// New creates a new log viewer model
func New(cfg Config) Model {
	def := DefaultConfig()
	if cfg.Path == "" {
		cfg.Path = def.Path
	}
	if cfg.MaxLogCount <= 0 {
		cfg.MaxLogCount = def.MaxLogCount
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(ColorPrimary)

	return Model{
		spinner:         sp,
		loading:         true,
		levelFilter:     allLevels(),
		autoScroll:      true,
		componentFilter: cfg.Component,
		searchFilter:    cfg.Search,
		path:            cfg.Path,
		maxLogCount:     cfg.MaxLogCount,
		interval:        cfg.Interval,
		version:         cfg.Version,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.loadLogs,
		m.tick(),
	)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		headerHeight := 4 // Title + filter bar
		footerHeight := 4 // Status bar + help
		viewportHeight := msg.Height - headerHeight - footerHeight
		if viewportHeight < 1 {
			viewportHeight = 1
		}

		if !m.ready {
			m.viewport = viewport.New(msg.Width-4, viewportHeight)
			m.viewport.YPosition = headerHeight
			m.ready = true
		} else {
			m.viewport.Width = msg.Width - 4
			m.viewport.Height = viewportHeight
		}
		m.updateViewportContent()

	case spinner.TickMsg:
		if m.loading {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case logsLoadedMsg:
		m.loading = false
		m.err = msg.err
		m.fileOK = msg.err == nil
		if msg.err == nil {
			m.allLogs = msg.entries
			m.fileSize = msg.size
			m.applyFilters()
			m.updateViewportContent()
			if m.autoScroll {
				m.viewport.GotoBottom()
			}
		}

	case tickMsg:
		if !m.paused {
			cmds = append(cmds, m.loadLogs)
		}
		cmds = append(cmds, m.tick())
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// handleKeyPress handles keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC, tea.KeyEsc:
		return m, tea.Quit

	case tea.KeyRunes:
		switch string(msg.Runes) {
		case "q":
			return m, tea.Quit

		// Log level filters
		case "1":
			m.levelFilter.Debug = !m.levelFilter.Debug
		case "2":
			m.levelFilter.Info = !m.levelFilter.Info
		case "3":
			m.levelFilter.Warn = !m.levelFilter.Warn
		case "4":
			m.levelFilter.Error = !m.levelFilter.Error
		case "0":
			m.levelFilter = allLevels()

		case "f":
			m.showFields = !m.showFields

		case "p", " ":
			m.paused = !m.paused
			return m, nil

		case "r":
			m.loading = true
			return m, tea.Batch(m.spinner.Tick, m.loadLogs)

		case "a":
			m.autoScroll = !m.autoScroll
			if m.autoScroll {
				m.viewport.GotoBottom()
			}
			return m, nil

		case "g":
			m.viewport.GotoTop()
			m.autoScroll = false
			return m, nil

		case "G":
			m.viewport.GotoBottom()
			m.autoScroll = true
			return m, nil

		default:
			return m, nil
		}
		m.applyFilters()
		m.updateViewportContent()
		return m, nil

	case tea.KeyPgUp:
		m.viewport.ViewUp()
		m.autoScroll = false
		return m, nil

	case tea.KeyPgDown:
		m.viewport.ViewDown()
		return m, nil

	case tea.KeyUp:
		m.viewport.LineUp(1)
		m.autoScroll = false
		return m, nil

	case tea.KeyDown:
		m.viewport.LineDown(1)
		return m, nil
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if !m.ready {
		return "Lade Log Viewer..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderFilterBar())
	b.WriteString("\n")
	b.WriteString(m.renderLogArea())
	b.WriteString("\n")
	b.WriteString(m.renderStatusBar())
	b.WriteString("\n")
	b.WriteString(m.renderHelpBar())
	return b.String()
}

func (m Model) renderHeader() string {
	logo := LogoStyle.Render(Logo)

	var status string
	if m.fileOK {
		status = StatusOnlineStyle.Render(m.path)
	} else {
		status = StatusOfflineStyle.Render(m.path + " nicht lesbar")
	}

	pauseStatus := ""
	if m.paused {
		pauseStatus = "  " + StatusPausedStyle.Render("PAUSIERT")
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		logo,
		strings.Repeat(" ", 3),
		status,
		pauseStatus,
	)
	return TitlePanelStyle.Width(m.width - 4).Render(header)
}

func (m Model) renderFilterBar() string {
	filters := []string{
		fmt.Sprintf("1:%s", RenderFilterStatus("DEBUG", m.levelFilter.Debug)),
		fmt.Sprintf("2:%s", RenderFilterStatus("INFO", m.levelFilter.Info)),
		fmt.Sprintf("3:%s", RenderFilterStatus("WARN", m.levelFilter.Warn)),
		fmt.Sprintf("4:%s", RenderFilterStatus("ERROR", m.levelFilter.Error)),
	}

	content := strings.Join(filters, "  ") + "  " +
		HelpDescStyle.Render(fmt.Sprintf("[%d/%d Logs]", len(m.filteredLogs), len(m.allLogs)))
	if m.componentFilter != "" {
		content += "  " + FilterActiveStyle.Render("Komponente: "+m.componentFilter)
	}
	if m.searchFilter != "" {
		content += "  " + FilterActiveStyle.Render("Suche: "+m.searchFilter)
	}
	if m.autoScroll {
		content += "  " + FilterActiveStyle.Render("[Auto-Scroll]")
	}

	return FilterBarStyle.Width(m.width - 2).Render(content)
}

func (m Model) renderLogArea() string {
	style := LogPanelStyle.Width(m.width - 2).Height(m.viewport.Height + 2)
	return style.Render(m.viewport.View())
}

func (m Model) renderStatusBar() string {
	leftPart := HelpDescStyle.Render(fmt.Sprintf("%s  %s", m.path, formatSize(m.fileSize)))
	centerPart := ""
	if m.version != "" {
		centerPart = HelpDescStyle.Render("v" + m.version)
	}

	var rightPart string
	switch {
	case m.loading:
		rightPart = m.spinner.View() + " Lade..."
	case m.err != nil:
		rightPart = StatusOfflineStyle.Render(m.err.Error())
	default:
		rightPart = StatusOnlineStyle.Render(fmt.Sprintf("alle %s", m.interval))
	}

	leftLen := lipgloss.Width(leftPart)
	centerLen := lipgloss.Width(centerPart)
	rightLen := lipgloss.Width(rightPart)
	availableSpace := m.width - leftLen - centerLen - rightLen - 4
	if availableSpace < 2 {
		availableSpace = 2
	}
	leftPadding := availableSpace / 2
	rightPadding := availableSpace - leftPadding

	content := leftPart + strings.Repeat(" ", leftPadding) + centerPart + strings.Repeat(" ", rightPadding) + rightPart
	return StatusBarStyle.Width(m.width - 2).Render(content)
}

func (m Model) renderHelpBar() string {
	items := []string{
		RenderKeyHint("1-4", "Level"),
		RenderKeyHint("0", "Alle"),
		RenderKeyHint("f", "Felder"),
		RenderKeyHint("p", "Pause"),
		RenderKeyHint("r", "Neu laden"),
		RenderKeyHint("a", "AutoScroll"),
		RenderKeyHint("g/G", "Anfang/Ende"),
		RenderKeyHint("q", "Beenden"),
	}
	return HelpStyle.Render(strings.Join(items, "  "))
}

func (m *Model) updateViewportContent() {
	var content strings.Builder
	for _, e := range m.filteredLogs {
		content.WriteString(m.renderEntry(e))
		content.WriteString("\n")
	}
	m.viewport.SetContent(content.String())
}

func (m Model) renderEntry(e LogEntry) string {
	if e.Level == LevelSession {
		label := fmt.Sprintf("── %s %s ──", e.Message, e.Timestamp.Format(time.DateTime))
		return SessionStyle.Render(label)
	}

	timeStr := LogTimestampStyle.Render(e.Timestamp.Format("15:04:05"))
	componentStr := LogComponentStyle.Render(fmt.Sprintf("[%-12s]", truncateString(e.Component, 12)))
	line := fmt.Sprintf("%s %s %s %s", timeStr, RenderLevelBadge(e.Level), componentStr, LogMessageStyle.Render(e.Message))
	if m.showFields {
		if f := formatFields(e.Fields); f != "" {
			line += " " + LogFieldsStyle.Render(f)
		}
	}
	return line
}

// applyFilters filters logs based on current filter settings
func (m *Model) applyFilters() {
	m.filteredLogs = make([]LogEntry, 0, len(m.allLogs))

	for _, e := range m.allLogs {
		if !m.levelFilter.allows(e.Level) {
			continue
		}
		if e.Level != LevelSession {
			if m.componentFilter != "" && !strings.Contains(strings.ToLower(e.Component), strings.ToLower(m.componentFilter)) {
				continue
			}
			if m.searchFilter != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(m.searchFilter)) {
				continue
			}
		}
		m.filteredLogs = append(m.filteredLogs, e)
	}
}

func (f LevelFilter) allows(level string) bool {
	switch level {
	case LevelDebug:
		return f.Debug
	case LevelInfo:
		return f.Info
	case LevelWarn:
		return f.Warn
	case LevelError:
		return f.Error
	default:
		return true
	}
}

// loadLogs reads the tail of the log file
func (m Model) loadLogs() tea.Msg {
	entries, size, err := ReadTail(m.path, m.maxLogCount)
	return logsLoadedMsg{entries: entries, size: size, err: err}
}

// Visible returns the entries that pass the current filters
func (m Model) Visible() []LogEntry {
	return m.filteredLogs
}

func truncateString(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "~"
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// Run starts the log viewer TUI
func Run(cfg Config) error {
	p := tea.NewProgram(New(cfg), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
