package logviewer

import (
	"github.com/charmbracelet/lipgloss"
)

// Color palette, shared with the recorder TUI
var (
	ColorPrimary   = lipgloss.Color("#8B5CF6") // Violet
	ColorSecondary = lipgloss.Color("#06B6D4") // Cyan
	ColorSuccess   = lipgloss.Color("#10B981") // Emerald
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber
	ColorError     = lipgloss.Color("#EF4444") // Red
	ColorDimmed    = lipgloss.Color("#374151") // Dark Gray

	ColorBgPanel = lipgloss.Color("#1E293B") // Slate 800

	ColorText      = lipgloss.Color("#F8FAFC") // Slate 50
	ColorTextMuted = lipgloss.Color("#94A3B8") // Slate 400
	ColorTextDim   = lipgloss.Color("#64748B") // Slate 500

	ColorDebug = lipgloss.Color("#94A3B8") // Gray
	ColorInfo  = lipgloss.Color("#06B6D4") // Cyan
)

var (
	LogoStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	TitlePanelStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(ColorPrimary).
			Padding(0, 2).
			MarginBottom(1)
)

// Log entry styles
var (
	LogTimestampStyle = lipgloss.NewStyle().
				Foreground(ColorTextDim)

	LogComponentStyle = lipgloss.NewStyle().
				Foreground(ColorSecondary).
				Bold(true)

	LogMessageStyle = lipgloss.NewStyle().
			Foreground(ColorText)

	LogFieldsStyle = lipgloss.NewStyle().
			Foreground(ColorTextDim)

	SessionStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	LogLevelDebugStyle = lipgloss.NewStyle().
				Foreground(ColorDebug).
				Bold(true)

	LogLevelInfoStyle = lipgloss.NewStyle().
				Foreground(ColorInfo).
				Bold(true)

	LogLevelWarnStyle = lipgloss.NewStyle().
				Foreground(ColorWarning).
				Bold(true)

	LogLevelErrorStyle = lipgloss.NewStyle().
				Foreground(ColorError).
				Bold(true)
)

// Panels and bars
var (
	LogPanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDimmed).
			Padding(0, 1)

	FilterBarStyle = lipgloss.NewStyle().
			Background(ColorBgPanel).
			Foreground(ColorText).
			Padding(0, 1)

	StatusBarStyle = lipgloss.NewStyle().
			Background(ColorBgPanel).
			Foreground(ColorText).
			Padding(0, 1)

	StatusOnlineStyle = lipgloss.NewStyle().
				Foreground(ColorSuccess).
				Bold(true)

	StatusOfflineStyle = lipgloss.NewStyle().
				Foreground(ColorError).
				Bold(true)

	StatusPausedStyle = lipgloss.NewStyle().
				Foreground(ColorWarning).
				Bold(true)
)

// Help and filter styles
var (
	HelpStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			MarginTop(1)

	HelpKeyStyle = lipgloss.NewStyle().
			Foreground(ColorPrimary).
			Bold(true)

	HelpDescStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	FilterActiveStyle = lipgloss.NewStyle().
				Foreground(ColorSuccess).
				Bold(true)

	FilterInactiveStyle = lipgloss.NewStyle().
				Foreground(ColorTextDim)
)

// Logo
const Logo = "Chatterbox Logs"

// RenderKeyHint renders a keyboard shortcut hint
func RenderKeyHint(key, description string) string {
	return HelpKeyStyle.Render(key) + " " + HelpDescStyle.Render(description)
}

// RenderLevelBadge renders a log level badge
func RenderLevelBadge(level string) string {
	switch level {
	case LevelDebug:
		return LogLevelDebugStyle.Render("[DEBUG]")
	case LevelInfo:
		return LogLevelInfoStyle.Render("[INFO] ")
	case LevelWarn:
		return LogLevelWarnStyle.Render("[WARN] ")
	case LevelError:
		return LogLevelErrorStyle.Render("[ERROR]")
	default:
		return LogLevelInfoStyle.Render("[" + level + "]")
	}
}

// RenderFilterStatus renders a filter status indicator
func RenderFilterStatus(name string, active bool) string {
	if active {
		return FilterActiveStyle.Render(name)
	}
	return FilterInactiveStyle.Render(name)
}
