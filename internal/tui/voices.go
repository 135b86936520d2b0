package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/msto63/chatterbox-ui/internal/service"
)

// RenderVoiceTable renders the voice list as an aligned table
func RenderVoiceTable(voices []service.VoiceRecord) string {
	if len(voices) == 0 {
		return SubtitleStyle.Render("Keine Stimmen hochgeladen")
	}

	header := []string{"Voice ID", "Datei", "Hochgeladen", "Sample Rate"}
	rows := make([][]string, 0, len(voices))
	for _, v := range voices {
		rate := "-"
		if v.SampleRate > 0 {
			rate = strconv.Itoa(v.SampleRate)
		}
		rows = append(rows, []string{v.VoiceID, v.FilePath, v.CreatedAt, rate})
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, r := range rows {
		for i, c := range r {
			if w := lipgloss.Width(c); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var s strings.Builder
	for i, h := range header {
		s.WriteString(HeaderCellStyle.Width(widths[i] + 2).Render(h))
	}
	s.WriteString("\n")
	for _, r := range rows {
		for i, c := range r {
			s.WriteString(CellStyle.Width(widths[i] + 2).Render(c))
		}
		s.WriteString("\n")
	}
	return strings.TrimRight(s.String(), "\n")
}
