package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/msto63/chatterbox-ui/internal/audio"
)

// Phase is the screen the recorder shows
type Phase int

const (
	PhaseStarting Phase = iota
	PhaseRecording
	PhaseStopping
	PhaseDone
)

// refreshInterval is how often elapsed time and chunk count are redrawn
const refreshInterval = 200 * time.Millisecond

type startedMsg struct{ err error }

type stoppedMsg struct {
	capture *audio.Capture
	err     error
}

type tickMsg time.Time

// RecorderModel records from a capture device until Enter is pressed
type RecorderModel struct {
	session     *audio.CaptureSession
	stopTimeout time.Duration
	maxDuration time.Duration
	title       string

	phase     Phase
	spinner   spinner.Model
	startedAt time.Time
	elapsed   time.Duration
	chunks    int
	aborted   bool

	capture *audio.Capture
	err     error
}

// NewRecorderModel creates a recorder for session. maxDuration > 0 stops the
// recording automatically.
func NewRecorderModel(session *audio.CaptureSession, title string, stopTimeout, maxDuration time.Duration) RecorderModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorError)

	if stopTimeout <= 0 {
		stopTimeout = 5 * time.Second
	}
	return RecorderModel{
		session:     session,
		stopTimeout: stopTimeout,
		maxDuration: maxDuration,
		title:       title,
		phase:       PhaseStarting,
		spinner:     sp,
	}
}

// Init starts the capture session
func (m RecorderModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.start())
}

func (m RecorderModel) start() tea.Cmd {
	session := m.session
	return func() tea.Msg {
		_, err := session.Start(context.Background())
		return startedMsg{err: err}
	}
}

func (m RecorderModel) stop() tea.Cmd {
	session, timeout := m.session, m.stopTimeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		c, err := session.Stop(ctx)
		return stoppedMsg{capture: c, err: err}
	}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages
func (m RecorderModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc", "q":
			m.session.Abort()
			m.aborted = true
			m.phase = PhaseDone
			return m, tea.Quit

		case "enter", " ":
			if m.phase == PhaseRecording {
				m.phase = PhaseStopping
				return m, m.stop()
			}
		}

	case startedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.phase = PhaseDone
			return m, tea.Quit
		}
		m.phase = PhaseRecording
		m.startedAt = time.Now()
		return m, tick()

	case tickMsg:
		if m.phase != PhaseRecording {
			return m, nil
		}
		m.elapsed = time.Since(m.startedAt)
		m.chunks = m.session.ChunkCount()
		if m.maxDuration > 0 && m.elapsed >= m.maxDuration {
			m.phase = PhaseStopping
			return m, m.stop()
		}
		return m, tick()

	case stoppedMsg:
		m.capture = msg.capture
		m.err = msg.err
		m.phase = PhaseDone
		return m, tea.Quit

	case spinner.TickMsg:
		if m.phase == PhaseDone {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the UI
func (m RecorderModel) View() string {
	var s strings.Builder
	s.WriteString(RenderTitle(m.title))
	s.WriteString("\n")

	switch m.phase {
	case PhaseStarting:
		s.WriteString(m.spinner.View() + " Mikrofon wird geöffnet...")
	case PhaseRecording:
		body := fmt.Sprintf("%s %s  %s  %d Blöcke",
			m.spinner.View(), RecordingStyle.Render("● Aufnahme"), formatElapsed(m.elapsed), m.chunks)
		s.WriteString(RecordingBoxStyle.Render(body))
		s.WriteString("\n")
		s.WriteString(RenderHelp("Enter: Aufnahme beenden • Esc: Abbrechen"))
	case PhaseStopping:
		s.WriteString(m.spinner.View() + " Aufnahme wird abgeschlossen...")
	case PhaseDone:
		switch {
		case m.err != nil:
			s.WriteString(RenderError(m.err.Error()))
		case m.aborted:
			s.WriteString(StatusWarnStyle.Render("Aufnahme abgebrochen"))
		case m.capture == nil:
			s.WriteString(StatusWarnStyle.Render("Keine Audiodaten aufgenommen"))
		default:
			s.WriteString(StatusOKStyle.Render(fmt.Sprintf("Aufnahme beendet: %d Bytes in %d Blöcken",
				len(m.capture.Data), m.capture.ChunkCount)))
		}
	}
	s.WriteString("\n")
	return s.String()
}

// Phase returns the current phase
func (m RecorderModel) Phase() Phase {
	return m.phase
}

// Result returns the recording after the program quit. A nil capture without
// error means nothing was recorded or the user aborted.
func (m RecorderModel) Result() (*audio.Capture, error) {
	return m.capture, m.err
}

// Aborted reports whether the user cancelled the recording
func (m RecorderModel) Aborted() bool {
	return m.aborted
}

func formatElapsed(d time.Duration) string {
	d = d.Round(100 * time.Millisecond)
	mins := d / time.Minute
	sec := (d - mins*time.Minute).Seconds()
	return fmt.Sprintf("%02d:%04.1f", int(mins), sec)
}
