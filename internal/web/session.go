package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/voice"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/cache"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// SessionCookie names the cookie that carries the session id
const SessionCookie = "chatterbox_session"

// errNoPeer is returned when a session has no open WebSocket
var errNoPeer = errors.New("no browser connected")

// Peer is the browser end of a session's WebSocket
type Peer interface {
	Sender
	Close() error
}

// VoiceSelection is the voice chosen in the page
type VoiceSelection struct {
	Mode      string `json:"voice_mode"`
	VoiceName string `json:"voice_name,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
}

// Session is the server side state of one browser tab: its capture session,
// playback adapter and voice selection. Sessions never share audio state.
type Session struct {
	ID        string
	CreatedAt time.Time

	Device   *RemoteDevice
	Playback *audio.PlaybackAdapter

	logger *logging.Logger

	mu        sync.Mutex
	peer      Peer
	capture   *audio.CaptureSession
	selection VoiceSelection
	closed    bool
}

func newSession(id string, cfg SessionConfig, downloads *audio.DownloadStore, logger *logging.Logger) *Session {
	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		logger:    logger.With("session_id", id),
		selection: VoiceSelection{Mode: cfg.DefaultVoiceMode},
	}
	s.Device = NewRemoteDevice(s, cfg.OpenTimeout, s.logger)
	s.Device.SetMIMETypes(cfg.CaptureTypes)
	s.Playback = audio.NewPlaybackAdapter(NewBrowserSink(s), downloads, s.logger)
	return s
}

// Send implements Sender through the currently attached peer
func (s *Session) Send(typ string, payload interface{}) error {
	s.mu.Lock()
	p := s.peer
	s.mu.Unlock()
	if p == nil {
		return errNoPeer
	}
	return p.Send(typ, payload)
}

// Attach makes p the session's browser connection. A previous connection is
// closed: the newest tab wins.
func (s *Session) Attach(p Peer) {
	s.mu.Lock()
	old := s.peer
	s.peer = p
	s.mu.Unlock()

	if old != nil && old != p {
		s.Device.Disconnect()
		old.Close()
	}
}

// Detach removes p if it is still the attached peer and aborts any capture
// that depended on it.
func (s *Session) Detach(p Peer) {
	s.mu.Lock()
	if s.peer != p {
		s.mu.Unlock()
		return
	}
	s.peer = nil
	capture := s.capture
	s.mu.Unlock()

	s.Device.Disconnect()
	if capture != nil && capture.State() == audio.StateRecording {
		capture.Abort()
	}
}

// Connected reports whether a browser connection is attached
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer != nil
}

// Selection returns the selected voice
func (s *Session) Selection() VoiceSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// Select stores a voice selection after validating it
func (s *Session) Select(sel VoiceSelection) error {
	switch sel.Mode {
	case voice.ModeDefault:
		sel.VoiceName, sel.VoiceID = "", ""
	case voice.ModePredefined:
		if sel.VoiceName == "" {
			return apperror.New(apperror.CodeValidation, "predefined voice mode requires a voice name")
		}
		sel.VoiceID = ""
	case voice.ModeClone:
		if sel.VoiceID == "" {
			return apperror.New(apperror.CodeValidation, "clone voice mode requires a voice id")
		}
		sel.VoiceName = ""
	default:
		return apperror.Newf(apperror.CodeValidation, "unknown voice mode %q", sel.Mode)
	}
	s.mu.Lock()
	s.selection = sel
	s.mu.Unlock()
	s.logger.Info("Voice selected", "mode", sel.Mode, "voice_name", sel.VoiceName, "voice_id", sel.VoiceID)
	return nil
}

// StartCapture begins a new recording. It fails with INVALID_STATE while a
// recording is running.
func (s *Session) StartCapture(ctx context.Context) (*audio.CaptureSession, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, apperror.New(apperror.CodeInvalidState, "session is closed")
	}
	if s.capture != nil && s.capture.State() != audio.StateStopped {
		s.mu.Unlock()
		return nil, apperror.New(apperror.CodeInvalidState, "a recording is already running")
	}
	capture := audio.NewCaptureSession(s.Device, s.logger)
	s.capture = capture
	s.mu.Unlock()

	if _, err := capture.Start(ctx); err != nil {
		capture.Abort()
		return nil, err
	}
	return capture, nil
}

// StopCapture ends the running recording. It returns (nil, nil) when nothing
// was recorded or no recording is running.
func (s *Session) StopCapture(ctx context.Context) (*audio.Capture, error) {
	s.mu.Lock()
	capture := s.capture
	s.mu.Unlock()
	if capture == nil {
		return nil, nil
	}
	return capture.Stop(ctx)
}

// AbortCapture drops a running recording. It reports whether one was running.
func (s *Session) AbortCapture() bool {
	s.mu.Lock()
	capture := s.capture
	s.mu.Unlock()
	if capture == nil || capture.State() != audio.StateRecording {
		return false
	}
	capture.Abort()
	return true
}

// CaptureState returns the state of the latest capture session
func (s *Session) CaptureState() audio.CaptureState {
	s.mu.Lock()
	capture := s.capture
	s.mu.Unlock()
	if capture == nil {
		return audio.StateIdle
	}
	return capture.State()
}

// Close aborts capture and drops the browser connection
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	p := s.peer
	s.peer = nil
	capture := s.capture
	s.mu.Unlock()

	s.Device.Disconnect()
	if capture != nil {
		capture.Abort()
	}
	if p != nil {
		p.Close()
	}
	s.logger.Info("Session closed")
}

// SessionConfig configures the session manager
type SessionConfig struct {
	TTL              time.Duration
	MaxSessions      int
	OpenTimeout      time.Duration
	DefaultVoiceMode string
	SecureCookie     bool

	// CaptureTypes are the recording containers the server can decode
	CaptureTypes []string
}

// SessionManager maps cookies to sessions. Idle sessions expire after TTL.
type SessionManager struct {
	cfg       SessionConfig
	sessions  *cache.Cache
	downloads *audio.DownloadStore
	metrics   *Metrics
	logger    *logging.Logger
}

// NewSessionManager creates a manager; metrics may be nil
func NewSessionManager(cfg SessionConfig, downloads *audio.DownloadStore, metrics *Metrics, logger *logging.Logger) *SessionManager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 1000
	}
	if cfg.DefaultVoiceMode == "" {
		cfg.DefaultVoiceMode = voice.ModeDefault
	}
	if logger == nil {
		logger = logging.Nop()
	}
	m := &SessionManager{
		cfg:       cfg,
		downloads: downloads,
		metrics:   metrics,
		logger:    logger,
	}
	m.sessions = cache.New(cache.Config{
		MaxItems:        cfg.MaxSessions,
		TTL:             cfg.TTL,
		Sliding:         true,
		CleanupInterval: cleanupInterval(cfg.TTL),
		OnEvict:         m.evicted,
	})
	return m
}

func cleanupInterval(ttl time.Duration) time.Duration {
	if iv := ttl / 4; iv < time.Minute {
		return iv
	}
	return time.Minute
}

func (m *SessionManager) evicted(key string, value interface{}) {
	if s, ok := value.(*Session); ok {
		s.Close()
	}
	m.updateGauge()
}

func (m *SessionManager) updateGauge() {
	if m.metrics != nil {
		m.metrics.ActiveSessions.Set(float64(m.sessions.Size()))
	}
}

// Get returns a live session
func (m *SessionManager) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Touch slides the session's expiry. It reports whether the session is live.
func (m *SessionManager) Touch(id string) bool {
	_, ok := m.Get(id)
	return ok
}

// Create starts a new session
func (m *SessionManager) Create() *Session {
	s := newSession(uuid.New().String(), m.cfg, m.downloads, m.logger)
	m.sessions.Set(s.ID, s)
	m.updateGauge()
	m.logger.Info("Session created", "session_id", s.ID)
	return s
}

// Resolve returns the request's session, creating one and setting the
// cookie when the request carries none or an expired one.
func (m *SessionManager) Resolve(w http.ResponseWriter, r *http.Request) *Session {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if s, ok := m.Get(c.Value); ok {
			return s
		}
	}

	s := m.Create()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return s
}

// Lookup returns the request's session without creating one
func (m *SessionManager) Lookup(r *http.Request) (*Session, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, false
	}
	return m.Get(c.Value)
}

// Len returns the number of live sessions
func (m *SessionManager) Len() int {
	return m.sessions.Size()
}

// Close ends all sessions
func (m *SessionManager) Close() {
	m.sessions.Close()
}
