package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
)

type fakePeer struct {
	*fakeSender
	closed int32
}

func newFakePeer() *fakePeer {
	return &fakePeer{fakeSender: newFakeSender()}
}

func (p *fakePeer) Close() error {
	atomic.AddInt32(&p.closed, 1)
	return nil
}

func (p *fakePeer) isClosed() bool {
	return atomic.LoadInt32(&p.closed) > 0
}

func newTestManager(t *testing.T, ttl time.Duration) *SessionManager {
	t.Helper()
	downloads := audio.NewDownloadStore(time.Minute, nil)
	m := NewSessionManager(SessionConfig{TTL: ttl, OpenTimeout: time.Second}, downloads, NewMetrics(), nil)
	t.Cleanup(func() {
		m.Close()
		downloads.Close()
	})
	return m
}

func TestSession_Select(t *testing.T) {
	m := newTestManager(t, time.Minute)
	sess := m.Create()

	if got := sess.Selection().Mode; got != "default" {
		t.Fatalf("initial mode = %q, want default", got)
	}

	tests := []struct {
		name    string
		sel     VoiceSelection
		wantErr bool
		want    VoiceSelection
	}{
		{"default clears names", VoiceSelection{Mode: "default", VoiceName: "x", VoiceID: "y"}, false, VoiceSelection{Mode: "default"}},
		{"predefined", VoiceSelection{Mode: "predefined", VoiceName: "Emily.wav", VoiceID: "y"}, false, VoiceSelection{Mode: "predefined", VoiceName: "Emily.wav"}},
		{"clone", VoiceSelection{Mode: "clone", VoiceID: "alice", VoiceName: "x"}, false, VoiceSelection{Mode: "clone", VoiceID: "alice"}},
		{"predefined without name", VoiceSelection{Mode: "predefined"}, true, VoiceSelection{}},
		{"clone without id", VoiceSelection{Mode: "clone"}, true, VoiceSelection{}},
		{"unknown", VoiceSelection{Mode: "whisper"}, true, VoiceSelection{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := sess.Selection()
			err := sess.Select(tt.sel)
			if tt.wantErr {
				if !apperror.HasCode(err, apperror.CodeValidation) {
					t.Errorf("Select() error = %v, want VALIDATION_ERROR", err)
				}
				if sess.Selection() != before {
					t.Error("failed Select() changed the selection")
				}
				return
			}
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if got := sess.Selection(); got != tt.want {
				t.Errorf("Selection() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSession_AttachReplacesPeer(t *testing.T) {
	m := newTestManager(t, time.Minute)
	sess := m.Create()

	if err := sess.Send("x", nil); err != errNoPeer {
		t.Errorf("Send() without peer error = %v, want errNoPeer", err)
	}

	first, second := newFakePeer(), newFakePeer()
	sess.Attach(first)
	sess.Attach(second)

	if !first.isClosed() {
		t.Error("replaced peer was not closed")
	}
	if second.isClosed() {
		t.Error("current peer was closed")
	}

	sess.Send("event", nil)
	if second.sent("event") != 1 || first.sent("event") != 0 {
		t.Error("event not routed to the newest peer")
	}

	// Detaching a stale peer keeps the current one
	sess.Detach(first)
	if !sess.Connected() {
		t.Error("stale Detach disconnected the session")
	}
	sess.Detach(second)
	if sess.Connected() {
		t.Error("Detach of the current peer left the session connected")
	}
}

func TestSession_CaptureLifecycle(t *testing.T) {
	m := newTestManager(t, time.Minute)
	sess := m.Create()
	peer := newFakePeer()
	peer.onSend = func(typ string) {
		switch typ {
		case EventCaptureOpen:
			sess.Device.HandleOpened(audio.PCMMIME(8000, 1))
		case EventCaptureFlush:
			go sess.Device.HandleFlushed()
		}
	}
	sess.Attach(peer)

	if got := sess.CaptureState(); got != audio.StateIdle {
		t.Fatalf("CaptureState() = %v, want idle", got)
	}
	if _, err := sess.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	if got := sess.CaptureState(); got != audio.StateRecording {
		t.Errorf("CaptureState() = %v, want recording", got)
	}
	if _, err := sess.StartCapture(context.Background()); !apperror.HasCode(err, apperror.CodeInvalidState) {
		t.Errorf("second StartCapture() error = %v, want INVALID_STATE", err)
	}

	sess.Device.HandleChunk(audio.EncodeFloatPCM([]float32{0.5, -0.5}))
	capture, err := sess.StopCapture(context.Background())
	if err != nil || capture == nil {
		t.Fatalf("StopCapture() = %v, %v", capture, err)
	}
	if len(capture.Data) != 8 {
		t.Errorf("capture bytes = %d, want 8", len(capture.Data))
	}
	if got := sess.CaptureState(); got != audio.StateStopped {
		t.Errorf("CaptureState() = %v, want stopped", got)
	}

	// A stopped session allows a new recording
	if _, err := sess.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() after stop error = %v", err)
	}
	if !sess.AbortCapture() {
		t.Error("AbortCapture() = false with a running recording")
	}
	if sess.AbortCapture() {
		t.Error("AbortCapture() = true without a running recording")
	}
}

func TestSession_DetachAbortsRecording(t *testing.T) {
	m := newTestManager(t, time.Minute)
	sess := m.Create()
	peer := newFakePeer()
	peer.onSend = func(typ string) {
		if typ == EventCaptureOpen {
			sess.Device.HandleOpened("audio/webm")
		}
	}
	sess.Attach(peer)

	if _, err := sess.StartCapture(context.Background()); err != nil {
		t.Fatalf("StartCapture() error = %v", err)
	}
	sess.Detach(peer)

	if got := sess.CaptureState(); got != audio.StateStopped {
		t.Errorf("CaptureState() = %v, want stopped", got)
	}
}

func TestSession_CloseRejectsCapture(t *testing.T) {
	m := newTestManager(t, time.Minute)
	sess := m.Create()
	peer := newFakePeer()
	sess.Attach(peer)

	sess.Close()
	if !peer.isClosed() {
		t.Error("Close() did not close the peer")
	}
	if _, err := sess.StartCapture(context.Background()); !apperror.HasCode(err, apperror.CodeInvalidState) {
		t.Errorf("StartCapture() on closed session error = %v, want INVALID_STATE", err)
	}
	sess.Close()
}

func TestSessionManager_Resolve(t *testing.T) {
	m := newTestManager(t, time.Minute)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess := m.Resolve(rec, req)

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != SessionCookie || cookies[0].Value != sess.ID {
		t.Fatalf("cookies = %v", cookies)
	}
	if !cookies[0].HttpOnly || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Errorf("cookie attributes = %+v", cookies[0])
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	if again := m.Resolve(rec, req); again != sess {
		t.Error("Resolve() with cookie created a new session")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("Resolve() reset an existing cookie")
	}
	if got, ok := m.Lookup(req); !ok || got != sess {
		t.Error("Lookup() did not find the session")
	}

	unknown := httptest.NewRequest(http.MethodGet, "/", nil)
	unknown.AddCookie(&http.Cookie{Name: SessionCookie, Value: "expired"})
	if _, ok := m.Lookup(unknown); ok {
		t.Error("Lookup() found an unknown session")
	}
	rec = httptest.NewRecorder()
	if fresh := m.Resolve(rec, unknown); fresh == sess {
		t.Error("Resolve() with unknown cookie returned the old session")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}

func TestSessionManager_Expiry(t *testing.T) {
	m := newTestManager(t, 40*time.Millisecond)
	sess := m.Create()
	peer := newFakePeer()
	sess.Attach(peer)

	// Get would slide the expiry, so poll the size instead
	waitFor(t, func() bool { return m.Len() == 0 })
	waitFor(t, peer.isClosed)
}

func TestSessionManager_TouchSlidesExpiry(t *testing.T) {
	m := newTestManager(t, 80*time.Millisecond)
	sess := m.Create()
	peer := newFakePeer()
	sess.Attach(peer)

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !m.Touch(sess.ID) {
			t.Fatal("session expired while being touched")
		}
		time.Sleep(15 * time.Millisecond)
	}
	if peer.isClosed() {
		t.Error("peer closed while the session was in use")
	}

	waitFor(t, func() bool { return m.Len() == 0 })
	if m.Touch(sess.ID) {
		t.Error("Touch() revived an expired session")
	}
}
