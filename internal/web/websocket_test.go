package web

import (
	"encoding/json"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/msto63/chatterbox-ui/internal/audio"
)

// wsClient plays the browser side of the protocol
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dialWS(t *testing.T) *wsClient {
	t.Helper()
	e.do(t, http.MethodGet, "/api/v1/session", "")
	cookie := e.sessionCookie(t)

	header := http.Header{}
	header.Set("Cookie", cookie.Name+"="+cookie.Value)
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	c := &wsClient{t: t, conn: conn}
	c.expect(EventHello)
	return c
}

func (c *wsClient) send(typ string, payload interface{}) {
	c.t.Helper()
	msg := map[string]interface{}{"type": typ}
	if payload != nil {
		msg["payload"] = payload
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		c.t.Fatalf("WriteJSON(%s) error = %v", typ, err)
	}
}

func (c *wsClient) sendBinary(data []byte) {
	c.t.Helper()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.t.Fatalf("WriteMessage() error = %v", err)
	}
}

// expect reads events until one of type typ arrives and returns its payload
func (c *wsClient) expect(typ string) json.RawMessage {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg.Payload
		}
		if msg.Type == EventError && typ != EventError {
			c.t.Fatalf("waiting for %s: got error %s", typ, msg.Payload)
		}
	}
}

func sine(rate int, seconds float64) []float32 {
	samples := make([]float32, int(float64(rate)*seconds))
	for i := range samples {
		samples[i] = float32(0.6 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	return samples
}

func TestWebSocket_RequiresSession(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() without session cookie succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestWebSocket_PingAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	c := env.dialWS(t)

	c.send(MsgPing, nil)
	c.expect(EventPong)

	c.send("nonsense", nil)
	var e WSErrorPayload
	json.Unmarshal(c.expect(EventError), &e)
	if e.Code != "VALIDATION_ERROR" || !strings.Contains(e.Message, "nonsense") {
		t.Errorf("error = %+v", e)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	json.Unmarshal(c.expect(EventError), &e)
	if e.Code != "VALIDATION_ERROR" {
		t.Errorf("invalid JSON error = %+v", e)
	}
}

func TestWebSocket_CaptureAndUpload(t *testing.T) {
	env := newTestEnv(t)
	c := env.dialWS(t)

	c.send(MsgCaptureStart, nil)
	var open CaptureOpenPayload
	json.Unmarshal(c.expect(EventCaptureOpen), &open)
	if open.TimesliceMS <= 0 {
		t.Errorf("timeslice = %d", open.TimesliceMS)
	}
	if !containsString(open.MIMETypes, audio.MIMEWebM) || !containsString(open.MIMETypes, audio.MIMEOgg) {
		t.Errorf("offered mime types = %v, want webm and ogg", open.MIMETypes)
	}
	c.send(MsgCaptureOpened, CaptureOpenedPayload{MIMEType: audio.PCMMIME(16000, 1)})
	c.expect(EventCaptureStarted)

	samples := sine(16000, 0.5)
	c.sendBinary(audio.EncodeFloatPCM(samples[:4000]))
	c.sendBinary(audio.EncodeFloatPCM(samples[4000:]))

	noTrim := false
	c.send(MsgCaptureStop, CaptureStopPayload{VoiceID: "recorded", Trim: &noTrim})
	c.expect(EventCaptureFlush)
	c.send(MsgCaptureFlushed, nil)

	var done CaptureDonePayload
	json.Unmarshal(c.expect(EventCaptureDone), &done)
	if done.Empty {
		t.Fatal("capture.done reported an empty recording")
	}
	if done.SampleRate != 16000 || done.Chunks != 2 {
		t.Errorf("done = rate %d chunks %d", done.SampleRate, done.Chunks)
	}
	if math.Abs(done.Duration-0.5) > 0.01 {
		t.Errorf("duration = %v, want 0.5", done.Duration)
	}
	if done.Silent || done.Peak < 0.1 {
		t.Errorf("done peak = %v silent = %v", done.Peak, done.Silent)
	}

	wav, err := audio.DecodeBase64(done.WAVBase64)
	if err != nil {
		t.Fatalf("DecodeBase64() error = %v", err)
	}
	info, err := audio.ParseWAVHeader(wav)
	if err != nil {
		t.Fatalf("ParseWAVHeader() error = %v", err)
	}
	if info.Channels != 1 || info.BitsPerSample != 16 || info.Frames() != 8000 {
		t.Errorf("wav = %+v", info)
	}

	var up VoiceUploadedPayload
	json.Unmarshal(c.expect(EventVoiceUploaded), &up)
	if !up.Success || up.VoiceID != "recorded" {
		t.Errorf("upload = %+v", up)
	}
	if got := env.inference.uploaded("recorded"); len(got) != len(wav) {
		t.Errorf("uploaded %d bytes, want %d", len(got), len(wav))
	}
}

func TestWebSocket_CaptureEmpty(t *testing.T) {
	env := newTestEnv(t)
	c := env.dialWS(t)

	c.send(MsgCaptureStart, nil)
	c.expect(EventCaptureOpen)
	c.send(MsgCaptureOpened, CaptureOpenedPayload{MIMEType: "audio/webm"})
	c.expect(EventCaptureStarted)

	c.send(MsgCaptureStop, nil)
	c.expect(EventCaptureFlush)
	c.send(MsgCaptureFlushed, nil)

	var done CaptureDonePayload
	json.Unmarshal(c.expect(EventCaptureDone), &done)
	if !done.Empty {
		t.Errorf("done = %+v, want empty", done)
	}
}

func TestWebSocket_CaptureDenied(t *testing.T) {
	env := newTestEnv(t)
	c := env.dialWS(t)

	c.send(MsgCaptureStart, nil)
	c.expect(EventCaptureOpen)
	c.send(MsgCaptureDenied, CaptureDeniedPayload{Name: "NotAllowedError", Message: "Permission denied"})

	var e WSErrorPayload
	json.Unmarshal(c.expect(EventError), &e)
	if e.Code != "PERMISSION_DENIED" {
		t.Errorf("error = %+v, want PERMISSION_DENIED", e)
	}

	// The session stays usable: a new recording can start
	c.send(MsgCaptureStart, nil)
	c.expect(EventCaptureOpen)
	c.send(MsgCaptureOpened, CaptureOpenedPayload{MIMEType: "audio/webm"})
	c.expect(EventCaptureStarted)
}

func TestWebSocket_CaptureTwice(t *testing.T) {
	env := newTestEnv(t)
	c := env.dialWS(t)

	c.send(MsgCaptureStart, nil)
	c.expect(EventCaptureOpen)
	c.send(MsgCaptureOpened, CaptureOpenedPayload{MIMEType: "audio/webm"})
	c.expect(EventCaptureStarted)

	c.send(MsgCaptureStart, nil)
	var e WSErrorPayload
	json.Unmarshal(c.expect(EventError), &e)
	if e.Code != "INVALID_STATE" {
		t.Errorf("error = %+v, want INVALID_STATE", e)
	}

	c.send(MsgCaptureAbort, nil)
	c.expect(EventCaptureRelease)
}

func TestWebSocket_PlaybackAfterSynthesis(t *testing.T) {
	env := newTestEnv(t)
	c := env.dialWS(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/synthesize", `{"text":"Vorlesen"}`)
	if resp.StatusCode != http.StatusOK || body["played"] != true {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}

	var p PlaybackPayload
	json.Unmarshal(c.expect(EventPlaybackPlay), &p)
	if p.SampleRate != 24000 {
		t.Errorf("sample_rate = %d, want 24000", p.SampleRate)
	}
	wav, _ := audio.DecodeBase64(p.WAVBase64)
	if err := audio.ValidateWAV(wav); err != nil {
		t.Errorf("played audio invalid: %v", err)
	}

	c.send(MsgDownload, DownloadRequestPayload{Filename: "vorlesen.wav"})
	var d DownloadPayload
	json.Unmarshal(c.expect(EventDownload), &d)
	if d.Filename != "vorlesen.wav" || !strings.HasPrefix(d.URL, "/api/v1/downloads/") {
		t.Errorf("download = %+v", d)
	}
}

func TestWebSocket_DownloadWithoutAudio(t *testing.T) {
	env := newTestEnv(t)
	c := env.dialWS(t)

	c.send(MsgDownload, nil)
	var e WSErrorPayload
	json.Unmarshal(c.expect(EventError), &e)
	if e.Code == "" {
		t.Errorf("error = %+v, want a code", e)
	}
}

func TestWebSocket_NewestConnectionWins(t *testing.T) {
	env := newTestEnv(t)
	first := env.dialWS(t)

	header := http.Header{}
	cookie := env.sessionCookie(t)
	header.Set("Cookie", cookie.Name+"="+cookie.Value)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/v1/ws"
	second, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer second.Close()

	first.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := first.conn.ReadMessage(); err != nil {
			break
		}
	}

	sess, ok := env.deps.Sessions.Get(cookie.Value)
	if !ok {
		t.Fatal("session vanished")
	}
	waitFor(t, sess.Connected)
}

func TestWebSocket_TrafficKeepsSessionAlive(t *testing.T) {
	env := newTestEnv(t)
	downloads := audio.NewDownloadStore(time.Minute, nil)
	sessions := NewSessionManager(SessionConfig{TTL: 150 * time.Millisecond, OpenTimeout: time.Second}, downloads, nil, nil)
	t.Cleanup(func() {
		sessions.Close()
		downloads.Close()
	})
	env.deps.Sessions = sessions

	c := env.dialWS(t)
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.send(MsgPing, nil)
		c.expect(EventPong)
		time.Sleep(30 * time.Millisecond)
	}
	if sessions.Len() != 1 {
		t.Errorf("Len() = %d, session expired while the socket was in use", sessions.Len())
	}
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
