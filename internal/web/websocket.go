package web

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 120 * time.Second
	wsPingPeriod = 50 * time.Second
	wsMaxMessage = 8 << 20
)

// Browser to server message types
const (
	MsgPing           = "ping"
	MsgCaptureStart   = "capture.start"
	MsgCaptureOpened  = "capture.opened"
	MsgCaptureDenied  = "capture.denied"
	MsgCaptureFlushed = "capture.flushed"
	MsgCaptureStop    = "capture.stop"
	MsgCaptureAbort   = "capture.abort"
	MsgDownload       = "playback.download"
)

// Server to browser event types, besides the device requests in remote.go
const (
	EventPong           = "pong"
	EventHello          = "hello"
	EventCaptureStarted = "capture.started"
	EventCaptureDone    = "capture.done"
	EventVoiceUploaded  = "voice.uploaded"
	EventDownload       = "download"
	EventError          = "error"
)

// WSMessage is the envelope used in both directions
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSResponse is an outgoing envelope
type WSResponse struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// WSErrorPayload represents an error payload
type WSErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CaptureOpenedPayload acknowledges capture.open
type CaptureOpenedPayload struct {
	MIMEType string `json:"mime_type"`
}

// CaptureDeniedPayload carries the DOMException of getUserMedia
type CaptureDeniedPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// CaptureStopPayload finishes a recording, optionally uploading it as a voice
type CaptureStopPayload struct {
	VoiceID string `json:"voice_id,omitempty"`
	Trim    *bool  `json:"trim,omitempty"`
}

// CaptureDonePayload carries the encoded recording
type CaptureDonePayload struct {
	Empty      bool    `json:"empty"`
	WAVBase64  string  `json:"wav_base64,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Duration   float64 `json:"duration,omitempty"`
	Chunks     int     `json:"chunks,omitempty"`
	Peak       float32 `json:"peak"`
	Silent     bool    `json:"silent,omitempty"`
}

// VoiceUploadedPayload reports an upload of a recording
type VoiceUploadedPayload struct {
	VoiceID string `json:"voice_id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DownloadRequestPayload asks for the current audio as a file
type DownloadRequestPayload struct {
	Filename string `json:"filename,omitempty"`
}

// DownloadPayload points the browser to a temporary download
type DownloadPayload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// wsPeer serializes writes to one connection
type wsPeer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *wsPeer) Send(typ string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return p.conn.WriteJSON(WSResponse{Type: typ, Payload: payload})
}

func (p *wsPeer) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (p *wsPeer) Close() error {
	return p.conn.Close()
}

// WebSocketHandler runs the capture and playback protocol of a session
type WebSocketHandler struct {
	deps     *Deps
	logger   *logging.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(deps *Deps) *WebSocketHandler {
	return &WebSocketHandler{
		deps:   deps,
		logger: deps.Logger.Named("websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     deps.checkOrigin,
		},
	}
}

// ServeHTTP handles WebSocket upgrade and connections
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.deps.Sessions.Lookup(r)
	if !ok {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", "error", err)
		return
	}
	h.handleConnection(conn, sess)
}

// handleConnection handles a single WebSocket connection
func (h *WebSocketHandler) handleConnection(conn *websocket.Conn, sess *Session) {
	peer := &wsPeer{conn: conn}
	defer peer.Close()

	logger := h.logger.With("session_id", sess.ID)
	logger.Info("WebSocket connection established", "remote", conn.RemoteAddr().String())

	if m := h.deps.Metrics; m != nil {
		m.WSConnections.Inc()
		defer m.WSConnections.Dec()
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer func() {
		sess.Detach(peer)
		cancel()
		wg.Wait()
	}()

	sess.Attach(peer)
	peer.Send(EventHello, map[string]interface{}{
		"session_id": sess.ID,
		"selection":  sess.Selection(),
	})

	wg.Add(2)
	go func() {
		defer wg.Done()
		h.keepAlive(ctx, peer)
	}()
	go func() {
		defer wg.Done()
		h.forwardPlaybackErrors(ctx, peer, sess)
	}()

	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	// An open connection keeps its session alive
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		h.deps.Sessions.Touch(sess.ID)
		return nil
	})

	rec := &recording{}
	defer rec.cancelTimer()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read error", "error", err)
			} else {
				logger.Info("WebSocket connection closed")
			}
			return
		}
		h.deps.Sessions.Touch(sess.ID)

		if kind == websocket.BinaryMessage {
			sess.Device.HandleChunk(data)
			continue
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(peer, apperror.New(apperror.CodeValidation, "invalid message"))
			continue
		}

		switch msg.Type {
		case MsgPing:
			peer.Send(EventPong, nil)

		case MsgCaptureStart:
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.startCapture(ctx, peer, sess, rec)
			}()

		case MsgCaptureOpened:
			var p CaptureOpenedPayload
			json.Unmarshal(msg.Payload, &p)
			sess.Device.HandleOpened(p.MIMEType)

		case MsgCaptureDenied:
			var p CaptureDeniedPayload
			json.Unmarshal(msg.Payload, &p)
			sess.Device.HandleDenied(p.Name, p.Message)

		case MsgCaptureFlushed:
			sess.Device.HandleFlushed()

		case MsgCaptureStop:
			var p CaptureStopPayload
			if len(msg.Payload) > 0 {
				if err := json.Unmarshal(msg.Payload, &p); err != nil {
					h.sendError(peer, apperror.New(apperror.CodeValidation, "invalid capture.stop payload"))
					continue
				}
			}
			rec.cancelTimer()
			wg.Add(1)
			go func() {
				defer wg.Done()
				h.finishCapture(ctx, peer, sess, p)
			}()

		case MsgCaptureAbort:
			rec.cancelTimer()
			if sess.AbortCapture() {
				h.recordCapture("aborted", 0)
			}

		case MsgDownload:
			var p DownloadRequestPayload
			json.Unmarshal(msg.Payload, &p)
			h.offerDownload(peer, sess, p.Filename)

		default:
			h.sendError(peer, apperror.Newf(apperror.CodeValidation, "unknown message type: %s", msg.Type))
		}
	}
}

// recording tracks the auto-stop timer of the connection's recording
type recording struct {
	mu    sync.Mutex
	timer *time.Timer
}

func (r *recording) setTimer(t *time.Timer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = t
}

func (r *recording) cancelTimer() {
	r.setTimer(nil)
}

func (h *WebSocketHandler) keepAlive(ctx context.Context, peer *wsPeer) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := peer.ping(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) forwardPlaybackErrors(ctx context.Context, peer *wsPeer, sess *Session) {
	for {
		select {
		case err := <-sess.Playback.Errors():
			// A dead connection is itself the reason for most sink errors
			if sess.Connected() {
				h.sendError(peer, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (h *WebSocketHandler) startCapture(ctx context.Context, peer *wsPeer, sess *Session, rec *recording) {
	capture, err := sess.StartCapture(ctx)
	if err != nil {
		result := "failed"
		if apperror.HasCode(err, apperror.CodePermissionDenied) {
			result = "denied"
		}
		if !apperror.HasCode(err, apperror.CodeInvalidState) {
			h.recordCapture(result, 0)
		}
		h.sendError(peer, err)
		return
	}

	peer.Send(EventCaptureStarted, map[string]string{"capture_id": capture.ID()})

	if limit := h.deps.Audio.MaxCapture; limit > 0 {
		rec.setTimer(time.AfterFunc(limit, func() {
			if capture.State() != audio.StateRecording {
				return
			}
			h.logger.Warn("Recording reached the maximum length", "session_id", sess.ID, "max", limit)
			h.finishCapture(ctx, peer, sess, CaptureStopPayload{})
		}))
	}
}

// finishCapture stops the recording, transcodes it to mono WAV and uploads
// it when a voice id was given.
func (h *WebSocketHandler) finishCapture(ctx context.Context, peer *wsPeer, sess *Session, p CaptureStopPayload) {
	stopCtx, cancel := context.WithTimeout(ctx, h.deps.Audio.StopTimeout)
	capture, err := sess.StopCapture(stopCtx)
	cancel()
	if err != nil {
		h.recordCapture("failed", 0)
		h.sendError(peer, err)
		return
	}
	if capture == nil {
		h.recordCapture("empty", 0)
		peer.Send(EventCaptureDone, CaptureDonePayload{Empty: true})
		return
	}

	trim := h.deps.Audio.Trim
	if p.Trim != nil {
		trim = *p.Trim
	}
	buf, wav, err := h.deps.transcode(ctx, capture, trim)
	if err != nil {
		h.recordCapture("failed", 0)
		h.sendError(peer, err)
		return
	}

	h.recordCapture("recorded", buf.Duration().Seconds())
	peak := audio.Peak(buf)
	if peak < audio.SilentPeak {
		h.logger.Warn("Recording looks silent", "session_id", sess.ID, "peak", peak)
	}
	peer.Send(EventCaptureDone, CaptureDonePayload{
		WAVBase64:  audio.EncodeBase64(wav),
		SampleRate: buf.SampleRate,
		Duration:   buf.Duration().Seconds(),
		Chunks:     capture.ChunkCount,
		Peak:       peak,
		Silent:     peak < audio.SilentPeak,
	})

	if p.VoiceID == "" {
		return
	}
	res := h.deps.Service.UploadCapture(ctx, p.VoiceID, buf)
	if m := h.deps.Metrics; m != nil {
		m.RecordUpload("capture", res.Success)
	}
	peer.Send(EventVoiceUploaded, VoiceUploadedPayload{
		VoiceID: p.VoiceID,
		Success: res.Success,
		Message: res.Message,
	})
}

func (h *WebSocketHandler) offerDownload(peer *wsPeer, sess *Session, filename string) {
	if filename == "" {
		filename = "chatterbox.wav"
	}
	ticket, ok := sess.Playback.DownloadCurrent(filename)
	if !ok {
		// The adapter already published the reason on its error channel
		return
	}
	peer.Send(EventDownload, DownloadPayload{
		URL:      downloadURL(ticket.ID),
		Filename: ticket.Filename,
	})
}

func (h *WebSocketHandler) recordCapture(result string, seconds float64) {
	if m := h.deps.Metrics; m != nil {
		m.RecordCapture(result, seconds)
	}
}

// sendError sends an error event
func (h *WebSocketHandler) sendError(peer *wsPeer, err error) {
	peer.Send(EventError, WSErrorPayload{
		Code:    string(apperror.GetCode(err)),
		Message: err.Error(),
	})
}
