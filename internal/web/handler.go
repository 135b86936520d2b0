package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/service"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/health"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
	"github.com/msto63/chatterbox-ui/pkg/core/version"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status  health.Status        `json:"status"`
	Version version.Info         `json:"version"`
	Uptime  string               `json:"uptime"`
	Checks  []health.CheckResult `json:"checks"`
}

// UploadRequest carries a base64 encoded voice sample
type UploadRequest struct {
	VoiceID     string `json:"voice_id"`
	AudioBase64 string `json:"audio_base64"`
	SampleRate  int    `json:"sample_rate"`
}

// SynthesizeRequest is the body of POST /synthesize. An empty voice mode
// uses the session's selection.
type SynthesizeRequest struct {
	Text      string `json:"text"`
	VoiceMode string `json:"voice_mode,omitempty"`
	VoiceName string `json:"voice_name,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
}

// SynthesizeResponse reports a synthesis and where to fetch its audio
type SynthesizeResponse struct {
	service.SynthesisResult
	Duration float64          `json:"duration,omitempty"`
	Played   bool             `json:"played"`
	Download *DownloadPayload `json:"download,omitempty"`
}

// PCMRequest carries raw 16-bit mono PCM for playback
type PCMRequest struct {
	PCMBase64  string `json:"pcm_base64"`
	SampleRate int    `json:"sample_rate"`
}

// PlaybackResponse reports a playback request
type PlaybackResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	Played   bool             `json:"played"`
	Duration float64          `json:"duration,omitempty"`
	Download *DownloadPayload `json:"download,omitempty"`
}

// SessionResponse describes the caller's session
type SessionResponse struct {
	SessionID    string         `json:"session_id"`
	Selection    VoiceSelection `json:"selection"`
	Connected    bool           `json:"connected"`
	CaptureState string         `json:"capture_state"`
	Current      *SourceInfo    `json:"current,omitempty"`
}

// SourceInfo describes the audio in the replay slot
type SourceInfo struct {
	Origin     string    `json:"origin"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Duration   float64   `json:"duration"`
	BoundAt    time.Time `json:"bound_at"`
}

// Handler handles the REST API
type Handler struct {
	deps      *Deps
	logger    *logging.Logger
	startTime time.Time
}

// NewHandler creates a new API handler
func NewHandler(deps *Deps) *Handler {
	return &Handler{
		deps:      deps,
		logger:    deps.Logger.Named("handler"),
		startTime: time.Now(),
	}
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Route requests
	path := strings.TrimPrefix(r.URL.Path, "/api/v1")
	path = strings.Trim(path, "/")

	switch {
	case path == "":
		h.handleRoot(w, r)
	case path == "health":
		h.handleHealth(w, r)
	case path == "session":
		h.handleSession(w, r)
	case path == "voices":
		h.handleVoices(w, r)
	case path == "voices/upload":
		h.handleVoiceUpload(w, r)
	case path == "voices/select":
		h.handleVoiceSelect(w, r)
	case strings.HasPrefix(path, "voices/"):
		h.handleVoice(w, r, strings.TrimPrefix(path, "voices/"))
	case path == "synthesize":
		h.handleSynthesize(w, r)
	case path == "playback/pcm":
		h.handlePlaybackPCM(w, r)
	case strings.HasPrefix(path, "downloads/"):
		h.handleDownload(w, r, strings.TrimPrefix(path, "downloads/"))
	case path == "history":
		h.handleHistory(w, r)
	case strings.HasPrefix(path, "history/") && strings.HasSuffix(path, "/audio"):
		id := strings.TrimSuffix(strings.TrimPrefix(path, "history/"), "/audio")
		h.handleHistoryAudio(w, r, id)
	case strings.HasPrefix(path, "history/"):
		h.handleHistoryEntry(w, r, strings.TrimPrefix(path, "history/"))
	default:
		h.writeError(w, http.StatusNotFound, "not_found", "Endpoint not found", "")
	}
}

// handleRoot lists the endpoints
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    "Chatterbox UI API",
		"version": version.App,
		"endpoints": map[string][]string{
			"core": {
				"GET  /api/v1/health",
				"GET  /api/v1/session",
				"GET  /api/v1/ws",
			},
			"voices": {
				"GET  /api/v1/voices",
				"POST /api/v1/voices",
				"POST /api/v1/voices/upload",
				"POST /api/v1/voices/select",
				"DELETE /api/v1/voices/{id}",
			},
			"audio": {
				"POST /api/v1/synthesize",
				"POST /api/v1/playback/pcm",
				"GET  /api/v1/downloads/{id}",
			},
			"history": {
				"GET  /api/v1/history",
				"GET  /api/v1/history/{id}",
				"GET  /api/v1/history/{id}/audio",
				"DELETE /api/v1/history/{id}",
			},
		},
	}
	h.writeJSON(w, http.StatusOK, info)
}

// handleHealth reports the health registry
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}

	resp := HealthResponse{
		Status:  health.StatusHealthy,
		Version: version.Get(),
		Uptime:  time.Since(h.startTime).Round(time.Second).String(),
		Checks:  []health.CheckResult{},
	}
	if h.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		report := h.deps.Health.Check(ctx)
		cancel()
		resp.Status = report.Status
		resp.Checks = report.Checks
	}

	status := http.StatusOK
	if resp.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

// handleSession returns the caller's session, creating it on first use
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}
	sess := h.deps.Sessions.Resolve(w, r)

	resp := SessionResponse{
		SessionID:    sess.ID,
		Selection:    sess.Selection(),
		Connected:    sess.Connected(),
		CaptureState: sess.CaptureState().String(),
	}
	if src := sess.Playback.Current(); src != nil {
		resp.Current = &SourceInfo{
			Origin:     src.Origin,
			SampleRate: src.SampleRate,
			Channels:   src.Channels,
			Duration:   src.Duration.Seconds(),
			BoundAt:    src.BoundAt,
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// handleVoices lists voices (GET) or uploads a base64 sample (POST)
func (h *Handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		res := h.deps.Service.ListVoices(r.Context())
		h.writeResult(w, res.Status, res)

	case http.MethodPost:
		var req UploadRequest
		if err := h.readJSON(w, r, &req); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
			return
		}
		res := h.deps.Service.UploadVoiceFromBase64(r.Context(), req.VoiceID, req.AudioBase64, req.SampleRate)
		h.recordUpload("base64", res.Success)
		h.writeResult(w, res.Status, res)

	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET or POST", "")
	}
}

// handleVoiceUpload accepts a multipart form with voice_id, sample_rate and file
func (h *Handler) handleVoiceUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST", "")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadSize)
	if err := r.ParseMultipartForm(h.deps.MaxUploadSize); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid multipart form", err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing file", err.Error())
		return
	}
	defer file.Close()

	sampleRate := 0
	if v := r.FormValue("sample_rate"); v != "" {
		if sampleRate, err = strconv.Atoi(v); err != nil || sampleRate < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid sample_rate", v)
			return
		}
	}

	res := h.deps.Service.UploadVoiceReader(r.Context(), r.FormValue("voice_id"), header.Filename, file, sampleRate)
	h.recordUpload("file", res.Success)
	h.writeResult(w, res.Status, res)
}

// handleVoiceSelect stores the session's voice selection
func (h *Handler) handleVoiceSelect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST", "")
		return
	}
	sess := h.deps.Sessions.Resolve(w, r)

	var sel VoiceSelection
	if err := h.readJSON(w, r, &sel); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}
	if err := sess.Select(sel); err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess.Selection())
}

// handleVoice deletes a voice
func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodDelete {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use DELETE", "")
		return
	}
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Voice id required", "")
		return
	}
	res := h.deps.Service.DeleteVoice(r.Context(), id)
	if m := h.deps.Metrics; m != nil {
		m.RecordDeletion(res.Success)
	}
	h.writeResult(w, res.Status, res)
}

// handleSynthesize synthesizes text, plays it in the session and offers a download
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST", "")
		return
	}
	sess := h.deps.Sessions.Resolve(w, r)

	var req SynthesizeRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}

	sreq := service.SynthesisRequest{
		Text:      req.Text,
		VoiceMode: req.VoiceMode,
		VoiceName: req.VoiceName,
		VoiceID:   req.VoiceID,
		SessionID: sess.ID,
	}
	if sreq.VoiceMode == "" {
		sel := sess.Selection()
		sreq.VoiceMode, sreq.VoiceName, sreq.VoiceID = sel.Mode, sel.VoiceName, sel.VoiceID
	}

	start := time.Now()
	res := h.deps.Service.Synthesize(r.Context(), sreq)
	if m := h.deps.Metrics; m != nil {
		m.RecordSynthesis(sreq.VoiceMode, res.Success, len(res.Audio), time.Since(start).Seconds())
	}

	resp := SynthesizeResponse{SynthesisResult: res}
	if res.Success {
		src, played := sess.Playback.PlayWAVSource(r.Context(), res.Audio)
		download, duration := h.offerDownload(sess, src, "chatterbox_"+time.Now().Format("20060102_150405")+".wav")
		resp.Played = played
		resp.Download = download
		resp.Duration = duration
	}
	h.writeResult(w, res.Status, resp)
}

// handlePlaybackPCM plays raw PCM in the session
func (h *Handler) handlePlaybackPCM(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use POST", "")
		return
	}
	sess := h.deps.Sessions.Resolve(w, r)

	var req PCMRequest
	if err := h.readJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body", err.Error())
		return
	}
	data, err := audio.DecodeBase64(req.PCMBase64)
	if err != nil {
		h.writeAppError(w, err)
		return
	}

	if req.SampleRate <= 0 {
		h.writeError(w, http.StatusBadRequest, string(apperror.CodeValidation), "sample_rate must be positive", "")
		return
	}

	src, played := sess.Playback.PlayPCMSource(r.Context(), data, req.SampleRate)
	if src == nil {
		h.writeError(w, http.StatusBadRequest, string(apperror.CodeDecode), "Audio could not be decoded", "")
		return
	}
	download, duration := h.offerDownload(sess, src, "pcm_"+time.Now().Format("20060102_150405")+".wav")
	h.writeJSON(w, http.StatusOK, PlaybackResponse{
		Success:  true,
		Message:  "Audio ready",
		Played:   played,
		Duration: duration,
		Download: download,
	})
}

// offerDownload registers a bound source as a download. src is nil when the
// audio was rejected.
func (h *Handler) offerDownload(sess *Session, src *audio.Source, filename string) (*DownloadPayload, float64) {
	if src == nil {
		return nil, 0
	}
	var download *DownloadPayload
	if ticket, ok := sess.Playback.Download(src.WAV, filename); ok {
		download = &DownloadPayload{URL: downloadURL(ticket.ID), Filename: ticket.Filename}
	}
	return download, src.Duration.Seconds()
}

// handleDownload serves a temporary download
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}
	if h.deps.Downloads == nil {
		h.writeError(w, http.StatusNotFound, string(apperror.CodeNotFound), "Downloads are disabled", "")
		return
	}
	ticket, data, ok := h.deps.Downloads.Get(id)
	if !ok {
		h.writeError(w, http.StatusNotFound, string(apperror.CodeNotFound), "Download expired or unknown", "")
		return
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ticket.Filename))
	w.Header().Set("Content-Type", ticket.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, ticket.Filename, ticket.ExpiresAt, bytes.NewReader(data))
	h.deps.Downloads.MarkServed(id)
}

// handleHistory lists the session's recent syntheses
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}
	sess := h.deps.Sessions.Resolve(w, r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.deps.Service.History(r.Context(), sess.ID, limit)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
		"enabled": entries != nil,
	})
}

// handleHistoryEntry returns (GET) or deletes (DELETE) one synthesis of the
// session
func (h *Handler) handleHistoryEntry(w http.ResponseWriter, r *http.Request, id string) {
	sess := h.deps.Sessions.Resolve(w, r)
	switch r.Method {
	case http.MethodGet:
		entry, err := h.deps.Service.HistoryEntry(r.Context(), sess.ID, id)
		if err != nil {
			h.writeAppError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, entry)
	case http.MethodDelete:
		if err := h.deps.Service.DeleteHistory(r.Context(), sess.ID, id); err != nil {
			h.writeAppError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, service.Status{Success: true, Message: "History entry deleted"})
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET or DELETE", "")
	}
}

// handleHistoryAudio streams the audio of one synthesis
func (h *Handler) handleHistoryAudio(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Use GET", "")
		return
	}
	sess := h.deps.Sessions.Resolve(w, r)
	entry, err := h.deps.Service.HistoryEntry(r.Context(), sess.ID, id)
	if err != nil {
		h.writeAppError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Audio)))
	w.WriteHeader(http.StatusOK)
	w.Write(entry.Audio)
}

func (h *Handler) recordUpload(source string, success bool) {
	if m := h.deps.Metrics; m != nil {
		m.RecordUpload(source, success)
	}
}

// Helper methods

func (h *Handler) readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.deps.MaxUploadSize))
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeResult sends a service result. Local failures map their code to a
// status; a rejection by the inference server is still a 200.
func (h *Handler) writeResult(w http.ResponseWriter, st service.Status, v interface{}) {
	status := http.StatusOK
	if !st.Success && st.Code != "" {
		status = st.Code.HTTPStatus()
	}
	h.writeJSON(w, status, v)
}

func (h *Handler) writeAppError(w http.ResponseWriter, err error) {
	code := apperror.GetCode(err)
	h.writeError(w, code.HTTPStatus(), string(code), err.Error(), "")
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message, details string) {
	resp := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}
	h.writeJSON(w, status, resp)
}
