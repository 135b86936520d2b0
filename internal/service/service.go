// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     service
// Description: Voice and synthesis operations with uniform results
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package service

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/history"
	"github.com/msto63/chatterbox-ui/internal/voice"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/cache"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// tempPrefix marks upload temp files so the sweeper never touches foreign files
const tempPrefix = "chatterbox-"

var tempPattern = regexp.MustCompile(`^chatterbox-.+_[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.wav$`)

// VoiceClient is the subset of the inference client the service uses
type VoiceClient interface {
	ListVoices(ctx context.Context) (*voice.VoiceList, error)
	Synthesize(ctx context.Context, r voice.SynthesizeRequest, onChunk func([]byte) error) (*voice.SynthesisInfo, error)
	UploadVoice(ctx context.Context, voiceID, filename string, audio io.Reader, sampleRate int) (*voice.OperationResponse, error)
	UploadVoiceFile(ctx context.Context, voiceID, path string, sampleRate int) (*voice.OperationResponse, error)
	DeleteVoice(ctx context.Context, voiceID string) (*voice.OperationResponse, error)
}

// Config holds service settings
type Config struct {
	MaxConcurrent int
	AudioFormat   string
	TempDir       string
	ChannelPolicy audio.ChannelPolicy
	HistoryKeep   int
}

// VoiceRecord is the read-only projection of a server voice
type VoiceRecord struct {
	VoiceID    string `json:"voice_id"`
	CreatedAt  string `json:"created_at"`
	SampleRate int    `json:"sample_rate"`
	FilePath   string `json:"file_path"`
}

// Status is the uniform outcome carried by every result. Code is set on
// failures raised by this process; a rejection reported by the server
// carries no code.
type Status struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Code    apperror.Code `json:"code,omitempty"`
}

// VoiceListResult is the outcome of ListVoices
type VoiceListResult struct {
	Status
	Voices []VoiceRecord `json:"voices"`
	Total  int           `json:"total"`
}

// SynthesisRequest describes one synthesis
type SynthesisRequest struct {
	Text      string `json:"text"`
	VoiceMode string `json:"voice_mode"`
	VoiceName string `json:"voice_name,omitempty"`
	VoiceID   string `json:"voice_id,omitempty"`
	SessionID string `json:"-"`
}

// SynthesisResult is the outcome of Synthesize
type SynthesisResult struct {
	Status
	Audio      []byte `json:"-"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Chunks     int    `json:"chunks,omitempty"`
	HistoryID  string `json:"history_id,omitempty"`
}

// OperationResult is the outcome of upload and delete
type OperationResult struct {
	Status
}

// Option configures the service
type Option func(*Service)

// WithHistory records successful syntheses in store
func WithHistory(store history.Store) Option {
	return func(s *Service) { s.history = store }
}

// WithVoiceCache caches the voice list for ttl. Upload and delete
// invalidate it.
func WithVoiceCache(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.voices = cache.New(cache.Config{MaxItems: 1, TTL: ttl})
		}
	}
}

const voiceListKey = "voices"

// Service wraps the voice client. Every exported operation returns a typed
// result; failures are logged and reported through Success/Message.
type Service struct {
	client  VoiceClient
	cfg     Config
	logger  *logging.Logger
	sem     chan struct{}
	history history.Store
	voices  *cache.Cache

	// voiceGen counts invalidations; a list fetched across one is not cached
	voiceMu  sync.Mutex
	voiceGen uint64
}

// NewService creates the service
func NewService(client VoiceClient, cfg Config, logger *logging.Logger, opts ...Option) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "wav"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Service{
		client: client,
		cfg:    cfg,
		logger: logger,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// acquire blocks until an upstream slot is free or ctx ends
func (s *Service) acquire(ctx context.Context) (func(), error) {
	select {
	case s.sem <- struct{}{}:
		return func() { <-s.sem }, nil
	case <-ctx.Done():
		return nil, apperror.Wrap(ctx.Err(), apperror.CodeTransport, "waiting for a free upstream slot")
	}
}

// failure logs err and turns it into a failed status
func (s *Service) failure(op string, err error) Status {
	code := apperror.GetCode(err)
	s.logger.Error("Operation failed", "operation", op, "error", err, "code", code)
	return Status{Message: err.Error(), Code: code}
}

// ListVoices returns all voices on the server
func (s *Service) ListVoices(ctx context.Context) VoiceListResult {
	release, err := s.acquire(ctx)
	if err != nil {
		return VoiceListResult{Status: s.failure("list_voices", err), Voices: []VoiceRecord{}}
	}
	defer release()

	list, err := s.listVoices(ctx)
	if err != nil {
		return VoiceListResult{Status: s.failure("list_voices", err), Voices: []VoiceRecord{}}
	}

	records := make([]VoiceRecord, 0, len(list.Voices))
	for _, v := range list.Voices {
		records = append(records, VoiceRecord{
			VoiceID:    v.VoiceID,
			CreatedAt:  v.UploadedAt,
			SampleRate: v.SampleRate,
			FilePath:   v.Filename,
		})
	}
	s.logger.Info("Voices retrieved", "total", list.Total)
	return VoiceListResult{
		Status: Status{Success: true, Message: "Retrieved voices"},
		Voices: records,
		Total:  list.Total,
	}
}

func (s *Service) listVoices(ctx context.Context) (*voice.VoiceList, error) {
	if s.voices == nil {
		s.logger.Debug("Calling ListVoices")
		return s.client.ListVoices(ctx)
	}
	if v, ok := s.voices.Get(voiceListKey); ok {
		return v.(*voice.VoiceList), nil
	}

	s.voiceMu.Lock()
	gen := s.voiceGen
	s.voiceMu.Unlock()

	s.logger.Debug("Calling ListVoices")
	list, err := s.client.ListVoices(ctx)
	if err != nil {
		return nil, err
	}

	s.voiceMu.Lock()
	if s.voiceGen == gen {
		s.voices.Set(voiceListKey, list)
	}
	s.voiceMu.Unlock()
	return list, nil
}

func (s *Service) invalidateVoices() {
	if s.voices == nil {
		return
	}
	s.voiceMu.Lock()
	s.voiceGen++
	s.voices.Delete(voiceListKey)
	s.voiceMu.Unlock()
}

// Close releases background resources
func (s *Service) Close() {
	if s.voices != nil {
		s.voices.Close()
	}
}

// ValidateSynthesis checks a request before it is sent
func ValidateSynthesis(r SynthesisRequest) error {
	if strings.TrimSpace(r.Text) == "" {
		return apperror.New(apperror.CodeValidation, "text must not be empty")
	}
	switch r.VoiceMode {
	case voice.ModeDefault:
	case voice.ModePredefined:
		if strings.TrimSpace(r.VoiceName) == "" {
			return apperror.New(apperror.CodeValidation, "predefined voice mode requires a voice name")
		}
	case voice.ModeClone:
		if strings.TrimSpace(r.VoiceID) == "" {
			return apperror.New(apperror.CodeValidation, "clone voice mode requires a voice id")
		}
	default:
		return apperror.Newf(apperror.CodeValidation, "unknown voice mode %q", r.VoiceMode)
	}
	return nil
}

// Synthesize requests speech and returns the concatenated audio
func (s *Service) Synthesize(ctx context.Context, r SynthesisRequest) SynthesisResult {
	if r.VoiceMode == "" {
		r.VoiceMode = voice.ModeDefault
	}
	if err := ValidateSynthesis(r); err != nil {
		return SynthesisResult{Status: s.failure("synthesize", err)}
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return SynthesisResult{Status: s.failure("synthesize", err)}
	}
	defer release()

	s.logger.Info("Starting synthesis", "mode", r.VoiceMode, "voice_name", r.VoiceName,
		"voice_id", r.VoiceID, "text_length", len(r.Text))

	var data bytes.Buffer
	info, err := s.client.Synthesize(ctx, voice.SynthesizeRequest{
		Text:        r.Text,
		VoiceMode:   r.VoiceMode,
		VoiceName:   r.VoiceName,
		VoiceID:     r.VoiceID,
		AudioFormat: s.cfg.AudioFormat,
	}, func(chunk []byte) error {
		data.Write(chunk)
		return nil
	})
	if err != nil {
		return SynthesisResult{Status: s.failure("synthesize", err)}
	}
	if data.Len() == 0 {
		return SynthesisResult{Status: s.failure("synthesize",
			apperror.New(apperror.CodeDecode, "server returned no audio"))}
	}

	result := SynthesisResult{
		Status:     Status{Success: true, Message: "Synthesis complete"},
		Audio:      data.Bytes(),
		Format:     s.cfg.AudioFormat,
		SampleRate: info.SampleRate,
		Chunks:     info.Chunks,
	}

	if s.cfg.AudioFormat == "wav" {
		wavInfo, err := audio.ParseWAVHeader(result.Audio)
		if err != nil {
			return SynthesisResult{Status: s.failure("synthesize",
				apperror.Wrap(err, apperror.CodeDecode, "server returned malformed audio"))}
		}
		result.SampleRate = wavInfo.SampleRate
	}

	s.logger.Info("Synthesis complete", "bytes", len(result.Audio), "chunks", result.Chunks)
	result.HistoryID = s.record(ctx, r, result)
	return result
}

func (s *Service) record(ctx context.Context, r SynthesisRequest, res SynthesisResult) string {
	if s.history == nil {
		return ""
	}
	entry := &history.Entry{
		SessionID:  r.SessionID,
		Text:       r.Text,
		VoiceMode:  r.VoiceMode,
		VoiceName:  r.VoiceName,
		VoiceID:    r.VoiceID,
		Format:     res.Format,
		SampleRate: res.SampleRate,
		Audio:      res.Audio,
	}
	if res.Format == "wav" {
		if info, err := audio.ParseWAVHeader(res.Audio); err == nil {
			entry.DurationMS = info.Duration().Milliseconds()
		}
	}
	if err := s.history.Save(ctx, entry); err != nil {
		s.logger.Warn("Failed to record synthesis", "error", err)
		return ""
	}
	if s.cfg.HistoryKeep > 0 {
		if _, err := s.history.Prune(ctx, s.cfg.HistoryKeep); err != nil {
			s.logger.Warn("Failed to prune history", "error", err)
		}
	}
	return entry.ID
}

func operationResult(resp *voice.OperationResponse) OperationResult {
	return OperationResult{Status{Success: resp.Success, Message: resp.Message}}
}

// UploadVoice uploads a recording from disk
func (s *Service) UploadVoice(ctx context.Context, voiceID, path string, sampleRate int) OperationResult {
	release, err := s.acquire(ctx)
	if err != nil {
		return OperationResult{Status: s.failure("upload_voice", err)}
	}
	defer release()

	resp, err := s.client.UploadVoiceFile(ctx, voiceID, path, sampleRate)
	if err != nil {
		return OperationResult{Status: s.failure("upload_voice", err)}
	}
	s.invalidateVoices()
	s.logger.Info("Voice uploaded", "voice_id", voiceID, "success", resp.Success, "message", resp.Message)
	return operationResult(resp)
}

// UploadVoiceReader streams an uploaded file to the server
func (s *Service) UploadVoiceReader(ctx context.Context, voiceID, filename string, r io.Reader, sampleRate int) OperationResult {
	if strings.TrimSpace(voiceID) == "" {
		return OperationResult{Status: s.failure("upload_voice",
			apperror.New(apperror.CodeValidation, "voice id must not be empty"))}
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return OperationResult{Status: s.failure("upload_voice", err)}
	}
	defer release()

	if filename == "" {
		filename = safeName(voiceID) + ".wav"
	}
	resp, err := s.client.UploadVoice(ctx, voiceID, filename, r, sampleRate)
	if err != nil {
		return OperationResult{Status: s.failure("upload_voice", err)}
	}
	s.invalidateVoices()
	s.logger.Info("Voice uploaded", "voice_id", voiceID, "filename", filename, "success", resp.Success)
	return operationResult(resp)
}

// UploadVoiceFromBase64 writes base64 audio to a temp file, uploads it and
// removes the file again. A failed removal is logged only.
func (s *Service) UploadVoiceFromBase64(ctx context.Context, voiceID, b64 string, sampleRate int) OperationResult {
	if strings.TrimSpace(voiceID) == "" {
		return OperationResult{Status: s.failure("upload_voice",
			apperror.New(apperror.CodeValidation, "voice id must not be empty"))}
	}
	data, err := audio.DecodeBase64(b64)
	if err != nil {
		return OperationResult{Status: s.failure("upload_voice", err)}
	}
	if len(data) == 0 {
		return OperationResult{Status: s.failure("upload_voice",
			apperror.New(apperror.CodeValidation, "no audio data"))}
	}

	path := filepath.Join(s.cfg.TempDir, tempPrefix+safeName(voiceID)+"_"+uuid.New().String()+".wav")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return OperationResult{Status: s.failure("upload_voice",
			apperror.Wrap(err, apperror.CodeInternal, "failed to write temp file"))}
	}
	defer func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove temp file", "path", path, "error", err)
		}
	}()

	return s.UploadVoice(ctx, voiceID, path, sampleRate)
}

// UploadCapture encodes a captured buffer as mono WAV and uploads it
func (s *Service) UploadCapture(ctx context.Context, voiceID string, buf *audio.AudioBuffer) OperationResult {
	wav, err := audio.EncodeWAV(buf, s.cfg.ChannelPolicy)
	if err != nil {
		return OperationResult{Status: s.failure("upload_capture", err)}
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return OperationResult{Status: s.failure("upload_capture", err)}
	}
	defer release()

	resp, err := s.client.UploadVoice(ctx, voiceID, safeName(voiceID)+".wav", bytes.NewReader(wav), buf.SampleRate)
	if err != nil {
		return OperationResult{Status: s.failure("upload_capture", err)}
	}
	s.invalidateVoices()
	s.logger.Info("Recorded voice uploaded", "voice_id", voiceID, "bytes", len(wav), "success", resp.Success)
	return operationResult(resp)
}

// DeleteVoice removes a voice on the server
func (s *Service) DeleteVoice(ctx context.Context, voiceID string) OperationResult {
	release, err := s.acquire(ctx)
	if err != nil {
		return OperationResult{Status: s.failure("delete_voice", err)}
	}
	defer release()

	resp, err := s.client.DeleteVoice(ctx, voiceID)
	if err != nil {
		return OperationResult{Status: s.failure("delete_voice", err)}
	}
	s.invalidateVoices()
	s.logger.Info("Voice deleted", "voice_id", voiceID, "success", resp.Success)
	return operationResult(resp)
}

// SweepTempFiles removes upload temp files older than maxAge, left behind by
// a crashed process. It returns the number of removed files.
func (s *Service) SweepTempFiles(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.cfg.TempDir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !tempPattern.MatchString(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.cfg.TempDir, e.Name())
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove stale temp file", "path", path, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("Removed stale upload files", "count", removed)
	}
	return removed, nil
}

// History returns a session's recent syntheses, or nil when history is
// disabled. history.AllSessions lists every session.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]*history.Entry, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, sessionID, limit)
}

// HistoryEntry returns one synthesis of a session including its audio
func (s *Service) HistoryEntry(ctx context.Context, sessionID, id string) (*history.Entry, error) {
	if s.history == nil {
		return nil, apperror.New(apperror.CodeNotFound, "history is disabled")
	}
	return s.history.Get(ctx, sessionID, id)
}

// DeleteHistory removes one stored synthesis of a session
func (s *Service) DeleteHistory(ctx context.Context, sessionID, id string) error {
	if s.history == nil {
		return apperror.New(apperror.CodeNotFound, "history is disabled")
	}
	return s.history.Delete(ctx, sessionID, id)
}

// safeName reduces a voice id to characters usable in a file name
func safeName(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "voice"
	}
	return b.String()
}
