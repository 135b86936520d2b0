// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     voice
// Description: HTTP client for the Chatterbox inference server
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
	"github.com/msto63/chatterbox-ui/pkg/core/version"
)

// Voice modes accepted by the synthesis endpoint
const (
	ModeDefault    = "default"
	ModePredefined = "predefined"
	ModeClone      = "clone"
)

// APIKeyHeader carries the API key when one is configured
const APIKeyHeader = "X-API-Key"

// streamBufferSize is the read size for streamed synthesis responses
const streamBufferSize = 32 * 1024

// Config holds client configuration
type Config struct {
	// ServerURL is the inference server base URL (e.g. "http://localhost:20480")
	ServerURL string

	// APIKey is sent in the X-API-Key header; empty disables the header
	APIKey string

	// Timeout bounds a whole request including a streamed response body
	Timeout time.Duration
}

// VoiceInfo describes an uploaded voice profile
type VoiceInfo struct {
	VoiceID    string `json:"voice_id"`
	Filename   string `json:"filename"`
	UploadedAt string `json:"uploaded_at"`
	SampleRate int    `json:"sample_rate"`
}

// VoiceList is the response of the voice listing endpoint
type VoiceList struct {
	Voices []VoiceInfo `json:"voices"`
	Total  int         `json:"total"`
}

// OperationResponse is returned by upload and delete
type OperationResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SynthesizeRequest is the body of a synthesis call
type SynthesizeRequest struct {
	Text        string `json:"text"`
	VoiceMode   string `json:"voice_mode"`
	VoiceName   string `json:"voice_name,omitempty"`
	VoiceID     string `json:"voice_id,omitempty"`
	AudioFormat string `json:"audio_format"`
}

// SynthesisInfo summarizes a completed synthesis stream
type SynthesisInfo struct {
	ContentType string
	SampleRate  int
	Bytes       int
	Chunks      int
	Duration    time.Duration
}

// Client talks to the inference server. It is safe for concurrent use and
// never retries.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *logging.Logger
}

// NewClient creates a client. A nil logger discards output.
func NewClient(cfg Config, logger *logging.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperror.Newf(apperror.CodeValidation, "invalid server URL %q", cfg.ServerURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Nop()
	}

	logger.Info("Voice client initialized", "server_url", base, "api_key_present", cfg.APIKey != "")

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}, nil
}

// BaseURL returns the server base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to create request")
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
	return req, nil
}

// do sends the request and converts transport failures and non-2xx replies.
// On success the caller owns resp.Body.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Failure("Request to inference server failed", err)
		return nil, apperror.Wrap(err, apperror.CodeTransport, "request failed").WithOperation(op)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		c.logger.Response(resp.StatusCode, string(body))
		return nil, apperror.Newf(apperror.CodeTransport, "server returned %d: %s",
			resp.StatusCode, logging.Truncate(strings.TrimSpace(string(body)), logging.MaxLoggedBody)).
			WithOperation(op)
	}
	return resp, nil
}

// doJSON sends the request and decodes a JSON reply into out
func (c *Client) doJSON(req *http.Request, op string, out interface{}) error {
	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeTransport, "failed to read response").WithOperation(op)
	}
	c.logger.Response(resp.StatusCode, string(body))

	if err := json.Unmarshal(body, out); err != nil {
		return apperror.Wrap(err, apperror.CodeDecode, "failed to parse response").WithOperation(op)
	}
	return nil
}

// ListVoices returns the voices stored on the server
func (c *Client) ListVoices(ctx context.Context) (*VoiceList, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/voices", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	c.logger.Request(req.Method, req.URL.String(), "")

	var list VoiceList
	if err := c.doJSON(req, "voice.list", &list); err != nil {
		return nil, err
	}
	if list.Voices == nil {
		list.Voices = []VoiceInfo{}
	}
	if list.Total == 0 {
		list.Total = len(list.Voices)
	}
	c.logger.Debug("Voices retrieved", "total", list.Total)
	return &list, nil
}

// Synthesize requests speech for the given text and hands the response body
// to onChunk in the order it arrives. An error returned by onChunk aborts the
// stream and is returned unchanged.
func (c *Client) Synthesize(ctx context.Context, r SynthesizeRequest, onChunk func([]byte) error) (*SynthesisInfo, error) {
	if strings.TrimSpace(r.Text) == "" {
		return nil, apperror.New(apperror.CodeValidation, "text must not be empty").WithOperation("voice.synthesize")
	}
	if r.VoiceMode == "" {
		r.VoiceMode = ModeDefault
	}
	if r.AudioFormat == "" {
		r.AudioFormat = "wav"
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to encode request")
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/synthesize", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.logger.Request(req.Method, req.URL.String(), string(payload))

	start := time.Now()
	resp, err := c.do(req, "voice.synthesize")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	info := &SynthesisInfo{ContentType: resp.Header.Get("Content-Type")}
	if rate, err := strconv.Atoi(resp.Header.Get("X-Sample-Rate")); err == nil {
		info.SampleRate = rate
	}

	buf := make([]byte, streamBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			info.Bytes += n
			info.Chunks++
			c.logger.Debug(fmt.Sprintf("Received chunk: %d bytes, total so far: %d bytes", n, info.Bytes))
			if err := onChunk(chunk); err != nil {
				return nil, err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, apperror.Wrap(readErr, apperror.CodeTransport, "synthesis stream interrupted").
				WithOperation("voice.synthesize")
		}
	}

	info.Duration = time.Since(start)
	c.logger.Info("Synthesis complete", "bytes", info.Bytes, "chunks", info.Chunks, "duration", info.Duration)
	return info, nil
}

// UploadVoice uploads a reference recording for voice cloning
func (c *Client) UploadVoice(ctx context.Context, voiceID, filename string, audio io.Reader, sampleRate int) (*OperationResponse, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, apperror.New(apperror.CodeValidation, "voice id must not be empty").WithOperation("voice.upload")
	}
	if sampleRate <= 0 {
		return nil, apperror.Newf(apperror.CodeValidation, "invalid sample rate %d", sampleRate).WithOperation("voice.upload")
	}
	if filename == "" {
		filename = voiceID + ".wav"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("voice_id", voiceID); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to write voice_id field")
	}
	if err := writer.WriteField("sample_rate", strconv.Itoa(sampleRate)); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to write sample_rate field")
	}
	part, err := writer.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to create form file")
	}
	size, err := io.Copy(part, audio)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to write audio data")
	}
	if err := writer.Close(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to close multipart writer")
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/voices", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.logger.Request(req.Method, req.URL.String(),
		fmt.Sprintf("voice_id=%s sample_rate=%d file=%s (%d bytes)", voiceID, sampleRate, filename, size))

	var result OperationResponse
	if err := c.doJSON(req, "voice.upload", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadVoiceFile uploads a recording from disk
func (c *Client) UploadVoiceFile(ctx context.Context, voiceID, path string, sampleRate int) (*OperationResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeValidation, "failed to open audio file").WithOperation("voice.upload")
	}
	defer f.Close()
	return c.UploadVoice(ctx, voiceID, filepath.Base(path), f, sampleRate)
}

// DeleteVoice removes a voice profile
func (c *Client) DeleteVoice(ctx context.Context, voiceID string) (*OperationResponse, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, apperror.New(apperror.CodeValidation, "voice id must not be empty").WithOperation("voice.delete")
	}
	req, err := c.newRequest(ctx, http.MethodDelete, "/voices/"+url.PathEscape(voiceID), nil)
	if err != nil {
		return nil, err
	}
	c.logger.Request(req.Method, req.URL.String(), "")

	var result OperationResponse
	if err := c.doJSON(req, "voice.delete", &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Ping checks reachability by listing voices
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListVoices(ctx)
	return err
}
