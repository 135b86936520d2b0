// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     web
// Description: Browser microphone and speaker reached over the WebSocket
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package web

import (
	"context"
	"sync"
	"time"

	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// Server to browser events of the capture protocol
const (
	EventCaptureOpen    = "capture.open"
	EventCaptureFlush   = "capture.flush"
	EventCaptureRelease = "capture.release"
	EventPlaybackPlay   = "playback.play"
)

// DefaultOpenTimeout bounds how long the browser may take to grant the microphone
const DefaultOpenTimeout = 10 * time.Second

// chunkBuffer is the number of undelivered chunks a stream holds
const chunkBuffer = 256

// Sender delivers an event to the browser of a session
type Sender interface {
	Send(typ string, payload interface{}) error
}

// CaptureOpenPayload asks the browser to start its MediaRecorder. MIMETypes
// lists the containers the server decodes; empty means any.
type CaptureOpenPayload struct {
	TimesliceMS int      `json:"timeslice_ms"`
	MIMETypes   []string `json:"mime_types,omitempty"`
}

// PlaybackPayload carries audio for the page's audio element
type PlaybackPayload struct {
	WAVBase64  string  `json:"wav_base64"`
	SampleRate int     `json:"sample_rate"`
	Duration   float64 `json:"duration"`
}

type openReply struct {
	mimeType string
	errName  string
	errMsg   string
}

// RemoteDevice is the browser microphone. Requests go out as events; the
// WebSocket read loop feeds acks and binary chunks back through the Handle
// methods.
type RemoteDevice struct {
	out         Sender
	openTimeout time.Duration
	timeslice   time.Duration
	mimeTypes   []string
	logger      *logging.Logger

	mu      sync.Mutex
	opening chan openReply
	stream  *remoteStream
}

// NewRemoteDevice creates a device that talks through out
func NewRemoteDevice(out Sender, openTimeout time.Duration, logger *logging.Logger) *RemoteDevice {
	if openTimeout <= 0 {
		openTimeout = DefaultOpenTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RemoteDevice{
		out:         out,
		openTimeout: openTimeout,
		timeslice:   250 * time.Millisecond,
		logger:      logger,
	}
}

// SetMIMETypes sets the recording formats offered to the browser
func (d *RemoteDevice) SetMIMETypes(types []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mimeTypes = append([]string(nil), types...)
}

// Open asks the browser for the microphone and waits for its answer
func (d *RemoteDevice) Open(ctx context.Context) (audio.Stream, error) {
	reply := make(chan openReply, 1)

	d.mu.Lock()
	if d.stream != nil || d.opening != nil {
		d.mu.Unlock()
		return nil, apperror.New(apperror.CodeInvalidState, "microphone is already in use")
	}
	d.opening = reply
	payload := CaptureOpenPayload{
		TimesliceMS: int(d.timeslice / time.Millisecond),
		MIMETypes:   d.mimeTypes,
	}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.opening = nil
		d.mu.Unlock()
	}()

	if err := d.out.Send(EventCaptureOpen, payload); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDeviceUnavailable, "no browser connection")
	}

	ctx, cancel := context.WithTimeout(ctx, d.openTimeout)
	defer cancel()

	select {
	case r := <-reply:
		if r.errName != "" {
			return nil, deniedError(r.errName, r.errMsg)
		}
		s := newRemoteStream(d, r.mimeType)
		d.mu.Lock()
		d.stream = s
		d.mu.Unlock()
		return s, nil
	case <-ctx.Done():
		// The browser may still grant access later; make it let go
		d.out.Send(EventCaptureRelease, nil)
		return nil, apperror.Wrap(ctx.Err(), apperror.CodeDeviceUnavailable, "browser did not open the microphone")
	}
}

// deniedError maps a getUserMedia DOMException name to an error code
func deniedError(name, message string) error {
	code := apperror.CodeDeviceUnavailable
	switch name {
	case "NotAllowedError", "SecurityError", "PermissionDeniedError":
		code = apperror.CodePermissionDenied
	}
	if message == "" {
		message = name
	}
	return apperror.Newf(code, "microphone unavailable: %s", message)
}

// HandleOpened acknowledges a pending Open
func (d *RemoteDevice) HandleOpened(mimeType string) {
	d.reply(openReply{mimeType: mimeType})
}

// HandleDenied rejects a pending Open
func (d *RemoteDevice) HandleDenied(name, message string) {
	if name == "" {
		name = "NotReadableError"
	}
	d.reply(openReply{errName: name, errMsg: message})
}

func (d *RemoteDevice) reply(r openReply) {
	d.mu.Lock()
	ch := d.opening
	d.mu.Unlock()
	if ch == nil {
		d.logger.Debug("Ignoring capture reply without pending open")
		return
	}
	select {
	case ch <- r:
	default:
	}
}

// HandleChunk forwards a recorded chunk to the open stream
func (d *RemoteDevice) HandleChunk(data []byte) {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s == nil {
		d.logger.Debug("Dropping chunk without open stream", "bytes", len(data))
		return
	}
	s.deliver(data)
}

// HandleFlushed marks the final chunk as delivered
func (d *RemoteDevice) HandleFlushed() {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s != nil {
		s.flushedOnce.Do(func() { close(s.flushed) })
	}
}

// Disconnect ends the open stream when the browser goes away
func (d *RemoteDevice) Disconnect() {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s != nil {
		s.finish()
	}
	d.reply(openReply{errName: "AbortError", errMsg: "browser disconnected"})
}

func (d *RemoteDevice) detach(s *remoteStream) {
	d.mu.Lock()
	if d.stream == s {
		d.stream = nil
	}
	d.mu.Unlock()
}

// remoteStream is one MediaRecorder run
type remoteStream struct {
	device   *RemoteDevice
	mimeType string

	mu     sync.Mutex
	chunks chan []byte
	done   bool

	flushed     chan struct{}
	flushedOnce sync.Once
	closeOnce   sync.Once
}

func newRemoteStream(d *RemoteDevice, mimeType string) *remoteStream {
	return &remoteStream{
		device:   d,
		mimeType: mimeType,
		chunks:   make(chan []byte, chunkBuffer),
		flushed:  make(chan struct{}),
	}
}

func (s *remoteStream) Chunks() <-chan []byte { return s.chunks }

func (s *remoteStream) MIMEType() string { return s.mimeType }

// deliver blocks while the buffer is full; the capture session drains it
// until the channel is closed.
func (s *remoteStream) deliver(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.chunks <- data
}

func (s *remoteStream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.done {
		s.done = true
		close(s.chunks)
	}
}

// Flush stops the MediaRecorder and waits for its final chunk
func (s *remoteStream) Flush(ctx context.Context) error {
	if err := s.device.out.Send(EventCaptureFlush, nil); err != nil {
		s.finish()
		return apperror.Wrap(err, apperror.CodeDeviceUnavailable, "no browser connection")
	}
	select {
	case <-s.flushed:
		s.finish()
		return nil
	case <-ctx.Done():
		return apperror.Wrap(ctx.Err(), apperror.CodeDeviceUnavailable, "browser did not flush the recording")
	}
}

// Close stops the tracks in the browser
func (s *remoteStream) Close() error {
	s.closeOnce.Do(func() {
		s.finish()
		s.device.detach(s)
		if sendErr := s.device.out.Send(EventCaptureRelease, nil); sendErr != nil {
			s.device.logger.Debug("Release not delivered", "error", sendErr)
		}
	})
	return nil
}

// BrowserSink plays audio through the page's audio element
type BrowserSink struct {
	out Sender
}

// NewBrowserSink creates a sink that sends playback events through out
func NewBrowserSink(out Sender) *BrowserSink {
	return &BrowserSink{out: out}
}

// Play implements audio.Sink
func (b *BrowserSink) Play(ctx context.Context, buf *audio.AudioBuffer, wav []byte) error {
	err := b.out.Send(EventPlaybackPlay, PlaybackPayload{
		WAVBase64:  audio.EncodeBase64(wav),
		SampleRate: buf.SampleRate,
		Duration:   buf.Duration().Seconds(),
	})
	if err != nil {
		return apperror.Wrap(err, apperror.CodeDeviceUnavailable, "no browser connection")
	}
	return nil
}
