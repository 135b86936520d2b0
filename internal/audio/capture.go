// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     audio
// Description: Capture session lifecycle (Idle -> Recording -> Stopped)
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package audio

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// CaptureState is the lifecycle state of a capture session
type CaptureState int

const (
	StateIdle CaptureState = iota
	StateRecording
	StateStopped
)

// String returns the string representation of the state
func (s CaptureState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Device acquires a capture stream (a browser microphone, a local input device)
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired capture source
type Stream interface {
	// Chunks delivers encoded data in emission order. The channel is closed
	// once the device has emitted its last chunk after Flush or Close.
	Chunks() <-chan []byte

	// MIMEType describes the encoding of the chunks
	MIMEType() string

	// Flush asks the device to emit buffered data and finish
	Flush(ctx context.Context) error

	// Close releases the underlying tracks
	Close() error
}

// Capture is the result of a finished session
type Capture struct {
	Data       []byte
	MIMEType   string
	ChunkCount int
	Elapsed    time.Duration
}

// CaptureSession owns one recording from start to stop. It is not reusable:
// create a new session for every recording.
type CaptureSession struct {
	id     string
	device Device
	logger *logging.Logger

	// opMu serializes Start and Stop; mu guards the fields below
	opMu sync.Mutex
	mu   sync.Mutex

	state     CaptureState
	stream    Stream
	chunks    [][]byte
	collected chan struct{}
	startedAt time.Time
}

// NewCaptureSession creates an idle session for the given device
func NewCaptureSession(device Device, logger *logging.Logger) *CaptureSession {
	if logger == nil {
		logger = logging.Nop()
	}
	id := uuid.New().String()
	return &CaptureSession{
		id:     id,
		device: device,
		logger: logger.With("capture_id", id),
		state:  StateIdle,
	}
}

// ID returns the session identifier
func (s *CaptureSession) ID() string {
	return s.id
}

// State returns the current lifecycle state
func (s *CaptureSession) State() CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChunkCount returns the number of chunks received so far
func (s *CaptureSession) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Start acquires the device and begins collecting chunks. It reports whether
// capture began. A session that is not idle is rejected with INVALID_STATE;
// device failures keep the session idle and carry PERMISSION_DENIED or
// DEVICE_UNAVAILABLE.
func (s *CaptureSession) Start(ctx context.Context) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if st := s.State(); st != StateIdle {
		return false, apperror.Newf(apperror.CodeInvalidState, "capture session is %s", st).
			WithOperation("capture.start")
	}

	stream, err := s.device.Open(ctx)
	if err != nil {
		code := apperror.GetCode(err)
		if code != apperror.CodePermissionDenied && code != apperror.CodeDeviceUnavailable {
			code = apperror.CodeDeviceUnavailable
		}
		s.logger.Warn("Capture device not acquired", "error", err, "code", code)
		return false, apperror.Wrap(err, code, "acquire capture device").WithOperation("capture.start")
	}

	s.mu.Lock()
	if s.state != StateIdle {
		// Aborted while the device was being acquired
		s.mu.Unlock()
		stream.Close()
		return false, apperror.New(apperror.CodeInvalidState, "capture session aborted").
			WithOperation("capture.start")
	}
	s.stream = stream
	s.state = StateRecording
	s.startedAt = time.Now()
	s.collected = make(chan struct{})
	s.mu.Unlock()

	go s.collect(stream.Chunks(), s.collected)

	s.logger.Info("Recording started", "mime_type", stream.MIMEType())
	return true, nil
}

func (s *CaptureSession) collect(chunks <-chan []byte, done chan struct{}) {
	defer close(done)
	for chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		c := make([]byte, len(chunk))
		copy(c, chunk)

		s.mu.Lock()
		s.chunks = append(s.chunks, c)
		s.mu.Unlock()
	}
}

// Stop flushes the device, releases it and returns all chunks concatenated in
// arrival order. It blocks until the device has delivered its final chunk or
// ctx expires. Stop on a session that is not recording returns (nil, nil), as
// does a recording without any data.
func (s *CaptureSession) Stop(ctx context.Context) (*Capture, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return nil, nil
	}
	s.state = StateStopped
	stream := s.stream
	collected := s.collected
	s.mu.Unlock()

	if err := stream.Flush(ctx); err != nil {
		s.logger.Warn("Capture flush failed", "error", err)
	}

	var waitErr error
	select {
	case <-collected:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	if err := stream.Close(); err != nil {
		s.logger.Warn("Failed to release capture device", "error", err)
	}

	if waitErr != nil {
		// Close ends the chunk stream; wait briefly so no late append races the reset
		select {
		case <-collected:
		case <-time.After(time.Second):
		}
	}

	s.mu.Lock()
	chunks := s.chunks
	s.chunks = nil
	s.stream = nil
	elapsed := time.Since(s.startedAt)
	s.mu.Unlock()

	if waitErr != nil {
		s.logger.Warn("Capture flush timed out", "error", waitErr)
		return nil, apperror.Wrap(waitErr, apperror.CodeDeviceUnavailable, "wait for capture flush").
			WithOperation("capture.stop")
	}

	if len(chunks) == 0 {
		s.logger.Info("Recording stopped without data")
		return nil, nil
	}

	result := &Capture{
		Data:       bytes.Join(chunks, nil),
		MIMEType:   stream.MIMEType(),
		ChunkCount: len(chunks),
		Elapsed:    elapsed,
	}
	s.logger.Info("Recording stopped", "chunks", result.ChunkCount, "bytes", len(result.Data), "elapsed", elapsed)
	return result, nil
}

// Abort releases the device without producing a result
func (s *CaptureSession) Abort() {
	s.mu.Lock()
	if s.state != StateRecording {
		s.state = StateStopped
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	stream := s.stream
	s.stream = nil
	s.chunks = nil
	s.mu.Unlock()

	if err := stream.Close(); err != nil {
		s.logger.Warn("Failed to release capture device", "error", err)
	}
	s.logger.Info("Recording aborted")
}
