//go:build voice

// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     audio
// Description: Local microphone and speaker access using PortAudio
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// LocalAudioAvailable reports whether this build can open local devices
const LocalAudioAvailable = true

// PortAudioDevice captures from a local input device. Chunks are raw float32
// little-endian frames described by PCMMIME.
type PortAudioDevice struct {
	cfg    LocalConfig
	logger *logging.Logger
}

// NewLocalDevice creates a capture device for the configured input
func NewLocalDevice(cfg LocalConfig, logger *logging.Logger) Device {
	if logger == nil {
		logger = logging.Nop()
	}
	return &PortAudioDevice{cfg: cfg.withDefaults(), logger: logger}
}

// Open initializes PortAudio and starts the input stream
func (d *PortAudioDevice) Open(ctx context.Context) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDeviceUnavailable, "failed to initialize PortAudio")
	}

	buffer := make([]float32, d.cfg.FramesPerBuffer*d.cfg.Channels)
	var stream *portaudio.Stream
	var err error

	if d.cfg.DeviceName != "" && d.cfg.DeviceName != "default" {
		device, findErr := findInputDevice(d.cfg.DeviceName)
		if findErr != nil {
			d.logger.Warn("Input device not found, using default", "device", d.cfg.DeviceName)
			stream, err = portaudio.OpenDefaultStream(d.cfg.Channels, 0, float64(d.cfg.SampleRate), d.cfg.FramesPerBuffer, buffer)
		} else {
			stream, err = portaudio.OpenStream(portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   device,
					Channels: d.cfg.Channels,
					Latency:  device.DefaultLowInputLatency,
				},
				SampleRate:      float64(d.cfg.SampleRate),
				FramesPerBuffer: d.cfg.FramesPerBuffer,
			}, buffer)
		}
	} else {
		stream, err = portaudio.OpenDefaultStream(d.cfg.Channels, 0, float64(d.cfg.SampleRate), d.cfg.FramesPerBuffer, buffer)
	}
	if err != nil {
		portaudio.Terminate()
		return nil, apperror.Wrap(err, apperror.CodeDeviceUnavailable, "failed to open audio stream")
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, apperror.Wrap(err, apperror.CodeDeviceUnavailable, "failed to start audio stream")
	}

	s := &portAudioStream{
		stream: stream,
		buffer: buffer,
		mime:   PCMMIME(d.cfg.SampleRate, d.cfg.Channels),
		chunks: make(chan []byte, 64),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: d.logger,
	}
	go s.loop()
	return s, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
	buffer []float32
	mime   string
	chunks chan []byte
	logger *logging.Logger

	stopOnce  sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func (s *portAudioStream) loop() {
	defer close(s.done)
	defer close(s.chunks)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, portaudio.InputOverflowed) {
				continue
			}
			s.logger.Warn("Audio stream read failed", "error", err)
			return
		}

		select {
		case s.chunks <- EncodeFloatPCM(s.buffer):
		case <-s.stop:
			return
		}
	}
}

func (s *portAudioStream) Chunks() <-chan []byte { return s.chunks }
func (s *portAudioStream) MIMEType() string      { return s.mime }

// Flush stops reading after the current buffer and waits for the loop to end
func (s *portAudioStream) Flush(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the stream and terminates PortAudio
func (s *portAudioStream) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.stopOnce.Do(func() { close(s.stop) })
		<-s.done
		s.stream.Stop()
		if err := s.stream.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close audio stream: %w", err)
		}
		if err := portaudio.Terminate(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("failed to terminate PortAudio: %w", err)
		}
	})
	return closeErr
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s", name)
}

// PortAudioSink plays buffers on the default output device
type PortAudioSink struct {
	mu sync.Mutex
}

// NewLocalSink creates a sink for the default output device
func NewLocalSink() Sink {
	return &PortAudioSink{}
}

// Play blocks until the buffer has been written or ctx is cancelled
func (p *PortAudioSink) Play(ctx context.Context, buf *AudioBuffer, _ []byte) error {
	if err := buf.Validate(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return apperror.Wrap(err, apperror.CodeDeviceUnavailable, "failed to initialize PortAudio")
	}
	defer portaudio.Terminate()

	const framesPerBuffer = 1024
	channels := buf.NumChannels()
	samples := buf.Interleave()
	out := make([]float32, framesPerBuffer*channels)

	stream, err := portaudio.OpenDefaultStream(0, channels, float64(buf.SampleRate), framesPerBuffer, &out)
	if err != nil {
		return apperror.Wrap(err, apperror.CodeDeviceUnavailable, "failed to open output stream")
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return apperror.Wrap(err, apperror.CodeDeviceUnavailable, "failed to start output stream")
	}
	defer stream.Stop()

	for pos := 0; pos < len(samples); pos += len(out) {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := copy(out, samples[pos:])
		for i := n; i < len(out); i++ {
			out[i] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("failed to write to stream: %w", err)
		}
	}
	return nil
}

// ListInputDevices returns the available input devices
func ListInputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDeviceUnavailable, "failed to initialize PortAudio")
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var inputs []InputDevice
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			inputs = append(inputs, InputDevice{
				Name:              dev.Name,
				MaxInputChannels:  dev.MaxInputChannels,
				DefaultSampleRate: dev.DefaultSampleRate,
				IsDefault:         dev.Name == defaultName,
			})
		}
	}
	return inputs, nil
}
