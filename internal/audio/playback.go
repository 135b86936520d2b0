// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     audio
// Description: Playback adapter for WAV and raw PCM with replay/download slot
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package audio

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// Sink renders decoded audio. wav carries the same audio as a WAV container
// for sinks that play bytes rather than samples.
type Sink interface {
	Play(ctx context.Context, buf *AudioBuffer, wav []byte) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, buf *AudioBuffer, wav []byte) error

// Play implements Sink
func (f SinkFunc) Play(ctx context.Context, buf *AudioBuffer, wav []byte) error {
	return f(ctx, buf, wav)
}

// DiscardSink accepts audio without rendering it
type DiscardSink struct{}

// Play implements Sink
func (DiscardSink) Play(context.Context, *AudioBuffer, []byte) error { return nil }

// Source is the audio bound to the replay/download slot
type Source struct {
	ID         string
	WAV        []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
	Origin     string // "wav" or "pcm"
	BoundAt    time.Time
}

// PlaybackAdapter plays WAV or raw PCM through a sink and keeps the most
// recent audio for replay and download. Errors never propagate to the
// caller; they are logged and published on Errors().
type PlaybackAdapter struct {
	sink      Sink
	downloads *DownloadStore
	logger    *logging.Logger

	mu      sync.Mutex
	current *Source
	errs    chan error
}

// NewPlaybackAdapter creates an adapter. downloads may be nil when downloads are not offered.
func NewPlaybackAdapter(sink Sink, downloads *DownloadStore, logger *logging.Logger) *PlaybackAdapter {
	if sink == nil {
		sink = DiscardSink{}
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &PlaybackAdapter{
		sink:      sink,
		downloads: downloads,
		logger:    logger,
		errs:      make(chan error, 16),
	}
}

// Errors returns the error channel. Errors are dropped when nobody drains it.
func (p *PlaybackAdapter) Errors() <-chan error {
	return p.errs
}

// Current returns the source bound to the replay slot, or nil
func (p *PlaybackAdapter) Current() *Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// PlayWAV decodes a WAV container and plays it. On success the bytes replace
// the previous source. Malformed input is reported and nothing is played.
func (p *PlaybackAdapter) PlayWAV(ctx context.Context, data []byte) bool {
	_, played := p.PlayWAVSource(ctx, data)
	return played
}

// PlayWAVSource is PlayWAV that also returns the source it bound, or nil
// when the input was rejected. The source stays bound when the sink fails.
func (p *PlaybackAdapter) PlayWAVSource(ctx context.Context, data []byte) (*Source, bool) {
	buf, err := DecodeWAV(data)
	if err != nil {
		p.report("playWav", err)
		return nil, false
	}

	src := p.bind(data, buf, "wav")
	p.logger.Debug("Playing WAV audio", "bytes", len(data), "sample_rate", buf.SampleRate,
		"channels", buf.NumChannels(), "duration", buf.Duration())

	if err := p.sink.Play(ctx, buf, data); err != nil {
		p.report("playWav", err)
		return src, false
	}
	return src, true
}

// PlayPCM plays headerless mono 16-bit little-endian PCM at sampleRate and
// binds a WAV wrapper of the same bytes to the replay slot.
func (p *PlaybackAdapter) PlayPCM(ctx context.Context, data []byte, sampleRate int) bool {
	_, played := p.PlayPCMSource(ctx, data, sampleRate)
	return played
}

// PlayPCMSource is PlayPCM that also returns the source it bound, or nil
// when the input was rejected.
func (p *PlaybackAdapter) PlayPCMSource(ctx context.Context, data []byte, sampleRate int) (*Source, bool) {
	buf, err := DecodePCM16(data, sampleRate)
	if err != nil {
		p.report("playPcm", err)
		return nil, false
	}
	wav, err := WrapPCM16(data, sampleRate, 1)
	if err != nil {
		p.report("playPcm", err)
		return nil, false
	}

	src := p.bind(wav, buf, "pcm")
	p.logger.Debug("Playing PCM audio", "bytes", len(data), "sample_rate", sampleRate, "samples", buf.Frames())

	if err := p.sink.Play(ctx, buf, wav); err != nil {
		p.report("playPcm", err)
		return src, false
	}
	return src, true
}

// Download registers data as a temporary WAV download. The handle is released
// by the store after a bounded delay.
func (p *PlaybackAdapter) Download(data []byte, filename string) (Ticket, bool) {
	if p.downloads == nil {
		p.report("download", apperror.New(apperror.CodeInternal, "downloads are not available"))
		return Ticket{}, false
	}
	if len(data) == 0 {
		p.report("download", apperror.New(apperror.CodeValidation, "no audio to download"))
		return Ticket{}, false
	}
	t := p.downloads.Put(data, filename, 0)
	p.logger.Info("Download prepared", "filename", t.Filename, "bytes", t.Size)
	return t, true
}

// DownloadCurrent offers the bound source as a download
func (p *PlaybackAdapter) DownloadCurrent(filename string) (Ticket, bool) {
	src := p.Current()
	if src == nil {
		p.report("download", apperror.New(apperror.CodeValidation, "no audio to download"))
		return Ticket{}, false
	}
	return p.Download(src.WAV, filename)
}

func (p *PlaybackAdapter) bind(wav []byte, buf *AudioBuffer, origin string) *Source {
	src := &Source{
		ID:         uuid.New().String(),
		WAV:        wav,
		SampleRate: buf.SampleRate,
		Channels:   buf.NumChannels(),
		Duration:   buf.Duration(),
		Origin:     origin,
		BoundAt:    time.Now(),
	}
	p.mu.Lock()
	p.current = src
	p.mu.Unlock()
	return src
}

func (p *PlaybackAdapter) report(op string, err error) {
	if ae, ok := err.(*apperror.Error); ok && ae.Operation() == "" {
		ae.WithOperation(op)
	}
	p.logger.Error("Playback failed", "operation", op, "error", err)
	select {
	case p.errs <- err:
	default:
	}
}
