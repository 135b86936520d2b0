// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     audio
// Description: Planar float audio buffer and channel policy
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package audio

import (
	"fmt"
	"strings"
	"time"

	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
)

// AudioBuffer holds planar float samples in [-1, 1], one slice per channel
type AudioBuffer struct {
	Channels   [][]float32
	SampleRate int
}

// NewAudioBuffer creates a buffer from per-channel sample slices
func NewAudioBuffer(sampleRate int, channels ...[]float32) *AudioBuffer {
	return &AudioBuffer{Channels: channels, SampleRate: sampleRate}
}

// NewMonoBuffer creates a single-channel buffer
func NewMonoBuffer(sampleRate int, samples []float32) *AudioBuffer {
	return NewAudioBuffer(sampleRate, samples)
}

// NumChannels returns the channel count
func (b *AudioBuffer) NumChannels() int {
	return len(b.Channels)
}

// Frames returns the number of samples per channel
func (b *AudioBuffer) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length
func (b *AudioBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// Validate checks rate and channel layout
func (b *AudioBuffer) Validate() error {
	if b == nil {
		return apperror.New(apperror.CodeValidation, "audio buffer is nil")
	}
	if b.SampleRate <= 0 {
		return apperror.Newf(apperror.CodeValidation, "invalid sample rate %d", b.SampleRate)
	}
	if len(b.Channels) == 0 {
		return apperror.New(apperror.CodeValidation, "audio buffer has no channels")
	}
	n := len(b.Channels[0])
	for i, ch := range b.Channels[1:] {
		if len(ch) != n {
			return apperror.Newf(apperror.CodeValidation,
				"channel %d has %d samples, channel 0 has %d", i+1, len(ch), n)
		}
	}
	return nil
}

// Interleave returns frame-major samples (L R L R ...)
func (b *AudioBuffer) Interleave() []float32 {
	nch := b.NumChannels()
	frames := b.Frames()
	out := make([]float32, frames*nch)
	for f := 0; f < frames; f++ {
		for c := 0; c < nch; c++ {
			out[f*nch+c] = b.Channels[c][f]
		}
	}
	return out
}

// Deinterleave splits frame-major samples into a planar buffer. Trailing
// samples that do not fill a whole frame are dropped.
func Deinterleave(samples []float32, channels, sampleRate int) *AudioBuffer {
	if channels < 1 {
		channels = 1
	}
	frames := len(samples) / channels
	planar := make([][]float32, channels)
	for c := range planar {
		planar[c] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			planar[c][f] = samples[f*channels+c]
		}
	}
	return &AudioBuffer{Channels: planar, SampleRate: sampleRate}
}

// ChannelPolicy decides how a multi-channel buffer becomes mono
type ChannelPolicy int

const (
	// FirstChannel keeps channel 0 and ignores the rest. This is the
	// behaviour of the voice upload pipeline.
	FirstChannel ChannelPolicy = iota

	// Downmix averages all channels
	Downmix
)

// String returns the config name of the policy
func (p ChannelPolicy) String() string {
	switch p {
	case FirstChannel:
		return "first"
	case Downmix:
		return "downmix"
	default:
		return "unknown"
	}
}

// ParseChannelPolicy converts a config name to a policy
func ParseChannelPolicy(s string) (ChannelPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first", "channel0":
		return FirstChannel, nil
	case "downmix", "mix":
		return Downmix, nil
	default:
		return FirstChannel, fmt.Errorf("unknown channel policy %q", s)
	}
}

// Mono reduces the buffer to one channel according to the policy.
// The returned slice may share memory with channel 0.
func (b *AudioBuffer) Mono(policy ChannelPolicy) []float32 {
	if len(b.Channels) == 0 {
		return nil
	}
	if policy != Downmix || len(b.Channels) == 1 {
		return b.Channels[0]
	}

	frames := b.Frames()
	out := make([]float32, frames)
	scale := 1 / float32(len(b.Channels))
	for _, ch := range b.Channels {
		for i := 0; i < frames; i++ {
			out[i] += ch[i] * scale
		}
	}
	return out
}
