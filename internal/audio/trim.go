// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     audio
// Description: Leading/trailing silence removal with WebRTC VAD
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package audio

import (
	"fmt"
	"time"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

// vadRates are the sample rates WebRTC VAD accepts
var vadRates = []int{8000, 16000, 32000, 48000}

// TrimConfig controls silence trimming
type TrimConfig struct {
	// Mode is the VAD aggressiveness (0-3)
	Mode int

	// Padding is kept before the first and after the last voiced frame
	Padding time.Duration
}

// DefaultTrimConfig returns the settings used for voice uploads
func DefaultTrimConfig() TrimConfig {
	return TrimConfig{Mode: 2, Padding: 200 * time.Millisecond}
}

// TrimSilence cuts leading and trailing non-speech from the buffer. Buffers
// at rates VAD does not support are analysed on a 16 kHz copy; the cut is
// always applied to the original samples. If no speech is found the buffer
// is returned unchanged.
func TrimSilence(buf *AudioBuffer, cfg TrimConfig) (*AudioBuffer, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode < 0 || cfg.Mode > 3 {
		return nil, fmt.Errorf("VAD mode must be between 0 and 3, got %d", cfg.Mode)
	}
	if buf.Frames() == 0 {
		return buf, nil
	}

	analysis := NewMonoBuffer(buf.SampleRate, buf.Mono(FirstChannel))
	if !isVADRate(buf.SampleRate) {
		var err error
		analysis, err = Resample(analysis, 16000)
		if err != nil {
			return nil, err
		}
	}

	flags, err := detectSpeech(analysis, cfg.Mode)
	if err != nil {
		return nil, err
	}

	frameDur := 10 * time.Millisecond
	start, end, ok := voicedRange(flags, frameDur, cfg.Padding)
	if !ok {
		return buf, nil
	}

	from := int(int64(start) * int64(buf.SampleRate) / int64(time.Second))
	to := int(int64(end) * int64(buf.SampleRate) / int64(time.Second))
	if to > buf.Frames() {
		to = buf.Frames()
	}
	if from >= to {
		return buf, nil
	}

	out := &AudioBuffer{SampleRate: buf.SampleRate, Channels: make([][]float32, buf.NumChannels())}
	for c, ch := range buf.Channels {
		out.Channels[c] = append([]float32(nil), ch[from:to]...)
	}
	return out, nil
}

func isVADRate(rate int) bool {
	for _, r := range vadRates {
		if r == rate {
			return true
		}
	}
	return false
}

// detectSpeech classifies consecutive 10 ms frames. A trailing partial frame
// is zero padded.
func detectSpeech(buf *AudioBuffer, mode int) ([]bool, error) {
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC VAD: %w", err)
	}
	if err := vad.SetMode(mode); err != nil {
		return nil, fmt.Errorf("failed to set VAD mode: %w", err)
	}

	frameSize := buf.SampleRate / 100
	samples := buf.Channels[0]
	frame := make([]byte, frameSize*2)

	var flags []bool
	for pos := 0; pos < len(samples); pos += frameSize {
		for i := 0; i < frameSize; i++ {
			var s int16
			if pos+i < len(samples) {
				s = QuantizeSample(samples[pos+i])
			}
			frame[2*i] = byte(s)
			frame[2*i+1] = byte(s >> 8)
		}
		active, err := vad.Process(buf.SampleRate, frame)
		if err != nil {
			return nil, fmt.Errorf("VAD processing failed: %w", err)
		}
		flags = append(flags, active)
	}
	return flags, nil
}

// voicedRange returns the time span from the first to the last voiced frame,
// widened by padding and clamped to the analysed length.
func voicedRange(flags []bool, frame, padding time.Duration) (time.Duration, time.Duration, bool) {
	first, last := -1, -1
	for i, v := range flags {
		if !v {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return 0, 0, false
	}

	start := time.Duration(first)*frame - padding
	if start < 0 {
		start = 0
	}
	end := time.Duration(last+1)*frame + padding
	if total := time.Duration(len(flags)) * frame; end > total {
		end = total
	}
	return start, end, true
}
