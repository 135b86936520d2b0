// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     audio
// Description: MIME-dispatched decoders for captured and uploaded audio
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"mime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
)

// Media types understood by the registry
const (
	MIMEPCM  = "audio/pcm"
	MIMEOgg  = "audio/ogg"
	MIMEWebM = "audio/webm"
)

// Decoder turns an encoded blob into planar float samples
type Decoder interface {
	Decode(ctx context.Context, data []byte, params map[string]string) (*AudioBuffer, error)
}

// DecoderFunc adapts a function to Decoder
type DecoderFunc func(ctx context.Context, data []byte, params map[string]string) (*AudioBuffer, error)

// Decode implements Decoder
func (f DecoderFunc) Decode(ctx context.Context, data []byte, params map[string]string) (*AudioBuffer, error) {
	return f(ctx, data, params)
}

// DecoderRegistry selects a decoder by media type. Unregistered types go to
// the fallback decoder when one is set.
type DecoderRegistry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
	fallback Decoder
}

// NewDecoderRegistry creates a registry with the in-process decoders
// (WAV, raw float PCM, Ogg Opus, WebM Opus) registered.
func NewDecoderRegistry() *DecoderRegistry {
	r := &DecoderRegistry{decoders: make(map[string]Decoder)}

	wav := DecoderFunc(func(_ context.Context, data []byte, _ map[string]string) (*AudioBuffer, error) {
		return DecodeWAV(data)
	})
	for _, t := range []string{MIMEWAV, "audio/wave", "audio/x-wav", "audio/vnd.wave"} {
		r.decoders[t] = wav
	}
	r.decoders[MIMEPCM] = DecoderFunc(decodeFloatPCM)
	r.decoders[MIMEOgg] = DecoderFunc(func(_ context.Context, data []byte, _ map[string]string) (*AudioBuffer, error) {
		return DecodeOggOpus(data)
	})
	r.decoders["audio/opus"] = r.decoders[MIMEOgg]
	r.decoders[MIMEWebM] = DecoderFunc(func(_ context.Context, data []byte, _ map[string]string) (*AudioBuffer, error) {
		return DecodeWebMOpus(data)
	})
	return r
}

// Register binds a decoder to a media type (without parameters)
func (r *DecoderRegistry) Register(mediaType string, dec Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[strings.ToLower(mediaType)] = dec
}

// SetFallback sets the decoder used for unregistered media types
func (r *DecoderRegistry) SetFallback(dec Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = dec
}

// MediaTypes lists the registered media types in sorted order. With a
// fallback set any type is accepted and the list is empty.
func (r *DecoderRegistry) MediaTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback != nil {
		return nil
	}
	types := make([]string, 0, len(r.decoders))
	for t := range r.decoders {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Supports reports whether a media type can be decoded
func (r *DecoderRegistry) Supports(mimeType string) bool {
	mediaType, _ := parseMIME(mimeType)
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[mediaType]
	return ok || r.fallback != nil
}

// Decode dispatches on the media type. An empty type is sniffed from the
// leading bytes.
func (r *DecoderRegistry) Decode(ctx context.Context, data []byte, mimeType string) (*AudioBuffer, error) {
	if len(data) == 0 {
		return nil, decodeError("no audio data")
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = SniffMIME(data)
	}
	mediaType, params := parseMIME(mimeType)

	r.mu.RLock()
	dec, ok := r.decoders[mediaType]
	if !ok {
		dec = r.fallback
	}
	r.mu.RUnlock()

	if dec == nil {
		return nil, decodeError("unsupported audio type %q", mimeType)
	}
	buf, err := dec.Decode(ctx, data, params)
	if err != nil {
		if apperror.GetCode(err) == apperror.CodeUnknown {
			return nil, apperror.Wrap(err, apperror.CodeDecode, "decode "+mediaType)
		}
		return nil, err
	}
	return buf, nil
}

// SniffMIME guesses the container from magic bytes
func SniffMIME(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return MIMEWAV
	case len(data) >= 4 && string(data[0:4]) == "OggS":
		return MIMEOgg
	case len(data) >= 4 && bytes.Equal(data[0:4], []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return MIMEWebM
	default:
		return "application/octet-stream"
	}
}

func parseMIME(mimeType string) (string, map[string]string) {
	mediaType, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		// MediaRecorder sometimes sends "audio/webm;codecs=opus" variants
		// that are not strictly valid; keep the bare type
		mediaType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
		params = map[string]string{}
	}
	return strings.ToLower(mediaType), params
}

// PCMMIME builds the media type used for raw float32 little-endian chunks
func PCMMIME(sampleRate, channels int) string {
	return mime.FormatMediaType(MIMEPCM, map[string]string{
		"rate":     strconv.Itoa(sampleRate),
		"channels": strconv.Itoa(channels),
	})
}

// decodeFloatPCM decodes interleaved float32 little-endian samples. The rate
// parameter is required, channels defaults to 1.
func decodeFloatPCM(_ context.Context, data []byte, params map[string]string) (*AudioBuffer, error) {
	rate, err := strconv.Atoi(params["rate"])
	if err != nil || rate <= 0 {
		return nil, decodeError("audio/pcm requires a positive rate parameter")
	}
	channels := 1
	if c, ok := params["channels"]; ok {
		channels, err = strconv.Atoi(c)
		if err != nil || channels < 1 {
			return nil, decodeError("invalid channels parameter %q", c)
		}
	}

	n := len(data) / 4
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return Deinterleave(samples, channels, rate), nil
}

// EncodeFloatPCM is the inverse of the audio/pcm decoder
func EncodeFloatPCM(samples []float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(s))
	}
	return out
}
