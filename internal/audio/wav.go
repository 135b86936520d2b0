// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     audio
// Description: 16-bit PCM WAV encoding and decoding
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package audio

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
)

const (
	// WAVHeaderSize is the size of the canonical RIFF/fmt/data header
	WAVHeaderSize = 44

	// BitsPerSample is the only sample width written and read
	BitsPerSample = 16

	// FormatPCM is the WAVE format tag for linear PCM
	FormatPCM = 1

	// MIMEWAV is the content type used for WAV downloads and uploads
	MIMEWAV = "audio/wav"
)

// WAVInfo describes a parsed WAV container
type WAVInfo struct {
	Format        uint16
	Channels      int
	SampleRate    int
	ByteRate      int
	BlockAlign    int
	BitsPerSample int
	RIFFSize      uint32
	DataOffset    int
	DataSize      int // bytes of sample data actually present
	DeclaredSize  uint32
}

// Frames returns the number of sample frames
func (i *WAVInfo) Frames() int {
	if i.BlockAlign == 0 {
		return 0
	}
	return i.DataSize / i.BlockAlign
}

// Duration returns the playback length
func (i *WAVInfo) Duration() time.Duration {
	if i.SampleRate == 0 {
		return 0
	}
	return time.Duration(i.Frames()) * time.Second / time.Duration(i.SampleRate)
}

// QuantizeSample converts a float sample to int16. The input is clamped to
// [-1, 1]; negative values scale by 0x8000, others by 0x7FFF, truncating
// toward zero. NaN maps to 0.
func QuantizeSample(s float32) int16 {
	if s != s {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int16(s * 0x8000)
	}
	return int16(s * 0x7FFF)
}

// EncodeWAV encodes the buffer as a mono 16-bit PCM WAV. Multi-channel input
// is reduced with the given policy. The result is exactly 44 + 2*frames bytes.
func EncodeWAV(buf *AudioBuffer, policy ChannelPolicy) ([]byte, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	return encodeInterleaved(buf.Mono(policy), 1, buf.SampleRate), nil
}

// EncodeWAVChannels encodes all channels interleaved
func EncodeWAVChannels(buf *AudioBuffer) ([]byte, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	if buf.NumChannels() == 1 {
		return encodeInterleaved(buf.Channels[0], 1, buf.SampleRate), nil
	}
	return encodeInterleaved(buf.Interleave(), buf.NumChannels(), buf.SampleRate), nil
}

func encodeInterleaved(samples []float32, channels, sampleRate int) []byte {
	dataLen := len(samples) * 2
	out := make([]byte, WAVHeaderSize+dataLen)
	putHeader(out, channels, sampleRate, dataLen)

	pos := WAVHeaderSize
	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[pos:], uint16(QuantizeSample(s)))
		pos += 2
	}
	return out
}

// putHeader writes the canonical 44-byte header into dst
func putHeader(dst []byte, channels, sampleRate, dataLen int) {
	blockAlign := channels * BitsPerSample / 8

	copy(dst[0:4], "RIFF")
	binary.LittleEndian.PutUint32(dst[4:8], uint32(36+dataLen))
	copy(dst[8:12], "WAVE")

	copy(dst[12:16], "fmt ")
	binary.LittleEndian.PutUint32(dst[16:20], 16)
	binary.LittleEndian.PutUint16(dst[20:22], FormatPCM)
	binary.LittleEndian.PutUint16(dst[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(dst[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(dst[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(dst[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(dst[34:36], BitsPerSample)

	copy(dst[36:40], "data")
	binary.LittleEndian.PutUint32(dst[40:44], uint32(dataLen))
}

func decodeError(format string, args ...interface{}) error {
	return apperror.Newf(apperror.CodeDecode, format, args...)
}

// ParseWAVHeader walks the RIFF chunks and returns the format description.
// Unknown chunks (LIST, fact, ...) are skipped. A data chunk that claims more
// bytes than present is clamped to the available payload.
func ParseWAVHeader(data []byte) (*WAVInfo, error) {
	if len(data) < 12 {
		return nil, decodeError("file too small to be a valid WAV (%d bytes)", len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, decodeError("not a valid RIFF file")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, decodeError("not a valid WAVE file")
	}

	info := &WAVInfo{RIFFSize: binary.LittleEndian.Uint32(data[4:8])}
	var haveFmt, haveData bool

	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(data) {
				return nil, decodeError("fmt chunk too short")
			}
			info.Format = binary.LittleEndian.Uint16(data[body : body+2])
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.ByteRate = int(binary.LittleEndian.Uint32(data[body+8 : body+12]))
			info.BlockAlign = int(binary.LittleEndian.Uint16(data[body+12 : body+14]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			info.DataOffset = body
			info.DeclaredSize = uint32(chunkSize)
			available := len(data) - body
			if chunkSize > available || chunkSize < 0 {
				chunkSize = available
			}
			info.DataSize = chunkSize
			haveData = true
		}

		if haveData && haveFmt {
			break
		}

		next := body + chunkSize
		if next%2 != 0 {
			next++ // Word alignment
		}
		if next <= pos {
			break
		}
		pos = next
	}

	if !haveFmt {
		return nil, decodeError("missing fmt chunk")
	}
	if !haveData {
		return nil, decodeError("missing data chunk")
	}
	return info, nil
}

// ValidateWAV checks that data is a 16-bit linear PCM WAV this package can decode
func ValidateWAV(data []byte) error {
	info, err := ParseWAVHeader(data)
	if err != nil {
		return err
	}
	return info.validate()
}

func (i *WAVInfo) validate() error {
	if i.Format != FormatPCM {
		return decodeError("unsupported audio format %d (only PCM supported)", i.Format)
	}
	if i.BitsPerSample != BitsPerSample {
		return decodeError("unsupported bits per sample: %d (only 16-bit supported)", i.BitsPerSample)
	}
	if i.Channels < 1 {
		return decodeError("invalid channel count %d", i.Channels)
	}
	if i.SampleRate <= 0 {
		return decodeError("invalid sample rate %d", i.SampleRate)
	}
	if i.BlockAlign != i.Channels*2 {
		return decodeError("block align %d does not match %d channels", i.BlockAlign, i.Channels)
	}
	return nil
}

// DecodeWAV decodes a 16-bit PCM WAV into a planar buffer
func DecodeWAV(data []byte) (*AudioBuffer, error) {
	info, err := ParseWAVHeader(data)
	if err != nil {
		return nil, err
	}
	if err := info.validate(); err != nil {
		return nil, err
	}

	frames := info.Frames()
	planar := make([][]float32, info.Channels)
	for c := range planar {
		planar[c] = make([]float32, frames)
	}

	pos := info.DataOffset
	for f := 0; f < frames; f++ {
		for c := 0; c < info.Channels; c++ {
			planar[c][f] = PCM16ToFloat(data[pos], data[pos+1])
			pos += 2
		}
	}

	return &AudioBuffer{Channels: planar, SampleRate: info.SampleRate}, nil
}

// SilentPeak is the peak level below which a recording is reported as silent
const SilentPeak = 0.01

// Peak returns the largest absolute sample value of the buffer
func Peak(buf *AudioBuffer) float32 {
	var peak float64
	for _, ch := range buf.Channels {
		for _, s := range ch {
			if a := math.Abs(float64(s)); a > peak {
				peak = a
			}
		}
	}
	return float32(peak)
}
