package audio

import (
	"encoding/base64"
	"strings"

	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
)

// PCM16ToFloat interprets a little-endian byte pair as a signed 16-bit sample
// and normalizes it to [-1, 1). Unsigned patterns >= 32768 are negative.
func PCM16ToFloat(lo, hi byte) float32 {
	v := int(lo) | int(hi)<<8
	if v >= 32768 {
		v -= 65536
	}
	return float32(v) / 32768
}

// DecodePCM16 converts headerless mono 16-bit little-endian PCM into a buffer.
// An odd trailing byte is ignored.
func DecodePCM16(data []byte, sampleRate int) (*AudioBuffer, error) {
	if sampleRate <= 0 {
		return nil, apperror.Newf(apperror.CodeValidation, "invalid sample rate %d", sampleRate)
	}
	n := len(data) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = PCM16ToFloat(data[2*i], data[2*i+1])
	}
	return NewMonoBuffer(sampleRate, samples), nil
}

// WrapPCM16 prepends a WAV header to raw 16-bit little-endian PCM. An odd
// trailing byte is dropped so the data length stays frame aligned.
func WrapPCM16(data []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, apperror.Newf(apperror.CodeValidation, "invalid sample rate %d", sampleRate)
	}
	if channels < 1 {
		return nil, apperror.Newf(apperror.CodeValidation, "invalid channel count %d", channels)
	}
	frame := channels * 2
	dataLen := len(data) / frame * frame

	out := make([]byte, WAVHeaderSize+dataLen)
	putHeader(out, channels, sampleRate, dataLen)
	copy(out[WAVHeaderSize:], data[:dataLen])
	return out, nil
}

// EncodeBase64 returns the standard base64 form used between UI and service
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 accepts plain base64 or a data URL ("data:audio/wav;base64,...")
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, apperror.New(apperror.CodeDecode, "malformed data URL")
		}
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeDecode, "invalid base64 audio")
	}
	return data, nil
}
