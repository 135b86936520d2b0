package audio

import (
	"github.com/dh1tw/gosamplerate"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
)

// Resample converts the buffer to targetRate with libsamplerate. The input is
// returned unchanged when the rate already matches.
func Resample(buf *AudioBuffer, targetRate int) (*AudioBuffer, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	if targetRate <= 0 {
		return nil, apperror.Newf(apperror.CodeValidation, "invalid target rate %d", targetRate)
	}
	if buf.SampleRate == targetRate || buf.Frames() == 0 {
		return &AudioBuffer{Channels: buf.Channels, SampleRate: targetRate}, nil
	}

	ratio := float64(targetRate) / float64(buf.SampleRate)
	out, err := gosamplerate.Simple(buf.Interleave(), ratio, buf.NumChannels(), gosamplerate.SRC_SINC_FASTEST)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "resample audio")
	}
	return Deinterleave(out, buf.NumChannels(), targetRate), nil
}
