package audio

import (
	"bytes"
	"errors"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"gopkg.in/hraban/opus.v2"
)

// OpusSampleRate is the output rate of the Opus decoder
const OpusSampleRate = 48000

// 120 ms at 48 kHz, the largest Opus frame
const maxOpusFrame = 5760

// DecodeOggOpus decodes an Ogg Opus file (Firefox MediaRecorder, opusenc)
// into a 48 kHz buffer. The Ogg identification header supplies the channel
// count; libopusfile handles pre-skip and end trimming.
func DecodeOggOpus(data []byte) (*AudioBuffer, error) {
	_, header, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError("invalid ogg opus stream: %v", err)
	}
	channels := int(header.Channels)
	if channels < 1 || channels > 2 {
		return nil, decodeError("unsupported opus channel count %d", channels)
	}

	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return nil, decodeError("open opus stream: %v", err)
	}
	defer stream.Close()

	pcm := make([]float32, maxOpusFrame*channels)
	var out []float32
	for {
		n, err := stream.ReadFloat32(pcm)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, decodeError("decode opus: %v", err)
		}
		out = append(out, pcm[:n*channels]...)
	}

	return Deinterleave(out, channels, OpusSampleRate), nil
}
