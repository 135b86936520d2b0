package audio

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// FFmpegDecoder converts containers the process cannot parse itself (WebM,
// MP4/AAC, MP3) by piping them through an ffmpeg binary. Output is mono
// float32 at SampleRate, reduced according to Policy.
type FFmpegDecoder struct {
	Path       string
	SampleRate int
	Policy     ChannelPolicy
	Logger     *logging.Logger
}

// NewFFmpegDecoder creates a decoder; an empty path uses "ffmpeg" from PATH
func NewFFmpegDecoder(path string, sampleRate int, policy ChannelPolicy, logger *logging.Logger) *FFmpegDecoder {
	if path == "" {
		path = "ffmpeg"
	}
	if sampleRate <= 0 {
		sampleRate = OpusSampleRate
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &FFmpegDecoder{Path: path, SampleRate: sampleRate, Policy: policy, Logger: logger}
}

// Available reports whether the binary can be found
func (d *FFmpegDecoder) Available() bool {
	_, err := exec.LookPath(d.Path)
	return err == nil
}

func (d *FFmpegDecoder) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0"}
	if d.Policy == Downmix {
		args = append(args, "-ac", "1")
	} else {
		args = append(args, "-af", "pan=mono|c0=c0")
	}
	return append(args,
		"-ar", strconv.Itoa(d.SampleRate),
		"-f", "f32le", "-acodec", "pcm_f32le",
		"pipe:1",
	)
}

// Decode implements Decoder
func (d *FFmpegDecoder) Decode(ctx context.Context, data []byte, _ map[string]string) (*AudioBuffer, error) {
	if !d.Available() {
		return nil, apperror.Newf(apperror.CodeDecode, "ffmpeg not found at %q", d.Path)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.Path, d.args()...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.Logger.Debug("Running ffmpeg", "input_bytes", len(data), "rate", d.SampleRate, "policy", d.Policy)
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, apperror.Wrap(err, apperror.CodeDecode, "ffmpeg: "+logging.Truncate(msg, logging.MaxLoggedBody))
	}

	return decodeFloatPCM(ctx, stdout.Bytes(), map[string]string{
		"rate":     strconv.Itoa(d.SampleRate),
		"channels": "1",
	})
}
