package web

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/service"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/health"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// AudioOptions controls how recordings become uploads
type AudioOptions struct {
	Policy      audio.ChannelPolicy
	Trim        bool
	TrimConfig  audio.TrimConfig
	StopTimeout time.Duration
	MaxCapture  time.Duration
}

// Deps bundles what the handlers need
type Deps struct {
	Service   *service.Service
	Sessions  *SessionManager
	Downloads *audio.DownloadStore
	Decoders  *audio.DecoderRegistry
	Health    *health.Registry
	Metrics   *Metrics
	Logger    *logging.Logger

	Audio          AudioOptions
	AllowedOrigins []string
	MaxUploadSize  int64
	Version        string
}

func (d *Deps) withDefaults() {
	if d.Logger == nil {
		d.Logger = logging.Nop()
	}
	if d.Decoders == nil {
		d.Decoders = audio.NewDecoderRegistry()
	}
	if d.Audio.StopTimeout <= 0 {
		d.Audio.StopTimeout = 10 * time.Second
	}
	if d.Audio.TrimConfig.Padding == 0 {
		d.Audio.TrimConfig = audio.DefaultTrimConfig()
	}
	if d.MaxUploadSize <= 0 {
		d.MaxUploadSize = 32 << 20
	}
}

// transcode decodes a recording, optionally trims silence and encodes it
// as mono WAV with the configured channel policy.
func (d *Deps) transcode(ctx context.Context, c *audio.Capture, trim bool) (*audio.AudioBuffer, []byte, error) {
	buf, err := d.Decoders.Decode(ctx, c.Data, c.MIMEType)
	if err != nil {
		return nil, nil, err
	}
	if trim {
		trimmed, err := audio.TrimSilence(buf, d.Audio.TrimConfig)
		if err != nil {
			d.Logger.Warn("Silence trimming failed, keeping full recording", "error", err)
		} else {
			buf = trimmed
		}
	}
	wav, err := audio.EncodeWAV(buf, d.Audio.Policy)
	if err != nil {
		return nil, nil, apperror.Wrap(err, apperror.CodeDecode, "encode recording")
	}
	return buf, wav, nil
}

// checkOrigin accepts same-host requests and the configured origins
func (d *Deps) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range d.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

func downloadURL(id string) string {
	return "/api/v1/downloads/" + id
}
