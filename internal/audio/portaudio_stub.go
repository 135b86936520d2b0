//go:build !voice

package audio

import (
	"context"

	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// LocalAudioAvailable reports whether this build can open local devices
const LocalAudioAvailable = false

var errNoLocalAudio = apperror.New(apperror.CodeDeviceUnavailable,
	"local audio support not compiled in (build with -tags voice)")

type unavailableDevice struct{}

func (unavailableDevice) Open(context.Context) (Stream, error) { return nil, errNoLocalAudio }

// NewLocalDevice returns a device that always reports DEVICE_UNAVAILABLE
func NewLocalDevice(LocalConfig, *logging.Logger) Device { return unavailableDevice{} }

type unavailableSink struct{}

func (unavailableSink) Play(context.Context, *AudioBuffer, []byte) error { return errNoLocalAudio }

// NewLocalSink returns a sink that always reports DEVICE_UNAVAILABLE
func NewLocalSink() Sink { return unavailableSink{} }

// ListInputDevices reports DEVICE_UNAVAILABLE
func ListInputDevices() ([]InputDevice, error) { return nil, errNoLocalAudio }
