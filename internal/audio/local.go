package audio

// Local capture defaults
const (
	DefaultLocalSampleRate = 48000
	DefaultFramesPerBuffer = 480
	DefaultLocalChannels   = 1
)

// LocalConfig selects the local input device
type LocalConfig struct {
	SampleRate      int
	Channels        int
	FramesPerBuffer int
	DeviceName      string // empty = default device
}

func (c LocalConfig) withDefaults() LocalConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultLocalSampleRate
	}
	if c.Channels <= 0 {
		c.Channels = DefaultLocalChannels
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = DefaultFramesPerBuffer
	}
	return c
}

// InputDevice describes a local input device
type InputDevice struct {
	Name              string
	MaxInputChannels  int
	DefaultSampleRate float64
	IsDefault         bool
}
