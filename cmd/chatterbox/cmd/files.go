package cmd

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/msto63/chatterbox-ui/internal/audio"
)

// voiceIDFromPath derives a voice id from a file name: "/tmp/Anna.wav" -> "Anna"
func voiceIDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// wavSampleRate reads the sample rate from a WAV header, 0 if unreadable
func wavSampleRate(path string) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	header := make([]byte, 4096)
	n, err := io.ReadFull(f, header)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0
	}
	info, err := audio.ParseWAVHeader(header[:n])
	if err != nil {
		return 0
	}
	return info.SampleRate
}

// writeOutput writes data to path, creating parent directories
func writeOutput(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}
