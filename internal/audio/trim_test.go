package audio

import (
	"testing"
	"time"
)

func TestVoicedRange(t *testing.T) {
	f, x := false, true
	frame := 10 * time.Millisecond

	tests := []struct {
		name      string
		flags     []bool
		padding   time.Duration
		wantStart time.Duration
		wantEnd   time.Duration
		wantOK    bool
	}{
		{"no speech", []bool{f, f, f}, 0, 0, 0, false},
		{"empty", nil, 0, 0, 0, false},
		{"middle", []bool{f, f, x, x, f, f}, 0, 20 * time.Millisecond, 40 * time.Millisecond, true},
		{"padded", []bool{f, f, f, x, f, f, f}, 10 * time.Millisecond, 20 * time.Millisecond, 50 * time.Millisecond, true},
		{"padding clamped", []bool{x, f}, time.Second, 0, 20 * time.Millisecond, true},
		{"gap kept", []bool{f, x, f, f, x, f}, 0, 10 * time.Millisecond, 50 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, ok := voicedRange(tt.flags, frame, tt.padding)
			if ok != tt.wantOK || start != tt.wantStart || end != tt.wantEnd {
				t.Errorf("voicedRange() = %v, %v, %v; want %v, %v, %v",
					start, end, ok, tt.wantStart, tt.wantEnd, tt.wantOK)
			}
		})
	}
}

func TestTrimSilence_AllSilent(t *testing.T) {
	buf := NewMonoBuffer(16000, make([]float32, 16000))

	out, err := TrimSilence(buf, DefaultTrimConfig())
	if err != nil {
		t.Fatalf("TrimSilence() error = %v", err)
	}
	if out.Frames() != buf.Frames() {
		t.Errorf("silent buffer should be returned unchanged, got %d frames", out.Frames())
	}
}

func TestTrimSilence_Invalid(t *testing.T) {
	if _, err := TrimSilence(NewMonoBuffer(16000, []float32{0}), TrimConfig{Mode: 5}); err == nil {
		t.Error("TrimSilence() should reject mode 5")
	}
	if _, err := TrimSilence(NewMonoBuffer(0, []float32{0}), DefaultTrimConfig()); err == nil {
		t.Error("TrimSilence() should reject rate 0")
	}
}

func TestTrimSilence_Empty(t *testing.T) {
	buf := NewMonoBuffer(16000, nil)
	out, err := TrimSilence(buf, DefaultTrimConfig())
	if err != nil || out != buf {
		t.Errorf("TrimSilence(empty) = %v, %v", out, err)
	}
}

func TestIsVADRate(t *testing.T) {
	for _, r := range []int{8000, 16000, 32000, 48000} {
		if !isVADRate(r) {
			t.Errorf("isVADRate(%d) = false", r)
		}
	}
	for _, r := range []int{11025, 22050, 24000, 44100} {
		if isVADRate(r) {
			t.Errorf("isVADRate(%d) = true", r)
		}
	}
}

func TestResample(t *testing.T) {
	buf := NewMonoBuffer(16000, make([]float32, 1600))

	same, err := Resample(buf, 16000)
	if err != nil || same.Frames() != 1600 {
		t.Errorf("Resample(same rate) = %v, %v", same, err)
	}

	up, err := Resample(buf, 48000)
	if err != nil {
		t.Fatalf("Resample() error = %v", err)
	}
	if up.SampleRate != 48000 {
		t.Errorf("SampleRate = %d", up.SampleRate)
	}
	if d := up.Frames() - 4800; d < -100 || d > 100 {
		t.Errorf("Frames() = %d, want about 4800", up.Frames())
	}

	if _, err := Resample(buf, 0); err == nil {
		t.Error("Resample(0) should fail")
	}
}
