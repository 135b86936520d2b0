package audio

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
)

const quantStep = 1.0 / 32767

func TestQuantizeSample(t *testing.T) {
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{"zero", 0, 0},
		{"one", 1, 32767},
		{"minus one", -1, -32768},
		{"half", 0.5, 16383},
		{"minus half", -0.5, -16384},
		{"tiny negative truncates", -0.00001, 0},
		{"nan", float32(math.NaN()), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuantizeSample(tt.in); got != tt.want {
				t.Errorf("QuantizeSample(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestQuantizeSample_Clamping(t *testing.T) {
	hi := QuantizeSample(1)
	lo := QuantizeSample(-1)

	for _, v := range []float32{1.0000001, 1.5, 2, 100, float32(math.Inf(1)), math.MaxFloat32} {
		if got := QuantizeSample(v); got != hi {
			t.Errorf("QuantizeSample(%v) = %d, want %d", v, got, hi)
		}
	}
	for _, v := range []float32{-1.0000001, -1.5, -2, -100, float32(math.Inf(-1)), -math.MaxFloat32} {
		if got := QuantizeSample(v); got != lo {
			t.Errorf("QuantizeSample(%v) = %d, want %d", v, got, lo)
		}
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		v := float32(1 + rng.Float64()*1000)
		if QuantizeSample(v) != hi || QuantizeSample(-v) != lo {
			t.Fatalf("clamping failed for ±%v", v)
		}
	}
}

func TestEncodeWAV_Header(t *testing.T) {
	buf := NewMonoBuffer(24000, []float32{0, 0.5, -0.5, 1})
	data, err := EncodeWAV(buf, FirstChannel)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}

	if len(data) != WAVHeaderSize+2*4 {
		t.Fatalf("len = %d, want %d", len(data), WAVHeaderSize+8)
	}

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"RIFF", string(data[0:4]), "RIFF"},
		{"riff size", binary.LittleEndian.Uint32(data[4:8]), uint32(36 + 8)},
		{"WAVE", string(data[8:12]), "WAVE"},
		{"fmt", string(data[12:16]), "fmt "},
		{"fmt size", binary.LittleEndian.Uint32(data[16:20]), uint32(16)},
		{"format", binary.LittleEndian.Uint16(data[20:22]), uint16(1)},
		{"channels", binary.LittleEndian.Uint16(data[22:24]), uint16(1)},
		{"rate", binary.LittleEndian.Uint32(data[24:28]), uint32(24000)},
		{"byte rate", binary.LittleEndian.Uint32(data[28:32]), uint32(48000)},
		{"block align", binary.LittleEndian.Uint16(data[32:34]), uint16(2)},
		{"bits", binary.LittleEndian.Uint16(data[34:36]), uint16(16)},
		{"data", string(data[36:40]), "data"},
		{"data size", binary.LittleEndian.Uint32(data[40:44]), uint32(8)},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if s := int16(binary.LittleEndian.Uint16(data[50:52])); s != 32767 {
		t.Errorf("last sample = %d, want 32767", s)
	}
}

func TestEncodeWAV_FirstChannelOnly(t *testing.T) {
	left := []float32{0.25, -0.25, 0.75}
	right := []float32{-1, 1, -1}
	buf := NewAudioBuffer(48000, left, right)

	data, err := EncodeWAV(buf, FirstChannel)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(data) != WAVHeaderSize+2*len(left) {
		t.Fatalf("len = %d, want mono output", len(data))
	}
	for i, s := range left {
		got := int16(binary.LittleEndian.Uint16(data[WAVHeaderSize+2*i:]))
		if got != QuantizeSample(s) {
			t.Errorf("sample %d = %d, want %d", i, got, QuantizeSample(s))
		}
	}
}

func TestEncodeWAV_Downmix(t *testing.T) {
	buf := NewAudioBuffer(16000, []float32{0.5, 1}, []float32{-0.5, 0})

	data, err := EncodeWAV(buf, Downmix)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if got := int16(binary.LittleEndian.Uint16(data[44:46])); got != 0 {
		t.Errorf("first mixed sample = %d, want 0", got)
	}
	if got := int16(binary.LittleEndian.Uint16(data[46:48])); got != QuantizeSample(0.5) {
		t.Errorf("second mixed sample = %d, want %d", got, QuantizeSample(0.5))
	}
}

func TestEncodeWAV_Invalid(t *testing.T) {
	tests := []struct {
		name string
		buf  *AudioBuffer
	}{
		{"nil", nil},
		{"zero rate", NewMonoBuffer(0, []float32{0})},
		{"no channels", NewAudioBuffer(8000)},
		{"ragged", NewAudioBuffer(8000, []float32{0, 0}, []float32{0})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeWAV(tt.buf, FirstChannel)
			if !apperror.HasCode(err, apperror.CodeValidation) {
				t.Errorf("EncodeWAV() error = %v, want VALIDATION_ERROR", err)
			}
		})
	}
}

func TestEncodeWAV_Empty(t *testing.T) {
	data, err := EncodeWAV(NewMonoBuffer(8000, nil), FirstChannel)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	if len(data) != WAVHeaderSize {
		t.Errorf("len = %d, want 44", len(data))
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	rates := []int{8000, 16000, 22050, 24000, 44100, 48000}

	for _, rate := range rates {
		n := rng.Intn(5000)
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(rng.Float64()*2.4 - 1.2)
		}

		data, err := EncodeWAV(NewMonoBuffer(rate, samples), FirstChannel)
		if err != nil {
			t.Fatalf("EncodeWAV() error = %v", err)
		}

		info, err := ParseWAVHeader(data)
		if err != nil {
			t.Fatalf("ParseWAVHeader() error = %v", err)
		}
		if info.DataSize != 2*n {
			t.Errorf("rate %d: data length = %d, want %d", rate, info.DataSize, 2*n)
		}

		decoded, err := DecodeWAV(data)
		if err != nil {
			t.Fatalf("DecodeWAV() error = %v", err)
		}
		if decoded.SampleRate != rate || decoded.Frames() != n || decoded.NumChannels() != 1 {
			t.Fatalf("decoded rate=%d frames=%d ch=%d, want %d/%d/1",
				decoded.SampleRate, decoded.Frames(), decoded.NumChannels(), rate, n)
		}
		for i, s := range samples {
			want := math.Max(-1, math.Min(1, float64(s)))
			if diff := math.Abs(float64(decoded.Channels[0][i]) - want); diff > 2*quantStep {
				t.Fatalf("rate %d sample %d: got %v, want %v (diff %v)", rate, i, decoded.Channels[0][i], want, diff)
			}
		}
	}
}

func TestWAV_HeaderInvariantFuzz(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		n := rng.Intn(4096)
		rate := 1 + rng.Intn(192000)
		samples := make([]float32, n)
		for j := range samples {
			samples[j] = float32(rng.NormFloat64())
		}

		data, err := EncodeWAV(NewMonoBuffer(rate, samples), FirstChannel)
		if err != nil {
			t.Fatalf("case %d: EncodeWAV() error = %v", i, err)
		}

		dataLen := uint32(2 * n)
		if len(data) != WAVHeaderSize+int(dataLen) {
			t.Fatalf("case %d: len = %d, want %d", i, len(data), WAVHeaderSize+int(dataLen))
		}
		if got := binary.LittleEndian.Uint32(data[4:8]); got != 36+dataLen {
			t.Fatalf("case %d: RIFF size = %d, want %d", i, got, 36+dataLen)
		}
		if got := binary.LittleEndian.Uint32(data[40:44]); got != dataLen {
			t.Fatalf("case %d: data size = %d, want %d", i, got, dataLen)
		}
		if got := binary.LittleEndian.Uint32(data[24:28]); got != uint32(rate) {
			t.Fatalf("case %d: rate = %d, want %d", i, got, rate)
		}
	}
}

func TestEncodeWAVChannels_Stereo(t *testing.T) {
	buf := NewAudioBuffer(44100, []float32{0.1, 0.2}, []float32{-0.1, -0.2})
	data, err := EncodeWAVChannels(buf)
	if err != nil {
		t.Fatalf("EncodeWAVChannels() error = %v", err)
	}

	info, err := ParseWAVHeader(data)
	if err != nil {
		t.Fatalf("ParseWAVHeader() error = %v", err)
	}
	if info.Channels != 2 || info.BlockAlign != 4 || info.ByteRate != 44100*4 {
		t.Errorf("info = %+v", info)
	}
	if info.RIFFSize != uint32(36+info.DataSize) {
		t.Errorf("RIFF size = %d, want %d", info.RIFFSize, 36+info.DataSize)
	}

	decoded, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if decoded.NumChannels() != 2 || decoded.Frames() != 2 {
		t.Fatalf("decoded %d channels, %d frames", decoded.NumChannels(), decoded.Frames())
	}
	if math.Abs(float64(decoded.Channels[1][1])+0.2) > quantStep {
		t.Errorf("right channel sample = %v, want -0.2", decoded.Channels[1][1])
	}
}

func TestParseWAVHeader_SkipsExtraChunks(t *testing.T) {
	pcm := []byte{0x00, 0x40, 0x00, 0xC0}
	wav, _ := WrapPCM16(pcm, 16000, 1)

	// Insert an odd-sized LIST chunk (padded) between fmt and data
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	withList := append([]byte{}, wav[:36]...)
	withList = append(withList, list...)
	withList = append(withList, wav[36:]...)
	binary.LittleEndian.PutUint32(withList[4:8], uint32(len(withList)-8))

	buf, err := DecodeWAV(withList)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if buf.Frames() != 2 {
		t.Fatalf("frames = %d, want 2", buf.Frames())
	}
	if buf.Channels[0][0] != 0.5 || buf.Channels[0][1] != -0.5 {
		t.Errorf("samples = %v", buf.Channels[0])
	}
}

func TestParseWAVHeader_TruncatedData(t *testing.T) {
	wav, _ := WrapPCM16(make([]byte, 100), 8000, 1)
	truncated := wav[:WAVHeaderSize+51]

	info, err := ParseWAVHeader(truncated)
	if err != nil {
		t.Fatalf("ParseWAVHeader() error = %v", err)
	}
	if info.DeclaredSize != 100 || info.DataSize != 51 {
		t.Errorf("declared=%d size=%d, want 100/51", info.DeclaredSize, info.DataSize)
	}
	buf, err := DecodeWAV(truncated)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if buf.Frames() != 25 {
		t.Errorf("frames = %d, want 25", buf.Frames())
	}
}

func TestDecodeWAV_Malformed(t *testing.T) {
	valid, _ := WrapPCM16([]byte{1, 2}, 8000, 1)

	float32WAV := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(float32WAV[20:22], 3)

	eightBit := append([]byte{}, valid...)
	binary.LittleEndian.PutUint16(eightBit[34:36], 8)

	noData := append([]byte{}, valid[:36]...)

	badRIFF := append([]byte{}, valid...)
	copy(badRIFF[0:4], "RIFX")

	badWAVE := append([]byte{}, valid...)
	copy(badWAVE[8:12], "AVI ")

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte("RIFF")},
		{"bad riff", badRIFF},
		{"bad wave", badWAVE},
		{"float format", float32WAV},
		{"8 bit", eightBit},
		{"no data chunk", noData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeWAV(tt.data)
			if !apperror.HasCode(err, apperror.CodeDecode) {
				t.Errorf("DecodeWAV() error = %v, want DECODE_ERROR", err)
			}
			if err := ValidateWAV(tt.data); err == nil {
				t.Error("ValidateWAV() should fail")
			}
		})
	}
}

func TestWAVInfo_Duration(t *testing.T) {
	wav, _ := WrapPCM16(make([]byte, 32000), 16000, 1)
	info, err := ParseWAVHeader(wav)
	if err != nil {
		t.Fatalf("ParseWAVHeader() error = %v", err)
	}
	if info.Frames() != 16000 {
		t.Errorf("Frames() = %d", info.Frames())
	}
	if info.Duration().Seconds() != 1 {
		t.Errorf("Duration() = %v, want 1s", info.Duration())
	}
}

func TestPeak(t *testing.T) {
	buf := NewAudioBuffer(8000, []float32{0.1, -0.7}, []float32{0.3, 0.2})
	if got := Peak(buf); math.Abs(float64(got)-0.7) > 1e-6 {
		t.Errorf("Peak() = %v, want 0.7", got)
	}
}
