package service

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/history"
	"github.com/msto63/chatterbox-ui/internal/voice"
	"github.com/msto63/chatterbox-ui/pkg/core/apperror"
)

type fakeClient struct {
	mu sync.Mutex

	voices    *voice.VoiceList
	chunks    [][]byte
	rate      int
	resp      *voice.OperationResponse
	err       error
	uploaded  []byte
	uploadID  string
	uploadSR  int
	filePath  string
	deletedID string
	listCalls int
	onList    func()
	lastReq   voice.SynthesizeRequest
	block     chan struct{}
	active    int
	maxActive int
}

func (f *fakeClient) enter() {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
}

func (f *fakeClient) leave() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

func (f *fakeClient) ListVoices(ctx context.Context) (*voice.VoiceList, error) {
	f.listCalls++
	if f.onList != nil {
		f.onList()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.voices, nil
}

func (f *fakeClient) Synthesize(ctx context.Context, r voice.SynthesizeRequest, onChunk func([]byte) error) (*voice.SynthesisInfo, error) {
	f.enter()
	defer f.leave()
	f.lastReq = r
	if f.err != nil {
		return nil, f.err
	}
	total := 0
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return nil, err
		}
		total += len(c)
	}
	return &voice.SynthesisInfo{SampleRate: f.rate, Bytes: total, Chunks: len(f.chunks)}, nil
}

func (f *fakeClient) UploadVoice(ctx context.Context, voiceID, filename string, r io.Reader, sampleRate int) (*voice.OperationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(r)
	f.uploaded = data
	f.uploadID = voiceID
	f.uploadSR = sampleRate
	return f.resp, nil
}

func (f *fakeClient) UploadVoiceFile(ctx context.Context, voiceID, path string, sampleRate int) (*voice.OperationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.uploaded = data
	f.uploadID = voiceID
	f.uploadSR = sampleRate
	f.filePath = path
	return f.resp, nil
}

func (f *fakeClient) DeleteVoice(ctx context.Context, voiceID string) (*voice.OperationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deletedID = voiceID
	return f.resp, nil
}

func testWAV(t *testing.T) []byte {
	t.Helper()
	buf := audio.NewMonoBuffer(24000, []float32{0, 0.5, -0.5, 0.25})
	data, err := audio.EncodeWAV(buf, audio.FirstChannel)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	return data
}

func newTestService(t *testing.T, client VoiceClient, opts ...Option) *Service {
	t.Helper()
	return NewService(client, Config{TempDir: t.TempDir()}, nil, opts...)
}

func TestListVoices(t *testing.T) {
	client := &fakeClient{voices: &voice.VoiceList{
		Voices: []voice.VoiceInfo{
			{VoiceID: "alice", Filename: "alice.wav", UploadedAt: "2026-10-01T12:00:00", SampleRate: 24000},
		},
		Total: 1,
	}}
	s := newTestService(t, client)

	res := s.ListVoices(context.Background())
	if !res.Success || res.Total != 1 || len(res.Voices) != 1 {
		t.Fatalf("ListVoices() = %+v", res)
	}
	v := res.Voices[0]
	if v.VoiceID != "alice" || v.FilePath != "alice.wav" || v.CreatedAt != "2026-10-01T12:00:00" || v.SampleRate != 24000 {
		t.Errorf("voice = %+v", v)
	}
}

func TestListVoices_Failure(t *testing.T) {
	client := &fakeClient{err: apperror.New(apperror.CodeTransport, "connection refused")}
	s := newTestService(t, client)

	res := s.ListVoices(context.Background())
	if res.Success {
		t.Error("expected failure")
	}
	if !strings.Contains(res.Message, "connection refused") {
		t.Errorf("Message = %q", res.Message)
	}
	if res.Code != apperror.CodeTransport {
		t.Errorf("Code = %v, want TRANSPORT_ERROR", res.Code)
	}
	if res.Voices == nil {
		t.Error("Voices should be empty, not nil")
	}
}

func TestListVoices_Cached(t *testing.T) {
	client := &fakeClient{
		voices: &voice.VoiceList{Voices: []voice.VoiceInfo{}, Total: 0},
		resp:   &voice.OperationResponse{Success: true, Message: "ok"},
	}
	s := newTestService(t, client, WithVoiceCache(time.Minute))
	defer s.Close()

	ctx := context.Background()
	s.ListVoices(ctx)
	s.ListVoices(ctx)
	if client.listCalls != 1 {
		t.Errorf("listCalls = %d, want 1", client.listCalls)
	}

	s.DeleteVoice(ctx, "alice")
	s.ListVoices(ctx)
	if client.listCalls != 2 {
		t.Errorf("listCalls after delete = %d, want 2", client.listCalls)
	}
}

func TestListVoices_InvalidatedDuringFetch(t *testing.T) {
	client := &fakeClient{
		voices: &voice.VoiceList{Voices: []voice.VoiceInfo{{VoiceID: "alice"}}, Total: 1},
		resp:   &voice.OperationResponse{Success: true, Message: "ok"},
	}
	s := newTestService(t, client, WithVoiceCache(time.Minute))
	defer s.Close()

	ctx := context.Background()
	// A delete lands while the first list is in flight
	client.onList = func() {
		client.onList = nil
		s.DeleteVoice(ctx, "alice")
	}

	s.ListVoices(ctx)
	s.ListVoices(ctx)
	if client.listCalls != 2 {
		t.Errorf("listCalls = %d, want 2: a list fetched across an invalidation must not be cached", client.listCalls)
	}
	s.ListVoices(ctx)
	if client.listCalls != 2 {
		t.Errorf("listCalls = %d, want the second list cached", client.listCalls)
	}
}

func TestValidateSynthesis(t *testing.T) {
	tests := []struct {
		name    string
		req     SynthesisRequest
		wantErr bool
	}{
		{"default", SynthesisRequest{Text: "Hallo", VoiceMode: voice.ModeDefault}, false},
		{"predefined", SynthesisRequest{Text: "Hallo", VoiceMode: voice.ModePredefined, VoiceName: "Emily.wav"}, false},
		{"clone", SynthesisRequest{Text: "Hallo", VoiceMode: voice.ModeClone, VoiceID: "alice"}, false},
		{"empty text", SynthesisRequest{Text: "  ", VoiceMode: voice.ModeDefault}, true},
		{"predefined without name", SynthesisRequest{Text: "x", VoiceMode: voice.ModePredefined}, true},
		{"clone without id", SynthesisRequest{Text: "x", VoiceMode: voice.ModeClone}, true},
		{"unknown mode", SynthesisRequest{Text: "x", VoiceMode: "robot"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSynthesis(tt.req)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSynthesis() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperror.HasCode(err, apperror.CodeValidation) {
				t.Errorf("code = %v, want VALIDATION", apperror.GetCode(err))
			}
		})
	}
}

func TestSynthesize_ConcatenatesChunks(t *testing.T) {
	wav := testWAV(t)
	client := &fakeClient{chunks: [][]byte{wav[:10], wav[10:30], wav[30:]}}
	s := newTestService(t, client)

	res := s.Synthesize(context.Background(), SynthesisRequest{Text: "Guten Tag"})
	if !res.Success {
		t.Fatalf("Synthesize() failed: %s", res.Message)
	}
	if string(res.Audio) != string(wav) {
		t.Error("audio should be the chunks in order")
	}
	if res.Chunks != 3 {
		t.Errorf("Chunks = %d, want 3", res.Chunks)
	}
	if res.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000 from header", res.SampleRate)
	}
	if client.lastReq.VoiceMode != voice.ModeDefault || client.lastReq.AudioFormat != "wav" {
		t.Errorf("request = %+v", client.lastReq)
	}
}

func TestSynthesize_EmptyAudio(t *testing.T) {
	s := newTestService(t, &fakeClient{})

	res := s.Synthesize(context.Background(), SynthesisRequest{Text: "x"})
	if res.Success {
		t.Error("empty audio should fail")
	}
}

func TestSynthesize_MalformedWAV(t *testing.T) {
	s := newTestService(t, &fakeClient{chunks: [][]byte{[]byte("not a wav file at all, definitely")}})

	res := s.Synthesize(context.Background(), SynthesisRequest{Text: "x"})
	if res.Success {
		t.Error("malformed audio should fail")
	}
}

func TestSynthesize_InvalidRequestNotSent(t *testing.T) {
	client := &fakeClient{}
	s := newTestService(t, client)

	res := s.Synthesize(context.Background(), SynthesisRequest{Text: "x", VoiceMode: voice.ModeClone})
	if res.Success {
		t.Error("expected validation failure")
	}
	if client.lastReq.Text != "" {
		t.Error("invalid request reached the client")
	}
	if res.Code != apperror.CodeValidation {
		t.Errorf("Code = %v, want VALIDATION_ERROR", res.Code)
	}
}

func TestSynthesize_ConcurrencyLimit(t *testing.T) {
	wav := testWAV(t)
	client := &fakeClient{chunks: [][]byte{wav}, block: make(chan struct{})}
	s := NewService(client, Config{MaxConcurrent: 2, TempDir: t.TempDir()}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Synthesize(context.Background(), SynthesisRequest{Text: "x"})
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(client.block)
	wg.Wait()

	if client.maxActive > 2 {
		t.Errorf("maxActive = %d, want <= 2", client.maxActive)
	}
}

func TestSynthesize_ContextCancelledWhileWaiting(t *testing.T) {
	client := &fakeClient{block: make(chan struct{})}
	s := NewService(client, Config{MaxConcurrent: 1, TempDir: t.TempDir()}, nil)

	go s.Synthesize(context.Background(), SynthesisRequest{Text: "x"})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := s.Synthesize(ctx, SynthesisRequest{Text: "y"})
	close(client.block)

	if res.Success {
		t.Error("expected failure while waiting for a slot")
	}
}

func TestSynthesize_RecordsHistory(t *testing.T) {
	store, err := history.NewSQLiteStore(history.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	wav := testWAV(t)
	s := NewService(&fakeClient{chunks: [][]byte{wav}}, Config{TempDir: t.TempDir(), HistoryKeep: 1}, nil, WithHistory(store))

	ctx := context.Background()
	s.Synthesize(ctx, SynthesisRequest{Text: "eins", SessionID: "s1"})
	res := s.Synthesize(ctx, SynthesisRequest{Text: "zwei", SessionID: "s1"})
	if res.HistoryID == "" {
		t.Fatal("HistoryID should be set")
	}

	entries, err := s.History(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Text != "zwei" {
		t.Fatalf("History() = %+v, want only the newest entry", entries)
	}
	if other, _ := s.History(ctx, "s2", 10); len(other) != 0 {
		t.Errorf("History(s2) = %d entries, want none", len(other))
	}
	if _, err := s.HistoryEntry(ctx, "s2", res.HistoryID); !apperror.HasCode(err, apperror.CodeNotFound) {
		t.Errorf("HistoryEntry() from another session error = %v, want NOT_FOUND", err)
	}

	entry, err := s.HistoryEntry(ctx, "s1", res.HistoryID)
	if err != nil {
		t.Fatalf("HistoryEntry() error = %v", err)
	}
	if string(entry.Audio) != string(wav) {
		t.Error("stored audio differs")
	}
}

func TestHistory_Disabled(t *testing.T) {
	s := newTestService(t, &fakeClient{})

	entries, err := s.History(context.Background(), history.AllSessions, 10)
	if err != nil || entries != nil {
		t.Errorf("History() = %v, %v", entries, err)
	}
	if _, err := s.HistoryEntry(context.Background(), "s1", "x"); !apperror.HasCode(err, apperror.CodeNotFound) {
		t.Errorf("HistoryEntry() error = %v, want NOT_FOUND", err)
	}
	if err := s.DeleteHistory(context.Background(), "s1", "x"); !apperror.HasCode(err, apperror.CodeNotFound) {
		t.Errorf("DeleteHistory() error = %v, want NOT_FOUND", err)
	}
}

func TestUploadVoiceFromBase64(t *testing.T) {
	wav := testWAV(t)
	client := &fakeClient{resp: &voice.OperationResponse{Success: true, Message: "Voice uploaded"}}
	s := newTestService(t, client)

	res := s.UploadVoiceFromBase64(context.Background(), "bob", audio.EncodeBase64(wav), 24000)
	if !res.Success || res.Message != "Voice uploaded" {
		t.Fatalf("UploadVoiceFromBase64() = %+v", res)
	}
	if string(client.uploaded) != string(wav) || client.uploadID != "bob" || client.uploadSR != 24000 {
		t.Error("upload did not carry the decoded audio")
	}
	base := filepath.Base(client.filePath)
	if !tempPattern.MatchString(base) || !strings.HasPrefix(base, "chatterbox-bob_") {
		t.Errorf("temp file name = %s", base)
	}
	if _, err := os.Stat(client.filePath); !os.IsNotExist(err) {
		t.Error("temp file should be removed after upload")
	}
}

func TestUploadVoiceFromBase64_RemovedOnFailure(t *testing.T) {
	client := &fakeClient{resp: &voice.OperationResponse{Success: false, Message: "Voice already exists"}}
	s := newTestService(t, client)

	res := s.UploadVoiceFromBase64(context.Background(), "bob", audio.EncodeBase64(testWAV(t)), 24000)
	if res.Success || res.Message != "Voice already exists" || res.Code != "" {
		t.Errorf("result = %+v", res)
	}
	entries, _ := os.ReadDir(s.cfg.TempDir)
	if len(entries) != 0 {
		t.Errorf("temp dir has %d files, want 0", len(entries))
	}
}

func TestUploadVoiceFromBase64_Invalid(t *testing.T) {
	s := newTestService(t, &fakeClient{})

	tests := []struct {
		name, id, data string
	}{
		{"empty id", "", audio.EncodeBase64([]byte("x"))},
		{"bad base64", "bob", "!!!"},
		{"empty data", "bob", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if res := s.UploadVoiceFromBase64(context.Background(), tt.id, tt.data, 24000); res.Success {
				t.Error("expected failure")
			}
		})
	}
}

func TestUploadVoiceReader(t *testing.T) {
	client := &fakeClient{resp: &voice.OperationResponse{Success: true, Message: "ok"}}
	s := newTestService(t, client)

	res := s.UploadVoiceReader(context.Background(), "dave", "", strings.NewReader("RIFF"), 16000)
	if !res.Success || string(client.uploaded) != "RIFF" || client.uploadSR != 16000 {
		t.Errorf("UploadVoiceReader() = %+v, uploaded %q", res, client.uploaded)
	}
	if res := s.UploadVoiceReader(context.Background(), " ", "", strings.NewReader("x"), 0); res.Success {
		t.Error("empty voice id should fail")
	}
}

func TestUploadCapture(t *testing.T) {
	client := &fakeClient{resp: &voice.OperationResponse{Success: true, Message: "ok"}}
	s := newTestService(t, client)

	buf := audio.NewAudioBuffer(48000, []float32{0.1, 0.2}, []float32{0.9, 0.9})
	res := s.UploadCapture(context.Background(), "carol", buf)
	if !res.Success {
		t.Fatalf("UploadCapture() = %+v", res)
	}
	info, err := audio.ParseWAVHeader(client.uploaded)
	if err != nil {
		t.Fatalf("uploaded data is not WAV: %v", err)
	}
	if info.Channels != 1 || info.SampleRate != 48000 {
		t.Errorf("info = %+v", info)
	}
	if client.uploadSR != 48000 {
		t.Errorf("sample rate = %d", client.uploadSR)
	}
}

func TestUploadCapture_InvalidBuffer(t *testing.T) {
	s := newTestService(t, &fakeClient{})

	if res := s.UploadCapture(context.Background(), "x", audio.NewAudioBuffer(0)); res.Success {
		t.Error("expected failure for invalid buffer")
	}
}

func TestDeleteVoice(t *testing.T) {
	client := &fakeClient{resp: &voice.OperationResponse{Success: true, Message: "Voice deleted"}}
	s := newTestService(t, client)

	res := s.DeleteVoice(context.Background(), "alice")
	if !res.Success || client.deletedID != "alice" {
		t.Errorf("DeleteVoice() = %+v, deleted %q", res, client.deletedID)
	}

	client.err = errors.New("boom")
	if res := s.DeleteVoice(context.Background(), "alice"); res.Success {
		t.Error("expected failure")
	}
}

func TestSweepTempFiles(t *testing.T) {
	s := newTestService(t, &fakeClient{})
	dir := s.cfg.TempDir

	stale := filepath.Join(dir, "chatterbox-bob_0f8fad5b-d9cb-469f-a165-70867728950e.wav")
	fresh := filepath.Join(dir, "chatterbox-eve_7c9e6679-7425-40de-944b-e07fc1f90ae7.wav")
	foreign := filepath.Join(dir, "other.wav")
	for _, p := range []string{stale, fresh, foreign} {
		os.WriteFile(p, []byte("x"), 0600)
	}
	old := time.Now().Add(-2 * time.Hour)
	os.Chtimes(stale, old, old)
	os.Chtimes(foreign, old, old)

	n, err := s.SweepTempFiles(time.Hour)
	if err != nil {
		t.Fatalf("SweepTempFiles() error = %v", err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale file should be removed")
	}
	for _, p := range []string{fresh, foreign} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s should be kept", filepath.Base(p))
		}
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"alice":      "alice",
		"a/b":        "a-b",
		"../x":       "---x",
		"":           "voice",
		"Über_1-two": "-ber_1-two",
	}
	for in, want := range tests {
		if got := safeName(in); got != want {
			t.Errorf("safeName(%q) = %q, want %q", in, got, want)
		}
	}
}
