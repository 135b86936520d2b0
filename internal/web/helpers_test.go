package web

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/history"
	"github.com/msto63/chatterbox-ui/internal/service"
	"github.com/msto63/chatterbox-ui/internal/voice"
)

// fakeInference imitates the inference server's REST API
type fakeInference struct {
	mu       sync.Mutex
	voices   map[string]voice.VoiceInfo
	uploads  map[string][]byte
	lastSynth voice.SynthesizeRequest
	down     bool
}

func newFakeInference() *fakeInference {
	return &fakeInference{
		voices: map[string]voice.VoiceInfo{
			"alice": {VoiceID: "alice", Filename: "alice.wav", UploadedAt: "2026-10-01T10:00:00", SampleRate: 24000},
		},
		uploads: make(map[string][]byte),
	}
}

func sineWAV(t *testing.T, rate int, seconds float64) []byte {
	t.Helper()
	n := int(float64(rate) * seconds)
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	wav, err := audio.EncodeWAV(audio.NewMonoBuffer(rate, samples), audio.FirstChannel)
	if err != nil {
		t.Fatalf("EncodeWAV() error = %v", err)
	}
	return wav
}

func (f *fakeInference) handler(t *testing.T) http.Handler {
	synthWAV := sineWAV(t, 24000, 0.1)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		down := f.down
		f.mu.Unlock()
		if down {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
			return
		}

		switch {
		case r.URL.Path == "/voices" && r.Method == http.MethodGet:
			f.mu.Lock()
			list := voice.VoiceList{Voices: []voice.VoiceInfo{}}
			for _, v := range f.voices {
				list.Voices = append(list.Voices, v)
			}
			list.Total = len(list.Voices)
			f.mu.Unlock()
			json.NewEncoder(w).Encode(list)

		case r.URL.Path == "/voices" && r.Method == http.MethodPost:
			if err := r.ParseMultipartForm(10 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			id := r.FormValue("voice_id")
			file, header, err := r.FormFile("file")
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(file)

			f.mu.Lock()
			_, exists := f.voices[id]
			if !exists {
				f.voices[id] = voice.VoiceInfo{VoiceID: id, Filename: header.Filename, UploadedAt: time.Now().Format(time.RFC3339)}
				f.uploads[id] = data
			}
			f.mu.Unlock()

			if exists {
				json.NewEncoder(w).Encode(voice.OperationResponse{Success: false, Message: "Voice already exists"})
				return
			}
			json.NewEncoder(w).Encode(voice.OperationResponse{Success: true, Message: "Voice uploaded"})

		case strings.HasPrefix(r.URL.Path, "/voices/") && r.Method == http.MethodDelete:
			id, _ := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), "/voices/"))
			f.mu.Lock()
			_, exists := f.voices[id]
			delete(f.voices, id)
			f.mu.Unlock()
			if !exists {
				json.NewEncoder(w).Encode(voice.OperationResponse{Success: false, Message: "Voice not found"})
				return
			}
			json.NewEncoder(w).Encode(voice.OperationResponse{Success: true, Message: "Voice deleted"})

		case r.URL.Path == "/synthesize" && r.Method == http.MethodPost:
			var req voice.SynthesizeRequest
			json.NewDecoder(r.Body).Decode(&req)
			f.mu.Lock()
			f.lastSynth = req
			f.mu.Unlock()

			w.Header().Set("Content-Type", "audio/wav")
			half := len(synthWAV) / 2
			w.Write(synthWAV[:half])
			if fl, ok := w.(http.Flusher); ok {
				fl.Flush()
			}
			w.Write(synthWAV[half:])

		default:
			http.NotFound(w, r)
		}
	})
}

func (f *fakeInference) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeInference) uploaded(id string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads[id]
}

func (f *fakeInference) lastRequest() voice.SynthesizeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSynth
}

// testEnv is a running web server backed by a fake inference server
type testEnv struct {
	server    *Server
	http      *httptest.Server
	inference *fakeInference
	deps      *Deps
	client    *http.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	inference := newFakeInference()
	upstream := httptest.NewServer(inference.handler(t))
	t.Cleanup(upstream.Close)

	client, err := voice.NewClient(voice.Config{ServerURL: upstream.URL, Timeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	store, err := history.NewSQLiteStore(history.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := service.NewService(client, service.Config{TempDir: t.TempDir(), HistoryKeep: 10}, nil,
		service.WithHistory(store))

	downloads := audio.NewDownloadStore(time.Minute, nil)
	metrics := NewMetrics()
	deps := &Deps{
		Service:   svc,
		Sessions:  NewSessionManager(SessionConfig{
			TTL:          time.Minute,
			OpenTimeout:  2 * time.Second,
			CaptureTypes: audio.NewDecoderRegistry().MediaTypes(),
		}, downloads, metrics, nil),
		Downloads: downloads,
		Metrics:   metrics,
		Audio: AudioOptions{
			Policy:      audio.FirstChannel,
			StopTimeout: 2 * time.Second,
		},
		Version: "test",
	}

	srv, err := New(DefaultConfig(), deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		deps.Sessions.Close()
		downloads.Close()
	})

	jar, _ := cookiejar.New(nil)
	return &testEnv{
		server:    srv,
		http:      ts,
		inference: inference,
		deps:      deps,
		client:    &http.Client{Jar: jar, Timeout: 10 * time.Second},
	}
}

// otherBrowser returns a view of the environment with its own cookie jar
func (e *testEnv) otherBrowser() *testEnv {
	jar, _ := cookiejar.New(nil)
	other := *e
	other.client = &http.Client{Jar: jar, Timeout: 10 * time.Second}
	return &other
}

func (e *testEnv) url(path string) string {
	return e.http.URL + path
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.url(path), r)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]interface{}{}
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("invalid JSON from %s: %v (%s)", path, err, data)
		}
	}
	return resp, out
}

// sessionCookie returns the session cookie the client holds for the server
func (e *testEnv) sessionCookie(t *testing.T) *http.Cookie {
	t.Helper()
	u, _ := url.Parse(e.http.URL)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie")
	return nil
}
