package integration

import (
	"context"
	"math"
	"net"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/msto63/chatterbox-ui/internal/audio"
	"github.com/msto63/chatterbox-ui/internal/voice"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// TestConfig holds the addresses of the live services
type TestConfig struct {
	ServerURL string // inference server
	APIKey    string
	UIAddr    string // running "chatterbox serve"
	GRPCAddr  string // its ops endpoint, empty when not enabled
}

func getTestConfig() TestConfig {
	return TestConfig{
		ServerURL: getEnv("TEST_CHATTERBOX_URL", "http://localhost:20480"),
		APIKey:    os.Getenv("TEST_CHATTERBOX_API_KEY"),
		UIAddr:    getEnv("TEST_UI_ADDR", "127.0.0.1:8085"),
		GRPCAddr:  os.Getenv("TEST_UI_GRPC_ADDR"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// skipIfServiceUnavailable skips the test if the service is not reachable
func skipIfServiceUnavailable(t *testing.T, addr string, serviceName string) {
	t.Helper()
	if !isServiceAvailable(addr) {
		t.Skipf("Skipping: %s not available at %s", serviceName, addr)
	}
}

// isServiceAvailable checks if a TCP connection can be established
func isServiceAvailable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// hostOf returns host:port of a base URL
func hostOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("invalid URL %q: %v", rawURL, err)
	}
	if u.Port() == "" {
		if u.Scheme == "https" {
			return u.Host + ":443"
		}
		return u.Host + ":80"
	}
	return u.Host
}

// newInferenceClient connects to the live inference server or skips
func newInferenceClient(t *testing.T) *voice.Client {
	t.Helper()
	cfg := getTestConfig()
	skipIfServiceUnavailable(t, hostOf(t, cfg.ServerURL), "Inference server")

	client, err := voice.NewClient(voice.Config{
		ServerURL: cfg.ServerURL,
		APIKey:    cfg.APIKey,
		Timeout:   2 * time.Minute,
	}, logging.Nop())
	requireNoError(t, err, "create client")
	return client
}

// testContext returns a context with timeout for tests
func testContext(t *testing.T, timeout time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), timeout)
}

// sineWAV returns a mono 16-bit WAV with a 220 Hz tone
func sineWAV(t *testing.T, rate int, seconds float64) []byte {
	t.Helper()
	samples := make([]float32, int(float64(rate)*seconds))
	for i := range samples {
		samples[i] = 0.4 * float32(math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
	}
	wav, err := audio.EncodeWAV(audio.NewMonoBuffer(rate, samples), audio.FirstChannel)
	requireNoError(t, err, "encode test WAV")
	return wav
}

// requireNoError fails the test if err is not nil
func requireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// requireTrue fails the test if condition is false
func requireTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Fatalf("Expected true: %s", msg)
	}
}

// logTestStart logs the start of a test with service info
func logTestStart(t *testing.T, serviceName, testName string) {
	t.Helper()
	t.Logf("=== %s: %s ===", serviceName, testName)
}
