package audio

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/msto63/chatterbox-ui/pkg/core/logging"
)

// DefaultDownloadTTL bounds how long an unclaimed download stays available
const DefaultDownloadTTL = 60 * time.Second

// DefaultServedGrace is how long a download remains after it was first served
const DefaultServedGrace = 5 * time.Second

// Ticket identifies a temporary download
type Ticket struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type download struct {
	ticket Ticket
	data   []byte
	timer  *time.Timer
	served bool
}

// DownloadStore keeps WAV payloads behind short-lived handles. Every handle is
// released on a timer, whether or not it was fetched.
type DownloadStore struct {
	mu     sync.Mutex
	items  map[string]*download
	ttl    time.Duration
	grace  time.Duration
	logger *logging.Logger
	closed bool
}

// NewDownloadStore creates a store; ttl <= 0 uses DefaultDownloadTTL
func NewDownloadStore(ttl time.Duration, logger *logging.Logger) *DownloadStore {
	if ttl <= 0 {
		ttl = DefaultDownloadTTL
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &DownloadStore{
		items:  make(map[string]*download),
		ttl:    ttl,
		grace:  DefaultServedGrace,
		logger: logger,
	}
}

// SetServedGrace changes the delay between the first fetch and release
func (s *DownloadStore) SetServedGrace(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = d
}

// Put stores data under a new handle. ttl <= 0 uses the store default.
func (s *DownloadStore) Put(data []byte, filename string, ttl time.Duration) Ticket {
	if ttl <= 0 {
		ttl = s.ttl
	}
	id := uuid.New().String()
	t := Ticket{
		ID:          id,
		Filename:    SanitizeFilename(filename),
		ContentType: MIMEWAV,
		Size:        len(data),
		ExpiresAt:   time.Now().Add(ttl),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return t
	}
	d := &download{ticket: t, data: data}
	d.timer = time.AfterFunc(ttl, func() { s.expire(id) })
	s.items[id] = d

	s.logger.Debug("Download registered", "id", id, "filename", t.Filename, "bytes", t.Size)
	return t
}

// Get returns the ticket and payload
func (s *DownloadStore) Get(id string) (Ticket, []byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.items[id]
	if !ok {
		return Ticket{}, nil, false
	}
	return d.ticket, d.data, true
}

// MarkServed shortens the remaining lifetime to the served grace period
func (s *DownloadStore) MarkServed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.items[id]
	if !ok || d.served {
		return
	}
	d.served = true
	if time.Until(d.ticket.ExpiresAt) > s.grace {
		d.timer.Reset(s.grace)
		d.ticket.ExpiresAt = time.Now().Add(s.grace)
	}
}

// Release removes a handle immediately
func (s *DownloadStore) Release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.items[id]
	if !ok {
		return false
	}
	d.timer.Stop()
	delete(s.items, id)
	return true
}

func (s *DownloadStore) expire(id string) {
	s.mu.Lock()
	_, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()
	if ok {
		s.logger.Debug("Download released", "id", id)
	}
}

// Len returns the number of live handles
func (s *DownloadStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close releases every handle
func (s *DownloadStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.items {
		d.timer.Stop()
		delete(s.items, id)
	}
	s.closed = true
}

// SanitizeFilename strips directories and unsafe characters and forces a .wav extension
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), ".")
	if clean == "" {
		clean = "audio"
	}
	if !strings.EqualFold(filepath.Ext(clean), ".wav") {
		clean = strings.TrimSuffix(clean, filepath.Ext(clean)) + ".wav"
	}
	return clean
}
