package logging

import (
	"sync"
	"time"
)

// DefaultFlushInterval matches the cadence of the debug log file
const DefaultFlushInterval = 2 * time.Second

// Flusher is implemented by writers that hold back output until flushed
type Flusher interface {
	Flush() error
}

// FlushScheduler calls Flush on a fixed interval. It is owned by the process
// entry point, never by the components that log.
type FlushScheduler struct {
	target   Flusher
	interval time.Duration
	onError  func(error)

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewFlushScheduler creates a scheduler; onError may be nil
func NewFlushScheduler(target Flusher, interval time.Duration, onError func(error)) *FlushScheduler {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &FlushScheduler{
		target:   target,
		interval: interval,
		onError:  onError,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the flush loop
func (s *FlushScheduler) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *FlushScheduler) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.flush()
			return
		case <-ticker.C:
			s.flush()
		}
	}
}

func (s *FlushScheduler) flush() {
	if err := s.target.Flush(); err != nil && s.onError != nil {
		s.onError(err)
	}
}

// Stop ends the loop after a final flush. Stop without Start flushes once.
func (s *FlushScheduler) Stop() {
	s.stopOnce.Do(func() {
		started := true
		s.startOnce.Do(func() { started = false })
		close(s.stopCh)
		if started {
			<-s.doneCh
		} else {
			s.flush()
		}
	})
}
