// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     logging
// Description: QueueWriter buffers log lines in a bounded queue for a file sink
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultLogFile is the file name of the debug log written next to the binary's working dir
const DefaultLogFile = "chatterbox-ui.log"

// ErrWriterClosed is returned by Flush after Close
var ErrWriterClosed = errors.New("logging: queue writer closed")

// QueueWriterConfig holds configuration for QueueWriter
type QueueWriterConfig struct {
	Path     string    // Log file path (default: chatterbox-ui.log)
	Capacity int       // Maximum number of queued lines (default: 1024)
	Fallback io.Writer // Immediate mirror of every line (default: os.Stdout)
}

// DefaultQueueWriterConfig returns default configuration
func DefaultQueueWriterConfig() QueueWriterConfig {
	return QueueWriterConfig{
		Path:     DefaultLogFile,
		Capacity: 1024,
		Fallback: os.Stdout,
	}
}

// QueueWriter implements io.Writer. Lines are mirrored to the fallback
// immediately and queued for the file; nothing reaches the file until
// Flush is called. When the queue is full the oldest line is dropped.
type QueueWriter struct {
	path     string
	capacity int
	fallback io.Writer

	mu      sync.Mutex
	file    *os.File
	queue   [][]byte
	dropped uint64
	closed  bool
}

// OpenQueueWriter opens (or creates) the log file in append mode and writes
// the session banner.
func OpenQueueWriter(cfg QueueWriterConfig) (*QueueWriter, error) {
	if cfg.Path == "" {
		cfg.Path = DefaultLogFile
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 1024
	}
	if cfg.Fallback == nil {
		cfg.Fallback = os.Stdout
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	banner := fmt.Sprintf("\n========== New Session Started: %s ==========\n", time.Now().Format(time.DateTime))
	if _, err := f.WriteString(banner); err != nil {
		f.Close()
		return nil, fmt.Errorf("write session banner: %w", err)
	}

	return &QueueWriter{
		path:     cfg.Path,
		capacity: cfg.Capacity,
		fallback: cfg.Fallback,
		file:     f,
		queue:    make([][]byte, 0, cfg.Capacity),
	}, nil
}

// Write implements io.Writer
func (w *QueueWriter) Write(p []byte) (int, error) {
	line := make([]byte, len(p))
	copy(line, p)

	w.mu.Lock()
	if !w.closed {
		if len(w.queue) >= w.capacity {
			w.queue[0] = nil
			w.queue = w.queue[1:]
			w.dropped++
		}
		w.queue = append(w.queue, line)
	}
	w.mu.Unlock()

	// The line is queued even when the mirror fails
	if _, err := w.fallback.Write(p); err != nil {
		return len(p), fmt.Errorf("log mirror: %w", err)
	}
	return len(p), nil
}

// Flush drains the queue into the log file
func (w *QueueWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	return w.flushLocked()
}

func (w *QueueWriter) flushLocked() error {
	if len(w.queue) == 0 {
		return nil
	}

	var firstErr error
	for _, line := range w.queue {
		if _, err := w.file.Write(line); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	w.queue = make([][]byte, 0, w.capacity)

	return firstErr
}

// Pending returns the number of queued lines
func (w *QueueWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Dropped returns the number of lines discarded because the queue was full
func (w *QueueWriter) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Path returns the log file path
func (w *QueueWriter) Path() string {
	return w.path
}

// Close flushes the remaining lines and closes the file. Calling Close twice is a no-op.
func (w *QueueWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	flushErr := w.flushLocked()
	if err := w.file.Close(); err != nil {
		return err
	}
	return flushErr
}
