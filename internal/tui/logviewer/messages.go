// ============================================================================
// Chatterbox UI - Sprachsynthese-Oberfläche
// ============================================================================
//
// Package:     logviewer
// Description: Log entry type and message types for async operations
// Author:      Mike Stoffels with Claude
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package logviewer

import (
	"time"
)

// LogEntry is one parsed line of the log file
type LogEntry struct {
	Timestamp time.Time
	Component string
	Level     string
	Message   string
	Fields    map[string]string
}

// Level names as shown in the viewer
const (
	LevelDebug   = "DEBUG"
	LevelInfo    = "INFO"
	LevelWarn    = "WARN"
	LevelError   = "ERROR"
	LevelSession = "SESSION" // session banner written when the log file is opened
)

// logsLoadedMsg is sent when the log file has been read
type logsLoadedMsg struct {
	entries []LogEntry
	size    int64
	err     error
}

// tickMsg is used for periodic reloads
type tickMsg time.Time
