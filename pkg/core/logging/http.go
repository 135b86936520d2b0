package logging

import (
	"fmt"
)

// MaxLoggedBody is the number of body characters kept in request/response logs
const MaxLoggedBody = 500

// Truncate shortens s to max characters and notes the original length
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return fmt.Sprintf("%s...(truncated, total length: %d)", s[:max], len(s))
}

// Request logs an outgoing HTTP request
func (l *Logger) Request(method, url, body string) {
	if body == "" {
		l.Debug("HTTP request", "method", method, "url", url)
		return
	}
	l.Debug("HTTP request", "method", method, "url", url, "body", Truncate(body, MaxLoggedBody))
}

// Response logs an HTTP response
func (l *Logger) Response(status int, body string) {
	l.Debug("HTTP response", "status", status, "body", Truncate(body, MaxLoggedBody))
}

// Failure logs an error together with its context
func (l *Logger) Failure(context string, err error) {
	l.Error(context, "error", err)
}
