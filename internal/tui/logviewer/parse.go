package logviewer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"
)

// maxTailBytes bounds how much of a large log file is read per refresh
const maxTailBytes = 2 << 20

var (
	bannerPattern = regexp.MustCompile(`^=+ New Session Started: (.+?) =+$`)
	fieldPattern  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*=`)
)

// consoleLevels maps zerolog console abbreviations to viewer levels
var consoleLevels = map[string]string{
	"TRC": LevelDebug,
	"DBG": LevelDebug,
	"INF": LevelInfo,
	"WRN": LevelWarn,
	"ERR": LevelError,
	"FTL": LevelError,
	"PNC": LevelError,
}

// ReadTail reads the last max entries of the log file at path
func ReadTail(path string, max int) ([]LogEntry, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := info.Size()

	partial := false
	if size > maxTailBytes {
		if _, err := f.Seek(size-maxTailBytes, io.SeekStart); err != nil {
			return nil, size, err
		}
		partial = true
	}

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if partial {
			// First line is most likely cut in half
			partial = false
			continue
		}
		if e, ok := ParseLine(scanner.Text()); ok {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, size, err
	}

	if max > 0 && len(entries) > max {
		entries = entries[len(entries)-max:]
	}
	return entries, size, nil
}

// ParseLine parses a JSON or console formatted log line. Blank lines are
// skipped; lines in neither format are kept as INFO messages.
func ParseLine(line string) (LogEntry, bool) {
	line = strings.TrimRight(line, "\r")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return LogEntry{}, false
	}

	if m := bannerPattern.FindStringSubmatch(trimmed); m != nil {
		ts, _ := time.ParseInLocation(time.DateTime, m[1], time.Local)
		return LogEntry{Timestamp: ts, Level: LevelSession, Message: "Neue Sitzung"}, true
	}

	if strings.HasPrefix(trimmed, "{") {
		if e, ok := parseJSON(trimmed); ok {
			return e, true
		}
	}
	if e, ok := parseConsole(trimmed); ok {
		return e, true
	}
	return LogEntry{Level: LevelInfo, Message: trimmed}, true
}

func parseJSON(line string) (LogEntry, bool) {
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, false
	}

	e := LogEntry{Level: LevelInfo, Fields: make(map[string]string)}
	for k, v := range raw {
		s := fmt.Sprint(v)
		switch k {
		case "level":
			e.Level = normalizeLevel(s)
		case "time":
			e.Timestamp, _ = time.Parse(time.RFC3339, s)
		case "message":
			e.Message = s
		case "logger":
			e.Component = s
		case "service":
			if e.Component == "" {
				e.Component = s
			}
		default:
			e.Fields[k] = s
		}
	}
	return e, true
}

// parseConsole handles "2006-01-02 15:04:05 INF message key=value ..."
func parseConsole(line string) (LogEntry, bool) {
	if len(line) < len(time.DateTime)+5 {
		return LogEntry{}, false
	}
	ts, err := time.ParseInLocation(time.DateTime, line[:len(time.DateTime)], time.Local)
	if err != nil {
		return LogEntry{}, false
	}
	rest := line[len(time.DateTime)+1:]
	level, ok := consoleLevels[rest[:3]]
	if !ok {
		return LogEntry{}, false
	}
	rest = strings.TrimSpace(rest[3:])

	e := LogEntry{Timestamp: ts, Level: level, Fields: make(map[string]string)}

	// Fields trail the message; walk tokens from the end until one is not key=value
	tokens := tokenize(rest)
	msgEnd := len(rest)
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := rest[tokens[i][0]:tokens[i][1]]
		if !fieldPattern.MatchString(tok) {
			break
		}
		key, value, _ := strings.Cut(tok, "=")
		value = unquote(value)
		switch key {
		case "logger":
			e.Component = value
		case "service":
			if e.Component == "" {
				e.Component = value
			}
		default:
			e.Fields[key] = value
		}
		msgEnd = tokens[i][0]
	}
	e.Message = strings.TrimSpace(rest[:msgEnd])
	return e, true
}

// tokenize splits on spaces outside double quotes and returns byte ranges
func tokenize(s string) [][2]int {
	var tokens [][2]int
	start := -1
	inQuote := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inQuote:
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == ' ' && !inQuote:
			if start >= 0 {
				tokens = append(tokens, [2]int{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, [2]int{start, len(s)})
	}
	return tokens
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		var out string
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
		return s[1 : len(s)-1]
	}
	return s
}

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "trace", "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error", "fatal", "panic":
		return LevelError
	default:
		return LevelInfo
	}
}

// formatFields renders fields sorted by key
func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v := fields[k]
		if strings.ContainsAny(v, " \t") {
			v = fmt.Sprintf("%q", v)
		}
		parts[i] = k + "=" + v
	}
	return strings.Join(parts, " ")
}
