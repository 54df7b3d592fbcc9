package logger

import (
	"encoding/json"
)

const defaultBufferSize = 500

// LogEntry is a parsed log line kept for the logs endpoint.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// RecentLogs is an io.Writer that keeps the last entries written by zerolog.
type RecentLogs struct {
	buffer *RingBuffer[LogEntry]
}

// NewRecentLogs creates a sink holding up to size entries.
func NewRecentLogs(size int) *RecentLogs {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &RecentLogs{buffer: NewRingBuffer[LogEntry](size)}
}

// Write implements io.Writer. It receives one JSON log entry per call.
func (r *RecentLogs) Write(p []byte) (int, error) {
	entry, err := parseLogEntry(p)
	if err != nil {
		return len(p), nil //nolint:nilerr // Malformed entries are dropped
	}
	r.buffer.Push(entry)
	return len(p), nil
}

// Entries returns up to limit of the newest entries, oldest first. A limit
// of zero or less returns everything buffered.
func (r *RecentLogs) Entries(limit int) []LogEntry {
	if limit <= 0 {
		return r.buffer.GetAll()
	}
	return r.buffer.Last(limit)
}

func parseLogEntry(data []byte) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return LogEntry{}, err
	}

	entry := LogEntry{Fields: make(map[string]any)}

	if ts, ok := raw["time"].(string); ok {
		entry.Timestamp = ts
		delete(raw, "time")
	}
	if level, ok := raw["level"].(string); ok {
		entry.Level = level
		delete(raw, "level")
	}
	if component, ok := raw["component"].(string); ok {
		entry.Component = component
		delete(raw, "component")
	}
	if msg, ok := raw["message"].(string); ok {
		entry.Message = msg
		delete(raw, "message")
	}

	for k, v := range raw {
		entry.Fields[k] = v
	}
	if len(entry.Fields) == 0 {
		entry.Fields = nil
	}
	return entry, nil
}
