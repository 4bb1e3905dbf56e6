// Package eventlog keeps a newline-delimited JSON record of published and scheduled messages
// for local inspection.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/velmie/messaging"
)

// FileName is the log file created inside the storage directory.
const FileName = "events.ndjson"

// Local appends events to <dir>/events.ndjson.
type Local struct {
	mu    sync.Mutex
	path  string
	clock messaging.Clock
}

var _ messaging.EventLog = (*Local)(nil)

// Open creates dir when needed and returns a log writing into it.
func Open(dir string, clock messaging.Clock) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: event log directory is required", messaging.ErrInvalidArgument)
	}
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return nil, fmt.Errorf("eventlog: create %s: %w", dir, err)
	}
	if clock == nil {
		clock = messaging.SystemClock{}
	}

	return &Local{path: filepath.Join(dir, FileName), clock: clock}, nil
}

// Path returns the log file path.
func (l *Local) Path() string {
	return l.path
}

// Append writes event as one JSON line with a unix "timestamp" field added. The caller's map is not modified.
func (l *Local) Append(event map[string]any) error {
	line := make(map[string]any, len(event)+1)
	for k, v := range event {
		line[k] = v
	}
	line["timestamp"] = l.clock.Now().Unix()

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("eventlog: encode: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o664)
	if err != nil {
		return fmt.Errorf("eventlog: open: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()

		return fmt.Errorf("eventlog: write: %w", err)
	}

	return f.Close()
}

// Events reads every event back in write order. Lines that are not JSON objects are skipped.
func (l *Local) Events() ([]map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	defer f.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var event map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil || event == nil {
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("eventlog: read: %w", err)
	}

	return events, nil
}

// Tail returns the last n events, oldest first.
func (l *Local) Tail(n int) ([]map[string]any, error) {
	events, err := l.Events()
	if err != nil || n <= 0 {
		return nil, err
	}
	if len(events) > n {
		events = events[len(events)-n:]
	}

	return events, nil
}
