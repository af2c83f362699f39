package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// linePrefix marks audit records in mixed log output.
const linePrefix = "AUDIT: "

// ReadEvents parses line logger output back into events. Lines carrying
// the audit prefix must parse; anything else in the stream is skipped,
// since the line logger often shares a writer with service logs.
func ReadEvents(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(raw, []byte(linePrefix)) {
			continue
		}
		var e Event
		if err := json.Unmarshal(raw[len(linePrefix):], &e); err != nil {
			return nil, fmt.Errorf("audit: malformed record on line %d: %w", line, err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// Restore appends previously recorded events as-is, keeping their ids
// and timestamps, so a trail can be rebuilt from captured log output
// and exported after the fact.
func (t *Trail) Restore(events []Event) {
	t.mu.Lock()
	t.events = append(t.events, events...)
	t.mu.Unlock()
}
