// Package audit keeps an append-only JSON Lines trail of security-relevant
// vault events: unlock attempts, locks, key rotation, import and export.
package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Operations recorded in the trail
const (
	OpUnlock    = "unlock"
	OpLock      = "lock"
	OpRotate    = "rotate"
	OpReset     = "reset"
	OpFactors   = "factors"
	OpExport    = "export"
	OpImport    = "import"
	OpCooldown  = "cooldown"
	OutcomeOK   = "ok"
	OutcomeFail = "fail"
)

// Entry represents a single audit log entry.
type Entry struct {
	Timestamp string `json:"ts"` // RFC3339 with microseconds.
	Operation string `json:"op"`
	Outcome   string `json:"outcome,omitempty"`
	Method    string `json:"method,omitempty"`   // For unlock.
	Attempts  int    `json:"attempts,omitempty"` // For failed unlock.
	Detail    string `json:"detail,omitempty"`
}

// Recorder receives audit entries
type Recorder interface {
	Record(entry Entry)
}

// Nop discards every entry
type Nop struct{}

// Record does nothing
func (Nop) Record(Entry) {}

// Log appends entries to a file
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog returns a log writing to path
func NewLog(path string) *Log {
	return &Log{path: path}
}

// Path returns the log file path
func (l *Log) Path() string {
	return l.path
}

// Record appends an entry to the audit log.
// Failures are swallowed; operations should not fail just because audit logging failed.
func (l *Log) Record(entry Entry) {
	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return
	}
	defer f.Close()

	_, _ = f.Write(append(data, '\n'))
}

// Entries reads all entries from the log.
// Returns an empty slice if the log doesn't exist; malformed lines are skipped.
func (l *Log) Entries() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
