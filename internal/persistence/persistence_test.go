package persistence

import (
	"bufio"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogAppendWritesJSONLine(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLog(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := log.AppendTurn("session-1", "user", "hello"); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected read dir error: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".jsonl") {
		t.Fatalf("expected exactly one daily jsonl file, got %v", entries)
	}

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lines := 0
	var lastLine string
	for scanner.Scan() {
		lines++
		lastLine = scanner.Text()
	}
	if lines != 1 {
		t.Fatalf("expected one jsonl line, got %d", lines)
	}
	if !strings.Contains(lastLine, `"session_id":"session-1"`) || !strings.Contains(lastLine, `"content":"hello"`) {
		t.Fatalf("unexpected jsonl line: %q", lastLine)
	}
}

func TestLogExportCSVWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLog(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := log.AppendTurn("session-1", "user", "hi"); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if err := log.AppendTurn("session-1", "assistant", "hello back"); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	csvPath := filepath.Join(dir, "export.csv")
	if err := log.ExportCSV(csvPath); err != nil {
		t.Fatalf("unexpected export error: %v", err)
	}

	f, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("unexpected csv parse error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected a header row plus 2 data rows, got %d", len(rows))
	}
	if rows[0][0] != "ts" || rows[0][3] != "content" {
		t.Fatalf("unexpected header row: %v", rows[0])
	}
	if rows[1][2] != "user" || rows[2][2] != "assistant" {
		t.Fatalf("unexpected role column: %v / %v", rows[1], rows[2])
	}
}

func TestLogRotatesFileOnDayChange(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLog(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer log.Close()

	if err := log.Append(Record{Role: "user", Content: "day one"}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	firstDay := log.day

	later := Record{Role: "user", Content: "day two"}
	later.Timestamp = log.records[0].Timestamp.AddDate(0, 0, 1)
	if err := log.Append(later); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	if log.day == firstDay {
		t.Fatalf("expected the log to rotate to a new day file")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected read dir error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two daily files after rotation, got %d", len(entries))
	}
}
