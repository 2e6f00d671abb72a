package scraper

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// RuntimeSample is the elapsed time of one phase of one category.
type RuntimeSample struct {
	Phase    string
	Category string
	Elapsed  time.Duration
}

// RuntimeLog collects phase timings for the optional runtime report.
type RuntimeLog struct {
	mu      sync.Mutex
	samples []RuntimeSample
}

// NewRuntimeLog returns an empty log.
func NewRuntimeLog() *RuntimeLog {
	return &RuntimeLog{}
}

// Record appends a sample. A nil log ignores it.
func (l *RuntimeLog) Record(phase, category string, elapsed time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.samples = append(l.samples, RuntimeSample{Phase: phase, Category: category, Elapsed: elapsed})
	l.mu.Unlock()
}

// Samples returns a copy of the recorded samples in arrival order.
func (l *RuntimeLog) Samples() []RuntimeSample {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RuntimeSample, len(l.samples))
	copy(out, l.samples)
	return out
}

// WriteCSV writes one row per sample with the elapsed time in seconds.
func (l *RuntimeLog) WriteCSV(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create runtime report: %w", err)
	}

	writeErr := l.writeRecords(f)
	if err := f.Close(); err != nil && writeErr == nil {
		return fmt.Errorf("close runtime report: %w", err)
	}
	return writeErr
}

func (l *RuntimeLog) writeRecords(out io.Writer) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"sample", "phase", "category", "runtime_seconds"}); err != nil {
		return fmt.Errorf("write runtime header: %w", err)
	}
	for i, s := range l.Samples() {
		record := []string{
			strconv.Itoa(i + 1),
			s.Phase,
			s.Category,
			strconv.FormatFloat(s.Elapsed.Seconds(), 'f', 3, 64),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write runtime record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush runtime report: %w", err)
	}
	return nil
}
