package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
)

// TimestampLayout is the run timestamp embedded in export file names.
const TimestampLayout = "02-01-2006_15-04-05"

// Exporter writes the products of one run to timestamped files.
type Exporter struct {
	cfg  *config.Config
	now  func() time.Time
	open func(time.Time) (OutputWriter, []string, error)
}

// ExportResult reports the files an export produced and what the pipeline
// kept out of them.
type ExportResult struct {
	Paths      []string
	Written    int
	Invalid    int
	Duplicates int
}

// NewExporter returns an exporter for the configured format and location.
func NewExporter(cfg *config.Config) *Exporter {
	e := &Exporter{cfg: cfg, now: time.Now}
	e.open = e.Open
	return e
}

// OutputPath builds dir/prefix_<timestamp>.ext.
func OutputPath(dir, prefix, ext string, now time.Time) string {
	name := fmt.Sprintf("%s_%s.%s", prefix, now.Format(TimestampLayout), strings.TrimPrefix(ext, "."))
	return filepath.Join(dir, name)
}

// Open creates the writer for the configured format and returns the files it writes.
func (e *Exporter) Open(now time.Time) (OutputWriter, []string, error) {
	dir, prefix := e.cfg.OutputDir, e.cfg.OutputPrefix
	switch strings.ToLower(e.cfg.OutputFormat) {
	case "", "csv":
		path := OutputPath(dir, prefix, "csv", now)
		w, err := NewCSVWriter(path)
		if err != nil {
			return nil, nil, err
		}
		return w, []string{path}, nil
	case "json", "jsonl":
		path := OutputPath(dir, prefix, "jsonl", now)
		w, err := NewJSONWriter(path)
		if err != nil {
			return nil, nil, err
		}
		return w, []string{path}, nil
	case "dual":
		csvPath := OutputPath(dir, prefix, "csv", now)
		jsonPath := OutputPath(dir, prefix, "jsonl", now)
		w, err := NewDualWriter(csvPath, jsonPath)
		if err != nil {
			return nil, nil, err
		}
		return w, []string{csvPath, jsonPath}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported output format %q", e.cfg.OutputFormat)
	}
}

// Export runs products through the pipeline into freshly created files. An
// empty run still produces a file with the CSV header. When the pipeline fails
// to drain in time the writer is left open, since a worker may still be
// writing to it.
func (e *Exporter) Export(ctx context.Context, products []*models.Product) (*ExportResult, error) {
	writer, paths, err := e.open(e.now())
	if err != nil {
		return nil, fmt.Errorf("open export: %w", err)
	}

	p := NewPipeline(ctx, writer, e.cfg)
	p.Start(1)
	if e.cfg.ProgressInterval > 0 {
		p.StartMetricsReporting(e.cfg.ProgressInterval)
	}

	processErr := p.Process(products...)
	closeErr := p.Close()

	snapshot := p.GetMetrics()
	processed, _ := snapshot["processed_products"].(int64)
	validation, _ := snapshot["validation_errors"].(map[string]int)
	result := &ExportResult{
		Paths:      paths,
		Written:    int(processed),
		Invalid:    validation["invalid_record"],
		Duplicates: validation["duplicate_url"],
	}

	if errors.Is(closeErr, ErrPipelineCloseTimeout) {
		slog.Warn("export pipeline did not drain, leaving output open", slog.Any("paths", paths))
		return result, fmt.Errorf("export products: %w", errors.Join(processErr, closeErr))
	}

	var validateErr error
	if processed > 0 {
		validateErr = writer.Validate()
	}
	writerErr := writer.Close()

	if err := errors.Join(processErr, closeErr, validateErr, writerErr); err != nil {
		return result, fmt.Errorf("export products: %w", err)
	}

	slog.Info("export complete",
		slog.Any("paths", paths),
		slog.Int("written", result.Written),
		slog.Int("invalid", result.Invalid),
		slog.Int("duplicates", result.Duplicates),
	)
	return result, nil
}
