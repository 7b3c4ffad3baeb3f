package recordlog

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cloudpico-node/internal/clock"
)

// Header is the first row of the CSV record file. Clear keeps it.
var Header = []string{"t", "tp", "hd"}

// CSVLog stores records as "timestamp,temperature,humidity" rows under a
// fixed header.
type CSVLog struct {
	path   string
	logger *slog.Logger
}

// OpenCSV creates the file with its header when it does not exist yet.
func OpenCSV(path string, logger *slog.Logger) (*CSVLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &CSVLog{path: path, logger: logger}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		return l, nil
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
		}
		if err := l.writeHeaderOnly(); err != nil {
			return nil, err
		}
		logger.Info("record log created", "path", path)
		return l, nil
	default:
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
}

func (l *CSVLog) Append(r Record) error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", l.path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(formatRow(r)); err != nil {
		_ = f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", l.path, err)
	}
	return f.Close()
}

func (l *CSVLog) ReadAll() ([]Record, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	rd := csv.NewReader(bufio.NewReader(f))
	rd.FieldsPerRecord = -1
	rd.ReuseRecord = true

	var out []Record
	for line := 1; ; line++ {
		row, err := rd.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			l.logger.Warn("record log: skipping unreadable row", "line", line, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", l.path, err)
		}
		if line == 1 && isHeader(row) {
			continue
		}
		r, err := parseRow(row)
		if err != nil {
			l.logger.Warn("record log: skipping malformed row", "line", line, "error", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (l *CSVLog) Clear() error {
	if err := l.writeHeaderOnly(); err != nil {
		return err
	}
	l.logger.Info("record log cleared", "path", l.path)
	return nil
}

func (l *CSVLog) Close() error { return nil }

// writeHeaderOnly replaces the file with just the header row.
func (l *CSVLog) writeHeaderOnly() error {
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	w := csv.NewWriter(f)
	_ = w.Write(Header)
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func isHeader(row []string) bool {
	if len(row) != len(Header) {
		return false
	}
	for i := range row {
		if row[i] != Header[i] {
			return false
		}
	}
	return true
}

func formatRow(r Record) []string {
	return []string{
		clock.FormatISO(r.Timestamp.Unix()),
		strconv.FormatFloat(float64(r.Temperature), 'f', 2, 32),
		strconv.FormatFloat(float64(r.Humidity), 'f', 2, 32),
	}
}

func parseRow(row []string) (Record, error) {
	if len(row) != 3 {
		return Record{}, fmt.Errorf("want 3 columns, got %d", len(row))
	}
	ts, err := clock.ParseISO(row[0])
	if err != nil {
		return Record{}, err
	}
	temp, err := strconv.ParseFloat(row[1], 32)
	if err != nil {
		return Record{}, fmt.Errorf("temperature %q: %w", row[1], err)
	}
	hum, err := strconv.ParseFloat(row[2], 32)
	if err != nil {
		return Record{}, fmt.Errorf("humidity %q: %w", row[2], err)
	}
	return Record{
		Timestamp:   time.Unix(ts, 0).UTC(),
		Temperature: float32(temp),
		Humidity:    float32(hum),
	}, nil
}
