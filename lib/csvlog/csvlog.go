// Package csvlog persists acquisition rows to CSV data files and reads
// them back for display. Writers pin the column order on the first row;
// readers tolerate a final line truncated by a concurrent writer.
package csvlog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Stamp is the time layout used in data and log file names.
const Stamp = "2006-01-02_15-04-05"

// FileName builds the data file path for a run started at t.
func FileName(dir, name string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.csv", t.Format(Stamp), name))
}

// Writer appends rows to a CSV data file.
type Writer struct {
	f    *os.File
	w    *csv.Writer
	keys []string
}

// NewWriter creates the data file. The file must not already exist.
func NewWriter(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating data file: %w", err)
	}
	return &Writer{f: f, w: csv.NewWriter(f)}, nil
}

// WriteRow appends one row. The keys of the first row become the header
// and fix the column order; later rows must carry the same number of
// values.
func (w *Writer) WriteRow(keys, vals []string) error {
	if len(keys) != len(vals) {
		return fmt.Errorf("csvlog: %d keys for %d values", len(keys), len(vals))
	}
	if w.keys == nil {
		w.keys = append([]string(nil), keys...)
		if err := w.w.Write(w.keys); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	if len(vals) != len(w.keys) {
		return fmt.Errorf("csvlog: row has %d values, header has %d columns",
			len(vals), len(w.keys))
	}
	if err := w.w.Write(vals); err != nil {
		return fmt.Errorf("writing row: %w", err)
	}
	return nil
}

// Flush pushes buffered rows to the file so live readers see them.
func (w *Writer) Flush() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close flushes and closes the data file.
func (w *Writer) Close() error {
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// Frame is the in-memory form of a data file.
type Frame struct {
	Keys []string
	Rows [][]string
}

// ReadFrame loads a data file. A final row with too few fields is
// assumed to be a write in progress and dropped.
func ReadFrame(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(records) == 0 {
		return &Frame{}, nil
	}
	frame := &Frame{Keys: records[0]}
	for i, rec := range records[1:] {
		if len(rec) != len(frame.Keys) {
			if i == len(records)-2 {
				break // torn final line
			}
			return nil, fmt.Errorf("%s: row %d has %d fields, header has %d",
				path, i+1, len(rec), len(frame.Keys))
		}
		frame.Rows = append(frame.Rows, rec)
	}
	return frame, nil
}

// Column returns the parsed values of one column. Fields that do not
// parse as floats are skipped.
func (f *Frame) Column(key string) []float64 {
	idx := f.index(key)
	if idx < 0 {
		return nil
	}
	vals := make([]float64, 0, len(f.Rows))
	for _, row := range f.Rows {
		v, err := strconv.ParseFloat(row[idx], 64)
		if err != nil {
			continue
		}
		vals = append(vals, v)
	}
	return vals
}

// Last returns the raw value of the final row in the given column.
func (f *Frame) Last(key string) (string, bool) {
	idx := f.index(key)
	if idx < 0 || len(f.Rows) == 0 {
		return "", false
	}
	return f.Rows[len(f.Rows)-1][idx], true
}

// Window drops all rows older than the trailing window (in seconds of
// the "time" column). A non-positive window keeps everything.
func (f *Frame) Window(seconds float64) *Frame {
	idx := f.index("time")
	if idx < 0 || seconds <= 0 || len(f.Rows) == 0 {
		return f
	}
	last, err := strconv.ParseFloat(f.Rows[len(f.Rows)-1][idx], 64)
	if err != nil {
		return f
	}
	out := &Frame{Keys: f.Keys}
	for _, row := range f.Rows {
		t, err := strconv.ParseFloat(row[idx], 64)
		if err != nil {
			continue
		}
		if last-t < seconds {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

func (f *Frame) index(key string) int {
	for i, k := range f.Keys {
		if k == key {
			return i
		}
	}
	return -1
}
