// Package sink writes converted events as tab-separated artifacts.
package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/verte-zerg/blockcap/internal/acqerr"
	"github.com/verte-zerg/blockcap/internal/model"
)

const (
	dayLayout  = "2006-01-02"
	nameLayout = "15-04-05"
)

// Writer persists events under one day directory.
type Writer struct {
	dir string
}

// New creates <root>/<YYYY-MM-DD> for the current day. A nil now uses
// time.Now.
func New(root string, now func() time.Time) (*Writer, error) {
	if strings.TrimSpace(root) == "" {
		return nil, acqerr.New(acqerr.IOFailure, "sink", "output root is empty", nil)
	}
	if now == nil {
		now = time.Now
	}
	dir := filepath.Join(root, now().Format(dayLayout))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, acqerr.New(acqerr.IOFailure, "sink", "create output dir", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir is the day directory artifacts are written to.
func (w *Writer) Dir() string {
	return w.dir
}

// Persist writes rec to a new artifact and returns its path. Rows are
// elapsed ns, A mV and B mV separated by tabs, with no header.
func (w *Writer) Persist(rec *model.EventRecord) (string, error) {
	path, err := w.nextPath(rec.ArmedAt)
	if err != nil {
		return "", err
	}
	tmpFile, err := os.CreateTemp(w.dir, ".event-*.tmp")
	if err != nil {
		return "", acqerr.New(acqerr.IOFailure, "persist", "create temp artifact", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	writer := bufio.NewWriterSize(tmpFile, 64*1024)
	line := make([]byte, 0, 64)
	for _, row := range rec.Rows {
		line = appendRow(line[:0], row)
		if _, err := writer.Write(line); err != nil {
			return "", acqerr.New(acqerr.IOFailure, "persist", "write artifact", err)
		}
	}
	if err := writer.Flush(); err != nil {
		return "", acqerr.New(acqerr.IOFailure, "persist", "flush artifact", err)
	}
	if err := tmpFile.Close(); err != nil {
		return "", acqerr.New(acqerr.IOFailure, "persist", "close artifact", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", acqerr.New(acqerr.IOFailure, "persist", "rename artifact", err)
	}
	return path, nil
}

// nextPath picks HH-MM-SS, or HH-MM-SS-N when that name is taken.
func (w *Writer) nextPath(armedAt time.Time) (string, error) {
	base := armedAt.Format(nameLayout)
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = base + "-" + strconv.Itoa(i)
		}
		path := filepath.Join(w.dir, name)
		_, err := os.Lstat(path)
		if os.IsNotExist(err) {
			return path, nil
		}
		if err != nil {
			return "", acqerr.New(acqerr.IOFailure, "persist", "stat artifact", err)
		}
	}
}

func appendRow(b []byte, row model.Row) []byte {
	b = strconv.AppendFloat(b, row.ElapsedNs, 'f', -1, 64)
	b = append(b, '\t')
	b = strconv.AppendFloat(b, row.AMV, 'f', -1, 64)
	b = append(b, '\t')
	b = strconv.AppendFloat(b, row.BMV, 'f', -1, 64)
	return append(b, '\n')
}

// ReadArtifact parses an artifact written by Persist.
func ReadArtifact(path string) ([]model.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, acqerr.New(acqerr.IOFailure, "read artifact", "", err)
	}
	defer f.Close()

	var rows []model.Row
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: expected 3 columns, got %d", path, lineNo, len(fields))
		}
		var vals [3]float64
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", path, lineNo, err)
			}
			vals[i] = v
		}
		rows = append(rows, model.Row{ElapsedNs: vals[0], AMV: vals[1], BMV: vals[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, acqerr.New(acqerr.IOFailure, "read artifact", "", err)
	}
	return rows, nil
}
