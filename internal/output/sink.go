// Package output opens the tabular artifacts a run writes.
package output

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Opener creates destination files, optionally gzip-compressed.
type Opener struct {
	gzip bool
}

// NewOpener returns an Opener writing plain CSV or, when compress is set, gzip.
func NewOpener(compress bool) Opener {
	return Opener{gzip: compress}
}

// Extension is the file extension for the configured format.
func (o Opener) Extension() string {
	if o.gzip {
		return "csv.gz"
	}
	return "csv"
}

// Open creates path (and its parent directories) for writing. The caller
// must Close the returned writer to flush it.
func (o Opener) Open(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	fh, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	if !o.gzip {
		return &fileWriter{Writer: bufio.NewWriter(fh), file: fh}, nil
	}
	gz := gzip.NewWriter(fh)
	return &fileWriter{Writer: bufio.NewWriter(gz), gz: gz, file: fh}, nil
}

type fileWriter struct {
	*bufio.Writer
	gz   *gzip.Writer
	file *os.File
}

func (w *fileWriter) Close() error {
	var errs []error
	errs = append(errs, w.Flush())
	if w.gz != nil {
		errs = append(errs, w.gz.Close())
	}
	errs = append(errs, w.file.Close())
	return errors.Join(errs...)
}

// WriteTable writes header and rows as comma-joined lines.
func WriteTable(w io.Writer, header []string, rows [][]string) error {
	if _, err := io.WriteString(w, strings.Join(header, ",")+"\n"); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := io.WriteString(w, strings.Join(row, ",")+"\n"); err != nil {
			return err
		}
	}
	return nil
}
