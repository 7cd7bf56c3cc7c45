package export

import (
	"bufio"
	"os"
)

type jsonlWriter struct {
	file *os.File
	buf  *bufio.Writer
}

func newJSONLWriter(path string) (*jsonlWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &jsonlWriter{file: f, buf: bufio.NewWriter(f)}, nil
}

// Write copies the record verbatim followed by a newline.
func (w *jsonlWriter) Write(e Entry) error {
	if _, err := w.buf.Write(e.Raw); err != nil {
		return err
	}
	return w.buf.WriteByte('\n')
}

func (w *jsonlWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}
