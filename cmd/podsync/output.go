package main

import (
	"io"
	"os"

	"github.com/ajitpratap0/podsync/pkg/compression"
	"github.com/ajitpratap0/podsync/pkg/errors"
	jsonpool "github.com/ajitpratap0/podsync/pkg/json"
)

// rowWriter writes line-delimited JSON rows to stdout or a file, optionally
// compressed.
type rowWriter struct {
	enc    *jsonpool.StreamingEncoder
	codec  io.WriteCloser
	file   *os.File
	closed bool
}

// openRows opens path for writing; "" or "-" selects stdout. An empty
// algorithm is derived from the file extension.
func openRows(stdout io.Writer, path, algorithm string) (*rowWriter, error) {
	alg, err := compression.ParseAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}

	rw := &rowWriter{}
	dst := stdout
	if path != "" && path != "-" {
		if algorithm == "" {
			alg = compression.FromPath(path)
		}
		f, err := os.Create(path)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create output file")
		}
		rw.file, dst = f, f
	}

	rw.codec, err = compression.NewWriter(dst, alg, compression.Default)
	if err != nil {
		rw.closeFile()
		return nil, err
	}
	rw.enc, err = jsonpool.NewStreamingEncoder(rw.codec, false)
	if err != nil {
		rw.closeFile()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to start output")
	}
	return rw, nil
}

func (rw *rowWriter) Write(row interface{}) error {
	if err := rw.enc.Encode(row); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write row")
	}
	return nil
}

func (rw *rowWriter) Count() int {
	return rw.enc.Count()
}

func (rw *rowWriter) closeFile() {
	if rw.file != nil {
		_ = rw.file.Close()
	}
}

// Close flushes the codec and closes the file.
func (rw *rowWriter) Close() error {
	if rw.closed {
		return nil
	}
	rw.closed = true
	if err := rw.enc.Close(); err != nil {
		rw.closeFile()
		return err
	}
	if err := rw.codec.Close(); err != nil {
		rw.closeFile()
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush output")
	}
	if rw.file != nil {
		if err := rw.file.Close(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to close output file")
		}
	}
	return nil
}
