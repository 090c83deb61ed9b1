// Package tfrecord reads and writes the TFRecord shard format.
//
// Each record is framed as
//
//	uint64 length | uint32 masked crc32c(length) | data | uint32 masked crc32c(data)
//
// with all integers little-endian. Shards may be gzip compressed; the reader
// detects that from the stream's magic bytes.
package tfrecord

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

const (
	headerSize = 12
	footerSize = 4
	maskDelta  = 0xa282ead8

	// maxRecordSize guards against allocating for a garbage length prefix.
	maxRecordSize = 1 << 30
)

// ErrCorrupted is returned when a length or data checksum does not match.
var ErrCorrupted = errors.New("tfrecord: corrupted record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + maskDelta
}

// Reader reads records sequentially from a shard.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	header [headerSize]byte
	footer [footerSize]byte
	n      int64
}

// NewReader returns a Reader over r, transparently decompressing gzip input.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("tfrecord: failed to open gzip stream: %w", err)
		}
		return &Reader{r: bufio.NewReader(zr), closer: zr}, nil
	}
	return &Reader{r: br}, nil
}

// Next returns the next record. It returns io.EOF after the last record and
// io.ErrUnexpectedEOF when the stream ends inside a record.
func (r *Reader) Next() ([]byte, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("tfrecord: record %d header: %w", r.n, err)
	}
	lenBytes := r.header[:8]
	if binary.LittleEndian.Uint32(r.header[8:]) != maskedCRC(lenBytes) {
		return nil, fmt.Errorf("record %d length checksum: %w", r.n, ErrCorrupted)
	}
	length := binary.LittleEndian.Uint64(lenBytes)
	if length > maxRecordSize {
		return nil, fmt.Errorf("record %d length %d too large: %w", r.n, length, ErrCorrupted)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r.r, data); err != nil {
		return nil, fmt.Errorf("tfrecord: record %d data: %w", r.n, unexpected(err))
	}
	if _, err := io.ReadFull(r.r, r.footer[:]); err != nil {
		return nil, fmt.Errorf("tfrecord: record %d footer: %w", r.n, unexpected(err))
	}
	if binary.LittleEndian.Uint32(r.footer[:]) != maskedCRC(data) {
		return nil, fmt.Errorf("record %d data checksum: %w", r.n, ErrCorrupted)
	}
	r.n++
	return data, nil
}

// Close releases the decompressor, if any. It does not close the underlying reader.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Writer appends framed records to an underlying writer.
type Writer struct {
	w      io.Writer
	closer io.Closer
	header [headerSize]byte
	footer [footerSize]byte
}

// NewWriter returns an uncompressed Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// NewGzipWriter returns a Writer producing a gzip-compressed shard.
// Close must be called to flush the compressed stream.
func NewGzipWriter(w io.Writer) *Writer {
	zw := gzip.NewWriter(w)
	return &Writer{w: zw, closer: zw}
}

// Write appends one record.
func (w *Writer) Write(data []byte) error {
	binary.LittleEndian.PutUint64(w.header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(w.header[8:], maskedCRC(w.header[:8]))
	binary.LittleEndian.PutUint32(w.footer[:], maskedCRC(data))
	if _, err := w.w.Write(w.header[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	_, err := w.w.Write(w.footer[:])
	return err
}

// Close flushes a compressed stream. It does not close the underlying writer.
func (w *Writer) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// ReadFile reads every record of the shard at path.
func ReadFile(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := NewReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var records [][]byte
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		records = append(records, rec)
	}
}

// WriteFile writes records to a new shard at path, gzip compressed when compress is set.
func WriteFile(path string, records [][]byte, compress bool) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := NewWriter(f)
	if compress {
		w = NewGzipWriter(f)
	}
	for i, rec := range records {
		if err := w.Write(rec); err != nil {
			f.Close()
			return fmt.Errorf("failed to write record %d to %s: %w", i, path, err)
		}
	}
	if err := w.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
