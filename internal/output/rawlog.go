package output

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

const RawLogMagic = "DPTHRAW1"

// MaxRawRecordSize bounds one record so a corrupt header cannot force a
// huge allocation.
const MaxRawRecordSize = 256 << 20

// RawLogWriter appends [u64 unix nanos][u32 length][payload] records,
// little endian, after an 8 byte magic.
type RawLogWriter struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

func NewRawLogWriter(outputDir string, prefix string) (*RawLogWriter, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	timestamp := time.Now().Format("20060102_150405")
	session := uuid.NewString()[:8]
	filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%s.bin", timestamp, prefix, session))
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriterSize(f, 1024*1024)
	if _, err := w.WriteString(RawLogMagic); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &RawLogWriter{
		f:    f,
		w:    w,
		path: filename,
	}, nil
}

func (r *RawLogWriter) Path() string {
	return r.path
}

func (r *RawLogWriter) Record(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return fmt.Errorf("raw log writer is closed")
	}
	if len(payload) > MaxRawRecordSize {
		return fmt.Errorf("record of %d bytes exceeds %d", len(payload), MaxRawRecordSize)
	}
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(payload)))
	if _, err := r.w.Write(header[:]); err != nil {
		return err
	}
	if _, err := r.w.Write(payload); err != nil {
		return err
	}
	return r.w.Flush()
}

func (r *RawLogWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		r.w = nil
		return err
	}
	err := r.f.Close()
	r.w = nil
	return err
}

type RawRecord struct {
	Timestamp time.Time
	Payload   []byte
}

// RawLogReader iterates the records of a raw log.
type RawLogReader struct {
	r *bufio.Reader
}

func NewRawLogReader(src io.Reader) (*RawLogReader, error) {
	r := bufio.NewReader(src)
	header := make([]byte, len(RawLogMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if string(header) != RawLogMagic {
		return nil, fmt.Errorf("unexpected rawlog magic %q", string(header))
	}
	return &RawLogReader{r: r}, nil
}

// Next returns io.EOF after the last complete record.
func (l *RawLogReader) Next() (RawRecord, error) {
	var meta [12]byte
	if _, err := io.ReadFull(l.r, meta[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return RawRecord{}, io.EOF
		}
		return RawRecord{}, err
	}
	ts := int64(binary.LittleEndian.Uint64(meta[:8]))
	size := binary.LittleEndian.Uint32(meta[8:12])
	if size > MaxRawRecordSize {
		return RawRecord{}, fmt.Errorf("record size %d exceeds %d", size, MaxRawRecordSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(l.r, payload); err != nil {
		return RawRecord{}, fmt.Errorf("read payload: %w", err)
	}
	return RawRecord{Timestamp: time.Unix(0, ts), Payload: payload}, nil
}
