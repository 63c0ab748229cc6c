package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/disintegration/imaging"

	"depth-overlay-go/internal/processing"
)

// SnapshotSink writes every Nth annotated frame as a PNG file. It never
// requests exit.
type SnapshotSink struct {
	dir     string
	prefix  string
	every   uint64
	seen    atomic.Uint64
	written atomic.Uint64
	onWrite func(path string)
}

func NewSnapshotSink(dir string, prefix string, every int, onWrite func(path string)) (*SnapshotSink, error) {
	if every < 1 {
		return nil, fmt.Errorf("snapshot interval must be positive, got %d", every)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &SnapshotSink{
		dir:     dir,
		prefix:  prefix,
		every:   uint64(every),
		onWrite: onWrite,
	}, nil
}

func (s *SnapshotSink) Show(frame processing.AnnotatedFrame) error {
	n := s.seen.Add(1)
	if (n-1)%s.every != 0 || frame.Image == nil {
		return nil
	}
	path, err := WriteSnapshot(s.dir, s.prefix, n, frame)
	if err != nil {
		return err
	}
	s.written.Add(1)
	if s.onWrite != nil {
		s.onWrite(path)
	}
	return nil
}

func (s *SnapshotSink) ExitRequested() bool {
	return false
}

func (s *SnapshotSink) Written() uint64 {
	return s.written.Load()
}

// WriteSnapshot stores frame as <dir>/<prefix>_<index>.png.
func WriteSnapshot(dir string, prefix string, index uint64, frame processing.AnnotatedFrame) (string, error) {
	if frame.Image == nil {
		return "", fmt.Errorf("snapshot %d: no image", index)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%06d.png", prefix, index))
	if err := imaging.Save(frame.Image, path); err != nil {
		return "", err
	}
	return path, nil
}
