package pipeline

import (
	"errors"

	"depth-overlay-go/internal/processing"
)

// MultiSink fans a frame out to several sinks. Exit is requested as soon as
// any of them requests it.
type MultiSink []Sink

func (m MultiSink) Show(frame processing.AnnotatedFrame) error {
	var errs []error
	for _, s := range m {
		if err := s.Show(frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) ExitRequested() bool {
	for _, s := range m {
		if s.ExitRequested() {
			return true
		}
	}
	return false
}
