package logging

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap/zapcore"
)

// DatasetSink writes to a log file inside the system dataset. It can be
// detached while the dataset is unmounted or moved; writes while detached are
// dropped. Attach reopens the file at the same path, which then lives on
// whatever is mounted there.
type DatasetSink struct {
	path string

	lock     sync.Mutex
	f        *os.File
	detached bool
	dropped  int
}

var _ zapcore.WriteSyncer = (*DatasetSink)(nil)

func NewDatasetSink(path string) *DatasetSink {
	// stays detached until the dataset has been set up
	return &DatasetSink{path: path, detached: true}
}

func (s *DatasetSink) Write(p []byte) (int, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.detached {
		s.dropped++
		return len(p), nil
	}
	if s.f == nil {
		if err := s.openLocked(); err != nil {
			// the dataset may not be mounted yet
			s.dropped++
			return len(p), nil
		}
	}
	return s.f.Write(p)
}

func (s *DatasetSink) Sync() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.f == nil {
		return nil
	}
	return s.f.Sync()
}

func (s *DatasetSink) Detach() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.detached = true
	s.closeLocked()
}

func (s *DatasetSink) Attach() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.detached = false
	s.closeLocked()
	_ = s.openLocked()
}

// Dropped returns how many writes were discarded.
func (s *DatasetSink) Dropped() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.dropped
}

func (s *DatasetSink) openLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *DatasetSink) closeLocked() {
	if s.f != nil {
		_ = s.f.Sync()
		_ = s.f.Close()
		s.f = nil
	}
}
