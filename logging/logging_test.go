package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDatasetSink(t *testing.T) {
	r := require.New(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "sysdatasetd", "sysdatasetd.log")
	sink := NewDatasetSink(path)

	log, err := New(Config{Level: "info", Output: filepath.Join(dir, "stderr.log")}, sink)
	r.NoError(err)

	log.Info("before setup")
	r.NoFileExists(path)
	r.Equal(1, sink.Dropped())

	sink.Attach()
	log.Info("attached", zap.String("pool", "tank"))
	sink.Detach()
	log.Info("while moving")
	sink.Attach()
	log.Debug("too quiet")
	log.Info("after move")
	r.NoError(log.Sync())

	b, err := os.ReadFile(path)
	r.NoError(err)
	r.Contains(string(b), `"M":"attached"`)
	r.Contains(string(b), `"pool":"tank"`)
	r.Contains(string(b), "after move")
	r.NotContains(string(b), "while moving")
	r.NotContains(string(b), "too quiet")
	r.Equal(2, sink.Dropped())

	main, err := os.ReadFile(filepath.Join(dir, "stderr.log"))
	r.NoError(err)
	r.Contains(string(main), "while moving")
}

func TestBadLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"}, nil)
	require.Error(t, err)
}
