package sysds

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigGeneratesUUID(t *testing.T) {
	r := require.New(t)
	w := newWorld()
	w.row.UUID = ""
	rc := newTestReconciler(t, w)

	cfg, err := rc.Config(context.Background())
	r.NoError(err)
	r.Len(cfg.UUID, 32)
	r.Equal(cfg.UUID, w.row.UUID)
	r.Equal(cfg.UUID, cfg.UUIDA)
	r.Empty(w.row.UUIDB)

	again, err := rc.Config(context.Background())
	r.NoError(err)
	r.Equal(cfg.UUID, again.UUID)
}

func TestConfigNodeB(t *testing.T) {
	r := require.New(t)
	w := newWorld()
	w.licensed = true
	w.node = "B"
	rc := newTestReconciler(t, w)

	cfg, err := rc.Config(context.Background())
	r.NoError(err)
	r.Len(cfg.UUID, 32)
	r.NotEqual(testUUID, cfg.UUID)
	r.Equal(cfg.UUID, w.row.UUIDB)
	r.Equal(testUUID, w.row.UUID)
}

func TestConfigPath(t *testing.T) {
	r := require.New(t)
	w := newWorld()
	rc := newTestReconciler(t, w)

	cfg, err := rc.Config(context.Background())
	r.NoError(err)
	r.Equal(testBoot, cfg.Pool)
	r.Equal("boot-pool/.system", cfg.Basename)
	r.Empty(cfg.Path)

	// something else mounted at the canonical path
	w.mounts = append(w.mounts, MountInfo{Source: "tank/.system", Target: rc.paths.Canonical, FSType: "zfs"})
	cfg, err = rc.Config(context.Background())
	r.NoError(err)
	r.Empty(cfg.Path)

	w.mounts = append(w.mounts, MountInfo{Source: "boot-pool/.system", Target: rc.paths.Canonical, FSType: "zfs"})
	cfg, err = rc.Config(context.Background())
	r.NoError(err)
	r.Equal(rc.paths.Canonical, cfg.Path)
}

func TestPropEqual(t *testing.T) {
	require.True(t, propEqual("quota", "1G", "1073741824"))
	require.True(t, propEqual("quota", "1G", "1G"))
	require.False(t, propEqual("quota", "1G", "0"))
	require.False(t, propEqual("readonly", "off", "on"))

	fix := propDiff(map[string]string{"encryption": "off", "snapdir": "hidden"},
		DatasetInfo{Properties: map[string]string{"encryption": "aes-256-gcm", "snapdir": "visible"}})
	require.Equal(t, map[string]string{"snapdir": "hidden"}, fix)
}
