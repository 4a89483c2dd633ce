package sysds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTopologyOrder(t *testing.T) {
	r := require.New(t)
	topo := BuildTopology("tank", "abc", false)
	r.Equal(10, topo.Len())

	fwd := topo.Forward()
	r.Equal("tank/.system", fwd[0].Path)
	r.Equal("", fwd[0].MountSuffix)
	pos := make(map[string]int)
	for i, n := range fwd {
		pos[n.Path] = i
	}
	for _, n := range fwd[1:] {
		p, ok := topo.Parent(n.Path)
		r.True(ok)
		r.Less(pos[p.Path], pos[n.Path])
	}

	rev := topo.Reverse()
	r.Equal("tank/.system", rev[len(rev)-1].Path)
	r.Equal(fwd[1].Path, rev[len(rev)-2].Path)

	r.Equal([]string{
		"tank/.system",
		"tank/.system/cores",
		"tank/.system/samba4",
		"tank/.system/syslog-abc",
		"tank/.system/rrd-abc",
		"tank/.system/configs-abc",
		"tank/.system/webui",
		"tank/.system/services",
		"tank/.system/glusterd",
		"tank/.system/ctdb_shared_vol",
	}, topo.Paths())
}

func TestTopologyProps(t *testing.T) {
	r := require.New(t)
	for _, n := range BuildTopology("tank", "abc", false).Forward() {
		r.Equal("legacy", n.Props["mountpoint"])
		r.Equal("off", n.Props["readonly"])
		r.Equal("hidden", n.Props["snapdir"])
		r.NotContains(n.Props, "encryption")
		if n.IsCores() {
			r.Equal("1G", n.Props["quota"])
		} else {
			r.NotContains(n.Props, "quota")
		}
	}
	for _, n := range BuildTopology("tank", "abc", true).Forward() {
		r.Equal("off", n.Props["encryption"])
	}
}

func TestMountPoint(t *testing.T) {
	topo := BuildTopology("tank", "abc", false)
	fwd := topo.Forward()
	require.Equal(t, "/var/db/system", fwd[0].MountPoint("/var/db/system"))
	require.Equal(t, "/var/db/system/cores", fwd[1].MountPoint("/var/db/system"))
	require.Equal(t, "/tmp/system.new/rrd-abc", fwd[4].MountPoint("/tmp/system.new"))

	_, ok := topo.Parent("tank/.system")
	require.False(t, ok)
}
