package sysds

import "path"

const (
	coresName   = "cores"
	ctdbVolName = "ctdb_shared_vol"

	coresQuota      = "1G"
	coresQuotaBytes = 1 << 30
)

type (
	// DatasetNode is one member of the system dataset tree. MountSuffix is the
	// path relative to the tree's mount root ("" for the root).
	DatasetNode struct {
		Path        string
		MountSuffix string
		Props       map[string]string

		parent   int // -1 for root
		children []int
	}

	// Topology is the system dataset tree stored as an arena. Index 0 is the
	// root; every node's parent has a smaller index.
	Topology struct {
		Pool  string
		UUID  string
		nodes []DatasetNode
	}
)

// BuildTopology derives the fixed member set for pool and node uuid.
// encryptedRoot disables encryption on every member so the tree can be
// mounted at boot before any passphrase is supplied.
func BuildTopology(pool, uuid string, encryptedRoot bool) *Topology {
	t := &Topology{Pool: pool, UUID: uuid}
	root := t.add(-1, "")
	for _, name := range []string{
		coresName,
		"samba4",
		"syslog-" + uuid,
		"rrd-" + uuid,
		"configs-" + uuid,
		"webui",
		"services",
		"glusterd",
		ctdbVolName,
	} {
		t.add(root, name)
	}
	for i := range t.nodes {
		n := &t.nodes[i]
		n.Props = map[string]string{
			"mountpoint": "legacy",
			"readonly":   "off",
			"snapdir":    "hidden",
		}
		if encryptedRoot {
			n.Props["encryption"] = "off"
		}
		if n.MountSuffix == coresName {
			n.Props["quota"] = coresQuota
		}
	}
	return t
}

func (t *Topology) add(parent int, name string) int {
	p := basename(t.Pool)
	if parent >= 0 {
		p = t.nodes[parent].Path + "/" + name
		name = path.Join(t.nodes[parent].MountSuffix, name)
	}
	t.nodes = append(t.nodes, DatasetNode{Path: p, MountSuffix: name, parent: parent})
	idx := len(t.nodes) - 1
	if parent >= 0 {
		t.nodes[parent].children = append(t.nodes[parent].children, idx)
	}
	return idx
}

func (t *Topology) Len() int { return len(t.nodes) }

// Forward returns the nodes in mount order: depth first, every parent before
// its children.
func (t *Topology) Forward() []DatasetNode {
	out := make([]DatasetNode, 0, len(t.nodes))
	var walk func(i int)
	walk = func(i int) {
		out = append(out, t.nodes[i])
		for _, c := range t.nodes[i].children {
			walk(c)
		}
	}
	if len(t.nodes) > 0 {
		walk(0)
	}
	return out
}

// Reverse returns the nodes in unmount order.
func (t *Topology) Reverse() []DatasetNode {
	fwd := t.Forward()
	for i, j := 0, len(fwd)-1; i < j; i, j = i+1, j-1 {
		fwd[i], fwd[j] = fwd[j], fwd[i]
	}
	return fwd
}

// Paths returns the dataset names in mount order.
func (t *Topology) Paths() []string {
	fwd := t.Forward()
	out := make([]string, len(fwd))
	for i, n := range fwd {
		out[i] = n.Path
	}
	return out
}

// Parent returns the parent of the node at path, or false for the root or an
// unknown path.
func (t *Topology) Parent(p string) (DatasetNode, bool) {
	for _, n := range t.nodes {
		if n.Path == p && n.parent >= 0 {
			return t.nodes[n.parent], true
		}
	}
	return DatasetNode{}, false
}

// MountPoint returns where n is mounted when the tree is mounted at root.
func (n DatasetNode) MountPoint(root string) string {
	if n.MountSuffix == "" {
		return root
	}
	return path.Join(root, n.MountSuffix)
}

func (n DatasetNode) IsCores() bool { return n.MountSuffix == coresName }
