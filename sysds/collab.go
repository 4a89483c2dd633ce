package sysds

import (
	"context"
	"strconv"
)

// Collaborators the reconciler talks to. Concrete implementations live in the
// zfs, mounts, services, store and logging packages; tests use in-memory fakes.
type (
	Pool struct {
		Name        string
		IsBootPool  bool
		IsMounted   bool // root dataset mounted
		IsEncrypted bool // root dataset uses a passphrase key
		IsLocked    bool
	}

	PoolInventory interface {
		// ListPools returns pools in their natural listing order.
		ListPools(ctx context.Context) ([]Pool, error)
		BootPoolName(ctx context.Context) (string, error)
		// IsRootEncryptedLocked reports whether the pool's root dataset is
		// passphrase-encrypted or locked. Either one rules the pool out for
		// unattended placement.
		IsRootEncryptedLocked(ctx context.Context, pool string) (bool, error)
		IsRootPassphraseEncrypted(ctx context.Context, pool string) (bool, error)
	}

	DatasetInfo struct {
		Name       string
		Properties map[string]string // raw (parsable) values
	}

	DeleteOptions struct {
		Force     bool
		Recursive bool
	}

	DatasetStore interface {
		// Query returns the datasets that exist among names; missing ones are
		// omitted.
		Query(ctx context.Context, names ...string) ([]DatasetInfo, error)
		// Get returns a not-found error (common.IsNotFound) if absent.
		Get(ctx context.Context, name string) (DatasetInfo, error)
		Create(ctx context.Context, name string, props map[string]string) error
		Update(ctx context.Context, name string, props map[string]string) error
		Delete(ctx context.Context, name string, opts DeleteOptions) error
	}

	MountInfo struct {
		Source string
		Target string
		FSType string
		Opts   []string
	}

	UnmountMode int

	// Holder is a process with files open under a mountpoint.
	Holder struct {
		Pid   int32    `json:"pid"`
		Name  string   `json:"name"`
		Paths []string `json:"paths"`
	}

	MountTable interface {
		Mounts(ctx context.Context) ([]MountInfo, error)
		Mount(ctx context.Context, source, target, fstype string) error
		Bind(ctx context.Context, source, target string) error
		// Unmount returns an error satisfying IsNotMounted if target is not
		// a mountpoint.
		Unmount(ctx context.Context, target string, mode UnmountMode) error
		Holders(ctx context.Context, path string) ([]Holder, error)
	}

	Transfer interface {
		// Mirror copies the contents of src into dst preserving metadata.
		Mirror(ctx context.Context, src, dst string) error
	}

	Services interface {
		Started(ctx context.Context, name string) (bool, error)
		StartedOrEnabled(ctx context.Context, name string) (bool, error)
		Stop(ctx context.Context, name string) error
		Start(ctx context.Context, name string) error
		Restart(ctx context.Context, name string) error
		Reload(ctx context.Context, name string) error
	}

	ConfigStore interface {
		// Get returns the singleton row, creating the default row on first use.
		Get(ctx context.Context) (ConfigRow, error)
		// Update mutates the row atomically. If f returns an error nothing is
		// written.
		Update(ctx context.Context, f func(*ConfigRow) error) error
	}

	KeyValue interface {
		GetBool(ctx context.Context, key string, def bool) (bool, error)
	}

	FlagCache interface {
		Put(key string, v bool)
		Pop(key string) (bool, bool)
	}

	LogSink interface {
		Detach()
		Attach()
	}

	Failover interface {
		Licensed() bool
		// Node is "A", "B" or "" when not part of an HA pair.
		Node() string
	}
)

const (
	UnmountForce UnmountMode = iota
	UnmountLazy
)

func (m UnmountMode) String() string {
	if m == UnmountLazy {
		return "lazy"
	}
	return "force"
}

func (d DatasetInfo) Prop(name string) string { return d.Properties[name] }

// Bytes parses a numeric property, treating "-" and "none" as zero.
func (d DatasetInfo) Bytes(name string) int64 {
	v, err := strconv.ParseInt(d.Properties[name], 10, 64)
	if err != nil {
		return 0
	}
	return v
}
