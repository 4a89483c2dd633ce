package sysds

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/dnr/sysds/common"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"
)

const (
	testBoot = "boot-pool"
	testUUID = "0123456789abcdef0123456789abcdef"
)

// world is shared state behind all the fake collaborators.
type world struct {
	mu sync.Mutex

	pools     []Pool
	boot      string
	encrypted map[string]bool
	locked    map[string]bool

	datasets map[string]map[string]string
	mounts   []MountInfo
	busy     map[string]bool
	holders  []Holder

	running map[string]bool
	enabled map[string]bool
	failOn  map[string]error // keyed by action, e.g. "stop cifs" or "mirror"

	row ConfigRow
	kv  map[string]bool

	licensed bool
	node     string

	detached int
	flags    *common.SimpleSyncMap[string, bool]
	flagSeen []bool

	actions []string
}

func newWorld() *world {
	return &world{
		boot: testBoot,
		pools: []Pool{
			{Name: testBoot, IsBootPool: true, IsMounted: true},
		},
		encrypted: map[string]bool{},
		locked:    map[string]bool{},
		datasets: map[string]map[string]string{
			testBoot: {"used": "1000", "available": "50000000000"},
		},
		mounts: []MountInfo{
			{Source: testBoot + "/ROOT/25.04", Target: "/", FSType: "zfs"},
		},
		busy:    map[string]bool{},
		running: map[string]bool{},
		enabled: map[string]bool{},
		failOn:  map[string]error{},
		row:     ConfigRow{UUID: testUUID},
		kv:      map[string]bool{},
		flags:   common.NewSimpleSyncMap[string, bool](),
	}
}

// addPool adds an imported data pool with its root dataset mounted.
func (w *world) addPool(name string, avail string) {
	w.pools = append(w.pools, Pool{Name: name, IsMounted: true})
	w.datasets[name] = map[string]string{"used": "1000", "available": avail}
	w.mounts = append(w.mounts, MountInfo{Source: name, Target: "/mnt/" + name, FSType: "zfs"})
}

func (w *world) record(format string, args ...any) error {
	a := fmt.Sprintf(format, args...)
	w.actions = append(w.actions, a)
	return w.failOn[a]
}

func (w *world) takeActions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.actions
	w.actions = nil
	return out
}

func (w *world) mountedAt(target string) (MountInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return findTarget(w.mounts, target)
}

func (w *world) setProp(name, k, v string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.datasets[name][k] = v
}

func withPrefix(actions []string, prefix string) []string {
	var out []string
	for _, a := range actions {
		if strings.HasPrefix(a, prefix) {
			out = append(out, a)
		}
	}
	return out
}

type (
	fakeInventory struct{ *world }
	fakeDatasets  struct{ *world }
	fakeMounts    struct{ *world }
	fakeTransfer  struct{ *world }
	fakeServices  struct{ *world }
	fakeStore     struct{ *world }
	fakeKV        struct{ *world }
	fakeSink      struct{ *world }
	fakeFailover  struct{ *world }
)

func (f fakeInventory) ListPools(ctx context.Context) ([]Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.pools), nil
}

func (f fakeInventory) BootPoolName(ctx context.Context) (string, error) { return f.boot, nil }

func (f fakeInventory) IsRootEncryptedLocked(ctx context.Context, pool string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encrypted[pool] || f.locked[pool], nil
}

func (f fakeInventory) IsRootPassphraseEncrypted(ctx context.Context, pool string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encrypted[pool], nil
}

func (f fakeDatasets) Query(ctx context.Context, names ...string) ([]DatasetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []DatasetInfo
	for _, n := range names {
		if p, ok := f.datasets[n]; ok {
			out = append(out, DatasetInfo{Name: n, Properties: maps.Clone(p)})
		}
	}
	return out, nil
}

func (f fakeDatasets) Get(ctx context.Context, name string) (DatasetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.datasets[name]
	if !ok {
		return DatasetInfo{}, common.NewNotFound("dataset", name)
	}
	return DatasetInfo{Name: name, Properties: maps.Clone(p)}, nil
}

func (f fakeDatasets) Create(ctx context.Context, name string, props map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create %s", name); err != nil {
		return err
	}
	p := maps.Clone(props)
	p["used"] = "0"
	f.datasets[name] = p
	return nil
}

func (f fakeDatasets) Update(ctx context.Context, name string, props map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := slices.Sorted(maps.Keys(props))
	if err := f.record("update %s %s", name, strings.Join(keys, ",")); err != nil {
		return err
	}
	maps.Copy(f.datasets[name], props)
	return nil
}

func (f fakeDatasets) Delete(ctx context.Context, name string, opts DeleteOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete %s", name); err != nil {
		return err
	}
	for n := range f.datasets {
		if n == name || (opts.Recursive && strings.HasPrefix(n, name+"/")) {
			delete(f.datasets, n)
		}
	}
	return nil
}

func (f fakeMounts) Mounts(ctx context.Context) ([]MountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.mounts), nil
}

func (f fakeMounts) Mount(ctx context.Context, source, target, fstype string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("mount %s %s", source, target); err != nil {
		return err
	}
	f.mounts = append(f.mounts, MountInfo{Source: source, Target: target, FSType: fstype})
	return nil
}

func (f fakeMounts) Bind(ctx context.Context, source, target string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("bind %s", target); err != nil {
		return err
	}
	f.mounts = append(f.mounts, MountInfo{Source: source, Target: target, FSType: "none", Opts: []string{"bind"}})
	return nil
}

func (f fakeMounts) Unmount(ctx context.Context, target string, mode UnmountMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.mounts) - 1; i >= 0; i-- {
		if f.mounts[i].Target != target {
			continue
		}
		if f.busy[target] {
			return fmt.Errorf("umount %s: %w", target, unix.EBUSY)
		}
		if err := f.record("umount %s %s", mode, target); err != nil {
			return err
		}
		f.mounts = slices.Delete(f.mounts, i, i+1)
		return nil
	}
	return NotMounted()
}

func (f fakeMounts) Holders(ctx context.Context, path string) ([]Holder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.holders, nil
}

func (f fakeTransfer) Mirror(ctx context.Context, src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, _ := f.flags.Get(SyslogFlagKey)
	f.flagSeen = append(f.flagSeen, v)
	return f.record("mirror %s %s", src, dst)
}

func (f fakeServices) Started(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name], nil
}

func (f fakeServices) StartedOrEnabled(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[name] || f.enabled[name], nil
}

func (f fakeServices) Stop(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("stop %s", name); err != nil {
		return err
	}
	f.running[name] = false
	return nil
}

func (f fakeServices) Start(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("start %s", name); err != nil {
		return err
	}
	f.running[name] = true
	return nil
}

func (f fakeServices) Restart(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("restart %s", name)
}

func (f fakeServices) Reload(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("reload %s", name)
}

func (f fakeStore) Get(ctx context.Context) (ConfigRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.row, nil
}

func (f fakeStore) Update(ctx context.Context, fn func(*ConfigRow) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.row
	if err := fn(&row); err != nil {
		return err
	}
	f.row = row
	return nil
}

func (f fakeKV) GetBool(ctx context.Context, key string, def bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.kv[key]; ok {
		return v, nil
	}
	return def, nil
}

func (f fakeSink) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detached++
}

func (f fakeSink) Attach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detached > 0 {
		f.detached--
	}
}

func (f fakeFailover) Licensed() bool { return f.licensed }
func (f fakeFailover) Node() string   { return f.node }

func testPaths(t *testing.T) Paths {
	dir := t.TempDir()
	return Paths{
		Canonical: filepath.Join(dir, "var/db/system"),
		Staging:   filepath.Join(dir, "tmp/system.new"),
		Coredump:  filepath.Join(dir, "var/lib/systemd/coredump"),
	}
}

func newTestReconciler(t *testing.T, w *world) *Reconciler {
	r := New(Deps{
		Inventory: fakeInventory{w},
		Datasets:  fakeDatasets{w},
		Mounts:    fakeMounts{w},
		Transfer:  fakeTransfer{w},
		Services:  fakeServices{w},
		Store:     fakeStore{w},
		KeyValue:  fakeKV{w},
		Flags:     w.flags,
		Sink:      fakeSink{w},
		Failover:  fakeFailover{w},
		Paths:     testPaths(t),
		Log:       zaptest.NewLogger(t),
	})
	t.Cleanup(r.Wait)
	return r
}
