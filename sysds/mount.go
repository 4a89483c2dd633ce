package sysds

import (
	"context"
	"os"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// mountTopology mounts every member of t under root in forward order,
// skipping members already mounted there. It reports whether anything was
// mounted.
func (e *env) mountTopology(ctx context.Context, t *Topology, root string) (bool, error) {
	mounts, err := e.mounts.Mounts(ctx)
	if err != nil {
		return false, Error.Wrap(err)
	}
	mounted := false
	for _, n := range t.Forward() {
		mp := n.MountPoint(root)
		if _, ok := findTarget(mounts, mp); ok {
			continue
		}
		if err := ensureDir(mp); err != nil {
			return mounted, Error.Wrap(err)
		}
		if err := e.mounts.Mount(ctx, n.Path, mp, "zfs"); err != nil {
			return mounted, Error.New("mounting %s on %s: %v", n.Path, mp, err)
		}
		e.log.Debug("mounted", zap.String("dataset", n.Path), zap.String("target", mp))
		mounted = true
	}
	return mounted, nil
}

// umountTopology unmounts every member of the tree of pool in reverse order,
// wherever it is mounted. Members that aren't mounted are skipped.
func (e *env) umountTopology(ctx context.Context, pool, uuid string) error {
	e.unbindCoredump(ctx)

	mode := UnmountForce
	if e.failover.Licensed() {
		mode = UnmountLazy
	}
	mounts, err := e.mounts.Mounts(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	for _, n := range BuildTopology(pool, uuid, false).Reverse() {
		m, ok := findSource(mounts, n.Path)
		if !ok {
			continue
		}
		err := e.mounts.Unmount(ctx, m.Target, mode)
		if err == nil {
			e.log.Debug("unmounted", zap.String("dataset", n.Path), zap.String("target", m.Target))
			continue
		} else if IsNotMounted(err) {
			continue
		}
		uerr := &UnmountError{Dataset: n.Path, Target: m.Target, Err: err}
		if isBusy(err) {
			holders, herr := e.mounts.Holders(ctx, m.Target)
			if herr != nil {
				e.log.Warn("failed to list processes using mountpoint", zap.String("target", m.Target), zap.Error(herr))
			}
			uerr.Holders = holders
		}
		return Error.Wrap(uerr)
	}
	return nil
}

func (e *env) unbindCoredump(ctx context.Context) {
	if err := e.mounts.Unmount(ctx, e.paths.Coredump, UnmountForce); err != nil && !IsNotMounted(err) {
		e.log.Debug("unmounting coredump bind", zap.Error(err))
	}
}

// cleanStaging unmounts anything left under the staging path by a previous
// attempt, deepest first.
func (e *env) cleanStaging(ctx context.Context) {
	mounts, err := e.mounts.Mounts(ctx)
	if err != nil {
		e.log.Warn("listing mounts for staging cleanup", zap.Error(err))
		return
	}
	var targets []string
	for _, m := range mounts {
		if m.Target == e.paths.Staging || strings.HasPrefix(m.Target, e.paths.Staging+"/") {
			targets = append(targets, m.Target)
		}
	}
	sort.Slice(targets, func(i, j int) bool { return len(targets[i]) > len(targets[j]) })
	for _, t := range targets {
		if err := e.mounts.Unmount(ctx, t, UnmountLazy); err != nil && !IsNotMounted(err) {
			e.log.Warn("cleaning staging mount", zap.String("target", t), zap.Error(err))
		}
	}
}

// setupDatasets makes sure every member of the tree for pool exists with the
// right properties. It never mounts or unmounts.
func (e *env) setupDatasets(ctx context.Context, pool, uuid string) error {
	boot, err := e.inventory.BootPoolName(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	encrypted := false
	if pool != boot {
		if encrypted, err = e.inventory.IsRootPassphraseEncrypted(ctx, pool); err != nil {
			return Error.Wrap(err)
		}
	}
	t := BuildTopology(pool, uuid, encrypted)

	existing, err := e.datasets.Query(ctx, t.Paths()...)
	if err != nil {
		return Error.Wrap(err)
	}
	have := make(map[string]DatasetInfo, len(existing))
	for _, ds := range existing {
		have[ds.Name] = ds
	}

	for _, n := range t.Forward() {
		ds, ok := have[n.Path]
		switch {
		case !ok:
			e.log.Info("creating dataset", zap.String("dataset", n.Path))
			if err := e.datasets.Create(ctx, n.Path, n.Props); err != nil {
				return Error.New("creating %s: %v", n.Path, err)
			}
		case n.IsCores() && ds.Bytes("used") >= coresQuotaBytes:
			e.log.Info("rotating cores dataset", zap.String("dataset", n.Path), zap.Int64("used", ds.Bytes("used")))
			if err := e.datasets.Delete(ctx, n.Path, DeleteOptions{Force: true, Recursive: true}); err != nil {
				e.log.Warn("failed to replace dataset", zap.String("dataset", n.Path), zap.Error(err))
			} else if err := e.datasets.Create(ctx, n.Path, n.Props); err != nil {
				e.log.Warn("failed to replace dataset", zap.String("dataset", n.Path), zap.Error(err))
			}
		default:
			if fix := propDiff(n.Props, ds); len(fix) > 0 {
				e.log.Info("repairing dataset properties", zap.String("dataset", n.Path), zap.Any("props", fix))
				if err := e.datasets.Update(ctx, n.Path, fix); err != nil {
					return Error.New("updating %s: %v", n.Path, err)
				}
			}
		}
	}
	return nil
}

// propDiff returns the wanted properties whose current value differs.
// Encryption can only be chosen at creation so it is never repaired.
func propDiff(want map[string]string, ds DatasetInfo) map[string]string {
	fix := make(map[string]string)
	for k, v := range want {
		if k == "encryption" {
			continue
		}
		if !propEqual(k, v, ds.Prop(k)) {
			fix[k] = v
		}
	}
	return fix
}

func propEqual(name, want, have string) bool {
	if name == "quota" && want == coresQuota {
		// stores return quota in bytes
		return have == coresQuota || have == "1073741824"
	}
	return want == have
}

// ensureDir makes p a directory, removing a non-directory in the way.
func ensureDir(p string) error {
	fi, err := os.Lstat(p)
	if err == nil && fi.IsDir() {
		return nil
	} else if err == nil {
		if err := os.Remove(p); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(p, 0o755)
}

func coresPath(root string) string { return path.Join(root, coresName) }
