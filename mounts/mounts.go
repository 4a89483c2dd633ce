// Package mounts reads the mount table and mounts and unmounts filesystems
// with direct syscalls.
package mounts

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/dnr/sysds/sysds"
)

var Error = errs.Class("mounts")

type System struct {
	log *zap.Logger
}

var _ sysds.MountTable = (*System)(nil)

func NewSystem(log *zap.Logger) *System {
	return &System{log: log}
}

// Mounts returns the mount table in mount order.
func (s *System) Mounts(ctx context.Context) ([]sysds.MountInfo, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	out := make([]sysds.MountInfo, len(parts))
	for i, p := range parts {
		out[i] = sysds.MountInfo{
			Source: p.Device,
			Target: p.Mountpoint,
			FSType: p.Fstype,
			Opts:   p.Opts,
		}
	}
	return out, nil
}

func (s *System) Mount(ctx context.Context, source, target, fstype string) error {
	if err := unix.Mount(source, target, fstype, 0, ""); err != nil {
		return Error.Wrap(&os.PathError{Op: "mount " + source, Path: target, Err: err})
	}
	return nil
}

func (s *System) Bind(ctx context.Context, source, target string) error {
	if err := unix.Mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return Error.Wrap(&os.PathError{Op: "bind " + source, Path: target, Err: err})
	}
	return nil
}

// Unmount unmounts target. The kernel answers EINVAL for a target that isn't
// a mountpoint; that case is returned as sysds.NotMounted.
func (s *System) Unmount(ctx context.Context, target string, mode sysds.UnmountMode) error {
	flags := unix.MNT_FORCE
	if mode == sysds.UnmountLazy {
		flags = unix.MNT_DETACH
	}
	if err := unix.Unmount(target, flags); err != nil {
		if err == unix.EINVAL && !isMountpoint(target) {
			err = sysds.NotMounted()
		}
		return Error.Wrap(&os.PathError{Op: "umount", Path: target, Err: err})
	}
	return nil
}

// isMountpoint reports whether p is on a different device than its parent.
func isMountpoint(p string) bool {
	var st, parent unix.Stat_t
	if unix.Lstat(p, &st) != nil || unix.Lstat(filepath.Dir(filepath.Clean(p)), &parent) != nil {
		return false
	}
	return st.Dev != parent.Dev || st.Ino == parent.Ino
}

// Holders lists processes with a working directory or open file under path.
// Processes that vanish or can't be inspected are skipped.
func (s *System) Holders(ctx context.Context, path string) ([]sysds.Holder, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	path = filepath.Clean(path)
	under := func(p string) bool {
		return p == path || strings.HasPrefix(p, path+"/")
	}

	var out []sysds.Holder
	for _, p := range procs {
		var paths []string
		if cwd, err := p.CwdWithContext(ctx); err == nil && under(cwd) {
			paths = append(paths, cwd)
		}
		if files, err := p.OpenFilesWithContext(ctx); err == nil {
			for _, f := range files {
				if under(f.Path) {
					paths = append(paths, f.Path)
				}
			}
		}
		if len(paths) == 0 {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		slices.Sort(paths)
		out = append(out, sysds.Holder{Pid: p.Pid, Name: name, Paths: slices.Compact(paths)})
	}
	slices.SortFunc(out, func(a, b sysds.Holder) int { return int(a.Pid - b.Pid) })
	s.log.Debug("mountpoint holders", zap.String("path", path), zap.Int("count", len(out)))
	return out, nil
}
