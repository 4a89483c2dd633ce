package mounts

import (
	"context"

	"github.com/dnr/sysds/common"
	"github.com/dnr/sysds/sysds"
)

// Rsync copies trees with rsync in archive mode.
type Rsync struct {
	run common.Runner
	bin string
}

var _ sysds.Transfer = (*Rsync)(nil)

func NewRsync(run common.Runner) *Rsync {
	return &Rsync{run: run, bin: "rsync"}
}

func (r *Rsync) Mirror(ctx context.Context, src, dst string) error {
	_, err := r.run.Run(ctx, "copy "+src, r.bin, "-az", src, dst)
	return Error.Wrap(err)
}
