package sysds

import (
	"context"

	"go.uber.org/zap"
)

// PoolCreated is called after a pool is created. The dataset only moves if
// it currently lives on the boot pool.
func (r *Reconciler) PoolCreated(ctx context.Context, pool string) error {
	cfg, err := r.Config(ctx)
	if err != nil {
		return err
	}
	if !cfg.IsBootPool {
		return nil
	}
	r.log.Info("pool created, reconciling system dataset", zap.String("pool", pool))
	_, err = r.Setup(ctx, "")
	return err
}

// PoolImported is called after a pool is imported.
func (r *Reconciler) PoolImported(ctx context.Context, pool string) error {
	r.log.Info("pool imported, reconciling system dataset", zap.String("pool", pool))
	_, err := r.Setup(ctx, "")
	return err
}

// PoolPreExport moves the system dataset off pool before it is exported.
func (r *Reconciler) PoolPreExport(ctx context.Context, pool string) error {
	cfg, err := r.Config(ctx)
	if err != nil {
		return err
	}
	if cfg.Pool != pool {
		return nil
	}
	r.log.Info("pool is being exported, moving system dataset away", zap.String("pool", pool))
	_, err = r.Update(ctx, UpdateRequest{Pool: new(string), PoolExclude: pool})
	if err != nil {
		return Error.New("This pool contains system dataset, but its reconfiguration failed: %v", err)
	}
	return nil
}
