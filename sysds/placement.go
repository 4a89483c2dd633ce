package sysds

import (
	"context"

	"go.uber.org/zap"
)

// Resolver picks the pool the system dataset should live on when none is
// configured or the configured one went away.
type Resolver struct {
	inventory PoolInventory
	log       *zap.Logger
}

func NewResolver(inventory PoolInventory, log *zap.Logger) *Resolver {
	return &Resolver{inventory: inventory, log: log}
}

// Resolve returns the first pool in inventory order that isn't the boot pool,
// isn't exclude, isn't passphrase-encrypted or locked and passes eligible (if
// given). It returns "" if none qualify, meaning the boot pool.
func (p *Resolver) Resolve(ctx context.Context, exclude string, eligible func(pool string) error) (string, error) {
	pools, err := p.inventory.ListPools(ctx)
	if err != nil {
		return "", Error.Wrap(err)
	}
	for _, pool := range pools {
		if pool.IsBootPool || (exclude != "" && pool.Name == exclude) {
			continue
		}
		if pool.IsEncrypted || pool.IsLocked {
			continue
		}
		locked, err := p.inventory.IsRootEncryptedLocked(ctx, pool.Name)
		if err != nil {
			return "", Error.Wrap(err)
		} else if locked {
			continue
		}
		if eligible != nil {
			if err := eligible(pool.Name); err != nil {
				p.log.Debug("pool not eligible for system dataset", zap.String("pool", pool.Name), zap.Error(err))
				continue
			}
		}
		return pool.Name, nil
	}
	return "", nil
}

func hasPool(pools []Pool, name string) bool {
	for _, p := range pools {
		if p.Name == name {
			return true
		}
	}
	return false
}
