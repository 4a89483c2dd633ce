package sysds

import (
	"context"
	"os"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// Migrator moves the mounted system dataset from one pool to another.
type Migrator struct {
	*env
	quiesce *Quiescer

	// destroyed old trees are reported here, for tests
	onDestroyed func(pool string, err error)
}

// Migrate moves the tree for uuid from pool from to pool to, copying the
// data. The destination tree is created before anything is unmounted. If
// from is "" the destination is mounted at the canonical path directly.
//
// If the copy fails nothing is unmounted and the source stays authoritative.
func (m *Migrator) Migrate(ctx context.Context, from, to, uuid string) error {
	if err := m.setupDatasets(ctx, to, uuid); err != nil {
		return err
	}
	dest := BuildTopology(to, uuid, false)

	if from == "" {
		_, err := m.mountTopology(ctx, dest, m.paths.Canonical)
		return err
	}

	if _, err := os.Stat(m.paths.Staging); err == nil {
		m.cleanStaging(ctx)
	} else if err := os.MkdirAll(m.paths.Staging, 0o755); err != nil {
		return Error.Wrap(err)
	}
	if _, err := m.mountTopology(ctx, dest, m.paths.Staging); err != nil {
		return err
	}

	log := m.log.With(zap.String("from", from), zap.String("to", to))
	err := m.quiesce.Run(ctx, func() error {
		log.Info("copying system dataset")
		if err := m.transfer.Mirror(ctx, m.paths.Canonical+"/", m.paths.Staging); err != nil {
			return MigrateError.New("Failed to rsync from %s: %v", m.paths.Canonical, err)
		}

		// from here until the final mount there is no system dataset
		m.unbindCoredump(ctx)
		if err := m.umountTopology(ctx, from, uuid); err != nil {
			return err
		}
		if err := m.umountTopology(ctx, to, uuid); err != nil {
			return err
		}
		if _, err := m.mountTopology(ctx, dest, m.paths.Canonical); err != nil {
			return err
		}
		log.Info("system dataset moved")
		return nil
	})
	if err != nil {
		return err
	}

	m.destroyAsync(from)
	if err := os.Remove(m.paths.Staging); err != nil {
		log.Debug("removing staging dir", zap.Error(err))
	}
	return nil
}

// Switch abandons the tree mounted from pool from and mounts the tree for
// to in its place, without copying. Used when the mounted tree belongs to a
// pool other than the one the config resolves to. The caller quiesces.
func (m *Migrator) Switch(ctx context.Context, from, to, uuid string) (bool, error) {
	m.log.Info("abandoning system dataset", zap.String("from", from), zap.String("to", to))
	m.unbindCoredump(ctx)
	if err := m.umountTopology(ctx, from, uuid); err != nil {
		return false, err
	}
	if err := m.setupDatasets(ctx, to, uuid); err != nil {
		return false, err
	}
	return m.mountTopology(ctx, BuildTopology(to, uuid, false), m.paths.Canonical)
}

// destroyAsync destroys the whole .system tree on pool in the background.
// Failures are logged only.
func (m *Migrator) destroyAsync(pool string) {
	name := basename(pool)
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx := context.Background()
		err := retry.Do(
			func() error {
				if _, err := m.datasets.Get(ctx, name); err != nil {
					return retry.Unrecoverable(err)
				}
				return m.datasets.Delete(ctx, name, DeleteOptions{Recursive: true})
			},
			retry.Context(ctx),
			retry.Attempts(3),
			retry.Delay(2*time.Second),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				m.log.Debug("retrying destroy of old system dataset", zap.String("dataset", name), zap.Uint("attempt", n), zap.Error(err))
			}),
		)
		if err != nil {
			m.log.Warn("failed to destroy old system dataset", zap.String("dataset", name), zap.Error(err))
		} else {
			m.log.Info("destroyed old system dataset", zap.String("dataset", name))
		}
		if m.onDestroyed != nil {
			m.onDestroyed(pool, err)
		}
	}()
}
