package sysds

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultCanonicalPath = "/var/db/system"
	DefaultStagingPath   = "/tmp/system.new"
	DefaultCoredumpPath  = "/var/lib/systemd/coredump"

	// feature flag read by log forwarding: false while the dataset is
	// being moved
	SyslogFlagKey = "use_syslog_dataset"
	// one-time flag set by the upgrade process
	RunMigrationKey = "run_migration"

	datasetSuffix = ".system"
)

// Boot pool names recognized when the inventory doesn't say.
var BootPoolNames = []string{"boot-pool", "freenas-boot"}

type (
	// ConfigRow is the persisted singleton.
	ConfigRow struct {
		Pool             string `json:"pool"`
		SyslogUseDataset bool   `json:"syslog_usedataset"`
		UUID             string `json:"uuid"`
		UUIDB            string `json:"uuid_b,omitempty"`
	}

	// Config is ConfigRow plus derived fields for one point in time.
	Config struct {
		Row        ConfigRow `json:"-"`
		Pool       string    `json:"pool"`
		PoolSet    bool      `json:"pool_set"`
		Basename   string    `json:"basename"`
		UUID       string    `json:"uuid"` // active node's uuid
		UUIDA      string    `json:"uuid_a"`
		UUIDB      string    `json:"uuid_b"`
		Syslog     bool      `json:"syslog"`
		Path       string    `json:"path"` // canonical path if mounted from Basename, else ""
		IsBootPool bool      `json:"is_boot_pool"`
	}

	Paths struct {
		Canonical string
		Staging   string
		Coredump  string
	}
)

func DefaultPaths() Paths {
	return Paths{
		Canonical: DefaultCanonicalPath,
		Staging:   DefaultStagingPath,
		Coredump:  DefaultCoredumpPath,
	}
}

func basename(pool string) string { return pool + "/" + datasetSuffix }

// poolOf returns the pool part of a dataset name.
func poolOf(dataset string) string {
	p, _, _ := strings.Cut(dataset, "/")
	return p
}

// loadConfig derives the current config. override, if not empty, replaces the
// persisted pool for this call only.
func (e *env) loadConfig(ctx context.Context, override string) (Config, error) {
	row, err := e.store.Get(ctx)
	if err != nil {
		return Config{}, Error.Wrap(err)
	}
	boot, err := e.inventory.BootPoolName(ctx)
	if err != nil {
		return Config{}, Error.Wrap(err)
	}

	cfg := Config{
		Row:     row,
		PoolSet: row.Pool != "",
		Pool:    row.Pool,
		UUIDA:   row.UUID,
		UUIDB:   row.UUIDB,
		Syslog:  row.SyslogUseDataset,
	}
	if override != "" {
		cfg.Pool = override
	} else if cfg.Pool == "" {
		cfg.Pool = boot
	}
	cfg.Basename = basename(cfg.Pool)
	cfg.IsBootPool = cfg.Pool == boot

	nodeB := e.failover.Licensed() && e.failover.Node() == "B"
	if nodeB {
		cfg.UUID = row.UUIDB
	} else {
		cfg.UUID = row.UUID
	}
	if cfg.UUID == "" {
		id := strings.ReplaceAll(uuid.NewString(), "-", "")
		err := e.store.Update(ctx, func(row *ConfigRow) error {
			if nodeB {
				row.UUIDB = id
			} else {
				row.UUID = id
			}
			return nil
		})
		if err != nil {
			return Config{}, Error.Wrap(err)
		}
		e.log.Info("generated system dataset uuid", zap.String("uuid", id), zap.Bool("node_b", nodeB))
		cfg.UUID = id
		if nodeB {
			cfg.UUIDB = id
		} else {
			cfg.UUIDA = id
		}
	}

	mounts, err := e.mounts.Mounts(ctx)
	if err != nil {
		return Config{}, Error.Wrap(err)
	}
	if m, ok := findTarget(mounts, e.paths.Canonical); ok && m.Source == cfg.Basename {
		cfg.Path = e.paths.Canonical
	}
	return cfg, nil
}

func findTarget(mounts []MountInfo, target string) (MountInfo, bool) {
	// later entries shadow earlier ones
	for i := len(mounts) - 1; i >= 0; i-- {
		if mounts[i].Target == target {
			return mounts[i], true
		}
	}
	return MountInfo{}, false
}

func findSource(mounts []MountInfo, source string) (MountInfo, bool) {
	for i := len(mounts) - 1; i >= 0; i-- {
		if mounts[i].Source == source {
			return mounts[i], true
		}
	}
	return MountInfo{}, false
}
