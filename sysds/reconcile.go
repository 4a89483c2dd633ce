package sysds

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/dnr/sysds/common"
	"github.com/dustin/go-humanize"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type (
	// Deps are the collaborators a Reconciler works with.
	Deps struct {
		Inventory PoolInventory
		Datasets  DatasetStore
		Mounts    MountTable
		Transfer  Transfer
		Services  Services
		Store     ConfigStore
		KeyValue  KeyValue
		Flags     FlagCache
		Sink      LogSink
		Failover  Failover
		Paths     Paths
		Log       *zap.Logger
	}

	env struct {
		inventory PoolInventory
		datasets  DatasetStore
		mounts    MountTable
		transfer  Transfer
		services  Services
		store     ConfigStore
		kv        KeyValue
		sink      LogSink
		failover  Failover
		paths     Paths
		log       *zap.Logger

		// detached work, see Reconciler.Wait
		bg sync.WaitGroup
	}

	// Reconciler owns the placement and mount state of the system dataset.
	// Setup and Update are serialized: at most one runs at a time and
	// concurrent callers wait their turn.
	Reconciler struct {
		*env
		mu       sync.Mutex
		resolver *Resolver
		quiesce  *Quiescer
		migrator *Migrator
	}

	UpdateRequest struct {
		// nil leaves the pool alone, "" picks one automatically
		Pool        *string `json:"pool"`
		PoolExclude string  `json:"pool_exclude"`
		Syslog      *bool   `json:"syslog"`
	}
)

func New(d Deps) *Reconciler {
	if d.Paths == (Paths{}) {
		d.Paths = DefaultPaths()
	}
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	e := &env{
		inventory: d.Inventory,
		datasets:  d.Datasets,
		mounts:    d.Mounts,
		transfer:  d.Transfer,
		services:  d.Services,
		store:     d.Store,
		kv:        d.KeyValue,
		sink:      d.Sink,
		failover:  d.Failover,
		paths:     d.Paths,
		log:       d.Log.Named("sysdataset"),
	}
	q := NewQuiescer(d.Services, d.Flags, d.Sink, e.log.Named("quiesce"))
	return &Reconciler{
		env:      e,
		resolver: NewResolver(d.Inventory, e.log.Named("placement")),
		quiesce:  q,
		migrator: &Migrator{env: e, quiesce: q},
	}
}

// Config returns the current derived config.
func (r *Reconciler) Config(ctx context.Context) (Config, error) {
	return r.loadConfig(ctx, "")
}

// Wait blocks until detached background work has finished.
func (r *Reconciler) Wait() { r.bg.Wait() }

// Setup reconciles the live system dataset with the persisted config. It is
// safe to call at any time and repeatedly; a run with nothing to do performs
// no mounts or unmounts.
func (r *Reconciler) Setup(ctx context.Context, excludePool string) (Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setup(ctx, excludePool)
}

// Update validates and persists a config change, moves the dataset if the
// pool changed and reconciles.
func (r *Reconciler) Update(ctx context.Context, req UpdateRequest) (Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.update(ctx, req)
}

func (r *Reconciler) update(ctx context.Context, req UpdateRequest) (Config, error) {
	cfg, err := r.loadConfig(ctx, "")
	if err != nil {
		return Config{}, err
	}

	newPool := cfg.Row.Pool
	newSyslog := cfg.Syslog
	if req.Syslog != nil {
		newSyslog = *req.Syslog
	}

	var verrs ValidationErrors
	switch {
	case req.Pool == nil:
	case *req.Pool != "":
		newPool = *req.Pool
		if newPool != cfg.Pool {
			if msg, err := r.destinationPoolError(ctx, cfg, newPool); err != nil {
				return Config{}, err
			} else if msg != "" {
				verrs.Add("sysdataset_update.pool", msg)
			}
		}
		choices, err := r.poolChoices(ctx, cfg, false)
		if err != nil {
			return Config{}, err
		}
		if _, ok := choices[newPool]; !ok {
			verrs.Add("sysdataset_update.pool", "The system dataset cannot be placed on this pool.")
		}
	default:
		newPool, err = r.resolver.Resolve(ctx, req.PoolExclude, r.eligible(ctx, cfg))
		if err != nil {
			return Config{}, err
		}
	}
	if err := verrs.Check(); err != nil {
		return Config{}, err
	}

	err = r.store.Update(ctx, func(row *ConfigRow) error {
		row.Pool = newPool
		row.SyslogUseDataset = newSyslog
		return nil
	})
	if err != nil {
		return Config{}, Error.Wrap(err)
	}

	newCfg, err := r.loadConfig(ctx, "")
	if err != nil {
		return Config{}, err
	}
	r.log.Info("system dataset config updated", zap.String("pool", newCfg.Pool), zap.Bool("syslog", newCfg.Syslog))

	if cfg.Pool != newCfg.Pool {
		from, err := r.mountedPool(ctx)
		if err != nil {
			return Config{}, err
		}
		if from == newCfg.Pool {
			from = ""
		}
		if err := r.migrator.Migrate(ctx, from, newCfg.Pool, newCfg.UUID); err != nil {
			// the old tree is still the live one
			rerr := r.store.Update(ctx, func(row *ConfigRow) error {
				row.Pool = cfg.Row.Pool
				return nil
			})
			return Config{}, errs.Combine(err, rerr)
		}
	}

	if _, err := r.setup(ctx, req.PoolExclude); err != nil {
		return Config{}, err
	}

	if cfg.Syslog != newCfg.Syslog {
		if err := r.services.Restart(ctx, "syslogd"); err != nil {
			r.log.Warn("failed to restart syslogd", zap.Error(err))
		}
	}

	return r.loadConfig(ctx, "")
}

func (r *Reconciler) setup(ctx context.Context, excludePool string) (Config, error) {
	cfg, err := r.loadConfig(ctx, "")
	if err != nil {
		return Config{}, err
	}
	boot, err := r.inventory.BootPoolName(ctx)
	if err != nil {
		return Config{}, Error.Wrap(err)
	}

	// configured pool went away: pick another one
	if cfg.Pool != boot {
		pools, err := r.inventory.ListPools(ctx)
		if err != nil {
			return Config{}, Error.Wrap(err)
		}
		if !hasPool(pools, cfg.Pool) {
			r.log.Info("pool does not exist, moving system dataset to another pool", zap.String("pool", cfg.Pool))
			return r.update(ctx, UpdateRequest{Pool: new(string), PoolExclude: excludePool})
		}
	}

	// never configured: move to the first data pool if there is one
	if !cfg.PoolSet {
		pool, err := r.resolver.Resolve(ctx, excludePool, r.eligible(ctx, cfg))
		if err != nil {
			return Config{}, err
		}
		if pool != "" {
			r.log.Info("system dataset pool was not set, moving it to first available pool", zap.String("pool", pool))
			return r.update(ctx, UpdateRequest{Pool: &pool})
		}
	}

	mounts, err := r.mounts.Mounts(ctx)
	if err != nil {
		return Config{}, Error.Wrap(err)
	}
	override := ""
	if cfg.Pool != boot {
		if _, ok := findSource(mounts, cfg.Pool); !ok {
			// e.g. standby node of an HA pair
			r.log.Info("root dataset for pool is not available, temporarily setting up system dataset on boot pool",
				zap.String("pool", cfg.Pool))
			override = boot
			if cfg, err = r.loadConfig(ctx, override); err != nil {
				return Config{}, err
			}
		}
	}

	var mounted *bool
	mountedPool, err := r.mountedPool(ctx)
	if err != nil {
		return Config{}, err
	}
	if mountedPool != "" && mountedPool != cfg.Pool {
		err := r.quiesce.Run(ctx, func() error {
			did, err := r.migrator.Switch(ctx, mountedPool, cfg.Pool, cfg.UUID)
			mounted = &did
			return err
		})
		if err != nil {
			return Config{}, err
		}
	} else if err := r.setupDatasets(ctx, cfg.Pool, cfg.UUID); err != nil {
		return Config{}, err
	}

	if err := ensureDir(r.paths.Canonical); err != nil {
		return Config{}, Error.Wrap(err)
	}

	if err := r.disableACL(ctx, cfg.Basename); err != nil {
		return Config{}, err
	}

	if mounted == nil {
		did, err := r.mountTopology(ctx, BuildTopology(cfg.Pool, cfg.UUID, false), r.paths.Canonical)
		if err != nil {
			return Config{}, err
		}
		mounted = &did
	}

	if err := r.bindCores(ctx, cfg.Basename, *mounted); err != nil {
		return Config{}, err
	}

	if err := r.services.Reload(ctx, "glusterd"); err != nil {
		r.log.Warn("failed to regenerate glusterd configuration", zap.Error(err))
	}

	if *mounted {
		r.postSetupRestart()
	}

	cfg, err = r.loadConfig(ctx, override)
	if err != nil {
		return Config{}, err
	}
	// the sink starts detached when the daemon comes up
	if cfg.Path != "" {
		r.sink.Attach()
	}
	return cfg, nil
}

// eligible reports why pool can't take the system dataset right now.
func (r *Reconciler) eligible(ctx context.Context, cfg Config) func(string) error {
	return func(pool string) error {
		roots, err := r.mountedRootPools(ctx, "")
		if err != nil {
			return err
		}
		if !slices.Contains(roots, pool) {
			return Error.New("root dataset of %s is not mounted", pool)
		}
		msg, err := r.destinationPoolError(ctx, cfg, pool)
		if err == nil && msg != "" {
			err = Error.New("%s", msg)
		}
		return err
	}
}

// mountedPool returns the pool the canonical path is mounted from, or "".
func (r *Reconciler) mountedPool(ctx context.Context) (string, error) {
	mounts, err := r.mounts.Mounts(ctx)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if m, ok := findTarget(mounts, r.paths.Canonical); ok && strings.HasSuffix(m.Source, "/"+datasetSuffix) {
		return poolOf(m.Source), nil
	}
	return "", nil
}

// disableACL turns ACL enforcement off on the tree root if it is on, either
// per the live mount options or the dataset property.
func (r *Reconciler) disableACL(ctx context.Context, name string) error {
	mounts, err := r.mounts.Mounts(ctx)
	if err != nil {
		return Error.Wrap(err)
	}
	enabled := false
	if m, ok := findSource(mounts, name); ok {
		for _, o := range m.Opts {
			if o == "posixacl" || o == "nfs4acl" {
				enabled = true
			}
		}
	}
	if !enabled {
		ds, err := r.datasets.Query(ctx, name)
		if err != nil {
			return Error.Wrap(err)
		}
		enabled = len(ds) > 0 && ds[0].Prop("acltype") != "" && ds[0].Prop("acltype") != "off"
	}
	if !enabled {
		return nil
	}
	r.log.Info("disabling acl on system dataset", zap.String("dataset", name))
	if err := r.datasets.Update(ctx, name, map[string]string{"acltype": "off"}); err != nil {
		return Error.New("disabling acl on %s: %v", name, err)
	}
	return nil
}

// bindCores bind-mounts the cores dataset over the OS crash dump directory.
// An existing bind of the same cores dataset is left alone unless the tree was
// remounted in this run.
func (r *Reconciler) bindCores(ctx context.Context, basename string, remounted bool) error {
	cores := coresPath(r.paths.Canonical)
	if _, err := os.Stat(cores); err != nil {
		return nil
	}
	if err := os.Chmod(cores, 0o775); err != nil {
		r.log.Warn("chmod cores", zap.Error(err))
	}

	if purge, err := r.kv.GetBool(ctx, RunMigrationKey, false); err != nil {
		r.log.Warn("reading migration flag", zap.Error(err))
	} else if purge {
		if err := purgeDir(cores); err != nil {
			r.log.Warn("failed to clear old core files", zap.Error(err))
		}
	}

	if !remounted {
		mounts, err := r.mounts.Mounts(ctx)
		if err != nil {
			return Error.Wrap(err)
		}
		// the kernel reports the dataset as the source, not the directory
		if m, ok := findTarget(mounts, r.paths.Coredump); ok && (m.Source == cores || m.Source == path.Join(basename, coresName)) {
			return nil
		}
	}

	r.unbindCoredump(ctx)
	if err := os.MkdirAll(r.paths.Coredump, 0o755); err != nil {
		return Error.Wrap(err)
	}
	if err := r.mounts.Bind(ctx, cores, r.paths.Coredump); err != nil {
		return Error.New("binding %s on %s: %v", cores, r.paths.Coredump, err)
	}
	return nil
}

func purgeDir(dir string) error {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, ent := range ents {
		if err := os.RemoveAll(filepath.Join(dir, ent.Name())); err != nil {
			return err
		}
	}
	return nil
}

// postSetupRestart restarts the services that read the freshly mounted
// dataset. It doesn't wait for them.
func (r *Reconciler) postSetupRestart() {
	log := r.log.Named("post-setup")
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		ctx := context.Background()
		var g errgroup.Group
		// rrdcached restart brings collectd along
		for _, name := range []string{"rrdcached", "syslogd"} {
			g.Go(func() error {
				if err := r.services.Restart(ctx, name); err != nil {
					return Error.New("restarting %s: %v", name, err)
				}
				return nil
			})
		}
		if err := r.services.Reload(ctx, "cifs"); err != nil {
			log.Warn("failed to reconfigure smb", zap.Error(err))
		}
		if err := g.Wait(); err != nil {
			log.Warn("post setup restart", zap.Error(err))
		}
	}()
}

// PoolChoices returns the pools the system dataset may be placed on.
func (r *Reconciler) PoolChoices(ctx context.Context, includeCurrent bool) (map[string]string, error) {
	cfg, err := r.loadConfig(ctx, "")
	if err != nil {
		return nil, err
	}
	return r.poolChoices(ctx, cfg, includeCurrent)
}

func (r *Reconciler) poolChoices(ctx context.Context, cfg Config, includeCurrent bool) (map[string]string, error) {
	boot, err := r.inventory.BootPoolName(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	pools := []string{boot}
	if includeCurrent {
		pools = append(pools, cfg.Pool)
	}
	names, err := r.mountedRootPools(ctx, "")
	if err != nil {
		return nil, err
	}
	pools = append(pools, names...)
	sort.Strings(pools)
	out := make(map[string]string, len(pools))
	for _, p := range pools {
		out[p] = p
	}
	return out, nil
}

// mountedRootPools lists pools whose root dataset is mounted.
func (r *Reconciler) mountedRootPools(ctx context.Context, exclude string) ([]string, error) {
	mounts, err := r.mounts.Mounts(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	var out []string
	for _, m := range mounts {
		if m.FSType != "zfs" {
			continue
		}
		if strings.Contains(m.Source, "/") && m.Target != "/" {
			continue
		}
		if p := poolOf(m.Source); p != exclude {
			out = append(out, p)
		}
	}
	return out, nil
}

// destinationPoolError returns a user-facing reason why the current tree
// won't fit on pool, or "" if it does.
func (r *Reconciler) destinationPoolError(ctx context.Context, cfg Config, pool string) (string, error) {
	cur, err := r.datasets.Get(ctx, cfg.Basename)
	if common.IsNotFound(err) {
		// nothing to move
		return "", nil
	} else if err != nil {
		return "", Error.Wrap(err)
	}
	dst, err := r.datasets.Get(ctx, pool)
	if common.IsNotFound(err) {
		return fmt.Sprintf("Dataset %s does not exist", pool), nil
	} else if err != nil {
		return "", Error.Wrap(err)
	}

	used := cur.Bytes("used")
	avail := dst.Bytes("available")
	if need := used + used/10; need > avail {
		return fmt.Sprintf("Insufficient disk space available on %s (%s). Need %s",
			pool, humanize.IBytes(uint64(max(avail, 0))), humanize.IBytes(uint64(need))), nil
	}
	return "", nil
}
