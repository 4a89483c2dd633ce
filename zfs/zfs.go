// Package zfs drives the zpool and zfs command line tools.
package zfs

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dnr/sysds/common"
	"github.com/dnr/sysds/sysds"
)

var Error = errs.Class("zfs")

// properties read by Query
var queryProps = []string{
	"mountpoint", "readonly", "snapdir", "quota", "used", "available",
	"acltype", "mounted", "encryption", "keyformat", "keystatus",
}

type CLI struct {
	run common.Runner
	log *zap.Logger

	zpoolBin string
	zfsBin   string
}

var (
	_ sysds.PoolInventory = (*CLI)(nil)
	_ sysds.DatasetStore  = (*CLI)(nil)
)

func New(run common.Runner, log *zap.Logger) *CLI {
	return &CLI{run: run, log: log, zpoolBin: "zpool", zfsBin: "zfs"}
}

func (c *CLI) poolNames(ctx context.Context) ([]string, error) {
	out, err := c.run.Run(ctx, "list pools", c.zpoolBin, "list", "-H", "-o", "name")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return strings.Fields(out), nil
}

func (c *CLI) BootPoolName(ctx context.Context) (string, error) {
	names, err := c.poolNames(ctx)
	if err != nil {
		return "", err
	}
	for _, n := range names {
		if slices.Contains(sysds.BootPoolNames, n) {
			return n, nil
		}
	}
	return "", Error.Wrap(common.NewNotFound("boot pool", strings.Join(sysds.BootPoolNames, "|")))
}

func (c *CLI) ListPools(ctx context.Context) ([]sysds.Pool, error) {
	names, err := c.poolNames(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := c.Query(ctx, names...)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]sysds.DatasetInfo, len(infos))
	for _, ds := range infos {
		byName[ds.Name] = ds
	}
	out := make([]sysds.Pool, 0, len(names))
	for _, n := range names {
		ds := byName[n]
		out = append(out, sysds.Pool{
			Name:        n,
			IsBootPool:  slices.Contains(sysds.BootPoolNames, n),
			IsMounted:   ds.Prop("mounted") == "yes",
			IsEncrypted: passphrase(ds),
			IsLocked:    locked(ds),
		})
	}
	return out, nil
}

func passphrase(ds sysds.DatasetInfo) bool {
	return ds.Prop("encryption") != "off" && ds.Prop("keyformat") == "passphrase"
}

func locked(ds sysds.DatasetInfo) bool {
	return ds.Prop("encryption") != "off" && ds.Prop("keystatus") == "unavailable"
}

func (c *CLI) IsRootEncryptedLocked(ctx context.Context, pool string) (bool, error) {
	ds, err := c.Get(ctx, pool)
	if err != nil {
		return false, err
	}
	return passphrase(ds) || locked(ds), nil
}

func (c *CLI) IsRootPassphraseEncrypted(ctx context.Context, pool string) (bool, error) {
	ds, err := c.Get(ctx, pool)
	if err != nil {
		return false, err
	}
	return passphrase(ds), nil
}

// Query reads queryProps for names. Names that don't exist are left out.
func (c *CLI) Query(ctx context.Context, names ...string) ([]sysds.DatasetInfo, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := append([]string{c.zfsBin, "get", "-H", "-p", "-o", "name,property,value",
		strings.Join(queryProps, ",")}, names...)
	out, err := c.run.Run(ctx, "query datasets", args...)
	if err != nil {
		// zfs get still prints the ones that exist
		var ce *common.CommandError
		if !errors.As(err, &ce) || !strings.Contains(ce.Stderr, "does not exist") {
			return nil, Error.Wrap(err)
		}
		out = ce.Stdout
	}

	props := make(map[string]map[string]string)
	for _, line := range strings.Split(out, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		if props[parts[0]] == nil {
			props[parts[0]] = make(map[string]string)
		}
		props[parts[0]][parts[1]] = parts[2]
	}
	var res []sysds.DatasetInfo
	for _, n := range names {
		if p, ok := props[n]; ok {
			res = append(res, sysds.DatasetInfo{Name: n, Properties: p})
		}
	}
	return res, nil
}

func (c *CLI) Get(ctx context.Context, name string) (sysds.DatasetInfo, error) {
	res, err := c.Query(ctx, name)
	if err != nil {
		return sysds.DatasetInfo{}, err
	} else if len(res) == 0 {
		return sysds.DatasetInfo{}, common.NewNotFound("dataset", name)
	}
	return res[0], nil
}

func propArgs(flag string, props map[string]string) []string {
	var out []string
	for _, k := range slices.Sorted(maps.Keys(props)) {
		if flag != "" {
			out = append(out, flag)
		}
		out = append(out, k+"="+props[k])
	}
	return out
}

func (c *CLI) Create(ctx context.Context, name string, props map[string]string) error {
	args := append([]string{c.zfsBin, "create"}, propArgs("-o", props)...)
	_, err := c.run.Run(ctx, "create "+name, append(args, name)...)
	return Error.Wrap(err)
}

func (c *CLI) Update(ctx context.Context, name string, props map[string]string) error {
	if len(props) == 0 {
		return nil
	}
	args := append([]string{c.zfsBin, "set"}, propArgs("", props)...)
	_, err := c.run.Run(ctx, "update "+name, append(args, name)...)
	return Error.Wrap(err)
}

func (c *CLI) Delete(ctx context.Context, name string, opts sysds.DeleteOptions) error {
	args := []string{c.zfsBin, "destroy"}
	if opts.Force {
		args = append(args, "-f")
	}
	if opts.Recursive {
		args = append(args, "-r")
	}
	c.log.Debug("destroying dataset", zap.String("dataset", name), zap.Bool("force", opts.Force), zap.Bool("recursive", opts.Recursive))
	_, err := c.run.Run(ctx, "destroy "+name, append(args, name)...)
	return Error.Wrap(err)
}
