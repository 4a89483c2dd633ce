package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dnr/sysds/common/client"
	"github.com/dnr/sysds/common/cobrautil"
	"github.com/dnr/sysds/daemon"
)

func withClient(c *cobra.Command) func(*cobra.Command, *viper.Viper) error {
	c.Flags().String("socket", daemon.Socket, "path to api socket")
	return func(c *cobra.Command, v *viper.Viper) error {
		cobrautil.Store(c, client.NewClient(v.GetString("socket")))
		return nil
	}
}

func clientSub(c *cobra.Command, stuff ...any) *cobra.Command {
	return cobrautil.Cmd(c, append([]any{cobrautil.WithViper(envPrefix), withClient}, stuff...)...)
}

func withUpdateReq(c *cobra.Command) func(*cobra.Command) error {
	pool := c.Flags().String("pool", "", `pool to move to, "" picks one`)
	exclude := c.Flags().String("pool-exclude", "", "pool to avoid when picking one")
	syslog := c.Flags().Bool("syslog", false, "keep system logs on the dataset")
	return func(c *cobra.Command) error {
		var req daemon.UpdateReq
		if c.Flags().Changed("pool") {
			req.Pool = pool
		}
		if c.Flags().Changed("syslog") {
			req.Syslog = syslog
		}
		req.PoolExclude = *exclude
		cobrautil.Store(c, req)
		return nil
	}
}

func hookCmd(name, path string) *cobra.Command {
	return clientSub(
		&cobra.Command{
			Use:   name + " <pool>",
			Short: "run the pool " + name + " hook",
			Args:  cobra.ExactArgs(1),
		},
		func(ctx context.Context, cli *client.SysdsClient, args []string) error {
			return cli.CallAndPrint(ctx, path, &daemon.PoolReq{Pool: args[0]})
		},
	)
}

func clientCmd() *cobra.Command {
	return cobrautil.Cmd(
		&cobra.Command{
			Use:     "client",
			Aliases: []string{"c"},
			Short:   "client to local daemon",
		},
		clientSub(
			&cobra.Command{Use: "config", Short: "show system dataset config", Args: cobra.NoArgs},
			func(ctx context.Context, cli *client.SysdsClient) error {
				return cli.CallAndPrint(ctx, daemon.ConfigPath, &daemon.ConfigReq{})
			},
		),
		clientSub(
			&cobra.Command{Use: "update", Short: "change system dataset config", Args: cobra.NoArgs},
			withUpdateReq,
			func(ctx context.Context, cli *client.SysdsClient, req daemon.UpdateReq) error {
				return cli.CallAndPrint(ctx, daemon.UpdatePath, &req)
			},
		),
		clientSub(
			&cobra.Command{Use: "setup", Short: "reconcile the system dataset now", Args: cobra.NoArgs},
			func(c *cobra.Command) func(context.Context, *client.SysdsClient) error {
				exclude := c.Flags().String("exclude", "", "pool to avoid if one has to be picked")
				return func(ctx context.Context, cli *client.SysdsClient) error {
					return cli.CallAndPrint(ctx, daemon.SetupPath, &daemon.SetupReq{ExcludePool: *exclude})
				}
			},
		),
		clientSub(
			&cobra.Command{Use: "choices", Short: "list pools the dataset can go on", Args: cobra.NoArgs},
			func(c *cobra.Command) func(context.Context, *client.SysdsClient) error {
				cur := c.Flags().Bool("include-current", false, "include the configured pool")
				return func(ctx context.Context, cli *client.SysdsClient) error {
					return cli.CallAndPrint(ctx, daemon.PoolChoicesPath, &daemon.PoolChoicesReq{IncludeCurrent: *cur})
				}
			},
		),
		cobrautil.Cmd(
			&cobra.Command{Use: "hook", Short: "pool event hooks"},
			hookCmd("created", daemon.PoolCreatedPath),
			hookCmd("imported", daemon.PoolImportedPath),
			hookCmd("pre-export", daemon.PoolPreExportPath),
		),
	)
}
