package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dnr/sysds/common/cobrautil"
	"github.com/dnr/sysds/daemon"
	"github.com/dnr/sysds/logging"
	"github.com/dnr/sysds/sysds"
)

const envPrefix = "SYSDS"

func withDaemonConfig(c *cobra.Command) func(*cobra.Command, *viper.Viper) error {
	def := sysds.DefaultPaths()
	c.Flags().String("socket", daemon.Socket, "path to api socket")
	c.Flags().String("db", "/var/lib/sysdatasetd/sysds.bolt", "path to config database")
	c.Flags().String("canonical", def.Canonical, "where the system dataset is mounted")
	c.Flags().String("staging", def.Staging, "temporary mount point used while moving")
	c.Flags().String("coredump", def.Coredump, "crash dump directory bound to the cores dataset")
	c.Flags().Bool("ha-licensed", false, "part of an HA pair")
	c.Flags().String("ha-node", "", "HA node name (A or B)")
	c.Flags().Bool("setup", true, "reconcile the system dataset at startup")

	return func(c *cobra.Command, v *viper.Viper) error {
		cfg := daemon.Config{
			SocketPath: v.GetString("socket"),
			DBPath:     v.GetString("db"),
			Paths: sysds.Paths{
				Canonical: v.GetString("canonical"),
				Staging:   v.GetString("staging"),
				Coredump:  v.GetString("coredump"),
			},
			Licensed:     v.GetBool("ha-licensed"),
			Node:         v.GetString("ha-node"),
			SetupOnStart: v.GetBool("setup"),
		}
		cobrautil.Store(c, cfg)
		return nil
	}
}

func withLogger(c *cobra.Command) func(*cobra.Command, *viper.Viper, daemon.Config) error {
	c.Flags().String("log-level", "info", "minimum log level")
	c.Flags().Bool("log-development", false, "development logging")
	c.Flags().String("log-encoding", "console", "console or json")
	c.Flags().String("log-output", "stderr", "stdout, stderr or a filename")

	return func(c *cobra.Command, v *viper.Viper, cfg daemon.Config) error {
		sink := logging.NewDatasetSink(daemon.LogPath(cfg.Paths))
		lg, err := logging.New(logging.Config{
			Level:       v.GetString("log-level"),
			Development: v.GetBool("log-development"),
			Encoding:    v.GetString("log-encoding"),
			Output:      v.GetString("log-output"),
		}, sink)
		if err != nil {
			return err
		}
		cobrautil.Store(c, sink)
		cobrautil.Store(c, lg)
		return nil
	}
}

func runDaemon(ctx context.Context, cfg daemon.Config, lg *zap.Logger, sink *logging.DatasetSink) error {
	defer lg.Sync()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := daemon.Server(cfg, lg.Named("sysdatasetd"), sink)
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func main() {
	root := cobrautil.Cmd(
		&cobra.Command{
			Use:          "sysdatasetd",
			Short:        "sysdatasetd - manages the system dataset",
			SilenceUsage: true,
		},
		cobrautil.Cmd(
			&cobra.Command{Use: "daemon", Short: "run the daemon"},
			cobrautil.WithViper(envPrefix),
			withDaemonConfig,
			withLogger,
			runDaemon,
		),
		clientCmd(),
	)
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
