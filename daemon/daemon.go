package daemon

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dnr/sysds/common"
	"github.com/dnr/sysds/common/systemd"
	"github.com/dnr/sysds/logging"
	"github.com/dnr/sysds/mounts"
	"github.com/dnr/sysds/services"
	"github.com/dnr/sysds/store"
	"github.com/dnr/sysds/sysds"
	"github.com/dnr/sysds/zfs"
)

var Error = errs.Class("daemon")

type (
	server struct {
		cfg    *Config
		log    *zap.Logger
		sink   *logging.DatasetSink
		notify systemd.Notifier

		db  *store.Bolt
		svc *services.Systemd
		rec reconciler

		shutdownChan chan struct{}
		shutdownWait sync.WaitGroup
	}

	Config struct {
		SocketPath string
		DBPath     string
		Paths      sysds.Paths

		// HA pair membership. Node is "A" or "B".
		Licensed bool
		Node     string

		// reconcile once at startup
		SetupOnStart bool
	}

	staticFailover struct {
		licensed bool
		node     string
	}
)

func (f staticFailover) Licensed() bool { return f.licensed }
func (f staticFailover) Node() string   { return f.node }

// LogPath is where the daemon's own log lives inside the system dataset.
func LogPath(paths sysds.Paths) string {
	return filepath.Join(paths.Canonical, "sysdatasetd", "sysdatasetd.log")
}

func Server(cfg Config, log *zap.Logger, sink *logging.DatasetSink) *server {
	return &server{
		cfg:          &cfg,
		log:          log,
		sink:         sink,
		notify:       systemd.SdNotifier{OnError: func(err error) { log.Warn("sd_notify", zap.Error(err)) }},
		shutdownChan: make(chan struct{}),
	}
}

func (s *server) openDeps(ctx context.Context) (err error) {
	if s.db, err = store.Open(s.cfg.DBPath); err != nil {
		return err
	}
	if s.svc, err = services.New(ctx, s.log.Named("services")); err != nil {
		return err
	}
	run := common.ExecRunner{}
	z := zfs.New(run, s.log.Named("zfs"))
	s.rec = sysds.New(sysds.Deps{
		Inventory: z,
		Datasets:  z,
		Mounts:    mounts.NewSystem(s.log.Named("mounts")),
		Transfer:  mounts.NewRsync(run),
		Services:  s.svc,
		Store:     s.db,
		KeyValue:  s.db,
		Flags:     common.NewSimpleSyncMap[string, bool](),
		Sink:      s.sink,
		Failover:  staticFailover{licensed: s.cfg.Licensed, node: s.cfg.Node},
		Paths:     s.cfg.Paths,
		Log:       s.log,
	})
	return nil
}

func (s *server) startSocketServer() error {
	os.Remove(s.cfg.SocketPath)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Net: "unix", Name: s.cfg.SocketPath})
	if err != nil {
		return Error.Wrap(err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		l.Close()
		return Error.Wrap(err)
	}
	srv := &http.Server{Handler: s.routes()}
	s.shutdownWait.Add(1)
	go func() {
		defer s.shutdownWait.Done()
		go srv.Serve(l)
		<-s.shutdownChan
		s.log.Info("stopping http server")
		srv.Close()
	}()
	return nil
}

// bootSetup reconciles once at startup. Failures are logged and the daemon
// keeps serving so the dataset can be fixed through the api. A shutdown
// signal doesn't interrupt it.
func (s *server) bootSetup(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	cfg, err := s.rec.Setup(ctx, "")
	if err != nil {
		s.log.Error("system dataset setup failed", zap.Error(err))
		s.notify.Status("setup failed: " + err.Error())
		return
	}
	s.log.Info("system dataset ready", zap.String("pool", cfg.Pool), zap.String("path", cfg.Path))
	s.notify.Status("system dataset on " + cfg.Pool)
	if s.db != nil {
		if err := s.db.SetBool(ctx, sysds.RunMigrationKey, false); err != nil {
			s.log.Warn("clearing migration flag", zap.Error(err))
		}
	}
}

func (s *server) Start(ctx context.Context) error {
	if err := s.openDeps(ctx); err != nil {
		return err
	}
	if err := s.startSocketServer(); err != nil {
		return err
	}
	s.log.Info("sysdatasetd ready", zap.String("socket", s.cfg.SocketPath))
	s.notify.Ready()
	if s.cfg.SetupOnStart {
		s.bootSetup(ctx)
	}
	return nil
}

func (s *server) Stop() {
	s.log.Info("stopping daemon...")
	s.notify.Stopping()
	close(s.shutdownChan) // stops the socket server
	s.shutdownWait.Wait()

	if r, ok := s.rec.(*sysds.Reconciler); ok {
		r.Wait()
	}
	if s.svc != nil {
		s.svc.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	_ = s.sink.Sync()
	s.log.Info("daemon shutdown done")
}
