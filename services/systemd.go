// Package services starts and stops the services that write into the system
// dataset, through systemd's dbus API.
package services

import (
	"context"
	"strings"

	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dnr/sysds/sysds"
)

var Error = errs.Class("services")

// service name -> systemd unit
var Units = map[string]string{
	"cifs":          "smbd.service",
	"collectd":      "collectd.service",
	"glusterd":      "glusterd.service",
	"idmap":         "winbind.service",
	"open-vm-tools": "open-vm-tools.service",
	"rrdcached":     "rrdcached.service",
	"syslogd":       "syslog-ng.service",
	"webdav":        "apache2.service",
}

// the subset of *dbus.Conn we use
type unitConn interface {
	GetUnitPropertyContext(ctx context.Context, unit, propertyName string) (*dbus.Property, error)
	StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	ReloadUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error)
	Close()
}

type Systemd struct {
	conn unitConn
	log  *zap.Logger
}

var _ sysds.Services = (*Systemd)(nil)

func New(ctx context.Context, log *zap.Logger) (*Systemd, error) {
	conn, err := dbus.NewSystemdConnectionContext(ctx)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Systemd{conn: conn, log: log}, nil
}

func (s *Systemd) Close() { s.conn.Close() }

func unit(name string) string {
	if u, ok := Units[name]; ok {
		return u
	} else if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}

func (s *Systemd) prop(ctx context.Context, name, prop string) (string, error) {
	p, err := s.conn.GetUnitPropertyContext(ctx, unit(name), prop)
	if err != nil {
		return "", Error.Wrap(err)
	}
	v, _ := p.Value.Value().(string)
	return v, nil
}

func (s *Systemd) Started(ctx context.Context, name string) (bool, error) {
	st, err := s.prop(ctx, name, "ActiveState")
	if err != nil {
		return false, err
	}
	return st == "active" || st == "reloading" || st == "activating", nil
}

func (s *Systemd) StartedOrEnabled(ctx context.Context, name string) (bool, error) {
	if on, err := s.Started(ctx, name); err != nil || on {
		return on, err
	}
	st, err := s.prop(ctx, name, "UnitFileState")
	if err != nil {
		return false, err
	}
	return st == "enabled", nil
}

type jobFunc func(ctx context.Context, name, mode string, ch chan<- string) (int, error)

// job runs a unit job and waits for it to finish.
func (s *Systemd) job(ctx context.Context, verb string, f jobFunc, name string) error {
	u := unit(name)
	ch := make(chan string, 1)
	if _, err := f(ctx, u, "replace", ch); err != nil {
		return Error.New("%s %s: %v", verb, u, err)
	}
	select {
	case res := <-ch:
		if res != "done" {
			return Error.New("%s %s: job %s", verb, u, res)
		}
		s.log.Debug("unit job done", zap.String("unit", u), zap.String("job", verb))
		return nil
	case <-ctx.Done():
		return Error.Wrap(ctx.Err())
	}
}

func (s *Systemd) Start(ctx context.Context, name string) error {
	return s.job(ctx, "start", s.conn.StartUnitContext, name)
}

func (s *Systemd) Stop(ctx context.Context, name string) error {
	return s.job(ctx, "stop", s.conn.StopUnitContext, name)
}

func (s *Systemd) Restart(ctx context.Context, name string) error {
	return s.job(ctx, "restart", s.conn.RestartUnitContext, name)
}

// Reload asks a running service to reload its configuration. A service that
// isn't running has nothing to reload.
func (s *Systemd) Reload(ctx context.Context, name string) error {
	if on, err := s.Started(ctx, name); err != nil || !on {
		return err
	}
	return s.job(ctx, "reload", s.conn.ReloadUnitContext, name)
}
