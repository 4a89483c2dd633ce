package services

import (
	"context"
	"errors"
	"testing"

	"github.com/coreos/go-systemd/v22/dbus"
	godbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	props  map[string]map[string]string // unit -> prop -> value
	result string
	jobs   []string
}

func (f *fakeConn) GetUnitPropertyContext(ctx context.Context, unit, prop string) (*dbus.Property, error) {
	p, ok := f.props[unit]
	if !ok {
		return nil, errors.New("no such unit")
	}
	return &dbus.Property{Name: prop, Value: godbus.MakeVariant(p[prop])}, nil
}

func (f *fakeConn) run(verb string) func(context.Context, string, string, chan<- string) (int, error) {
	return func(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
		f.jobs = append(f.jobs, verb+" "+name)
		ch <- f.result
		return len(f.jobs), nil
	}
}

func (f *fakeConn) StartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.run("start")(ctx, name, mode, ch)
}

func (f *fakeConn) StopUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.run("stop")(ctx, name, mode, ch)
}

func (f *fakeConn) RestartUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.run("restart")(ctx, name, mode, ch)
}

func (f *fakeConn) ReloadUnitContext(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
	return f.run("reload")(ctx, name, mode, ch)
}

func (f *fakeConn) Close() {}

func TestStartedOrEnabled(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	fc := &fakeConn{props: map[string]map[string]string{
		"smbd.service":    {"ActiveState": "active", "UnitFileState": "enabled"},
		"apache2.service": {"ActiveState": "inactive", "UnitFileState": "enabled"},
		"winbind.service": {"ActiveState": "inactive", "UnitFileState": "disabled"},
	}}
	s := &Systemd{conn: fc, log: zaptest.NewLogger(t)}

	on, err := s.Started(ctx, "cifs")
	r.NoError(err)
	r.True(on)
	on, err = s.Started(ctx, "webdav")
	r.NoError(err)
	r.False(on)
	on, err = s.StartedOrEnabled(ctx, "webdav")
	r.NoError(err)
	r.True(on)
	on, err = s.StartedOrEnabled(ctx, "idmap")
	r.NoError(err)
	r.False(on)

	_, err = s.Started(ctx, "nonexistent")
	r.Error(err)
}

func TestJobs(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	fc := &fakeConn{
		props: map[string]map[string]string{
			"smbd.service":      {"ActiveState": "active"},
			"glusterd.service":  {"ActiveState": "inactive"},
			"syslog-ng.service": {"ActiveState": "active"},
		},
		result: "done",
	}
	s := &Systemd{conn: fc, log: zaptest.NewLogger(t)}

	r.NoError(s.Stop(ctx, "cifs"))
	r.NoError(s.Start(ctx, "cifs"))
	r.NoError(s.Restart(ctx, "syslogd"))
	r.NoError(s.Reload(ctx, "cifs"))
	r.NoError(s.Reload(ctx, "glusterd"), "inactive units are not reloaded")
	r.Equal([]string{
		"stop smbd.service",
		"start smbd.service",
		"restart syslog-ng.service",
		"reload smbd.service",
	}, fc.jobs)

	fc.result = "failed"
	err := s.Start(ctx, "cifs")
	r.Error(err)
	r.Contains(err.Error(), "job failed")
}
