package sysds

import (
	"context"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

type quiesceCandidate struct {
	name string
	// include when enabled even if not running
	orEnabled bool
}

// Services that write into the system dataset, in stop order.
var quiesceOrder = []quiesceCandidate{
	{name: "glusterd"},
	{name: "cifs"},
	{name: "collectd"},
	{name: "rrdcached"},
	{name: "syslogd"},
	{name: "webdav", orEnabled: true},
	{name: "open-vm-tools"},
	{name: "idmap"},
}

// Quiescer stops the services writing into the system dataset around a mount
// transition and brings them back afterwards.
type Quiescer struct {
	services Services
	flags    FlagCache
	sink     LogSink
	log      *zap.Logger
}

func NewQuiescer(services Services, flags FlagCache, sink LogSink, log *zap.Logger) *Quiescer {
	return &Quiescer{services: services, flags: flags, sink: sink, log: log}
}

// active returns the services to stop, in stop order.
func (q *Quiescer) active(ctx context.Context) ([]string, error) {
	var out []string
	for _, c := range quiesceOrder {
		var on bool
		var err error
		if c.orEnabled {
			on, err = q.services.StartedOrEnabled(ctx, c.name)
		} else {
			on, err = q.services.Started(ctx, c.name)
		}
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if on {
			out = append(out, c.name)
		}
	}
	return out, nil
}

// Run calls fn with the dependent services stopped. Every service that was
// stopped is started again in reverse order on return, whether or not fn
// failed. fn's error is returned combined with any restart errors.
func (q *Quiescer) Run(ctx context.Context, fn func() error) (err error) {
	toStop, err := q.active(ctx)
	if err != nil {
		return err
	}

	var stopped []string
	q.flags.Put(SyslogFlagKey, false)
	q.sink.Detach()
	defer func() {
		q.flags.Pop(SyslogFlagKey)
		// services come back even if the caller gave up
		rctx := context.WithoutCancel(ctx)
		var group errs.Group
		for i := len(stopped) - 1; i >= 0; i-- {
			if serr := q.services.Start(rctx, stopped[i]); serr != nil {
				q.log.Error("failed to start service after quiesce", zap.String("service", stopped[i]), zap.Error(serr))
				group.Add(serr)
			}
		}
		q.sink.Attach()
		err = errs.Combine(err, group.Err())
	}()

	for _, name := range toStop {
		q.log.Debug("stopping service", zap.String("service", name))
		if err := q.services.Stop(ctx, name); err != nil {
			return Error.New("stopping %s: %v", name, err)
		}
		stopped = append(stopped, name)
	}

	return fn()
}
