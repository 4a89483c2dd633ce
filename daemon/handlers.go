package daemon

import (
	"context"
	"net/http"

	"github.com/dnr/sysds/sysds"
)

// what the socket server exposes; *sysds.Reconciler
type reconciler interface {
	Config(ctx context.Context) (sysds.Config, error)
	Update(ctx context.Context, req sysds.UpdateRequest) (sysds.Config, error)
	Setup(ctx context.Context, excludePool string) (sysds.Config, error)
	PoolChoices(ctx context.Context, includeCurrent bool) (map[string]string, error)
	PoolCreated(ctx context.Context, pool string) error
	PoolImported(ctx context.Context, pool string) error
	PoolPreExport(ctx context.Context, pool string) error
}

var _ reconciler = (*sysds.Reconciler)(nil)

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc(ConfigPath, jsonmw(s.log, s.handleConfigReq))
	mux.HandleFunc(UpdatePath, jsonmw(s.log, s.handleUpdateReq))
	mux.HandleFunc(SetupPath, jsonmw(s.log, s.handleSetupReq))
	mux.HandleFunc(PoolChoicesPath, jsonmw(s.log, s.handlePoolChoicesReq))
	mux.HandleFunc(PoolCreatedPath, jsonmw(s.log, s.poolHook(s.rec.PoolCreated)))
	mux.HandleFunc(PoolImportedPath, jsonmw(s.log, s.poolHook(s.rec.PoolImported)))
	mux.HandleFunc(PoolPreExportPath, jsonmw(s.log, s.poolHook(s.rec.PoolPreExport)))
	return mux
}

func configResp(cfg sysds.Config, err error) (*ConfigResp, error) {
	if err != nil {
		return nil, err
	}
	return &ConfigResp{Status: Status{Success: true}, Config: cfg}, nil
}

func (s *server) handleConfigReq(ctx context.Context, r *ConfigReq) (*ConfigResp, error) {
	return configResp(s.rec.Config(ctx))
}

// Mutating requests run to completion even if the client goes away: a
// migration must not be cut off halfway.

func (s *server) handleUpdateReq(ctx context.Context, r *UpdateReq) (*ConfigResp, error) {
	return configResp(s.rec.Update(context.WithoutCancel(ctx), *r))
}

func (s *server) handleSetupReq(ctx context.Context, r *SetupReq) (*ConfigResp, error) {
	return configResp(s.rec.Setup(context.WithoutCancel(ctx), r.ExcludePool))
}

func (s *server) handlePoolChoicesReq(ctx context.Context, r *PoolChoicesReq) (*PoolChoicesResp, error) {
	choices, err := s.rec.PoolChoices(ctx, r.IncludeCurrent)
	if err != nil {
		return nil, err
	}
	return &PoolChoicesResp{Status: Status{Success: true}, Choices: choices}, nil
}

func (s *server) poolHook(f func(context.Context, string) error) func(context.Context, *PoolReq) (*Status, error) {
	return func(ctx context.Context, r *PoolReq) (*Status, error) {
		if r.Pool == "" {
			return nil, mwErr(http.StatusBadRequest, "missing pool name")
		}
		return nil, f(context.WithoutCancel(ctx), r.Pool)
	}
}
