package daemon

import "github.com/dnr/sysds/sysds"

var (
	// protocol is json over http over unix socket
	// accessible to root only!
	Socket = "/var/run/sysdatasetd.sock"

	ConfigPath        = "/config"
	UpdatePath        = "/update"
	SetupPath         = "/setup"
	PoolChoicesPath   = "/pool-choices"
	PoolCreatedPath   = "/hook/pool-created"
	PoolImportedPath  = "/hook/pool-imported"
	PoolPreExportPath = "/hook/pool-pre-export"
)

type (
	ConfigReq struct{}

	UpdateReq = sysds.UpdateRequest

	SetupReq struct {
		ExcludePool string `json:"exclude_pool"`
	}

	PoolChoicesReq struct {
		IncludeCurrent bool `json:"include_current"`
	}

	// for the pool hooks
	PoolReq struct {
		Pool string `json:"pool"`
	}

	Status struct {
		Success bool               `json:"success"`
		Error   string             `json:"error,omitempty"`
		Errors  []sysds.FieldError `json:"errors,omitempty"`
	}

	ConfigResp struct {
		Status
		Config sysds.Config `json:"config"`
	}

	PoolChoicesResp struct {
		Status
		Choices map[string]string `json:"choices"`
	}
)
