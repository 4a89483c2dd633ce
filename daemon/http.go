package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/dnr/sysds/common"
	"github.com/dnr/sysds/sysds"
)

type errWithStatus struct {
	error
	status int
}

func mwErr(status int, format string, a ...any) error {
	return &errWithStatus{
		error:  fmt.Errorf(format, a...),
		status: status,
	}
}

func errStatus(err error) (int, Status) {
	st := Status{Error: err.Error()}
	if v, ok := sysds.AsValidation(err); ok {
		st.Errors = v.Errors
		return http.StatusUnprocessableEntity, st
	}
	var ews *errWithStatus
	if errors.As(err, &ews) {
		return ews.status, st
	}
	if common.IsContextError(err) {
		return http.StatusServiceUnavailable, st
	}
	return http.StatusInternalServerError, st
}

func jsonmw[reqT, resT any](log *zap.Logger, f func(context.Context, *reqT) (*resT, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				log.Error("http handler panic", zap.Any("panic", p), zap.String("path", r.URL.Path))
				w.WriteHeader(http.StatusInternalServerError)
			}
		}()

		w.Header().Set("Content-Type", "application/json")
		wEnc := json.NewEncoder(w)

		var req reqT
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			wEnc.Encode(&Status{Error: "bad request: " + err.Error()})
			return
		}

		fields := []zap.Field{zap.String("path", r.URL.Path), zap.Any("req", req)}

		res, err := f(r.Context(), &req)
		if err == nil {
			w.WriteHeader(http.StatusOK)
			if res != nil {
				wEnc.Encode(res)
			} else {
				wEnc.Encode(&Status{Success: true})
			}
			log.Info("request", append(fields, zap.String("result", "OK"))...)
			return
		}

		status, st := errStatus(err)
		w.WriteHeader(status)
		wEnc.Encode(&st)
		log.Warn("request", append(fields, zap.Int("status", status), zap.Error(err))...)
	}
}
