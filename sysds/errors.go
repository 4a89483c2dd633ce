package sysds

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zeebo/errs"
	"golang.org/x/sys/unix"
)

var (
	// Error is the class for operational failures of the system dataset.
	Error = errs.Class("sysdataset")

	// MigrateError is the class for aborted migrations. The source pool is
	// still authoritative when one of these is returned.
	MigrateError = errs.Class("sysdataset migrate")
)

var errNotMounted = errors.New("not mounted")

// NotMounted is the error MountTable implementations return (wrapped) when
// unmounting something that isn't a mountpoint.
func NotMounted() error { return errNotMounted }

func IsNotMounted(err error) bool {
	return errors.Is(err, errNotMounted)
}

func isBusy(err error) bool {
	return errors.Is(err, unix.EBUSY) || strings.Contains(err.Error(), "target is busy")
}

type (
	FieldError struct {
		Field string `json:"field"`
		Msg   string `json:"msg"`
		Errno int    `json:"errno,omitempty"`
	}

	// ValidationErrors collects pre-flight failures attributed to request
	// fields. Nothing destructive has happened when one is returned.
	ValidationErrors struct {
		Errors []FieldError
	}
)

func (v *ValidationErrors) Add(field, msg string, errno ...int) {
	fe := FieldError{Field: field, Msg: msg}
	if len(errno) > 0 {
		fe.Errno = errno[0]
	}
	v.Errors = append(v.Errors, fe)
}

// Check returns v as an error if anything was added, otherwise nil.
func (v *ValidationErrors) Check() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

func (v *ValidationErrors) Error() string {
	parts := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		parts[i] = fmt.Sprintf("[%s] %s", e.Field, e.Msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func AsValidation(err error) (*ValidationErrors, bool) {
	var v *ValidationErrors
	ok := errors.As(err, &v)
	return v, ok
}

// UnmountError is an unmount failure. When the target was busy Holders lists
// the processes that had it open.
type UnmountError struct {
	Dataset string
	Target  string
	Err     error
	Holders []Holder
}

func (e *UnmountError) Error() string {
	msg := fmt.Sprintf("Unable to umount %s: %v", e.Dataset, e.Err)
	if len(e.Holders) > 0 {
		b, _ := json.MarshalIndent(e.Holders, "", "  ")
		msg += fmt.Sprintf("\nThe following processes are using %q: %s", e.Target, b)
	}
	return msg
}

func (e *UnmountError) Unwrap() error { return e.Err }
