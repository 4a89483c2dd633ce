package common

import (
	"errors"
	"fmt"
	"strings"
)

type NotFoundable interface {
	IsNotFound() bool
}

func IsNotFound(err error) bool {
	var nf NotFoundable
	return errors.As(err, &nf) && nf.IsNotFound()
}

// NotFoundError is returned by collaborators when a pool or dataset is absent.
type NotFoundError struct {
	Kind string
	Name string
}

var _ NotFoundable = NotFoundError{}

func NewNotFound(kind, name string) NotFoundError { return NotFoundError{Kind: kind, Name: name} }

func (e NotFoundError) Error() string    { return fmt.Sprintf("%s %s does not exist", e.Kind, e.Name) }
func (e NotFoundError) IsNotFound() bool { return true }

// CommandError is a failed external command. Stderr and Stdout hold the
// captured output verbatim.
type CommandError struct {
	Desc     string
	Args     []string
	ExitCode int
	Stderr   string
	Stdout   string
	Err      error
}

func (e *CommandError) Error() string {
	var details []string
	if e.Stderr != "" {
		details = append(details, "stderr: "+e.Stderr)
	}
	if e.Stdout != "" {
		details = append(details, "stdout: "+e.Stdout)
	}
	if len(details) > 0 {
		return fmt.Sprintf("%s: %s: %v", e.Desc, strings.Join(details, "; "), e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Desc, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
