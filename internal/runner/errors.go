package runner

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"syscall"
)

// Kind classifies execution failures.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindUnknown          Kind = "unknown"
	KindTimeout          Kind = "timeout"
	KindCanceled         Kind = "canceled"
	KindOutsideWorkspace Kind = "outside_workspace"
)

var (
	errTimeout  = errors.New("process timed out")
	errCanceled = errors.New("process canceled")
)

// Error is returned when a command could not be spawned or did not run to
// completion.
type Error struct {
	Kind Kind
	Op   string // binary or directory the failure concerns
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or the empty Kind if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTimeout reports whether err is a timeout.
func IsTimeout(err error) bool { return KindOf(err) == KindTimeout }

// IsCanceled reports whether err is a cancellation.
func IsCanceled(err error) bool { return KindOf(err) == KindCanceled }

func classifySpawn(name string, err error) error {
	kind := KindUnknown
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		kind = KindNotFound
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EACCES):
		kind = KindPermissionDenied
	}
	return &Error{Kind: kind, Op: name, Err: err}
}
