// Package supervisor restarts the process after the link manager gives up.
package supervisor

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/chaz8081/ledlink/internal/ble"
)

// ExecFunc replaces the running process image. syscall.Exec matches it.
type ExecFunc func(argv0 string, argv []string, envv []string) error

// Exec restarts the process by re-executing the current binary with the
// same arguments and environment. Only the first Restart has any effect.
// If the exec fails the process exits with status 1 so that a service
// manager can restart it.
type Exec struct {
	exec   ExecFunc
	path   func() (string, error)
	exit   func(code int)
	before func()
	once   sync.Once
	err    error
}

// NewExec returns an Exec. before, if non-nil, runs just ahead of the
// exec so the caller can release the adapter and flush logs.
func NewExec(before func()) *Exec {
	return &Exec{
		exec:   syscall.Exec,
		path:   os.Executable,
		exit:   os.Exit,
		before: before,
	}
}

// Restart re-executes the binary. It does not return: either the new
// image replaces this process or the process exits.
func (e *Exec) Restart() {
	e.once.Do(func() {
		e.err = e.restart()
		if e.err != nil {
			slog.Error("[SUPERVISOR] restart failed, exiting", "error", e.err)
			e.exit(1)
		}
	})
}

// Err returns the error from the restart attempt, if any.
func (e *Exec) Err() error {
	return e.err
}

func (e *Exec) restart() error {
	bin, err := e.path()
	if err != nil {
		return fmt.Errorf("supervisor: locating executable: %w", err)
	}
	slog.Warn("[SUPERVISOR] restarting process", "path", bin)
	if e.before != nil {
		e.before()
	}
	if err := e.exec(bin, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("supervisor: exec %s: %w", bin, err)
	}
	return nil
}

var _ ble.Supervisor = (*Exec)(nil)
