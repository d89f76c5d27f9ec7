package supervisor

import (
	"errors"
	"os"
	"testing"
)

// newTestExec returns an Exec whose exec and exit are recorded instead of
// replacing or ending the test process.
func newTestExec(before func()) (*Exec, *[]int) {
	var codes []int
	e := NewExec(before)
	e.path = func() (string, error) { return "/usr/local/bin/ledlink", nil }
	e.exit = func(code int) { codes = append(codes, code) }
	return e, &codes
}

func TestRestartExecsOnce(t *testing.T) {
	var calls int
	var gotBin string
	var gotArgs []string
	before := 0

	e, codes := newTestExec(func() { before++ })
	e.exec = func(argv0 string, argv, envv []string) error {
		calls++
		gotBin, gotArgs = argv0, argv
		return nil
	}

	e.Restart()
	e.Restart()

	if calls != 1 {
		t.Errorf("exec calls = %d, want 1", calls)
	}
	if before != 1 {
		t.Errorf("before calls = %d, want 1", before)
	}
	if gotBin != "/usr/local/bin/ledlink" {
		t.Errorf("exec path = %q", gotBin)
	}
	if len(gotArgs) != len(os.Args) {
		t.Errorf("exec argv = %v, want %v", gotArgs, os.Args)
	}
	if e.Err() != nil {
		t.Errorf("Err() = %v, want nil", e.Err())
	}
	if len(*codes) != 0 {
		t.Errorf("exit codes = %v, want none", *codes)
	}
}

func TestRestartExitsWhenExecFails(t *testing.T) {
	boom := errors.New("exec format error")
	closed := false
	e, codes := newTestExec(func() { closed = true })
	e.exec = func(string, []string, []string) error { return boom }

	e.Restart()
	e.Restart()

	if !errors.Is(e.Err(), boom) {
		t.Errorf("Err() = %v, want %v", e.Err(), boom)
	}
	if !closed {
		t.Error("before hook did not run")
	}
	if len(*codes) != 1 || (*codes)[0] != 1 {
		t.Errorf("exit codes = %v, want [1]", *codes)
	}
}

func TestRestartExitsWhenExecutableMissing(t *testing.T) {
	e, codes := newTestExec(nil)
	e.path = func() (string, error) { return "", errors.New("no /proc") }
	e.exec = func(string, []string, []string) error {
		t.Error("exec should not run without a path")
		return nil
	}

	e.Restart()
	if e.Err() == nil {
		t.Error("Err() = nil, want error")
	}
	if len(*codes) != 1 || (*codes)[0] != 1 {
		t.Errorf("exit codes = %v, want [1]", *codes)
	}
}
