package runner

import (
	"context"
	"errors"
	"os/exec"
)

// Job is the unit of work the environment exists to invoke: it takes no
// arguments, runs to completion, and reports success or failure through its
// error. The built-in strategy and external scripts both satisfy it.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type EnvVar struct {
	Name  string
	Value string
}

// ExitCode maps a job error to the process exit status: nil is 0, an external
// command's own status passes through unchanged, anything else is 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return 1
}

// Output returns the captured output tail for jobs that record one.
func Output(j Job) string {
	if o, ok := j.(interface{ Output() string }); ok {
		return o.Output()
	}
	return ""
}
