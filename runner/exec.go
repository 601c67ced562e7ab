package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// maxTail bounds how much job output is kept for the invocation record.
const maxTail = 8 * 1024

// ExecJob runs a designated external script to completion. The script
// inherits the process environment plus the configured secrets, writes to the
// container's own streams, and its exit status is propagated unchanged.
type ExecJob struct {
	JobName string
	Command string
	Args    []string
	Dir     string
	Env     []EnvVar

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer

	mu   sync.Mutex
	tail *tailBuffer
}

func (j *ExecJob) Name() string { return j.JobName }

func (j *ExecJob) Run(ctx context.Context) error {
	if j.Command == "" {
		return fmt.Errorf("exec job %s: command is required", j.JobName)
	}

	stdout := j.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := j.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	tail := newTailBuffer(maxTail)
	j.mu.Lock()
	j.tail = tail
	j.mu.Unlock()

	cmd := exec.CommandContext(ctx, j.Command, j.Args...)
	cmd.Dir = j.Dir
	cmd.Stdout = io.MultiWriter(stdout, tail)
	cmd.Stderr = io.MultiWriter(stderr, tail)
	cmd.Env = os.Environ()
	for _, env := range j.Env {
		cmd.Env = append(cmd.Env, env.Name+"="+env.Value)
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("exec job %s: %w", j.JobName, ctx.Err())
		}
		return fmt.Errorf("exec job %s: %w", j.JobName, err)
	}
	return nil
}

// Output returns the tail of the last run's combined output.
func (j *ExecJob) Output() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.tail == nil {
		return ""
	}
	return j.tail.String()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
