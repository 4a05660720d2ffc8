package mcpclient

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// DefaultShutdownTimeout bounds how long a disconnect waits for the server
// to exit after its stdin closes, and again after SIGTERM, before killing it.
const DefaultShutdownTimeout = 5 * time.Second

// Dialer opens a byte stream to a server. Reads yield the server's output;
// writes reach its input. Close must end the stream and release the server.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// Dial calls f(ctx).
func (f DialerFunc) Dial(ctx context.Context) (io.ReadWriteCloser, error) { return f(ctx) }

// CommandDialer starts a server subprocess and talks to it over its
// stdin/stdout.
type CommandDialer struct {
	Command string
	Args    []string
	// Env is appended to the current process environment.
	Env []string
	// Stderr receives the server's stderr. Nil means os.Stderr.
	Stderr io.Writer
	// ShutdownTimeout; zero means DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// Dial starts the command. The process is not bound to ctx; it lives until
// the returned stream is closed.
func (d *CommandDialer) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd := exec.Command(d.Command, d.Args...)
	cmd.Env = append(os.Environ(), d.Env...)
	cmd.Stderr = d.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", d.Command, err)
	}

	timeout := d.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	return &processConn{
		cmd:     cmd,
		stdout:  stdout,
		stdin:   stdin,
		timeout: timeout,
		drained: make(chan struct{}),
		killed:  make(chan struct{}),
	}, nil
}

type processConn struct {
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stdin   io.WriteCloser
	timeout time.Duration

	// drained is closed once a read of stdout fails, usually with EOF.
	// cmd.Wait closes stdout, so it must not run before then.
	drained   chan struct{}
	drainOnce sync.Once
	killed    chan struct{}
}

func (p *processConn) Read(b []byte) (int, error) {
	n, err := p.stdout.Read(b)
	if err != nil {
		p.drainOnce.Do(func() { close(p.drained) })
	}
	return n, err
}

func (p *processConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close closes the server's stdin and waits for it to exit. A server that
// ignores EOF gets SIGTERM and then SIGKILL, each after the shutdown timeout.
// The process is reaped only after its output has been read to the end, or
// after it was killed.
func (p *processConn) Close() error {
	_ = p.stdin.Close()

	exited := make(chan error, 1)
	go func() {
		select {
		case <-p.drained:
		case <-p.killed:
		}
		exited <- p.cmd.Wait()
	}()

	wait := func() (error, bool) {
		select {
		case err := <-exited:
			return err, true
		case <-time.After(p.timeout):
			return nil, false
		}
	}
	if err, ok := wait(); ok {
		return err
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err == nil {
		if err, ok := wait(); ok {
			return err
		}
	}
	killErr := p.cmd.Process.Kill()
	close(p.killed)
	if err, ok := wait(); ok {
		return err
	}
	if killErr != nil {
		return killErr
	}
	return fmt.Errorf("server process %d did not exit", p.cmd.Process.Pid)
}
