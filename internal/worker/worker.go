// Package worker runs crossfade participants as separate processes. The
// coordinator re-executes its own binary once per worker rank and talks to
// each child over two pipes: the child's stdin carries coordinator to worker
// traffic, and an extra pipe handed over as FD 3 carries the replies.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/andresmejia3/crossfade/internal/comm"
	"github.com/andresmejia3/crossfade/internal/utils" // Using the SafeCommand wrapper
)

// upstreamFD is where a worker finds the write end of its reply pipe.
const upstreamFD = 3

// Options configures the worker processes of a pool.
type Options struct {
	// Command is the argv prefix that starts the worker entrypoint.
	// Defaults to the running executable followed by "worker".
	Command  []string
	Env      []string
	Frames   int
	Compress bool
	Debug    bool
}

// Args returns the argv for rank's worker process.
func Args(rank, size int, opts Options) []string {
	args := append([]string{}, opts.Command...)
	args = append(args,
		"--rank", strconv.Itoa(rank),
		"--size", strconv.Itoa(size),
		"--frames", strconv.Itoa(opts.Frames),
	)
	if opts.Compress {
		args = append(args, "--compress")
	}
	if opts.Debug {
		args = append(args, "--debug")
	}
	return args
}

// Process is one running worker.
type Process struct {
	Rank int
	Cmd  *utils.SafeCommand
	link comm.Link
}

// Spawn starts the worker process for rank and returns it with the
// coordinator's end of its link.
func Spawn(ctx context.Context, rank, size int, opts Options) (*Process, error) {
	argv := Args(rank, size, opts)
	cmd := utils.NewSafeCommand(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), opts.Env...)
	if opts.Debug {
		cmd.Cmd.Stderr = io.MultiWriter(os.Stderr, cmd.Stderr)
	}

	// Create a side-channel pipe (FD 3) for worker -> coordinator traffic
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close() // Prevent FD leak
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", rank, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &Process{
		Rank: rank,
		Cmd:  cmd,
		link: comm.NewStreamLink(r, stdin, opts.Compress, stdin, r),
	}, nil
}

// Pool is the coordinator's view of a set of worker processes.
type Pool struct {
	procs []*Process
	comm  *comm.Comm
}

// NewPool starts size-1 worker processes and connects them to a root
// communicator. Rank 0 is the calling process.
func NewPool(ctx context.Context, size int, opts Options) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool size must be >= 1, got %d", size)
	}
	if len(opts.Command) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		opts.Command = []string{exe, "worker"}
	}

	p := &Pool{}
	links := make([]comm.Link, 0, size-1)
	for rank := 1; rank < size; rank++ {
		proc, err := Spawn(ctx, rank, size, opts)
		if err != nil {
			p.comm = comm.NewRoot(links)
			p.Close()
			return nil, err
		}
		slog.Debug("worker started", "rank", rank, "pid", proc.Cmd.Process.Pid)
		p.procs = append(p.procs, proc)
		links = append(links, proc.link)
	}
	p.comm = comm.NewRoot(links)
	return p, nil
}

// Comm returns the coordinator's communicator.
func (p *Pool) Comm() *comm.Comm {
	return p.comm
}

// Close closes every link, which ends the workers' input, and waits for
// them to exit. It returns the exit failures, if any.
func (p *Pool) Close() error {
	p.comm.Close()

	var errs []error
	for _, proc := range p.procs {
		if err := proc.Cmd.Wait(); err != nil {
			errs = append(errs, &ExitError{Process: proc, Err: err})
		}
	}
	return errors.Join(errs...)
}

// ExitError is a worker that did not exit cleanly.
type ExitError struct {
	Process *Process
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker %d: %v", e.Process.Rank, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Attach is the worker side: it connects rank to the coordinator through
// stdin and the inherited FD 3.
func Attach(rank, size int, compress bool) (*comm.Comm, error) {
	up := os.NewFile(upstreamFD, "crossfade-upstream")
	if up == nil {
		return nil, fmt.Errorf("file descriptor %d is not available", upstreamFD)
	}
	return connect(rank, size, compress, os.Stdin, up)
}

func connect(rank, size int, compress bool, r io.ReadCloser, w io.WriteCloser) (*comm.Comm, error) {
	c, err := comm.NewPeer(rank, size, comm.NewStreamLink(r, w, compress, w, r))
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	return c, nil
}
