package stream

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

const (
	// DefaultChunkSize is the read size for converter output.
	DefaultChunkSize = 64 * 1024

	// DefaultKillGrace is how long a process may take to exit after the
	// interrupt before it is killed.
	DefaultKillGrace = 5 * time.Second
)

// LauncherConfig configures how converter processes are started.
type LauncherConfig struct {
	// Binary is the converter executable, "ffmpeg" if empty.
	Binary string

	// RTSPTransport, when set, is passed as -rtsp_transport (e.g. "tcp").
	RTSPTransport string

	// ChunkSize is the maximum size of a chunk returned by Next.
	ChunkSize int

	// KillGrace bounds the wait between interrupt and kill.
	KillGrace time.Duration

	// Args overrides the argument list built for a locator.
	Args func(locator Locator) []string
}

// Launcher starts converter processes. Every process is bound to the
// launcher's context: cancelling it interrupts all of them.
type Launcher struct {
	ctx context.Context
	cfg LauncherConfig
	log *slog.Logger
}

// NewLauncher returns a Launcher with defaults applied to cfg.
func NewLauncher(ctx context.Context, cfg LauncherConfig, log *slog.Logger) *Launcher {
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	return &Launcher{ctx: ctx, cfg: cfg, log: log.With("component", "launcher")}
}

// Args returns the converter arguments for locator: copy every stream of the
// input into MPEG-TS on stdout.
func (l *Launcher) Args(locator Locator) []string {
	if l.cfg.Args != nil {
		return l.cfg.Args(locator)
	}
	args := []string{"-nostdin", "-hide_banner"}
	if l.cfg.RTSPTransport != "" {
		args = append(args, "-rtsp_transport", l.cfg.RTSPTransport)
	}
	return append(args,
		"-i", string(locator),
		"-c", "copy",
		"-f", "mpegts",
		"pipe:1",
	)
}

// Start launches a converter reading from locator. The error is a
// *SpawnError if the executable could not be run.
func (l *Launcher) Start(locator Locator) (*Process, error) {
	if err := l.ctx.Err(); err != nil {
		return nil, &SpawnError{Locator: locator, Err: err}
	}

	ctx, cancel := context.WithCancel(l.ctx)
	cmd := exec.CommandContext(ctx, l.cfg.Binary, l.Args(locator)...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = l.cfg.KillGrace

	// Stdin and Stderr stay nil and are connected to the null device.
	pr, pw := io.Pipe()
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		cancel()
		pr.Close()
		pw.Close()
		return nil, &SpawnError{Locator: locator, Err: err}
	}

	p := &Process{
		cmd:    cmd,
		out:    pr,
		buf:    make([]byte, l.cfg.ChunkSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.wait(pw, l.log.With("locator", string(locator), "pid", cmd.Process.Pid))

	l.log.Debug("process started",
		slog.String("locator", string(locator)),
		slog.Int("pid", cmd.Process.Pid))
	return p, nil
}

// StartFunc adapts Start to the StartFunc signature used by Service.
func (l *Launcher) StartFunc() StartFunc {
	return func(locator Locator) (Upstream, error) {
		p, err := l.Start(locator)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var (
	_ Upstream   = (*Process)(nil)
	_ ExitStatus = (*Process)(nil)
)

// Process is a running converter. It implements Upstream and ExitStatus.
type Process struct {
	cmd    *exec.Cmd
	out    *io.PipeReader
	buf    []byte
	cancel context.CancelFunc

	terminate sync.Once
	done      chan struct{}
	exitErr   error
}

func (p *Process) wait(pw *io.PipeWriter, log *slog.Logger) {
	err := p.cmd.Wait()
	p.exitErr = err
	p.cancel()
	pw.Close()
	close(p.done)
	if err != nil {
		log.Debug("process exited", slog.String("error", err.Error()))
	} else {
		log.Debug("process exited")
	}
}

// Next implements Upstream.Next. Chunks are freshly allocated and may be
// retained by the caller.
func (p *Process) Next() ([]byte, error) {
	for {
		n, err := p.out.Read(p.buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, p.buf[:n])
			return chunk, nil
		}
		if err != nil {
			return nil, ErrEndOfStream
		}
	}
}

// Terminate implements Upstream.Terminate. The process receives an interrupt
// and is killed if it is still running after the launcher's kill grace.
func (p *Process) Terminate() {
	p.terminate.Do(func() {
		p.cancel()
		p.out.CloseWithError(ErrEndOfStream)
	})
}

// Done is closed once the process has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitErr returns the wait error of the process. Only valid after Done.
func (p *Process) ExitErr() error {
	select {
	case <-p.done:
		return p.exitErr
	default:
		return nil
	}
}
