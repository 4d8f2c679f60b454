package stream

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"stream-relay/internal/platform/logger"
)

// fakeUpstream produces whatever is pushed into it until exit or Terminate.
type fakeUpstream struct {
	locator    Locator
	chunks     chan []byte
	stopped    chan struct{}
	stopOnce   sync.Once
	exitOnce   sync.Once
	terminates atomic.Int32
}

func newFakeUpstream(locator Locator) *fakeUpstream {
	return &fakeUpstream{
		locator: locator,
		chunks:  make(chan []byte, 64),
		stopped: make(chan struct{}),
	}
}

func (f *fakeUpstream) Next() ([]byte, error) {
	select {
	case c, ok := <-f.chunks:
		if !ok {
			return nil, ErrEndOfStream
		}
		return c, nil
	case <-f.stopped:
		return nil, ErrEndOfStream
	}
}

func (f *fakeUpstream) Terminate() {
	f.terminates.Add(1)
	f.stopOnce.Do(func() { close(f.stopped) })
}

func (f *fakeUpstream) push(s string) {
	f.chunks <- []byte(s)
}

// exit simulates the process ending on its own.
func (f *fakeUpstream) exit() {
	f.exitOnce.Do(func() { close(f.chunks) })
}

// exitedUpstream is a fakeUpstream that reports a process exit status.
type exitedUpstream struct {
	*fakeUpstream
	done chan struct{}
	err  error
}

func (e *exitedUpstream) Done() <-chan struct{} { return e.done }

func (e *exitedUpstream) ExitErr() error { return e.err }

// syncBuffer is a bytes.Buffer safe for a logger and a test reading it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeStarter records every upstream it starts.
type fakeStarter struct {
	mu        sync.Mutex
	upstreams []*fakeUpstream
	err       error
	delay     time.Duration
	exited    bool
}

func (s *fakeStarter) Start(locator Locator) (Upstream, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, &SpawnError{Locator: locator, Err: s.err}
	}
	up := newFakeUpstream(locator)
	if s.exited {
		up.exit()
	}
	s.upstreams = append(s.upstreams, up)
	return up, nil
}

func (s *fakeStarter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.upstreams)
}

func (s *fakeStarter) get(i int) *fakeUpstream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstreams[i]
}

// recordSink collects chunks in memory.
type recordSink struct {
	mu       sync.Mutex
	chunks   []string
	failWith error
	closed   chan struct{}
	once     sync.Once
}

func newRecordSink() *recordSink {
	return &recordSink{closed: make(chan struct{})}
}

func (r *recordSink) Write(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return r.failWith
	}
	r.chunks = append(r.chunks, string(chunk))
	return nil
}

func (r *recordSink) Close() {
	r.once.Do(func() { close(r.closed) })
}

func (r *recordSink) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chunks...)
}

func (r *recordSink) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}

var errBrokenClient = errors.New("broken pipe")

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestService(t *testing.T, starter *fakeStarter) (*Service, *Registry) {
	t.Helper()
	reg := NewRegistry()
	return NewService(reg, starter.Start, logger.Discard(), nil), reg
}

// startTestSession runs a session over up whose death removes it from reg.
func startTestSession(locator Locator, shared bool, up Upstream, reg *Registry) *Session {
	var onDead func(*Session)
	if reg != nil {
		onDead = func(s *Session) { reg.Remove(s.Locator(), s) }
	}
	s := newSession(locator, shared, up, logger.Discard(), nil, onDead)
	go s.run()
	return s
}
