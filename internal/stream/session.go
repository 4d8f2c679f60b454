package stream

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"stream-relay/internal/platform/metrics"

	"github.com/google/uuid"
)

// Session binds one Upstream to the set of sinks it is broadcasting to.
//
// A session dies exactly once: when its last sink detaches, when the
// upstream stops producing, or when it is stopped explicitly. A dead session
// refuses new sinks and has asked its upstream to terminate.
type Session struct {
	id        string
	locator   Locator
	shared    bool
	upstream  Upstream
	log       *slog.Logger
	metrics   *metrics.Metrics
	onDead    func(*Session)
	startedAt time.Time

	state atomic.Int32
	bytes atomic.Int64

	// mu guards sinks and the transition to StateDead.
	mu    sync.Mutex
	sinks map[Sink]struct{}

	terminate sync.Once
	done      chan struct{}
}

// newSession returns a session in StateStarting. onDead is called exactly
// once, with s.mu held, right after the session is marked dead; it must not
// call back into the session.
func newSession(locator Locator, shared bool, up Upstream, log *slog.Logger, m *metrics.Metrics, onDead func(*Session)) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		locator:   locator,
		shared:    shared,
		upstream:  up,
		log:       log.With("session_id", id, "locator", string(locator), "shared", shared),
		metrics:   m,
		onDead:    onDead,
		startedAt: time.Now().UTC(),
		sinks:     make(map[Sink]struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Locator returns the upstream locator.
func (s *Session) Locator() Locator { return s.locator }

// Shared reports whether the session is registered for reuse.
func (s *Session) Shared() bool { return s.shared }

// State returns the current state without taking the session lock.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session is dead and its upstream was asked to stop.
func (s *Session) Done() <-chan struct{} { return s.done }

// SinkCount returns the number of attached sinks.
func (s *Session) SinkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sinks)
}

// Info returns a snapshot for listings.
func (s *Session) Info() Info {
	return Info{
		ID:        s.id,
		Locator:   s.locator,
		Shared:    s.shared,
		State:     s.State().String(),
		Sinks:     s.SinkCount(),
		Bytes:     s.bytes.Load(),
		StartedAt: s.startedAt,
	}
}

// Attach adds sink to the session. It fails with ErrSessionDead once the
// session is dead. Attaching a sink that is already attached is a no-op.
func (s *Session) Attach(sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateDead {
		return ErrSessionDead
	}
	if _, ok := s.sinks[sink]; ok {
		return nil
	}
	s.sinks[sink] = struct{}{}
	s.metrics.SinkAttached()
	s.log.Debug("sink attached", slog.Int("sinks", len(s.sinks)))
	return nil
}

// Detach removes sink from the session. Removing an absent sink is a no-op.
// Removing the last sink kills the session and terminates the upstream.
func (s *Session) Detach(sink Sink) {
	s.detach(sink)
}

// detach reports whether sink was attached.
func (s *Session) detach(sink Sink) bool {
	s.mu.Lock()
	if _, ok := s.sinks[sink]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.sinks, sink)
	remaining := len(s.sinks)
	last := remaining == 0 && s.State() != StateDead
	if last {
		s.markDeadLocked()
	}
	s.mu.Unlock()

	s.metrics.SinkDetached()
	s.log.Debug("sink detached", slog.Int("sinks", remaining))
	if last {
		s.teardown(metrics.ReasonLastSink)
	}
	return true
}

// Stop kills the session regardless of attached sinks. Remaining sinks are
// closed gracefully. Stopping a dead session is a no-op.
func (s *Session) Stop() {
	s.end(metrics.ReasonShutdown)
}

// run is the broadcast loop. It reads the upstream until end of stream and
// writes every chunk to a snapshot of the attached sinks. A sink whose write
// fails is detached without affecting the others.
func (s *Session) run() {
	for {
		chunk, err := s.upstream.Next()
		if err != nil {
			if s.end(metrics.ReasonUpstreamExit) {
				s.logExit()
			}
			return
		}

		if s.state.CompareAndSwap(int32(StateStarting), int32(StateLive)) {
			s.log.Info("session live")
		}
		s.bytes.Add(int64(len(chunk)))
		s.metrics.AddBytesRelayed(len(chunk))

		for _, sink := range s.snapshot() {
			if werr := sink.Write(chunk); werr != nil {
				if s.detach(sink) {
					s.metrics.IncSinksDropped()
					s.log.Info("sink dropped", slog.String("error", werr.Error()))
				}
			}
		}
	}
}

func (s *Session) snapshot() []Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sink, 0, len(s.sinks))
	for sink := range s.sinks {
		out = append(out, sink)
	}
	return out
}

// end closes every remaining sink and kills the session if it is not dead
// yet. It reports whether this call killed the session.
func (s *Session) end(reason string) bool {
	s.mu.Lock()
	sinks := make([]Sink, 0, len(s.sinks))
	for sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	clear(s.sinks)
	alive := s.State() != StateDead
	if alive {
		s.markDeadLocked()
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		sink.Close()
		s.metrics.SinkDetached()
	}
	if alive {
		s.teardown(reason)
	}
	return alive
}

// logExit records why an upstream stopped producing on its own.
func (s *Session) logExit() {
	es, ok := s.upstream.(ExitStatus)
	if !ok {
		return
	}
	<-es.Done()
	if err := es.ExitErr(); err != nil {
		s.log.Warn("upstream exited", slog.String("error", err.Error()))
		return
	}
	s.log.Info("upstream exited")
}

// markDeadLocked commits the transition to StateDead. Caller must hold s.mu
// and have checked the session is not dead already.
func (s *Session) markDeadLocked() {
	s.state.Store(int32(StateDead))
	if s.onDead != nil {
		s.onDead(s)
	}
}

// teardown runs once, after the goroutine that committed StateDead has
// released s.mu.
func (s *Session) teardown(reason string) {
	s.terminate.Do(func() {
		s.upstream.Terminate()
		close(s.done)
		s.metrics.SessionEnded(reason)
		s.log.Info("session ended",
			slog.String("reason", reason),
			slog.Int64("bytes", s.bytes.Load()),
			slog.Duration("uptime", time.Since(s.startedAt)))
	})
}
