package stream

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"stream-relay/internal/platform/metrics"
)

// Service attaches clients to sessions, creating and sharing them through
// the Registry, and keeps track of every live session, shared or private.
type Service struct {
	registry *Registry
	start    StartFunc
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	live   map[*Session]struct{}
	closed bool
}

// NewService returns a Service that launches upstreams with start.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewService(registry *Registry, start StartFunc, log *slog.Logger, m *metrics.Metrics) *Service {
	return &Service{
		registry: registry,
		start:    start,
		log:      log.With("component", "stream"),
		metrics:  m,
		live:     make(map[*Session]struct{}),
	}
}

// Open attaches sink to a session for locator. Shareable locators reuse the
// registered live session if there is one; otherwise, and always for private
// requests, a new upstream is started with sink already attached, so a
// session is never visible to other clients without a sink. If a reused
// session dies before sink is attached, Open looks again. Errors from
// starting the upstream are returned unchanged and leave nothing registered.
func (s *Service) Open(locator Locator, shareable bool, sink Sink) (*Session, error) {
	for attempt := 1; ; attempt++ {
		created := false
		sess, err := s.registry.GetOrCreate(locator, shareable, func() (*Session, error) {
			created = true
			return s.spawn(locator, shareable, sink)
		})
		if err != nil {
			return nil, err
		}
		if created {
			return sess, nil
		}

		err = sess.Attach(sink)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, ErrSessionDead) {
			return nil, err
		}
		// The session lost its last sink or its upstream; it is already out
		// of the registry, so the next pass finds a newer one or creates one.
		s.log.Debug("session died before attach, retrying",
			slog.String("locator", string(locator)),
			slog.Int("attempt", attempt))
	}
}

// Close detaches sink from sess. It is safe to call more than once.
func (s *Service) Close(sess *Session, sink Sink) {
	sess.Detach(sink)
}

// spawn starts an upstream and returns its session with first attached.
func (s *Service) spawn(locator Locator, shared bool, first Sink) (*Session, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrServiceClosed
	}

	up, err := s.start(locator)
	if err != nil {
		s.metrics.IncSpawnFailures()
		s.log.Error("upstream start failed",
			slog.String("locator", string(locator)),
			slog.String("error", err.Error()))
		return nil, err
	}

	sess := newSession(locator, shared, up, s.log, s.metrics, s.sessionDead)
	// Not running and not published yet, so this cannot fail.
	_ = sess.Attach(first)

	s.mu.Lock()
	s.live[sess] = struct{}{}
	s.mu.Unlock()

	s.metrics.SessionStarted()
	sess.log.Info("session started")
	go sess.run()
	return sess, nil
}

// sessionDead runs with the session's lock held.
func (s *Service) sessionDead(sess *Session) {
	if sess.shared {
		s.registry.Remove(sess.locator, sess)
	}
	s.mu.Lock()
	delete(s.live, sess)
	s.mu.Unlock()
}

// Sessions returns a snapshot of every live session, oldest first.
func (s *Service) Sessions() []Info {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.live))
	for sess := range s.live {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	out := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// SharedCount returns the number of sessions in the registry.
func (s *Service) SharedCount() int {
	return s.registry.Len()
}

// Shutdown stops every live session and refuses to start new ones.
func (s *Service) Shutdown() {
	shared := s.registry.Locators()

	s.mu.Lock()
	s.closed = true
	sessions := make([]*Session, 0, len(s.live))
	for sess := range s.live {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
	s.log.Info("stream service shut down",
		slog.Int("sessions", len(sessions)),
		slog.Any("shared_locators", shared))
}
