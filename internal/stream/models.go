package stream

import (
	"errors"
	"fmt"
	"time"
)

// Locator is the canonical upstream source address (e.g. rtsp://host/path).
// Two requests can share a session only if their locators are equal.
type Locator string

// State is a session's lifecycle state.
type State int32

const (
	// StateStarting: process launched, nothing produced yet.
	StateStarting State = iota
	// StateLive: the process has produced output.
	StateLive
	// StateDead is terminal.
	StateDead
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateLive:
		return "live"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Upstream is a running converter process seen as a sequential byte producer.
type Upstream interface {
	// Next returns the next chunk of output. Once the process has exited or
	// Terminate has been called it returns ErrEndOfStream, on every call.
	// Next is called from a single goroutine.
	Next() ([]byte, error)

	// Terminate asks the process to stop. Calling it more than once is a no-op.
	Terminate()
}

// ExitStatus is implemented by upstreams that can report how their process
// ended. Done is closed once the process has been reaped; ExitErr is only
// meaningful after that.
type ExitStatus interface {
	Done() <-chan struct{}
	ExitErr() error
}

// StartFunc launches an Upstream for a locator.
type StartFunc func(locator Locator) (Upstream, error)

// Sink is one attached client's outbound byte destination. Sinks are
// compared by identity.
type Sink interface {
	// Write hands a chunk to the client. It must not block on a slow client;
	// an error removes the sink from its session.
	Write(chunk []byte) error

	// Close signals a graceful end of stream.
	Close()
}

var (
	// ErrEndOfStream is returned by Upstream.Next once output has ended.
	ErrEndOfStream = errors.New("end of stream")

	// ErrSessionDead is returned when attaching to a session that has been
	// torn down. The caller should look the locator up again.
	ErrSessionDead = errors.New("session is dead")

	// ErrSpawn matches every *SpawnError via errors.Is.
	ErrSpawn = errors.New("upstream process could not be started")

	// ErrServiceClosed is returned by Service.Open after Shutdown.
	ErrServiceClosed = errors.New("stream service is shut down")

	// ErrSinkClosed is returned when writing to a sink that already ended.
	ErrSinkClosed = errors.New("sink closed")

	// ErrSinkOverflow is returned when a client falls too far behind.
	ErrSinkOverflow = errors.New("sink queue full")
)

// SpawnError reports that the converter for Locator could not be launched.
type SpawnError struct {
	Locator Locator
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("start upstream for %s: %v", e.Locator, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawn, e.Err}
}

// SinkWriteError reports a failed write to a client connection.
type SinkWriteError struct {
	Err error
}

func (e *SinkWriteError) Error() string {
	return "write to client: " + e.Err.Error()
}

func (e *SinkWriteError) Unwrap() error {
	return e.Err
}

// Info is a point-in-time view of a session, used by the admin listing.
type Info struct {
	ID        string    `json:"id"`
	Locator   Locator   `json:"locator"`
	Shared    bool      `json:"shared"`
	State     string    `json:"state"`
	Sinks     int       `json:"sinks"`
	Bytes     int64     `json:"bytes"`
	StartedAt time.Time `json:"started_at"`
}
