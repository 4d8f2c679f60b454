package stream

import (
	"context"
	"sync"
)

// DefaultSinkQueue is the default number of chunks a client may lag behind
// before it is dropped.
const DefaultSinkQueue = 256

// ClientSink is the Sink used for HTTP clients. The broadcast loop enqueues
// chunks without blocking; the request goroutine drains them with Pump.
// A client that lets the queue fill up is failed with ErrSinkOverflow.
type ClientSink struct {
	queue chan []byte
	done  chan struct{}
	once  sync.Once
	err   error
}

// NewClientSink returns a sink buffering up to size chunks.
// size <= 0 means DefaultSinkQueue.
func NewClientSink(size int) *ClientSink {
	if size <= 0 {
		size = DefaultSinkQueue
	}
	return &ClientSink{
		queue: make(chan []byte, size),
		done:  make(chan struct{}),
	}
}

// Write implements Sink.Write.
func (c *ClientSink) Write(chunk []byte) error {
	select {
	case <-c.done:
		return ErrSinkClosed
	default:
	}
	select {
	case c.queue <- chunk:
		return nil
	default:
		c.finish(ErrSinkOverflow)
		return ErrSinkOverflow
	}
}

// Close implements Sink.Close. Chunks already queued are still delivered.
func (c *ClientSink) Close() {
	c.finish(nil)
}

// Done is closed when the sink has ended, gracefully or not.
func (c *ClientSink) Done() <-chan struct{} {
	return c.done
}

// Err returns why the sink ended: nil for a graceful close or while the sink
// is still open.
func (c *ClientSink) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *ClientSink) finish(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Pump passes queued chunks to write until ctx is done, the sink ends, or
// write fails. After a graceful close the remaining queue is flushed and
// Pump returns nil, unless ctx ends first. A failed write ends the sink and is returned as a
// *SinkWriteError.
func (c *ClientSink) Pump(ctx context.Context, write func([]byte) error) error {
	for {
		select {
		case <-ctx.Done():
			c.finish(ctx.Err())
			return ctx.Err()
		case chunk := <-c.queue:
			if err := write(chunk); err != nil {
				c.finish(err)
				return &SinkWriteError{Err: err}
			}
		case <-c.done:
			if err := c.Err(); err != nil {
				return err
			}
			return c.drain(ctx, write)
		}
	}
}

// drain flushes what is left in the queue, giving up once ctx is done.
func (c *ClientSink) drain(ctx context.Context, write func([]byte) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case chunk := <-c.queue:
			if err := write(chunk); err != nil {
				return &SinkWriteError{Err: err}
			}
		default:
			return nil
		}
	}
}
