package common

import (
	"errors"
	"sync"
	"time"
)

// Errors that may occur when sending tasks to a worker.
var (
	ErrWorkerClosed  = errors.New("worker is closed")
	ErrWorkerTooBusy = errors.New("worker is already overloaded")
)

// Configuration for the worker.
type WorkerConfig[T any] struct {
	// The size of the bounded channel.
	ChannelSize int
	// Timeout after which `OnTimeout` is called. Zero disables the timeout.
	Timeout time.Duration
	// A closure that is called once `Timeout` is reached.
	OnTimeout func()
	// A closure that is executed upon reception of a task.
	OnTask func(T)
}

// We need to wrap the channel in a struct so that we can close it from the outside and
// check by the sender if the channel is closed (there is no elegant way to do it in Go).
type Worker[T any] struct {
	channel chan<- T
	done    <-chan struct{}
	mutex   sync.Mutex
	closed  bool
}

// Stop the worker unless already stopped. The tasks that are already queued are still processed.
func (c *Worker[T]) Stop() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !c.closed {
		close(c.channel)
		c.closed = true
	}
}

// A channel that is closed once the worker has processed all tasks after `Stop`.
func (c *Worker[T]) Done() <-chan struct{} {
	return c.done
}

// Send a task to the worker. Never blocks: returns `ErrWorkerTooBusy` if the queue
// is full and `ErrWorkerClosed` if the worker has been stopped.
func (c *Worker[T]) Send(task T) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrWorkerClosed
	}

	select {
	case c.channel <- task:
		return nil
	default:
		return ErrWorkerTooBusy
	}
}

// Starts a worker that executes `c.OnTask` for every task sent to it, one at a time. If configured,
// `c.OnTimeout` is executed whenever no tasks have been received for `c.Timeout`. The worker stops
// once the user calls `Stop` explicitly.
func StartWorker[T any](c WorkerConfig[T]) *Worker[T] {
	incoming := make(chan T, c.ChannelSize)
	done := make(chan struct{})

	go func() {
		defer close(done)

		for {
			var timeout <-chan time.Time
			if c.Timeout > 0 {
				timeout = time.After(c.Timeout)
			}

			select {
			case task, ok := <-incoming:
				if !ok {
					return
				}
				c.OnTask(task)
			case <-timeout:
				if c.OnTimeout != nil {
					c.OnTimeout()
				}
			}
		}
	}()

	return &Worker[T]{channel: incoming, done: done}
}
