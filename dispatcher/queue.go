package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// NotifyFunc is called once when a message is available on a queue
type NotifyFunc func()

/*
Queue is a bounded FIFO of byte messages.

Send never blocks: a full queue rejects the message. Receive blocks until a
message arrives, the context is done or the queue is closed. Notify arms a
one-shot callback that fires on its own goroutine the next time a message is
available; it has to be armed again to hear about the following one.
*/
type Queue struct {
	name    string
	msgSize int
	ch      chan []byte
	done    chan struct{}

	mu     sync.Mutex
	notify NotifyFunc
	closed bool
	active int           // callbacks still running
	idle   chan struct{} // closed when active drops to zero
}

// NewQueue creates an unnamed queue. Most callers go through a Registry.
func NewQueue(name string, capacity, msgSize int) *Queue {
	return &Queue{
		name:    name,
		msgSize: msgSize,
		ch:      make(chan []byte, capacity),
		done:    make(chan struct{}),
	}
}

// Name returns the name the queue was created with
func (q *Queue) Name() string { return q.name }

// Cap returns the maximum number of pending messages
func (q *Queue) Cap() int { return cap(q.ch) }

// Len returns the number of pending messages
func (q *Queue) Len() int { return len(q.ch) }

/*
Send enqueues a copy of msg without blocking.
It returns ErrQueueFull if the queue is at capacity, ErrMessageTooLarge if msg
exceeds the queue's message size and ErrQueueClosed after Close.
*/
func (q *Queue) Send(msg []byte) error {
	if len(msg) > q.msgSize {
		return ErrMessageTooLarge
	}
	buf := append([]byte(nil), msg...)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- buf:
	default:
		return ErrQueueFull
	}

	if q.notify != nil {
		q.fireLocked()
	}
	return nil
}

// Receive dequeues the oldest message, blocking until one is available
func (q *Queue) Receive(ctx context.Context) ([]byte, error) {
	select {
	case <-q.done:
		return nil, ErrQueueClosed
	default:
	}

	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ReceiveTimeout dequeues the oldest message, waiting at most timeout.
// A timeout <= 0 does not wait at all. ErrQueueEmpty means nothing arrived.
func (q *Queue) ReceiveTimeout(timeout time.Duration) ([]byte, error) {
	select {
	case <-q.done:
		return nil, ErrQueueClosed
	default:
	}

	if timeout <= 0 {
		select {
		case msg := <-q.ch:
			return msg, nil
		default:
			return nil, ErrQueueEmpty
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-q.ch:
		return msg, nil
	case <-q.done:
		return nil, ErrQueueClosed
	case <-timer.C:
		return nil, ErrQueueEmpty
	}
}

/*
Notify registers fn to be called once when a message is available.

Only one registration can be armed at a time, a second one fails with
ErrAlreadyRegistered. Notify(nil) removes the current registration. If
messages are already pending, fn fires right away: a handler that drains one
message and re-arms keeps going until the queue is empty.
*/
func (q *Queue) Notify(fn NotifyFunc) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if fn == nil {
		q.notify = nil
		return nil
	}
	if q.closed {
		return ErrQueueClosed
	}
	if q.notify != nil {
		return ErrAlreadyRegistered
	}

	q.notify = fn
	if len(q.ch) > 0 {
		q.fireLocked()
	}
	return nil
}

// Armed reports whether a notification is registered
func (q *Queue) Armed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.notify != nil
}

// fireLocked consumes the registration and runs it asynchronously.
// q.mu must be held.
func (q *Queue) fireLocked() {
	fn := q.notify
	q.notify = nil
	if q.active == 0 {
		q.idle = make(chan struct{})
	}
	q.active++
	go func() {
		defer q.fired()
		fn()
	}()
}

func (q *Queue) fired() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	if q.active == 0 {
		close(q.idle)
	}
}

/*
Settle waits until no notification callback is running.
It returns an error if messages are still pending afterwards with nothing
armed to drain them.
*/
func (q *Queue) Settle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if q.active == 0 {
			q.mu.Unlock()
			break
		}
		idle := q.idle
		q.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return fmt.Errorf("settle %s: %w", q.name, ctx.Err())
		}
	}

	if n := q.Len(); n > 0 && !q.Armed() {
		return fmt.Errorf("settle %s: %d messages left with no notification armed", q.name, n)
	}
	return nil
}

// Close wakes blocked receivers and drops any registration.
// Pending messages are discarded with the queue.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.notify = nil
	close(q.done)
}
