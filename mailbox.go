package mqttclient

import (
	"context"
	"sync"
)

// command is a request marshalled onto the connection loop.
type command interface {
	// fail resolves the command's token when the loop will never run it.
	fail(err error)
}

type publishCommand struct {
	msg   *Message
	token *PublishToken
}

func (c *publishCommand) fail(err error) { c.token.complete(err) }

type subscribeCommand struct {
	subs    []Subscription
	handler MessageHandler
	props   Properties
	token   *SubscribeToken
}

func (c *subscribeCommand) fail(err error) { c.token.complete(err) }

type unsubscribeCommand struct {
	filters []string
	token   *UnsubscribeToken
}

func (c *unsubscribeCommand) fail(err error) { c.token.complete(err) }

type disconnectCommand struct {
	reason ReasonCode
}

func (c *disconnectCommand) fail(error) {}

// mailbox is the bounded command queue of one connection loop. Once closed,
// send fails fast and the commands still queued are handed back by close.
type mailbox struct {
	ch     chan command
	closed chan struct{}
	once   sync.Once

	mu       sync.RWMutex
	isClosed bool
}

func newMailbox(size int) *mailbox {
	return &mailbox{
		ch:     make(chan command, size),
		closed: make(chan struct{}),
	}
}

// send enqueues cmd, blocking while the mailbox is full.
func (m *mailbox) send(ctx context.Context, cmd command) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.isClosed {
		return ErrConnectionClosed
	}

	select {
	case m.ch <- cmd:
		return nil
	case <-m.closed:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *mailbox) receive() <-chan command {
	return m.ch
}

// close rejects further sends and returns the commands left in the queue.
func (m *mailbox) close() []command {
	// Wake blocked senders first so they release the read lock.
	m.once.Do(func() { close(m.closed) })

	m.mu.Lock()
	m.isClosed = true
	m.mu.Unlock()

	var left []command
	for {
		select {
		case cmd := <-m.ch:
			left = append(left, cmd)
		default:
			return left
		}
	}
}

// queue is an unbounded FIFO handed between goroutines. Producers never
// block; the consumer waits on ready and takes everything with drain.
type queue[T any] struct {
	mu     sync.Mutex
	items  []T
	notify chan struct{}
	closed bool
}

func newQueue[T any]() *queue[T] {
	return &queue[T]{notify: make(chan struct{}, 1)}
}

// push appends v and reports false if the queue is closed.
func (q *queue[T]) push(v T) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// ready fires after a push or close.
func (q *queue[T]) ready() <-chan struct{} {
	return q.notify
}

// drain takes all queued items and reports whether the queue is closed.
func (q *queue[T]) drain() ([]T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	return items, q.closed
}

func (q *queue[T]) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
