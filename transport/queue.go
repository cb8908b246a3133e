package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"rc-vehicle-core/message"
)

var (
	// ErrTimeout is returned by Receiver.RecvTimeout when nothing arrived in time.
	ErrTimeout = errors.New("queue receive timed out")
	// ErrDisconnected is returned once every Sender is closed and the buffer is drained.
	ErrDisconnected = errors.New("queue disconnected")
	// ErrClosed is returned by Sender.Send after the handle was closed or the receiver went away.
	ErrClosed = errors.New("queue closed")
)

// queue is an unbounded, ordered, multi-producer single-consumer buffer of
// commands.
type queue struct {
	mu           sync.Mutex
	items        []message.Command
	senders      int
	receiverGone bool
	notify       chan struct{}
}

// Sender is a producer handle onto a queue. Clone it for every extra
// producer; the receiver is disconnected once all handles are closed.
type Sender struct {
	q      *queue
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// Receiver is the single consumer side of a queue.
type Receiver struct {
	q *queue
}

// NewQueue returns the producer and consumer ends of a new queue.
func NewQueue() (*Sender, *Receiver) {
	q := &queue{
		items:   make([]message.Command, 0, 16),
		senders: 1,
		notify:  make(chan struct{}, 1),
	}
	return &Sender{q: q}, &Receiver{q: q}
}

func (q *queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Send appends cmd to the queue. It never blocks.
func (s *Sender) Send(cmd message.Command) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	s.q.mu.Lock()
	if s.q.receiverGone {
		s.q.mu.Unlock()
		return ErrClosed
	}
	s.q.items = append(s.q.items, cmd)
	s.q.mu.Unlock()

	s.q.wake()
	return nil
}

// Clone returns a new producer handle for the same queue. Cloning a closed
// handle returns a closed handle, so a disconnected queue stays disconnected.
func (s *Sender) Clone() *Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c := &Sender{q: s.q, closed: true}
		c.once.Do(func() {})
		return c
	}

	s.q.mu.Lock()
	s.q.senders++
	s.q.mu.Unlock()
	return &Sender{q: s.q}
}

// Close releases this producer handle. Closing twice is a no-op.
func (s *Sender) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.q.mu.Lock()
		s.q.senders--
		s.q.mu.Unlock()

		s.q.wake()
	})
}

// TryRecv pops the oldest command without waiting.
func (r *Receiver) TryRecv() (message.Command, error) {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()

	if len(r.q.items) > 0 {
		cmd := r.q.items[0]
		r.q.items[0] = message.Command{}
		r.q.items = r.q.items[1:]
		if len(r.q.items) == 0 {
			r.q.items = r.q.items[:0:0]
		}
		return cmd, nil
	}
	if r.q.senders <= 0 {
		return message.Command{}, ErrDisconnected
	}
	return message.Command{}, ErrTimeout
}

// RecvTimeout waits up to d for the next command. It returns ErrTimeout when
// d elapses and ErrDisconnected when every Sender is closed and nothing is
// buffered.
func (r *Receiver) RecvTimeout(d time.Duration) (message.Command, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	return r.recv(context.Background(), timer.C)
}

// RecvTimeoutContext is RecvTimeout that also returns ctx.Err() as soon as
// ctx ends.
func (r *Receiver) RecvTimeoutContext(ctx context.Context, d time.Duration) (message.Command, error) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	return r.recv(ctx, timer.C)
}

func (r *Receiver) recv(ctx context.Context, deadline <-chan time.Time) (message.Command, error) {
	for {
		cmd, err := r.TryRecv()
		if !errors.Is(err, ErrTimeout) {
			return cmd, err
		}

		select {
		case <-r.q.notify:
		case <-deadline:
			// one last look so a command racing the timer is not lost
			cmd, err := r.TryRecv()
			if err == nil || errors.Is(err, ErrDisconnected) {
				return cmd, err
			}
			return message.Command{}, ErrTimeout
		case <-ctx.Done():
			return message.Command{}, ctx.Err()
		}
	}
}

// Len reports how many commands are buffered.
func (r *Receiver) Len() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return len(r.q.items)
}

// Close marks the consumer as gone; later sends fail with ErrClosed.
func (r *Receiver) Close() {
	r.q.mu.Lock()
	r.q.receiverGone = true
	r.q.items = nil
	r.q.mu.Unlock()
}
