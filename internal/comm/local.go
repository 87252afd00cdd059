package comm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
)

// chanLink is one end of an in-process link. Payloads are copied on send so
// the two ends never share a buffer.
type chanLink struct {
	in   <-chan Message
	out  chan<- Message
	done chan struct{} // shared by both ends
	once *sync.Once
}

func newChanPair() (*chanLink, *chanLink) {
	down := make(chan Message, 1)
	up := make(chan Message, 1)
	done := make(chan struct{})
	once := new(sync.Once)
	root := &chanLink{in: up, out: down, done: done, once: once}
	peer := &chanLink{in: down, out: up, done: done, once: once}
	return root, peer
}

func (l *chanLink) Send(ctx context.Context, m Message) error {
	m.Payload = bytes.Clone(m.Payload)
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.out <- m:
		return nil
	default:
	}
	select {
	case l.out <- m:
		return nil
	case <-l.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *chanLink) Recv(ctx context.Context) (Message, error) {
	select {
	case m := <-l.in:
		return m, nil
	case <-l.done:
	case <-ctx.Done():
	}
	// Messages sent before a close or cancel are still delivered.
	select {
	case m := <-l.in:
		return m, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, ErrClosed
}

func (l *chanLink) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// NewLocalWorld connects size in-process participants. The returned slice is
// indexed by rank. Each communicator must be driven by its own goroutine.
func NewLocalWorld(size int) ([]*Comm, error) {
	if size < 1 {
		return nil, fmt.Errorf("world size must be >= 1, got %d", size)
	}
	rootLinks := make([]Link, size-1)
	world := make([]*Comm, size)
	for r := 1; r < size; r++ {
		rootEnd, peerEnd := newChanPair()
		rootLinks[r-1] = rootEnd
		peer, err := NewPeer(r, size, peerEnd)
		if err != nil {
			return nil, err
		}
		world[r] = peer
	}
	world[Root] = NewRoot(rootLinks)
	return world, nil
}

// RunLocal runs fn once per rank of an in-process world of the given size,
// each on its own goroutine, and waits for all of them. The first failure
// cancels the others. The root's error is preferred because it carries the
// cause that was agreed on; otherwise the earliest error is returned.
func RunLocal(ctx context.Context, size int, fn func(ctx context.Context, c Communicator) error) error {
	world, err := NewLocalWorld(size)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, size)
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first error
	)
	for rank, c := range world {
		wg.Add(1)
		go func(rank int, c *Comm) {
			defer wg.Done()
			if err := fn(ctx, c); err != nil {
				mu.Lock()
				errs[rank] = err
				if first == nil {
					first = err
				}
				mu.Unlock()
				cancel()
				c.Close()
			}
		}(rank, c)
	}
	wg.Wait()

	for _, c := range world {
		c.Close()
	}

	if err := errs[Root]; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
		return err
	}
	return first
}
