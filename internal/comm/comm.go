// Package comm implements the collective operations a crossfade run is built
// on: broadcast, scatter, gather and barrier between N participants that do
// not share memory.
//
// Design:
//   - Star topology: rank 0 (the coordinator) holds one point-to-point Link
//     per worker; every worker holds a single Link to rank 0.
//   - Every collective blocks until all participants reach the matching call.
//   - Each collective bumps a sequence number on every participant. A message
//     whose op or sequence does not match the receiver's call is reported as
//     ErrDesync instead of being silently misread.
//   - Payloads are always copied between participants.
package comm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
)

// Root is the rank that roots every collective.
const Root = 0

var (
	// ErrDesync means two participants disagree on which collective is running.
	ErrDesync = errors.New("collective sequence mismatch")
	// ErrClosed is returned by operations on a closed link or communicator.
	ErrClosed = errors.New("communicator closed")
)

// Op identifies the collective a message belongs to.
type Op uint8

const (
	OpBcast Op = iota + 1
	OpScatter
	OpGather
	OpBarrier
)

func (o Op) String() string {
	switch o {
	case OpBcast:
		return "bcast"
	case OpScatter:
		return "scatter"
	case OpGather:
		return "gather"
	case OpBarrier:
		return "barrier"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Message is one point-to-point transfer.
type Message struct {
	Op      Op     `msgpack:"op"`
	Seq     uint64 `msgpack:"seq"`
	Payload []byte `msgpack:"payload"`
}

// Link is a bidirectional point-to-point channel between a worker and the root.
type Link interface {
	Send(ctx context.Context, m Message) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}

// Communicator is the set of collectives available to one participant.
// Only the root's arguments are read for send buffers and layouts; other
// ranks may pass nil.
type Communicator interface {
	Rank() int
	Size() int
	// Bcast sends payload from the root to every rank and returns it on all.
	Bcast(ctx context.Context, payload []byte) ([]byte, error)
	// Scatterv sends send[displs[r]:displs[r]+counts[r]] to rank r and returns
	// the caller's own part.
	Scatterv(ctx context.Context, send []byte, counts, displs []int) ([]byte, error)
	// Gatherv collects every rank's local slice into recv at displs[r] on the root.
	Gatherv(ctx context.Context, local, recv []byte, counts, displs []int) error
	// Barrier returns once every rank has entered it.
	Barrier(ctx context.Context) error
}

// Comm is a Communicator over a star of Links.
type Comm struct {
	rank  int
	size  int
	peers []Link // root only, indexed by rank, peers[Root] is nil
	up    Link   // workers only
	seq   uint64

	closeOnce sync.Once
	closeErr  error
}

// NewRoot returns the root's communicator. links[i] connects to rank i+1.
func NewRoot(links []Link) *Comm {
	peers := make([]Link, len(links)+1)
	copy(peers[1:], links)
	return &Comm{rank: Root, size: len(peers), peers: peers}
}

// NewPeer returns the communicator of a non-root rank connected to the root by up.
func NewPeer(rank, size int, up Link) (*Comm, error) {
	if rank <= Root || rank >= size {
		return nil, fmt.Errorf("rank %d out of range for size %d", rank, size)
	}
	return &Comm{rank: rank, size: size, up: up}, nil
}

func (c *Comm) Rank() int { return c.rank }
func (c *Comm) Size() int { return c.size }

func (c *Comm) isRoot() bool { return c.rank == Root }

func (c *Comm) next() uint64 {
	c.seq++
	return c.seq
}

func (c *Comm) recv(ctx context.Context, l Link, from int, op Op, seq uint64) ([]byte, error) {
	m, err := l.Recv(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s #%d: receive from rank %d: %w", op, seq, from, err)
	}
	if m.Op != op || m.Seq != seq {
		return nil, fmt.Errorf("%w: rank %d expected %s #%d from rank %d, got %s #%d",
			ErrDesync, c.rank, op, seq, from, m.Op, m.Seq)
	}
	return m.Payload, nil
}

func (c *Comm) send(ctx context.Context, l Link, to int, op Op, seq uint64, payload []byte) error {
	if err := l.Send(ctx, Message{Op: op, Seq: seq, Payload: payload}); err != nil {
		return fmt.Errorf("%s #%d: send to rank %d: %w", op, seq, to, err)
	}
	return nil
}

// Bcast implements Communicator.
func (c *Comm) Bcast(ctx context.Context, payload []byte) ([]byte, error) {
	seq := c.next()
	if !c.isRoot() {
		return c.recv(ctx, c.up, Root, OpBcast, seq)
	}
	for r := 1; r < c.size; r++ {
		if err := c.send(ctx, c.peers[r], r, OpBcast, seq, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// Scatterv implements Communicator.
func (c *Comm) Scatterv(ctx context.Context, send []byte, counts, displs []int) ([]byte, error) {
	seq := c.next()
	if !c.isRoot() {
		return c.recv(ctx, c.up, Root, OpScatter, seq)
	}
	if err := checkLayout(c.size, len(send), counts, displs); err != nil {
		return nil, fmt.Errorf("scatter #%d: %w", seq, err)
	}
	for r := 1; r < c.size; r++ {
		part := send[displs[r] : displs[r]+counts[r]]
		if err := c.send(ctx, c.peers[r], r, OpScatter, seq, part); err != nil {
			return nil, err
		}
	}
	return bytes.Clone(send[displs[Root] : displs[Root]+counts[Root]]), nil
}

// Gatherv implements Communicator.
func (c *Comm) Gatherv(ctx context.Context, local, recv []byte, counts, displs []int) error {
	seq := c.next()
	if !c.isRoot() {
		return c.send(ctx, c.up, Root, OpGather, seq, local)
	}
	if err := checkLayout(c.size, len(recv), counts, displs); err != nil {
		return fmt.Errorf("gather #%d: %w", seq, err)
	}
	if len(local) != counts[Root] {
		return fmt.Errorf("gather #%d: root contributed %d bytes, expected %d", seq, len(local), counts[Root])
	}
	copy(recv[displs[Root]:], local)

	for r := 1; r < c.size; r++ {
		part, err := c.recv(ctx, c.peers[r], r, OpGather, seq)
		if err != nil {
			return err
		}
		if len(part) != counts[r] {
			return fmt.Errorf("gather #%d: rank %d sent %d bytes, expected %d", seq, r, len(part), counts[r])
		}
		copy(recv[displs[r]:], part)
	}
	return nil
}

// Barrier implements Communicator.
func (c *Comm) Barrier(ctx context.Context) error {
	seq := c.next()
	if !c.isRoot() {
		if err := c.send(ctx, c.up, Root, OpBarrier, seq, nil); err != nil {
			return err
		}
		_, err := c.recv(ctx, c.up, Root, OpBarrier, seq)
		return err
	}
	for r := 1; r < c.size; r++ {
		if _, err := c.recv(ctx, c.peers[r], r, OpBarrier, seq); err != nil {
			return err
		}
	}
	for r := 1; r < c.size; r++ {
		if err := c.send(ctx, c.peers[r], r, OpBarrier, seq, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every link. Peers blocked in a collective with this rank
// return an error instead of waiting forever.
func (c *Comm) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.up != nil {
			errs = append(errs, c.up.Close())
		}
		for _, l := range c.peers {
			if l != nil {
				errs = append(errs, l.Close())
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// checkLayout validates per-rank counts and displacements against a buffer.
func checkLayout(size, bufLen int, counts, displs []int) error {
	if len(counts) != size || len(displs) != size {
		return fmt.Errorf("layout has %d counts and %d displacements for %d ranks", len(counts), len(displs), size)
	}
	for r := 0; r < size; r++ {
		if counts[r] < 0 || displs[r] < 0 || displs[r]+counts[r] > bufLen {
			return fmt.Errorf("rank %d range [%d, %d) outside buffer of %d bytes", r, displs[r], displs[r]+counts[r], bufLen)
		}
	}
	return nil
}
