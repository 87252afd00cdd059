package comm

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/andresmejia3/crossfade/internal/wire"
)

type recvResult struct {
	msg Message
	err error
}

// streamLink carries Messages over a byte stream pair, typically the pipes
// between the coordinator and a worker process.
type streamLink struct {
	w       *wire.Writer
	in      chan recvResult
	done    chan struct{}
	once    sync.Once
	closers []io.Closer
	err     error // sticky receive error, only touched by Recv
}

// NewStreamLink returns a Link that reads framed messages from r and writes
// them to w. Closing the link closes the given closers, usually the pipe
// ends, which unblocks the remote side.
func NewStreamLink(r io.Reader, w io.Writer, compress bool, closers ...io.Closer) Link {
	l := &streamLink{
		w:       wire.NewWriter(w, compress),
		in:      make(chan recvResult, 1),
		done:    make(chan struct{}),
		closers: closers,
	}
	go l.readLoop(wire.NewReader(r))
	return l
}

func (l *streamLink) readLoop(rd *wire.Reader) {
	for {
		var m Message
		err := rd.Read(&m)
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			err = ErrClosed
		}
		select {
		case l.in <- recvResult{msg: m, err: err}:
		case <-l.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (l *streamLink) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	return l.w.Write(m)
}

func (l *streamLink) Recv(ctx context.Context) (Message, error) {
	if l.err != nil {
		return Message{}, l.err
	}
	select {
	case res := <-l.in:
		if res.err != nil {
			l.err = res.err
			return Message{}, res.err
		}
		return res.msg, nil
	case <-l.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (l *streamLink) Close() error {
	var errs []error
	l.once.Do(func() {
		close(l.done)
		for _, c := range l.closers {
			if err := c.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
