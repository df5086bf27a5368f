package backend

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// ErrStreamClosed is returned by a Stream used after Close.
var ErrStreamClosed = &Error{Kind: KindIllegalState, Message: "stream is closed", code: "stream_closed"}

// Slice is one page of a streamed query.
type Slice struct {
	Columns []string
	Rows    [][]any
	Start   int
	Done    bool
}

func (s *Session) slice(ctx context.Context, fn func(h engine.Handle) engine.Output) (types.StreamSlice, error) {
	var sl types.StreamSlice
	data, err := s.call(ctx, fn)
	if err != nil {
		return sl, err
	}
	err = decode(data, &sl, "stream slice")
	return sl, err
}

// BeginStreamedQuery starts a paginated cursor on the engine and returns its
// first slice together with the cursor's sequence number.
func (s *Session) BeginStreamedQuery(ctx context.Context, sql string, args ...any) (Slice, int32, error) {
	payload, err := encodeDB(types.NewQuery(sql, convertArgs(args), false))
	if err != nil {
		return Slice{}, 0, err
	}
	sl, err := s.slice(ctx, func(h engine.Handle) engine.Output {
		return s.engine.BeginStream(h, payload)
	})
	if err != nil {
		return Slice{}, 0, err
	}
	return Slice{Columns: sl.Columns, Rows: sl.Rows, Start: sl.Start, Done: sl.Done}, sl.Sequence, nil
}

// NextSlice fetches the page of cursor seq beginning at start. start must be
// the number of rows already delivered for seq; the engine rejects anything
// else.
func (s *Session) NextSlice(ctx context.Context, seq int32, start int) (Slice, error) {
	if start < 0 || start > math.MaxInt32 {
		return Slice{}, newError(KindInvalidInput, fmt.Sprintf("stream start %d out of range", start), nil)
	}
	sl, err := s.slice(ctx, func(h engine.Handle) engine.Output {
		return s.engine.NextSlice(h, seq, int32(start))
	})
	if err != nil {
		return Slice{}, err
	}
	return Slice{Columns: sl.Columns, Rows: sl.Rows, Start: sl.Start, Done: sl.Done}, nil
}

// Cancel releases cursor seq. Cancelling a finished or unknown cursor is not
// an error.
func (s *Session) Cancel(ctx context.Context, seq int32) error {
	return s.withHandle(ctx, func(h engine.Handle) error {
		s.engine.CancelStream(h, seq)
		return nil
	})
}

// CancelAll releases every cursor the session has open.
func (s *Session) CancelAll(ctx context.Context) error {
	return s.withHandle(ctx, func(h engine.Handle) error {
		s.engine.CancelAllStreams(h)
		return nil
	})
}

// Stream iterates a streamed query page by page.
type Stream struct {
	session *Session
	seq     int32
	columns []string
	pending [][]any
	next    int
	done    bool
	closed  bool
}

// Stream starts a streamed query and wraps its cursor. The caller must Close
// the stream to release the cursor early.
func (s *Session) Stream(ctx context.Context, sql string, args ...any) (*Stream, error) {
	first, seq, err := s.BeginStreamedQuery(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return &Stream{
		session: s,
		seq:     seq,
		columns: first.Columns,
		pending: first.Rows,
		next:    first.Start + len(first.Rows),
		done:    first.Done,
	}, nil
}

// Sequence returns the engine's sequence number for the cursor.
func (st *Stream) Sequence() int32 {
	return st.seq
}

// Columns returns the column names reported with the first slice.
func (st *Stream) Columns() []string {
	return st.columns
}

// Next returns the next page of rows, or io.EOF once the cursor is drained.
func (st *Stream) Next(ctx context.Context) ([][]any, error) {
	if st.closed {
		return nil, ErrStreamClosed
	}
	if rows := st.pending; rows != nil {
		st.pending = nil
		if len(rows) > 0 {
			return rows, nil
		}
	}
	if st.done {
		return nil, io.EOF
	}

	sl, err := st.session.NextSlice(ctx, st.seq, st.next)
	if err != nil {
		return nil, err
	}
	st.next += len(sl.Rows)
	st.done = sl.Done
	if len(sl.Rows) == 0 {
		if st.done {
			return nil, io.EOF
		}
		return nil, newError(KindInternal, "engine returned an empty slice before the end of the stream", nil)
	}
	return sl.Rows, nil
}

// Close cancels the cursor. It is safe to call more than once.
func (st *Stream) Close(ctx context.Context) error {
	if st.closed {
		return nil
	}
	st.closed = true
	return st.session.Cancel(ctx, st.seq)
}
