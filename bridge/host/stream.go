package host

import (
	"fmt"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// cursor holds a materialized result and how far it has been delivered.
type cursor struct {
	columns []string
	rows    [][]any
	pos     int
}

func (s *session) handleBeginStream(req *types.DBRequest) engine.Output {
	if s.col == nil {
		return failure(types.ErrKindInvalidInput, "collection not open")
	}
	resp, err := s.runQuery(req.SQL, req.Args, false)
	if err != nil {
		return dbFailure("query failed", err)
	}

	s.nextSeq++
	seq := s.nextSeq
	c := &cursor{columns: resp.Columns, rows: resp.Rows}
	s.cursors[seq] = c

	slice := c.page(s.pageSize)
	slice.Sequence = seq
	slice.Columns = c.columns
	return marshalResponse(slice)
}

func (s *session) handleNextSlice(seq int32, start int) engine.Output {
	c, ok := s.cursors[seq]
	if !ok {
		return failure(types.ErrKindNotFound, fmt.Sprintf("stream not found: %d", seq))
	}
	if start != c.pos {
		return failure(types.ErrKindInvalidInput, fmt.Sprintf("slice start %d does not match cursor position %d", start, c.pos))
	}
	slice := c.page(s.pageSize)
	slice.Sequence = seq
	return marshalResponse(slice)
}

// page returns up to size rows from the current position and advances it.
func (c *cursor) page(size int) types.StreamSlice {
	end := min(c.pos+size, len(c.rows))
	slice := types.StreamSlice{
		Start: c.pos,
		Rows:  c.rows[c.pos:end],
	}
	c.pos = end
	slice.Done = c.pos >= len(c.rows)
	return slice
}
