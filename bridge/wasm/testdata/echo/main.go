//go:build wasip1

// Command echo is a small in-memory engine served over the wasm ABI. Queries
// echo their SQL back as a single row, and streams page through the numbers
// 1 to 5.
package main

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
	"github.com/tomyedwab/enginebridge/bridge/wasm/guest"
)

const streamRows = 5

type cursor struct {
	pos int
}

type session struct {
	pageSize int
	nextSeq  int32
	cursors  map[int32]*cursor
}

type echoEngine struct {
	mu       sync.Mutex
	next     engine.Handle
	sessions map[engine.Handle]*session
}

func failure(kind, message string) engine.Output {
	payload, _ := json.Marshal(types.BackendError{Kind: kind, Message: message})
	return engine.Failure(payload)
}

func success(v any) engine.Output {
	payload, err := json.Marshal(v)
	if err != nil {
		return failure(types.ErrKindInternal, err.Error())
	}
	return engine.Success(payload)
}

func (e *echoEngine) Init() error {
	return nil
}

func (e *echoEngine) OpenSession(config []byte) (engine.Handle, error) {
	var req types.InitRequest
	if err := json.Unmarshal(config, &req); err != nil {
		return 0, err
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = types.DefaultPageSize
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	e.sessions[e.next] = &session{pageSize: pageSize, cursors: map[int32]*cursor{}}
	return e.next, nil
}

func (e *echoEngine) CloseSession(h engine.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, h)
}

func (e *echoEngine) lookup(h engine.Handle) *session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[h]
}

func (e *echoEngine) Invoke(h engine.Handle, service, method uint32, input []byte) engine.Output {
	if e.lookup(h) == nil {
		return failure(types.ErrKindNotFound, "session not found")
	}
	return engine.Success(input)
}

func (e *echoEngine) RunDBCommand(h engine.Handle, input []byte) engine.Output {
	if e.lookup(h) == nil {
		return failure(types.ErrKindNotFound, "session not found")
	}
	var req types.DBRequest
	if err := types.Decode(input, &req); err != nil {
		return failure(types.ErrKindInvalidInput, err.Error())
	}
	if req.Kind != types.KindQuery {
		return engine.Success([]byte("{}"))
	}
	return success(types.QueryResponse{Columns: []string{"sql"}, Rows: [][]any{{req.SQL}}})
}

func (s *session) page(seq int32, c *cursor) types.StreamSlice {
	sl := types.StreamSlice{Sequence: seq, Start: c.pos, Rows: [][]any{}}
	for len(sl.Rows) < s.pageSize && c.pos < streamRows {
		c.pos++
		sl.Rows = append(sl.Rows, []any{c.pos})
	}
	sl.Done = c.pos == streamRows
	if sl.Done {
		delete(s.cursors, seq)
	}
	return sl
}

func (e *echoEngine) BeginStream(h engine.Handle, input []byte) engine.Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[h]
	if s == nil {
		return failure(types.ErrKindNotFound, "session not found")
	}
	s.nextSeq++
	c := &cursor{}
	s.cursors[s.nextSeq] = c
	sl := s.page(s.nextSeq, c)
	sl.Columns = []string{"n"}
	return success(sl)
}

func (e *echoEngine) NextSlice(h engine.Handle, seq int32, start int32) engine.Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[h]
	if s == nil {
		return failure(types.ErrKindNotFound, "session not found")
	}
	c := s.cursors[seq]
	if c == nil {
		return failure(types.ErrKindNotFound, fmt.Sprintf("stream not found: %d", seq))
	}
	if int(start) != c.pos {
		return failure(types.ErrKindInvalidInput, fmt.Sprintf("stream %d is at row %d, not %d", seq, c.pos, start))
	}
	return success(s.page(seq, c))
}

func (e *echoEngine) CancelStream(h engine.Handle, seq int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sessions[h]; s != nil {
		delete(s.cursors, seq)
	}
}

func (e *echoEngine) CancelAllStreams(h engine.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sessions[h]; s != nil {
		s.cursors = map[int32]*cursor{}
	}
}

func init() {
	guest.Serve(&echoEngine{sessions: map[engine.Handle]*session{}})
}

func main() {}
