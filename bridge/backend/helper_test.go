package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// fakeEngine is a scripted engine that records every call it receives.
type fakeEngine struct {
	mu sync.Mutex

	initErr    error
	openErr    error
	initCalls  int
	nextHandle engine.Handle
	closed     []engine.Handle

	// events is the ordered log of calls, e.g. "db:query:SELECT 1".
	events   []string
	requests []types.DBRequest

	// Optional overrides.
	dbReply     func(req types.DBRequest) engine.Output
	invokeReply func(service, method uint32, input []byte) engine.Output
	streamReply func(req types.DBRequest) engine.Output
	sliceReply  func(seq, start int32) engine.Output
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{nextHandle: 41}
}

func (f *fakeEngine) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEngine) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeEngine) Requests() []types.DBRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.DBRequest(nil), f.requests...)
}

func (f *fakeEngine) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.initErr
}

func (f *fakeEngine) OpenSession(config []byte) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return 0, f.openErr
	}
	f.nextHandle++
	return f.nextHandle, nil
}

func (f *fakeEngine) CloseSession(h engine.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, h)
}

func (f *fakeEngine) Invoke(h engine.Handle, service, method uint32, input []byte) engine.Output {
	f.record(fmt.Sprintf("invoke:%d:%d", service, method))
	if f.invokeReply != nil {
		return f.invokeReply(service, method, input)
	}
	return engine.Success([]byte("{}"))
}

func (f *fakeEngine) RunDBCommand(h engine.Handle, input []byte) engine.Output {
	var req types.DBRequest
	if err := types.Decode(input, &req); err != nil {
		return errOutput(types.ErrKindInvalidInput, err.Error())
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.events = append(f.events, fmt.Sprintf("db:%s:%s", req.Kind, req.SQL))
	reply := f.dbReply
	f.mu.Unlock()

	if reply != nil {
		return reply(req)
	}
	if req.Kind == types.KindQuery {
		return engine.Success([]byte(`{"columns":["1"],"rows":[[1]]}`))
	}
	return engine.Success([]byte("{}"))
}

func (f *fakeEngine) BeginStream(h engine.Handle, input []byte) engine.Output {
	var req types.DBRequest
	if err := types.Decode(input, &req); err != nil {
		return errOutput(types.ErrKindInvalidInput, err.Error())
	}
	f.record("stream:begin:" + req.SQL)
	if f.streamReply != nil {
		return f.streamReply(req)
	}
	return engine.Success([]byte(`{"sequence":1,"start":0,"columns":["n"],"rows":[[1]],"done":false}`))
}

func (f *fakeEngine) NextSlice(h engine.Handle, seq int32, start int32) engine.Output {
	f.record(fmt.Sprintf("stream:next:%d:%d", seq, start))
	if f.sliceReply != nil {
		return f.sliceReply(seq, start)
	}
	return engine.Success([]byte(fmt.Sprintf(`{"sequence":%d,"start":%d,"rows":[],"done":true}`, seq, start)))
}

func (f *fakeEngine) CancelStream(h engine.Handle, seq int32) {
	f.record(fmt.Sprintf("stream:cancel:%d", seq))
}

func (f *fakeEngine) CancelAllStreams(h engine.Handle) {
	f.record("stream:cancel_all")
}

func errOutput(kind, message string) engine.Output {
	payload, _ := json.Marshal(types.BackendError{Kind: kind, Message: message})
	return engine.Failure(payload)
}

// openSession returns an open session over a fresh fake engine.
func openSession(t *testing.T) (*Session, *fakeEngine) {
	t.Helper()
	fake := newFakeEngine()
	s := New(fake, Config{})
	if err := s.Open(context.Background(), []string{"en"}); err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() {
		s.Close(context.Background())
	})
	return s, fake
}

func typesError(kind, message string) types.BackendError {
	return types.BackendError{Kind: kind, Message: message}
}
