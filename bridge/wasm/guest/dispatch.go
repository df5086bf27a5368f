package guest

import (
	"encoding/json"
	"errors"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// Dispatcher turns ABI calls into engine calls. The wasip1 exports use one
// package-level Dispatcher; it is exported so the translation can be
// exercised on any platform.
type Dispatcher struct {
	Buffers *Buffers
	Engine  engine.Engine
}

// NewDispatcher wraps eng with a fresh buffer table.
func NewDispatcher(eng engine.Engine) *Dispatcher {
	return &Dispatcher{Buffers: NewBuffers(), Engine: eng}
}

// result stores an Output in the buffer table and returns its word.
func (d *Dispatcher) result(out engine.Output) uint64 {
	switch {
	case out.Err != nil:
		handle, _ := d.Buffers.Put(out.Err)
		return PackResult(handle, true)
	case out.Data != nil:
		handle, _ := d.Buffers.Put(out.Data)
		return PackResult(handle, false)
	}
	return 0
}

func (d *Dispatcher) input(handle uint32) []byte {
	data, _ := d.Buffers.Take(handle)
	return data
}

// Open handles engine_open. Init runs first so the guest engine is set up
// before its first session.
func (d *Dispatcher) Open(in uint32) uint64 {
	config := d.input(in)
	if err := d.Engine.Init(); err != nil {
		return d.result(errorOutput(types.ErrKindInternal, err.Error()))
	}
	h, err := d.Engine.OpenSession(config)
	if err != nil {
		var we *engine.WireError
		if errors.As(err, &we) {
			return d.result(engine.Failure(we.Payload))
		}
		return d.result(errorOutput(types.ErrKindInternal, err.Error()))
	}
	payload, _ := json.Marshal(struct {
		Handle uint64 `json:"handle"`
	}{uint64(h)})
	return d.result(engine.Success(payload))
}

// Close handles engine_close.
func (d *Dispatcher) Close(h uint64) {
	d.Engine.CloseSession(engine.Handle(h))
}

// Invoke handles engine_invoke.
func (d *Dispatcher) Invoke(h uint64, service, method, in uint32) uint64 {
	return d.result(d.Engine.Invoke(engine.Handle(h), service, method, d.input(in)))
}

// DBCommand handles engine_db_command.
func (d *Dispatcher) DBCommand(h uint64, in uint32) uint64 {
	return d.result(d.Engine.RunDBCommand(engine.Handle(h), d.input(in)))
}

// BeginStream handles engine_begin_stream.
func (d *Dispatcher) BeginStream(h uint64, in uint32) uint64 {
	return d.result(d.Engine.BeginStream(engine.Handle(h), d.input(in)))
}

// NextSlice handles engine_next_slice.
func (d *Dispatcher) NextSlice(h uint64, seq, start int32) uint64 {
	return d.result(d.Engine.NextSlice(engine.Handle(h), seq, start))
}

// CancelStream handles engine_cancel_stream.
func (d *Dispatcher) CancelStream(h uint64, seq int32) {
	d.Engine.CancelStream(engine.Handle(h), seq)
}

// CancelAll handles engine_cancel_all.
func (d *Dispatcher) CancelAll(h uint64) {
	d.Engine.CancelAllStreams(engine.Handle(h))
}

func errorOutput(kind, message string) engine.Output {
	payload, err := json.Marshal(types.BackendError{Kind: kind, Message: message})
	if err != nil {
		payload = []byte(`{"kind":"internal","message":"guest failed to encode error"}`)
	}
	return engine.Failure(payload)
}
