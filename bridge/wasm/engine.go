// Package wasm implements engine.Engine on top of a WebAssembly guest run by
// wazero. The guest owns all session state; the host only moves byte buffers
// across the module boundary and unpacks result words.
package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// Config holds configuration options for the wasm engine.
type Config struct {
	Module []byte       // Compiled guest module
	Logger *slog.Logger // Optional, defaults to slog.Default()
	Stdout io.Writer    // Optional, guest stdout
	Stderr io.Writer    // Optional, guest stderr
}

// Engine forwards engine calls into a wasm guest. Guest calls are serialized.
type Engine struct {
	config Config
	logger *slog.Logger
	loader engine.Loader

	mu      sync.Mutex
	ctx     context.Context
	runtime wazero.Runtime
	module  api.Module
}

// New creates an engine for the given guest. Nothing is compiled until Init.
func New(config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{config: config, logger: logger, ctx: context.Background()}
}

// Init compiles and instantiates the guest once. Later calls return the
// first result.
func (e *Engine) Init() error {
	return e.loader.Load(e.instantiate)
}

func (e *Engine) instantiate() error {
	ctx := e.ctx
	r := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		r.Close(ctx)
		return fmt.Errorf("wasm: instantiate wasi: %w", err)
	}

	compiled, err := r.CompileModule(ctx, e.config.Module)
	if err != nil {
		r.Close(ctx)
		return fmt.Errorf("wasm: compile engine module: %w", err)
	}
	exports := compiled.ExportedFunctions()
	for _, name := range requiredExports {
		if _, ok := exports[name]; !ok {
			r.Close(ctx)
			return fmt.Errorf("wasm: engine module does not export %s", name)
		}
	}

	moduleConfig := wazero.NewModuleConfig().WithStartFunctions("_initialize")
	if e.config.Stdout != nil {
		moduleConfig = moduleConfig.WithStdout(e.config.Stdout)
	}
	if e.config.Stderr != nil {
		moduleConfig = moduleConfig.WithStderr(e.config.Stderr)
	}
	mod, err := r.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil {
		r.Close(ctx)
		return fmt.Errorf("wasm: instantiate engine module: %w", err)
	}
	if mod.Memory() == nil {
		r.Close(ctx)
		return fmt.Errorf("wasm: engine module does not export a memory")
	}

	e.mu.Lock()
	e.runtime = r
	e.module = mod
	e.mu.Unlock()
	e.logger.Info("Wasm engine loaded", "exports", len(exports))
	return nil
}

// Shutdown releases the runtime. The engine cannot be used afterwards.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runtime == nil {
		return nil
	}
	err := e.runtime.Close(e.ctx)
	e.runtime = nil
	e.module = nil
	return err
}

// OpenSession asks the guest for a new session.
func (e *Engine) OpenSession(config []byte) (engine.Handle, error) {
	out := e.withInput(config, func(in uint32) (uint64, error) {
		return e.call(exportOpen, uint64(in))
	})
	if out.Err != nil {
		return 0, &engine.WireError{Payload: out.Err}
	}
	if out.Data == nil {
		return 0, fmt.Errorf("wasm: engine_open returned no outcome")
	}
	var resp openResponse
	if err := json.Unmarshal(out.Data, &resp); err != nil {
		return 0, fmt.Errorf("wasm: failed to unmarshal open response: %w", err)
	}
	return engine.Handle(resp.Handle), nil
}

// CloseSession tears down a guest session.
func (e *Engine) CloseSession(h engine.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.call(exportClose, uint64(h)); err != nil {
		e.logger.Warn("Wasm engine_close failed", "handle", uint64(h), "error", err)
	}
}

// Invoke forwards a service method call.
func (e *Engine) Invoke(h engine.Handle, service, method uint32, input []byte) engine.Output {
	return e.withInput(input, func(in uint32) (uint64, error) {
		return e.call(exportInvoke, uint64(h), uint64(service), uint64(method), uint64(in))
	})
}

// RunDBCommand forwards a relational command.
func (e *Engine) RunDBCommand(h engine.Handle, input []byte) engine.Output {
	return e.withInput(input, func(in uint32) (uint64, error) {
		return e.call(exportDBCommand, uint64(h), uint64(in))
	})
}

// BeginStream forwards a streamed query.
func (e *Engine) BeginStream(h engine.Handle, input []byte) engine.Output {
	return e.withInput(input, func(in uint32) (uint64, error) {
		return e.call(exportBeginStream, uint64(h), uint64(in))
	})
}

// NextSlice fetches a page from a guest cursor.
func (e *Engine) NextSlice(h engine.Handle, seq int32, start int32) engine.Output {
	e.mu.Lock()
	defer e.mu.Unlock()
	word, err := e.call(exportNextSlice, uint64(h), api.EncodeI32(seq), api.EncodeI32(start))
	if err != nil {
		return trapFailure(err)
	}
	return e.readResult(word)
}

// CancelStream drops a guest cursor.
func (e *Engine) CancelStream(h engine.Handle, seq int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.call(exportCancel, uint64(h), api.EncodeI32(seq)); err != nil {
		e.logger.Warn("Wasm engine_cancel_stream failed", "seq", seq, "error", err)
	}
}

// CancelAllStreams drops every cursor of a guest session.
func (e *Engine) CancelAllStreams(h engine.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.call(exportCancelAll, uint64(h)); err != nil {
		e.logger.Warn("Wasm engine_cancel_all failed", "error", err)
	}
}

// withInput copies input into guest memory, runs fn with its buffer handle
// and reads back the result word.
func (e *Engine) withInput(input []byte, fn func(in uint32) (uint64, error)) engine.Output {
	e.mu.Lock()
	defer e.mu.Unlock()

	in, free, err := e.writeBytes(input)
	if err != nil {
		return trapFailure(err)
	}
	defer free()

	word, err := fn(in)
	if err != nil {
		return trapFailure(err)
	}
	return e.readResult(word)
}

// call runs a guest export. Callers must hold e.mu.
func (e *Engine) call(name string, params ...uint64) (uint64, error) {
	if e.module == nil {
		return 0, fmt.Errorf("wasm: engine not loaded")
	}
	fn := e.module.ExportedFunction(name)
	if fn == nil {
		return 0, fmt.Errorf("wasm: export %s not found", name)
	}
	results, err := fn.Call(e.ctx, params...)
	if err != nil {
		return 0, fmt.Errorf("wasm: %s: %w", name, err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

func (e *Engine) writeBytes(data []byte) (handle uint32, free func(), err error) {
	word, err := e.call(exportAlloc, uint64(len(data)))
	if err != nil {
		return 0, nil, err
	}
	handle, ptr := splitAlloc(word)
	free = func() {
		if _, err := e.call(exportFree, uint64(handle)); err != nil {
			e.logger.Warn("Wasm free_bytes failed", "handle", handle, "error", err)
		}
	}
	if len(data) > 0 && !e.module.Memory().Write(ptr, data) {
		free()
		return 0, nil, fmt.Errorf("wasm: memory write of %d bytes at %d out of range", len(data), ptr)
	}
	return handle, free, nil
}

// readResult copies the buffer named by a result word out of guest memory
// and frees it.
func (e *Engine) readResult(word uint64) engine.Output {
	handle, isErr, present := splitResult(word)
	if !present {
		return engine.Output{}
	}
	defer func() {
		if _, err := e.call(exportFree, uint64(handle)); err != nil {
			e.logger.Warn("Wasm free_bytes failed", "handle", handle, "error", err)
		}
	}()

	ptr, err := e.call(exportBytesPtr, uint64(handle))
	if err != nil {
		return trapFailure(err)
	}
	size, err := e.call(exportBytesLen, uint64(handle))
	if err != nil {
		return trapFailure(err)
	}
	buf, ok := e.module.Memory().Read(uint32(ptr), uint32(size))
	if !ok {
		return trapFailure(fmt.Errorf("wasm: memory read of %d bytes at %d out of range", size, ptr))
	}
	data := make([]byte, len(buf))
	copy(data, buf)

	if isErr {
		return engine.Failure(data)
	}
	return engine.Success(data)
}

// trapFailure reports a host-side failure to reach the guest as an internal
// engine error.
func trapFailure(err error) engine.Output {
	payload, mErr := json.Marshal(types.BackendError{Kind: types.ErrKindInternal, Message: err.Error()})
	if mErr != nil {
		payload = []byte(`{"kind":"internal","message":"wasm call failed"}`)
	}
	return engine.Failure(payload)
}
