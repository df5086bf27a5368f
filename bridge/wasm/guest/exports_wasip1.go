//go:build wasip1

package guest

import (
	"unsafe"

	"github.com/tomyedwab/enginebridge/bridge/engine"
)

var dispatcher = NewDispatcher(nil)

// Serve installs eng as the engine behind the module's exports. Call it from
// an init function so it runs during _initialize.
func Serve(eng engine.Engine) {
	dispatcher.Engine = eng
}

func pointer(data []byte) uint32 {
	if len(data) == 0 {
		return 0
	}
	return uint32(uintptr(unsafe.Pointer(&data[0])))
}

//go:wasmexport alloc_bytes
func allocBytes(size uint32) uint64 {
	handle, data := dispatcher.Buffers.Alloc(size)
	return PackAlloc(handle, pointer(data))
}

//go:wasmexport free_bytes
func freeBytes(handle uint32) {
	dispatcher.Buffers.Free(handle)
}

//go:wasmexport bytes_ptr
func bytesPtr(handle uint32) uint32 {
	return pointer(dispatcher.Buffers.Get(handle))
}

//go:wasmexport bytes_len
func bytesLen(handle uint32) uint32 {
	return uint32(len(dispatcher.Buffers.Get(handle)))
}

//go:wasmexport engine_open
func engineOpen(in uint32) uint64 {
	return dispatcher.Open(in)
}

//go:wasmexport engine_close
func engineClose(h uint64) {
	dispatcher.Close(h)
}

//go:wasmexport engine_invoke
func engineInvoke(h uint64, service, method, in uint32) uint64 {
	return dispatcher.Invoke(h, service, method, in)
}

//go:wasmexport engine_db_command
func engineDBCommand(h uint64, in uint32) uint64 {
	return dispatcher.DBCommand(h, in)
}

//go:wasmexport engine_begin_stream
func engineBeginStream(h uint64, in uint32) uint64 {
	return dispatcher.BeginStream(h, in)
}

//go:wasmexport engine_next_slice
func engineNextSlice(h uint64, seq, start int32) uint64 {
	return dispatcher.NextSlice(h, seq, start)
}

//go:wasmexport engine_cancel_stream
func engineCancelStream(h uint64, seq int32) {
	dispatcher.CancelStream(h, seq)
}

//go:wasmexport engine_cancel_all
func engineCancelAll(h uint64) {
	dispatcher.CancelAll(h)
}
