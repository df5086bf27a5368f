package wasm

import "github.com/tomyedwab/enginebridge/bridge/wasm/guest"

// Exports the guest module must provide.
const (
	exportAlloc       = "alloc_bytes"
	exportFree        = "free_bytes"
	exportBytesPtr    = "bytes_ptr"
	exportBytesLen    = "bytes_len"
	exportOpen        = "engine_open"
	exportClose       = "engine_close"
	exportInvoke      = "engine_invoke"
	exportDBCommand   = "engine_db_command"
	exportBeginStream = "engine_begin_stream"
	exportNextSlice   = "engine_next_slice"
	exportCancel      = "engine_cancel_stream"
	exportCancelAll   = "engine_cancel_all"
)

var requiredExports = []string{
	exportAlloc, exportFree, exportBytesPtr, exportBytesLen,
	exportOpen, exportClose, exportInvoke, exportDBCommand,
	exportBeginStream, exportNextSlice, exportCancel, exportCancelAll,
}

// Result words follow the layout in package guest.
var (
	splitResult = guest.SplitResult
	splitAlloc  = guest.SplitAlloc
)

// openResponse is the success payload of engine_open.
type openResponse struct {
	Handle uint64 `json:"handle"`
}
