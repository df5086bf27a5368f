// Package guest is the guest half of the wasm engine ABI. A Go program built
// for wasip1 calls Serve with an engine.Engine and the exported functions
// forward every host call to it.
//
// Byte buffers cross the module boundary by handle. The host asks the guest
// to allocate a buffer, writes into it and passes the handle; results come
// back as a result word naming a guest buffer that the host reads and frees.
//
// Guests are built as reactors so the runtime calls _initialize instead of
// main running to completion:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o engine.wasm ./cmd/myengine
package guest

import "sync"

// Result word layout: buffer handle in the low 32 bits, flags above it.
const (
	FlagError   uint64 = 1 << 32
	FlagPresent uint64 = 1 << 33
)

// PackResult builds the result word for a buffer handle.
func PackResult(handle uint32, isErr bool) uint64 {
	word := uint64(handle) | FlagPresent
	if isErr {
		word |= FlagError
	}
	return word
}

// SplitResult unpacks a result word. A word without FlagPresent carries no
// outcome.
func SplitResult(word uint64) (handle uint32, isErr bool, present bool) {
	return uint32(word), word&FlagError != 0, word&FlagPresent != 0
}

// PackAlloc builds the word returned by alloc_bytes.
func PackAlloc(handle uint32, ptr uint32) uint64 {
	return uint64(handle)<<32 | uint64(ptr)
}

// SplitAlloc unpacks the word returned by alloc_bytes.
func SplitAlloc(word uint64) (handle uint32, ptr uint32) {
	return uint32(word >> 32), uint32(word)
}

// Buffers keeps guest byte slices alive while the host holds their handles.
// Handle 0 is never issued.
type Buffers struct {
	mu   sync.Mutex
	next uint32
	byID map[uint32][]byte
}

// NewBuffers returns an empty table.
func NewBuffers() *Buffers {
	return &Buffers{next: 1, byID: make(map[uint32][]byte)}
}

// Alloc creates a zeroed buffer of size bytes.
func (b *Buffers) Alloc(size uint32) (uint32, []byte) {
	return b.Put(make([]byte, size))
}

// Put registers data and returns its handle.
func (b *Buffers) Put(data []byte) (uint32, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handle := b.next
	b.next++
	if b.next == 0 {
		b.next = 1
	}
	b.byID[handle] = data
	return handle, data
}

// Get returns the buffer for handle, or nil.
func (b *Buffers) Get(handle uint32) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.byID[handle]
}

// Take returns the buffer for handle and forgets it.
func (b *Buffers) Take(handle uint32) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.byID[handle]
	delete(b.byID, handle)
	return data, ok
}

// Free forgets handle. Unknown handles are ignored.
func (b *Buffers) Free(handle uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.byID, handle)
}

// Len reports how many buffers are live.
func (b *Buffers) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.byID)
}
