// Package engine defines the narrow call surface of an external, stateful
// compute engine. The engine is reached only through an opaque Handle; every
// call returns a two-slot Output holding either a success payload or an
// encoded error payload.
package engine

import (
	"fmt"
	"sync"
)

// Handle is an opaque reference to engine-side session state. The zero value
// means "no session".
type Handle uint64

// Output is the raw two-slot result of an engine call. A nil slice means the
// slot is absent; an empty non-nil Data is a successful call with no payload.
type Output struct {
	Data []byte
	Err  []byte
}

// Success builds an Output whose success slot is present.
func Success(data []byte) Output {
	if data == nil {
		data = []byte{}
	}
	return Output{Data: data}
}

// Failure builds an Output whose error slot is present.
func Failure(errPayload []byte) Output {
	if errPayload == nil {
		errPayload = []byte{}
	}
	return Output{Err: errPayload}
}

// WireError is returned by OpenSession when the engine refuses to create a
// session. Payload holds the encoded error exactly as the engine produced it.
type WireError struct {
	Payload []byte
}

func (e *WireError) Error() string {
	return fmt.Sprintf("engine: open session refused: %s", string(e.Payload))
}

// Engine is implemented by every engine backend.
type Engine interface {
	// Init performs one-time native setup. Implementations must make it
	// idempotent; see Loader.
	Init() error
	OpenSession(config []byte) (Handle, error)
	CloseSession(h Handle)
	Invoke(h Handle, service, method uint32, input []byte) Output
	RunDBCommand(h Handle, input []byte) Output
	BeginStream(h Handle, input []byte) Output
	NextSlice(h Handle, seq int32, start int32) Output
	CancelStream(h Handle, seq int32)
	CancelAllStreams(h Handle)
}

// Loader runs a setup function at most once and remembers its result.
type Loader struct {
	once sync.Once
	err  error
}

// Load runs fn on the first call and returns its error on every call.
func (l *Loader) Load(fn func() error) error {
	l.once.Do(func() {
		l.err = fn()
	})
	return l.err
}
