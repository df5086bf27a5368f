package backend

import (
	"errors"
	"fmt"

	"github.com/tomyedwab/enginebridge/bridge/types"
)

// ErrorKind represents the category of a session error
type ErrorKind int

const (
	// KindBackend is an engine error whose kind this package does not model
	KindBackend ErrorKind = iota
	// KindInitialization means engine setup or session open failed
	KindInitialization
	// KindSessionClosed means the operation needs an open session
	KindSessionClosed
	// KindProtocolDecode means the engine returned an unparseable payload
	KindProtocolDecode
	// KindStorage is a data-layer failure reported by the engine
	KindStorage
	// KindInternal means the engine broke its call contract
	KindInternal
	// KindNotFound means the engine has no object with the given id
	KindNotFound
	// KindInvalidInput means the engine rejected the request
	KindInvalidInput
	// KindIllegalState means the call is not valid in the session's state
	KindIllegalState
	// KindCollectionOpen means the collection could not be opened
	KindCollectionOpen
	// KindCollectionClose means the collection could not be closed
	KindCollectionClose
)

var kindNames = map[ErrorKind]string{
	KindBackend:         "backend",
	KindInitialization:  "initialization",
	KindSessionClosed:   "session closed",
	KindProtocolDecode:  "protocol decode",
	KindStorage:         "storage",
	KindInternal:        "internal",
	KindNotFound:        "not found",
	KindInvalidInput:    "invalid input",
	KindIllegalState:    "illegal state",
	KindCollectionOpen:  "collection open",
	KindCollectionClose: "collection close",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is the typed error returned by every Session operation.
type Error struct {
	Kind    ErrorKind
	Message string
	// Diagnostic is the engine's original text for storage failures.
	Diagnostic string
	// EngineKind is the raw kind string when the error came from the engine.
	EngineKind string
	Cause      error

	// code narrows a sentinel to one condition within its kind.
	code string
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := "backend: " + e.Message
	if e.Diagnostic != "" && e.Diagnostic != e.Message {
		msg += ": " + e.Diagnostic
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so the kind
// sentinels below match any error of their kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.code == "" || t.code == e.code)
}

// Sentinels for errors.Is.
var (
	ErrInitialization  = &Error{Kind: KindInitialization, Message: "initialization failed"}
	ErrSessionClosed   = &Error{Kind: KindSessionClosed, Message: "session is closed"}
	ErrProtocolDecode  = &Error{Kind: KindProtocolDecode, Message: "malformed engine payload"}
	ErrStorage         = &Error{Kind: KindStorage, Message: "storage error"}
	ErrInternal        = &Error{Kind: KindInternal, Message: "engine contract violated"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrInvalidInput    = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrIllegalState    = &Error{Kind: KindIllegalState, Message: "illegal state"}
	ErrCollectionOpen  = &Error{Kind: KindCollectionOpen, Message: "collection open failed"}
	ErrCollectionClose = &Error{Kind: KindCollectionClose, Message: "collection close failed"}

	ErrTransactionActive = &Error{Kind: KindIllegalState, Message: "transaction already active in this context", code: "tx_active"}
	ErrNoTransaction     = &Error{Kind: KindIllegalState, Message: "no transaction owned by this context", code: "no_tx"}
	ErrSessionOpen       = &Error{Kind: KindIllegalState, Message: "session already open", code: "session_open"}
	ErrCollectionActive  = &Error{Kind: KindIllegalState, Message: "a collection is already open", code: "collection_open"}
	ErrNoCollection      = &Error{Kind: KindIllegalState, Message: "no collection is open", code: "no_collection"}
)

func newError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// translate maps a decoded engine error onto the typed taxonomy.
func translate(be types.BackendError) *Error {
	e := &Error{Message: be.Message, Diagnostic: be.Diagnostic, EngineKind: be.Kind}
	switch be.Kind {
	case types.ErrKindDB:
		e.Kind = KindStorage
		if e.Diagnostic == "" {
			e.Diagnostic = be.Message
		}
	case types.ErrKindNotFound:
		e.Kind = KindNotFound
	case types.ErrKindInvalidInput:
		e.Kind = KindInvalidInput
	case types.ErrKindInternal:
		e.Kind = KindInternal
	default:
		e.Kind = KindBackend
	}
	if e.Message == "" {
		e.Message = be.Kind
	}
	return e
}

// KindOf returns the kind of err, or false when err is not a session error.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsSessionClosed checks if an error reports a closed session
func IsSessionClosed(err error) bool {
	return errors.Is(err, ErrSessionClosed)
}

// IsStorage checks if an error is an engine data-layer failure
func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

// IsNotFound checks if an error is a not-found failure
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Diagnostic returns the engine's original diagnostic text carried by err.
func Diagnostic(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Diagnostic
	}
	return ""
}
