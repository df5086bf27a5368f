package backend

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// Config holds configuration options for a Session.
type Config struct {
	Logger   *slog.Logger // Optional, defaults to slog.Default()
	PageSize int          // Optional, rows per stream slice, defaults to types.DefaultPageSize
}

// Session owns one engine handle and the guard serializing its use.
type Session struct {
	engine   engine.Engine
	logger   *slog.Logger
	pageSize int

	guard  *guard
	handle atomic.Uint64 // engine.Handle, zero when closed

	// Written under the guard, read without it.
	collection atomic.Pointer[types.OpenCollectionRequest]

	txSeq atomic.Uint64
}

// New creates a closed Session over eng.
func New(eng engine.Engine, config Config) *Session {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = types.DefaultPageSize
	}
	return &Session{
		engine:   eng,
		logger:   logger,
		pageSize: pageSize,
		guard:    newGuard(),
	}
}

// Open loads the engine if needed and opens a session on it.
func (s *Session) Open(ctx context.Context, preferredLanguages []string) error {
	release, err := s.guard.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if s.handle.Load() != 0 {
		return ErrSessionOpen
	}
	if err := s.engine.Init(); err != nil {
		return newError(KindInitialization, "engine setup failed", err)
	}

	langs := preferredLanguages
	if langs == nil {
		langs = []string{}
	}
	payload, err := json.Marshal(types.InitRequest{PreferredLanguages: langs, PageSize: s.pageSize})
	if err != nil {
		return newError(KindInitialization, "failed to encode init request", err)
	}

	h, err := s.engine.OpenSession(payload)
	if err != nil {
		e := newError(KindInitialization, "engine refused to open a session", err)
		var we *engine.WireError
		if errors.As(err, &we) {
			var be types.BackendError
			if json.Unmarshal(we.Payload, &be) == nil {
				e.EngineKind = be.Kind
				e.Diagnostic = be.Message
			}
		}
		return e
	}
	if h == 0 {
		return newError(KindInitialization, "engine returned an empty handle", nil)
	}

	s.handle.Store(uint64(h))
	s.logger.Debug("Session opened", "languages", langs, "pageSize", s.pageSize)
	return nil
}

// IsOpen reports whether the session currently holds a handle. It does not
// take the guard; operations re-check under it.
func (s *Session) IsOpen() bool {
	return s.handle.Load() != 0
}

// Close tears the session down. Closing a closed session does nothing.
// Called from inside the session's own transaction, it abandons the
// transaction and frees the guard.
func (s *Session) Close(ctx context.Context) error {
	if !s.IsOpen() {
		return nil
	}
	release, err := s.guard.acquire(ctx)
	if err != nil {
		return err
	}
	// Holding the call slot, nobody else can end an owned transaction.
	tok := tokenFrom(ctx)
	owned := tok != nil && s.guard.owner.CompareAndSwap(tok, nil)
	defer func() {
		release()
		if owned {
			s.guard.unlock()
		}
	}()

	// Mark closed before teardown so nothing observes a half-torn handle.
	h := engine.Handle(s.handle.Swap(0))
	if h == 0 {
		return nil
	}
	s.collection.Store(nil)
	s.engine.CloseSession(h)
	s.logger.Debug("Session closed", "abandonedTx", owned)
	return nil
}

// current returns the live handle. Callers must hold the guard.
func (s *Session) current() (engine.Handle, error) {
	h := engine.Handle(s.handle.Load())
	if h == 0 {
		return 0, ErrSessionClosed
	}
	return h, nil
}
