package backend

import (
	"context"
	"fmt"
	"sync/atomic"
)

// txToken identifies one transaction. Only the context returned by Begin
// carries it, which is what makes that context the guard's owner.
type txToken struct {
	id uint64
}

type txKey struct{}

func tokenFrom(ctx context.Context) *txToken {
	tok, _ := ctx.Value(txKey{}).(*txToken)
	return tok
}

// guard serializes all handle access. sem is a one-slot semaphore so waiters
// can give up when their context ends. owner is the token of the transaction
// holding sem, if any. Callers sharing that transaction's context skip sem but
// still take calls, one engine call at a time.
type guard struct {
	sem   chan struct{}
	calls chan struct{}
	owner atomic.Pointer[txToken]
}

func newGuard() *guard {
	return &guard{sem: make(chan struct{}, 1), calls: make(chan struct{}, 1)}
}

// owns reports whether ctx belongs to the transaction holding the guard.
func (g *guard) owns(ctx context.Context) bool {
	tok := tokenFrom(ctx)
	return tok != nil && g.owner.Load() == tok
}

func wait(ctx context.Context, slot chan struct{}) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("backend: waiting for session: %w", err)
	}
	select {
	case slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("backend: waiting for session: %w", ctx.Err())
	}
}

// acquire blocks until the caller may use the handle. A context owning the
// active transaction only waits for the transaction's other calls to finish.
func (g *guard) acquire(ctx context.Context) (func(), error) {
	if tok := tokenFrom(ctx); tok != nil && g.owner.Load() == tok {
		if err := wait(ctx, g.calls); err != nil {
			return nil, err
		}
		if g.owner.Load() == tok {
			return g.unlockCall, nil
		}
		// The transaction ended while we waited.
		g.unlockCall()
	}
	if err := wait(ctx, g.sem); err != nil {
		return nil, err
	}
	return g.unlock, nil
}

func (g *guard) unlock() {
	<-g.sem
}

func (g *guard) unlockCall() {
	<-g.calls
}

// held reports whether some caller currently holds the guard.
func (g *guard) held() bool {
	return len(g.sem) == 1
}

// claim ends tok's ownership once its in-flight calls are done. Exactly one
// caller wins for a given token; on success the caller holds both slots and
// must call finish.
func (g *guard) claim(tok *txToken) bool {
	if tok == nil || g.owner.Load() != tok {
		return false
	}
	g.calls <- struct{}{}
	if !g.owner.CompareAndSwap(tok, nil) {
		g.unlockCall()
		return false
	}
	return true
}

// finish releases the slots taken by a successful claim.
func (g *guard) finish() {
	g.unlockCall()
	g.unlock()
}
