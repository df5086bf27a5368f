package backend

import (
	"context"
	"fmt"

	"github.com/tomyedwab/enginebridge/bridge/types"
)

// TxState is the transaction state of a Session.
type TxState int

const (
	TxIdle TxState = iota
	TxActive
)

func (s TxState) String() string {
	if s == TxActive {
		return "active"
	}
	return "idle"
}

// TxState reports whether a transaction currently holds the guard.
func (s *Session) TxState() TxState {
	if s.guard.owner.Load() != nil {
		return TxActive
	}
	return TxIdle
}

// InTx reports whether ctx owns the session's active transaction.
func (s *Session) InTx(ctx context.Context) bool {
	return s.guard.owns(ctx)
}

// Begin starts a transaction and keeps the guard until Commit or Rollback.
// Statements must be issued with the returned context; calls made with any
// other context wait for the transaction to end. Begin with a context that
// already owns the transaction returns ErrTransactionActive; transactions do
// not nest. On error the input context is returned unchanged.
func (s *Session) Begin(ctx context.Context) (context.Context, error) {
	if s.guard.owns(ctx) {
		return ctx, ErrTransactionActive
	}
	release, err := s.guard.acquire(ctx)
	if err != nil {
		return ctx, err
	}

	h, err := s.current()
	if err != nil {
		release()
		return ctx, err
	}
	if _, err := s.runDB(h, types.NewControl(types.KindBegin)); err != nil {
		release()
		return ctx, err
	}

	tok := &txToken{id: s.txSeq.Add(1)}
	s.guard.owner.Store(tok)
	s.logger.Debug("Transaction started", "tx", tok.id)
	return context.WithValue(ctx, txKey{}, tok), nil
}

// Commit ends the transaction owned by ctx. The guard is released even when
// the commit itself fails. When several goroutines end the same transaction,
// one of them does it and the others get ErrNoTransaction.
func (s *Session) Commit(ctx context.Context) error {
	return s.endTx(ctx, types.KindCommit)
}

// Rollback aborts the transaction owned by ctx. The guard is released even
// when the rollback itself fails.
func (s *Session) Rollback(ctx context.Context) error {
	return s.endTx(ctx, types.KindRollback)
}

func (s *Session) endTx(ctx context.Context, kind types.DBKind) error {
	tok := tokenFrom(ctx)
	if !s.guard.claim(tok) {
		return ErrNoTransaction
	}
	defer s.guard.finish()

	h, err := s.current()
	if err != nil {
		return err
	}
	if _, err := s.runDB(h, types.NewControl(kind)); err != nil {
		s.logger.Warn("Transaction end failed", "tx", tok.id, "kind", string(kind), "error", err)
		return err
	}
	s.logger.Debug("Transaction ended", "tx", tok.id, "kind", string(kind))
	return nil
}

// Transact runs fn inside a transaction, committing when it returns nil and
// rolling back when it returns an error or panics.
func (s *Session) Transact(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	txCtx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = s.Rollback(txCtx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := s.Rollback(txCtx); rbErr != nil {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}
	return s.Commit(txCtx)
}
