// Package backend manages a session against an engine.Engine and dispatches
// every command through it.
//
// A Session owns at most one engine handle. The handle is written only by
// Open and Close and read by every other operation while holding the
// session's guard, so all handle access is serialized across goroutines.
//
// Usage:
//
//	s := backend.New(eng, backend.Config{Logger: logger})
//	if err := s.Open(ctx, []string{"en-US"}); err != nil {
//	    // handle error
//	}
//	defer s.Close(ctx)
//
//	err := s.OpenCollection(ctx, types.OpenCollectionRequest{Path: "collection.db"})
//	rows, err := s.Query(ctx, "SELECT id, name FROM notes WHERE id > ?", 10)
//
// Transactions:
//
// Begin takes the guard and keeps it until Commit or Rollback, which release
// it on every path, including failure of the commit or rollback call. Begin
// returns a derived context; statements issued with that context run under
// the held guard, while calls made with any other context block until the
// transaction ends. Calling Begin again with the owning context returns
// ErrTransactionActive instead of nesting.
//
//	txCtx, err := s.Begin(ctx)
//	if err != nil {
//	    return err
//	}
//	if _, err := s.Exec(txCtx, "UPDATE notes SET mod = ?", now); err != nil {
//	    s.Rollback(txCtx)
//	    return err
//	}
//	return s.Commit(txCtx)
//
// Transact wraps the same sequence around a function.
//
// Streaming:
//
// BeginStreamedQuery returns the first slice of a result and the sequence
// number of its engine-side cursor. NextSlice fetches later slices; the start
// index must equal the number of rows already delivered. Cancel releases one
// cursor and CancelAll releases every cursor. CloseCollection always cancels
// all cursors before closing the collection. Stream wraps a cursor and
// tracks the start index for the caller.
//
// Errors:
//
// Every failure is returned as an *Error whose Kind places it in the
// taxonomy. Use errors.Is with the Err* sentinels, or errors.As to get the
// engine's diagnostic text. Nothing is retried.
package backend
