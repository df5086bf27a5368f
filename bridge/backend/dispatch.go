package backend

import (
	"context"

	"github.com/tomyedwab/enginebridge/bridge/engine"
)

// withHandle runs fn against the live handle while holding the guard.
func (s *Session) withHandle(ctx context.Context, fn func(h engine.Handle) error) error {
	release, err := s.guard.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	h, err := s.current()
	if err != nil {
		return err
	}
	return fn(h)
}

// call dispatches one engine call under the guard and unpacks its result.
func (s *Session) call(ctx context.Context, fn func(h engine.Handle) engine.Output) ([]byte, error) {
	var data []byte
	err := s.withHandle(ctx, func(h engine.Handle) error {
		var err error
		data, err = unpack(fn(h))
		return err
	})
	return data, err
}

// Invoke calls a service method on the engine and returns its raw success
// payload.
func (s *Session) Invoke(ctx context.Context, service, method uint32, payload []byte) ([]byte, error) {
	return s.call(ctx, func(h engine.Handle) engine.Output {
		return s.engine.Invoke(h, service, method, payload)
	})
}
