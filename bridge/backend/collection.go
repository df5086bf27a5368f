package backend

import (
	"context"
	"errors"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// collectionError rewrites engine storage failures into the collection kind,
// keeping the engine's diagnostic text.
func collectionError(kind ErrorKind, message string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindStorage {
		return &Error{Kind: kind, Message: message, Diagnostic: e.Diagnostic, EngineKind: e.EngineKind, Cause: err}
	}
	return err
}

// OpenCollection opens the session's unit of work.
func (s *Session) OpenCollection(ctx context.Context, req types.OpenCollectionRequest) error {
	if req.Path == "" {
		return newError(KindInvalidInput, "collection path is required", nil)
	}
	payload, err := encode(req, "open collection request")
	if err != nil {
		return err
	}
	return s.withHandle(ctx, func(h engine.Handle) error {
		if s.collection.Load() != nil {
			return ErrCollectionActive
		}
		if _, err := unpack(s.engine.Invoke(h, types.ServiceCollection, types.MethodOpenCollection, payload)); err != nil {
			return collectionError(KindCollectionOpen, "failed to open collection "+req.Path, err)
		}
		opened := req
		s.collection.Store(&opened)
		s.logger.Info("Collection opened", "path", req.Path, "legacySchema", req.LegacySchema)
		return nil
	})
}

// CloseCollection cancels every outstanding stream and then closes the unit
// of work. The collection is considered closed even when the engine reports
// a failure.
func (s *Session) CloseCollection(ctx context.Context, downgrade bool) error {
	payload, err := encode(types.CloseCollectionRequest{Downgrade: downgrade}, "close collection request")
	if err != nil {
		return err
	}
	return s.withHandle(ctx, func(h engine.Handle) error {
		col := s.collection.Load()
		if col == nil {
			return ErrNoCollection
		}
		s.engine.CancelAllStreams(h)
		s.collection.Store(nil)

		if _, err := unpack(s.engine.Invoke(h, types.ServiceCollection, types.MethodCloseCollection, payload)); err != nil {
			s.logger.Warn("Collection close failed", "path", col.Path, "error", err)
			return collectionError(KindCollectionClose, "failed to close collection "+col.Path, err)
		}
		s.logger.Info("Collection closed", "path", col.Path, "downgrade", downgrade)
		return nil
	})
}

// CollectionPath returns the path of the open collection, or "".
func (s *Session) CollectionPath() string {
	if col := s.collection.Load(); col != nil {
		return col.Path
	}
	return ""
}

// CollectionInfo asks the engine to describe the open collection.
func (s *Session) CollectionInfo(ctx context.Context) (types.CollectionInfo, error) {
	var info types.CollectionInfo
	data, err := s.Invoke(ctx, types.ServiceCollection, types.MethodCollectionInfo, []byte("{}"))
	if err != nil {
		return info, err
	}
	err = decode(data, &info, "collection info")
	return info, err
}

// CurrentLanguage returns the locale the engine chose from the preferred
// languages given to Open.
func (s *Session) CurrentLanguage(ctx context.Context) (string, error) {
	data, err := s.Invoke(ctx, types.ServiceI18n, types.MethodCurrentLanguage, []byte("{}"))
	if err != nil {
		return "", err
	}
	var resp types.LanguageResponse
	if err := decode(data, &resp, "language response"); err != nil {
		return "", err
	}
	return resp.Language, nil
}
