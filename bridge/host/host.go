package host

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/text/language"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

// loader guards process-wide SQLite setup.
var loader engine.Loader

// Config holds configuration options for the SQLite engine.
type Config struct {
	Logger             *slog.Logger // Optional, defaults to slog.Default()
	SupportedLanguages []string     // Optional, defaults to DefaultLanguages
}

// DefaultLanguages are the locales the engine can serve when none are configured.
var DefaultLanguages = []string{"en", "en-GB", "de", "fr", "es", "ja", "pt-BR"}

// Engine serves engine sessions from SQLite databases.
// It manages per-session collections, transactions and stream cursors.
type Engine struct {
	logger    *slog.Logger
	supported []language.Tag
	matcher   language.Matcher

	mu       sync.Mutex
	sessions map[engine.Handle]*session
	nextID   atomic.Uint64
}

type session struct {
	mu       sync.Mutex
	id       string
	lang     language.Tag
	pageSize int
	col      *collection
	tx       *sqlx.Tx
	cursors  map[int32]*cursor
	nextSeq  int32
}

// New creates a new SQLite engine.
func New(config Config) (*Engine, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	names := config.SupportedLanguages
	if len(names) == 0 {
		names = DefaultLanguages
	}
	supported := make([]language.Tag, 0, len(names))
	for _, name := range names {
		tag, err := language.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("host: invalid supported language %q: %w", name, err)
		}
		supported = append(supported, tag)
	}
	return &Engine{
		logger:    logger,
		supported: supported,
		matcher:   language.NewMatcher(supported),
		sessions:  make(map[engine.Handle]*session),
	}, nil
}

// Init checks the SQLite library once per process.
func (e *Engine) Init() error {
	return loader.Load(func() error {
		version, number, _ := sqlite3.Version()
		if number == 0 {
			return fmt.Errorf("host: sqlite library unavailable")
		}
		e.logger.Debug("SQLite engine loaded", "sqliteVersion", version)
		return nil
	})
}

// OpenSession creates a session from a JSON-encoded types.InitRequest.
func (e *Engine) OpenSession(config []byte) (engine.Handle, error) {
	var req types.InitRequest
	if err := json.Unmarshal(config, &req); err != nil {
		payload, _ := marshalError(types.ErrKindInvalidInput, fmt.Sprintf("failed to unmarshal init request: %v", err))
		return 0, &engine.WireError{Payload: payload}
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = types.DefaultPageSize
	}

	s := &session{
		id:       uuid.NewString(),
		lang:     e.matchLanguage(req.PreferredLanguages),
		pageSize: pageSize,
		cursors:  make(map[int32]*cursor),
	}
	h := engine.Handle(e.nextID.Add(1))

	e.mu.Lock()
	e.sessions[h] = s
	e.mu.Unlock()

	e.logger.Debug("Engine session opened", "session", s.id, "language", s.lang.String())
	return h, nil
}

// CloseSession releases everything the session holds. Unknown handles are ignored.
func (e *Engine) CloseSession(h engine.Handle) {
	e.mu.Lock()
	s, ok := e.sessions[h]
	delete(e.sessions, h)
	e.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors = make(map[int32]*cursor)
	if err := s.closeCollection(false); err != nil {
		e.logger.Warn("Error closing collection during session teardown", "session", s.id, "error", err)
	}
	e.logger.Debug("Engine session closed", "session", s.id)
}

// Invoke dispatches a service method call.
func (e *Engine) Invoke(h engine.Handle, service, method uint32, input []byte) engine.Output {
	return e.withSession(h, func(s *session) engine.Output {
		switch service {
		case types.ServiceCollection:
			switch method {
			case types.MethodOpenCollection:
				return s.handleOpenCollection(input)
			case types.MethodCloseCollection:
				return s.handleCloseCollection(input)
			case types.MethodCollectionInfo:
				return s.handleCollectionInfo()
			}
		case types.ServiceI18n:
			if method == types.MethodCurrentLanguage {
				return marshalResponse(types.LanguageResponse{Language: s.lang.String()})
			}
		}
		return failure(types.ErrKindInvalidInput, fmt.Sprintf("unknown method %d/%d", service, method))
	})
}

// RunDBCommand executes a JSON-encoded types.DBRequest.
func (e *Engine) RunDBCommand(h engine.Handle, input []byte) engine.Output {
	return e.withSession(h, func(s *session) engine.Output {
		var req types.DBRequest
		if err := types.Decode(input, &req); err != nil {
			return failure(types.ErrKindInvalidInput, fmt.Sprintf("failed to unmarshal request: %v", err))
		}
		if err := req.Validate(); err != nil {
			return failure(types.ErrKindInvalidInput, err.Error())
		}
		return s.handleDBCommand(&req)
	})
}

// BeginStream runs a query and keeps its result as a paginated cursor.
func (e *Engine) BeginStream(h engine.Handle, input []byte) engine.Output {
	return e.withSession(h, func(s *session) engine.Output {
		var req types.DBRequest
		if err := types.Decode(input, &req); err != nil {
			return failure(types.ErrKindInvalidInput, fmt.Sprintf("failed to unmarshal request: %v", err))
		}
		if req.Kind != types.KindQuery {
			return failure(types.ErrKindInvalidInput, fmt.Sprintf("cannot stream a %s request", req.Kind))
		}
		return s.handleBeginStream(&req)
	})
}

// NextSlice returns the next page of cursor seq.
func (e *Engine) NextSlice(h engine.Handle, seq int32, start int32) engine.Output {
	return e.withSession(h, func(s *session) engine.Output {
		return s.handleNextSlice(seq, int(start))
	})
}

// CancelStream drops cursor seq if it exists.
func (e *Engine) CancelStream(h engine.Handle, seq int32) {
	e.withSession(h, func(s *session) engine.Output {
		delete(s.cursors, seq)
		return engine.Success(nil)
	})
}

// CancelAllStreams drops every cursor of the session.
func (e *Engine) CancelAllStreams(h engine.Handle) {
	e.withSession(h, func(s *session) engine.Output {
		s.cursors = make(map[int32]*cursor)
		return engine.Success(nil)
	})
}

func (e *Engine) withSession(h engine.Handle, fn func(s *session) engine.Output) engine.Output {
	e.mu.Lock()
	s, ok := e.sessions[h]
	e.mu.Unlock()
	if !ok {
		return failure(types.ErrKindNotFound, fmt.Sprintf("session not found: %d", h))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

func marshalError(kind, message string) ([]byte, error) {
	payload, err := json.Marshal(types.BackendError{Kind: kind, Message: message})
	if err != nil {
		return []byte(`{"kind":"internal","message":"critical: failed to marshal error response"}`),
			fmt.Errorf("failed to marshal error response for '%s': %w", message, err)
	}
	return payload, nil
}

func failure(kind, message string) engine.Output {
	payload, _ := marshalError(kind, message)
	return engine.Failure(payload)
}

func dbFailure(what string, err error) engine.Output {
	return failure(types.ErrKindDB, fmt.Sprintf("%s: %v", what, err))
}

func marshalResponse(v any) engine.Output {
	payload, err := json.Marshal(v)
	if err != nil {
		return failure(types.ErrKindInternal, fmt.Sprintf("failed to marshal response: %v", err))
	}
	return engine.Success(payload)
}
