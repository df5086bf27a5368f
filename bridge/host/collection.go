package host

import (
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/tomyedwab/enginebridge/bridge/engine"
	"github.com/tomyedwab/enginebridge/bridge/types"
)

const (
	// SchemaLegacy is the schema version written for legacy collections and
	// restored by a downgrading close.
	SchemaLegacy = 11
	// SchemaCurrent is the schema version of a freshly opened collection.
	SchemaCurrent = 18
)

// MemoryPath opens a private in-memory collection.
const MemoryPath = ":memory:"

const metaSchema = `
CREATE TABLE IF NOT EXISTS col_meta (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	schema_version INTEGER NOT NULL
)
`

type collection struct {
	db            *sqlx.DB
	path          string
	mediaFolder   string
	mediaDB       string
	schemaVersion int
}

func (s *session) handleOpenCollection(input []byte) engine.Output {
	var req types.OpenCollectionRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return failure(types.ErrKindInvalidInput, fmt.Sprintf("failed to unmarshal open request: %v", err))
	}
	if s.col != nil {
		return failure(types.ErrKindInvalidInput, fmt.Sprintf("collection already open: %s", s.col.path))
	}

	dsn := req.Path
	if dsn == MemoryPath {
		// Shared cache keeps every pooled connection on the same database.
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", s.id)
	}
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return dbFailure("open collection failed", err)
	}
	// One connection: transactions and queries share the same database state.
	db.SetMaxOpenConns(1)

	version, err := initMeta(db, req.LegacySchema)
	if err != nil {
		db.Close()
		return dbFailure("collection schema setup failed", err)
	}

	s.col = &collection{
		db:            db,
		path:          req.Path,
		mediaFolder:   req.MediaFolder,
		mediaDB:       req.MediaDB,
		schemaVersion: version,
	}
	return engine.Success([]byte("{}"))
}

func initMeta(db *sqlx.DB, legacy bool) (int, error) {
	tx, err := db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(metaSchema); err != nil {
		return 0, err
	}
	initial := SchemaCurrent
	if legacy {
		initial = SchemaLegacy
	}
	if _, err := tx.Exec(`INSERT INTO col_meta (id, schema_version) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`, initial); err != nil {
		return 0, err
	}
	if !legacy {
		if _, err := tx.Exec(`UPDATE col_meta SET schema_version = $1 WHERE schema_version < $1`, SchemaCurrent); err != nil {
			return 0, err
		}
	}

	var version int
	if err := tx.Get(&version, `SELECT schema_version FROM col_meta WHERE id = 1`); err != nil {
		return 0, err
	}
	return version, tx.Commit()
}

func (s *session) handleCloseCollection(input []byte) engine.Output {
	var req types.CloseCollectionRequest
	if err := json.Unmarshal(input, &req); err != nil {
		return failure(types.ErrKindInvalidInput, fmt.Sprintf("failed to unmarshal close request: %v", err))
	}
	if s.col == nil {
		return failure(types.ErrKindInvalidInput, "no collection open")
	}
	if err := s.closeCollection(req.Downgrade); err != nil {
		return dbFailure("close collection failed", err)
	}
	return engine.Success([]byte("{}"))
}

// closeCollection rolls back any open transaction, optionally downgrades the
// schema and closes the database. The collection is gone afterwards even on error.
func (s *session) closeCollection(downgrade bool) error {
	col := s.col
	if col == nil {
		return nil
	}
	s.col = nil
	s.cursors = make(map[int32]*cursor)

	if s.tx != nil {
		_ = s.tx.Rollback() // Ignore error, best effort
		s.tx = nil
	}

	var downgradeErr error
	if downgrade {
		_, downgradeErr = col.db.Exec(`UPDATE col_meta SET schema_version = $1`, SchemaLegacy)
	}
	if err := col.db.Close(); err != nil {
		return err
	}
	return downgradeErr
}

func (s *session) handleCollectionInfo() engine.Output {
	if s.col == nil {
		return failure(types.ErrKindInvalidInput, "no collection open")
	}
	var version int
	if err := s.queryer().QueryRowx(`SELECT schema_version FROM col_meta WHERE id = 1`).Scan(&version); err != nil {
		return dbFailure("read schema version failed", err)
	}
	return marshalResponse(types.CollectionInfo{
		Path:          s.col.path,
		MediaFolder:   s.col.mediaFolder,
		SchemaVersion: version,
	})
}
