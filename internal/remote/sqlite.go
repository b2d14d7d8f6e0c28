package remote

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/colthorp/healthsync-go/internal/core"
)

// SQLiteBackend is an embedded stand-in for the remote database, used by the
// CLI when no remote URL is configured. Each row is stored as a JSON document
// keyed by (collection, id).
type SQLiteBackend struct {
	db  *sql.DB
	log *logrus.Entry
}

// NewSQLiteBackend opens (or creates) the database at path. Use ":memory:"
// for a throwaway database.
func NewSQLiteBackend(path string, logger *logrus.Entry) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would see an empty database
	db.SetMaxOpenConns(1)

	if logger == nil {
		logger = core.DiscardLogger()
	}
	b := &SQLiteBackend{db: db, log: logger}
	if err := b.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS documents (
        collection TEXT NOT NULL,
        id TEXT NOT NULL,
        data TEXT NOT NULL,
        PRIMARY KEY (collection, id)
    );
    `
	if _, err := b.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func loadCollection(ctx context.Context, q queryer, collection string) ([]Row, error) {
	rows, err := q.QueryContext(ctx, `SELECT data FROM documents WHERE collection = ? ORDER BY rowid`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", collection, err)
		}
		var row Row
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("corrupt %s row: %w", collection, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Fetch implements Backend.
func (b *SQLiteBackend) Fetch(ctx context.Context, q Query) ([]Row, error) {
	rows, err := loadCollection(ctx, b.db, q.Collection)
	if err != nil {
		return nil, err
	}
	out := selectRows(rows, q)
	b.log.WithFields(logrus.Fields{"collection": q.Collection, "rows": len(out)}).Debug("fetch")
	return out, nil
}

// Write implements Backend.
func (b *SQLiteBackend) Write(ctx context.Context, m Mutation) (Row, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := b.apply(ctx, tx, m)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	b.log.WithFields(logrus.Fields{"collection": m.Collection, "op": m.Op, "id": result.ID()}).Debug("write")
	return result, nil
}

func (b *SQLiteBackend) apply(ctx context.Context, tx *sql.Tx, m Mutation) (Row, error) {
	switch m.Op {
	case OpInsert:
		return insertNew(ctx, tx, m.Collection, m.Payload)

	case OpUpdate, OpDelete, OpUpsert:
		existing, err := loadCollection(ctx, tx, m.Collection)
		if err != nil {
			return nil, err
		}
		match := m.Match
		if m.Op == OpUpsert {
			match = conflictFilters(m)
		}

		var first Row
		for _, row := range existing {
			if !matchesAll(row, match) {
				continue
			}
			switch m.Op {
			case OpDelete:
				if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, m.Collection, row.ID()); err != nil {
					return nil, fmt.Errorf("failed to delete %s row: %w", m.Collection, err)
				}
				if first == nil {
					first = row
				}
			default:
				updated := merge(row, m.Payload)
				updated["id"] = row.ID()
				if err := updateRow(ctx, tx, m.Collection, updated); err != nil {
					return nil, err
				}
				if first == nil {
					first = copyRow(updated)
				}
			}
			if m.Op == OpUpsert {
				break
			}
		}

		if first != nil {
			return first, nil
		}
		if m.Op != OpUpsert {
			return nil, ErrNotFound
		}
		return insertNew(ctx, tx, m.Collection, m.Payload)
	}
	return nil, fmt.Errorf("remote: unsupported operation %q", m.Op)
}

// insertNew stores payload under a fresh id when it has none and returns the
// row as it reads back from storage.
func insertNew(ctx context.Context, tx *sql.Tx, collection string, payload Row) (Row, error) {
	row := copyRow(payload)
	if row.ID() == "" {
		row["id"] = uuid.NewString()
	}
	if err := insertRow(ctx, tx, collection, row); err != nil {
		return nil, err
	}
	return row, nil
}

func insertRow(ctx context.Context, tx *sql.Tx, collection string, row Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode %s row: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO documents (collection, id, data) VALUES (?, ?, ?)`, collection, row.ID(), string(data)); err != nil {
		return fmt.Errorf("failed to insert %s row: %w", collection, err)
	}
	return nil
}

func updateRow(ctx context.Context, tx *sql.Tx, collection string, row Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to encode %s row: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE documents SET data = ? WHERE collection = ? AND id = ?`, string(data), collection, row.ID()); err != nil {
		return fmt.Errorf("failed to update %s row: %w", collection, err)
	}
	return nil
}
