// Package sqlite archives knowledge snapshots in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/expertkb/pkg/expertkb/internalerr"
	"github.com/cognicore/expertkb/pkg/expertkb/store"
)

// savedAtLayout is fixed-width so saved_at sorts chronologically as text.
const savedAtLayout = "2006-01-02T15:04:05.000000000Z"

// sqliteArchive implements store.Archive
type sqliteArchive struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) an archive database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", internalerr.ErrStoreUnavailable, err)
	}

	return &sqliteArchive{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (a *sqliteArchive) Close() error {
	return a.db.Close()
}

// initSchema creates tables if they don't exist
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS snapshots (
	name TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	saved_at TEXT NOT NULL
);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// SaveSnapshot stores data under name, replacing any earlier snapshot.
func (a *sqliteArchive) SaveSnapshot(ctx context.Context, name string, data []byte) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: snapshot name is empty", internalerr.ErrInvalidInput)
	}
	if data == nil {
		data = []byte{}
	}

	_, err := a.db.ExecContext(ctx, `
INSERT INTO snapshots(name, data, saved_at) VALUES(?, ?, ?)
ON CONFLICT(name) DO UPDATE SET data=excluded.data, saved_at=excluded.saved_at;
`, name, data, a.now().UTC().Format(savedAtLayout))
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", name, err)
	}
	return nil
}

// LoadSnapshot returns the data saved under name.
func (a *sqliteArchive) LoadSnapshot(ctx context.Context, name string) ([]byte, bool, error) {
	var data []byte
	err := a.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE name = ?`, strings.TrimSpace(name)).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load snapshot %s: %w", name, err)
	}
	return data, true, nil
}

// ListSnapshots returns all snapshots, most recently saved first.
func (a *sqliteArchive) ListSnapshots(ctx context.Context) ([]store.SnapshotInfo, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT name, length(data), saved_at FROM snapshots ORDER BY saved_at DESC, name ASC;
`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var infos []store.SnapshotInfo
	for rows.Next() {
		var (
			info  store.SnapshotInfo
			saved string
		)
		if err := rows.Scan(&info.Name, &info.Size, &saved); err != nil {
			return nil, err
		}
		if parsed, perr := time.Parse(savedAtLayout, saved); perr == nil {
			info.SavedAt = parsed
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// DeleteSnapshot removes a snapshot. It returns false when none existed.
func (a *sqliteArchive) DeleteSnapshot(ctx context.Context, name string) (bool, error) {
	res, err := a.db.ExecContext(ctx, `DELETE FROM snapshots WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return false, fmt.Errorf("delete snapshot %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
