package search

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// schema creates the tables of a staging index. A build always starts from
// an empty file, so there are no migrations.
const schema = `
CREATE TABLE manpages (
	path TEXT NOT NULL,
	version TEXT NOT NULL,
	name TEXT NOT NULL,
	section TEXT NOT NULL,
	description TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (path, version)
);

CREATE INDEX manpages_version ON manpages(version, section);

CREATE VIRTUAL TABLE manpages_fts USING fts5(
	name, description, body,
	content='manpages',
	content_rowid='rowid'
);

CREATE TRIGGER manpages_ai AFTER INSERT ON manpages BEGIN
	INSERT INTO manpages_fts(rowid, name, description, body)
	VALUES (new.rowid, new.name, new.description, new.body);
END;

CREATE TRIGGER manpages_ad AFTER DELETE ON manpages BEGIN
	INSERT INTO manpages_fts(manpages_fts, rowid, name, description, body)
	VALUES ('delete', old.rowid, old.name, old.description, old.body);
END;
`

// Column weights for bm25: a name hit outranks a description hit, which
// outranks a hit in the page body.
const rankExpr = `bm25(manpages_fts, 10.0, 4.0, 1.0)`

// openDB opens the index in rollback-journal mode so a committed index is a
// single file that can be renamed into place.
func openDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open search db: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}

func stagingPath(path string) string {
	return path + ".new"
}

func removeDB(path string) error {
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
