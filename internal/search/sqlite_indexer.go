package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
)

// batchSize bounds the number of rows per transaction.
const batchSize = 200

var errIndexerClosed = errors.New("search indexer is closed")

// SQLiteIndexer builds a staging index next to the published one and
// renames it into place on Commit. It is safe for concurrent use.
type SQLiteIndexer struct {
	mu         sync.Mutex
	path       string
	staging    string
	db         *sql.DB
	insertStmt *sql.Stmt
	tx         *sql.Tx
	txStmt     *sql.Stmt
	count      int
	total      int
}

// NewSQLiteIndexer opens an empty staging index for path. The index at
// path is left untouched until Commit.
func NewSQLiteIndexer(path string) (*SQLiteIndexer, error) {
	staging := stagingPath(path)
	if err := removeDB(staging); err != nil {
		return nil, fmt.Errorf("remove stale staging index: %w", err)
	}
	db, err := openDB(staging)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO manpages (path, version, name, section, description, body) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}

	return &SQLiteIndexer{
		path:       path,
		staging:    staging,
		db:         db,
		insertStmt: stmt,
	}, nil
}

func (s *SQLiteIndexer) CarryOver(ctx context.Context, version string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, errIndexerClosed
	}
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return 0, nil
	}
	if err := s.flush(); err != nil {
		return 0, err
	}

	// ATTACH needs a dedicated connection; the pool holds exactly one.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("carry over: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `ATTACH DATABASE ? AS published`, s.path); err != nil {
		return 0, fmt.Errorf("attach published index: %w", err)
	}
	defer func() { _, _ = conn.ExecContext(context.Background(), `DETACH DATABASE published`) }()

	res, err := conn.ExecContext(ctx, `INSERT INTO main.manpages (path, version, name, section, description, body)
		SELECT path, version, name, section, description, body
		FROM published.manpages WHERE version <> ?`, version)
	if err != nil {
		return 0, fmt.Errorf("copy published versions: %w", err)
	}
	n, _ := res.RowsAffected()
	s.total += int(n)
	return int(n), nil
}

func (s *SQLiteIndexer) IndexManpage(ctx context.Context, doc Document) error {
	if doc.Path == "" || doc.Name == "" {
		return fmt.Errorf("index manpage: path and name are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errIndexerClosed
	}

	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		s.tx = tx
		s.txStmt = tx.Stmt(s.insertStmt)
	}

	_, err := s.txStmt.ExecContext(ctx, doc.Path, doc.Version, doc.Name, doc.Section, doc.Description, doc.Body)
	if err != nil {
		return fmt.Errorf("index manpage %s: %w", doc.Path, err)
	}

	s.count++
	s.total++
	if s.count >= batchSize {
		if err := s.flush(); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndexer) flush() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	s.txStmt = nil
	s.count = 0
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Count returns the number of documents in the staging index, carried
// over ones included.
func (s *SQLiteIndexer) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Commit finishes the staging index and renames it over the published
// one. Open searchers keep reading the index they opened.
func (s *SQLiteIndexer) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errIndexerClosed
	}

	if err := s.flush(); err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT INTO manpages_fts(manpages_fts) VALUES ('optimize')`); err != nil {
		return fmt.Errorf("optimize index: %w", err)
	}
	if err := s.closeDB(); err != nil {
		return err
	}
	for _, side := range []string{"-journal", "-wal", "-shm"} {
		if err := os.Remove(s.path + side); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale index file: %w", err)
		}
	}
	if err := os.Rename(s.staging, s.path); err != nil {
		return fmt.Errorf("publish index: %w", err)
	}
	return nil
}

// Close discards the staging index unless it was committed.
func (s *SQLiteIndexer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}

	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
		s.txStmt = nil
	}
	err := s.closeDB()
	if rerr := removeDB(s.staging); rerr != nil && err == nil {
		err = fmt.Errorf("remove staging index: %w", rerr)
	}
	return err
}

func (s *SQLiteIndexer) closeDB() error {
	_ = s.insertStmt.Close()
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return nil
}
