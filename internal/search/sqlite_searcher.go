package search

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
)

type Result struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Path        string `json:"path"`
	Section     string `json:"section"`
	Version     string `json:"version"`
	Snippet     string `json:"snippet,omitempty"`
}

type SearchResponse struct {
	Total   uint64   `json:"total"`
	Results []Result `json:"results"`
}

// Query selects manpages by full text. Empty Section or Version match
// every section or version.
type Query struct {
	Text    string
	Section string
	Version string
	Limit   int
	Offset  int
}

type SQLiteSearcher struct {
	db *sql.DB
}

func NewSQLiteSearcher(path string) (*SQLiteSearcher, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open search db: %w", err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteSearcher{db: db}, nil
}

func (s *SQLiteSearcher) Close() error {
	return s.db.Close()
}

// Search matches the query against manpage names, descriptions and
// bodies. A page whose name equals the query comes first, the rest
// follow by weighted rank.
func (s *SQLiteSearcher) Search(ctx context.Context, q Query) (SearchResponse, error) {
	match := sanitizeQuery(q.Text)
	if match == "" {
		return SearchResponse{Results: []Result{}}, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT m.name, m.description, m.path, m.section, m.version,
		 snippet(manpages_fts, 2, '', '', '...', 12),
		 COUNT(*) OVER() AS total
		 FROM manpages_fts f
		 JOIN manpages m ON m.rowid = f.rowid
		 WHERE manpages_fts MATCH ?`
	args := []any{match}

	if q.Section != "" {
		query += ` AND m.section = ?`
		args = append(args, q.Section)
	}
	if q.Version != "" {
		query += ` AND m.version = ?`
		args = append(args, q.Version)
	}

	query += ` ORDER BY m.name = ? DESC, ` + rankExpr + `, m.name, m.version LIMIT ? OFFSET ?`
	args = append(args, strings.ToLower(strings.TrimSpace(q.Text)), limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var resp SearchResponse
	resp.Results = make([]Result, 0)

	for rows.Next() {
		var r Result
		var total uint64
		if err := rows.Scan(&r.Name, &r.Description, &r.Path, &r.Section, &r.Version, &r.Snippet, &total); err != nil {
			return SearchResponse{}, fmt.Errorf("scan result: %w", err)
		}
		resp.Total = total
		resp.Results = append(resp.Results, r)
	}
	if err := rows.Err(); err != nil {
		return SearchResponse{}, fmt.Errorf("iterate results: %w", err)
	}

	return resp, nil
}

// Versions lists the documentation versions present in the index.
func (s *SQLiteSearcher) Versions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT version FROM manpages ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func sanitizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range q {
		switch {
		case r >= 'a' && r <= 'z',
			r >= 'A' && r <= 'Z',
			r >= '0' && r <= '9',
			r == ' ', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	q = strings.TrimSpace(b.String())
	if q == "" {
		return ""
	}

	terms := strings.Fields(q)
	for i, t := range terms {
		upper := strings.ToUpper(t)
		if upper == "AND" || upper == "OR" || upper == "NOT" {
			terms[i] = ""
			continue
		}
		terms[i] = `"` + t + `"` + "*"
	}

	var filtered []string
	for _, t := range terms {
		if t != "" {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return ""
	}
	return strings.Join(filtered, " ")
}
