package dedupe

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultSQLiteTable = "seen_items"
	// sqlite caps bound parameters per statement; stay well under it.
	sqliteLookupChunk = 500
)

var sqliteTableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore is a SeenStore backed by a single sqlite table of
// (id, seen_at). A positive ttl makes entries older than ttl count as unseen.
type SQLiteStore struct {
	db    *sql.DB
	table string
	ttl   time.Duration

	hasSeen *sql.Stmt
	mark    *sql.Stmt
}

func NewSQLiteStore(dsn string, table string, ttl time.Duration) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("sqlite ttl must be >= 0")
	}
	if table == "" {
		table = defaultSQLiteTable
	}
	if !sqliteTableName.MatchString(table) {
		return nil, fmt.Errorf("sqlite table name %q must match %s", table, sqliteTableName)
	}
	if err := ensureSQLiteDir(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps sqlite from returning SQLITE_BUSY under concurrent polls.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, table: table, ttl: ttl}
	if err := s.prepare(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) HasSeen(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	var seenAt time.Time
	if err := s.hasSeen.QueryRowContext(ctx, id).Scan(&seenAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query seen id: %w", err)
	}
	return s.live(seenAt), nil
}

// SeenAmong reports which of ids are already recorded, in chunked IN queries.
func (s *SQLiteStore) SeenAmong(ctx context.Context, ids []string) (map[string]bool, error) {
	seen := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += sqliteLookupChunk {
		chunk := ids[start:min(start+sqliteLookupChunk, len(ids))]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		query := fmt.Sprintf(`SELECT id, seen_at FROM "%s" WHERE id IN (?%s)`, s.table, strings.Repeat(",?", len(chunk)-1))
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("query seen ids: %w", err)
		}
		for rows.Next() {
			var id string
			var seenAt time.Time
			if err := rows.Scan(&id, &seenAt); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan seen id: %w", err)
			}
			if s.live(seenAt) {
				seen[id] = true
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("read seen ids: %w", err)
		}
	}
	return seen, nil
}

// MarkSeenBatch records ids in one transaction, refreshing seen_at for ids
// that are already present.
func (s *SQLiteStore) MarkSeenBatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark seen: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	mark := tx.StmtContext(ctx, s.mark)
	now := time.Now().UTC()
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, err := mark.ExecContext(ctx, id, now); err != nil {
			return fmt.Errorf("mark seen %q: %w", id, err)
		}
	}
	return tx.Commit()
}

// Prune deletes entries older than the ttl. It is a no-op without a ttl.
func (s *SQLiteStore) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM "%s" WHERE seen_at < ?`, s.table), s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("prune seen ids: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	for _, stmt := range []*sql.Stmt{s.hasSeen, s.mark} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

func (s *SQLiteStore) live(seenAt time.Time) bool {
	return s.ttl <= 0 || !seenAt.Before(s.cutoff())
}

func (s *SQLiteStore) cutoff() time.Time {
	return time.Now().UTC().Add(-s.ttl)
}

func (s *SQLiteStore) prepare(ctx context.Context) error {
	schema := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s" (id TEXT PRIMARY KEY, seen_at TIMESTAMP NOT NULL)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS "%s_seen_at_idx" ON "%s" (seen_at)`, s.table, s.table),
	}
	for _, ddl := range schema {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create sqlite schema: %w", err)
		}
	}

	var err error
	s.hasSeen, err = s.db.PrepareContext(ctx, fmt.Sprintf(`SELECT seen_at FROM "%s" WHERE id = ?`, s.table))
	if err != nil {
		return fmt.Errorf("prepare seen lookup: %w", err)
	}
	s.mark, err = s.db.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO "%s" (id, seen_at) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET seen_at = excluded.seen_at`, s.table))
	if err != nil {
		return fmt.Errorf("prepare mark seen: %w", err)
	}
	return nil
}

// ensureSQLiteDir creates the parent directory of a file-backed dsn.
func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	path, _, _ = strings.Cut(path, "?")
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
