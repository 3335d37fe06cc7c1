// Package watchlist persists the set of tracked entities per platform.
//
// Every Store operation is self-contained: reads are single statements and batch
// writes run inside one transaction, so the admin commands and the stream monitors
// can share one *sql.DB without coordinating.
package watchlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/mcint/nullbot/db"
)

// ErrStore marks every error returned by a Store.
var ErrStore = errors.New("watchlist store")

// Store is the durable watch-list of one platform.
type Store interface {
	// List returns every tracked name, ordered.
	List(ctx context.Context) ([]string, error)
	// Add inserts names in one all-or-nothing batch. Names already tracked are
	// skipped; the returned slice holds only names that were newly inserted.
	Add(ctx context.Context, names []string, addedBy string) ([]string, error)
	// Remove deletes names in one batch. Missing names are not an error.
	Remove(ctx context.Context, names []string) error
	// Find returns the tracked names containing substr, case-insensitively, ordered.
	Find(ctx context.Context, substr string) ([]string, error)
}

// Normalizer maps user input to the stored identity of a name.
type Normalizer func(string) string

// FoldCase trims and case-folds a name. It is the default Normalizer, matching
// platforms whose account names are case-insensitive.
func FoldCase(name string) string {
	// a Caser carries state, so each call gets its own
	return cases.Fold().String(strings.TrimSpace(name))
}

// Exact only trims whitespace. Use it for platforms with case-sensitive ids.
func Exact(name string) string { return strings.TrimSpace(name) }

// SQLStore implements Store on the watchlist table, partitioned by platform.
type SQLStore struct {
	db        *sql.DB
	dialect   db.Dialect
	platform  string
	normalize Normalizer
}

// Option configures a SQLStore.
type Option func(*SQLStore)

// WithNormalizer overrides FoldCase.
func WithNormalizer(n Normalizer) Option {
	return func(s *SQLStore) { s.normalize = n }
}

// NewSQLStore returns the watch-list for platform backed by conn.
func NewSQLStore(conn *sql.DB, dialect db.Dialect, platform string, opts ...Option) *SQLStore {
	s := &SQLStore{db: conn, dialect: dialect, platform: platform, normalize: FoldCase}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Platform returns the partition key of this store.
func (s *SQLStore) Platform() string { return s.platform }

// Normalize applies the store's Normalizer.
func (s *SQLStore) Normalize(name string) string { return s.normalize(name) }

// Names normalizes names, dropping empties and duplicates while keeping input order.
func (s *SQLStore) Names(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = s.normalize(n)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	q := s.dialect.Rebind(`SELECT name FROM watchlist WHERE platform = ? ORDER BY name`)
	names, err := s.query(ctx, q, s.platform)
	if err != nil {
		return nil, storeErr("list", err)
	}
	return names, nil
}

func (s *SQLStore) Find(ctx context.Context, substr string) ([]string, error) {
	substr = strings.TrimSpace(substr)
	if substr == "" {
		return s.List(ctx)
	}
	pattern := "%" + escapeLike(strings.ToLower(substr)) + "%"
	q := s.dialect.Rebind(`SELECT name FROM watchlist WHERE platform = ? AND LOWER(name) LIKE ? ESCAPE '\' ORDER BY name`)
	names, err := s.query(ctx, q, s.platform, pattern)
	if err != nil {
		return nil, storeErr("find", err)
	}
	return names, nil
}

func (s *SQLStore) Add(ctx context.Context, names []string, addedBy string) ([]string, error) {
	names = s.Names(names)
	if len(names) == 0 {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("add: begin", err)
	}
	q := s.dialect.Rebind(`INSERT INTO watchlist (platform, name, added_by) VALUES (?, ?, ?) ON CONFLICT (platform, name) DO NOTHING`)
	added := make([]string, 0, len(names))
	for _, n := range names {
		res, err := tx.ExecContext(ctx, q, s.platform, n, addedBy)
		if err != nil {
			_ = tx.Rollback()
			return nil, storeErr("add "+n, err)
		}
		if rows, err := res.RowsAffected(); err == nil && rows > 0 {
			added = append(added, n)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("add: commit", err)
	}
	return added, nil
}

func (s *SQLStore) Remove(ctx context.Context, names []string) error {
	names = s.Names(names)
	if len(names) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("remove: begin", err)
	}
	q := s.dialect.Rebind(`DELETE FROM watchlist WHERE platform = ? AND name = ?`)
	for _, n := range names {
		if _, err := tx.ExecContext(ctx, q, s.platform, n); err != nil {
			_ = tx.Rollback()
			return storeErr("remove "+n, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storeErr("remove: commit", err)
	}
	return nil
}

func (s *SQLStore) query(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
