// Package migrate applies the embedded schema and seed files. Each file and
// its bookkeeping row commit in one transaction.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// ErrNothingApplied is returned by Down on a fresh database.
var ErrNothingApplied = errors.New("migrate: no migrations applied")

// Applied is one bookkeeping row.
type Applied struct {
	Name      string
	AppliedAt time.Time
}

// fileSet is one directory of SQL files with its own history table.
type fileSet struct {
	label  string
	dir    string
	suffix string
	table  string
}

type Manager struct {
	db     *sql.DB
	files  fs.FS
	schema fileSet
	seeds  fileSet
	now    func() time.Time
}

type Option func(*Manager)

// WithMigrationsTable renames the schema history table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.schema.table = name
		}
	}
}

// WithSeedsTable renames the seed history table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seeds.table = name
		}
	}
}

func WithClock(fn func() time.Time) Option {
	return func(m *Manager) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewManager reads schemaDir/*.up.sql, schemaDir/*.down.sql and seedsDir/*.sql from files.
func NewManager(db *sql.DB, files fs.FS, schemaDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:     db,
		files:  files,
		schema: fileSet{label: "migration", dir: schemaDir, suffix: ".up.sql", table: "schema_migrations"},
		seeds:  fileSet{label: "seed", dir: seedsDir, suffix: ".sql", table: "schema_seeds"},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations in name order and returns what it applied.
// On failure the names applied before the failing file are still returned.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, m.schema)
}

// Seed applies seed files that have not run yet.
func (m *Manager) Seed(ctx context.Context) ([]string, error) {
	return m.applyPending(ctx, m.seeds)
}

// Down reverts the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	history, err := m.history(ctx, m.schema)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", ErrNothingApplied
	}
	last := history[len(history)-1].Name
	down := path.Join(m.schema.dir, strings.TrimSuffix(last, m.schema.suffix)+".down.sql")
	body, err := fs.ReadFile(m.files, down)
	if err != nil {
		return "", fmt.Errorf("migrate: no down file for %s: %w", last, err)
	}
	err = m.inTx(ctx, body, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.schema.table), last)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("migrate: revert %s: %w", last, err)
	}
	return last, nil
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]Applied, error) {
	return m.history(ctx, m.schema)
}

func (m *Manager) applyPending(ctx context.Context, set fileSet) ([]string, error) {
	history, err := m.history(ctx, set)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(history))
	for _, h := range history {
		done[h.Name] = true
	}
	names, err := m.list(set)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range names {
		if done[name] {
			continue
		}
		body, err := fs.ReadFile(m.files, path.Join(set.dir, name))
		if err != nil {
			return applied, err
		}
		err = m.inTx(ctx, body, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, set.table),
				name, m.now().UTC())
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("migrate: %s %s: %w", set.label, name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

// inTx runs every statement of body and then record in one transaction.
func (m *Manager) inTx(ctx context.Context, body []byte, record func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) history(ctx context.Context, set fileSet) ([]Applied, error) {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`create table if not exists %s (
		name text primary key,
		applied_at timestamptz not null default now()
	)`, set.table))
	if err != nil {
		return nil, fmt.Errorf("migrate: ensure %s: %w", set.table, err)
	}

	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name, applied_at from %s order by applied_at, name`, set.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// list returns the file names of set in lexical order. A missing directory
// is an empty set.
func (m *Manager) list(set fileSet) ([]string, error) {
	if m.files == nil || set.dir == "" {
		return nil, nil
	}
	entries, err := fs.ReadDir(m.files, set.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, set.suffix) || strings.HasSuffix(name, ".down.sql") {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// splitStatements cuts SQL at top-level semicolons. Semicolons inside
// single-quoted literals and -- comments do not split; blank statements are dropped.
func splitStatements(src string) []string {
	var (
		out     []string
		cur     strings.Builder
		quoted  bool
		comment bool
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && s != ";" {
			out = append(out, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case comment:
			if c == '\n' {
				comment = false
				cur.WriteByte(c)
			}
			continue
		case !quoted && c == '-' && i+1 < len(src) && src[i+1] == '-':
			comment = true
			continue
		case c == '\'':
			quoted = !quoted
		case c == ';' && !quoted:
			cur.WriteByte(c)
			flush()
			continue
		}
		cur.WriteByte(c)
	}
	flush()
	return out
}
