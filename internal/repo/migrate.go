package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createMigrationLedger = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

type migration struct {
	name string
	sql  string
}

// loadMigrations returns the non-empty *.sql files of filesystem ordered by name.
func loadMigrations(filesystem fs.FS) ([]migration, error) {
	names, err := fs.Glob(filesystem, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(filesystem, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, migration{name: name, sql: string(content)})
	}
	return out, nil
}

// applyPostgresMigrations runs each pending file in its own transaction together
// with its schema_migrations row, so a file is applied at most once.
func applyPostgresMigrations(ctx context.Context, pool *pgxpool.Pool, filesystem fs.FS) ([]string, error) {
	pending, err := loadMigrations(filesystem)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, createMigrationLedger); err != nil {
		return nil, fmt.Errorf("create migration ledger: %w", err)
	}

	var applied []string
	for _, m := range pending {
		ran := false
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			tag, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, m.name)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			ran = true
			_, err = tx.Exec(ctx, m.sql)
			return err
		})
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if ran {
			applied = append(applied, m.name)
		}
	}
	return applied, nil
}

func applySQLiteMigrations(ctx context.Context, db *sql.DB, filesystem fs.FS) ([]string, error) {
	pending, err := loadMigrations(filesystem)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, createMigrationLedger); err != nil {
		return nil, fmt.Errorf("create migration ledger: %w", err)
	}

	var applied []string
	for _, m := range pending {
		ran, err := applySQLiteMigration(ctx, db, m)
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if ran {
			applied = append(applied, m.name)
		}
	}
	return applied, nil
}

func applySQLiteMigration(ctx context.Context, db *sql.DB, m migration) (ran bool, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, rbErr)
		}
	}()

	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_migrations (name) VALUES (?)`, m.name)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		return false, err
	}
	return true, tx.Commit()
}
