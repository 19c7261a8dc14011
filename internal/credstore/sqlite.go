package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/ddezhin/partykit/internal/common"
	"github.com/ddezhin/partykit/internal/credstore/migrations"
	"github.com/ddezhin/partykit/internal/dbx"
)

// SQLiteRepository implements Repository over a sqlite database. Reads go
// straight to the pool; the upsert runs inside a transaction.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository returns a new SQLiteRepository bound to the given database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the provided database connection.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// InitDatabase opens (or creates) the credential database at dsn and applies
// pending migrations.
func InitDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Upsert inserts or replaces the record for its account id. The existence
// check and the write run in one transaction so a concurrent enrollment for
// the same account cannot interleave.
func (r *SQLiteRepository) Upsert(ctx context.Context, rec *Record) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var exists bool
		row := tx.QueryRowContext(ctx, `select exists(select 1 from credentials where account_id=?)`, rec.AccountID)
		if err := row.Scan(&exists); err != nil {
			return fmt.Errorf("failed to check credential: %w", err)
		}

		var query string
		if exists {
			query = `update credentials set display_name=?, salt=?, verifier=?, payload=?, nonce=?, updated_at=?
					where account_id=?`
			_, err := tx.ExecContext(ctx, query,
				rec.DisplayName, rec.Salt, rec.Verifier, rec.Payload, rec.Nonce, rec.UpdatedAt, rec.AccountID)
			if err != nil {
				return fmt.Errorf("failed to update credential: %w", err)
			}
			return nil
		}

		query = `insert into credentials (account_id, display_name, salt, verifier, payload, nonce, updated_at)
				values (?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, query,
			rec.AccountID, rec.DisplayName, rec.Salt, rec.Verifier, rec.Payload, rec.Nonce, rec.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert credential: %w", err)
		}
		return nil
	})
}

// GetByAccountID returns the record for the account.
func (r *SQLiteRepository) GetByAccountID(ctx context.Context, accountID string) (*Record, error) {
	query := `select account_id, display_name, salt, verifier, payload, nonce, updated_at
			from credentials where account_id=?`
	row := r.db.QueryRowContext(ctx, query, accountID)

	rec := &Record{}
	err := row.Scan(&rec.AccountID, &rec.DisplayName, &rec.Salt, &rec.Verifier, &rec.Payload, &rec.Nonce, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("credential for %s: %w", accountID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query row scan failed: %w", err)
	}
	return rec, nil
}

// List returns all stored records, most recently updated first.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	query := `select account_id, display_name, salt, verifier, payload, nonce, updated_at
			from credentials order by updated_at desc`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to select credentials: %w", err)
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.AccountID, &rec.DisplayName, &rec.Salt, &rec.Verifier, &rec.Payload, &rec.Nonce, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// DeleteByAccountID removes the record for the account. It expects exactly
// one row to be affected.
func (r *SQLiteRepository) DeleteByAccountID(ctx context.Context, accountID string) error {
	query := `delete from credentials where account_id=?`
	res, err := r.db.ExecContext(ctx, query, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("credential for %s: %w", accountID, common.ErrNotFound)
	}
	return nil
}
