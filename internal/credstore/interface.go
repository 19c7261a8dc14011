package credstore

import (
	"context"
	"time"
)

// Record is one sealed credential row as stored.
type Record struct {
	AccountID   string
	DisplayName string
	Salt        []byte
	Verifier    []byte
	Payload     []byte
	Nonce       []byte
	UpdatedAt   time.Time
}

// Repository persists sealed credential records.
type Repository interface {
	// Upsert inserts or replaces the record for its account id.
	Upsert(ctx context.Context, rec *Record) error

	// GetByAccountID returns the record for the account, or common.ErrNotFound.
	GetByAccountID(ctx context.Context, accountID string) (*Record, error)

	// List returns all stored records ordered by most recently updated.
	List(ctx context.Context) ([]Record, error)

	// DeleteByAccountID removes the record for the account.
	DeleteByAccountID(ctx context.Context, accountID string) error
}
