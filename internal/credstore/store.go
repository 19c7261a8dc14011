// Package credstore persists device-auth credentials on the local machine.
//
// A device-auth credential is the long-lived (account id, device id, secret)
// triple the backend issues once per device. It survives token expiry and is
// what lets a later run log in without user interaction, so it is sealed at
// rest: the payload is encrypted with a key derived from a user passphrase,
// one salt per record. Display names stay plaintext so stored accounts can
// be listed without the passphrase.
package credstore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/ddezhin/partykit/internal/common"
	"github.com/ddezhin/partykit/internal/cryptox"
)

// ErrPassphraseMismatch is returned when the derived key fails the stored
// verifier check.
var ErrPassphraseMismatch = errors.New("passphrase does not match stored credential")

const saltLen = 16

// DeviceAuth is the plaintext credential payload.
type DeviceAuth struct {
	AccountID string `json:"account_id"`
	DeviceID  string `json:"device_id"`
	Secret    string `json:"secret"`
}

// AccountInfo is what List exposes without unsealing anything.
type AccountInfo struct {
	AccountID   string
	DisplayName string
	UpdatedAt   time.Time
}

// Store seals and unseals credentials over a Repository.
type Store struct {
	repo Repository
}

// NewStore wraps the given repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Save seals the credential under the passphrase and upserts it by account id.
func (s *Store) Save(ctx context.Context, passphrase []byte, creds DeviceAuth, displayName string) error {
	if creds.AccountID == "" {
		return fmt.Errorf("credstore: empty account id")
	}

	salt := common.GenerateRandByteArray(saltLen)
	key := cryptox.DeriveKey(passphrase, salt)
	defer common.WipeByteArray(key)

	payload, nonce, err := cryptox.Seal(creds, key)
	if err != nil {
		return fmt.Errorf("credstore: seal: %w", err)
	}

	rec := &Record{
		AccountID:   creds.AccountID,
		DisplayName: displayName,
		Salt:        salt,
		Verifier:    cryptox.MakeVerifier(key),
		Payload:     payload,
		Nonce:       nonce,
		UpdatedAt:   time.Now().UTC(),
	}
	return s.repo.Upsert(ctx, rec)
}

// Load unseals the credential for the account. A wrong passphrase is
// reported as [ErrPassphraseMismatch] before any decryption is attempted.
func (s *Store) Load(ctx context.Context, passphrase []byte, accountID string) (*DeviceAuth, error) {
	rec, err := s.repo.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	key := cryptox.DeriveKey(passphrase, rec.Salt)
	defer common.WipeByteArray(key)

	if subtle.ConstantTimeCompare(cryptox.MakeVerifier(key), rec.Verifier) != 1 {
		return nil, ErrPassphraseMismatch
	}

	var creds DeviceAuth
	if err := cryptox.Open(rec.Payload, rec.Nonce, key, &creds); err != nil {
		return nil, fmt.Errorf("credstore: open: %w", err)
	}
	return &creds, nil
}

// Accounts lists stored accounts, most recently used first.
func (s *Store) Accounts(ctx context.Context) ([]AccountInfo, error) {
	recs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]AccountInfo, 0, len(recs))
	for _, rec := range recs {
		infos = append(infos, AccountInfo{
			AccountID:   rec.AccountID,
			DisplayName: rec.DisplayName,
			UpdatedAt:   rec.UpdatedAt,
		})
	}
	return infos, nil
}

// Remove deletes the stored credential for the account.
func (s *Store) Remove(ctx context.Context, accountID string) error {
	return s.repo.DeleteByAccountID(ctx, accountID)
}
