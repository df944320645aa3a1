// Package storage defines the persistence interfaces backing the state store.
package storage

import (
	"context"
	"time"

	"github.com/covaulthq/covault/internal/platform/errors"
	"github.com/covaulthq/covault/internal/services/vault/domain/org"
	"github.com/covaulthq/covault/internal/services/vault/domain/wallet"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// User is an authenticated identity with a default organization context.
type User struct {
	ID        string
	Email     string
	OrgID     string
	CreatedAt time.Time
}

// Store persists the authoritative model. The state store writes through to
// it after every applied mutation and loads from it at boot; implementations
// must be safe for concurrent use.
type Store interface {
	PutUser(ctx context.Context, u User) error
	PutOrg(ctx context.Context, o org.Organization) error
	PutWallet(ctx context.Context, w wallet.Wallet) error
	DeleteWallet(ctx context.Context, walletID string) error

	LoadUsers(ctx context.Context) ([]User, error)
	LoadOrgs(ctx context.Context) ([]org.Organization, error)
	LoadWallets(ctx context.Context) ([]wallet.Wallet, error)

	Close() error
}
