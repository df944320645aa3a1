// Package state holds the authoritative in-memory model of organizations,
// wallets, and users, with versioned reads and writes.
//
// Wallet mutation goes through Apply, which serializes conflicting writers
// per wallet via a version-checked compare-and-apply under the wallet's own
// lock. Distinct wallets proceed fully in parallel; no cross-wallet lock is
// ever held. Reads return deep copies at a consistent version.
package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/covaulthq/covault/internal/platform/errors"
	"github.com/covaulthq/covault/internal/platform/id"
	"github.com/covaulthq/covault/internal/services/vault/domain/org"
	"github.com/covaulthq/covault/internal/services/vault/domain/wallet"
	"github.com/covaulthq/covault/internal/services/vault/storage"
)

type walletEntry struct {
	mu sync.Mutex
	w  wallet.Wallet
}

// Store is the single shared mutable resource of the server process.
type Store struct {
	persist storage.Store // nil disables write-through (tests)
	now     func() time.Time

	mu           sync.RWMutex
	users        map[string]storage.User // by user id
	usersByEmail map[string]string       // lowercase email -> user id
	orgs         map[string]org.Organization
	wallets      map[string]*walletEntry
}

// New builds a store, loading any previously persisted model.
func New(ctx context.Context, persist storage.Store, now func() time.Time) (*Store, error) {
	if now == nil {
		now = time.Now
	}
	s := &Store{
		persist:      persist,
		now:          now,
		users:        make(map[string]storage.User),
		usersByEmail: make(map[string]string),
		orgs:         make(map[string]org.Organization),
		wallets:      make(map[string]*walletEntry),
	}
	if persist == nil {
		return s, nil
	}

	users, err := persist.LoadUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	for _, u := range users {
		s.users[u.ID] = u
		s.usersByEmail[normalizeEmail(u.Email)] = u.ID
	}
	orgs, err := persist.LoadOrgs(ctx)
	if err != nil {
		return nil, fmt.Errorf("load orgs: %w", err)
	}
	for _, o := range orgs {
		s.orgs[o.ID] = o
	}
	wallets, err := persist.LoadWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("load wallets: %w", err)
	}
	for _, w := range wallets {
		s.wallets[w.ID] = &walletEntry{w: w}
	}
	return s, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ResolveOrCreateUser returns the user bound to the email, creating the user
// and their default organization on first signup.
func (s *Store) ResolveOrCreateUser(ctx context.Context, email string) (storage.User, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return storage.User{}, apperrors.New(apperrors.CodeAuthInvalidCode, "email is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if userID, ok := s.usersByEmail[normalized]; ok {
		return s.users[userID], nil
	}

	now := s.now().UTC()
	userID := "usr_" + id.MustNewID()
	orgID := "org_" + id.MustNewID()

	orgName := normalized
	if at := strings.IndexByte(normalized, '@'); at > 0 {
		orgName = normalized[:at]
	}
	defaultOrg, err := org.New(orgID, orgName, userID, normalized, now)
	if err != nil {
		return storage.User{}, err
	}
	u := storage.User{ID: userID, Email: normalized, OrgID: orgID, CreatedAt: now}

	if s.persist != nil {
		if err := s.persist.PutOrg(ctx, defaultOrg); err != nil {
			return storage.User{}, err
		}
		if err := s.persist.PutUser(ctx, u); err != nil {
			return storage.User{}, err
		}
	}
	s.orgs[orgID] = defaultOrg
	s.users[userID] = u
	s.usersByEmail[normalized] = userID
	return u, nil
}

// UserByID returns the user record for an id.
func (s *Store) UserByID(userID string) (storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

// UserByEmail returns the user record for an email, if any.
func (s *Store) UserByEmail(email string) (storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.usersByEmail[normalizeEmail(email)]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return s.users[userID], nil
}

// CreateOrg validates and stores a new organization owned by the given user.
func (s *Store) CreateOrg(ctx context.Context, name, ownerID, ownerEmail string) (org.Organization, error) {
	now := s.now().UTC()
	o, err := org.New("org_"+id.MustNewID(), name, ownerID, normalizeEmail(ownerEmail), now)
	if err != nil {
		return org.Organization{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persist != nil {
		if err := s.persist.PutOrg(ctx, o); err != nil {
			return org.Organization{}, err
		}
	}
	s.orgs[o.ID] = o
	return o.Clone(), nil
}

// Org returns a deep copy of an organization.
func (s *Store) Org(orgID string) (org.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return org.Organization{}, storage.ErrNotFound
	}
	return o.Clone(), nil
}

// AddMember adds or updates a membership entry on an organization.
func (s *Store) AddMember(ctx context.Context, orgID string, member org.Member) (org.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return org.Organization{}, storage.ErrNotFound
	}
	updated := o.Clone()
	member.Email = normalizeEmail(member.Email)
	if err := updated.AddMember(member); err != nil {
		return org.Organization{}, err
	}
	if s.persist != nil {
		if err := s.persist.PutOrg(ctx, updated); err != nil {
			return org.Organization{}, err
		}
	}
	s.orgs[orgID] = updated
	return updated.Clone(), nil
}

// RoleOf returns the requester's role in the organization.
func (s *Store) RoleOf(orgID, userID string) org.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[orgID]
	if !ok {
		return org.RoleUnspecified
	}
	return o.RoleOf(userID)
}

// CreateWallet validates and stores a new draft wallet.
func (s *Store) CreateWallet(ctx context.Context, orgID, alias string) (wallet.Wallet, error) {
	now := s.now().UTC()
	w, err := wallet.New("wlt_"+id.MustNewID(), orgID, alias, now)
	if err != nil {
		return wallet.Wallet{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[orgID]; !ok {
		return wallet.Wallet{}, storage.ErrNotFound
	}
	if s.persist != nil {
		if err := s.persist.PutWallet(ctx, w); err != nil {
			return wallet.Wallet{}, err
		}
	}
	s.wallets[w.ID] = &walletEntry{w: w}
	return w.Clone(), nil
}

// DeleteWallet removes a draft wallet after a version check. A non-nil
// deleted callback runs with the removed wallet while the entry is still
// locked, mirroring Apply's publish ordering.
func (s *Store) DeleteWallet(ctx context.Context, walletID string, expectedVersion uint64, deleted func(wallet.Wallet)) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.wallets[walletID]
	if !ok {
		return wallet.Wallet{}, storage.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.w.Version != expectedVersion {
		return wallet.Wallet{}, staleVersionError(entry.w.Version, expectedVersion)
	}
	if entry.w.Status != wallet.StatusDraft {
		return wallet.Wallet{}, wallet.ErrNotDraft
	}
	if s.persist != nil {
		if err := s.persist.DeleteWallet(ctx, walletID); err != nil {
			return wallet.Wallet{}, err
		}
	}
	removed := entry.w.Clone()
	delete(s.wallets, walletID)
	if deleted != nil {
		deleted(removed)
	}
	return removed, nil
}

// Snapshot returns a deep copy of a wallet at a consistent version.
func (s *Store) Snapshot(walletID string) (wallet.Wallet, error) {
	s.mu.RLock()
	entry, ok := s.wallets[walletID]
	s.mu.RUnlock()
	if !ok {
		return wallet.Wallet{}, storage.ErrNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.w.Clone(), nil
}

// WalletsForOrg returns deep copies of every wallet of an organization,
// ordered by creation time for stable listings.
func (s *Store) WalletsForOrg(orgID string) []wallet.Wallet {
	s.mu.RLock()
	entries := make([]*walletEntry, 0)
	for _, entry := range s.wallets {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	var wallets []wallet.Wallet
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.w.OrgID == orgID {
			wallets = append(wallets, entry.w.Clone())
		}
		entry.mu.Unlock()
	}
	sort.Slice(wallets, func(i, j int) bool {
		if wallets[i].CreatedAt.Equal(wallets[j].CreatedAt) {
			return wallets[i].ID < wallets[j].ID
		}
		return wallets[i].CreatedAt.Before(wallets[j].CreatedAt)
	})
	return wallets
}

// Apply runs a version-checked mutation against a wallet. On success the
// wallet version increments by exactly one and the updated wallet is
// persisted before the entry lock is released, so write-through order matches
// version order. A non-nil applied callback runs with the committed deep copy
// while the entry is still locked; anything it publishes therefore observes
// commits in version order. The same deep copy is returned.
func (s *Store) Apply(ctx context.Context, walletID string, expectedVersion uint64, mutate func(*wallet.Wallet) error, applied func(wallet.Wallet)) (wallet.Wallet, error) {
	s.mu.RLock()
	entry, ok := s.wallets[walletID]
	s.mu.RUnlock()
	if !ok {
		return wallet.Wallet{}, storage.ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.w.Version != expectedVersion {
		return wallet.Wallet{}, staleVersionError(entry.w.Version, expectedVersion)
	}

	// Mutate a copy so a failed validation leaves the entry untouched.
	updated := entry.w.Clone()
	if err := mutate(&updated); err != nil {
		return wallet.Wallet{}, err
	}
	updated.Version = entry.w.Version + 1
	updated.UpdatedAt = s.now().UTC()

	if s.persist != nil {
		if err := s.persist.PutWallet(ctx, updated); err != nil {
			return wallet.Wallet{}, apperrors.Wrap(apperrors.CodeInternal, "persist wallet", err)
		}
	}
	entry.w = updated
	committed := updated.Clone()
	if applied != nil {
		applied(committed)
	}
	return committed, nil
}

func staleVersionError(current, expected uint64) error {
	return apperrors.WithMetadata(apperrors.CodeConflictStaleVersion, "wallet version is stale", map[string]string{
		"current_version":  fmt.Sprintf("%d", current),
		"expected_version": fmt.Sprintf("%d", expected),
	})
}
