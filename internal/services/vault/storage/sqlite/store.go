// Package sqlite provides the SQLite-backed persistence store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/covaulthq/covault/internal/platform/storage/sqlitemigrate"
	"github.com/covaulthq/covault/internal/services/vault/domain/org"
	"github.com/covaulthq/covault/internal/services/vault/domain/wallet"
	"github.com/covaulthq/covault/internal/services/vault/storage"
	"github.com/covaulthq/covault/internal/services/vault/storage/sqlite/migrations"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store is a SQLite-backed implementation of storage.Store.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a SQLite store at the provided path and applies embedded
// migrations before the store is handed to higher layers.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// PutUser upserts a user record.
func (s *Store) PutUser(ctx context.Context, u storage.User) error {
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, email, org_id, created_at) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET email = excluded.email, org_id = excluded.org_id`,
		u.ID, u.Email, u.OrgID, toMillis(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("put user %s: %w", u.ID, err)
	}
	return nil
}

// PutOrg upserts an organization and replaces its membership rows.
func (s *Store) PutOrg(ctx context.Context, o org.Organization) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put org: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO orgs (id, name, created_at) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name`,
		o.ID, o.Name, toMillis(o.CreatedAt)); err != nil {
		return fmt.Errorf("put org %s: %w", o.ID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM org_members WHERE org_id = ?", o.ID); err != nil {
		return fmt.Errorf("clear org members %s: %w", o.ID, err)
	}
	for _, member := range o.Members {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO org_members (org_id, user_id, email, role) VALUES (?, ?, ?, ?)`,
			o.ID, member.UserID, member.Email, member.Role.String()); err != nil {
			return fmt.Errorf("put org member %s/%s: %w", o.ID, member.UserID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put org %s: %w", o.ID, err)
	}
	return nil
}

// PutWallet upserts a wallet, its template, and its key rows.
func (s *Store) PutWallet(ctx context.Context, w wallet.Wallet) error {
	templateJSON, err := json.Marshal(templateToRow(w.Template))
	if err != nil {
		return fmt.Errorf("marshal template for wallet %s: %w", w.ID, err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin put wallet: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO wallets (id, org_id, alias, status, version, template_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    alias = excluded.alias,
    status = excluded.status,
    version = excluded.version,
    template_json = excluded.template_json,
    updated_at = excluded.updated_at`,
		w.ID, w.OrgID, w.Alias, w.Status.String(), w.Version, string(templateJSON),
		toMillis(w.CreatedAt), toMillis(w.UpdatedAt)); err != nil {
		return fmt.Errorf("put wallet %s: %w", w.ID, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM wallet_keys WHERE wallet_id = ?", w.ID); err != nil {
		return fmt.Errorf("clear wallet keys %s: %w", w.ID, err)
	}
	for _, key := range w.Keys {
		ready := 0
		if key.Ready {
			ready = 1
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO wallet_keys (wallet_id, key_id, alias, description, participant_email, key_type, xpub, ready)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, key.ID, key.Alias, key.Description, key.ParticipantEmail,
			key.Type.String(), key.XPub, ready); err != nil {
			return fmt.Errorf("put wallet key %s/%s: %w", w.ID, key.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit put wallet %s: %w", w.ID, err)
	}
	return nil
}

// DeleteWallet removes a wallet and its keys.
func (s *Store) DeleteWallet(ctx context.Context, walletID string) error {
	if _, err := s.sqlDB.ExecContext(ctx, "DELETE FROM wallets WHERE id = ?", walletID); err != nil {
		return fmt.Errorf("delete wallet %s: %w", walletID, err)
	}
	return nil
}

// LoadUsers returns every persisted user.
func (s *Store) LoadUsers(ctx context.Context) ([]storage.User, error) {
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT id, email, org_id, created_at FROM users")
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()

	var users []storage.User
	for rows.Next() {
		var u storage.User
		var createdAt int64
		if err := rows.Scan(&u.ID, &u.Email, &u.OrgID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.CreatedAt = fromMillis(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// LoadOrgs returns every persisted organization with its membership.
func (s *Store) LoadOrgs(ctx context.Context) ([]org.Organization, error) {
	rows, err := s.sqlDB.QueryContext(ctx, "SELECT id, name, created_at FROM orgs")
	if err != nil {
		return nil, fmt.Errorf("load orgs: %w", err)
	}
	defer rows.Close()

	var orgs []org.Organization
	for rows.Next() {
		o := org.Organization{Members: make(map[string]org.Member)}
		var createdAt int64
		if err := rows.Scan(&o.ID, &o.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("scan org: %w", err)
		}
		o.CreatedAt = fromMillis(createdAt)
		orgs = append(orgs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orgs {
		memberRows, err := s.sqlDB.QueryContext(ctx,
			"SELECT user_id, email, role FROM org_members WHERE org_id = ?", orgs[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load org members %s: %w", orgs[i].ID, err)
		}
		for memberRows.Next() {
			var member org.Member
			var roleName string
			if err := memberRows.Scan(&member.UserID, &member.Email, &roleName); err != nil {
				_ = memberRows.Close()
				return nil, fmt.Errorf("scan org member: %w", err)
			}
			role, err := org.ParseRole(roleName)
			if err != nil {
				_ = memberRows.Close()
				return nil, fmt.Errorf("org %s member %s: %w", orgs[i].ID, member.UserID, err)
			}
			member.Role = role
			orgs[i].Members[member.UserID] = member
		}
		if err := memberRows.Err(); err != nil {
			_ = memberRows.Close()
			return nil, err
		}
		_ = memberRows.Close()
	}
	return orgs, nil
}

// LoadWallets returns every persisted wallet with its template and keys.
func (s *Store) LoadWallets(ctx context.Context) ([]wallet.Wallet, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, org_id, alias, status, version, template_json, created_at, updated_at FROM wallets`)
	if err != nil {
		return nil, fmt.Errorf("load wallets: %w", err)
	}
	defer rows.Close()

	var wallets []wallet.Wallet
	for rows.Next() {
		w := wallet.Wallet{Keys: make(map[string]wallet.Key)}
		var statusName, templateJSON string
		var createdAt, updatedAt int64
		if err := rows.Scan(&w.ID, &w.OrgID, &w.Alias, &statusName, &w.Version, &templateJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan wallet: %w", err)
		}
		status, err := wallet.ParseStatus(statusName)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", w.ID, err)
		}
		w.Status = status
		var row templateRow
		if err := json.Unmarshal([]byte(templateJSON), &row); err != nil {
			return nil, fmt.Errorf("unmarshal template for wallet %s: %w", w.ID, err)
		}
		w.Template = templateFromRow(row)
		w.CreatedAt = fromMillis(createdAt)
		w.UpdatedAt = fromMillis(updatedAt)
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range wallets {
		keyRows, err := s.sqlDB.QueryContext(ctx, `
SELECT key_id, alias, description, participant_email, key_type, xpub, ready
FROM wallet_keys WHERE wallet_id = ?`, wallets[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load wallet keys %s: %w", wallets[i].ID, err)
		}
		for keyRows.Next() {
			var key wallet.Key
			var typeName string
			var ready int
			if err := keyRows.Scan(&key.ID, &key.Alias, &key.Description, &key.ParticipantEmail, &typeName, &key.XPub, &ready); err != nil {
				_ = keyRows.Close()
				return nil, fmt.Errorf("scan wallet key: %w", err)
			}
			keyType, err := wallet.ParseKeyType(typeName)
			if err != nil {
				_ = keyRows.Close()
				return nil, fmt.Errorf("wallet %s key %s: %w", wallets[i].ID, key.ID, err)
			}
			key.Type = keyType
			key.Ready = ready != 0
			wallets[i].Keys[key.ID] = key
		}
		if err := keyRows.Err(); err != nil {
			_ = keyRows.Close()
			return nil, err
		}
		_ = keyRows.Close()
	}
	return wallets, nil
}

// templateRow is the persisted JSON shape of a policy template.
type templateRow struct {
	Paths []pathRow `json:"paths"`
}

type pathRow struct {
	Threshold int      `json:"threshold"`
	Timelock  uint32   `json:"timelock,omitempty"`
	KeyIDs    []string `json:"key_ids"`
}

func templateToRow(t wallet.PolicyTemplate) templateRow {
	row := templateRow{Paths: make([]pathRow, len(t.Paths))}
	for i, path := range t.Paths {
		row.Paths[i] = pathRow{
			Threshold: path.Threshold,
			Timelock:  path.Timelock,
			KeyIDs:    append([]string(nil), path.KeyIDs...),
		}
	}
	return row
}

func templateFromRow(row templateRow) wallet.PolicyTemplate {
	t := wallet.PolicyTemplate{Paths: make([]wallet.SpendingPath, len(row.Paths))}
	for i, path := range row.Paths {
		t.Paths[i] = wallet.SpendingPath{
			Threshold: path.Threshold,
			Timelock:  path.Timelock,
			KeyIDs:    append([]string(nil), path.KeyIDs...),
		}
	}
	return t
}
