package config

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/exafs/flowadmin/internal/model"
)

// Store persists the portal's state: organizations, users, machine keys, and
// rules. SQLite is the default backend; MySQL and PostgreSQL are selected via
// the database config for deployments that already run one.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewStore opens the portal database described by cfg and runs migrations.
// For the sqlite driver an empty DataDir means in-memory (used by tests).
func NewStore(cfg DatabaseConfig) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch driver {
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			if cfg.DataDir == "" {
				dsn = ":memory:?_journal_mode=WAL"
			} else {
				if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
					return nil, fmt.Errorf("create data dir: %w", err)
				}
				dsn = filepath.Join(cfg.DataDir, "flowadmin.db") + "?_journal_mode=WAL&_busy_timeout=5000"
			}
		}
		db, err = sqlx.Connect("sqlite", dsn)
		if err == nil {
			db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes
			if _, ferr := db.Exec("PRAGMA foreign_keys = ON"); ferr != nil {
				return nil, fmt.Errorf("enable foreign keys: %w", ferr)
			}
		}
	case "mysql":
		db, err = sqlx.Connect("mysql", cfg.DSN)
	case "postgres":
		db, err = sqlx.Connect("pgx", cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open portal database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate portal database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind translates ?-style placeholders for the active driver.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

// insertQuery adapts an INSERT for the active driver. pgx has no
// LastInsertId, so the postgres form appends RETURNING id and the caller
// scans the id from the row instead.
func insertQuery(driver, query string) string {
	if driver == "postgres" {
		return query + " RETURNING id"
	}
	return query
}

// insert runs an INSERT and returns the id of the new row.
func (s *Store) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	q := s.rebind(insertQuery(s.driver, query))
	if s.driver == "postgres" {
		var id int64
		err := s.db.QueryRowContext(ctx, q, args...).Scan(&id)
		return id, err
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ---------------------------------------------------------------------------
// Organizations
// ---------------------------------------------------------------------------

// CreateOrganization inserts a new organization and sets its ID.
func (s *Store) CreateOrganization(ctx context.Context, org *model.Organization) error {
	org.CreatedAt = time.Now().UTC()
	id, err := s.insert(ctx,
		`INSERT INTO organizations (name, ranges, created_at) VALUES (?, ?, ?)`,
		org.Name, org.Ranges, org.CreatedAt)
	if err != nil {
		return err
	}
	org.ID = id
	return nil
}

// GetOrganization fetches one organization by id.
func (s *Store) GetOrganization(ctx context.Context, id int64) (*model.Organization, error) {
	var org model.Organization
	err := s.db.GetContext(ctx, &org, s.rebind(
		`SELECT * FROM organizations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// GetOrganizationByName fetches one organization by name.
func (s *Store) GetOrganizationByName(ctx context.Context, name string) (*model.Organization, error) {
	var org model.Organization
	err := s.db.GetContext(ctx, &org, s.rebind(
		`SELECT * FROM organizations WHERE name = ?`), name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// ListOrganizations returns all organizations.
func (s *Store) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	var orgs []model.Organization
	err := s.db.SelectContext(ctx, &orgs, `SELECT * FROM organizations ORDER BY name`)
	return orgs, err
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new portal user. PasswordHash must already be hashed
// (use HashSecret).
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.CreatedAt = time.Now().UTC()
	id, err := s.insert(ctx,
		`INSERT INTO users (uuid, email, name, password_hash, role, read_only, org_id, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UUID, u.Email, u.Name, u.PasswordHash, u.Role, u.ReadOnly, u.OrgID, u.IsActive, u.CreatedAt)
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

// GetUserByEmail fetches one user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.rebind(
		`SELECT * FROM users WHERE email = ?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUser fetches one user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := s.db.GetContext(ctx, &u, s.rebind(`SELECT * FROM users WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns all users.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	err := s.db.SelectContext(ctx, &users, `SELECT * FROM users ORDER BY email`)
	return users, err
}

// HasAnyUser reports whether at least one user account exists.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM users`)
	return count > 0, err
}

// UpdateUserLastLogin stamps the user's last login time.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE users SET last_login_at = ? WHERE id = ?`), time.Now().UTC(), id)
	return err
}

// ---------------------------------------------------------------------------
// Machine keys
// ---------------------------------------------------------------------------

// CreateMachineKey inserts a new machine key. KeyHash must already be hashed
// (use HashSecret). The ID and CreatedAt fields are populated after insert.
func (s *Store) CreateMachineKey(ctx context.Context, key *model.MachineKey) error {
	key.CreatedAt = time.Now().UTC()
	id, err := s.insert(ctx,
		`INSERT INTO machine_keys (key_hash, key_prefix, label, org_id, read_only, is_active, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		key.KeyHash, key.KeyPrefix, key.Label, key.OrgID, key.ReadOnly, key.IsActive, key.ExpiresAt, key.CreatedAt)
	if err != nil {
		return err
	}
	key.ID = id
	return nil
}

// GetMachineKeyByHash fetches one machine key by its SHA-256 hash.
func (s *Store) GetMachineKeyByHash(ctx context.Context, hash string) (*model.MachineKey, error) {
	var key model.MachineKey
	err := s.db.GetContext(ctx, &key, s.rebind(
		`SELECT * FROM machine_keys WHERE key_hash = ?`), hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// ListMachineKeys returns all machine keys, newest first.
func (s *Store) ListMachineKeys(ctx context.Context) ([]model.MachineKey, error) {
	var keys []model.MachineKey
	err := s.db.SelectContext(ctx, &keys, `SELECT * FROM machine_keys ORDER BY created_at DESC`)
	return keys, err
}

// RevokeMachineKey deactivates a machine key by id.
func (s *Store) RevokeMachineKey(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE machine_keys SET is_active = 0 WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeMachineKeyByPrefix deactivates a machine key by its display prefix.
func (s *Store) RevokeMachineKeyByPrefix(ctx context.Context, prefix string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE machine_keys SET is_active = 0 WHERE key_prefix = ?`), prefix)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMachineKeyLastUsed stamps the key's last used time.
func (s *Store) UpdateMachineKeyLastUsed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE machine_keys SET last_used = ? WHERE id = ?`), time.Now().UTC(), id)
	return err
}

// ---------------------------------------------------------------------------
// Rules
// ---------------------------------------------------------------------------

// CreateRule inserts a normalized rule and sets its ID.
func (s *Store) CreateRule(ctx context.Context, r *model.Rule) error {
	r.CreatedAt = time.Now().UTC()
	if r.State == "" {
		r.State = model.StateActive
	}
	id, err := s.insert(ctx,
		`INSERT INTO rules (kind, source, source_mask, source_port, dest, dest_mask, dest_port,
		 protocol, packet_len, flags, action_id, community, expires_at, user_id, org_id, state,
		 remote_id, dispatched, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Kind, r.Source, r.SourceMask, r.SourcePort, r.Dest, r.DestMask, r.DestPort,
		r.Protocol, r.PacketLength, r.Flags, r.ActionID, r.Community, r.ExpiresAt.UTC(),
		r.UserID, r.OrgID, r.State, r.RemoteID, r.Dispatched, r.CreatedAt)
	if err != nil {
		return err
	}
	r.ID = id
	return nil
}

// GetRule fetches one rule by id.
func (s *Store) GetRule(ctx context.Context, id int64) (*model.Rule, error) {
	var r model.Rule
	err := s.db.GetContext(ctx, &r, s.rebind(`SELECT * FROM rules WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRules returns rules visible to the given organization. Pass orgID 0
// for the admin view covering every organization.
func (s *Store) ListRules(ctx context.Context, orgID int64) ([]model.Rule, error) {
	var rules []model.Rule
	if orgID == 0 {
		err := s.db.SelectContext(ctx, &rules, `SELECT * FROM rules ORDER BY created_at DESC`)
		return rules, err
	}
	err := s.db.SelectContext(ctx, &rules, s.rebind(
		`SELECT * FROM rules WHERE org_id = ? ORDER BY created_at DESC`), orgID)
	return rules, err
}

// UpdateRuleDispatch records the outcome of a dispatch attempt: whether the
// rule reached its backends and the id the remote backend assigned.
func (s *Store) UpdateRuleDispatch(ctx context.Context, id int64, dispatched bool, remoteID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE rules SET dispatched = ?, remote_id = ? WHERE id = ?`), dispatched, remoteID, id)
	return err
}

// UpdateRuleState transitions a rule between active/withdrawn/expired.
func (s *Store) UpdateRuleState(ctx context.Context, id int64, state string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE rules SET state = ? WHERE id = ?`), state, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListExpiredRules returns active rules whose expiration has passed.
func (s *Store) ListExpiredRules(ctx context.Context, now time.Time) ([]model.Rule, error) {
	var rules []model.Rule
	err := s.db.SelectContext(ctx, &rules, s.rebind(
		`SELECT * FROM rules WHERE state = ? AND expires_at <= ?`), model.StateActive, now.UTC())
	return rules, err
}

// HashSecret returns the hex-encoded SHA-256 hash of a raw secret string
// (machine keys, user passwords).
func HashSecret(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
