package config

import (
	"fmt"
	"strings"
)

func (s *Store) migrate() error {
	autoPK := "INTEGER PRIMARY KEY AUTOINCREMENT"
	now := "CURRENT_TIMESTAMP"
	switch s.driver {
	case "mysql":
		autoPK = "BIGINT PRIMARY KEY AUTO_INCREMENT"
	case "postgres":
		autoPK = "BIGSERIAL PRIMARY KEY"
	}

	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS organizations (
			id %s,
			name TEXT NOT NULL,
			ranges TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL DEFAULT %s
		)`, autoPK, now),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			id %s,
			uuid TEXT NOT NULL,
			email TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'view',
			read_only INTEGER NOT NULL DEFAULT 0,
			org_id INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_login_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT %s
		)`, autoPK, now),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS machine_keys (
			id %s,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			org_id INTEGER NOT NULL DEFAULT 0,
			read_only INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			expires_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT %s,
			last_used TIMESTAMP
		)`, autoPK, now),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS rules (
			id %s,
			kind TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			source_mask INTEGER NOT NULL DEFAULT 0,
			source_port TEXT NOT NULL DEFAULT '',
			dest TEXT NOT NULL DEFAULT '',
			dest_mask INTEGER NOT NULL DEFAULT 0,
			dest_port TEXT NOT NULL DEFAULT '',
			protocol TEXT NOT NULL DEFAULT '',
			packet_len TEXT NOT NULL DEFAULT '',
			flags TEXT NOT NULL DEFAULT '',
			action_id INTEGER NOT NULL DEFAULT 1,
			community TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMP NOT NULL,
			user_id INTEGER NOT NULL DEFAULT 0,
			org_id INTEGER NOT NULL DEFAULT 0,
			state TEXT NOT NULL DEFAULT 'active',
			remote_id TEXT NOT NULL DEFAULT '',
			dispatched INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT %s
		)`, autoPK, now),

		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
		`CREATE INDEX IF NOT EXISTS idx_machine_keys_hash ON machine_keys(key_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_state ON rules(state)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_org ON rules(org_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// MySQL predates IF NOT EXISTS for indexes; a duplicate index
			// error on re-run is not a failure.
			if strings.Contains(strings.ToLower(err.Error()), "duplicate") {
				continue
			}
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
