package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Ban represents one entry in the ban list.
type Ban struct {
	Username  string    `json:"username"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// BanStore manages the ban list and the login audit log. Username matches
// are case-insensitive.
type BanStore struct {
	db *Database
}

// NewBanStore creates the store and runs its schema migration.
func NewBanStore(database *Database) (*BanStore, error) {
	bs := &BanStore{db: database}
	if err := bs.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate ban store: %w", err)
	}
	return bs, nil
}

// migrate creates the database schema.
func (bs *BanStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS bans (
			username TEXT COLLATE NOCASE PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS login_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL,
			uuid TEXT NOT NULL,
			remote_addr TEXT NOT NULL,
			event TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);

		CREATE INDEX IF NOT EXISTS idx_login_log_username ON login_log(username);
	`

	if _, err := bs.db.Exec(schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("ban store schema migrated")
	return nil
}

// IsBanned reports whether username is banned and, if so, the recorded
// reason.
func (bs *BanStore) IsBanned(username string) (bool, string, error) {
	var reason string
	err := bs.db.QueryRow(
		"SELECT reason FROM bans WHERE username = ?", username,
	).Scan(&reason)
	if err == sql.ErrNoRows {
		return false, "", nil
	}
	if err != nil {
		return false, "", fmt.Errorf("failed to query ban list: %w", err)
	}
	return true, reason, nil
}

// Ban adds or updates a ban entry.
func (bs *BanStore) Ban(username, reason string) error {
	_, err := bs.db.Exec(
		`INSERT INTO bans (username, reason) VALUES (?, ?)
		 ON CONFLICT(username) DO UPDATE SET reason = excluded.reason`,
		username, reason,
	)
	if err != nil {
		return fmt.Errorf("failed to ban %s: %w", username, err)
	}
	log.Info().Str("username", username).Str("reason", reason).Msg("player banned")
	return nil
}

// Unban removes a ban entry. Removing a name that is not banned is not an
// error.
func (bs *BanStore) Unban(username string) error {
	_, err := bs.db.Exec("DELETE FROM bans WHERE username = ?", username)
	if err != nil {
		return fmt.Errorf("failed to unban %s: %w", username, err)
	}
	log.Info().Str("username", username).Msg("player unbanned")
	return nil
}

// List returns every ban entry ordered by name.
func (bs *BanStore) List() ([]Ban, error) {
	rows, err := bs.db.Query(
		"SELECT username, reason, created_at FROM bans ORDER BY username",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bans: %w", err)
	}
	defer rows.Close()

	var bans []Ban
	for rows.Next() {
		var b Ban
		if err := rows.Scan(&b.Username, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ban row: %w", err)
		}
		bans = append(bans, b)
	}
	return bans, rows.Err()
}

// RecordLogin appends a join or quit entry to the login audit log.
func (bs *BanStore) RecordLogin(username, uuid, remoteAddr, event string) error {
	_, err := bs.db.Exec(
		"INSERT INTO login_log (username, uuid, remote_addr, event) VALUES (?, ?, ?, ?)",
		username, uuid, remoteAddr, event,
	)
	if err != nil {
		return fmt.Errorf("failed to record login event: %w", err)
	}
	return nil
}
