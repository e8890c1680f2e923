package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iamwavecut/ngguard/internal/db"
)

// UpsertKnownUser records the latest username of a user. A username moves
// with its owner, so it is cleared from whoever held it before.
func (c *sqliteClient) UpsertKnownUser(ctx context.Context, user *db.KnownUser) error {
	username := db.NormalizeUsername(user.Username)
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		if username != "" {
			if _, err := tx.ExecContext(ctx, `UPDATE known_users SET username = '' WHERE username = ? AND user_id != ?`, username, user.UserID); err != nil {
				return fmt.Errorf("release username %q: %w", username, err)
			}
		}
		query := `
			INSERT INTO known_users (user_id, username, first_name, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			updated_at = excluded.updated_at
		`
		if _, err := tx.ExecContext(ctx, query, user.UserID, username, user.FirstName, time.Now().UTC()); err != nil {
			return fmt.Errorf("upsert known user %d: %w", user.UserID, err)
		}
		return nil
	})
}

func (c *sqliteClient) GetKnownUserByUsername(ctx context.Context, username string) (*db.KnownUser, error) {
	username = db.NormalizeUsername(username)
	if username == "" {
		return nil, nil
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	user := &db.KnownUser{}
	err := c.db.GetContext(ctx, user, `SELECT user_id, username, first_name, updated_at FROM known_users WHERE username = ? ORDER BY updated_at DESC LIMIT 1`, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get known user %q: %w", username, err)
	}
	return user, nil
}

func (c *sqliteClient) GetUserPrefs(ctx context.Context, userID int64) (*db.UserPrefs, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	prefs := &db.UserPrefs{}
	err := c.db.GetContext(ctx, prefs, `SELECT user_id, delete_mod_commands, updated_at FROM user_prefs WHERE user_id = ?`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &db.UserPrefs{UserID: userID}, nil
		}
		return nil, fmt.Errorf("get user prefs %d: %w", userID, err)
	}
	return prefs, nil
}

func (c *sqliteClient) SetDeleteModCommands(ctx context.Context, userID int64, enabled bool) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	query := `
		INSERT INTO user_prefs (user_id, delete_mod_commands, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		delete_mod_commands = excluded.delete_mod_commands,
		updated_at = excluded.updated_at
	`
	if _, err := c.db.ExecContext(ctx, query, userID, enabled, time.Now().UTC()); err != nil {
		return fmt.Errorf("set user prefs %d: %w", userID, err)
	}
	return nil
}
