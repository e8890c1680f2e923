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

func (c *sqliteClient) GetBotAdmin(ctx context.Context, chatID, userID int64) (*db.BotAdmin, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	admin := &db.BotAdmin{}
	err := c.db.GetContext(ctx, admin, `SELECT chat_id, user_id, role, added_by, created_at FROM bot_admins WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get bot admin: %w", err)
	}
	return admin, nil
}

func (c *sqliteClient) ListBotAdmins(ctx context.Context, chatID int64) ([]*db.BotAdmin, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	var admins []*db.BotAdmin
	err := c.db.SelectContext(ctx, &admins, `SELECT chat_id, user_id, role, added_by, created_at FROM bot_admins WHERE chat_id = ? ORDER BY created_at, user_id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("list bot admins: %w", err)
	}
	return admins, nil
}

func (c *sqliteClient) UpsertBotAdmin(ctx context.Context, admin *db.BotAdmin) error {
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = time.Now().UTC()
	}
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO bot_admins (chat_id, user_id, role, added_by, created_at)
			VALUES (:chat_id, :user_id, :role, :added_by, :created_at)
			ON CONFLICT(chat_id, user_id) DO UPDATE SET
			role = excluded.role,
			added_by = excluded.added_by
		`
		if _, err := tx.NamedExecContext(ctx, query, admin); err != nil {
			return fmt.Errorf("upsert bot admin: %w", err)
		}
		return nil
	})
}

func (c *sqliteClient) DeleteBotAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM bot_admins WHERE chat_id = ? AND user_id = ?`, chatID, userID)
	if err != nil {
		return false, fmt.Errorf("delete bot admin: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete bot admin: %w", err)
	}
	return n > 0, nil
}
