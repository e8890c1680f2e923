package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/iamwavecut/ngguard/internal/captcha"
	"github.com/iamwavecut/ngguard/internal/db"
)

func loadFeature[T any](ctx context.Context, q sqlx.QueryerContext, chatID int64, feature string, value *T) error {
	var raw string
	err := sqlx.GetContext(ctx, q, &raw, `SELECT value FROM chat_features WHERE chat_id = ? AND feature = ?`, chatID, feature)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("get %s for chat %d: %w", feature, chatID, err)
	}
	if err := json.Unmarshal([]byte(raw), value); err != nil {
		return fmt.Errorf("decode %s for chat %d: %w", feature, chatID, err)
	}
	return nil
}

func storeFeature[T any](ctx context.Context, tx *sqlx.Tx, chatID int64, feature string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", feature, err)
	}
	query := `
		INSERT INTO chat_features (chat_id, feature, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(chat_id, feature) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, chatID, feature, string(raw), time.Now().UTC()); err != nil {
		return fmt.Errorf("set %s for chat %d: %w", feature, chatID, err)
	}
	return nil
}

func getFeature[T any](ctx context.Context, c *sqliteClient, chatID int64, feature string, def T) (T, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	value := def
	if err := loadFeature(ctx, c.db, chatID, feature, &value); err != nil {
		return def, err
	}
	return value, nil
}

// updateFeature reads, mutates and writes a feature in one transaction.
func updateFeature[T any](ctx context.Context, c *sqliteClient, chatID int64, feature string, def T, fn func(*T) error) (T, error) {
	value := def
	err := c.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := loadFeature(ctx, tx, chatID, feature, &value); err != nil {
			return err
		}
		if err := fn(&value); err != nil {
			return err
		}
		return storeFeature(ctx, tx, chatID, feature, value)
	})
	if err != nil {
		return def, err
	}
	return value, nil
}

func (c *sqliteClient) GetCaptchaSettings(ctx context.Context, chatID int64) (captcha.Settings, error) {
	s, err := getFeature(ctx, c, chatID, db.FeatureCaptcha, captcha.DefaultSettings())
	s.Normalize()
	return s, err
}

func (c *sqliteClient) UpdateCaptchaSettings(ctx context.Context, chatID int64, fn func(*captcha.Settings) error) (captcha.Settings, error) {
	return updateFeature(ctx, c, chatID, db.FeatureCaptcha, captcha.DefaultSettings(), func(s *captcha.Settings) error {
		if err := fn(s); err != nil {
			return err
		}
		s.Normalize()
		return nil
	})
}

func (c *sqliteClient) GetCASSettings(ctx context.Context, chatID int64) (db.CASSettings, error) {
	return getFeature(ctx, c, chatID, db.FeatureCAS, db.DefaultCASSettings())
}

func (c *sqliteClient) UpdateCASSettings(ctx context.Context, chatID int64, fn func(*db.CASSettings) error) (db.CASSettings, error) {
	return updateFeature(ctx, c, chatID, db.FeatureCAS, db.DefaultCASSettings(), fn)
}

func (c *sqliteClient) GetLockdown(ctx context.Context, chatID int64) (db.Lockdown, error) {
	return getFeature(ctx, c, chatID, db.FeatureLockdown, db.DefaultLockdown())
}

func (c *sqliteClient) UpdateLockdown(ctx context.Context, chatID int64, fn func(*db.Lockdown) error) (db.Lockdown, error) {
	return updateFeature(ctx, c, chatID, db.FeatureLockdown, db.DefaultLockdown(), fn)
}

func (c *sqliteClient) GetWelcomeSettings(ctx context.Context, chatID int64) (db.WelcomeSettings, error) {
	return getFeature(ctx, c, chatID, db.FeatureWelcome, db.DefaultWelcomeSettings())
}

func (c *sqliteClient) UpdateWelcomeSettings(ctx context.Context, chatID int64, fn func(*db.WelcomeSettings) error) (db.WelcomeSettings, error) {
	return updateFeature(ctx, c, chatID, db.FeatureWelcome, db.DefaultWelcomeSettings(), fn)
}

// MigrateChat moves features and bot admins of a group that became a supergroup.
func (c *sqliteClient) MigrateChat(ctx context.Context, from, to int64) error {
	return c.withTx(ctx, func(tx *sqlx.Tx) error {
		statements := []string{
			`DELETE FROM chat_features WHERE chat_id = ? AND feature IN (SELECT feature FROM chat_features WHERE chat_id = ?)`,
			`UPDATE chat_features SET chat_id = ? WHERE chat_id = ?`,
			`DELETE FROM bot_admins WHERE chat_id = ? AND user_id IN (SELECT user_id FROM bot_admins WHERE chat_id = ?)`,
			`UPDATE bot_admins SET chat_id = ? WHERE chat_id = ?`,
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, to, from); err != nil {
				return fmt.Errorf("migrate chat %d to %d: %w", from, to, err)
			}
		}
		return nil
	})
}
