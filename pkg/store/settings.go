package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Setting keys the serving path reads at request time. Runtime settings
// live in the database so the web UI can change them without a restart;
// config.toml supplies the process-level defaults.
const (
	SettingMemoryTopK              = "memory_top_k"
	SettingMemorySilentMinutes     = "memory_silent_minutes"
	SettingMemoryExtractionEnabled = "memory_extraction_enabled"
	SettingMemoryContextMessages   = "memory_context_messages"
	SettingDefaultChatProviderID   = "default_chat_provider_id"
	SettingDefaultChatModel        = "default_chat_model"
	SettingEmbeddingProviderID     = "embedding_provider_id"
	SettingEmbeddingModel          = "embedding_model"
)

// GetSetting returns the value for a key, or ErrNotFound.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("querying setting: %w", err)
	}
	return value, nil
}

// SetSetting inserts or replaces a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value,
	)
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	return nil
}

// AllSettings returns every setting as a map.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		settings[k] = v
	}
	return settings, rows.Err()
}
