package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const providerColumns = `id, name, base_url, api_key, enabled, created_at`

// CreateProvider registers an OpenAI-compatible upstream.
func (s *Store) CreateProvider(ctx context.Context, name, baseURL, apiKey string, enabled bool) (*Provider, error) {
	p := &Provider{
		ID:        uuid.NewString(),
		Name:      name,
		BaseURL:   baseURL,
		APIKey:    apiKey,
		Enabled:   enabled,
		CreatedAt: time.Now(),
	}

	enabledInt := 0
	if enabled {
		enabledInt = 1
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO providers (id, name, base_url, api_key, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.BaseURL, p.APIKey, enabledInt, formatTime(p.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting provider: %w", err)
	}

	return p, nil
}

// ListProviders returns all providers, newest first.
func (s *Store) ListProviders(ctx context.Context) ([]Provider, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM providers ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying providers: %w", err)
	}
	defer rows.Close()

	var providers []Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		providers = append(providers, *p)
	}
	return providers, rows.Err()
}

// GetProvider returns a provider by id, or ErrNotFound.
func (s *Store) GetProvider(ctx context.Context, id string) (*Provider, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM providers WHERE id = ?`, id,
	)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying provider: %w", err)
	}
	return p, nil
}

// UpdateProvider updates a provider. An empty apiKey keeps the stored key.
func (s *Store) UpdateProvider(ctx context.Context, id, name, baseURL, apiKey string, enabled bool) (*Provider, error) {
	enabledInt := 0
	if enabled {
		enabledInt = 1
	}

	var (
		res sql.Result
		err error
	)
	if apiKey != "" {
		res, err = s.db.ExecContext(ctx,
			`UPDATE providers SET name = ?, base_url = ?, api_key = ?, enabled = ? WHERE id = ?`,
			name, baseURL, apiKey, enabledInt, id,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE providers SET name = ?, base_url = ?, enabled = ? WHERE id = ?`,
			name, baseURL, enabledInt, id,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("updating provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	return s.GetProvider(ctx, id)
}

// DeleteProvider deletes a provider row.
func (s *Store) DeleteProvider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting provider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProvider(row rowScanner) (*Provider, error) {
	var p Provider
	var enabled int
	var createdAt string

	err := row.Scan(&p.ID, &p.Name, &p.BaseURL, &p.APIKey, &enabled, &createdAt)
	if err != nil {
		return nil, err
	}

	p.Enabled = enabled != 0
	p.CreatedAt = parseTime(createdAt)

	return &p, nil
}
