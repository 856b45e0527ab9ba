package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const topicColumns = `id, user_id, title, is_flowmo, created_at, updated_at,
	last_active_at, memory_processed_at, last_processed_message_id`

// FlowmoTopicTitle is the title given to the lazily-created flowmo topic.
const FlowmoTopicTitle = "Flowmo"

// CreateTopic creates a new conversation topic.
func (s *Store) CreateTopic(ctx context.Context, userID, title string) (*Topic, error) {
	if title == "" {
		title = "New topic"
	}

	now := time.Now()
	t := &Topic{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO topics (id, user_id, title, is_flowmo, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, ?)`,
		t.ID, t.UserID, t.Title, formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting topic: %w", err)
	}

	return t, nil
}

// GetOrCreateFlowmoTopic returns the user's flowmo topic, creating it on
// first use. Each user has exactly one.
func (s *Store) GetOrCreateFlowmoTopic(ctx context.Context, userID string) (*Topic, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE user_id = ? AND is_flowmo = 1 LIMIT 1`,
		userID,
	)
	t, err := scanTopic(row)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("querying flowmo topic: %w", err)
	}

	now := time.Now()
	t = &Topic{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     FlowmoTopicTitle,
		IsFlowmo:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO topics (id, user_id, title, is_flowmo, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)`,
		t.ID, t.UserID, t.Title, formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting flowmo topic: %w", err)
	}

	return t, nil
}

// ListTopics returns all topics for the user, most recently updated first.
// An empty userID lists every topic.
func (s *Store) ListTopics(ctx context.Context, userID string) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+topicColumns+` FROM topics
		 WHERE (? = '' OR user_id = ?)
		 ORDER BY updated_at DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

// GetTopic returns a topic by id, or ErrNotFound.
func (s *Store) GetTopic(ctx context.Context, id string) (*Topic, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+topicColumns+` FROM topics WHERE id = ?`, id,
	)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying topic: %w", err)
	}
	return t, nil
}

// RenameTopic updates a topic's title.
func (s *Store) RenameTopic(ctx context.Context, id, title string) (*Topic, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE topics SET title = ?, updated_at = ? WHERE id = ?`,
		title, formatTime(time.Now()), id,
	)
	if err != nil {
		return nil, fmt.Errorf("renaming topic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetTopic(ctx, id)
}

// DeleteTopic deletes a topic; messages cascade via FK.
func (s *Store) DeleteTopic(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM topics WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting topic: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchActivity stamps last_active_at and updated_at to now. Called on
// every user turn; the silence scheduler keys off this.
func (s *Store) TouchActivity(ctx context.Context, topicID string) error {
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx,
		`UPDATE topics SET last_active_at = ?, updated_at = ? WHERE id = ?`,
		now, now, topicID,
	)
	if err != nil {
		return fmt.Errorf("touching topic activity: %w", err)
	}
	return nil
}

// EligibleTopics returns topics silent since before threshold that still
// have messages past the extraction cursor: last_active_at < threshold AND
// (memory_processed_at IS NULL OR last_active_at > memory_processed_at).
func (s *Store) EligibleTopics(ctx context.Context, threshold time.Time) ([]Topic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+topicColumns+` FROM topics
		 WHERE last_active_at IS NOT NULL
		   AND last_active_at < ?
		   AND (memory_processed_at IS NULL OR last_active_at > memory_processed_at)`,
		formatTime(threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("querying eligible topics: %w", err)
	}
	defer rows.Close()

	var topics []Topic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *t)
	}
	return topics, rows.Err()
}

// MarkProcessed advances the extraction cursor: stamps memory_processed_at
// and records the last message covered by the batch. Call this only after
// all mutations for the batch have been committed.
func (s *Store) MarkProcessed(ctx context.Context, topicID, lastMessageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE topics SET memory_processed_at = ?, last_processed_message_id = ? WHERE id = ?`,
		formatTime(time.Now()), lastMessageID, topicID,
	)
	if err != nil {
		return fmt.Errorf("marking topic processed: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTopic(row rowScanner) (*Topic, error) {
	var t Topic
	var isFlowmo int
	var createdAt, updatedAt string
	var lastActive, processedAt, lastProcessedID sql.NullString

	err := row.Scan(
		&t.ID, &t.UserID, &t.Title, &isFlowmo, &createdAt, &updatedAt,
		&lastActive, &processedAt, &lastProcessedID,
	)
	if err != nil {
		return nil, err
	}

	t.IsFlowmo = isFlowmo != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	t.LastActiveAt = parseNullTime(lastActive)
	t.MemoryProcessedAt = parseNullTime(processedAt)
	if lastProcessedID.Valid {
		t.LastProcessedMessageID = lastProcessedID.String
	}

	return &t, nil
}
