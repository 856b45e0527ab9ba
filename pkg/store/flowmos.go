package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const flowmoColumns = `id, user_id, content, source, topic_id, message_id, created_at`

// CreateFlowmo creates a journal entry. Source is "chat" when captured from
// the flowmo topic, "direct" when created via the API.
func (s *Store) CreateFlowmo(ctx context.Context, userID, content, source, topicID, messageID string) (*Flowmo, error) {
	f := &Flowmo{
		ID:        uuid.NewString(),
		UserID:    userID,
		Content:   content,
		Source:    source,
		TopicID:   topicID,
		MessageID: messageID,
		CreatedAt: time.Now(),
	}

	var tID, mID any
	if f.TopicID != "" {
		tID = f.TopicID
	}
	if f.MessageID != "" {
		mID = f.MessageID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flowmos (id, user_id, content, source, topic_id, message_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.Content, f.Source, tID, mID, formatTime(f.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting flowmo: %w", err)
	}

	return f, nil
}

// ListFlowmos returns a page of flowmos, newest first, plus the total count.
func (s *Store) ListFlowmos(ctx context.Context, userID string, page, pageSize int) ([]Flowmo, int, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM flowmos WHERE (? = '' OR user_id = ?)`,
		userID, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting flowmos: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+flowmoColumns+` FROM flowmos
		 WHERE (? = '' OR user_id = ?)
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		userID, userID, pageSize, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying flowmos: %w", err)
	}
	defer rows.Close()

	var flowmos []Flowmo
	for rows.Next() {
		f, err := scanFlowmo(rows)
		if err != nil {
			return nil, 0, err
		}
		flowmos = append(flowmos, *f)
	}
	return flowmos, total, rows.Err()
}

// GetFlowmo returns a flowmo by id, or ErrNotFound.
func (s *Store) GetFlowmo(ctx context.Context, id string) (*Flowmo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+flowmoColumns+` FROM flowmos WHERE id = ?`, id,
	)
	f, err := scanFlowmo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying flowmo: %w", err)
	}
	return f, nil
}

// LatestFlowmoTime returns the created_at of the most recent flowmo
// captured from the given topic, or nil when the topic has none.
func (s *Store) LatestFlowmoTime(ctx context.Context, topicID string) (*time.Time, error) {
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at FROM flowmos
		 WHERE topic_id = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		topicID,
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest flowmo time: %w", err)
	}

	t := parseTime(createdAt)
	return &t, nil
}

// DeleteFlowmo deletes a flowmo row.
func (s *Store) DeleteFlowmo(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM flowmos WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting flowmo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllFlowmos deletes every flowmo for the user and returns the ids
// removed so the caller can drop the matching vectors.
func (s *Store) DeleteAllFlowmos(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM flowmos WHERE (? = '' OR user_id = ?)`, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying flowmo ids: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM flowmos WHERE (? = '' OR user_id = ?)`, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("deleting flowmos: %w", err)
	}

	return ids, nil
}

func scanFlowmo(row rowScanner) (*Flowmo, error) {
	var f Flowmo
	var topicID, messageID sql.NullString
	var createdAt string

	err := row.Scan(&f.ID, &f.UserID, &f.Content, &f.Source, &topicID, &messageID, &createdAt)
	if err != nil {
		return nil, err
	}

	f.CreatedAt = parseTime(createdAt)
	if topicID.Valid {
		f.TopicID = topicID.String
	}
	if messageID.Valid {
		f.MessageID = messageID.String
	}

	return &f, nil
}
