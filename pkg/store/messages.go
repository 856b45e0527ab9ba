package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const messageColumns = `id, topic_id, seq, role, content, created_at`

// CreateMessage appends a message to a topic. The per-topic seq is assigned
// inside the insert statement; sqlite serializes writers, so two inserts for
// the same topic can never observe the same MAX(seq).
func (s *Store) CreateMessage(ctx context.Context, topicID, role, content string) (*Message, error) {
	m := &Message{
		ID:        uuid.NewString(),
		TopicID:   topicID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, topic_id, seq, role, content, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE topic_id = ?), ?, ?, ?)
		 RETURNING seq`,
		m.ID, m.TopicID, m.TopicID, m.Role, m.Content, formatTime(m.CreatedAt),
	).Scan(&m.Seq)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	return m, nil
}

// ListMessages returns all messages in a topic, oldest first.
func (s *Store) ListMessages(ctx context.Context, topicID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE topic_id = ?
		 ORDER BY seq ASC`,
		topicID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// MessageCount returns the number of messages in a topic.
func (s *Store) MessageCount(ctx context.Context, topicID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE topic_id = ?`, topicID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

// UnprocessedMessages returns the messages past the topic's extraction
// cursor, oldest first. A topic with no cursor yields all its messages.
func (s *Store) UnprocessedMessages(ctx context.Context, topic *Topic) ([]Message, error) {
	var (
		query string
		args  []any
	)

	if topic.LastProcessedMessageID != "" {
		query = `SELECT ` + messageColumns + ` FROM messages
			 WHERE topic_id = ?
			   AND seq > (SELECT seq FROM messages WHERE id = ?)
			 ORDER BY seq ASC`
		args = []any{topic.ID, topic.LastProcessedMessageID}
	} else {
		query = `SELECT ` + messageColumns + ` FROM messages
			 WHERE topic_id = ?
			 ORDER BY seq ASC`
		args = []any{topic.ID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unprocessed messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ContextMessages returns up to limit messages at or before the extraction
// cursor, oldest first, as background for the new batch. With no cursor
// every message is new, so there is no context.
func (s *Store) ContextMessages(ctx context.Context, topicID, lastProcessedMessageID string, limit int) ([]Message, error) {
	if lastProcessedMessageID == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE topic_id = ?
		   AND seq <= (SELECT seq FROM messages WHERE id = ?)
		 ORDER BY seq DESC
		 LIMIT ?`,
		topicID, lastProcessedMessageID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying context messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.TopicID, &m.Seq, &m.Role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
