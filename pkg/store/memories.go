package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const memoryColumns = `id, user_id, content, source, memory_type,
	source_topic_id, source_message_id, use_count, created_at, last_used_at`

// CreateManualMemory creates a user-authored memory. Manual entries carry
// no extracted type, so they take the column default; source="manual" keeps
// them visible in default listings regardless.
func (s *Store) CreateManualMemory(ctx context.Context, userID, content string) (*Memory, error) {
	m := &Memory{
		ID:         uuid.NewString(),
		UserID:     userID,
		Content:    content,
		Source:     SourceManual,
		MemoryType: MemoryTypeChat,
		CreatedAt:  time.Now(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, content, source, memory_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Content, m.Source, m.MemoryType, formatTime(m.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting memory: %w", err)
	}

	return m, nil
}

// CreateExtractedMemory creates a memory produced by extraction. The type
// is normalized so unknown values land as "fact".
func (s *Store) CreateExtractedMemory(ctx context.Context, userID, content, memoryType, sourceTopicID string) (*Memory, error) {
	m := &Memory{
		ID:            uuid.NewString(),
		UserID:        userID,
		Content:       content,
		Source:        SourceChat,
		MemoryType:    NormalizeMemoryType(memoryType),
		SourceTopicID: sourceTopicID,
		CreatedAt:     time.Now(),
	}

	var topicID any
	if m.SourceTopicID != "" {
		topicID = m.SourceTopicID
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, content, source, memory_type, source_topic_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Content, m.Source, m.MemoryType, topicID, formatTime(m.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("inserting extracted memory: %w", err)
	}

	return m, nil
}

// ListMemoriesParams filters and paginates ListMemories.
type ListMemoriesParams struct {
	UserID   string
	Page     int
	PageSize int

	// Source filters by "chat" or "manual" when set.
	Source string

	// IncludeRawChat includes rows with memory_type='chat'. Default
	// listings exclude them: only extracted and manual memories show.
	IncludeRawChat bool
}

// ListMemories returns a page of memories, newest first, plus the total
// count matching the filter.
func (s *Store) ListMemories(ctx context.Context, p ListMemoriesParams) ([]Memory, int, error) {
	if p.Page <= 0 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	offset := (p.Page - 1) * p.PageSize

	where := `(? = '' OR user_id = ?)`
	args := []any{p.UserID, p.UserID}

	if !p.IncludeRawChat {
		where += ` AND (source = 'manual' OR (source = 'chat' AND memory_type != 'chat'))`
	}
	if p.Source != "" {
		where += ` AND source = ?`
		args = append(args, p.Source)
	}

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE `+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting memories: %w", err)
	}

	args = append(args, p.PageSize, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE `+where+`
		 ORDER BY created_at DESC
		 LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, 0, err
		}
		memories = append(memories, *m)
	}
	return memories, total, rows.Err()
}

// ListAllExtractedMemories returns every extracted and manual memory for a
// user, oldest first. Used as the candidate set for reconciliation.
func (s *Store) ListAllExtractedMemories(ctx context.Context, userID string) ([]Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memoryColumns+` FROM memories
		 WHERE (? = '' OR user_id = ?)
		   AND (source = 'manual' OR (source = 'chat' AND memory_type != 'chat'))
		 ORDER BY created_at ASC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying extracted memories: %w", err)
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

// GetMemory returns a memory by id, or ErrNotFound.
func (s *Store) GetMemory(ctx context.Context, id string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id,
	)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}
	return m, nil
}

// UpdateMemoryContent replaces a memory's content in place, keeping its id
// and usage stats.
func (s *Store) UpdateMemoryContent(ctx context.Context, id, content string) (*Memory, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ? WHERE id = ?`, content, id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetMemory(ctx, id)
}

// DeleteMemory deletes a memory row. Usage rows cascade.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAllMemories deletes every memory for the user and returns the ids
// removed so the caller can drop the matching vectors.
func (s *Store) DeleteAllMemories(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM memories WHERE (? = '' OR user_id = ?)`, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying memory ids: %w", err)
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
		`DELETE FROM memories WHERE (? = '' OR user_id = ?)`, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("deleting memories: %w", err)
	}

	return ids, nil
}

// RecordMemoryUsage appends a usage row and bumps the memory's counters.
// Called after a reply that grounded on the memory has been persisted.
func (s *Store) RecordMemoryUsage(ctx context.Context, memoryID, topicID, messageID string) error {
	now := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memory_usage (id, memory_id, topic_id, message_id, used_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), memoryID, topicID, messageID, now,
	)
	if err != nil {
		return fmt.Errorf("inserting usage row: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE memories SET use_count = use_count + 1, last_used_at = ? WHERE id = ?`,
		now, memoryID,
	)
	if err != nil {
		return fmt.Errorf("bumping use count: %w", err)
	}

	return tx.Commit()
}

// MemoryUsageHistory returns the usage rows for a memory, newest first.
func (s *Store) MemoryUsageHistory(ctx context.Context, memoryID string) ([]MemoryUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT mu.used_at, t.id, t.title, mu.message_id
		 FROM memory_usage mu
		 JOIN topics t ON mu.topic_id = t.id
		 WHERE mu.memory_id = ?
		 ORDER BY mu.used_at DESC`,
		memoryID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying memory usage: %w", err)
	}
	defer rows.Close()

	var usage []MemoryUsage
	for rows.Next() {
		var u MemoryUsage
		var usedAt string
		if err := rows.Scan(&usedAt, &u.TopicID, &u.TopicTitle, &u.MessageID); err != nil {
			return nil, err
		}
		u.UsedAt = parseTime(usedAt)
		usage = append(usage, u)
	}
	return usage, rows.Err()
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var sourceTopicID, sourceMessageID, lastUsedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&m.ID, &m.UserID, &m.Content, &m.Source, &m.MemoryType,
		&sourceTopicID, &sourceMessageID, &m.UseCount, &createdAt, &lastUsedAt,
	)
	if err != nil {
		return nil, err
	}

	m.CreatedAt = parseTime(createdAt)
	m.LastUsedAt = parseNullTime(lastUsedAt)
	if sourceTopicID.Valid {
		m.SourceTopicID = sourceTopicID.String
	}
	if sourceMessageID.Valid {
		m.SourceMessageID = sourceMessageID.String
	}

	return &m, nil
}
