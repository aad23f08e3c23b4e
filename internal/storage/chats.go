package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// --- Chats ---

// CreateChat persists a new conversation.
func (s *Store) CreateChat(c Chat) error {
	kbJSON, err := marshalIDs(c.KnowledgeBaseIDs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO chats (id, user_id, title, model, system_prompt, knowledge_base_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.Title, c.Model, c.SystemPrompt, kbJSON,
		formatTime(c.CreatedAt),
	)
	return err
}

// GetChat returns the chat with the given ID if it belongs to userID.
// Chats of other users are reported as ErrNotFound rather than revealing
// their existence.
func (s *Store) GetChat(id, userID string) (Chat, error) {
	var c Chat
	var kbJSON, createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, title, model, system_prompt, knowledge_base_ids, created_at
		FROM chats WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&c.ID, &c.UserID, &c.Title, &c.Model, &c.SystemPrompt, &kbJSON, &createdAt)
	if err == sql.ErrNoRows {
		return Chat{}, ErrNotFound
	}
	if err != nil {
		return Chat{}, err
	}
	if err := json.Unmarshal([]byte(kbJSON), &c.KnowledgeBaseIDs); err != nil {
		return Chat{}, fmt.Errorf("parsing knowledge_base_ids: %w", err)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Chat{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t
	return c, nil
}

// ListChats returns all chats owned by userID, newest first.
func (s *Store) ListChats(userID string) ([]Chat, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, title, model, system_prompt, knowledge_base_ids, created_at
		FROM chats WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		var kbJSON, createdAt string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Model, &c.SystemPrompt, &kbJSON, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(kbJSON), &c.KnowledgeBaseIDs); err != nil {
			return nil, fmt.Errorf("parsing knowledge_base_ids: %w", err)
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		c.CreatedAt = t
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat and its messages. ErrNotFound if the chat does
// not exist or belongs to a different user.
func (s *Store) DeleteChat(id, userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM chats WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE chat_id = ?", id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	return tx.Commit()
}

// UpdateChatTitle sets the chat's title.
func (s *Store) UpdateChatTitle(id, userID, title string) error {
	return s.updateChatField(id, userID, "title", title)
}

// UpdateChatModel sets the chat's selected model.
func (s *Store) UpdateChatModel(id, userID, model string) error {
	return s.updateChatField(id, userID, "model", model)
}

// UpdateChatKnowledgeBases replaces the set of knowledge bases the chat
// draws context from.
func (s *Store) UpdateChatKnowledgeBases(id, userID string, projectIDs []string) error {
	kbJSON, err := marshalIDs(projectIDs)
	if err != nil {
		return err
	}
	return s.updateChatField(id, userID, "knowledge_base_ids", kbJSON)
}

func (s *Store) updateChatField(id, userID, column, value string) error {
	res, err := s.db.Exec(
		"UPDATE chats SET "+column+" = ? WHERE id = ? AND user_id = ?",
		value, id, userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Messages ---

// AppendMessage adds a message to a chat.
func (s *Store) AppendMessage(m Message) error {
	if !m.Role.Valid() {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, chat_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.ChatID, string(m.Role), m.Content,
		formatTime(m.CreatedAt),
	)
	return err
}

// UpdateMessageContent replaces a message's content in place. Used to grow
// a bot message while its completion stream arrives and to finalize it.
func (s *Store) UpdateMessageContent(id, chatID, content string) error {
	res, err := s.db.Exec(
		"UPDATE messages SET content = ? WHERE id = ? AND chat_id = ?",
		content, id, chatID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns a chat's messages in insertion order. Ordering by
// rowid rather than created_at keeps same-timestamp messages (a user turn
// and its reply appended back to back) in the order they were written.
func (s *Store) ListMessages(chatID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, chat_id, role, content, created_at
		FROM messages WHERE chat_id = ? ORDER BY rowid ASC`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var role, createdAt string
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &createdAt); err != nil {
			return nil, err
		}
		m.Role = Role(role)
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		m.CreatedAt = t
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- API keys ---

// SaveAPIKey stores the user's encrypted completion-API credential.
func (s *Store) SaveAPIKey(userID, encryptedKey string) error {
	_, err := s.db.Exec(`
		INSERT INTO api_keys (user_id, encrypted_key, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			encrypted_key = excluded.encrypted_key,
			updated_at = excluded.updated_at`,
		userID, encryptedKey, formatTime(time.Now()),
	)
	return err
}

// GetAPIKey returns the user's encrypted credential, or ErrNotFound.
func (s *Store) GetAPIKey(userID string) (string, error) {
	var key string
	err := s.db.QueryRow("SELECT encrypted_key FROM api_keys WHERE user_id = ?", userID).Scan(&key)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return key, nil
}

func marshalIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshaling id list: %w", err)
	}
	return string(b), nil
}
