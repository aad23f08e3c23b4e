package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnauthorized is returned when a record exists but belongs to a
// different user.
var ErrUnauthorized = errors.New("unauthorized")

// Role tags a message's author. The set is closed; anything outside it is
// rejected at the API boundary.
type Role string

const (
	RoleUser   Role = "user"
	RoleBot    Role = "bot"
	RoleSystem Role = "system"
	RoleCustom Role = "custom"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleBot, RoleSystem, RoleCustom:
		return true
	}
	return false
}

// Upstream maps r to the role vocabulary of the completion API.
func (r Role) Upstream() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleSystem:
		return "system"
	case RoleBot, RoleCustom:
		return "assistant"
	default:
		return "assistant"
	}
}

// Project is a named knowledge base: a collection of uploaded documents used
// as retrieval context.
type Project struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

// Document records the metadata of one uploaded file. Immutable once
// created; removed only by the knowledge-base cascade delete.
type Document struct {
	ID        string
	ProjectID string
	UserID    string
	FileName  string
	FileType  string
	CreatedAt time.Time
}

// Chunk is a bounded text segment of a document plus its embedding vector.
// Index values within a document are contiguous from 0 in source order.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	Embedding  []float32
	CreatedAt  time.Time
}

// Chat is one conversation: its settings plus the knowledge bases it draws
// context from.
type Chat struct {
	ID               string
	UserID           string
	Title            string
	Model            string
	SystemPrompt     string
	KnowledgeBaseIDs []string
	CreatedAt        time.Time
}

// Message is one turn in a chat. Bot messages are created empty and updated
// in place while the completion stream arrives.
type Message struct {
	ID        string
	ChatID    string
	Role      Role
	Content   string
	CreatedAt time.Time
}
