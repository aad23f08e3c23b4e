package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// --- Projects (knowledge bases) ---

// CreateProject persists a new knowledge base.
func (s *Store) CreateProject(p Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, user_id, name, created_at)
		VALUES (?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, formatTime(p.CreatedAt),
	)
	return err
}

// GetProject returns the project with the given ID, regardless of owner.
// Ownership is enforced by the callers that mutate state.
func (s *Store) GetProject(id string) (Project, error) {
	var p Project
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, name, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.UserID, &p.Name, &createdAt)
	if err == sql.ErrNoRows {
		return Project{}, ErrNotFound
	}
	if err != nil {
		return Project{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Project{}, fmt.Errorf("parsing created_at: %w", err)
	}
	p.CreatedAt = t
	return p, nil
}

// ListProjects returns all knowledge bases owned by userID, oldest first.
func (s *Store) ListProjects(userID string) ([]Project, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, created_at
		FROM projects WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		var createdAt string
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		p.CreatedAt = t
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// DeleteProjectCascade removes a project, all its documents, and all their
// chunks in one transaction, so no partial cascade state is ever visible.
// Returns ErrNotFound for a missing project and ErrUnauthorized when the
// project belongs to a different user; in both cases nothing is deleted.
func (s *Store) DeleteProjectCascade(projectID, userID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRow("SELECT user_id FROM projects WHERE id = ?", projectID).Scan(&owner)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrUnauthorized
	}

	if _, err := tx.Exec(`
		DELETE FROM chunks WHERE document_id IN
			(SELECT id FROM documents WHERE project_id = ?)`, projectID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM documents WHERE project_id = ?", projectID); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM projects WHERE id = ?", projectID); err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}

	return tx.Commit()
}

// --- Documents ---

// CreateDocument persists the metadata of one uploaded file.
func (s *Store) CreateDocument(d Document) error {
	_, err := s.db.Exec(`
		INSERT INTO documents (id, project_id, user_id, file_name, file_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.UserID, d.FileName, d.FileType,
		formatTime(d.CreatedAt),
	)
	return err
}

// ListDocuments returns the documents of a project owned by userID, oldest
// first. An ownership mismatch yields an empty result, not an error.
func (s *Store) ListDocuments(projectID, userID string) ([]Document, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, user_id, file_name, file_type, created_at
		FROM documents WHERE project_id = ? AND user_id = ?
		ORDER BY created_at ASC`, projectID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var createdAt string
		if err := rows.Scan(&d.ID, &d.ProjectID, &d.UserID, &d.FileName, &d.FileType, &createdAt); err != nil {
			return nil, err
		}
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		d.CreatedAt = t
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- Chunks ---

// PutChunk upserts a chunk keyed by its ID. Re-ingesting the same chunk ID
// overwrites the previous row, so the operation is idempotent.
func (s *Store) PutChunk(c Chunk) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO chunks (id, document_id, idx, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			idx = excluded.idx,
			text_chunk = excluded.text_chunk,
			embedding = excluded.embedding`,
		c.ID, c.DocumentID, c.Index, c.Text, encodeFloat32s(c.Embedding),
		formatTime(createdAt),
	)
	return err
}

// PutChunks upserts a batch of chunks in one transaction.
func (s *Store) PutChunks(chunks []Chunk) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO chunks (id, document_id, idx, text_chunk, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			idx = excluded.idx,
			text_chunk = excluded.text_chunk,
			embedding = excluded.embedding`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(c.ID, c.DocumentID, c.Index, c.Text,
			encodeFloat32s(c.Embedding), formatTime(createdAt)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// ListChunksByProjects returns all chunks transitively under the given
// knowledge bases owned by userID, ordered by document and index. Ownership
// mismatches and unknown project IDs yield an empty result, not an error.
func (s *Store) ListChunksByProjects(projectIDs []string, userID string) ([]Chunk, error) {
	if len(projectIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(projectIDs)+1)
	for _, id := range projectIDs {
		args = append(args, id)
	}
	args = append(args, userID)

	query := `
		SELECT c.id, c.document_id, c.idx, c.text_chunk, c.embedding, c.created_at
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.project_id IN (?` + strings.Repeat(",?", len(projectIDs)-1) + `)
		  AND d.user_id = ?
		ORDER BY d.created_at ASC, d.id ASC, c.idx ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var blob []byte
		var createdAt string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Text, &blob, &createdAt); err != nil {
			return nil, err
		}
		embedding, err := decodeFloat32s(blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", c.ID, err)
		}
		c.Embedding = embedding
		t, err := parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for %s: %w", c.ID, err)
		}
		c.CreatedAt = t
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// CountChunks returns the number of chunks stored for a document.
func (s *Store) CountChunks(documentID string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM chunks WHERE document_id = ?", documentID).Scan(&count)
	return count, err
}
