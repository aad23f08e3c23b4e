// Package ingest runs the document pipeline: extract text, split into
// chunks, embed each chunk, and persist the results.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/ragchat/internal/chunker"
	"github.com/kalambet/ragchat/internal/extract"
	"github.com/kalambet/ragchat/internal/storage"
)

// Embedder generates embeddings for a batch of texts, preserving order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store persists documents and their chunks.
type Store interface {
	CreateDocument(d storage.Document) error
	PutChunks(chunks []storage.Chunk) error
}

// File is one uploaded file awaiting ingestion.
type File struct {
	Name string
	MIME string
	Data []byte
}

// Result summarizes a completed (or partially completed) batch.
type Result struct {
	DocumentIDs []string
	ChunkCount  int
}

// Service wires the extraction, chunking, and embedding stages together.
type Service struct {
	store    Store
	embedder Embedder
	splitter *chunker.Splitter
	logger   *slog.Logger
}

// NewService creates a Service with default chunking parameters.
func NewService(store Store, embedder Embedder) *Service {
	return &Service{
		store:    store,
		embedder: embedder,
		splitter: chunker.New(chunker.DefaultChunkSize, chunker.DefaultOverlap),
		logger:   slog.Default(),
	}
}

// ProcessFiles ingests files into the given knowledge base, strictly one
// file after another. A failure aborts the failing file and stops the batch;
// files ingested before it stay (partial ingestion is accepted, not rolled
// back). The returned Result reflects what was actually persisted.
func (s *Service) ProcessFiles(ctx context.Context, userID, projectID string, files []File) (Result, error) {
	var res Result
	for _, f := range files {
		docID, n, err := s.processFile(ctx, userID, projectID, f)
		if err != nil {
			return res, fmt.Errorf("ingesting %s: %w", f.Name, err)
		}
		res.DocumentIDs = append(res.DocumentIDs, docID)
		res.ChunkCount += n
	}
	return res, nil
}

func (s *Service) processFile(ctx context.Context, userID, projectID string, f File) (string, int, error) {
	text, err := extract.Text(f.Data, f.MIME)
	if err != nil {
		return "", 0, err
	}

	pieces := s.splitter.Split(text)

	// Embed before persisting anything so a failed file leaves no record.
	vectors, err := s.embedder.EmbedBatch(ctx, pieces)
	if err != nil {
		return "", 0, err
	}

	now := time.Now().UTC()
	doc := storage.Document{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		UserID:    userID,
		FileName:  f.Name,
		FileType:  f.MIME,
		CreatedAt: now,
	}
	if err := s.store.CreateDocument(doc); err != nil {
		return "", 0, fmt.Errorf("saving document: %w", err)
	}

	chunks := make([]storage.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = storage.Chunk{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			Index:      i,
			Text:       piece,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}
	if err := s.store.PutChunks(chunks); err != nil {
		return "", 0, fmt.Errorf("saving chunks: %w", err)
	}

	s.logger.Info("document ingested",
		"document_id", doc.ID,
		"project_id", projectID,
		"file", f.Name,
		"chunks", len(chunks),
	)
	return doc.ID, len(chunks), nil
}
