package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kalambet/ragchat/internal/extract"
	"github.com/kalambet/ragchat/internal/storage"
)

type fakeEmbedder struct {
	failOn string // substring of the first text that triggers failure
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.failOn != "" {
		for _, t := range texts {
			if strings.Contains(t, f.failOn) {
				return nil, errors.New("embedding endpoint unavailable")
			}
		}
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1}
	}
	return out, nil
}

type memStore struct {
	docs   []storage.Document
	chunks []storage.Chunk
}

func (m *memStore) CreateDocument(d storage.Document) error {
	m.docs = append(m.docs, d)
	return nil
}

func (m *memStore) PutChunks(chunks []storage.Chunk) error {
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func TestProcessFiles_SingleText(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, &fakeEmbedder{})

	res, err := svc.ProcessFiles(context.Background(), "u1", "p1", []File{
		{Name: "notes.txt", MIME: "text/plain", Data: []byte("An ordinary short note.")},
	})
	if err != nil {
		t.Fatalf("ProcessFiles: %v", err)
	}
	if len(res.DocumentIDs) != 1 {
		t.Fatalf("got %d document IDs, want 1", len(res.DocumentIDs))
	}
	if len(store.docs) != 1 {
		t.Fatalf("got %d documents, want 1", len(store.docs))
	}
	if store.docs[0].ProjectID != "p1" || store.docs[0].UserID != "u1" {
		t.Errorf("document = %+v", store.docs[0])
	}
	if res.ChunkCount != len(store.chunks) {
		t.Errorf("ChunkCount = %d, stored = %d", res.ChunkCount, len(store.chunks))
	}
}

func TestProcessFiles_ChunkIndicesContiguous(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, &fakeEmbedder{})

	var b strings.Builder
	for i := 0; i < 200; i++ {
		b.WriteString("A sentence that is long enough to matter for chunking. ")
	}
	_, err := svc.ProcessFiles(context.Background(), "u1", "p1", []File{
		{Name: "big.txt", MIME: "text/plain", Data: []byte(b.String())},
	})
	if err != nil {
		t.Fatalf("ProcessFiles: %v", err)
	}
	if len(store.chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(store.chunks))
	}
	for i, c := range store.chunks {
		if c.Index != i {
			t.Errorf("chunks[%d].Index = %d, want %d", i, c.Index, i)
		}
		if c.DocumentID != store.docs[0].ID {
			t.Errorf("chunks[%d].DocumentID = %q", i, c.DocumentID)
		}
		if len(c.Embedding) == 0 {
			t.Errorf("chunks[%d] has no embedding", i)
		}
	}
}

func TestProcessFiles_UnsupportedType(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, &fakeEmbedder{})

	_, err := svc.ProcessFiles(context.Background(), "u1", "p1", []File{
		{Name: "pic.png", MIME: "image/png", Data: []byte{0x89}},
	})
	if !errors.Is(err, extract.ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if len(store.docs) != 0 || len(store.chunks) != 0 {
		t.Error("failed file left records behind")
	}
}

func TestProcessFiles_PartialBatchKept(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, &fakeEmbedder{failOn: "poison"})

	res, err := svc.ProcessFiles(context.Background(), "u1", "p1", []File{
		{Name: "good.txt", MIME: "text/plain", Data: []byte("A perfectly fine document.")},
		{Name: "bad.txt", MIME: "text/plain", Data: []byte("This one contains poison text.")},
		{Name: "never.txt", MIME: "text/plain", Data: []byte("Never reached.")},
	})
	if err == nil {
		t.Fatal("expected error from poisoned file")
	}
	if !strings.Contains(err.Error(), "bad.txt") {
		t.Errorf("error does not name the failing file: %v", err)
	}
	// The first file stays ingested; the failing and following ones do not.
	if len(res.DocumentIDs) != 1 {
		t.Errorf("got %d ingested documents, want 1", len(res.DocumentIDs))
	}
	if len(store.docs) != 1 || store.docs[0].FileName != "good.txt" {
		t.Errorf("stored docs = %+v", store.docs)
	}
}

func TestProcessFiles_EmptyFile(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, &fakeEmbedder{})

	res, err := svc.ProcessFiles(context.Background(), "u1", "p1", []File{
		{Name: "empty.txt", MIME: "text/plain", Data: nil},
	})
	if err != nil {
		t.Fatalf("ProcessFiles: %v", err)
	}
	if res.ChunkCount != 0 {
		t.Errorf("ChunkCount = %d, want 0", res.ChunkCount)
	}
	if len(store.docs) != 1 {
		t.Errorf("got %d documents, want 1 (metadata still recorded)", len(store.docs))
	}
}

func TestProcessFiles_NoFiles(t *testing.T) {
	svc := NewService(&memStore{}, &fakeEmbedder{})
	res, err := svc.ProcessFiles(context.Background(), "u1", "p1", nil)
	if err != nil {
		t.Fatalf("ProcessFiles: %v", err)
	}
	if len(res.DocumentIDs) != 0 {
		t.Errorf("res = %+v, want empty", res)
	}
}

func TestProcessFiles_MultipleFilesOrdered(t *testing.T) {
	store := &memStore{}
	svc := NewService(store, &fakeEmbedder{})

	files := make([]File, 3)
	for i := range files {
		files[i] = File{
			Name: fmt.Sprintf("f%d.txt", i),
			MIME: "text/plain",
			Data: []byte(fmt.Sprintf("Content of file %d.", i)),
		}
	}
	res, err := svc.ProcessFiles(context.Background(), "u1", "p1", files)
	if err != nil {
		t.Fatalf("ProcessFiles: %v", err)
	}
	if len(res.DocumentIDs) != 3 {
		t.Fatalf("got %d documents, want 3", len(res.DocumentIDs))
	}
	for i, d := range store.docs {
		if d.FileName != files[i].Name {
			t.Errorf("docs[%d].FileName = %q, want %q", i, d.FileName, files[i].Name)
		}
	}
}
