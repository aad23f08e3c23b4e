package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/ragchat/internal/extract"
	"github.com/kalambet/ragchat/internal/ingest"
	"github.com/kalambet/ragchat/internal/storage"
)

type projectView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type documentView struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	FileType   string    `json:"file_type"`
	ChunkCount int       `json:"chunk_count"`
	CreatedAt  time.Time `json:"created_at"`
}

func handleCreateProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}

		p := storage.Project{
			ID:        uuid.New().String(),
			UserID:    userID(r),
			Name:      req.Name,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.CreateProject(p); err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(projectView{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt})
	}
}

func handleListProjects(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := deps.Store.ListProjects(userID(r))
		if err != nil {
			writeError(w, err)
			return
		}

		views := make([]projectView, len(projects))
		for i, p := range projects {
			views[i] = projectView{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleDeleteProject(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if err := deps.Store.DeleteProjectCascade(id, userID(r)); err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		docs, err := deps.Store.ListDocuments(id, userID(r))
		if err != nil {
			writeError(w, err)
			return
		}

		views := make([]documentView, len(docs))
		for i, d := range docs {
			count, err := deps.Store.CountChunks(d.ID)
			if err != nil {
				writeError(w, err)
				return
			}
			views[i] = documentView{ID: d.ID, FileName: d.FileName, FileType: d.FileType, ChunkCount: count, CreatedAt: d.CreatedAt}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

// handleUploadDocuments ingests a multipart upload. Files are processed in
// order; a failing file aborts the batch but files already ingested stay.
func handleUploadDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := chi.URLParam(r, "id")
		uid := userID(r)

		project, err := deps.Store.GetProject(projectID)
		if err != nil {
			writeError(w, err)
			return
		}
		if project.UserID != uid {
			writeError(w, storage.ErrNotFound)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		if err := r.ParseMultipartForm(maxUploadBodySize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}

		headers := r.MultipartForm.File["files"]
		if len(headers) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "at least one file is required")
			return
		}

		files := make([]ingest.File, 0, len(headers))
		for _, fh := range headers {
			mimeType := fh.Header.Get("Content-Type")
			if !extract.Supported(mimeType) {
				httpError(w, http.StatusUnsupportedMediaType, "unsupported_file_type", "unsupported file type %q for %s", mimeType, fh.Filename)
				return
			}

			f, err := fh.Open()
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "opening %s: %v", fh.Filename, err)
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "reading %s: %v", fh.Filename, err)
				return
			}

			files = append(files, ingest.File{Name: fh.Filename, MIME: mimeType, Data: data})
		}

		result, err := deps.Ingest.ProcessFiles(r.Context(), uid, projectID, files)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"document_ids": result.DocumentIDs,
			"chunk_count":  result.ChunkCount,
		})
	}
}
