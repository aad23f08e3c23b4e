// Package api exposes the chat backend over HTTP: knowledge-base and chat
// management, document upload, message streaming, and the per-user settings
// surface.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ragchat/internal/ingest"
	"github.com/kalambet/ragchat/internal/relay"
	"github.com/kalambet/ragchat/internal/retrieval"
	"github.com/kalambet/ragchat/internal/secrets"
	"github.com/kalambet/ragchat/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadBodySize = 25 << 20 // 25MB

// ChatUpstream is the slice of the relay client the handlers need.
type ChatUpstream interface {
	StreamChat(ctx context.Context, model string, msgs []relay.Message, systemPrompt string, sink relay.Sink) (*relay.Completion, error)
	ListModels(ctx context.Context) ([]relay.Model, error)
}

// UpstreamFactory builds a relay client bound to one user's credential.
type UpstreamFactory func(apiKey string) ChatUpstream

// Deps holds the collaborators of the HTTP surface.
type Deps struct {
	Store     *storage.Store
	Ingest    *ingest.Service
	Retriever *retrieval.Retriever
	Secrets   *secrets.Box
	Upstream  UpstreamFactory
	Token     string
}

// NewHandler builds the full router. All /v1 routes require the service
// bearer token and an X-User-ID identity.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(RequireUser)

		r.Get("/models", handleModels(deps))
		r.Put("/settings/api-key", handlePutAPIKey(deps))

		r.Post("/projects", handleCreateProject(deps))
		r.Get("/projects", handleListProjects(deps))
		r.Delete("/projects/{id}", handleDeleteProject(deps))
		r.Get("/projects/{id}/documents", handleListDocuments(deps))
		r.Post("/projects/{id}/documents", handleUploadDocuments(deps))

		r.Post("/chats", handleCreateChat(deps))
		r.Get("/chats", handleListChats(deps))
		r.Get("/chats/{id}", handleGetChat(deps))
		r.Patch("/chats/{id}", handlePatchChat(deps))
		r.Delete("/chats/{id}", handleDeleteChat(deps))
		r.Post("/chats/{id}/messages", handleSendMessage(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
