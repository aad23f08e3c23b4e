package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/ragchat/internal/relay"
	"github.com/kalambet/ragchat/internal/retrieval"
	"github.com/kalambet/ragchat/internal/storage"
)

type chatView struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Model            string    `json:"model"`
	SystemPrompt     string    `json:"system_prompt"`
	KnowledgeBaseIDs []string  `json:"knowledge_base_ids"`
	CreatedAt        time.Time `json:"created_at"`
}

type messageView struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toChatView(c storage.Chat) chatView {
	ids := c.KnowledgeBaseIDs
	if ids == nil {
		ids = []string{}
	}
	return chatView{
		ID:               c.ID,
		Title:            c.Title,
		Model:            c.Model,
		SystemPrompt:     c.SystemPrompt,
		KnowledgeBaseIDs: ids,
		CreatedAt:        c.CreatedAt,
	}
}

func handleCreateChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			Model            string   `json:"model"`
			SystemPrompt     string   `json:"system_prompt"`
			KnowledgeBaseIDs []string `json:"knowledge_base_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Model == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
			return
		}

		c := storage.Chat{
			ID:               uuid.New().String(),
			UserID:           userID(r),
			Model:            req.Model,
			SystemPrompt:     req.SystemPrompt,
			KnowledgeBaseIDs: req.KnowledgeBaseIDs,
			CreatedAt:        time.Now().UTC(),
		}
		if err := deps.Store.CreateChat(c); err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(toChatView(c))
	}
}

func handleListChats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chats, err := deps.Store.ListChats(userID(r))
		if err != nil {
			writeError(w, err)
			return
		}

		views := make([]chatView, len(chats))
		for i, c := range chats {
			views[i] = toChatView(c)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(views)
	}
}

func handleGetChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Store.GetChat(chi.URLParam(r, "id"), userID(r))
		if err != nil {
			writeError(w, err)
			return
		}

		msgs, err := deps.Store.ListMessages(c.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		msgViews := make([]messageView, len(msgs))
		for i, m := range msgs {
			msgViews[i] = messageView{ID: m.ID, Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			chatView
			Messages []messageView `json:"messages"`
		}{toChatView(c), msgViews})
	}
}

func handlePatchChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		id, uid := chi.URLParam(r, "id"), userID(r)

		var req struct {
			Title            *string  `json:"title"`
			Model            *string  `json:"model"`
			KnowledgeBaseIDs []string `json:"knowledge_base_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Title != nil {
			if err := deps.Store.UpdateChatTitle(id, uid, *req.Title); err != nil {
				writeError(w, err)
				return
			}
		}
		if req.Model != nil {
			if err := deps.Store.UpdateChatModel(id, uid, *req.Model); err != nil {
				writeError(w, err)
				return
			}
		}
		if req.KnowledgeBaseIDs != nil {
			if err := deps.Store.UpdateChatKnowledgeBases(id, uid, req.KnowledgeBaseIDs); err != nil {
				writeError(w, err)
				return
			}
		}

		c, err := deps.Store.GetChat(id, uid)
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(toChatView(c))
	}
}

func handleDeleteChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteChat(chi.URLParam(r, "id"), userID(r)); err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
	}
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		upstream, err := userUpstream(deps, userID(r))
		if errors.Is(err, errNoAPIKey) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		models, err := upstream.ListModels(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": models})
	}
}

func handlePutAPIKey(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req struct {
			APIKey string `json:"api_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.APIKey == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "api_key is required")
			return
		}

		encrypted, err := deps.Secrets.Encrypt(req.APIKey)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := deps.Store.SaveAPIKey(userID(r), encrypted); err != nil {
			writeError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "saved"})
	}
}

var errNoAPIKey = errors.New("no API key configured for user")

// userUpstream loads and decrypts the user's stored credential and builds a
// relay client bound to it.
func userUpstream(deps Deps, uid string) (ChatUpstream, error) {
	encrypted, err := deps.Store.GetAPIKey(uid)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, errNoAPIKey
	}
	if err != nil {
		return nil, err
	}

	apiKey, err := deps.Secrets.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decrypting stored API key: %w", err)
	}
	return deps.Upstream(apiKey), nil
}

// handleSendMessage appends the user's message, streams the model's reply to
// the browser as SSE frames carrying the running visible text, and finalizes
// the bot message when the stream ends. The request context cancels the
// upstream stream when the browser disconnects.
func handleSendMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		uid := userID(r)

		chat, err := deps.Store.GetChat(chi.URLParam(r, "id"), uid)
		if err != nil {
			writeError(w, err)
			return
		}

		var req struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		upstream, err := userUpstream(deps, uid)
		if errors.Is(err, errNoAPIKey) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}

		history, err := deps.Store.ListMessages(chat.ID)
		if err != nil {
			writeError(w, err)
			return
		}

		contextText, err := deps.Retriever.BuildContext(r.Context(), chat.KnowledgeBaseIDs, req.Content, uid)
		if err != nil {
			writeError(w, err)
			return
		}
		systemPrompt := retrieval.ContextSystemPrompt(contextText)
		if chat.SystemPrompt != "" {
			systemPrompt = chat.SystemPrompt + "\n" + systemPrompt
		}

		userMsg := storage.Message{
			ID:        uuid.New().String(),
			ChatID:    chat.ID,
			Role:      storage.RoleUser,
			Content:   req.Content,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.AppendMessage(userMsg); err != nil {
			writeError(w, err)
			return
		}
		botMsg := storage.Message{
			ID:        uuid.New().String(),
			ChatID:    chat.ID,
			Role:      storage.RoleBot,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.AppendMessage(botMsg); err != nil {
			writeError(w, err)
			return
		}

		msgs := make([]relay.Message, 0, len(history)+1)
		for _, m := range history {
			msgs = append(msgs, relay.Message{Role: m.Role.Upstream(), Content: m.Content})
		}
		msgs = append(msgs, relay.Message{Role: storage.RoleUser.Upstream(), Content: req.Content})

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		// Headers are written on the first delta so a pre-stream upstream
		// failure can still produce a JSON error response.
		streaming := false
		sink := func(visible string) {
			if !streaming {
				streaming = true
				w.Header().Set("Content-Type", "text/event-stream")
				w.Header().Set("Cache-Control", "no-cache")
				w.Header().Set("Connection", "keep-alive")
				w.WriteHeader(http.StatusOK)
			}
			writeSSE(w, map[string]string{"content": visible})
			flusher.Flush()
		}

		done, streamErr := upstream.StreamChat(r.Context(), chat.Model, msgs, systemPrompt, sink)
		if streamErr != nil && !streaming {
			writeError(w, streamErr)
			return
		}

		// Finalize what arrived, even after a mid-stream failure.
		if err := deps.Store.UpdateMessageContent(botMsg.ID, chat.ID, done.Visible); err != nil {
			slog.Error("finalizing bot message", "chat_id", chat.ID, "error", err)
		}
		title := chat.Title
		if title == "" && done.Title != "" {
			title = done.Title
			if err := deps.Store.UpdateChatTitle(chat.ID, uid, title); err != nil {
				slog.Error("updating chat title", "chat_id", chat.ID, "error", err)
			}
		}

		if streamErr != nil {
			slog.Error("upstream stream failed", "chat_id", chat.ID, "error", streamErr)
			writeSSE(w, map[string]any{"error": map[string]string{
				"message": "upstream read error",
				"type":    "upstream_error",
			}})
			flusher.Flush()
			return
		}

		if !streaming {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
		}
		writeSSE(w, map[string]any{
			"done":       true,
			"message_id": botMsg.ID,
			"title":      title,
		})
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}

func writeSSE(w http.ResponseWriter, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshaling SSE payload", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}
