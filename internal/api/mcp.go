package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/ragchat/internal/ingest"
	"github.com/kalambet/ragchat/internal/retrieval"
	"github.com/kalambet/ragchat/internal/storage"
)

// MCPEmbedder abstracts query embedding for the MCP layer.
type MCPEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MCPDeps holds dependencies for the MCP server. UserID identifies the
// local operator; the stdio transport has no per-request identity.
type MCPDeps struct {
	Store    *storage.Store
	Ingest   *ingest.Service
	Embedder MCPEmbedder
	UserID   string
}

// NewMCPServer creates an MCP server exposing the knowledge bases as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"ragchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("ragchat — knowledge bases of uploaded documents with semantic search."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_knowledge",
			mcp.WithDescription("Semantically search the knowledge bases and return the most relevant text chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithArray("project_ids", mcp.Description("Knowledge bases to search (default: all)")),
		),
		mcpSearchKnowledge(deps),
	)

	s.AddTool(
		mcp.NewTool("list_projects",
			mcp.WithDescription("List the knowledge bases and their documents."),
		),
		mcpListProjects(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Ingest a piece of text into a knowledge base as a new document."),
			mcp.WithString("project_id", mcp.Description("Target knowledge base"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Document name")),
			mcp.WithString("content", mcp.Description("The text to ingest"), mcp.Required()),
		),
		mcpAddDocument(deps),
	)

	return s
}

func mcpSearchKnowledge(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		projectIDs := req.GetStringSlice("project_ids", nil)
		if len(projectIDs) == 0 {
			projects, err := deps.Store.ListProjects(deps.UserID)
			if err != nil {
				return mcpError(fmt.Sprintf("listing projects: %v", err)), nil
			}
			for _, p := range projects {
				projectIDs = append(projectIDs, p.ID)
			}
		}
		if len(projectIDs) == 0 {
			return mcpText("[]"), nil
		}

		queryVec, err := deps.Embedder.Embed(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("embedding query: %v", err)), nil
		}

		chunks, err := deps.Store.ListChunksByProjects(projectIDs, deps.UserID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing chunks: %v", err)), nil
		}

		ranked := retrieval.Rank(queryVec, chunks, retrieval.DefaultTopK)
		if len(ranked) == 0 {
			return mcpText("[]"), nil
		}

		type chunkResult struct {
			ID         string  `json:"id"`
			DocumentID string  `json:"document_id"`
			Text       string  `json:"text"`
			Score      float32 `json:"score"`
		}
		results := make([]chunkResult, len(ranked))
		for i, sc := range ranked {
			results[i] = chunkResult{
				ID:         sc.Chunk.ID,
				DocumentID: sc.Chunk.DocumentID,
				Text:       sc.Chunk.Text,
				Score:      sc.Score,
			}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("marshaling results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListProjects(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projects, err := deps.Store.ListProjects(deps.UserID)
		if err != nil {
			return mcpError(fmt.Sprintf("listing projects: %v", err)), nil
		}

		type projectResult struct {
			ID        string   `json:"id"`
			Name      string   `json:"name"`
			Documents []string `json:"documents"`
		}
		results := make([]projectResult, len(projects))
		for i, p := range projects {
			docs, err := deps.Store.ListDocuments(p.ID, deps.UserID)
			if err != nil {
				return mcpError(fmt.Sprintf("listing documents: %v", err)), nil
			}
			names := make([]string, len(docs))
			for j, d := range docs {
				names[j] = d.FileName
			}
			results[i] = projectResult{ID: p.ID, Name: p.Name, Documents: names}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("marshaling results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		name := req.GetString("name", "mcp-note.txt")

		project, err := deps.Store.GetProject(projectID)
		if err != nil {
			return mcpError(fmt.Sprintf("looking up project: %v", err)), nil
		}
		if project.UserID != deps.UserID {
			return mcpError("project not found"), nil
		}

		result, err := deps.Ingest.ProcessFiles(ctx, deps.UserID, projectID, []ingest.File{
			{Name: name, MIME: "text/plain", Data: []byte(content)},
		})
		if err != nil {
			return mcpError(fmt.Sprintf("ingesting document: %v", err)), nil
		}

		return mcpText(fmt.Sprintf("Ingested document %s (%d chunks)", result.DocumentIDs[0], result.ChunkCount)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
