// Package mcp exposes the matching engine's internal stages as MCP tools
// so an external agent can drive enrichment, embedding, and job lookups
// directly, grounded on quaero's cmd/quaero-mcp server wiring
// (mcp-go's server.NewMCPServer/AddTool), replacing the teacher's
// hand-rolled JSON-RPC-over-gin scaffolding.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/myjobmatch/matchengine/logging"
	"github.com/myjobmatch/matchengine/models"
)

var log = logging.Component("mcp")

// Enricher is the subset of enrichment.Enricher exposed to tools.
type Enricher interface {
	RunBatch(ctx context.Context, limit int) (int, error)
}

// Embedder is the subset of embedding.Embedder exposed to tools.
type Embedder interface {
	Embed(ctx context.Context, jobID, text string) ([]float32, error)
}

// Store supplies the job lookups the tool handlers need.
type Store interface {
	GetJobsMissingAI(ctx context.Context, limit int) ([]models.Job, error)
}

// NewServer builds an MCP server exposing the engine's internal stages.
// version is the running build's version string.
func NewServer(version string, enricher Enricher, embedder Embedder, store Store) *server.MCPServer {
	s := server.NewMCPServer("myjobmatch-matchengine", version, server.WithToolCapabilities(true))

	s.AddTool(enrichBatchTool(), handleEnrichBatch(enricher))
	s.AddTool(embedTextTool(), handleEmbedText(embedder))
	s.AddTool(jobsMissingAITool(), handleJobsMissingAI(store))

	return s
}

// Serve blocks, serving the MCP protocol over stdio.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func enrichBatchTool() mcp.Tool {
	return mcp.NewTool("enrich_jobs",
		mcp.WithDescription("Run the enrichment pipeline over jobs lacking AI metadata, up to a limit"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of jobs to enrich in this call (default 20, max 200)"),
		),
	)
}

func handleEnrichBatch(enricher Enricher) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 20)
		if limit > 200 {
			limit = 200
		}
		if limit <= 0 {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent("Error: limit must be positive")},
				IsError: true,
			}, nil
		}

		succeeded, err := enricher.RunBatch(ctx, limit)
		if err != nil {
			log.Error().Err(err).Msg("enrich_jobs tool call failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("Error running enrichment: %v", err))},
				IsError: true,
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("Enriched %d of up to %d requested jobs", succeeded, limit))},
		}, nil
	}
}

func embedTextTool() mcp.Tool {
	return mcp.NewTool("embed_text",
		mcp.WithDescription("Compute the embedding vector for a piece of text, identified by a caller-assigned cache key"),
		mcp.WithString("job_id",
			mcp.Description("Cache key for the embedding; leave empty for ad-hoc, uncached text"),
		),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to embed"),
		),
	)
}

func handleEmbedText(embedder Embedder) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := request.RequireString("text")
		if err != nil || text == "" {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent("Error: text parameter is required")},
				IsError: true,
			}, nil
		}
		jobID := request.GetString("job_id", "")

		vec, err := embedder.Embed(ctx, jobID, text)
		if err != nil {
			log.Error().Err(err).Str("job_id", jobID).Msg("embed_text tool call failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("Error embedding text: %v", err))},
				IsError: true,
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("Embedded %d dimensions for job_id=%s", len(vec), jobID))},
		}, nil
	}
}

func jobsMissingAITool() mcp.Tool {
	return mcp.NewTool("list_jobs_missing_ai",
		mcp.WithDescription("List jobs that have not yet been enriched with AI metadata"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum jobs to list (default 20, max 100)"),
		),
	)
}

func handleJobsMissingAI(store Store) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := request.GetInt("limit", 20)
		if limit > 100 {
			limit = 100
		}

		jobs, err := store.GetJobsMissingAI(ctx, limit)
		if err != nil {
			log.Error().Err(err).Msg("list_jobs_missing_ai tool call failed")
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("Error listing jobs: %v", err))},
				IsError: true,
			}, nil
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(formatJobsMissingAI(jobs))},
		}, nil
	}
}

func formatJobsMissingAI(jobs []models.Job) string {
	if len(jobs) == 0 {
		return "No jobs are missing AI metadata."
	}
	out := fmt.Sprintf("%d jobs missing AI metadata:\n\n", len(jobs))
	for _, job := range jobs {
		out += fmt.Sprintf("- job_id=%d source=%s title=%q company=%q\n", job.JobID, job.Source, job.Title, job.Company)
	}
	return out
}
