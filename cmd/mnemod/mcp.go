package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/mnemo-agent/mnemod/index"
	"github.com/mnemo-agent/mnemod/manager"
	"github.com/mnemo-agent/mnemod/stores"
)

// serveMCP exposes the memory engine over MCP stdio so agent runtimes can
// consume it as a tool server. Blocks until stdin closes.
func serveMCP(mgr *manager.Manager, logger zerolog.Logger) error {
	s := server.NewMCPServer("mnemod", "1.0.0", server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool("memory_search",
		mcp.WithDescription("Hybrid search over the indexed memory files. Returns scored chunks with file locations."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Natural-language search query")),
		mcp.WithNumber("max_results", mcp.Description("Maximum chunks to return")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		results, err := mgr.Index().Search(ctx, query, index.SearchOptions{
			MaxResults: req.GetInt("max_results", 0),
		})
		if err == index.ErrSearchDisabled {
			return mcp.NewToolResultText(`{"disabled": true, "results": []}`), nil
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(searchResponse(results))
	})

	s.AddTool(mcp.NewTool("memory_recall",
		mcp.WithDescription("Look up typed memories (facts, episodes, procedures, intentions), newest first."),
		mcp.WithString("query", mcp.Description("Filter text; empty returns everything")),
		mcp.WithString("kind", mcp.Description("Restrict to one kind: working, episodic, semantic, procedural, prospective, emotional")),
		mcp.WithNumber("limit", mcp.Description("Maximum entries to return")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var kinds []stores.Kind
		if k := req.GetString("kind", ""); k != "" {
			kinds = append(kinds, stores.Kind(k))
		}
		entries := mgr.GetRelevantMemories(req.GetString("query", ""), req.GetInt("limit", 0), kinds)
		return jsonResult(entries)
	})

	s.AddTool(mcp.NewTool("memory_remember",
		mcp.WithDescription("Store one memory. Facts and preferences become semantic memories, events episodic, learnings procedural, intentions prospective."),
		mcp.WithString("content", mcp.Required(), mcp.Description("What to remember")),
		mcp.WithString("kind", mcp.Required(), mcp.Description("fact, preference, event, learning, or intention")),
		mcp.WithNumber("importance", mcp.Description("0..1, defaults to 0.5")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		kind, err := req.RequireString("kind")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		importance := req.GetFloat("importance", 0.5)

		st := mgr.Stores()
		var id string
		switch kind {
		case "fact":
			id = st.Semantic.Add(content, "", importance, "mcp")
		case "preference":
			id = st.Semantic.Add(content, "preference", importance, "mcp")
		case "event":
			id = st.Episodic.Add(content, time.Now().UnixMilli(), stores.EpisodeContext{
				What: content,
				When: time.Now().UTC().Format(time.RFC3339),
			}, "")
		case "learning":
			id = st.Procedural.Add(content, "", "")
		case "intention":
			id = st.Prospective.Add(content, importance, 0, "")
		default:
			return mcp.NewToolResultError(fmt.Sprintf("unknown memory kind %q", kind)), nil
		}
		return jsonResult(map[string]string{"id": id})
	})

	s.AddTool(mcp.NewTool("memory_read",
		mcp.WithDescription("Read a line range from an indexed memory file, for deep reads after a search hit."),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path relative to the memory root")),
		mcp.WithNumber("from_line", mcp.Description("First line, 1-indexed")),
		mcp.WithNumber("to_line", mcp.Description("Last line, inclusive")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, from, to, err := mgr.Index().ReadFile(path, req.GetInt("from_line", 1), req.GetInt("to_line", 0))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(map[string]any{"text": text, "from_line": from, "to_line": to})
	})

	s.AddTool(mcp.NewTool("memory_sync",
		mcp.WithDescription("Reindex the memory files now."),
		mcp.WithBoolean("force", mcp.Description("Reindex even unchanged files")),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := mgr.Sync(ctx, "mcp", req.GetBool("force", false))
		if err == manager.ErrSyncInFlight {
			return mcp.NewToolResultError("a sync is already running"), nil
		}
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(stats)
	})

	s.AddTool(mcp.NewTool("memory_status",
		mcp.WithDescription("Index file/chunk counts and provenance."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status, err := mgr.Index().Status()
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(status)
	})

	logger.Info().Msg("Serving MCP on stdio")
	return server.ServeStdio(s)
}

type searchHit struct {
	Path      string  `json:"path"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	Score     float64 `json:"score"`
	Text      string  `json:"text"`
}

func searchResponse(results []index.SearchResult) []searchHit {
	hits := make([]searchHit, len(results))
	for i, r := range results {
		hits[i] = searchHit{
			Path:      r.Chunk.Path,
			StartLine: r.Chunk.StartLine,
			EndLine:   r.Chunk.EndLine,
			Score:     r.Score,
			Text:      r.Chunk.Text,
		}
	}
	return hits
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
