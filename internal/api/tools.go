package api

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/veristep/viva/internal/session"
	"github.com/veristep/viva/internal/storage"
)

// AuditStore records tool invocations and state transitions. Nil-safe
// callers should use ToolDeps with a nil store only in tests.
type AuditStore interface {
	RecordToolCall(tc storage.ToolCall) error
	UpdateSessionState(id, state string) error
}

// ToolDeps holds dependencies for one session's tool server.
type ToolDeps struct {
	Session *session.Session
	Store   AuditStore
	Logger  *slog.Logger
}

// NewToolServer creates an MCP server exposing the four interview tools
// for a single session. Every tool is total: whatever fails, the model
// gets advisory text back, never a protocol error.
func NewToolServer(deps ToolDeps) *server.MCPServer {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := server.NewMCPServer(
		"viva",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("viva — scripted visa interview tools: question retrieval, document verification, and session termination."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("getRelevantQuestions",
			mcp.WithDescription("Fetch interview questions for a topic area such as academic, financial, ties, immigration, english, documents, or work."),
			mcp.WithString("topic", mcp.Description("Topic area to explore"), mcp.Required()),
		),
		toolGetRelevantQuestions(deps),
	)

	s.AddTool(
		mcp.NewTool("lookupUserDocuments",
			mcp.WithDescription("Search the applicant's uploaded documents to verify a claim they just made."),
			mcp.WithString("question", mcp.Description("The claim or question to verify against the documents"), mcp.Required()),
			mcp.WithArray("document_types", mcp.Description("Optional internal document names to restrict the search to")),
		),
		toolLookupUserDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("lookupReferenceDocuments",
			mcp.WithDescription("Look up official visa regulations, requirements, and guidelines."),
			mcp.WithString("question", mcp.Description("The regulation or requirement to look up"), mcp.Required()),
		),
		toolLookupReferenceDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("endInterview",
			mcp.WithDescription("End the interview session. Say goodbye in one turn, then call this tool in the NEXT turn after the applicant has heard it."),
		),
		toolEndInterview(deps),
	)

	return s
}

func toolGetRelevantQuestions(deps ToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}
		outcome := deps.Session.Bank.Retrieve(topic).Message()
		audit(deps, "getRelevantQuestions", "topic="+topic, outcome)
		return mcpText(outcome), nil
	}
}

func toolLookupUserDocuments(deps ToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		hints := req.GetStringSlice("document_types", nil)

		outcome := deps.Session.Verifier.LookupUserDocuments(ctx, question, hints)
		args := "question=" + question
		if len(hints) > 0 {
			args += " document_types=" + strings.Join(hints, ",")
		}
		audit(deps, "lookupUserDocuments", args, outcome)
		return mcpText(outcome), nil
	}
}

func toolLookupReferenceDocuments(deps ToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		outcome := deps.Session.Verifier.LookupReferenceDocuments(ctx, question)
		audit(deps, "lookupReferenceDocuments", "question="+question, outcome)
		return mcpText(outcome), nil
	}
}

func toolEndInterview(deps ToolDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		outcome := deps.Session.Controller.Terminate(ctx)
		if deps.Store != nil {
			if err := deps.Store.UpdateSessionState(deps.Session.ID, string(deps.Session.Controller.State())); err != nil {
				deps.Logger.Warn("recording termination failed", "session_id", deps.Session.ID, "error", err)
			}
		}
		audit(deps, "endInterview", "", outcome)
		return mcpText(outcome), nil
	}
}

const maxAuditField = 500

func audit(deps ToolDeps, tool, args, outcome string) {
	if deps.Store == nil {
		return
	}
	tc := storage.ToolCall{
		ID:        uuid.New().String(),
		SessionID: deps.Session.ID,
		Tool:      tool,
		Arguments: truncate(args, maxAuditField),
		Outcome:   truncate(outcome, maxAuditField),
		CreatedAt: time.Now().UTC(),
	}
	if err := deps.Store.RecordToolCall(tc); err != nil {
		deps.Logger.Warn("recording tool call failed", "session_id", deps.Session.ID, "tool", tool, "error", err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
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
