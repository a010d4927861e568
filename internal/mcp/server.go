// Package mcp provides a Model Context Protocol server for the form
// engine.
//
// It exposes the questionnaire as MCP tools (start, answer, edit,
// history, extract) so an agent can drive a form conversation, and the
// question catalog as an MCP resource. Transport is stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/solterra/agroform/internal/catalog"
	"github.com/solterra/agroform/internal/extract"
	"github.com/solterra/agroform/internal/flow"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Catalog  *catalog.Catalog
	Engine   *flow.Engine
	Pipeline *extract.Pipeline // optional, form_extract is omitted when nil
	Version  string
}

// NewServer creates a configured MCP server with all form tools and
// resources.
func NewServer(cfg ServerConfig) *server.MCPServer {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}

	s := server.NewMCPServer(
		"Agroform",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerStartTool(s, cfg.Engine)
	registerAnswerTool(s, cfg.Engine)
	registerEditTool(s, cfg.Engine)
	registerHistoryTool(s, cfg.Engine)
	if cfg.Pipeline != nil {
		registerExtractTool(s, cfg.Pipeline, cfg.Catalog)
	}

	registerCatalogResource(s, cfg.Catalog)

	return s
}

// --- Tools ---

func registerStartTool(s *server.MCPServer, engine *flow.Engine) {
	tool := mcp.NewTool("form_start",
		mcp.WithDescription("Start a new form session and return the first question. Generates a session id when none is given."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("session_id",
			mcp.Description("Session identifier. Omit to generate one."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := ""
		if id, err := req.RequireString("session_id"); err == nil {
			sessionID = strings.TrimSpace(id)
		}
		if sessionID == "" {
			sessionID = uuid.NewString()
		}

		question, err := engine.Start(ctx, sessionID, nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("start error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(map[string]any{
			"session_id": sessionID,
			"question":   question,
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerAnswerTool(s *server.MCPServer, engine *flow.Engine) {
	tool := mcp.NewTool("form_answer",
		mcp.WithDescription("Answer the current question of a form session. Returns the next question, or the full answer set when the form is finished."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier from form_start"),
		),
		mcp.WithString("answer",
			mcp.Required(),
			mcp.Description("Answer to the current question"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id is required"), nil
		}
		answer, err := req.RequireString("answer")
		if err != nil {
			return mcp.NewToolResultError("answer is required"), nil
		}

		result, err := engine.Submit(ctx, sessionID, answer)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("answer error: %v", err)), nil
		}

		payload := map[string]any{}
		if result.Done {
			payload["end"] = true
			payload["answers"] = result.Answers
		} else {
			payload["question"] = result.Question
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerEditTool(s *server.MCPServer, engine *flow.Engine) {
	tool := mcp.NewTool("form_edit",
		mcp.WithDescription("Overwrite a previously answered field. When the field is a catalog question the flow re-routes from it with the new value."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier from form_start"),
		),
		mcp.WithString("field",
			mcp.Required(),
			mcp.Description("Field name to overwrite"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("New value"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id is required"), nil
		}
		field, err := req.RequireString("field")
		if err != nil {
			return mcp.NewToolResultError("field is required"), nil
		}
		value, err := req.RequireString("value")
		if err != nil {
			return mcp.NewToolResultError("value is required"), nil
		}

		result, err := engine.Edit(ctx, sessionID, field, value)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("edit error: %v", err)), nil
		}

		payload := map[string]any{"reflowed": result.Reflowed}
		if result.Done {
			payload["end"] = true
		}
		if result.Question != nil {
			payload["question"] = result.Question
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerHistoryTool(s *server.MCPServer, engine *flow.Engine) {
	tool := mcp.NewTool("form_history",
		mcp.WithDescription("Return the append-only answer history of a form session, in submission order."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Session identifier from form_start"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := req.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError("session_id is required"), nil
		}

		history, err := engine.History(ctx, sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("history error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(map[string]any{
			"history": history,
			"count":   len(history),
		}, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerExtractTool(s *server.MCPServer, pipeline *extract.Pipeline, cat *catalog.Catalog) {
	tool := mcp.NewTool("form_extract",
		mcp.WithDescription("Extract form fields from a free-form project description. Fields default to the question catalog; pass a comma-separated list to narrow them."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Free-form project description to extract from"),
		),
		mcp.WithString("fields",
			mcp.Description("Comma-separated field names (default: all catalog questions)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}

		fields := extract.FieldsFromCatalog(cat)
		if raw, err := req.RequireString("fields"); err == nil && strings.TrimSpace(raw) != "" {
			fields = fields[:0]
			for _, name := range strings.Split(raw, ",") {
				if name = strings.TrimSpace(name); name != "" {
					fields = append(fields, extract.Field{Name: name})
				}
			}
		}

		result, err := pipeline.Extract(ctx, text, fields)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extract error: %v", err)), nil
		}

		data, _ := json.MarshalIndent(result, "", "  ")
		return mcp.NewToolResultText(string(data)), nil
	})
}

// --- Resources ---

func registerCatalogResource(s *server.MCPServer, cat *catalog.Catalog) {
	resource := mcp.NewResource(
		"agroform://catalog",
		"Question Catalog",
		mcp.WithResourceDescription("All form questions with input kinds and option sets, in declaration order."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		type questionInfo struct {
			ID      string   `json:"id"`
			Text    string   `json:"text"`
			Input   string   `json:"input"`
			Options []string `json:"options,omitempty"`
		}

		ids := cat.IDs()
		questions := make([]questionInfo, 0, len(ids))
		for _, id := range ids {
			q, _ := cat.Get(id)
			questions = append(questions, questionInfo{
				ID:      q.ID,
				Text:    q.Text,
				Input:   string(q.Input),
				Options: q.Options,
			})
		}

		payload := map[string]any{
			"first_question": cat.FirstID(),
			"questions":      questions,
			"count":          len(questions),
		}
		data, _ := json.MarshalIndent(payload, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: req.Params.URI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})
}
