package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/policyguard/internal/retrieval"
)

// NewMCPServer creates an MCP server exposing policy search, policy ingestion
// and invoice analysis as tools.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"policyguard",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("policyguard checks invoices against company expense policies."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_policy",
			mcp.WithDescription("Search the expense policy knowledge base and return the most relevant policy sections."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithString("company_id", mcp.Description("Restrict results to one company's policies")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearchPolicy(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_policy_text",
			mcp.WithDescription("Add a plain-text expense policy document to the knowledge base."),
			mcp.WithString("content", mcp.Description("Full policy text"), mcp.Required()),
			mcp.WithString("file_name", mcp.Description("Name recorded as the policy source"), mcp.Required()),
			mcp.WithString("company_id", mcp.Description("Owning company")),
		),
		mcpIngestPolicyText(deps),
	)

	s.AddTool(
		mcp.NewTool("analyze_invoice_text",
			mcp.WithDescription("Validate invoice text and check it against the expense policy. Returns the analysis result as JSON."),
			mcp.WithString("text", mcp.Description("Invoice text"), mcp.Required()),
			mcp.WithString("company_id", mcp.Description("Company whose policies apply")),
		),
		mcpAnalyzeInvoiceText(deps),
	)

	s.AddTool(
		mcp.NewTool("list_policies",
			mcp.WithDescription("List ingested policy documents."),
			mcp.WithString("company_id", mcp.Description("Restrict to one company")),
		),
		mcpListPolicies(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"policy://documents",
			"Policy Documents",
			mcp.WithResourceDescription("All ingested policy documents as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

func mcpSearchPolicy(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := clampLimit(req.GetInt("limit", retrieval.DefaultTopK), retrieval.DefaultTopK, maxSearchLimit)
		matches := deps.Searcher.Search(ctx, query, req.GetString("company_id", ""), limit)

		return mcpJSON(matches)
	}
}

func mcpIngestPolicyText(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}
		fileName, err := req.RequireString("file_name")
		if err != nil {
			return mcpError("file_name is required"), nil
		}

		res, err := deps.Ingester.IngestText(ctx, content, fileName, req.GetString("company_id", ""), "mcp")
		if err != nil {
			return mcpError(fmt.Sprintf("ingestion failed: %v", err)), nil
		}

		return mcpText(res.Message), nil
	}
}

func mcpAnalyzeInvoiceText(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		companyID := req.GetString("company_id", "")

		res, err := deps.Analyzer.AnalyzeText(ctx, text, companyID)
		if err != nil {
			return mcpError(fmt.Sprintf("analysis failed: %v", err)), nil
		}

		if deps.History != nil {
			rec := analysisRecord(companyID, "mcp", res)
			if err := deps.History.SaveAnalysis(ctx, rec); err != nil {
				return mcpError(fmt.Sprintf("analysis finished but could not be stored: %v", err)), nil
			}
		}

		return mcpJSON(res)
	}
}

func mcpListPolicies(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs, err := deps.Policies.ListDocuments(ctx, req.GetString("company_id", ""))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list policies: %v", err)), nil
		}
		if docs == nil {
			docs = []retrieval.Document{}
		}
		return mcpJSON(docs)
	}
}

func mcpResourceDocuments(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Policies.ListDocuments(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list policies: %w", err)
		}
		if docs == nil {
			docs = []retrieval.Document{}
		}

		b, err := json.Marshal(docs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal policies: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
