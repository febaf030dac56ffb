package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/memorium/internal/palace"
	"github.com/kalambet/memorium/internal/recall"
	"github.com/kalambet/memorium/internal/store"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *store.Store
	Recall *recall.Manager
}

// NewMCPServer creates an MCP server with the palace tools and
// resources registered. It runs over stdio next to the HTTP API so
// agents can browse and annotate palaces directly.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"memorium",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("memorium — local memory palace store for spatial note-taking and recall practice."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_palaces",
			mcp.WithDescription("List all memory palaces with their image and annotation counts."),
		),
		mcpListPalaces(deps),
	)

	s.AddTool(
		mcp.NewTool("palace_detail",
			mcp.WithDescription("Return one palace with its images and annotations. Binary payloads are replaced with references."),
			mcp.WithString("palace_id", mcp.Description("Palace id"), mcp.Required()),
		),
		mcpPalaceDetail(deps),
	)

	s.AddTool(
		mcp.NewTool("add_annotation",
			mcp.WithDescription("Add a text annotation to an image in a palace."),
			mcp.WithString("palace_id", mcp.Description("Palace id"), mcp.Required()),
			mcp.WithString("image_id", mcp.Description("Image id within the palace"), mcp.Required()),
			mcp.WithString("text", mcp.Description("Short label for the annotation"), mcp.Required()),
			mcp.WithString("note", mcp.Description("The fact to remember")),
			mcp.WithNumber("x", mcp.Description("X position in the viewer")),
			mcp.WithNumber("y", mcp.Description("Y position in the viewer")),
			mcp.WithNumber("z", mcp.Description("Z position in the viewer")),
		),
		mcpAddAnnotation(deps),
	)

	s.AddTool(
		mcp.NewTool("recall_stats",
			mcp.WithDescription("Return recall practice statistics for a palace."),
			mcp.WithString("palace_id", mcp.Description("Palace id"), mcp.Required()),
		),
		mcpRecallStats(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"palace://list",
			"Memory Palaces",
			mcp.WithResourceDescription("All palaces as JSON summaries"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourcePalaces(deps),
	)

	return s
}

type palaceSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Images      int    `json:"images"`
	Annotations int    `json:"annotations"`
	UpdatedAt   string `json:"updated_at"`
}

func summarize(p palace.Palace) palaceSummary {
	annotations := 0
	for _, img := range p.Images {
		annotations += len(img.Annotations)
	}
	desc := p.Description
	if utf8.RuneCountInString(desc) > 200 {
		runes := []rune(desc)
		desc = string(runes[:200]) + "..."
	}
	return palaceSummary{
		ID:          p.ID,
		Name:        p.Name,
		Description: desc,
		Images:      len(p.Images),
		Annotations: annotations,
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
}

func mcpListPalaces(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		palaces := deps.Store.Palaces()
		summaries := make([]palaceSummary, len(palaces))
		for i, p := range palaces {
			summaries[i] = summarize(p)
		}
		b, err := json.Marshal(summaries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal palaces: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPalaceDetail(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("palace_id")
		if err != nil {
			return mcpError("palace_id is required"), nil
		}
		p, err := deps.Store.Palace(id)
		if err != nil {
			return mcpError(fmt.Sprintf("palace not found: %v", err)), nil
		}

		// Strip inline payloads; an agent reading the structure has no
		// use for megabytes of base64.
		for i := range p.Images {
			if p.Images[i].DataURL != "" {
				p.Images[i].DataURL = "(inline payload omitted)"
			}
			for j := range p.Images[i].Annotations {
				if p.Images[i].Annotations[j].ImageDataURL != "" {
					p.Images[i].Annotations[j].ImageDataURL = "(inline payload omitted)"
				}
			}
		}

		b, err := json.Marshal(p)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal palace: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpAddAnnotation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		palaceID, err := req.RequireString("palace_id")
		if err != nil {
			return mcpError("palace_id is required"), nil
		}
		imageID, err := req.RequireString("image_id")
		if err != nil {
			return mcpError("image_id is required"), nil
		}
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}

		ann := palace.Annotation{
			Text: text,
			Note: req.GetString("note", ""),
			Position: palace.Vec3{
				X: req.GetFloat("x", 0),
				Y: req.GetFloat("y", 0),
				Z: req.GetFloat("z", 0),
			},
			IsVisible:   true,
			IsGenerated: true,
		}
		stored, err := deps.Store.AddAnnotation(palaceID, imageID, ann)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to add annotation: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Added annotation %s", stored.ID)), nil
	}
}

func mcpRecallStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("palace_id")
		if err != nil {
			return mcpError("palace_id is required"), nil
		}
		stats, err := deps.Recall.StatsFor(id)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute stats: %v", err)), nil
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourcePalaces(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		palaces := deps.Store.Palaces()
		summaries := make([]palaceSummary, len(palaces))
		for i, p := range palaces {
			summaries[i] = summarize(p)
		}
		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal palaces: %w", err)
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
