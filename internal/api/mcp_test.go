package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/memorium/internal/blob"
	"github.com/kalambet/memorium/internal/meta"
	"github.com/kalambet/memorium/internal/palace"
	"github.com/kalambet/memorium/internal/recall"
	"github.com/kalambet/memorium/internal/records"
	"github.com/kalambet/memorium/internal/store"
	"github.com/kalambet/memorium/internal/vault"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T) MCPDeps {
	t.Helper()
	kv := meta.NewKV(":memory:")
	blobs := blob.NewStore(":memory:")
	recs := records.New(kv, vault.New(kv))
	st := store.New(blobs, recs, slog.Default())
	t.Cleanup(func() {
		st.Close()
		blobs.Close()
		kv.Close()
	})
	return MCPDeps{Store: st, Recall: recall.NewManager(kv)}
}

func seedMCPPalace(t *testing.T, deps MCPDeps) palace.Palace {
	t.Helper()
	p, err := deps.Store.AddPalace("Observatory", "star charts", []palace.Image{
		{Name: "dome", DataURL: "data:image/png;base64,AAAA"},
	})
	if err != nil {
		t.Fatalf("seeding palace: %v", err)
	}
	return p
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_ListPalaces(t *testing.T) {
	deps := newTestMCPDeps(t)
	p := seedMCPPalace(t, deps)
	handler := mcpListPalaces(deps)

	result, err := handler(context.Background(), makeCallToolRequest("list_palaces", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var summaries []palaceSummary
	if err := json.Unmarshal([]byte(toolText(t, result)), &summaries); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 palace, got %d", len(summaries))
	}
	if summaries[0].ID != p.ID || summaries[0].Images != 1 {
		t.Fatalf("unexpected summary: %+v", summaries[0])
	}
}

func TestMCPTool_PalaceDetail_StripsInlinePayloads(t *testing.T) {
	deps := newTestMCPDeps(t)
	p := seedMCPPalace(t, deps)
	handler := mcpPalaceDetail(deps)

	req := makeCallToolRequest("palace_detail", map[string]interface{}{
		"palace_id": p.ID,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	if strings.Contains(text, "base64,AAAA") {
		t.Fatal("inline payload leaked into tool output")
	}
	if !strings.Contains(text, "(inline payload omitted)") {
		t.Fatal("inline payload placeholder missing")
	}
}

func TestMCPTool_PalaceDetail_NotFound(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpPalaceDetail(deps)

	req := makeCallToolRequest("palace_detail", map[string]interface{}{
		"palace_id": "palace_missing",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for unknown palace")
	}
}

func TestMCPTool_AddAnnotation(t *testing.T) {
	deps := newTestMCPDeps(t)
	p := seedMCPPalace(t, deps)
	handler := mcpAddAnnotation(deps)

	req := makeCallToolRequest("add_annotation", map[string]interface{}{
		"palace_id": p.ID,
		"image_id":  p.Images[0].ID,
		"text":      "telescope",
		"note":      "refracting, 1891",
		"x":         0.5,
		"y":         -0.25,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	got, err := deps.Store.Palace(p.ID)
	if err != nil {
		t.Fatalf("reading palace back: %v", err)
	}
	anns := got.Images[0].Annotations
	if len(anns) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(anns))
	}
	if anns[0].Text != "telescope" || anns[0].Position.X != 0.5 {
		t.Fatalf("unexpected annotation: %+v", anns[0])
	}
	if !anns[0].IsGenerated {
		t.Fatal("agent-added annotation not marked generated")
	}
}

func TestMCPTool_AddAnnotation_MissingArgs(t *testing.T) {
	deps := newTestMCPDeps(t)
	handler := mcpAddAnnotation(deps)

	req := makeCallToolRequest("add_annotation", map[string]interface{}{
		"palace_id": "palace_x",
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result when image_id and text are missing")
	}
}

func TestMCPTool_RecallStats(t *testing.T) {
	deps := newTestMCPDeps(t)
	p := seedMCPPalace(t, deps)

	_, err := deps.Recall.Record(p.ID, p.Name, recall.Session{
		Results: []recall.AnnotationResult{
			{AnnotationID: "ann_1", Remembered: true},
			{AnnotationID: "ann_2", Remembered: false},
		},
	})
	if err != nil {
		t.Fatalf("recording session: %v", err)
	}

	handler := mcpRecallStats(deps)
	req := makeCallToolRequest("recall_stats", map[string]interface{}{
		"palace_id": p.ID,
	})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var stats recall.Stats
	if err := json.Unmarshal([]byte(toolText(t, result)), &stats); err != nil {
		t.Fatalf("failed to parse stats: %v", err)
	}
	if stats.TotalSessions != 1 || stats.BestScore != 50 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMCPResource_Palaces(t *testing.T) {
	deps := newTestMCPDeps(t)
	seedMCPPalace(t, deps)

	handler := mcpResourcePalaces(deps)
	req := mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: "palace://list"},
	}
	contents, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}

	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var summaries []palaceSummary
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("failed to parse resource JSON: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 palace, got %d", len(summaries))
	}
}

func TestSummarizeTruncatesDescription(t *testing.T) {
	long := strings.Repeat("x", 300)
	s := summarize(palace.Palace{ID: "palace_1", Name: "P", Description: long})
	if len([]rune(s.Description)) != 203 {
		t.Fatalf("description length = %d, want 200 runes plus ellipsis", len([]rune(s.Description)))
	}
	if !strings.HasSuffix(s.Description, "...") {
		t.Fatal("truncated description missing ellipsis")
	}
}
