package gemini

import (
	"testing"

	"google.golang.org/genai"
)

func TestBuildContents_RoleMapping(t *testing.T) {
	contents := buildContents([]ChatMessage{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleModel, Content: "hi"},
		{Role: RoleUser, Content: "draw me a map"},
	})
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(contents))
	}
	wantRoles := []string{"user", "model", "user"}
	for i, c := range contents {
		if c.Role != wantRoles[i] {
			t.Errorf("content %d role = %q, want %q", i, c.Role, wantRoles[i])
		}
		if len(c.Parts) != 1 || c.Parts[0].Text == "" {
			t.Errorf("content %d has no text part", i)
		}
	}
}

func TestBuildChatTools(t *testing.T) {
	if tools := buildChatTools(ChatOptions{}); tools != nil {
		t.Fatalf("tools without options = %d, want none", len(tools))
	}

	tools := buildChatTools(ChatOptions{Search: true, Maps: true})
	if len(tools) != 2 {
		t.Fatalf("tools = %d, want 2", len(tools))
	}
	if tools[0].GoogleSearch == nil {
		t.Error("first tool is not google search")
	}
	if tools[1].GoogleMaps == nil {
		t.Error("second tool is not google maps")
	}
}

func TestExtractCitations(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				GroundingMetadata: &genai.GroundingMetadata{
					GroundingChunks: []*genai.GroundingChunk{
						{Web: &genai.GroundingChunkWeb{URI: "https://example.com", Title: "Example"}},
						{Maps: &genai.GroundingChunkMaps{URI: "https://maps.example.com", Title: "Somewhere"}},
						{},
					},
				},
			},
		},
	}
	citations := extractCitations(resp)
	if len(citations) != 2 {
		t.Fatalf("citations = %d, want 2", len(citations))
	}
	if citations[0].URI != "https://example.com" || citations[1].Title != "Somewhere" {
		t.Fatalf("unexpected citations: %+v", citations)
	}
}

func TestFirstText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: ""}, {Text: "answer"}}}},
		},
	}
	if got := firstText(resp); got != "answer" {
		t.Fatalf("firstText = %q, want %q", got, "answer")
	}
	if got := firstText(&genai.GenerateContentResponse{}); got != "" {
		t.Fatalf("firstText on empty response = %q, want empty", got)
	}
}
