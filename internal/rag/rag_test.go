package rag

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/knowledge"
	"github.com/floatchat/floatchat/internal/log"
)

type stubRetriever struct {
	results []knowledge.Result
}

func (s *stubRetriever) Retrieve(_ context.Context, _ string) []knowledge.Result {
	return s.results
}

type stubGenerator struct {
	output string
	err    error
	prompt string
}

func (s *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	s.prompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return s.output, nil
}

func resultWith(content string, similarity float64) knowledge.Result {
	return knowledge.Result{
		Document: knowledge.Document{
			ID:       "doc-1",
			Content:  content,
			Metadata: map[string]any{"float_id": "5904471"},
		},
		Similarity: similarity,
	}
}

func TestComposePromptSections(t *testing.T) {
	prompt := ComposePrompt(PromptInput{
		Query:   "Show me salinity near Mumbai",
		History: "User: hello\nAssistant: Hi there",
		Context: []knowledge.Result{resultWith("Float Metadata:\nFloat ID: 5904471", 0.8215)},
		Geo: &geo.QueryContext{
			Location:     geo.Location{Name: "mumbai", Latitude: 19.0760, Longitude: 72.8777},
			RadiusKm:     500,
			ContextBlock: "LOCATION CONTEXT DETECTED:\nLocation: mumbai",
		},
	})

	ordered := []string{
		"specialized SQL generator for oceanographic ARGO float data",
		"CONVERSATION HISTORY:",
		"User: hello",
		"CRITICAL SAFETY CONSTRAINTS:",
		"DATABASE SCHEMA:",
		"Table: floats",
		"Table: cycles",
		"Table: profiles",
		"RELEVANT CONTEXT FROM DATABASE:",
		"Context 1 (Similarity: 0.821):",
		"Float ID: 5904471",
		"GEOGRAPHIC CONTEXT:",
		"LOCATION CONTEXT DETECTED:",
		"FEW-SHOT EXAMPLES:",
		"Example 1:",
		"Human: Show me all temperature measurements from float 5904471",
		"USER QUERY: Show me salinity near Mumbai",
		"IF NO RESULTS FOUND:",
		"SQL:",
	}

	pos := 0
	for _, want := range ordered {
		idx := strings.Index(prompt[pos:], want)
		if idx < 0 {
			t.Fatalf("prompt missing %q after position %d", want, pos)
		}
		pos += idx
	}
}

func TestComposePromptOmitsEmptySections(t *testing.T) {
	prompt := ComposePrompt(PromptInput{Query: "Show me all floats"})

	for _, absent := range []string{
		"CONVERSATION HISTORY:",
		"RELEVANT CONTEXT FROM DATABASE:",
		"GEOGRAPHIC CONTEXT:",
		"IF NO RESULTS FOUND:",
	} {
		if strings.Contains(prompt, absent) {
			t.Errorf("prompt should not contain %q for empty input", absent)
		}
	}
	if !strings.Contains(prompt, "USER QUERY: Show me all floats") {
		t.Error("prompt missing user query")
	}
}

func TestCleanSQL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "markdown fences",
			raw:  "```sql\nSELECT * FROM floats\n```",
			want: "SELECT * FROM floats;",
		},
		{
			name: "collapses whitespace",
			raw:  "SELECT   *\n  FROM floats\nWHERE wmo_id = '123';",
			want: "SELECT * FROM floats WHERE wmo_id = '123';",
		},
		{
			name: "already clean",
			raw:  "SELECT 1;",
			want: "SELECT 1;",
		},
		{
			name: "empty",
			raw:  "",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanSQL(tt.raw); got != tt.want {
				t.Errorf("CleanSQL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestConfidenceScore(t *testing.T) {
	docs := []knowledge.Result{
		resultWith("a", 0.9),
		resultWith("b", 0.7),
	}

	tests := []struct {
		name string
		docs []knowledge.Result
		sql  string
		want float64
	}{
		{
			name: "full structural credit",
			docs: docs,
			sql:  "SELECT p.temperature FROM profiles p JOIN cycles c ON p.cycle_id = c.cycle_id WHERE p.temperature IS NOT NULL;",
			want: 0.8*0.6 + 0.2 + 0.1 + 0.1,
		},
		{
			name: "select only",
			docs: nil,
			sql:  "SELECT 1;",
			want: 0.2,
		},
		{
			name: "no sql",
			docs: docs,
			sql:  "",
			want: 0.48,
		},
		{
			name: "capped at one",
			docs: []knowledge.Result{resultWith("a", 1.0)},
			sql:  "SELECT * FROM floats f JOIN cycles c ON f.float_id = c.float_id WHERE c.latitude > 0;",
			want: 1.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConfidenceScore(tt.docs, tt.sql)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ConfidenceScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessQuery(t *testing.T) {
	gen := &stubGenerator{output: "```sql\nSELECT f.float_id FROM floats f JOIN cycles c ON f.float_id = c.float_id WHERE c.latitude > 0\n```"}
	core := NewCore(&stubRetriever{results: []knowledge.Result{resultWith("doc", 0.5)}}, gen, log.NewNop())

	result, err := core.ProcessQuery(context.Background(), "Show me northern floats", "", nil)
	if err != nil {
		t.Fatalf("ProcessQuery() error = %v", err)
	}

	want := "SELECT f.float_id FROM floats f JOIN cycles c ON f.float_id = c.float_id WHERE c.latitude > 0;"
	if result.SQLQuery != want {
		t.Errorf("SQLQuery = %q, want %q", result.SQLQuery, want)
	}
	wantScore := 0.5*0.6 + 0.2 + 0.1 + 0.1
	if math.Abs(result.ConfidenceScore-wantScore) > 1e-9 {
		t.Errorf("ConfidenceScore = %v, want %v", result.ConfidenceScore, wantScore)
	}
	if len(result.RetrievedContext) != 1 {
		t.Errorf("RetrievedContext count = %d, want 1", len(result.RetrievedContext))
	}
	if result.Reasoning != "Here is the data you requested:" {
		t.Errorf("Reasoning = %q", result.Reasoning)
	}
	if !strings.Contains(gen.prompt, "USER QUERY: Show me northern floats") {
		t.Error("generator did not receive composed prompt")
	}
}

func TestProcessQueryGeneratorError(t *testing.T) {
	genErr := errors.New("model unavailable")
	core := NewCore(&stubRetriever{}, &stubGenerator{err: genErr}, log.NewNop())

	_, err := core.ProcessQuery(context.Background(), "anything", "", nil)
	if !errors.Is(err, genErr) {
		t.Fatalf("ProcessQuery() error = %v, want wrapped %v", err, genErr)
	}
}
