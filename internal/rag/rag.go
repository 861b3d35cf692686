package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/knowledge"
	"github.com/floatchat/floatchat/internal/log"
)

// Generator produces model output for a fully assembled prompt. The
// pipeline depends on this interface so tests can substitute a canned
// generator.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Retriever fetches reference documents for a query. Satisfied by
// knowledge.Retriever.
type Retriever interface {
	Retrieve(ctx context.Context, query string) []knowledge.Result
}

// QueryResult is the outcome of one Text-to-SQL generation pass.
type QueryResult struct {
	SQLQuery         string             `json:"sql_query"`
	ConfidenceScore  float64            `json:"confidence_score"`
	RetrievedContext []knowledge.Result `json:"retrieved_context"`
	ProcessingTime   float64            `json:"processing_time"`
	Reasoning        string             `json:"reasoning"`
}

// Core runs the retrieval augmented Text-to-SQL pipeline: retrieve
// similar profile summaries, assemble the prompt, invoke the model,
// clean the output and score it.
type Core struct {
	retriever Retriever
	generator Generator
	logger    log.Logger
}

// NewCore creates a Core. All dependencies are required.
func NewCore(retriever Retriever, generator Generator, logger log.Logger) *Core {
	return &Core{retriever: retriever, generator: generator, logger: logger}
}

// ProcessQuery converts a natural language query into a SQL statement.
// conversationContext and geoCtx may be empty; retrieval failures degrade
// to generation without context rather than aborting.
func (c *Core) ProcessQuery(ctx context.Context, query, conversationContext string, geoCtx *geo.QueryContext) (*QueryResult, error) {
	start := time.Now()

	c.logger.Info("processing query", "query", query)

	contextDocs := c.retriever.Retrieve(ctx, query)

	prompt := ComposePrompt(PromptInput{
		Query:   query,
		History: conversationContext,
		Context: contextDocs,
		Geo:     geoCtx,
	})

	raw, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating sql: %w", err)
	}

	sqlQuery := CleanSQL(raw)
	confidence := ConfidenceScore(contextDocs, sqlQuery)
	elapsed := time.Since(start)

	c.logger.Info("query processed",
		"sql", truncateForLog(sqlQuery, 100),
		"confidence", confidence,
		"duration", elapsed)

	return &QueryResult{
		SQLQuery:         sqlQuery,
		ConfidenceScore:  confidence,
		RetrievedContext: contextDocs,
		ProcessingTime:   elapsed.Seconds(),
		Reasoning:        "Here is the data you requested:",
	}, nil
}

// CleanSQL normalizes raw model output into a single-line SQL statement:
// markdown fences removed, whitespace collapsed, trailing semicolon
// guaranteed.
func CleanSQL(raw string) string {
	s := strings.ReplaceAll(raw, "```sql", "")
	s = strings.ReplaceAll(s, "```", "")
	s = strings.Join(strings.Fields(s), " ")
	if s != "" && !strings.HasSuffix(s, ";") {
		s += ";"
	}
	return s
}

// ConfidenceScore estimates how trustworthy a generated statement is.
// Up to 0.6 comes from average retrieval similarity, the rest from
// structural features of the SQL itself. Capped at 1.0.
func ConfidenceScore(contextDocs []knowledge.Result, sqlQuery string) float64 {
	score := 0.0

	if len(contextDocs) > 0 {
		var sum float64
		for _, doc := range contextDocs {
			sum += doc.Similarity
		}
		score += (sum / float64(len(contextDocs))) * 0.6
	}

	if sqlQuery != "" {
		upper := strings.ToUpper(sqlQuery)
		if strings.HasPrefix(strings.TrimSpace(upper), "SELECT") {
			score += 0.2
		}
		if strings.Contains(upper, "JOIN") {
			score += 0.1
		}
		if strings.Contains(upper, "WHERE") {
			score += 0.1
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// GenkitGenerator invokes a Genkit model with low temperature for
// deterministic SQL output.
type GenkitGenerator struct {
	g         *genkit.Genkit
	modelName string
}

// NewGenkitGenerator creates a Generator backed by the named model,
// e.g. "googleai/gemini-2.5-flash".
func NewGenkitGenerator(g *genkit.Genkit, modelName string) *GenkitGenerator {
	return &GenkitGenerator{g: g, modelName: modelName}
}

// Generate sends the prompt to the model and returns the raw text.
func (gg *GenkitGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.modelName),
		ai.WithPrompt(prompt),
		ai.WithConfig(map[string]any{
			"temperature":     0.1,
			"topP":            0.9,
			"maxOutputTokens": 512,
		}),
	)
	if err != nil {
		return "", fmt.Errorf("invoking model %s: %w", gg.modelName, err)
	}
	return resp.Text(), nil
}
