// Package pipeline sequences the query-processing stages: intent
// classification, geographic enrichment, retrieval augmented SQL
// generation, validation, execution, and conversation persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/floatchat/floatchat/internal/executor"
	"github.com/floatchat/floatchat/internal/geo"
	"github.com/floatchat/floatchat/internal/history"
	"github.com/floatchat/floatchat/internal/intent"
	"github.com/floatchat/floatchat/internal/log"
	"github.com/floatchat/floatchat/internal/rag"
	"github.com/floatchat/floatchat/internal/sqlguard"
)

// personaPrompt handles conversational and help intents without touching
// the SQL path. %s is the user's message.
const personaPrompt = `You are FloatChat, a friendly assistant for exploring ARGO ocean float data. You help users query temperature, salinity, and pressure measurements from autonomous ocean floats using plain language. You can show data as tables, charts, and maps, and you remember the conversation so follow-up questions work naturally.

Reply to the user's message conversationally in one short paragraph. If they ask what you can do, describe your capabilities with a few example questions they could ask. Do not generate SQL.

User message: %s

Response:`

// Classifier decides what kind of response a query needs.
type Classifier interface {
	Classify(query string, turns []intent.Turn) intent.Result
}

// Locator scans a query for known place names.
type Locator interface {
	EnhanceQuery(query string) (string, *geo.QueryContext)
}

// SQLGenerator runs the retrieval augmented Text-to-SQL pass.
type SQLGenerator interface {
	ProcessQuery(ctx context.Context, query, conversationContext string, geoCtx *geo.QueryContext) (*rag.QueryResult, error)
}

// SQLExecutor runs validated SQL against the relational store.
type SQLExecutor interface {
	Execute(ctx context.Context, sql string) executor.Result
}

// Conversation is the session persistence the pipeline depends on.
// Satisfied by history.Store.
type Conversation interface {
	ConversationContext(ctx context.Context, sessionID uuid.UUID, maxTurns int) (string, error)
	AddMessage(ctx context.Context, sessionID uuid.UUID, role, message string, metadata, fullResponse map[string]any) (int32, error)
	CleanupOldMessages(ctx context.Context, sessionID uuid.UUID, maxMessages int) error
}

// Request is one natural language query, optionally bound to a session.
type Request struct {
	Query          string
	SessionID      *uuid.UUID
	IncludeContext bool
	MaxResults     int
}

// ContextDocument is a retrieved reference document as exposed to the
// caller, with content truncated for transport.
type ContextDocument struct {
	Content         string         `json:"content"`
	Metadata        map[string]any `json:"metadata"`
	SimilarityScore float64        `json:"similarity_score"`
}

// Response is the structured outcome of one pipeline run. Failures are
// carried in ErrorMessage with Success false; the shape is always valid.
type Response struct {
	Success           bool                `json:"success"`
	Data              []map[string]any    `json:"data"`
	SQLQuery          string              `json:"sql_query"`
	RowCount          int                 `json:"row_count"`
	ConfidenceScore   float64             `json:"confidence_score"`
	ExecutionTime     float64             `json:"execution_time"`
	Reasoning         string              `json:"reasoning"`
	ResponseType      intent.ResponseType `json:"response_type"`
	VisualizationType intent.VizType      `json:"visualization_type,omitempty"`
	ErrorMessage      string              `json:"error_message,omitempty"`
	Context           []ContextDocument   `json:"context,omitempty"`
	Summary           string              `json:"summary,omitempty"`
}

// contextContentLimit caps per-document content length in responses.
const contextContentLimit = 500

// Orchestrator wires the pipeline stages together. Stateless between
// requests; safe for concurrent use.
type Orchestrator struct {
	classifier   Classifier
	locator      Locator
	generator    rag.Generator
	sqlGenerator SQLGenerator
	executor     SQLExecutor
	conversation Conversation
	logger       log.Logger

	historyTurns int
	maxMessages  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithHistoryTurns sets how many conversation turns feed the prompt.
func WithHistoryTurns(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.historyTurns = n
		}
	}
}

// WithMaxSessionMessages sets the per-session turn cap applied after
// each request.
func WithMaxSessionMessages(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxMessages = n
		}
	}
}

// New creates an Orchestrator. All dependencies are required.
func New(classifier Classifier, locator Locator, generator rag.Generator, sqlGenerator SQLGenerator, exec SQLExecutor, conversation Conversation, logger log.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		classifier:   classifier,
		locator:      locator,
		generator:    generator,
		sqlGenerator: sqlGenerator,
		executor:     exec,
		conversation: conversation,
		logger:       logger,
		historyTurns: 8,
		maxMessages:  history.DefaultLimits().MaxSessionMessages,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Process runs the full pipeline for one request. It always returns a
// well-formed Response; errors surface in ErrorMessage, never as a
// panic or a half-built result. When a session id is present, the
// user/assistant turn pair is persisted on every path, including
// failures.
func (o *Orchestrator) Process(ctx context.Context, req Request) Response {
	start := time.Now()

	intentResult := o.classifier.Classify(req.Query, nil)
	o.logger.Info("classified query",
		"response_type", intentResult.ResponseType,
		"confidence", intentResult.Confidence,
		"requires_data", intentResult.RequiresData)

	var resp Response
	if conversationalIntent(intentResult) {
		resp = o.converse(ctx, req, intentResult)
	} else {
		resp = o.dataPath(ctx, req)
	}

	resp.ResponseType = intentResult.ResponseType
	resp.VisualizationType = intentResult.VizType
	resp.ExecutionTime = time.Since(start).Seconds()

	o.persist(ctx, req, resp)

	return resp
}

func conversationalIntent(r intent.Result) bool {
	return r.ResponseType == intent.Conversational || r.ResponseType == intent.Help
}

// converse answers chit-chat and capability questions directly from the
// model. No SQL is composed, validated, or executed on this path.
func (o *Orchestrator) converse(ctx context.Context, req Request, intentResult intent.Result) Response {
	text, err := o.generator.Generate(ctx, fmt.Sprintf(personaPrompt, req.Query))
	if err != nil {
		o.logger.Error("conversational generation failed", "error", err)
		return Response{
			Data:         []map[string]any{},
			Reasoning:    "Sorry, I encountered an issue processing your message.",
			Summary:      "Sorry, I encountered an issue processing your message.",
			ErrorMessage: "generation service unavailable",
		}
	}
	return Response{
		Success:         true,
		Data:            []map[string]any{},
		ConfidenceScore: intentResult.Confidence,
		Reasoning:       text,
		Summary:         text,
	}
}

func (o *Orchestrator) dataPath(ctx context.Context, req Request) Response {
	conversationContext := ""
	if req.SessionID != nil {
		cc, err := o.conversation.ConversationContext(ctx, *req.SessionID, o.historyTurns)
		if err != nil {
			o.logger.Warn("loading conversation context failed, continuing without",
				"session_id", *req.SessionID, "error", err)
		} else {
			conversationContext = cc
		}
	}

	_, geoCtx := o.locator.EnhanceQuery(req.Query)
	if geoCtx != nil {
		o.logger.Info("geographic context detected",
			"location", geoCtx.Location.Name,
			"radius_km", geoCtx.RadiusKm)
	}

	ragResult, err := o.sqlGenerator.ProcessQuery(ctx, req.Query, conversationContext, geoCtx)
	if err != nil {
		o.logger.Error("sql generation failed", "error", err)
		return generationFailure()
	}
	if ragResult.SQLQuery == "" {
		return generationFailure()
	}

	if err := sqlguard.Validate(ragResult.SQLQuery); err != nil {
		o.logger.Warn("generated SQL rejected",
			"sql", ragResult.SQLQuery, "reason", err)
		return Response{
			Data:            []map[string]any{},
			SQLQuery:        ragResult.SQLQuery,
			ConfidenceScore: ragResult.ConfidenceScore,
			Reasoning:       ragResult.Reasoning,
			Summary:         "Sorry, I encountered an issue processing your query.",
			ErrorMessage:    fmt.Sprintf("generated SQL failed validation: %v", err),
			Context:         shapeContext(req, ragResult),
		}
	}

	sanitized := sqlguard.Sanitize(ragResult.SQLQuery)
	execResult := o.executor.Execute(ctx, sanitized)

	data := execResult.Data
	if data == nil {
		data = []map[string]any{}
	}
	if req.MaxResults > 0 && len(data) > req.MaxResults {
		data = data[:req.MaxResults]
	}

	summary := ragResult.Reasoning
	if execResult.Success && len(data) > 0 {
		if hasGeoColumns(data) {
			summary = fmt.Sprintf("Showing %d geographic data points", len(data))
		} else {
			summary = fmt.Sprintf("Showing %d data rows", len(data))
		}
	}

	return Response{
		Success:         execResult.Success,
		Data:            data,
		SQLQuery:        sanitized,
		RowCount:        len(data),
		ConfidenceScore: ragResult.ConfidenceScore,
		Reasoning:       ragResult.Reasoning,
		Summary:         summary,
		ErrorMessage:    execResult.ErrorMessage,
		Context:         shapeContext(req, ragResult),
	}
}

func generationFailure() Response {
	return Response{
		Data:         []map[string]any{},
		Reasoning:    "Query processing failed due to internal error",
		Summary:      "Sorry, I encountered an issue processing your query.",
		ErrorMessage: "failed to generate SQL query from natural language input",
	}
}

// hasGeoColumns reports whether any row exposes latitude and longitude,
// which lets the caller render results on a map.
func hasGeoColumns(rows []map[string]any) bool {
	for _, row := range rows {
		_, lat := row["latitude"]
		_, lon := row["longitude"]
		if lat && lon {
			return true
		}
	}
	return false
}

func shapeContext(req Request, ragResult *rag.QueryResult) []ContextDocument {
	if !req.IncludeContext || len(ragResult.RetrievedContext) == 0 {
		return nil
	}
	docs := make([]ContextDocument, 0, len(ragResult.RetrievedContext))
	for _, r := range ragResult.RetrievedContext {
		content := r.Content
		if len(content) > contextContentLimit {
			cut := contextContentLimit
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut] + "..."
		}
		docs = append(docs, ContextDocument{
			Content:         content,
			Metadata:        r.Metadata,
			SimilarityScore: r.Similarity,
		})
	}
	return docs
}

// persist appends the user turn and the assistant turn, then trims the
// session. Persistence failures are logged and never fail the response.
func (o *Orchestrator) persist(ctx context.Context, req Request, resp Response) {
	if req.SessionID == nil {
		return
	}
	sessionID := *req.SessionID

	if _, err := o.conversation.AddMessage(ctx, sessionID, history.RoleUser, req.Query, nil, nil); err != nil {
		o.logger.Warn("persisting user turn failed", "session_id", sessionID, "error", err)
	}

	assistantMessage := resp.Summary
	if assistantMessage == "" {
		assistantMessage = resp.Reasoning
	}
	if assistantMessage == "" {
		assistantMessage = "Query processed successfully"
	}
	if _, err := o.conversation.AddMessage(ctx, sessionID, history.RoleAssistant, assistantMessage, nil, responseSnapshot(resp)); err != nil {
		o.logger.Warn("persisting assistant turn failed", "session_id", sessionID, "error", err)
	}

	if err := o.conversation.CleanupOldMessages(ctx, sessionID, o.maxMessages); err != nil {
		o.logger.Warn("trimming session history failed", "session_id", sessionID, "error", err)
	}
}

// responseSnapshot converts a Response into the full_response payload
// stored with the assistant turn. Row data is dropped to keep the
// snapshot small.
func responseSnapshot(resp Response) map[string]any {
	resp.Data = nil
	resp.Context = nil

	raw, err := json.Marshal(resp)
	if err != nil {
		return map[string]any{"success": resp.Success}
	}
	var snapshot map[string]any
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return map[string]any{"success": resp.Success}
	}
	delete(snapshot, "data")
	return snapshot
}
