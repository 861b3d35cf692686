package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/floatchat/floatchat/internal/log"
)

// Querier defines the persistence operations the Store depends on.
type Querier interface {
	InsertTurn(ctx context.Context, arg InsertTurnParams) (int32, error)
	RecentTurns(ctx context.Context, sessionID uuid.UUID, limit int32) ([]TurnRow, error)
	OldestTurns(ctx context.Context, sessionID uuid.UUID, limit int32) ([]TurnRow, error)
	SessionMessages(ctx context.Context, sessionID uuid.UUID) ([]string, error)
	DeleteTurns(ctx context.Context, sessionID uuid.UUID, turnIndexes []int32) error
	DeleteOldest(ctx context.Context, sessionID uuid.UUID, count int32) error
	CountMessages(ctx context.Context, sessionID uuid.UUID) (int64, error)
	ListSessions(ctx context.Context) ([]SessionRow, error)
	FirstUserMessage(ctx context.Context, sessionID uuid.UUID) (string, error)
}

// Limits are the token and message ceilings applied to sessions.
type Limits struct {
	MaxMessageTokens   int // per-message ceiling before truncation
	MaxSessionTokens   int // session ceiling before summarization
	MaxSessionMessages int // hard cap enforced by CleanupOldMessages
}

// DefaultLimits match the production configuration defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxMessageTokens:   1000,
		MaxSessionTokens:   4000,
		MaxSessionMessages: 20,
	}
}

// summarizeBatch is how many of the oldest turns one summarization pass
// collapses into a single system turn.
const summarizeBatch = 5

// truncationMarker is appended to messages cut at the per-message ceiling.
const truncationMarker = "... [truncated]"

// Store manages conversation turns for sessions.
// Safe for concurrent use; per-session ordering is enforced in the
// query layer's insert transaction.
type Store struct {
	queries Querier
	counter TokenCounter
	limits  Limits
	logger  log.Logger
}

// NewStore creates a Store.
func NewStore(querier Querier, counter TokenCounter, limits Limits, logger log.Logger) *Store {
	if limits.MaxMessageTokens <= 0 {
		limits = DefaultLimits()
	}
	return &Store{queries: querier, counter: counter, limits: limits, logger: logger}
}

// CreateSession returns a fresh session identifier. Sessions exist
// implicitly; no row is written until the first turn arrives.
func (s *Store) CreateSession() (uuid.UUID, time.Time) {
	return uuid.New(), time.Now().UTC()
}

// AddMessage appends a turn to a session. The message is truncated at the
// per-message token ceiling; metadata is augmented with token_count and a
// timestamp. After the write, one summarization pass runs if the session
// exceeds its token ceiling.
func (s *Store) AddMessage(ctx context.Context, sessionID uuid.UUID, role, message string, metadata, fullResponse map[string]any) (int32, error) {
	tokenCount := s.counter.Count(message)
	if tokenCount > s.limits.MaxMessageTokens {
		s.logger.Warn("message exceeds token ceiling, truncating",
			"session_id", sessionID, "tokens", tokenCount, "ceiling", s.limits.MaxMessageTokens)
		cut := s.limits.MaxMessageTokens * approxCharsPerToken
		if cut < len(message) {
			message = truncateValid(message, cut) + truncationMarker
		}
	}

	turnIndex, err := s.insertTurn(ctx, sessionID, role, message, tokenCount, metadata, fullResponse)
	if err != nil {
		return 0, err
	}

	s.logger.Debug("added message",
		"session_id", sessionID, "role", role, "turn_index", turnIndex, "tokens", tokenCount)

	// One-shot eviction: a single AddMessage performs at most one
	// summarization pass, not a loop to convergence.
	if err := s.optimize(ctx, sessionID); err != nil {
		s.logger.Warn("history optimization failed", "session_id", sessionID, "error", err)
	}

	return turnIndex, nil
}

func (s *Store) insertTurn(ctx context.Context, sessionID uuid.UUID, role, message string, tokenCount int, metadata, fullResponse map[string]any) (int32, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["token_count"] = tokenCount
	metadata["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshaling metadata: %w", err)
	}

	fullResponseJSON := []byte("{}")
	if fullResponse != nil {
		fullResponseJSON, err = json.Marshal(fullResponse)
		if err != nil {
			return 0, fmt.Errorf("marshaling full response: %w", err)
		}
	}

	turnIndex, err := s.queries.InsertTurn(ctx, InsertTurnParams{
		SessionID:    sessionID,
		Role:         role,
		Message:      message,
		Metadata:     metadataJSON,
		FullResponse: fullResponseJSON,
	})
	if err != nil {
		return 0, fmt.Errorf("inserting turn: %w", err)
	}
	return turnIndex, nil
}

// optimize collapses the oldest turns into a synthetic system summary when
// the session exceeds its token ceiling.
func (s *Store) optimize(ctx context.Context, sessionID uuid.UUID) error {
	total, err := s.SessionTokenCount(ctx, sessionID)
	if err != nil {
		return err
	}
	if total <= s.limits.MaxSessionTokens {
		return nil
	}

	s.logger.Info("session exceeds token ceiling, summarizing oldest turns",
		"session_id", sessionID, "tokens", total, "ceiling", s.limits.MaxSessionTokens)

	oldest, err := s.queries.OldestTurns(ctx, sessionID, summarizeBatch)
	if err != nil {
		return fmt.Errorf("fetching oldest turns: %w", err)
	}
	if len(oldest) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("Previous conversation summary: ")
	for _, turn := range oldest {
		excerpt := truncateValid(turn.Message, 100)
		fmt.Fprintf(&b, "%s: %s... ", turn.Role, excerpt)
	}

	summary := b.String()
	tokenCount := s.counter.Count(summary)
	if _, err := s.insertTurn(ctx, sessionID, RoleSystem, summary, tokenCount, nil, nil); err != nil {
		return fmt.Errorf("inserting summary turn: %w", err)
	}

	indexes := make([]int32, len(oldest))
	for i, turn := range oldest {
		indexes[i] = turn.TurnIndex
	}
	if err := s.queries.DeleteTurns(ctx, sessionID, indexes); err != nil {
		return fmt.Errorf("deleting summarized turns: %w", err)
	}

	s.logger.Info("summarized oldest turns", "session_id", sessionID, "count", len(oldest))
	return nil
}

// SessionTokenCount sums the token counts of every message in a session.
func (s *Store) SessionTokenCount(ctx context.Context, sessionID uuid.UUID) (int, error) {
	messages, err := s.queries.SessionMessages(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("loading session messages: %w", err)
	}
	total := 0
	for _, msg := range messages {
		total += s.counter.Count(msg)
	}
	return total, nil
}

// RecentHistory returns the newest limit turns in chronological
// (oldest-first) order.
func (s *Store) RecentHistory(ctx context.Context, sessionID uuid.UUID, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.queries.RecentTurns(ctx, sessionID, int32(limit))
	if err != nil {
		return nil, fmt.Errorf("loading recent history: %w", err)
	}

	turns := make([]Turn, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- { // reverse to chronological order
		turns = append(turns, rowToTurn(rows[i]))
	}
	return turns, nil
}

// ConversationContext formats the most recent maxTurns exchanges as a
// prompt block. System turns (summaries) are included as-is.
func (s *Store) ConversationContext(ctx context.Context, sessionID uuid.UUID, maxTurns int) (string, error) {
	if maxTurns <= 0 {
		maxTurns = 8
	}
	// Each exchange is a user+assistant pair.
	turns, err := s.RecentHistory(ctx, sessionID, maxTurns*2)
	if err != nil {
		return "", err
	}
	if len(turns) == 0 {
		return "", nil
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case RoleUser:
			lines = append(lines, "User: "+turn.Message)
		case RoleAssistant:
			lines = append(lines, "Assistant: "+turn.Message)
		case RoleSystem:
			lines = append(lines, turn.Message)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// CleanupOldMessages deletes the oldest turns beyond maxMessages.
func (s *Store) CleanupOldMessages(ctx context.Context, sessionID uuid.UUID, maxMessages int) error {
	if maxMessages <= 0 {
		maxMessages = s.limits.MaxSessionMessages
	}
	count, err := s.queries.CountMessages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("counting messages: %w", err)
	}
	if count <= int64(maxMessages) {
		return nil
	}

	excess := int32(count - int64(maxMessages))
	if err := s.queries.DeleteOldest(ctx, sessionID, excess); err != nil {
		return fmt.Errorf("cleaning up old messages: %w", err)
	}
	s.logger.Info("cleaned up old messages", "session_id", sessionID, "deleted", excess)
	return nil
}

// ListSessions returns every session with a derived title: the first five
// words of the first user message, or "New Chat" when none exists.
func (s *Store) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.queries.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}

	sessions := make([]SessionInfo, 0, len(rows))
	for _, row := range rows {
		info := SessionInfo{
			ID:           row.SessionID,
			MessageCount: int(row.MessageCount),
			Title:        "New Chat",
		}
		if row.LastActivity.Valid {
			info.LastActivity = row.LastActivity.Time
		}

		first, err := s.queries.FirstUserMessage(ctx, row.SessionID)
		if err != nil {
			s.logger.Warn("deriving session title failed", "session_id", row.SessionID, "error", err)
		} else if first != "" {
			info.Title = deriveTitle(first)
		}
		sessions = append(sessions, info)
	}
	return sessions, nil
}

// History returns every turn of a session in chronological order.
func (s *Store) History(ctx context.Context, sessionID uuid.UUID) ([]Turn, error) {
	count, err := s.queries.CountMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	if count == 0 {
		return []Turn{}, nil
	}
	rows, err := s.queries.OldestTurns(ctx, sessionID, int32(count))
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	turns := make([]Turn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, rowToTurn(row))
	}
	return turns, nil
}

// truncateValid cuts s to at most n bytes without splitting a rune, so
// the result is always valid UTF-8 for a TEXT column.
func truncateValid(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func deriveTitle(message string) string {
	words := strings.Fields(message)
	if len(words) > 5 {
		words = words[:5]
	}
	title := strings.Join(words, " ")
	if len(words) == 5 {
		title += "..."
	}
	return title
}

func rowToTurn(row TurnRow) Turn {
	turn := Turn{
		SessionID: row.SessionID,
		TurnIndex: row.TurnIndex,
		Role:      row.Role,
		Message:   row.Message,
	}
	if row.CreatedAt.Valid {
		turn.CreatedAt = row.CreatedAt.Time
	}
	if len(row.Metadata) > 0 {
		_ = json.Unmarshal(row.Metadata, &turn.Metadata)
	}
	if len(row.FullResponse) > 0 {
		_ = json.Unmarshal(row.FullResponse, &turn.FullResponse)
	}
	return turn
}
