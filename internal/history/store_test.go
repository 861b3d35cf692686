package history

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/floatchat/floatchat/internal/log"
)

// memQuerier is an in-memory Querier tracking calls and simulating the
// turn-index allocation the real transaction performs.
type memQuerier struct {
	turns map[uuid.UUID][]TurnRow

	insertErr error
	listErr   error

	insertCalls int
	deleteCalls [][]int32
}

func newMemQuerier() *memQuerier {
	return &memQuerier{turns: make(map[uuid.UUID][]TurnRow)}
}

func (m *memQuerier) InsertTurn(_ context.Context, arg InsertTurnParams) (int32, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.insertCalls++
	var maxIdx int32
	for _, t := range m.turns[arg.SessionID] {
		if t.TurnIndex > maxIdx {
			maxIdx = t.TurnIndex
		}
	}
	row := TurnRow{
		SessionID:    arg.SessionID,
		TurnIndex:    maxIdx + 1,
		Role:         arg.Role,
		Message:      arg.Message,
		Metadata:     arg.Metadata,
		FullResponse: arg.FullResponse,
		CreatedAt:    pgtype.Timestamptz{Valid: true},
	}
	m.turns[arg.SessionID] = append(m.turns[arg.SessionID], row)
	return row.TurnIndex, nil
}

func (m *memQuerier) RecentTurns(_ context.Context, sessionID uuid.UUID, limit int32) ([]TurnRow, error) {
	all := m.turns[sessionID]
	out := make([]TurnRow, 0, limit)
	for i := len(all) - 1; i >= 0 && int32(len(out)) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memQuerier) OldestTurns(_ context.Context, sessionID uuid.UUID, limit int32) ([]TurnRow, error) {
	all := m.turns[sessionID]
	if int32(len(all)) < limit {
		limit = int32(len(all))
	}
	return append([]TurnRow(nil), all[:limit]...), nil
}

func (m *memQuerier) SessionMessages(_ context.Context, sessionID uuid.UUID) ([]string, error) {
	var out []string
	for _, t := range m.turns[sessionID] {
		out = append(out, t.Message)
	}
	return out, nil
}

func (m *memQuerier) DeleteTurns(_ context.Context, sessionID uuid.UUID, turnIndexes []int32) error {
	m.deleteCalls = append(m.deleteCalls, turnIndexes)
	drop := make(map[int32]bool, len(turnIndexes))
	for _, idx := range turnIndexes {
		drop[idx] = true
	}
	var kept []TurnRow
	for _, t := range m.turns[sessionID] {
		if !drop[t.TurnIndex] {
			kept = append(kept, t)
		}
	}
	m.turns[sessionID] = kept
	return nil
}

func (m *memQuerier) DeleteOldest(_ context.Context, sessionID uuid.UUID, count int32) error {
	all := m.turns[sessionID]
	if int32(len(all)) < count {
		count = int32(len(all))
	}
	m.turns[sessionID] = append([]TurnRow(nil), all[count:]...)
	return nil
}

func (m *memQuerier) CountMessages(_ context.Context, sessionID uuid.UUID) (int64, error) {
	return int64(len(m.turns[sessionID])), nil
}

func (m *memQuerier) ListSessions(context.Context) ([]SessionRow, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []SessionRow
	for id, turns := range m.turns {
		out = append(out, SessionRow{
			SessionID:    id,
			MessageCount: int64(len(turns)),
			LastActivity: pgtype.Timestamptz{Valid: true},
		})
	}
	return out, nil
}

func (m *memQuerier) FirstUserMessage(_ context.Context, sessionID uuid.UUID) (string, error) {
	for _, t := range m.turns[sessionID] {
		if t.Role == RoleUser {
			return t.Message, nil
		}
	}
	return "", nil
}

func newTestStore(q Querier) *Store {
	return NewStore(q, ApproxCounter{}, DefaultLimits(), log.NewNop())
}

func TestAddMessage_TurnIndexesAreSequential(t *testing.T) {
	q := newMemQuerier()
	store := newTestStore(q)
	sessionID, _ := store.CreateSession()

	for i, msg := range []string{"first", "second", "third"} {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		idx, err := store.AddMessage(context.Background(), sessionID, role, msg, nil, nil)
		if err != nil {
			t.Fatalf("AddMessage(%d) = %v", i, err)
		}
		if idx != int32(i+1) {
			t.Errorf("turn index = %d, want %d", idx, i+1)
		}
	}
}

func TestAddMessage_AugmentsMetadata(t *testing.T) {
	q := newMemQuerier()
	store := newTestStore(q)
	sessionID, _ := store.CreateSession()

	_, err := store.AddMessage(context.Background(), sessionID, RoleUser,
		"show me temperature data", map[string]any{"source": "api"}, nil)
	if err != nil {
		t.Fatalf("AddMessage() = %v", err)
	}

	var metadata map[string]any
	if err := json.Unmarshal(q.turns[sessionID][0].Metadata, &metadata); err != nil {
		t.Fatalf("metadata is not JSON: %v", err)
	}
	if metadata["source"] != "api" {
		t.Errorf("caller metadata lost: %v", metadata)
	}
	if _, ok := metadata["token_count"]; !ok {
		t.Error("metadata missing token_count")
	}
	if _, ok := metadata["timestamp"]; !ok {
		t.Error("metadata missing timestamp")
	}
}

func TestAddMessage_TruncatesOversizedMessage(t *testing.T) {
	q := newMemQuerier()
	store := newTestStore(q)
	sessionID, _ := store.CreateSession()

	// ApproxCounter counts len/4, so 1000 tokens is 4000 characters.
	huge := strings.Repeat("x", 10000)
	if _, err := store.AddMessage(context.Background(), sessionID, RoleUser, huge, nil, nil); err != nil {
		t.Fatalf("AddMessage() = %v", err)
	}

	stored := q.turns[sessionID][0].Message
	if !strings.HasSuffix(stored, truncationMarker) {
		t.Error("truncated message missing marker")
	}
	if len(stored) >= len(huge) {
		t.Errorf("message not truncated: len = %d", len(stored))
	}
}

func TestAddMessage_TruncationKeepsValidUTF8(t *testing.T) {
	q := newMemQuerier()
	store := newTestStore(q)
	sessionID, _ := store.CreateSession()

	// 4200 bytes of three-byte runes; the 4000-byte cut lands mid-rune.
	huge := strings.Repeat("你", 1400)
	if _, err := store.AddMessage(context.Background(), sessionID, RoleUser, huge, nil, nil); err != nil {
		t.Fatalf("AddMessage() = %v", err)
	}

	stored := q.turns[sessionID][0].Message
	if !utf8.ValidString(stored) {
		t.Error("truncated message is not valid UTF-8")
	}
	if !strings.HasSuffix(stored, truncationMarker) {
		t.Error("truncated message missing marker")
	}
}

func TestTruncateValid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"shorter than limit", "hello", 10, "hello"},
		{"ascii cut", "hello", 3, "hel"},
		{"backs up to rune start", "ab你", 4, "ab"},
		{"cut on boundary", "ab你", 5, "ab你"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateValid(tt.in, tt.n); got != tt.want {
				t.Errorf("truncateValid(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestAddMessage_DefaultsFullResponse(t *testing.T) {
	q := newMemQuerier()
	store := newTestStore(q)
	sessionID, _ := store.CreateSession()

	if _, err := store.AddMessage(context.Background(), sessionID, RoleAssistant, "done", nil, nil); err != nil {
		t.Fatalf("AddMessage() = %v", err)
	}
	if got := string(q.turns[sessionID][0].FullResponse); got != "{}" {
		t.Errorf("full_response = %s, want {}", got)
	}
}

func TestAddMessage_SummarizesWhenOverCeiling(t *testing.T) {
	q := newMemQuerier()
	store := newTestStore(q)
	sessionID, _ := store.CreateSession()

	// Each message is 800 tokens (3200 chars) under ApproxCounter. After
	// the sixth insert the session is at 4800 tokens, over the 4000
	// ceiling, so the oldest five turns collapse into one system summary.
	msg := strings.Repeat("m", 3200)
	for range 6 {
		if _, err := store.AddMessage(context.Background(), sessionID, RoleUser, msg, nil, nil); err != nil {
			t.Fatalf("AddMessage() = %v", err)
		}
	}

	turns := q.turns[sessionID]
	var summaries int
	for _, turn := range turns {
		if turn.Role == RoleSystem {
			summaries++
			if !strings.HasPrefix(turn.Message, "Previous conversation summary: ") {
				t.Errorf("summary text = %q", turn.Message[:50])
			}
		}
	}
	if summaries != 1 {
		t.Fatalf("system summaries = %d, want 1", summaries)
	}
	if len(q.deleteCalls) != 1 || len(q.deleteCalls[0]) != 5 {
		t.Errorf("delete calls = %v, want one batch of 5", q.deleteCalls)
	}

	total, err := store.SessionTokenCount(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("SessionTokenCount() = %v", err)
	}
	if total > store.limits.MaxSessionTokens {
		t.Errorf("session still over ceiling after summarization: %d tokens", total)
	}
}

func TestAddMessage_InsertFailureSurfaces(t *testing.T) {
	q := newMemQuerier()
	q.insertErr = errors.New("connection lost")
	store := newTestStore(q)
	sessionID, _ := store.CreateSession()

	if _, err := store.AddMessage(context.Background(), sessionID, RoleUser, "hi", nil, nil); err == nil {
		t.Fatal("AddMessage() = nil, want error")
	}
}

func TestRecentHistory_ChronologicalOrder(t *testing.T) {
	q := newMemQuerier()
	store := newTestStore(q)
	sessionID, _ := store.CreateSession()

	for _, msg := range []string{"one", "two", "three", "four"} {
		if _, err := store.AddMessage(context.Background(), sessionID, RoleUser, msg, nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	turns, err := store.RecentHistory(context.Background(), sessionID, 3)
	if err != nil {
		t.Fatalf("RecentHistory() = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("len = %d, want 3", len(turns))
	}
	want := []string{"two", "three", "four"}
	for i, turn := range turns {
		if turn.Message != want[i] {
			t.Errorf("turns[%d] = %q, want %q", i, turn.Message, want[i])
		}
	}
}

func TestConversationContext(t *testing.T) {
	q := newMemQuerier()
	store := newTestStore(q)
	sessionID, _ := store.CreateSession()

	ctx := context.Background()
	_, _ = store.AddMessage(ctx, sessionID, RoleUser, "show floats near mumbai", nil, nil)
	_, _ = store.AddMessage(ctx, sessionID, RoleAssistant, "Found 12 floats.", nil, nil)

	got, err := store.ConversationContext(ctx, sessionID, 8)
	if err != nil {
		t.Fatalf("ConversationContext() = %v", err)
	}
	want := "User: show floats near mumbai\nAssistant: Found 12 floats."
	if got != want {
		t.Errorf("context = %q, want %q", got, want)
	}
}

func TestConversationContext_EmptySession(t *testing.T) {
	store := newTestStore(newMemQuerier())
	sessionID, _ := store.CreateSession()

	got, err := store.ConversationContext(context.Background(), sessionID, 8)
	if err != nil || got != "" {
		t.Errorf("ConversationContext(empty) = (%q, %v), want empty", got, err)
	}
}

func TestCleanupOldMessages(t *testing.T) {
	q := newMemQuerier()
	store := newTestStore(q)
	sessionID, _ := store.CreateSession()

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if _, err := store.AddMessage(ctx, sessionID, RoleUser, "short", nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := store.CleanupOldMessages(ctx, sessionID, 20); err != nil {
		t.Fatalf("CleanupOldMessages() = %v", err)
	}
	if got := len(q.turns[sessionID]); got != 20 {
		t.Errorf("remaining turns = %d, want 20", got)
	}
	// Oldest removed, newest kept.
	if q.turns[sessionID][0].TurnIndex != 6 {
		t.Errorf("first remaining index = %d, want 6", q.turns[sessionID][0].TurnIndex)
	}
}

func TestListSessions_Titles(t *testing.T) {
	q := newMemQuerier()
	store := newTestStore(q)
	ctx := context.Background()

	withHistory, _ := store.CreateSession()
	_, _ = store.AddMessage(ctx, withHistory, RoleUser,
		"Show me all temperature profiles from the Arabian Sea", nil, nil)

	sessions, err := store.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() = %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("len = %d, want 1", len(sessions))
	}
	if sessions[0].Title != "Show me all temperature profiles..." {
		t.Errorf("title = %q", sessions[0].Title)
	}
	if sessions[0].MessageCount != 1 {
		t.Errorf("message count = %d, want 1", sessions[0].MessageCount)
	}
}

func TestDeriveTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello", "hello"},
		{"one two three four", "one two three four"},
		{"one two three four five", "one two three four five..."},
		{"one two three four five six seven", "one two three four five..."},
	}
	for _, tt := range tests {
		if got := deriveTitle(tt.in); got != tt.want {
			t.Errorf("deriveTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
