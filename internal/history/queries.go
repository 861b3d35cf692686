package history

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DB is the pool behavior the query layer needs. *pgxpool.Pool satisfies it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// InsertTurnParams carries one turn write. TurnIndex is allocated inside
// the insert transaction, not by the caller.
type InsertTurnParams struct {
	SessionID    uuid.UUID
	Role         string
	Message      string
	Metadata     []byte
	FullResponse []byte
}

// TurnRow is one chat_history row.
type TurnRow struct {
	SessionID    uuid.UUID
	TurnIndex    int32
	Role         string
	Message      string
	CreatedAt    pgtype.Timestamptz
	Metadata     []byte
	FullResponse []byte
}

// SessionRow is one aggregate row from the session listing.
type SessionRow struct {
	SessionID    uuid.UUID
	MessageCount int64
	LastActivity pgtype.Timestamptz
}

// Queries implements turn persistence over pgx.
type Queries struct {
	db DB
}

// NewQueries creates a Queries bound to db.
func NewQueries(db DB) *Queries { return &Queries{db: db} }

const (
	advisoryLockSQL = `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`

	nextTurnIndexSQL = `
SELECT COALESCE(MAX(turn_index), 0) + 1
FROM chat_history
WHERE session_id = $1`

	insertTurnSQL = `
INSERT INTO chat_history (session_id, turn_index, role, message, created_at, metadata, full_response)
VALUES ($1, $2, $3, $4, now(), $5, $6)`
)

// InsertTurn allocates the next turn index and writes the turn in one
// transaction. A transaction-scoped advisory lock on the session ID
// serializes concurrent writers, so read-max-then-insert is safe.
func (q *Queries) InsertTurn(ctx context.Context, arg InsertTurnParams) (int32, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert turn: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, advisoryLockSQL, arg.SessionID); err != nil {
		return 0, fmt.Errorf("acquire session lock: %w", err)
	}

	var turnIndex int32
	if err := tx.QueryRow(ctx, nextTurnIndexSQL, arg.SessionID).Scan(&turnIndex); err != nil {
		return 0, fmt.Errorf("compute next turn index: %w", err)
	}

	_, err = tx.Exec(ctx, insertTurnSQL,
		arg.SessionID, turnIndex, arg.Role, arg.Message, arg.Metadata, arg.FullResponse)
	if err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert turn: %w", err)
	}
	return turnIndex, nil
}

const recentTurnsSQL = `
SELECT session_id, turn_index, role, message, created_at, metadata, full_response
FROM chat_history
WHERE session_id = $1
ORDER BY turn_index DESC
LIMIT $2`

// RecentTurns returns the newest limit turns, newest first.
func (q *Queries) RecentTurns(ctx context.Context, sessionID uuid.UUID, limit int32) ([]TurnRow, error) {
	return q.queryTurns(ctx, recentTurnsSQL, sessionID, limit)
}

const oldestTurnsSQL = `
SELECT session_id, turn_index, role, message, created_at, metadata, full_response
FROM chat_history
WHERE session_id = $1
ORDER BY turn_index ASC
LIMIT $2`

// OldestTurns returns the oldest limit turns, oldest first.
func (q *Queries) OldestTurns(ctx context.Context, sessionID uuid.UUID, limit int32) ([]TurnRow, error) {
	return q.queryTurns(ctx, oldestTurnsSQL, sessionID, limit)
}

func (q *Queries) queryTurns(ctx context.Context, sql string, sessionID uuid.UUID, limit int32) ([]TurnRow, error) {
	rows, err := q.db.Query(ctx, sql, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var out []TurnRow
	for rows.Next() {
		var r TurnRow
		if err := rows.Scan(&r.SessionID, &r.TurnIndex, &r.Role, &r.Message,
			&r.CreatedAt, &r.Metadata, &r.FullResponse); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return out, nil
}

const sessionMessagesSQL = `
SELECT message FROM chat_history WHERE session_id = $1`

// SessionMessages returns every message body in a session.
func (q *Queries) SessionMessages(ctx context.Context, sessionID uuid.UUID) ([]string, error) {
	rows, err := q.db.Query(ctx, sessionMessagesSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session messages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var msg string
		if err := rows.Scan(&msg); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

const deleteTurnsSQL = `
DELETE FROM chat_history
WHERE session_id = $1 AND turn_index = ANY($2)`

// DeleteTurns removes the named turns from a session.
func (q *Queries) DeleteTurns(ctx context.Context, sessionID uuid.UUID, turnIndexes []int32) error {
	if len(turnIndexes) == 0 {
		return nil
	}
	if _, err := q.db.Exec(ctx, deleteTurnsSQL, sessionID, turnIndexes); err != nil {
		return fmt.Errorf("delete turns: %w", err)
	}
	return nil
}

const deleteOldestSQL = `
DELETE FROM chat_history
WHERE session_id = $1 AND turn_index IN (
    SELECT turn_index
    FROM chat_history
    WHERE session_id = $1
    ORDER BY turn_index
    LIMIT $2
)`

// DeleteOldest removes the oldest count turns from a session.
func (q *Queries) DeleteOldest(ctx context.Context, sessionID uuid.UUID, count int32) error {
	if count <= 0 {
		return nil
	}
	if _, err := q.db.Exec(ctx, deleteOldestSQL, sessionID, count); err != nil {
		return fmt.Errorf("delete oldest turns: %w", err)
	}
	return nil
}

const countMessagesSQL = `
SELECT count(*) FROM chat_history WHERE session_id = $1`

// CountMessages returns the number of turns in a session.
func (q *Queries) CountMessages(ctx context.Context, sessionID uuid.UUID) (int64, error) {
	rows, err := q.db.Query(ctx, countMessagesSQL, sessionID)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	defer rows.Close()

	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, fmt.Errorf("scan count: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate count: %w", err)
	}
	return count, nil
}

const listSessionsSQL = `
SELECT session_id, count(*) AS message_count, max(created_at) AS last_activity
FROM chat_history
GROUP BY session_id
ORDER BY last_activity DESC`

// ListSessions aggregates every session, most recently active first.
func (q *Queries) ListSessions(ctx context.Context) ([]SessionRow, error) {
	rows, err := q.db.Query(ctx, listSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var r SessionRow
		if err := rows.Scan(&r.SessionID, &r.MessageCount, &r.LastActivity); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

const firstUserMessageSQL = `
SELECT message
FROM chat_history
WHERE session_id = $1 AND role = 'user'
ORDER BY turn_index ASC
LIMIT 1`

// FirstUserMessage returns the first user message of a session, or ""
// when none exists.
func (q *Queries) FirstUserMessage(ctx context.Context, sessionID uuid.UUID) (string, error) {
	rows, err := q.db.Query(ctx, firstUserMessageSQL, sessionID)
	if err != nil {
		return "", fmt.Errorf("query first user message: %w", err)
	}
	defer rows.Close()

	var msg string
	if rows.Next() {
		if err := rows.Scan(&msg); err != nil {
			return "", fmt.Errorf("scan first user message: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate first user message: %w", err)
	}
	return msg, nil
}
