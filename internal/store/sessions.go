package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/plugd/internal/providers"
)

// StoredMessage is one row of the messages table.
type StoredMessage struct {
	ID         int64
	ChannelID  string
	Role       string
	Content    string
	ToolCalls  []providers.ToolCall
	ToolCallID string
	Name       string
	Timestamp  float64 // unix seconds
	TokenCount int
	Compacted  bool
}

// AsMessage converts the row to a provider message.
func (m *StoredMessage) AsMessage() providers.Message {
	return providers.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
}

// SessionInfo summarizes one session for listings.
type SessionInfo struct {
	ChannelID    string
	CreatedAt    float64
	UpdatedAt    float64
	MessageCount int
	ActiveTokens int
}

// SessionStore persists per-channel conversation history in sqlite.
// Safe for concurrent use; sqlite serializes writers under WAL.
type SessionStore struct {
	db *sql.DB
}

const sessionsSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	channel_id TEXT PRIMARY KEY,
	created_at REAL NOT NULL,
	updated_at REAL NOT NULL,
	metadata   TEXT DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id   TEXT NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT,
	tool_calls   TEXT,
	tool_call_id TEXT,
	name         TEXT,
	timestamp    REAL NOT NULL,
	token_count  INTEGER DEFAULT 0,
	compacted    INTEGER DEFAULT 0,
	FOREIGN KEY (channel_id) REFERENCES sessions(channel_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_compacted ON messages(channel_id, compacted);
`

// OpenSessionStore opens (and migrates) the session database at path.
func OpenSessionStore(path string) (*SessionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sessions db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sessions db pragma: %w", err)
		}
	}
	if _, err := db.Exec(sessionsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sessions db: %w", err)
	}
	return &SessionStore{db: db}, nil
}

func (s *SessionStore) Close() error { return s.db.Close() }

func now() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// EnsureSession creates the session row if it does not exist.
func (s *SessionStore) EnsureSession(channelID string) error {
	ts := now()
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO sessions (channel_id, created_at, updated_at) VALUES (?, ?, ?)`,
		channelID, ts, ts)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// Append stores a message and returns its row id. The session row is
// created on demand and its updated_at touched.
func (s *SessionStore) Append(channelID string, msg providers.Message, tokenCount int) (int64, error) {
	if err := s.EnsureSession(channelID); err != nil {
		return 0, err
	}

	var toolCallsJSON any
	if len(msg.ToolCalls) > 0 {
		data, err := json.Marshal(msg.ToolCalls)
		if err != nil {
			return 0, fmt.Errorf("marshal tool calls: %w", err)
		}
		toolCallsJSON = string(data)
	}

	ts := now()
	res, err := s.db.Exec(
		`INSERT INTO messages (channel_id, role, content, tool_calls, tool_call_id, name, timestamp, token_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		channelID, msg.Role, msg.Content, toolCallsJSON, msg.ToolCallID, msg.Name, ts, tokenCount)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append message id: %w", err)
	}

	if _, err := s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE channel_id = ?`, ts, channelID); err != nil {
		return 0, fmt.Errorf("touch session: %w", err)
	}
	return id, nil
}

// Messages returns the channel's history in insertion order. Compacted
// rows are excluded unless includeCompacted is set.
func (s *SessionStore) Messages(channelID string, includeCompacted bool) ([]StoredMessage, error) {
	query := `SELECT id, channel_id, role, content, tool_calls, tool_call_id, name, timestamp, token_count, compacted
		FROM messages WHERE channel_id = ?`
	if !includeCompacted {
		query += ` AND compacted = 0`
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query, channelID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []StoredMessage
	for rows.Next() {
		var m StoredMessage
		var content, toolCalls, toolCallID, name sql.NullString
		var compacted int
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.Role, &content, &toolCalls, &toolCallID, &name, &m.Timestamp, &m.TokenCount, &compacted); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Content = content.String
		m.ToolCallID = toolCallID.String
		m.Name = name.String
		m.Compacted = compacted != 0
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &m.ToolCalls); err != nil {
				return nil, fmt.Errorf("decode tool calls for message %d: %w", m.ID, err)
			}
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ActiveIDs returns the ids of non-compacted messages in order.
func (s *SessionStore) ActiveIDs(channelID string) ([]int64, error) {
	rows, err := s.db.Query(
		`SELECT id FROM messages WHERE channel_id = ? AND compacted = 0 ORDER BY id`, channelID)
	if err != nil {
		return nil, fmt.Errorf("query message ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TokenSum returns the total token count of active messages.
func (s *SessionStore) TokenSum(channelID string) (int, error) {
	var sum sql.NullInt64
	err := s.db.QueryRow(
		`SELECT SUM(token_count) FROM messages WHERE channel_id = ? AND compacted = 0`,
		channelID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum tokens: %w", err)
	}
	return int(sum.Int64), nil
}

// MarkCompacted flags messages up to and including upToID as compacted.
// System rows are exempt so summaries survive later compaction passes.
func (s *SessionStore) MarkCompacted(channelID string, upToID int64) error {
	_, err := s.db.Exec(
		`UPDATE messages SET compacted = 1
		 WHERE channel_id = ? AND id <= ? AND compacted = 0 AND role != 'system'`,
		channelID, upToID)
	if err != nil {
		return fmt.Errorf("mark compacted: %w", err)
	}
	return nil
}

// Clear deletes all messages for a channel, keeping the session row.
func (s *SessionStore) Clear(channelID string) error {
	if _, err := s.db.Exec(`DELETE FROM messages WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

// Delete removes the session and, via cascade, its messages.
func (s *SessionStore) Delete(channelID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns all sessions with message and active-token counts,
// most recently updated first.
func (s *SessionStore) List() ([]SessionInfo, error) {
	rows, err := s.db.Query(
		`SELECT s.channel_id, s.created_at, s.updated_at,
			COUNT(m.id),
			COALESCE(SUM(CASE WHEN m.compacted = 0 THEN m.token_count ELSE 0 END), 0)
		 FROM sessions s LEFT JOIN messages m ON m.channel_id = s.channel_id
		 GROUP BY s.channel_id
		 ORDER BY s.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ChannelID, &info.CreatedAt, &info.UpdatedAt, &info.MessageCount, &info.ActiveTokens); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}
