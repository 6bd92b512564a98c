package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite ledger of finished matches. A nil *Store is valid and
// records nothing.
type Store struct {
	conn *sql.DB
}

// PlayerScore is one player's line in a match result
type PlayerScore struct {
	PlayerID string `json:"playerId"`
	Kills    int    `json:"kills"`
	Alive    bool   `json:"alive"`
}

// MatchRecord is a finished match
type MatchRecord struct {
	ID        int64         `json:"id"`
	SessionID string        `json:"sessionId"`
	Code      string        `json:"gameCode"`
	Winner    string        `json:"winner"`
	Players   int           `json:"players"`
	Ticks     uint64        `json:"ticks"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"`
	Scores    []PlayerScore `json:"scores,omitempty"`
}

// OpenStore opens (or creates) the SQLite database at path
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: foreign keys: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.conn.Close()
}

// migrate creates tables if they don't exist
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		code TEXT NOT NULL DEFAULT '',
		winner TEXT NOT NULL DEFAULT '',
		players INTEGER NOT NULL DEFAULT 0,
		ticks INTEGER NOT NULL DEFAULT 0,
		started_at INTEGER NOT NULL DEFAULT 0,
		ended_at INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS match_players (
		match_id INTEGER NOT NULL REFERENCES matches(id),
		player_id TEXT NOT NULL,
		kills INTEGER NOT NULL DEFAULT 0,
		alive INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (match_id, player_id)
	);

	CREATE TABLE IF NOT EXISTS analytics_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		session_id TEXT,
		data TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_matches_ended ON matches(ended_at);
	CREATE INDEX IF NOT EXISTS idx_events_type ON analytics_events(event_type);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// RecordMatch stores a finished match with its per-player lines
func (s *Store) RecordMatch(ctx context.Context, rec MatchRecord) error {
	if s == nil {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO matches (session_id, code, winner, players, ticks, started_at, ended_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Code, rec.Winner, rec.Players, int64(rec.Ticks),
		rec.StartedAt.UnixMilli(), rec.EndedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("store: insert match: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("store: match id: %w", err)
	}
	for _, sc := range rec.Scores {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO match_players (match_id, player_id, kills, alive) VALUES (?, ?, ?, ?)",
			id, sc.PlayerID, sc.Kills, sc.Alive,
		); err != nil {
			return fmt.Errorf("store: insert player %s: %w", sc.PlayerID, err)
		}
	}
	return tx.Commit()
}

// RecentMatches returns the latest finished matches, newest first
func (s *Store) RecentMatches(ctx context.Context, limit int) ([]MatchRecord, error) {
	if s == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, session_id, code, winner, players, ticks, started_at, ended_at
		FROM matches
		ORDER BY ended_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query matches: %w", err)
	}
	defer rows.Close()

	var result []MatchRecord
	for rows.Next() {
		var r MatchRecord
		var ticks, started, ended int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Code, &r.Winner, &r.Players, &ticks, &started, &ended); err != nil {
			return nil, fmt.Errorf("store: scan match: %w", err)
		}
		r.Ticks = uint64(ticks)
		r.StartedAt = time.UnixMilli(started)
		r.EndedAt = time.UnixMilli(ended)
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate matches: %w", err)
	}

	for i := range result {
		scores, err := s.matchScores(ctx, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Scores = scores
	}
	return result, nil
}

func (s *Store) matchScores(ctx context.Context, matchID int64) ([]PlayerScore, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT player_id, kills, alive FROM match_players WHERE match_id = ? ORDER BY player_id",
		matchID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: query scores: %w", err)
	}
	defer rows.Close()

	var scores []PlayerScore
	for rows.Next() {
		var sc PlayerScore
		if err := rows.Scan(&sc.PlayerID, &sc.Kills, &sc.Alive); err != nil {
			return nil, fmt.Errorf("store: scan score: %w", err)
		}
		scores = append(scores, sc)
	}
	return scores, rows.Err()
}

// InsertEvents writes a batch of analytics events in one transaction
func (s *Store) InsertEvents(ctx context.Context, events []AnalyticsEvent) error {
	if s == nil || len(events) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO analytics_events (event_type, session_id, data, created_at) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("store: prepare events: %w", err)
	}
	defer stmt.Close()

	for _, evt := range events {
		sid := sql.NullString{String: evt.SessionID, Valid: evt.SessionID != ""}
		data := sql.NullString{String: evt.Data, Valid: evt.Data != ""}
		if _, err := stmt.ExecContext(ctx, evt.Type, sid, data, evt.Timestamp.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("store: insert event: %w", err)
		}
	}
	return tx.Commit()
}

// CountEvents returns how many events of the given type were recorded
func (s *Store) CountEvents(ctx context.Context, evtType string) (int, error) {
	if s == nil {
		return 0, nil
	}
	var n int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM analytics_events WHERE event_type = ?", evtType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count events: %w", err)
	}
	return n, nil
}

// GetSetting returns a stored setting, or "" if unset
func (s *Store) GetSetting(key string) string {
	if s == nil {
		return ""
	}
	var v string
	err := s.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return ""
	}
	if err != nil {
		return ""
	}
	return v
}

// SetSetting stores a setting, replacing any previous value
func (s *Store) SetSetting(key, value string) error {
	if s == nil {
		return nil
	}
	_, err := s.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}
