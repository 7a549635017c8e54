package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	apperrors "github.com/rcliao/story-engine/internal/errors"
	"github.com/rcliao/story-engine/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.Mutex // guards entropy
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id                  TEXT PRIMARY KEY,
		state               TEXT NOT NULL,
		prompt_index        INTEGER NOT NULL DEFAULT 0,
		last_summarized     INTEGER NOT NULL DEFAULT 0,
		tab1_locked         INTEGER NOT NULL DEFAULT 0,
		narrative_agent     TEXT NOT NULL DEFAULT '',
		config              TEXT NOT NULL,
		version             INTEGER NOT NULL DEFAULT 1,
		created_at          TEXT NOT NULL,
		updated_at          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);

	CREATE TABLE IF NOT EXISTS events (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		session_id   TEXT NOT NULL REFERENCES sessions(id),
		prompt_index INTEGER NOT NULL,
		role         TEXT NOT NULL,
		agent_slot   INTEGER,
		text         TEXT NOT NULL,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq);

	CREATE TABLE IF NOT EXISTS memory_blocks (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		session_id   TEXT NOT NULL REFERENCES sessions(id),
		type         TEXT NOT NULL,
		from_index   INTEGER NOT NULL,
		to_index     INTEGER NOT NULL,
		payload      TEXT NOT NULL,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blocks_session ON memory_blocks(session_id, seq);

	CREATE TABLE IF NOT EXISTS narrative_drafts (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		session_id      TEXT NOT NULL REFERENCES sessions(id),
		chapter_text    TEXT NOT NULL,
		narrative_agent TEXT NOT NULL DEFAULT '',
		source_snapshot TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_session ON narrative_drafts(session_id, seq);

	CREATE TABLE IF NOT EXISTS artifacts (
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		id           TEXT NOT NULL UNIQUE,
		session_id   TEXT NOT NULL,
		purpose      TEXT NOT NULL,
		provider     TEXT NOT NULL,
		model        TEXT NOT NULL DEFAULT '',
		input_hash   TEXT NOT NULL,
		input_chars  INTEGER NOT NULL,
		output_chars INTEGER NOT NULL,
		raw_input    TEXT,
		raw_output   TEXT,
		created_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_session ON artifacts(session_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	return insertSession(ctx, s.db, sess)
}

func insertSession(ctx context.Context, ex execer, sess *model.Session) error {
	now := time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now
	if sess.Version == 0 {
		sess.Version = 1
	}

	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	_, err = ex.ExecContext(ctx,
		`INSERT INTO sessions (id, state, prompt_index, last_summarized, tab1_locked, narrative_agent, config, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.State, sess.PromptIndex, sess.LastSummarizedPromptIndex, sess.Tab1Locked,
		sess.NarrativeAgentDefinition, string(cfg), sess.Version,
		sess.CreatedAt.Format(time.RFC3339), sess.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, state, prompt_index, last_summarized, tab1_locked, narrative_agent, config, version, created_at, updated_at`

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "session not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, p ListParams) ([]model.Session, error) {
	limit := p.Limit
	if limit == 0 {
		limit = 20
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []interface{}
	if len(p.States) > 0 {
		marks := make([]string, len(p.States))
		for i, st := range p.States {
			marks[i] = "?"
			args = append(args, st)
		}
		query += ` WHERE state IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY updated_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Events(ctx context.Context, sessionID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, prompt_index, role, agent_slot, text, created_at
		 FROM events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var ev model.Event
		var slot sql.NullInt64
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.PromptIndex, &ev.Role, &slot, &ev.Text, &createdAt); err != nil {
			return nil, err
		}
		if slot.Valid {
			n := int(slot.Int64)
			ev.AgentSlot = &n
		}
		ev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) MemoryBlocks(ctx context.Context, sessionID string) ([]model.MemoryBlock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, type, from_index, to_index, payload, created_at
		 FROM memory_blocks WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blocks := []model.MemoryBlock{}
	for rows.Next() {
		var b model.MemoryBlock
		var payload, createdAt string
		if err := rows.Scan(&b.ID, &b.SessionID, &b.Type, &b.FromPromptIndex, &b.ToPromptIndex, &payload, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &b.Payload); err != nil {
			return nil, fmt.Errorf("decode block %s: %w", b.ID, err)
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

func (s *SQLiteStore) NarrativeDrafts(ctx context.Context, sessionID string) ([]model.NarrativeDraft, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, chapter_text, narrative_agent, source_snapshot, created_at
		 FROM narrative_drafts WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drafts := []model.NarrativeDraft{}
	for rows.Next() {
		var d model.NarrativeDraft
		var snapshot, createdAt string
		if err := rows.Scan(&d.ID, &d.SessionID, &d.ChapterText, &d.NarrativeAgentDefinition, &snapshot, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(snapshot), &d.SourceSnapshot); err != nil {
			return nil, fmt.Errorf("decode draft %s: %w", d.ID, err)
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}

func (s *SQLiteStore) Artifacts(ctx context.Context, p ArtifactParams) ([]model.Artifact, error) {
	limit := p.Limit
	if limit == 0 {
		limit = 100
	}

	where := []string{"1 = 1"}
	var args []interface{}
	if p.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, p.SessionID)
	}
	if p.Purpose != "" {
		where = append(where, "purpose = ?")
		args = append(args, p.Purpose)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, purpose, provider, model, input_hash, input_chars, output_chars, raw_input, raw_output, created_at
		 FROM artifacts WHERE `+strings.Join(where, " AND ")+` ORDER BY seq LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var rawIn, rawOut sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Purpose, &a.Provider, &a.Model, &a.InputHash,
			&a.InputChars, &a.OutputChars, &rawIn, &rawOut, &createdAt); err != nil {
			return nil, err
		}
		a.RawInput = rawIn.String
		a.RawOutput = rawOut.String
		a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

func (s *SQLiteStore) Apply(ctx context.Context, c *Change) error {
	if c == nil || c.Session == nil {
		return fmt.Errorf("apply: change has no session")
	}
	sess := c.Session
	now := time.Now().UTC()

	cfg, err := json.Marshal(sess.Config)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET state = ?, prompt_index = ?, last_summarized = ?, tab1_locked = ?,
		        narrative_agent = ?, config = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		sess.State, sess.PromptIndex, sess.LastSummarizedPromptIndex, sess.Tab1Locked,
		sess.NarrativeAgentDefinition, string(cfg), now.Format(time.RFC3339),
		sess.ID, sess.Version)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.staleOrMissing(ctx, tx, sess)
	}

	if c.Purge {
		for _, table := range []string{"events", "memory_blocks", "narrative_drafts"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE session_id = ?`, sess.ID); err != nil {
				return fmt.Errorf("purge %s: %w", table, err)
			}
		}
	}

	if err := s.insertEvents(ctx, tx, sess.ID, c.Events, now); err != nil {
		return err
	}
	if err := s.insertBlocks(ctx, tx, sess.ID, c.Blocks, now); err != nil {
		return err
	}
	if err := s.insertDrafts(ctx, tx, sess.ID, c.Drafts, now); err != nil {
		return err
	}
	if err := s.insertArtifacts(ctx, tx, sess.ID, c.Artifacts, now); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	sess.Version++
	sess.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) staleOrMissing(ctx context.Context, tx *sql.Tx, sess *model.Session) error {
	var current int
	err := tx.QueryRowContext(ctx, `SELECT version FROM sessions WHERE id = ?`, sess.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.Newf(apperrors.CodeNotFound, "session not found: %s", sess.ID)
	}
	if err != nil {
		return err
	}
	return apperrors.WithMetadata(apperrors.CodeInvalidState, "session was modified concurrently",
		map[string]string{
			"session_id":       sess.ID,
			"expected_version": fmt.Sprint(sess.Version),
			"current_version":  fmt.Sprint(current),
		})
}

func (s *SQLiteStore) insertEvents(ctx context.Context, tx *sql.Tx, sessionID string, events []model.Event, now time.Time) error {
	for i := range events {
		ev := &events[i]
		s.stamp(&ev.ID, &ev.SessionID, &ev.CreatedAt, sessionID, now)
		var slot *int
		if ev.Role == model.RoleAgent {
			slot = ev.AgentSlot
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO events (id, session_id, prompt_index, role, agent_slot, text, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.SessionID, ev.PromptIndex, ev.Role, slot, ev.Text, ev.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) insertBlocks(ctx context.Context, tx *sql.Tx, sessionID string, blocks []model.MemoryBlock, now time.Time) error {
	for i := range blocks {
		b := &blocks[i]
		s.stamp(&b.ID, &b.SessionID, &b.CreatedAt, sessionID, now)
		payload, err := json.Marshal(b.Payload)
		if err != nil {
			return fmt.Errorf("encode block payload: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO memory_blocks (id, session_id, type, from_index, to_index, payload, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.SessionID, b.Type, b.FromPromptIndex, b.ToPromptIndex, string(payload), b.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert memory block: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) insertDrafts(ctx context.Context, tx *sql.Tx, sessionID string, drafts []model.NarrativeDraft, now time.Time) error {
	for i := range drafts {
		d := &drafts[i]
		s.stamp(&d.ID, &d.SessionID, &d.CreatedAt, sessionID, now)
		snapshot, err := json.Marshal(d.SourceSnapshot)
		if err != nil {
			return fmt.Errorf("encode source snapshot: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO narrative_drafts (id, session_id, chapter_text, narrative_agent, source_snapshot, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			d.ID, d.SessionID, d.ChapterText, d.NarrativeAgentDefinition, string(snapshot), d.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert narrative draft: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) insertArtifacts(ctx context.Context, tx *sql.Tx, sessionID string, artifacts []model.Artifact, now time.Time) error {
	for i := range artifacts {
		a := &artifacts[i]
		s.stamp(&a.ID, &a.SessionID, &a.CreatedAt, sessionID, now)
		_, err := tx.ExecContext(ctx,
			`INSERT INTO artifacts (id, session_id, purpose, provider, model, input_hash, input_chars, output_chars, raw_input, raw_output, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.SessionID, a.Purpose, a.Provider, a.Model, a.InputHash, a.InputChars, a.OutputChars,
			a.RawInput, a.RawOutput, a.CreatedAt.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("insert artifact: %w", err)
		}
	}
	return nil
}

// stamp fills the store-assigned fields of a log entry.
func (s *SQLiteStore) stamp(id, sessionID *string, createdAt *time.Time, sid string, now time.Time) {
	if *id == "" {
		*id = s.newID()
	}
	*sessionID = sid
	if createdAt.IsZero() {
		*createdAt = now
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (model.Session, error) {
	var sess model.Session
	var cfg, createdAt, updatedAt string

	err := row.Scan(
		&sess.ID, &sess.State, &sess.PromptIndex, &sess.LastSummarizedPromptIndex,
		&sess.Tab1Locked, &sess.NarrativeAgentDefinition, &cfg, &sess.Version,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return sess, err
	}

	if err := json.Unmarshal([]byte(cfg), &sess.Config); err != nil {
		return sess, fmt.Errorf("decode config for %s: %w", sess.ID, err)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	return sess, nil
}
