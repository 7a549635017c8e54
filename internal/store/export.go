package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/rcliao/story-engine/internal/errors"
	"github.com/rcliao/story-engine/internal/model"
)

// Bundle is a portable copy of one session and everything it owns.
type Bundle struct {
	Session         model.Session          `json:"session"`
	Events          []model.Event          `json:"events"`
	MemoryBlocks    []model.MemoryBlock    `json:"memory_blocks"`
	NarrativeDrafts []model.NarrativeDraft `json:"narrative_drafts"`
	Artifacts       []model.Artifact       `json:"artifacts"`
}

// Export returns the session with all its logs.
func (s *SQLiteStore) Export(ctx context.Context, sessionID string) (*Bundle, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	b := &Bundle{Session: *sess}
	if b.Events, err = s.Events(ctx, sessionID); err != nil {
		return nil, err
	}
	if b.MemoryBlocks, err = s.MemoryBlocks(ctx, sessionID); err != nil {
		return nil, err
	}
	if b.NarrativeDrafts, err = s.NarrativeDrafts(ctx, sessionID); err != nil {
		return nil, err
	}
	if b.Artifacts, err = s.Artifacts(ctx, ArtifactParams{SessionID: sessionID, Limit: -1}); err != nil {
		return nil, err
	}
	return b, nil
}

// Import recreates an exported session in one transaction. Entry IDs and
// order are preserved. Importing a session id that already exists is rejected.
func (s *SQLiteStore) Import(ctx context.Context, b *Bundle) error {
	if b.Session.ID == "" {
		return apperrors.New(apperrors.CodeValidation, "bundle has no session id")
	}
	if _, err := s.GetSession(ctx, b.Session.ID); err == nil {
		return apperrors.Newf(apperrors.CodeInvalidState, "session already exists: %s", b.Session.ID)
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}

	sess := b.Session
	if !sess.State.Stable().Valid() {
		return apperrors.Newf(apperrors.CodeValidation, "bundle has unknown state %q", sess.State)
	}
	events, blocks, drafts := b.Events, b.MemoryBlocks, b.NarrativeDrafts
	// An export taken mid-operation comes back in the state it would recover
	// to. An interrupted reset is completed.
	if sess.State == model.StateResetting {
		sess.PromptIndex, sess.LastSummarizedPromptIndex = 0, 0
		sess.Tab1Locked = false
		sess.NarrativeAgentDefinition = ""
		sess.Config = model.EmptyConfig()
		events, blocks, drafts = nil, nil, nil
	}
	sess.State = sess.State.Stable()
	sess.Version = 0

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertSession(ctx, tx, &sess); err != nil {
		return fmt.Errorf("import session: %w", err)
	}
	now := time.Now().UTC()
	if err := s.insertEvents(ctx, tx, sess.ID, events, now); err != nil {
		return err
	}
	if err := s.insertBlocks(ctx, tx, sess.ID, blocks, now); err != nil {
		return err
	}
	if err := s.insertDrafts(ctx, tx, sess.ID, drafts, now); err != nil {
		return err
	}
	if err := s.insertArtifacts(ctx, tx, sess.ID, b.Artifacts, now); err != nil {
		return err
	}
	return tx.Commit()
}
