// Package store provides the session storage interface and SQLite implementation.
package store

import (
	"context"

	"github.com/rcliao/story-engine/internal/model"
)

// Change is one atomic mutation of a session. Session carries the new record
// with Version set to the version the change was planned against; the store
// rejects the change when the stored version differs. Logs are append-only:
// entries are inserted in slice order and empty IDs are assigned in place.
type Change struct {
	Session   *model.Session
	Events    []model.Event
	Blocks    []model.MemoryBlock
	Drafts    []model.NarrativeDraft
	Artifacts []model.Artifact

	// Purge deletes the session's events, memory blocks and narrative drafts
	// before anything is appended. Artifacts are never purged.
	Purge bool
}

// ListParams holds parameters for listing sessions.
type ListParams struct {
	States []model.State // empty means any state
	Limit  int           // 0 means 20, negative means no limit
}

// ArtifactParams holds parameters for listing generation artifacts.
type ArtifactParams struct {
	SessionID string
	Purpose   model.Purpose
	Limit     int // 0 means 100, negative means no limit
}

// Store defines the session storage interface.
type Store interface {
	// CreateSession inserts a new session record.
	CreateSession(ctx context.Context, sess *model.Session) error

	// GetSession returns the session or a NOT_FOUND error.
	GetSession(ctx context.Context, id string) (*model.Session, error)

	// ListSessions lists sessions, most recently updated first.
	ListSessions(ctx context.Context, p ListParams) ([]model.Session, error)

	// Events returns the session's events in insertion order.
	Events(ctx context.Context, sessionID string) ([]model.Event, error)

	// MemoryBlocks returns the session's blocks in creation order.
	MemoryBlocks(ctx context.Context, sessionID string) ([]model.MemoryBlock, error)

	// NarrativeDrafts returns the session's drafts in creation order.
	NarrativeDrafts(ctx context.Context, sessionID string) ([]model.NarrativeDraft, error)

	// Artifacts lists generation artifacts, oldest first.
	Artifacts(ctx context.Context, p ArtifactParams) ([]model.Artifact, error)

	// Apply commits a Change in one transaction. On success the session's
	// Version is incremented in place.
	Apply(ctx context.Context, c *Change) error

	// Close closes the store.
	Close() error
}
