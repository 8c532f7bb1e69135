package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrSeqOrder    = errors.New("duplicate chunk seq")
	ErrFinalExists = errors.New("final recording already set")
)

// Store persists and retrieves call session records.
type Store interface {
	Create(ctx context.Context, storyID string) (*CallSession, error)
	Get(ctx context.Context, storyID, sessionID string) (*CallSession, error)
	SetState(ctx context.Context, storyID, sessionID, state string) error
	MarkStarted(ctx context.Context, storyID, sessionID string, at time.Time) error
	AppendChunk(ctx context.Context, storyID, sessionID string, ref ChunkRef) error
	SetFinalRecording(ctx context.Context, storyID, sessionID, url string) error
	// ResetRecording clears chunk history and the final flag for a fresh
	// retry attempt. Uploaded blobs are overwritten in place by the next
	// attempt because logical paths are stable.
	ResetRecording(ctx context.Context, storyID, sessionID string) error
	SetAudioURL(ctx context.Context, storyID, sessionID, url string) error
	// MarkProcessed is the hook the external story pipeline calls: it stores
	// the transcript and flips the updated flag the poller watches.
	MarkProcessed(ctx context.Context, storyID, sessionID, transcript string) error
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
