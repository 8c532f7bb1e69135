package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call session records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_sessions (
			story_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'idle',
			started_at TIMESTAMPTZ,
			video_url TEXT NOT NULL DEFAULT '',
			video_complete BOOLEAN NOT NULL DEFAULT FALSE,
			audio_url TEXT NOT NULL DEFAULT '',
			transcript TEXT NOT NULL DEFAULT '',
			updated BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (story_id, session_id)
		);`,
		`CREATE TABLE IF NOT EXISTS call_chunks (
			story_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			url TEXT NOT NULL,
			uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (story_id, session_id, seq)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, storyID string) (*CallSession, error) {
	now := time.Now().UTC()
	sess := &CallSession{
		StoryID:   storyID,
		SessionID: uuid.NewString(),
		State:     "idle",
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_sessions (story_id, session_id, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)`,
		sess.StoryID, sess.SessionID, sess.State, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Get(ctx context.Context, storyID, sessionID string) (*CallSession, error) {
	var (
		sess      CallSession
		startedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT story_id, session_id, state, started_at, video_url, video_complete,
		        audio_url, transcript, updated, created_at, updated_at
		 FROM call_sessions WHERE story_id=$1 AND session_id=$2`,
		storyID, sessionID,
	).Scan(&sess.StoryID, &sess.SessionID, &sess.State, &startedAt, &sess.VideoURL,
		&sess.VideoComplete, &sess.AudioURL, &sess.Transcript, &sess.Updated,
		&sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if startedAt != nil {
		sess.StartedAt = *startedAt
	}

	rows, err := s.pool.Query(ctx,
		`SELECT seq, url, uploaded_at FROM call_chunks
		 WHERE story_id=$1 AND session_id=$2 ORDER BY seq`,
		storyID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ref ChunkRef
		if err := rows.Scan(&ref.Seq, &ref.URL, &ref.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		sess.Chunks = append(sess.Chunks, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk rows: %w", err)
	}

	return &sess, nil
}

func (s *PostgresStore) SetState(ctx context.Context, storyID, sessionID, state string) error {
	return s.exec(ctx,
		`UPDATE call_sessions SET state=$3, updated_at=now()
		 WHERE story_id=$1 AND session_id=$2`,
		storyID, sessionID, state)
}

func (s *PostgresStore) MarkStarted(ctx context.Context, storyID, sessionID string, at time.Time) error {
	return s.exec(ctx,
		`UPDATE call_sessions SET started_at=$3, updated_at=now()
		 WHERE story_id=$1 AND session_id=$2`,
		storyID, sessionID, at.UTC())
}

func (s *PostgresStore) AppendChunk(ctx context.Context, storyID, sessionID string, ref ChunkRef) error {
	if ref.UploadedAt.IsZero() {
		ref.UploadedAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin append chunk: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM call_sessions WHERE story_id=$1 AND session_id=$2)`,
		storyID, sessionID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	// Reads order by seq, so insertion order does not matter; the primary key
	// rejects a duplicate seq.
	tag, err := tx.Exec(ctx,
		`INSERT INTO call_chunks (story_id, session_id, seq, url, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (story_id, session_id, seq) DO NOTHING`,
		storyID, sessionID, ref.Seq, ref.URL, ref.UploadedAt)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSeqOrder
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append chunk: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetFinalRecording(ctx context.Context, storyID, sessionID, url string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE call_sessions SET video_url=$3, video_complete=TRUE, updated_at=now()
		 WHERE story_id=$1 AND session_id=$2 AND video_complete=FALSE`,
		storyID, sessionID, url)
	if err != nil {
		return fmt.Errorf("set final recording: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, storyID, sessionID); err != nil {
			return err
		}
		return ErrFinalExists
	}
	return nil
}

func (s *PostgresStore) ResetRecording(ctx context.Context, storyID, sessionID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset recording: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE call_sessions
		 SET video_url='', video_complete=FALSE, started_at=NULL, updated_at=now()
		 WHERE story_id=$1 AND session_id=$2`,
		storyID, sessionID)
	if err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM call_chunks WHERE story_id=$1 AND session_id=$2`,
		storyID, sessionID); err != nil {
		return fmt.Errorf("reset chunks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reset recording: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetAudioURL(ctx context.Context, storyID, sessionID, url string) error {
	return s.exec(ctx,
		`UPDATE call_sessions SET audio_url=$3, updated_at=now()
		 WHERE story_id=$1 AND session_id=$2`,
		storyID, sessionID, url)
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, storyID, sessionID, transcript string) error {
	return s.exec(ctx,
		`UPDATE call_sessions SET transcript=$3, updated=TRUE, updated_at=now()
		 WHERE story_id=$1 AND session_id=$2`,
		storyID, sessionID, transcript)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
