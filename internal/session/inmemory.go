package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*CallSession)}
}

func key(storyID, sessionID string) string {
	return storyID + "/" + sessionID
}

func (s *InMemoryStore) Create(_ context.Context, storyID string) (*CallSession, error) {
	now := time.Now().UTC()
	sess := &CallSession{
		StoryID:   storyID,
		SessionID: uuid.NewString(),
		State:     "idle",
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key(storyID, sess.SessionID)] = sess
	return clone(sess), nil
}

func (s *InMemoryStore) Get(_ context.Context, storyID, sessionID string) (*CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[key(storyID, sessionID)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(sess), nil
}

func (s *InMemoryStore) SetState(_ context.Context, storyID, sessionID, state string) error {
	return s.update(storyID, sessionID, func(sess *CallSession) error {
		sess.State = state
		return nil
	})
}

func (s *InMemoryStore) MarkStarted(_ context.Context, storyID, sessionID string, at time.Time) error {
	return s.update(storyID, sessionID, func(sess *CallSession) error {
		sess.StartedAt = at.UTC()
		return nil
	})
}

func (s *InMemoryStore) AppendChunk(_ context.Context, storyID, sessionID string, ref ChunkRef) error {
	return s.update(storyID, sessionID, func(sess *CallSession) error {
		if ref.UploadedAt.IsZero() {
			ref.UploadedAt = time.Now().UTC()
		}
		// Upload completions can finish out of order; keep the stored list
		// ordered by seq and reject duplicates so it stays strictly increasing.
		i := sort.Search(len(sess.Chunks), func(i int) bool {
			return sess.Chunks[i].Seq >= ref.Seq
		})
		if i < len(sess.Chunks) && sess.Chunks[i].Seq == ref.Seq {
			return ErrSeqOrder
		}
		sess.Chunks = append(sess.Chunks, ChunkRef{})
		copy(sess.Chunks[i+1:], sess.Chunks[i:])
		sess.Chunks[i] = ref
		return nil
	})
}

func (s *InMemoryStore) SetFinalRecording(_ context.Context, storyID, sessionID, url string) error {
	return s.update(storyID, sessionID, func(sess *CallSession) error {
		if sess.VideoComplete {
			return ErrFinalExists
		}
		sess.VideoURL = url
		sess.VideoComplete = true
		return nil
	})
}

func (s *InMemoryStore) ResetRecording(_ context.Context, storyID, sessionID string) error {
	return s.update(storyID, sessionID, func(sess *CallSession) error {
		sess.Chunks = nil
		sess.VideoURL = ""
		sess.VideoComplete = false
		sess.StartedAt = time.Time{}
		return nil
	})
}

func (s *InMemoryStore) SetAudioURL(_ context.Context, storyID, sessionID, url string) error {
	return s.update(storyID, sessionID, func(sess *CallSession) error {
		sess.AudioURL = url
		return nil
	})
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, storyID, sessionID, transcript string) error {
	return s.update(storyID, sessionID, func(sess *CallSession) error {
		sess.Transcript = transcript
		sess.Updated = true
		return nil
	})
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) update(storyID, sessionID string, fn func(*CallSession) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key(storyID, sessionID)]
	if !ok {
		return ErrNotFound
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func clone(sess *CallSession) *CallSession {
	c := *sess
	if sess.Chunks != nil {
		c.Chunks = append([]ChunkRef(nil), sess.Chunks...)
	}
	return &c
}
