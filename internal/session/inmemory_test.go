package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sess, err := store.Create(ctx, "story-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if sess.SessionID == "" {
		t.Fatalf("Create() returned empty session id")
	}
	if sess.State != "idle" {
		t.Fatalf("State = %q, want idle", sess.State)
	}

	got, err := store.Get(ctx, "story-1", sess.SessionID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.StoryID != "story-1" || got.SessionID != sess.SessionID {
		t.Fatalf("unexpected session: %+v", got)
	}

	if _, err := store.Get(ctx, "story-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryStoreAppendChunkKeepsSeqOrder(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.Create(ctx, "story-1")

	// Uploads settle out of order.
	for _, seq := range []int{2, 1, 3} {
		err := store.AppendChunk(ctx, "story-1", sess.SessionID, ChunkRef{Seq: seq, URL: "u"})
		if err != nil {
			t.Fatalf("AppendChunk(%d) error = %v", seq, err)
		}
	}

	got, _ := store.Get(ctx, "story-1", sess.SessionID)
	if len(got.Chunks) != 3 {
		t.Fatalf("len(Chunks) = %d, want 3", len(got.Chunks))
	}
	for i, ref := range got.Chunks {
		if ref.Seq != i+1 {
			t.Fatalf("Chunks[%d].Seq = %d, want %d", i, ref.Seq, i+1)
		}
	}

	err := store.AppendChunk(ctx, "story-1", sess.SessionID, ChunkRef{Seq: 2, URL: "dup"})
	if !errors.Is(err, ErrSeqOrder) {
		t.Fatalf("duplicate AppendChunk error = %v, want ErrSeqOrder", err)
	}
}

func TestInMemoryStoreFinalRecordingOnce(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.Create(ctx, "story-1")

	if err := store.SetFinalRecording(ctx, "story-1", sess.SessionID, "memory://final"); err != nil {
		t.Fatalf("SetFinalRecording() error = %v", err)
	}
	err := store.SetFinalRecording(ctx, "story-1", sess.SessionID, "memory://other")
	if !errors.Is(err, ErrFinalExists) {
		t.Fatalf("second SetFinalRecording error = %v, want ErrFinalExists", err)
	}

	got, _ := store.Get(ctx, "story-1", sess.SessionID)
	if got.VideoURL != "memory://final" || !got.VideoComplete {
		t.Fatalf("unexpected final state: url=%q complete=%v", got.VideoURL, got.VideoComplete)
	}
}

func TestInMemoryStoreResetRecording(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.Create(ctx, "story-1")

	_ = store.MarkStarted(ctx, "story-1", sess.SessionID, time.Now())
	_ = store.AppendChunk(ctx, "story-1", sess.SessionID, ChunkRef{Seq: 1, URL: "u"})
	_ = store.SetFinalRecording(ctx, "story-1", sess.SessionID, "memory://final")

	if err := store.ResetRecording(ctx, "story-1", sess.SessionID); err != nil {
		t.Fatalf("ResetRecording() error = %v", err)
	}

	got, _ := store.Get(ctx, "story-1", sess.SessionID)
	if len(got.Chunks) != 0 || got.VideoURL != "" || got.VideoComplete || !got.StartedAt.IsZero() {
		t.Fatalf("recording state not cleared: %+v", got)
	}

	// A fresh attempt starts a new chunk history from seq 1.
	if err := store.AppendChunk(ctx, "story-1", sess.SessionID, ChunkRef{Seq: 1, URL: "u2"}); err != nil {
		t.Fatalf("AppendChunk after reset error = %v", err)
	}
}

func TestInMemoryStoreMarkProcessed(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.Create(ctx, "story-1")

	if err := store.MarkProcessed(ctx, "story-1", sess.SessionID, "a transcript"); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	got, _ := store.Get(ctx, "story-1", sess.SessionID)
	if !got.Updated || got.Transcript != "a transcript" {
		t.Fatalf("unexpected processed state: updated=%v transcript=%q", got.Updated, got.Transcript)
	}
}

func TestInMemoryStoreGetReturnsClone(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.Create(ctx, "story-1")
	_ = store.AppendChunk(ctx, "story-1", sess.SessionID, ChunkRef{Seq: 1, URL: "u"})

	got, _ := store.Get(ctx, "story-1", sess.SessionID)
	got.Chunks[0].URL = "mutated"
	got.State = "mutated"

	again, _ := store.Get(ctx, "story-1", sess.SessionID)
	if again.Chunks[0].URL != "u" || again.State == "mutated" {
		t.Fatalf("store state leaked through clone: %+v", again)
	}
}
