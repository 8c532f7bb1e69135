package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestChunkPath(t *testing.T) {
	got := ChunkPath("story-1", "sess-1", 7, false)
	want := "recordings/story-1/sess-1/chunk_0007.webm"
	if got != want {
		t.Fatalf("ChunkPath() = %q, want %q", got, want)
	}

	got = ChunkPath("story-1", "sess-1", 7, true)
	want = "recordings/story-1/sess-1/recording.webm"
	if got != want {
		t.Fatalf("ChunkPath(final) = %q, want %q", got, want)
	}
}

func TestInMemoryUploaderOverwritesPerPath(t *testing.T) {
	ctx := context.Background()
	up := NewInMemoryUploader()

	url1, err := up.Upload(ctx, []byte("v1"), "recordings/s/x/chunk_0001.webm", "video/webm")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	url2, err := up.Upload(ctx, []byte("v2"), "recordings/s/x/chunk_0001.webm", "video/webm")
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if url1 != url2 {
		t.Fatalf("retried upload moved the URL: %q vs %q", url1, url2)
	}
	if up.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", up.Count())
	}

	obj, ok := up.Object("recordings/s/x/chunk_0001.webm")
	if !ok {
		t.Fatalf("Object() missing")
	}
	if !bytes.Equal(obj, []byte("v2")) {
		t.Fatalf("Object() = %q, want %q", obj, "v2")
	}
}

func TestInMemoryUploaderCopiesData(t *testing.T) {
	ctx := context.Background()
	up := NewInMemoryUploader()

	data := []byte("abc")
	if _, err := up.Upload(ctx, data, "p", "video/webm"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	data[0] = 'z'

	obj, _ := up.Object("p")
	if !bytes.Equal(obj, []byte("abc")) {
		t.Fatalf("stored blob aliases caller buffer: %q", obj)
	}
}
