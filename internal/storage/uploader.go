// Package storage persists binary recording artifacts under logical paths and
// returns resolvable URLs. Uploads are idempotent per path: a retry overwrites
// the previous object safely.
package storage

import (
	"context"
	"fmt"
)

// Uploader writes a blob under a logical path and returns a resolvable URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, logicalPath, contentType string) (string, error)
}

// ChunkPath returns the stable blob path for a cumulative recording chunk.
// The final artifact lives at a fixed name so a retried final upload
// overwrites rather than accumulates.
func ChunkPath(storyID, sessionID string, seq int, final bool) string {
	if final {
		return fmt.Sprintf("recordings/%s/%s/recording.webm", storyID, sessionID)
	}
	return fmt.Sprintf("recordings/%s/%s/chunk_%04d.webm", storyID, sessionID, seq)
}
