// Package capture times segment capture from a live media stream, assembles
// cumulative blobs, and hands them to the upload client.
package capture

import (
	"context"
	"errors"
	"sync"
)

// ErrPermissionDenied reports that the user declined device access.
var ErrPermissionDenied = errors.New("device permission denied")

// Source acquires the combined microphone+camera stream, prompting for
// permission. Platform-specific; the call state machine stays agnostic.
type Source interface {
	Acquire(ctx context.Context) (Stream, error)
}

// VideoTrack drains the encoded video bytes captured since the previous call.
type VideoTrack interface {
	Segment() []byte
}

// Stream is a live media stream handle. Only the video track is recorded
// locally; audio is captured by a separately managed high-fidelity pipeline.
type Stream interface {
	Video() VideoTrack
	// Release frees the underlying device handles. Releasing an already
	// released stream is a no-op.
	Release()
}

// TrackBuffer is a VideoTrack fed incrementally, e.g. by websocket chunks.
type TrackBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func NewTrackBuffer() *TrackBuffer {
	return &TrackBuffer{}
}

func (b *TrackBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
}

func (b *TrackBuffer) Segment() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.buf
	b.buf = nil
	return out
}

// RemoteStream adapts a client-fed track buffer to the Stream interface. The
// release hook tells the remote side to stop its devices.
type RemoteStream struct {
	video     *TrackBuffer
	release   sync.Once
	onRelease func()
}

func NewRemoteStream(onRelease func()) *RemoteStream {
	return &RemoteStream{
		video:     NewTrackBuffer(),
		onRelease: onRelease,
	}
}

func (s *RemoteStream) Video() VideoTrack { return s.video }

// Append feeds encoded video bytes from the remote capture source.
func (s *RemoteStream) Append(p []byte) { s.video.Append(p) }

func (s *RemoteStream) Release() {
	s.release.Do(func() {
		if s.onRelease != nil {
			s.onRelease()
		}
	})
}
