package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Chirraag/talkmybio-fv3/internal/observability"
	"github.com/Chirraag/talkmybio-fv3/internal/session"
	"github.com/Chirraag/talkmybio-fv3/internal/storage"
)

const videoContentType = "video/webm"

// ChunkSink receives a reference to every successfully uploaded chunk.
type ChunkSink func(ref session.ChunkRef, final bool)

// Recorder closes a recording segment on every tick, rebuilds one cumulative
// blob from all segments so far, and uploads it fire-and-forget. Re-uploading
// the full history each tick means every observed URL is a complete,
// independently playable recording; sessions are short, so the bandwidth cost
// stays acceptable.
type Recorder struct {
	track     VideoTrack
	uploader  storage.Uploader
	interval  time.Duration
	storyID   string
	sessionID string
	sink      ChunkSink
	logger    *zap.Logger
	metrics   *observability.Metrics

	mu       sync.Mutex
	segments [][]byte
	seq      int

	cancel   context.CancelFunc
	loopDone chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func NewRecorder(
	track VideoTrack,
	uploader storage.Uploader,
	interval time.Duration,
	storyID, sessionID string,
	sink ChunkSink,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Recorder {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		track:     track,
		uploader:  uploader,
		interval:  interval,
		storyID:   storyID,
		sessionID: sessionID,
		sink:      sink,
		logger:    logger,
		metrics:   metrics,
	}
}

// Start launches the capture tick loop. The loop never waits on an in-flight
// upload; a slow network round trip cannot delay the next segment close.
func (r *Recorder) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.loopDone = make(chan struct{})

	go func() {
		defer close(r.loopDone)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.tick()
			}
		}
	}()
}

func (r *Recorder) tick() {
	r.mu.Lock()
	if seg := r.track.Segment(); len(seg) > 0 {
		r.segments = append(r.segments, seg)
	}
	r.seq++
	seq := r.seq
	blob := r.cumulativeLocked()
	r.mu.Unlock()

	go r.uploadChunk(seq, blob)
}

// uploadChunk persists one cumulative chunk. Failures are logged and
// swallowed: capture continues undisturbed and the next tick re-uploads a
// superset anyway.
func (r *Recorder) uploadChunk(seq int, blob []byte) {
	path := storage.ChunkPath(r.storyID, r.sessionID, seq, false)
	start := time.Now()
	url, err := r.uploader.Upload(context.Background(), blob, path, videoContentType)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ChunkUploadErrors.WithLabelValues("cumulative").Inc()
		}
		r.logger.Warn("chunk upload failed",
			zap.String("story_id", r.storyID),
			zap.String("session_id", r.sessionID),
			zap.Int("seq", seq),
			zap.Error(err))
		return
	}
	if r.metrics != nil {
		r.metrics.ChunkUploads.WithLabelValues("cumulative").Inc()
		r.metrics.ObserveUploadLatency(time.Since(start))
	}
	if r.sink != nil {
		r.sink(session.ChunkRef{Seq: seq, URL: url, UploadedAt: time.Now().UTC()}, false)
	}
}

// Stop performs one last segment close, uploads the complete artifact tagged
// final, and returns only when that upload has settled. A second Stop returns
// the first call's result without producing another final upload.
func (r *Recorder) Stop(ctx context.Context) error {
	r.stopOnce.Do(func() {
		if r.cancel != nil {
			r.cancel()
			<-r.loopDone
		}

		r.mu.Lock()
		if seg := r.track.Segment(); len(seg) > 0 {
			r.segments = append(r.segments, seg)
		}
		r.seq++
		seq := r.seq
		blob := r.cumulativeLocked()
		r.mu.Unlock()

		path := storage.ChunkPath(r.storyID, r.sessionID, seq, true)
		start := time.Now()
		url, err := r.uploader.Upload(ctx, blob, path, videoContentType)
		if err != nil {
			if r.metrics != nil {
				r.metrics.ChunkUploadErrors.WithLabelValues("final").Inc()
			}
			r.stopErr = fmt.Errorf("final upload: %w", err)
			return
		}
		if r.metrics != nil {
			r.metrics.ChunkUploads.WithLabelValues("final").Inc()
			r.metrics.ObserveStage("final_upload", time.Since(start))
		}
		if r.sink != nil {
			r.sink(session.ChunkRef{Seq: seq, URL: url, UploadedAt: time.Now().UTC()}, true)
		}
	})
	return r.stopErr
}

func (r *Recorder) cumulativeLocked() []byte {
	total := 0
	for _, seg := range r.segments {
		total += len(seg)
	}
	blob := make([]byte, 0, total)
	for _, seg := range r.segments {
		blob = append(blob, seg...)
	}
	return blob
}
