package call

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Chirraag/talkmybio-fv3/internal/observability"
	"github.com/Chirraag/talkmybio-fv3/internal/session"
)

// progressStep shapes the synthetic estimate: each unsuccessful read moves
// progress a fraction of the remaining headroom, so it is monotonic, bounded
// below progressCap, and says nothing about actual remaining work.
const (
	progressCap  = 0.95
	progressStep = 0.15
)

// Poller re-reads the persisted session record until the external pipeline
// sets the updated flag. There is no push notification and no hard timeout;
// callers must Stop it on every teardown path.
type Poller struct {
	store    session.Store
	interval time.Duration
	logger   *zap.Logger
	metrics  *observability.Metrics

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewPoller(store session.Store, interval time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  metrics,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start polls until the updated flag is observed, Stop is called, or ctx is
// cancelled. onProgress fires after each unsuccessful read; onComplete fires
// exactly once, and no further reads are issued after it.
func (p *Poller) Start(ctx context.Context, storyID, sessionID string, onProgress func(float64), onComplete func()) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(p.done)

		progress := 0.0
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			if p.metrics != nil {
				p.metrics.PollTicks.Inc()
			}
			sess, err := p.store.Get(ctx, storyID, sessionID)
			if err != nil {
				if p.metrics != nil {
					p.metrics.ObserveIndicator("poll_read_error")
				}
				p.logger.Warn("processing poll read failed",
					zap.String("story_id", storyID),
					zap.String("session_id", sessionID),
					zap.Error(err))
			} else if sess.Updated {
				if onComplete != nil {
					onComplete()
				}
				return
			}

			progress += (progressCap - progress) * progressStep
			if onProgress != nil {
				onProgress(progress)
			}

			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop cancels polling. Idempotent; returns after the poll loop has exited.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	if p.started.Load() {
		<-p.done
	}
}
