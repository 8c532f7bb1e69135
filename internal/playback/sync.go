package playback

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Chirraag/talkmybio-fv3/internal/observability"
	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
)

// DefaultDriftTolerance is how far the slave may lag or lead the master
// before a corrective seek is issued.
const DefaultDriftTolerance = 100 * time.Millisecond

// Element is the slave media surface the synchronizer drives. Implementations
// forward commands to an audio element and report its position.
type Element interface {
	CurrentTime() time.Duration
	Seek(pos time.Duration)
	Play()
	Pause()
	SetMuted(muted bool)
}

// Synchronizer mirrors a master video element onto a slave audio element.
// The master is never adjusted; every correction lands on the slave. With no
// slave attached every operation is a no-op, so sessions recorded before a
// separate audio artifact existed play back untouched.
type Synchronizer struct {
	tolerance time.Duration
	logger    *zap.Logger
	metrics   *observability.Metrics

	mu      sync.Mutex
	slave   Element
	playing bool
	muted   bool

	// Last master position reported, plus when it was seen, so an unmute
	// can rejoin the master without waiting for the next timeupdate.
	masterPos time.Duration
	masterAt  time.Time
}

func NewSynchronizer(slave Element, tolerance time.Duration, logger *zap.Logger, metrics *observability.Metrics) *Synchronizer {
	if tolerance <= 0 {
		tolerance = DefaultDriftTolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		tolerance: tolerance,
		logger:    logger,
		metrics:   metrics,
		slave:     slave,
	}
}

// HandleMasterEvent applies one master-element event. It returns the sync
// commands that were issued to the slave, for transports that relay them.
func (s *Synchronizer) HandleMasterEvent(ev protocol.PlaybackMasterEvent) []protocol.PlaybackSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slave == nil {
		return nil
	}

	pos := time.Duration(ev.PositionMS) * time.Millisecond
	var issued []protocol.PlaybackSync

	switch ev.Event {
	case protocol.MasterPlay:
		s.noteMasterLocked(pos)
		s.playing = true
		if s.muted {
			break
		}
		issued = append(issued, s.alignLocked(ev.SessionID, pos)...)
		s.slave.Play()
		issued = append(issued, protocol.PlaybackSync{
			Type:      protocol.TypePlaybackSync,
			SessionID: ev.SessionID,
			Command:   protocol.SyncPlay,
		})

	case protocol.MasterPause:
		s.noteMasterLocked(pos)
		s.slave.Pause()
		s.playing = false
		issued = append(issued, protocol.PlaybackSync{
			Type:      protocol.TypePlaybackSync,
			SessionID: ev.SessionID,
			Command:   protocol.SyncPause,
		})

	case protocol.MasterEnded:
		s.noteMasterLocked(0)
		s.slave.Pause()
		s.slave.Seek(0)
		s.playing = false
		issued = append(issued,
			protocol.PlaybackSync{
				Type:      protocol.TypePlaybackSync,
				SessionID: ev.SessionID,
				Command:   protocol.SyncPause,
			},
			protocol.PlaybackSync{
				Type:      protocol.TypePlaybackSync,
				SessionID: ev.SessionID,
				Command:   protocol.SyncSeek,
			},
		)

	case protocol.MasterTimeUpdate:
		s.noteMasterLocked(pos)
		if s.playing && !s.muted {
			issued = append(issued, s.alignLocked(ev.SessionID, pos)...)
		}
	}

	return issued
}

// alignLocked reseeks the slave when it has drifted past tolerance.
func (s *Synchronizer) alignLocked(sessionID string, masterPos time.Duration) []protocol.PlaybackSync {
	drift := s.slave.CurrentTime() - masterPos
	if drift < 0 {
		drift = -drift
	}
	if drift <= s.tolerance {
		return nil
	}
	s.slave.Seek(masterPos)
	if s.metrics != nil {
		s.metrics.DriftCorrections.Inc()
	}
	s.logger.Debug("playback drift corrected",
		zap.String("session_id", sessionID),
		zap.Duration("drift", drift))
	return []protocol.PlaybackSync{{
		Type:       protocol.TypePlaybackSync,
		SessionID:  sessionID,
		Command:    protocol.SyncSeek,
		PositionMS: masterPos.Milliseconds(),
	}}
}

// SetMuted toggles the slave audio by pausing or resuming it. The master's
// own audio track stays as it is; mute is purely a slave concern. Unmuting
// mid-playback seeks the slave back to the master before resuming. The issued
// sync commands are returned for transports that relay them.
func (s *Synchronizer) SetMuted(sessionID string, muted bool) []protocol.PlaybackSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	if muted == s.muted {
		return nil
	}
	s.muted = muted
	if s.slave == nil {
		return nil
	}
	s.slave.SetMuted(muted)
	if !s.playing {
		return nil
	}

	if muted {
		s.slave.Pause()
		return []protocol.PlaybackSync{{
			Type:      protocol.TypePlaybackSync,
			SessionID: sessionID,
			Command:   protocol.SyncPause,
		}}
	}

	pos := s.masterEstimateLocked()
	s.slave.Seek(pos)
	s.slave.Play()
	return []protocol.PlaybackSync{
		{
			Type:       protocol.TypePlaybackSync,
			SessionID:  sessionID,
			Command:    protocol.SyncSeek,
			PositionMS: pos.Milliseconds(),
		},
		{
			Type:      protocol.TypePlaybackSync,
			SessionID: sessionID,
			Command:   protocol.SyncPlay,
		},
	}
}

// noteMasterLocked records where the master reported itself.
func (s *Synchronizer) noteMasterLocked(pos time.Duration) {
	s.masterPos = pos
	s.masterAt = time.Now()
}

// masterEstimateLocked extrapolates the master position from its last report.
func (s *Synchronizer) masterEstimateLocked() time.Duration {
	if !s.playing || s.masterAt.IsZero() {
		return s.masterPos
	}
	return s.masterPos + time.Since(s.masterAt)
}

// Muted reports the last requested mute state.
func (s *Synchronizer) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Playing reports whether the master was last seen playing.
func (s *Synchronizer) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}
