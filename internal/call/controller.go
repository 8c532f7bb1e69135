package call

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Chirraag/talkmybio-fv3/internal/capture"
	"github.com/Chirraag/talkmybio-fv3/internal/observability"
	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
	"github.com/Chirraag/talkmybio-fv3/internal/reliability"
	"github.com/Chirraag/talkmybio-fv3/internal/session"
	"github.com/Chirraag/talkmybio-fv3/internal/storage"
	"github.com/Chirraag/talkmybio-fv3/internal/transport"
)

// finalizeTimeout bounds the awaited final upload so teardown cannot hang on
// a dead network.
const finalizeTimeout = 30 * time.Second

type Config struct {
	ConnectTimeout  time.Duration
	CaptureInterval time.Duration
	PollInterval    time.Duration
	AgentID         string
}

// Controller drives one call session's lifecycle. It is a single-goroutine
// state machine: transport events, client controls, and internal completions
// all arrive as typed messages, and side effects are tied to transition
// execution. Device handles are released exactly once on every exit path.
type Controller struct {
	cfg      Config
	store    session.Store
	uploader storage.Uploader
	dialer   transport.Dialer
	source   capture.Source
	logger   *zap.Logger
	metrics  *observability.Metrics
}

func NewController(
	cfg Config,
	store session.Store,
	uploader storage.Uploader,
	dialer transport.Dialer,
	source capture.Source,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Controller {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		store:    store,
		uploader: uploader,
		dialer:   dialer,
		source:   source,
		logger:   logger,
		metrics:  metrics,
	}
}

// Internal completions posted back into the state machine.
type permissionResult struct {
	stream capture.Stream
	err    error
}

type dialResult struct {
	call transport.Call
	err  error
}

type chunkUploaded struct {
	ref   session.ChunkRef
	final bool
}

type finalized struct {
	err error
}

type pollProgress struct {
	progress float64
}

type pollComplete struct{}

// Run drives the session until it reaches a terminal state, the client
// cancels, or the connection context ends. It returns nil on every orderly
// exit; errors are surfaced to the client as state transitions, not returned.
func (c *Controller) Run(ctx context.Context, sess *session.CallSession, inbound <-chan any, outbound chan<- any) error {
	ctx, cancelAll := context.WithCancel(ctx)
	defer cancelAll()

	if c.metrics != nil {
		c.metrics.ActiveCalls.Inc()
		defer c.metrics.ActiveCalls.Dec()
	}

	internal := make(chan any, 128)

	var (
		state           State
		stream          capture.Stream
		recorder        *capture.Recorder
		activeCall      transport.Call
		transportEvents <-chan protocol.TransportEvent
		connectTimer    *time.Timer
		connectC        <-chan time.Time
		poller          *Poller
		dialStartedAt   time.Time
		endedAt         time.Time
	)

	logFields := []zap.Field{
		zap.String("story_id", sess.StoryID),
		zap.String("session_id", sess.SessionID),
	}

	setState := func(next State, reason FailureReason, detail string, retryable bool) {
		state = next
		if err := c.store.SetState(ctx, sess.StoryID, sess.SessionID, string(next)); err != nil {
			c.logger.Warn("persist state failed", append(logFields, zap.String("state", string(next)), zap.Error(err))...)
		}
		if c.metrics != nil {
			c.metrics.CallEvents.WithLabelValues(string(next)).Inc()
		}
		c.send(outbound, protocol.CallState{
			Type:      protocol.TypeCallState,
			StoryID:   sess.StoryID,
			State:     string(next),
			Reason:    string(reason),
			Detail:    detail,
			Retryable: retryable,
		})
	}

	releaseDevices := func() {
		if stream != nil {
			stream.Release()
		}
	}

	stopConnectTimer := func() {
		if connectTimer != nil {
			connectTimer.Stop()
			connectTimer = nil
			connectC = nil
		}
	}

	stopPoller := func() {
		if poller != nil {
			poller.Stop()
			poller = nil
		}
	}

	closeCall := func() {
		if activeCall != nil {
			_ = activeCall.Close()
			activeCall = nil
			transportEvents = nil
		}
	}

	// fail releases devices before the failure becomes visible, then tears
	// down the rest of the attempt and surfaces a single notification.
	fail := func(reason FailureReason, detail string, retryable bool, err error) {
		releaseDevices()
		stopConnectTimer()
		closeCall()
		stopPoller()
		c.logger.Error("call attempt failed",
			append(logFields, zap.String("reason", string(reason)), zap.Error(err))...)
		if c.metrics != nil {
			c.metrics.CallFailures.WithLabelValues(string(reason)).Inc()
		}
		setState(StateFailed, reason, detail, retryable)
	}

	// chunkSink persists every uploaded chunk reference. It runs on upload
	// goroutines with its own write context so a final upload that lands
	// during teardown is still recorded.
	chunkSink := func(ref session.ChunkRef, final bool) {
		wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var err error
		if final {
			err = c.store.SetFinalRecording(wctx, sess.StoryID, sess.SessionID, ref.URL)
		} else {
			err = c.store.AppendChunk(wctx, sess.StoryID, sess.SessionID, ref)
		}
		if err != nil {
			c.logger.Warn("persist chunk failed",
				append(logFields, zap.Int("seq", ref.Seq), zap.Bool("final", final), zap.Error(err))...)
		}
		select {
		case internal <- chunkUploaded{ref: ref, final: final}:
		default:
		}
	}

	beginAttempt := func() {
		setState(StateRequestingPermissions, "", "", false)
		c.send(outbound, protocol.PermissionRequest{
			Type:      protocol.TypePermissionRequest,
			SessionID: sess.SessionID,
		})
		go func() {
			s, err := c.source.Acquire(ctx)
			select {
			case internal <- permissionResult{stream: s, err: err}:
			case <-ctx.Done():
				if s != nil {
					s.Release()
				}
			}
		}()
	}

	beginEnding := func(userInitiated bool) {
		stopConnectTimer()
		endedAt = time.Now()
		setState(StateEnding, "", "", false)
		if userInitiated && activeCall != nil {
			call := activeCall
			go func() { _ = call.Hangup(ctx) }()
		}
		releaseDevices()
		rec := recorder
		go func() {
			var err error
			if rec != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
				defer cancel()
				err = rec.Stop(stopCtx)
			}
			select {
			case internal <- finalized{err: err}:
			case <-ctx.Done():
			}
		}()
	}

	// teardown is the shared early-exit path: connection close, context end,
	// user cancel. Every resource here is idempotent to release.
	teardown := func() {
		if state == StateActive && recorder != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
			if err := recorder.Stop(stopCtx); err != nil {
				c.logger.Warn("final upload during teardown failed", append(logFields, zap.Error(err))...)
			}
			cancel()
		}
		releaseDevices()
		stopConnectTimer()
		closeCall()
		stopPoller()
	}

	beginAttempt()

	for {
		select {
		case <-ctx.Done():
			teardown()
			return nil

		case msg, ok := <-inbound:
			if !ok {
				teardown()
				return nil
			}
			ctl, isCtl := msg.(protocol.ClientControl)
			if !isCtl {
				continue
			}
			switch ctl.Action {
			case protocol.ActionStartCall:
				if state != StateReady {
					c.sendInvalidAction(outbound, sess.SessionID, ctl.Action, state)
					continue
				}
				setState(StateConnecting, "", "", false)
				dialStartedAt = time.Now()
				connectTimer = time.NewTimer(c.cfg.ConnectTimeout)
				connectC = connectTimer.C
				go func() {
					call, err := c.dialer.Dial(ctx, transport.CallRequest{
						StoryID:   sess.StoryID,
						SessionID: sess.SessionID,
						AgentID:   c.cfg.AgentID,
					})
					select {
					case internal <- dialResult{call: call, err: err}:
					case <-ctx.Done():
						if call != nil {
							_ = call.Close()
						}
					}
				}()

			case protocol.ActionEndCall:
				if state != StateActive {
					c.sendInvalidAction(outbound, sess.SessionID, ctl.Action, state)
					continue
				}
				beginEnding(true)

			case protocol.ActionCancel:
				if state == StateActive {
					// An active call needs an explicit end first.
					c.send(outbound, protocol.ErrorEvent{
						Type:      protocol.TypeErrorEvent,
						SessionID: sess.SessionID,
						Code:      "end_call_required",
						Source:    "controller",
						Retryable: false,
						Detail:    "end the call before cancelling",
					})
					continue
				}
				teardown()
				setState(StateIdle, "", "", false)
				return nil

			case protocol.ActionRetry:
				if state != StateFailed {
					c.sendInvalidAction(outbound, sess.SessionID, ctl.Action, state)
					continue
				}
				// A retry is a fresh attempt, not a resume: clear the old
				// chunk history and start over from permissions.
				if err := c.store.ResetRecording(ctx, sess.StoryID, sess.SessionID); err != nil {
					c.logger.Warn("reset recording failed", append(logFields, zap.Error(err))...)
				}
				stream = nil
				recorder = nil
				beginAttempt()

			default:
				// Permission results are consumed by the device source.
			}

		case ev, ok := <-transportEvents:
			if !ok {
				transportEvents = nil
				if state == StateConnecting || state == StateActive {
					fail(ReasonTransportError, "call transport connection lost", true, nil)
				}
				continue
			}
			switch ev.Type {
			case protocol.TransportCallStarted:
				if state != StateConnecting {
					continue
				}
				stopConnectTimer()
				if c.metrics != nil {
					c.metrics.ObserveStage("call_connect", time.Since(dialStartedAt))
				}
				now := time.Now().UTC()
				if err := c.store.MarkStarted(ctx, sess.StoryID, sess.SessionID, now); err != nil {
					c.logger.Warn("persist start time failed", append(logFields, zap.Error(err))...)
				}
				setState(StateActive, "", "", false)
				recorder = capture.NewRecorder(
					stream.Video(), c.uploader, c.cfg.CaptureInterval,
					sess.StoryID, sess.SessionID, chunkSink, c.logger, c.metrics,
				)
				recorder.Start(ctx)

			case protocol.TransportAgentStartTalking, protocol.TransportAgentStopTalking:
				c.send(outbound, protocol.AgentTalking{
					Type:    protocol.TypeAgentTalking,
					Talking: ev.Type == protocol.TransportAgentStartTalking,
				})

			case protocol.TransportCallEnded:
				switch state {
				case StateActive:
					beginEnding(false)
				case StateConnecting:
					fail(ReasonTransportError, "call ended before it started", true, nil)
				}
				// Ignore while Ending: this is the echo of our own hangup.

			case protocol.TransportError:
				if state == StateEnding || state == StateAwaitingProcessing {
					continue
				}
				fail(ReasonTransportError, ev.Detail,
					reliability.IsRetryableProviderCode(ev.Code), nil)
			}

		case <-connectC:
			if state != StateConnecting {
				continue
			}
			connectTimer = nil
			connectC = nil
			closeCall()
			fail(ReasonConnectionTimeout, "no call confirmation from provider", true, nil)

		case m := <-internal:
			switch r := m.(type) {
			case permissionResult:
				if state != StateRequestingPermissions {
					if r.stream != nil {
						r.stream.Release()
					}
					continue
				}
				if r.err != nil {
					fail(ReasonPermissionDenied, "camera and microphone access is required", false, r.err)
					continue
				}
				stream = r.stream
				setState(StateReady, "", "", false)

			case dialResult:
				if state != StateConnecting {
					if r.call != nil {
						_ = r.call.Close()
					}
					continue
				}
				if r.err != nil {
					stopConnectTimer()
					fail(ReasonTransportError, "could not reach call provider", true, r.err)
					continue
				}
				activeCall = r.call
				transportEvents = r.call.Events()

			case chunkUploaded:
				c.send(outbound, protocol.ChunkSaved{
					Type:  protocol.TypeChunkSaved,
					Seq:   r.ref.Seq,
					URL:   r.ref.URL,
					Final: r.final,
				})

			case finalized:
				if state != StateEnding {
					continue
				}
				closeCall()
				if r.err != nil {
					fail(ReasonFinalUploadError, "saving the recording failed", true, r.err)
					continue
				}
				setState(StateAwaitingProcessing, "", "", false)
				poller = NewPoller(c.store, c.cfg.PollInterval, c.logger, c.metrics)
				poller.Start(ctx, sess.StoryID, sess.SessionID,
					func(p float64) {
						select {
						case internal <- pollProgress{progress: p}:
						default:
						}
					},
					func() {
						select {
						case internal <- pollComplete{}:
						case <-ctx.Done():
						}
					},
				)

			case pollProgress:
				c.send(outbound, protocol.ProcessingProgress{
					Type:     protocol.TypeProcessingProgress,
					Progress: r.progress,
				})

			case pollComplete:
				if state != StateAwaitingProcessing {
					continue
				}
				poller = nil
				if c.metrics != nil && !endedAt.IsZero() {
					c.metrics.ObserveProcessingWait(time.Since(endedAt))
				}
				c.send(outbound, protocol.ProcessingProgress{
					Type:     protocol.TypeProcessingProgress,
					Progress: 1,
				})
				setState(StateComplete, "", "", false)
				return nil
			}
		}
	}
}

// send keeps state machine progress independent of a slow client: messages
// are dropped when the outbound queue is saturated.
func (c *Controller) send(outbound chan<- any, msg any) {
	select {
	case outbound <- msg:
	default:
	}
}

func (c *Controller) sendInvalidAction(outbound chan<- any, sessionID, action string, state State) {
	c.send(outbound, protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      "invalid_action",
		Source:    "controller",
		Retryable: false,
		Detail:    "action " + action + " not valid in state " + string(state),
	})
}
