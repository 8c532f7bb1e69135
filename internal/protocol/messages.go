package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl    MessageType = "client_control"
	TypeClientVideoChunk MessageType = "client_video_chunk"

	TypeCallState          MessageType = "call_state"
	TypePermissionRequest  MessageType = "permission_request"
	TypeCaptureRelease     MessageType = "capture_release"
	TypeAgentTalking       MessageType = "agent_talking"
	TypeChunkSaved         MessageType = "chunk_saved"
	TypeProcessingProgress MessageType = "processing_progress"
	TypeErrorEvent         MessageType = "error_event"

	TypePlaybackMasterEvent MessageType = "playback_master_event"
	TypePlaybackSetMuted    MessageType = "playback_set_muted"
	TypePlaybackSync        MessageType = "playback_sync"
)

// Client control actions accepted on the call websocket.
const (
	ActionPermissionGranted = "permission_granted"
	ActionPermissionDenied  = "permission_denied"
	ActionStartCall         = "start_call"
	ActionEndCall           = "end_call"
	ActionCancel            = "cancel"
	ActionRetry             = "retry"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientControl drives the call lifecycle from the client side.
type ClientControl struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Action    string      `json:"action"`
}

// ClientVideoChunk carries encoded video bytes captured by the client since the
// previous chunk. The recorder accumulates these into timed segments.
type ClientVideoChunk struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Seq         int         `json:"seq"`
	VideoBase64 string      `json:"video_base64"`
	TSMs        int64       `json:"ts_ms"`
}

// CallState announces a lifecycle transition to the client.
type CallState struct {
	Type      MessageType `json:"type"`
	StoryID   string      `json:"story_id"`
	State     string      `json:"state"`
	Reason    string      `json:"reason,omitempty"`
	Detail    string      `json:"detail,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// PermissionRequest asks the client to prompt for microphone+camera access.
type PermissionRequest struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// CaptureRelease tells the client to stop its capture devices; the recording
// side no longer needs the stream.
type CaptureRelease struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

// AgentTalking reports interviewer speaking activity for UI feedback.
type AgentTalking struct {
	Type    MessageType `json:"type"`
	Talking bool        `json:"talking"`
}

// ChunkSaved confirms an uploaded recording chunk.
type ChunkSaved struct {
	Type  MessageType `json:"type"`
	Seq   int         `json:"seq"`
	URL   string      `json:"url"`
	Final bool        `json:"final"`
}

// ProcessingProgress carries the bounded synthetic estimate while waiting for
// the external pipeline. Progress reaches 1.0 only on completion.
type ProcessingProgress struct {
	Type     MessageType `json:"type"`
	Progress float64     `json:"progress"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Source    string      `json:"source"`
	Retryable bool        `json:"retryable"`
	Detail    string      `json:"detail"`
}

// TransportEventType enumerates events emitted by the calling-transport SDK.
type TransportEventType string

const (
	TransportCallStarted       TransportEventType = "call_started"
	TransportCallEnded         TransportEventType = "call_ended"
	TransportAgentStartTalking TransportEventType = "agent_start_talking"
	TransportAgentStopTalking  TransportEventType = "agent_stop_talking"
	TransportError             TransportEventType = "error"
)

// TransportEvent is the typed form of a calling-SDK callback, consumed by the
// call state machine instead of registered handlers.
type TransportEvent struct {
	Type   TransportEventType `json:"type"`
	CallID string             `json:"call_id,omitempty"`
	Code   string             `json:"code,omitempty"`
	Detail string             `json:"detail,omitempty"`
}

// Playback master event names, mirroring media element events.
const (
	MasterPlay       = "play"
	MasterPause      = "pause"
	MasterEnded      = "ended"
	MasterTimeUpdate = "timeupdate"
)

// PlaybackMasterEvent reports the master (video) element's activity.
type PlaybackMasterEvent struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Event      string      `json:"event"`
	PositionMS int64       `json:"position_ms"`
}

// PlaybackSetMuted toggles the slave audio without touching the master.
type PlaybackSetMuted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Muted     bool        `json:"muted"`
}

// Playback sync commands issued to the slave audio element.
const (
	SyncSeek  = "seek"
	SyncPlay  = "play"
	SyncPause = "pause"
)

// PlaybackSync instructs the client to apply a command to the slave audio element.
type PlaybackSync struct {
	Type       MessageType `json:"type"`
	SessionID  string      `json:"session_id"`
	Command    string      `json:"command"`
	PositionMS int64       `json:"position_ms,omitempty"`
}

// ParseClientMessage decodes and validates a call-websocket client payload.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		switch msg.Action {
		case ActionPermissionGranted, ActionPermissionDenied, ActionStartCall,
			ActionEndCall, ActionCancel, ActionRetry:
		default:
			return nil, fmt.Errorf("unknown control action %q", msg.Action)
		}
		return msg, nil
	case TypeClientVideoChunk:
		var msg ClientVideoChunk
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || msg.VideoBase64 == "" || msg.Seq < 0 {
			return nil, errors.New("invalid client_video_chunk")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// ParsePlaybackMessage decodes and validates a playback-websocket client payload.
func ParsePlaybackMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypePlaybackMasterEvent:
		var msg PlaybackMasterEvent
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Event {
		case MasterPlay, MasterPause, MasterEnded, MasterTimeUpdate:
		default:
			return nil, fmt.Errorf("unknown master event %q", msg.Event)
		}
		if msg.SessionID == "" || msg.PositionMS < 0 {
			return nil, errors.New("invalid playback_master_event")
		}
		return msg, nil
	case TypePlaybackSetMuted:
		var msg PlaybackSetMuted
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid playback_set_muted")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
