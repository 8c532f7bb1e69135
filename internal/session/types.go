package session

import "time"

// ChunkRef records one uploaded recording chunk. A non-final chunk holds the
// cumulative recording from session start through its tick, so every URL is
// independently playable.
type ChunkRef struct {
	Seq        int       `json:"seq"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// CallSession is the persisted record of one recorded call attempt, keyed by
// (story, session). It is mutated by the recorder (chunk URLs), the controller
// (state), and the external story pipeline (transcript, updated flag). It is
// never deleted by this core.
type CallSession struct {
	StoryID   string    `json:"story_id"`
	SessionID string    `json:"session_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at,omitzero"`

	Chunks        []ChunkRef `json:"chunks"`
	VideoURL      string     `json:"video_url,omitempty"`
	VideoComplete bool       `json:"video_complete"`

	// AudioURL is written by the separately managed high-fidelity audio
	// capture pipeline; this core only reads it at playback time.
	AudioURL string `json:"audio_url,omitempty"`

	// Transcript is opaque here; Updated is the completion flag set by the
	// external story-generation pipeline.
	Transcript string `json:"transcript,omitempty"`
	Updated    bool   `json:"updated"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest defines payload for opening a call session.
type CreateRequest struct {
	StoryID string `json:"story_id"`
	// SessionID reuses an existing record when continuing a story; empty
	// means a new session.
	SessionID string `json:"session_id"`
}
