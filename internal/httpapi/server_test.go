package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Chirraag/talkmybio-fv3/internal/config"
	"github.com/Chirraag/talkmybio-fv3/internal/observability"
	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
	"github.com/Chirraag/talkmybio-fv3/internal/session"
	"github.com/Chirraag/talkmybio-fv3/internal/storage"
	"github.com/Chirraag/talkmybio-fv3/internal/transport"
)

func newTestServer(t *testing.T, namespace string) (*httptest.Server, session.Store, *storage.InMemoryUploader) {
	t.Helper()
	cfg := config.Config{
		AllowAnyOrigin:  true,
		ConnectTimeout:  2 * time.Second,
		CaptureInterval: 20 * time.Millisecond,
		PollInterval:    15 * time.Millisecond,
		DriftTolerance:  100 * time.Millisecond,
		CallProvider:    "mock",
	}
	store := session.NewInMemoryStore()
	uploader := storage.NewInMemoryUploader()
	dialer := &transport.MockDialer{
		StartDelay:   20 * time.Millisecond,
		CallDuration: 10 * time.Second,
		TalkPeriod:   50 * time.Millisecond,
	}
	metrics := observability.NewMetrics("test_httpapi_" + namespace + "_" + time.Now().Format("150405") + "_" + time.Now().Format("000000000"))
	srv := New(cfg, store, uploader, dialer, nil, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store, uploader
}

func createTestSession(t *testing.T, ts *httptest.Server, storyID string) map[string]any {
	t.Helper()
	res, err := http.Post(ts.URL+"/v1/stories/"+storyID+"/sessions", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return created
}

func TestCreateGetAndProcessSession(t *testing.T) {
	ts, _, _ := newTestServer(t, "sessions")

	created := createTestSession(t, ts, "story-1")
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}

	// Continuing the same story returns the existing record.
	body, _ := json.Marshal(map[string]string{"session_id": sessionID})
	res, err := http.Post(ts.URL+"/v1/stories/story-1/sessions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("continue request error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("continue status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	procBody := []byte(`{"transcript":"a life story","audio_url":"https://cdn/audio.m4a"}`)
	procRes, err := http.Post(ts.URL+"/v1/stories/story-1/sessions/"+sessionID+"/processed", "application/json", bytes.NewReader(procBody))
	if err != nil {
		t.Fatalf("processed request error = %v", err)
	}
	procRes.Body.Close()
	if procRes.StatusCode != http.StatusOK {
		t.Fatalf("processed status = %d, want %d", procRes.StatusCode, http.StatusOK)
	}

	getRes, err := http.Get(ts.URL + "/v1/stories/story-1/sessions/" + sessionID)
	if err != nil {
		t.Fatalf("get session request error = %v", err)
	}
	defer getRes.Body.Close()
	var got map[string]any
	if err := json.NewDecoder(getRes.Body).Decode(&got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got["updated"] != true {
		t.Fatalf("updated = %v, want true", got["updated"])
	}
	if got["transcript"] != "a life story" {
		t.Fatalf("transcript = %v", got["transcript"])
	}
	if got["audio_url"] != "https://cdn/audio.m4a" {
		t.Fatalf("audio_url = %v", got["audio_url"])
	}
}

func TestGetSessionNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t, "notfound")

	res, err := http.Get(ts.URL + "/v1/stories/story-1/sessions/nope")
	if err != nil {
		t.Fatalf("get request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestHealthAndPerfEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t, "health")

	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency", "/metrics"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestPlaybackWSSyncsSlaveAudio(t *testing.T) {
	ts, _, _ := newTestServer(t, "playbackws")

	created := createTestSession(t, ts, "story-pb")
	sessionID := created["session_id"].(string)

	procBody := []byte(`{"transcript":"t","audio_url":"https://cdn/a.m4a"}`)
	res, err := http.Post(ts.URL+"/v1/stories/story-pb/sessions/"+sessionID+"/processed", "application/json", bytes.NewReader(procBody))
	if err != nil {
		t.Fatalf("processed request error = %v", err)
	}
	res.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/playback/ws?story_id=story-pb&session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws error = %v", err)
	}
	defer conn.Close()

	err = conn.WriteJSON(protocol.PlaybackMasterEvent{
		Type:       protocol.TypePlaybackMasterEvent,
		SessionID:  sessionID,
		Event:      protocol.MasterPlay,
		PositionMS: 1000,
	})
	if err != nil {
		t.Fatalf("write master event error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var seek protocol.PlaybackSync
	if err := conn.ReadJSON(&seek); err != nil {
		t.Fatalf("read seek error = %v", err)
	}
	if seek.Command != protocol.SyncSeek || seek.PositionMS != 1000 {
		t.Fatalf("first command = %+v, want seek to 1000", seek)
	}
	var play protocol.PlaybackSync
	if err := conn.ReadJSON(&play); err != nil {
		t.Fatalf("read play error = %v", err)
	}
	if play.Command != protocol.SyncPlay {
		t.Fatalf("second command = %+v, want play", play)
	}
}

func TestPlaybackWSInertWithoutAudio(t *testing.T) {
	ts, _, _ := newTestServer(t, "playbackinert")

	created := createTestSession(t, ts, "story-na")
	sessionID := created["session_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/playback/ws?story_id=story-na&session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws error = %v", err)
	}
	defer conn.Close()

	// Master events produce no sync commands when there is no audio track;
	// the mute echo is the next thing on the wire.
	err = conn.WriteJSON(protocol.PlaybackMasterEvent{
		Type:       protocol.TypePlaybackMasterEvent,
		SessionID:  sessionID,
		Event:      protocol.MasterPlay,
		PositionMS: 500,
	})
	if err != nil {
		t.Fatalf("write master event error = %v", err)
	}
	err = conn.WriteJSON(protocol.PlaybackSetMuted{
		Type:      protocol.TypePlaybackSetMuted,
		SessionID: sessionID,
		Muted:     true,
	})
	if err != nil {
		t.Fatalf("write set_muted error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env struct {
		Type  string `json:"type"`
		Muted bool   `json:"muted"`
	}
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read error = %v", err)
	}
	if protocol.MessageType(env.Type) != protocol.TypePlaybackSetMuted || !env.Muted {
		t.Fatalf("first message = %+v, want muted echo", env)
	}
}

// TestCallWSFullSession drives the whole recording protocol over a real
// websocket against the mock calling provider.
func TestCallWSFullSession(t *testing.T) {
	ts, store, uploader := newTestServer(t, "callws")

	created := createTestSession(t, ts, "story-ws")
	sessionID := created["session_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/call/ws?story_id=story-ws&session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws error = %v", err)
	}
	defer conn.Close()

	sendControl := func(action string) {
		t.Helper()
		err := conn.WriteJSON(protocol.ClientControl{
			Type:      protocol.TypeClientControl,
			SessionID: sessionID,
			Action:    action,
		})
		if err != nil {
			t.Fatalf("write %s error = %v", action, err)
		}
	}

	sendVideo := func(seq int, payload string) {
		t.Helper()
		err := conn.WriteJSON(protocol.ClientVideoChunk{
			Type:        protocol.TypeClientVideoChunk,
			SessionID:   sessionID,
			Seq:         seq,
			VideoBase64: base64.StdEncoding.EncodeToString([]byte(payload)),
			TSMs:        time.Now().UnixMilli(),
		})
		if err != nil {
			t.Fatalf("write video chunk error = %v", err)
		}
	}

	deadline := time.Now().Add(10 * time.Second)
	videoSeq := 0
	sawChunkAck := false
	for {
		_ = conn.SetReadDeadline(deadline)
		var env struct {
			Type  string `json:"type"`
			State string `json:"state"`
			Final bool   `json:"final"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read ws error = %v", err)
		}

		switch protocol.MessageType(env.Type) {
		case protocol.TypePermissionRequest:
			sendControl(protocol.ActionPermissionGranted)
		case protocol.TypeChunkSaved:
			sawChunkAck = true
		case protocol.TypeCallState:
			switch env.State {
			case "ready":
				sendControl(protocol.ActionStartCall)
			case "active":
				sendVideo(videoSeq, "segment-a")
				videoSeq++
				go func() {
					// Let a couple of capture ticks elapse before ending.
					time.Sleep(60 * time.Millisecond)
					_ = conn.WriteJSON(protocol.ClientControl{
						Type:      protocol.TypeClientControl,
						SessionID: sessionID,
						Action:    protocol.ActionEndCall,
					})
				}()
			case "awaiting_processing":
				procURL := ts.URL + "/v1/stories/story-ws/sessions/" + sessionID + "/processed"
				res, err := http.Post(procURL, "application/json", bytes.NewReader([]byte(`{"transcript":"t"}`)))
				if err != nil {
					t.Fatalf("processed request error = %v", err)
				}
				res.Body.Close()
			case "complete":
				if !sawChunkAck {
					t.Fatalf("no chunk_saved messages before completion")
				}
				if uploader.Count() == 0 {
					t.Fatalf("no blobs uploaded")
				}
				got, err := store.Get(context.Background(), "story-ws", sessionID)
				if err != nil {
					t.Fatalf("Get() error = %v", err)
				}
				if !got.VideoComplete || got.VideoURL == "" {
					t.Fatalf("final recording not persisted: %+v", got)
				}
				return
			case "failed":
				t.Fatalf("call failed unexpectedly")
			}
		}
	}
}

// TestCallWSClosesAfterControllerExit keeps writing control messages after
// the session was cancelled. Nothing drains inbound once the controller has
// returned, so the gateway must drop the connection rather than let the
// unread backlog wedge its read loop.
func TestCallWSClosesAfterControllerExit(t *testing.T) {
	ts, _, _ := newTestServer(t, "callwsdrain")

	created := createTestSession(t, ts, "story-drain")
	sessionID := created["session_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/call/ws?story_id=story-drain&session_id=" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws error = %v", err)
	}
	defer conn.Close()

	sendControl := func(action string) error {
		return conn.WriteJSON(protocol.ClientControl{
			Type:      protocol.TypeClientControl,
			SessionID: sessionID,
			Action:    action,
		})
	}

	// Walk to ready, then cancel so the session controller returns.
	deadline := time.Now().Add(5 * time.Second)
	for done := false; !done; {
		_ = conn.SetReadDeadline(deadline)
		var env struct {
			Type  string `json:"type"`
			State string `json:"state"`
		}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read ws error = %v", err)
		}
		switch protocol.MessageType(env.Type) {
		case protocol.TypePermissionRequest:
			if err := sendControl(protocol.ActionPermissionGranted); err != nil {
				t.Fatalf("write permission_granted error = %v", err)
			}
		case protocol.TypeCallState:
			switch env.State {
			case "ready":
				if err := sendControl(protocol.ActionCancel); err != nil {
					t.Fatalf("write cancel error = %v", err)
				}
			case "idle":
				done = true
			}
		}
	}

	// Far more messages than the inbound buffer holds. Writes start failing
	// once the server tears the connection down; that is the point.
	for i := 0; i < 400; i++ {
		if sendControl(protocol.ActionStartCall) != nil {
			break
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				t.Fatalf("connection still open after session ended")
			}
			return
		}
	}
}
