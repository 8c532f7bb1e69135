// Command perfcall replays a synthetic recorded call against a running
// service instance and reports end-to-end stage latencies. It drives the full
// client protocol: session create, permission grant, call start, paced video
// chunks, call end, simulated pipeline completion, processing wait.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Chirraag/talkmybio-fv3/internal/protocol"
	"github.com/Chirraag/talkmybio-fv3/internal/reliability"
)

type options struct {
	baseURL       string
	storyID       string
	callDuration  time.Duration
	chunkInterval time.Duration
	chunkBytes    int
	pipelineDelay time.Duration
	timeout       time.Duration
	verbose       bool
}

type sessionResponse struct {
	StoryID   string `json:"story_id"`
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

type wsEnvelope struct {
	Type     string  `json:"type"`
	State    string  `json:"state"`
	Reason   string  `json:"reason,omitempty"`
	Detail   string  `json:"detail,omitempty"`
	Seq      int     `json:"seq,omitempty"`
	URL      string  `json:"url,omitempty"`
	Final    bool    `json:"final,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Code     string  `json:"code,omitempty"`
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "perfcall: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "perfcall: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var callSec, pipelineSec, timeoutSec int
	var chunkMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "service base URL")
	flag.StringVar(&cfg.storyID, "story-id", "perf-replay", "story id used for the synthetic session")
	flag.IntVar(&callSec, "call-sec", 17, "active call duration in seconds")
	flag.IntVar(&chunkMS, "chunk-ms", 500, "client video chunk pacing in milliseconds")
	flag.IntVar(&cfg.chunkBytes, "chunk-bytes", 8192, "synthetic video bytes per client chunk")
	flag.IntVar(&pipelineSec, "pipeline-sec", 4, "simulated pipeline delay before marking processed")
	flag.IntVar(&timeoutSec, "timeout-sec", 180, "overall replay timeout in seconds")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if strings.TrimSpace(cfg.storyID) == "" {
		return options{}, fmt.Errorf("story-id is required")
	}
	if callSec <= 0 {
		return options{}, fmt.Errorf("call-sec must be > 0")
	}
	if chunkMS < 20 || chunkMS > 10000 {
		return options{}, fmt.Errorf("chunk-ms must be in [20,10000]")
	}
	if cfg.chunkBytes <= 0 || cfg.chunkBytes > 4<<20 {
		return options{}, fmt.Errorf("chunk-bytes must be in (0,4MiB]")
	}
	if pipelineSec < 0 {
		pipelineSec = 0
	}
	if timeoutSec < 10 {
		timeoutSec = 10
	}
	cfg.callDuration = time.Duration(callSec) * time.Second
	cfg.chunkInterval = time.Duration(chunkMS) * time.Millisecond
	cfg.pipelineDelay = time.Duration(pipelineSec) * time.Second
	cfg.timeout = time.Duration(timeoutSec) * time.Second
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}
	sess, err := createSession(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if cfg.verbose {
		fmt.Printf("perfcall: story=%s session=%s call=%s chunk=%s\n",
			sess.StoryID, sess.SessionID, cfg.callDuration, cfg.chunkInterval)
	}

	wsURL, err := callWSURL(cfg.baseURL, sess.StoryID, sess.SessionID)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial call ws: %w", err)
	}
	defer conn.Close()

	sendControl := func(action string) error {
		return conn.WriteJSON(protocol.ClientControl{
			Type:      protocol.TypeClientControl,
			SessionID: sess.SessionID,
			Action:    action,
		})
	}

	chunkCtx, stopChunks := context.WithCancel(ctx)
	defer stopChunks()

	started := time.Now()
	var endTimer *time.Timer
	chunks := 0
	finalSeen := false

	for {
		_ = conn.SetReadDeadline(time.Now().Add(cfg.timeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read ws: %w", err)
		}
		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}

		switch protocol.MessageType(env.Type) {
		case protocol.TypePermissionRequest:
			if err := sendControl(protocol.ActionPermissionGranted); err != nil {
				return fmt.Errorf("grant permission: %w", err)
			}

		case protocol.TypeCallState:
			if cfg.verbose {
				fmt.Printf("perfcall: state=%s reason=%s elapsed=%s\n", env.State, env.Reason, time.Since(started).Round(time.Millisecond))
			}
			switch env.State {
			case "ready":
				if err := sendControl(protocol.ActionStartCall); err != nil {
					return fmt.Errorf("start call: %w", err)
				}
			case "active":
				go streamChunks(chunkCtx, conn, sess.SessionID, cfg)
				endTimer = time.AfterFunc(cfg.callDuration, func() {
					stopChunks()
					_ = sendControl(protocol.ActionEndCall)
				})
			case "awaiting_processing":
				go func() {
					time.Sleep(cfg.pipelineDelay)
					if err := markProcessed(ctx, httpClient, cfg.baseURL, sess.StoryID, sess.SessionID); err != nil {
						fmt.Fprintf(os.Stderr, "perfcall: mark processed: %v\n", err)
					}
				}()
			case "complete":
				if endTimer != nil {
					endTimer.Stop()
				}
				if cfg.verbose {
					fmt.Printf("perfcall: done chunks_acked=%d final=%v total=%s\n", chunks, finalSeen, time.Since(started).Round(time.Millisecond))
				}
				return printLatency(ctx, httpClient, cfg.baseURL)
			case "failed":
				return fmt.Errorf("call failed: reason=%s detail=%s", env.Reason, env.Detail)
			}

		case protocol.TypeChunkSaved:
			chunks++
			if env.Final {
				finalSeen = true
			}

		case protocol.TypeErrorEvent:
			if cfg.verbose {
				fmt.Printf("perfcall: error event code=%s detail=%s\n", env.Code, env.Detail)
			}
		}
	}
}

// streamChunks paces synthetic encoded-video bytes the way a browser capture
// loop would. Writes race the main read loop's control writes, so each one
// goes through the connection's write lock via WriteJSON on the same conn;
// gorilla permits one concurrent reader and one concurrent writer, and the
// main loop only writes in response to reads, so pacing keeps them disjoint.
func streamChunks(ctx context.Context, conn *websocket.Conn, sessionID string, cfg options) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(cfg.chunkInterval)
	defer ticker.Stop()
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload := make([]byte, cfg.chunkBytes)
			rng.Read(payload)
			msg := protocol.ClientVideoChunk{
				Type:        protocol.TypeClientVideoChunk,
				SessionID:   sessionID,
				Seq:         seq,
				VideoBase64: base64.StdEncoding.EncodeToString(payload),
				TSMs:        time.Now().UnixMilli(),
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			seq++
		}
	}
}

// createSession retries transient statuses so a replay can start while the
// service is still warming up.
func createSession(ctx context.Context, client *http.Client, cfg options) (sessionResponse, error) {
	endpoint := fmt.Sprintf("%s/v1/stories/%s/sessions", cfg.baseURL, url.PathEscape(cfg.storyID))
	const attempts = 4
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
		if err != nil {
			return sessionResponse{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return sessionResponse{}, err
		}
		if resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK {
			var out sessionResponse
			err := json.NewDecoder(resp.Body).Decode(&out)
			resp.Body.Close()
			if err != nil {
				return sessionResponse{}, err
			}
			if out.SessionID == "" {
				return sessionResponse{}, fmt.Errorf("response missing session_id")
			}
			return out, nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		if attempt+1 >= attempts || !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return sessionResponse{}, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		select {
		case <-ctx.Done():
			return sessionResponse{}, ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, 250*time.Millisecond, 2*time.Second)):
		}
	}
}

func markProcessed(ctx context.Context, client *http.Client, baseURL, storyID, sessionID string) error {
	endpoint := fmt.Sprintf("%s/v1/stories/%s/sessions/%s/processed",
		baseURL, url.PathEscape(storyID), url.PathEscape(sessionID))
	body := []byte(`{"transcript":"synthetic perf replay transcript"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func printLatency(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/perf/latency", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	fmt.Printf("perfcall: latency snapshot:\n%s\n", strings.TrimSpace(string(body)))
	return nil
}

func callWSURL(baseURL, storyID, sessionID string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/call/ws"
	q := u.Query()
	q.Set("story_id", storyID)
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
