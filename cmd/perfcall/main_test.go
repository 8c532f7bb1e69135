package main

import (
	"encoding/json"
	"testing"
)

func TestCallWSURL(t *testing.T) {
	got, err := callWSURL("https://record.example.com/api", "s 1", "sess-9")
	if err != nil {
		t.Fatalf("callWSURL() error = %v", err)
	}
	want := "wss://record.example.com/api/v1/call/ws?session_id=sess-9&story_id=s+1"
	if got != want {
		t.Fatalf("callWSURL() = %q, want %q", got, want)
	}

	if _, err := callWSURL("ftp://x", "a", "b"); err == nil {
		t.Fatalf("callWSURL() expected error for unsupported scheme")
	}
}

func TestWSEnvelopeDecodesCallState(t *testing.T) {
	raw := []byte(`{"type":"call_state","story_id":"s1","state":"failed","reason":"transport_error","detail":"boom"}`)
	var env wsEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if env.Type != "call_state" || env.State != "failed" || env.Reason != "transport_error" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}
