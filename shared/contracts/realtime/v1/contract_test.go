package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelope_MarshalFlattensPayload(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env, err := New("case.assigned", "01J0000000000000000000000A", ts, map[string]any{
		"case_id": "c-1",
		"type":    "ignored",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got["type"] != "case.assigned" {
		t.Fatalf("type=%v want case.assigned", got["type"])
	}
	if got["case_id"] != "c-1" {
		t.Fatalf("case_id=%v want c-1", got["case_id"])
	}
	if got["ts"] != "2026-03-01T12:00:00Z" {
		t.Fatalf("ts=%v", got["ts"])
	}
	if _, ok := got["payload"]; ok {
		t.Fatalf("payload must be flattened, got %s", b)
	}
}

func TestEnvelope_UnmarshalSplitsReservedKeys(t *testing.T) {
	t.Parallel()

	var env Envelope
	if err := json.Unmarshal([]byte(`{"type":"subscribe","channels":["cases"]}`), &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if env.Type != TypeSubscribe {
		t.Fatalf("type=%q", env.Type)
	}
	if !env.TS.IsZero() {
		t.Fatalf("expected zero ts for client message")
	}

	var p SubscribePayload
	if err := env.Decode(&p); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.Channels) != 1 || p.Channels[0] != "cases" {
		t.Fatalf("channels=%v", p.Channels)
	}
}

func TestEnvelope_Validate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "ok", env: Envelope{Type: TypePing}},
		{name: "missing type", env: Envelope{}, wantErr: true},
		{name: "long type", env: Envelope{Type: string(make([]byte, MaxTypeLen+1))}, wantErr: true},
	}

	for _, tc := range cases {
		err := tc.env.Validate()
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: err=%v wantErr=%v", tc.name, err, tc.wantErr)
		}
	}
}

func TestEnvelope_RejectsNonObject(t *testing.T) {
	t.Parallel()

	var env Envelope
	if err := json.Unmarshal([]byte(`["ping"]`), &env); err == nil {
		t.Fatalf("expected error for array envelope")
	}
	if _, err := json.Marshal(Envelope{Type: "x", Payload: json.RawMessage(`[1,2]`)}); err == nil {
		t.Fatalf("expected error for non-object payload")
	}
}
