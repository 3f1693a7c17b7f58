// Package v1 defines the assist realtime wire contract.
//
// An envelope is a flat JSON object: a "type" tag, an optional "id" and "ts",
// and the payload fields next to them. Server pushes always carry "ts".
package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Subprotocol is offered during the websocket upgrade. Clients may omit it.
const Subprotocol = "assist.realtime.v1"

// MaxTypeLen bounds the type tag accepted from clients.
const MaxTypeLen = 64

var reservedKeys = [...]string{"type", "id", "ts"}

// Envelope is one realtime message.
// Payload must be a JSON object (or empty); its fields are flattened on the wire.
type Envelope struct {
	Type    string
	ID      string
	TS      time.Time
	Payload json.RawMessage
}

// New builds an envelope with payload marshaled from v.
func New(typ, id string, ts time.Time, v any) (Envelope, error) {
	env := Envelope{Type: typ, ID: id, TS: ts}
	if v == nil {
		return env, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = b
	return env, nil
}

// Validate checks the minimal shape required for dispatch.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return errors.New("missing type")
	}
	if len(e.Type) > MaxTypeLen {
		return fmt.Errorf("type too long: max=%d", MaxTypeLen)
	}
	return nil
}

// Decode unmarshals the payload fields into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), dst)
	}
	return json.Unmarshal(e.Payload, dst)
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage)

	p := bytes.TrimSpace(e.Payload)
	if len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		if err := json.Unmarshal(p, &fields); err != nil {
			return nil, fmt.Errorf("payload must be a JSON object: %w", err)
		}
	}
	for _, k := range reservedKeys {
		delete(fields, k)
	}

	typ, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	fields["type"] = typ

	if e.ID != "" {
		id, err := json.Marshal(e.ID)
		if err != nil {
			return nil, err
		}
		fields["id"] = id
	}
	if !e.TS.IsZero() {
		ts, err := json.Marshal(e.TS.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return nil, err
		}
		fields["ts"] = ts
	}

	return json.Marshal(fields)
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("envelope must be a JSON object")
	}

	var out Envelope
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &out.Type); err != nil {
			return fmt.Errorf("type: %w", err)
		}
	}
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &out.ID); err != nil {
			return fmt.Errorf("id: %w", err)
		}
	}
	if raw, ok := fields["ts"]; ok {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("ts: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("ts: %w", err)
		}
		out.TS = ts
	}

	for _, k := range reservedKeys {
		delete(fields, k)
	}
	if len(fields) > 0 {
		b, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		out.Payload = b
	}

	*e = out
	return nil
}
