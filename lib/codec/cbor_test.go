// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

// sampleFrame is a representative socket envelope using cbor struct
// tags (the convention for purely-internal types).
type sampleFrame struct {
	Action string `cbor:"action"`
	Agent  string `cbor:"agent,omitempty"`
	Seq    int64  `cbor:"seq"`
}

// sampleDual uses json struct tags (the convention for types that
// serve both JSON and CBOR, relying on fxamacker's fallback).
type sampleDual struct {
	Subject   string    `json:"subject"`
	CreatedAt time.Time `json:"created_at"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleFrame{
		Action: "message.send",
		Agent:  "triage-bot",
		Seq:    42,
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Marshal produced empty output")
	}

	var decoded sampleFrame
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	frame := sampleFrame{
		Action: "inbox.fetch",
		Agent:  "planner",
		Seq:    7,
	}

	first, err := Marshal(frame)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	second, err := Marshal(frame)
	if err != nil {
		t.Fatalf("second Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding violated: %x != %x", first, second)
	}
}

func TestTimeRoundTripKeepsSubsecondPrecision(t *testing.T) {
	original := sampleDual{
		Subject:   "plan review",
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC),
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleDual
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !decoded.CreatedAt.Equal(original.CreatedAt) {
		t.Errorf("timestamp changed in roundtrip: got %v, want %v",
			decoded.CreatedAt, original.CreatedAt)
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	frames := []sampleFrame{
		{Action: "message.send", Agent: "builder", Seq: 1},
		{Action: "message.ack", Agent: "reviewer", Seq: 2},
		{Action: "inbox.check", Seq: 0},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, frame := range frames {
		if err := encoder.Encode(frame); err != nil {
			t.Fatalf("Encode %+v: %v", frame, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range frames {
		var got sampleFrame
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode frame %d: %v", i, err)
		}
		if got != want {
			t.Errorf("frame %d: got %+v, want %+v", i, got, want)
		}
	}
}

func TestDecodeIntoAnyUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{
		"subject": "standup",
		"nested":  map[string]any{"importance": "high"},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type is %T, want map[string]any", decoded)
	}
	nested, ok := top["nested"].(map[string]any)
	if !ok {
		t.Fatalf("nested type is %T, want map[string]any", top["nested"])
	}
	if got, want := nested["importance"], "high"; got != want {
		t.Errorf("nested value: got %v, want %v", got, want)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{
		"action":  "message.send",
		"seq":     int64(3),
		"novelty": "from a newer client",
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleFrame
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Action != "message.send" || decoded.Seq != 3 {
		t.Errorf("decoded = %+v, want action message.send seq 3", decoded)
	}
}
