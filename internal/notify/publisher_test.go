package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestPublish_NilPublisherAndClientAreSafe(t *testing.T) {
	var p *Publisher
	p.Publish(context.Background(), "ch", "minute_billed", nil)

	p = NewPublisher(nil, nil)
	p.Publish(context.Background(), "ch", "minute_billed", map[string]any{"x": 1})
}

func TestEnvelope_WireShape(t *testing.T) {
	env := Envelope{
		Event: "minute_billed",
		Data:  map[string]any{"call_id": "c1", "minute": 3},
		Ts:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["event"] != "minute_billed" {
		t.Fatalf("expected event name in envelope, got %v", out["event"])
	}
	if _, ok := out["data"].(map[string]any); !ok {
		t.Fatalf("expected data object, got %T", out["data"])
	}
	if _, ok := out["ts"]; !ok {
		t.Fatalf("expected ts field")
	}
}
