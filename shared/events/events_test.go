package events

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNewAndDecode(t *testing.T) {
	env, err := New(TypeIssueChanges, "prj", map[string]string{"type": "issues-changes"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.EventID != env.EventID || got.EventType != TypeIssueChanges || got.ProjectKey != "prj" {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	var props map[string]string
	if err := json.Unmarshal(got.Payload, &props); err != nil || props["type"] != "issues-changes" {
		t.Fatalf("payload not preserved: %s", got.Payload)
	}
}

func TestDecodeRejectsIncompleteEnvelopes(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"no event id":   `{"event_type":"x","payload":{}}`,
		"no event type": `{"event_id":"8f7c8b8e-8a43-4a43-9d43-3ef1b1bb0c6e","payload":{}}`,
		"no payload":    `{"event_id":"8f7c8b8e-8a43-4a43-9d43-3ef1b1bb0c6e","event_type":"x"}`,
	}
	for name, raw := range cases {
		if _, err := Decode([]byte(raw)); !errors.Is(err, ErrInvalidEnvelope) {
			t.Fatalf("%s: expected ErrInvalidEnvelope, got %v", name, err)
		}
	}
}
