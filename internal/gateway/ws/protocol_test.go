package ws

import (
	"testing"
)

func TestParseClientMessage(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{
		"type": "subscribe_session",
		"session_id": "s1",
		"since_revision": 10
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != MsgSubscribeSession || msg.SessionID != "s1" {
		t.Fatalf("msg: %+v", msg)
	}
	if msg.SinceRevision == nil || *msg.SinceRevision != 10 {
		t.Fatalf("since_revision: %v", msg.SinceRevision)
	}
}

func TestParseClientMessageZeroRevision(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"subscribe_session","session_id":"s1","since_revision":0}`))
	if err != nil {
		t.Fatal(err)
	}
	// since_revision: 0 must be distinguishable from absent.
	if msg.SinceRevision == nil || *msg.SinceRevision != 0 {
		t.Fatalf("since_revision: %v", msg.SinceRevision)
	}

	msg, err = ParseClientMessage([]byte(`{"type":"subscribe_session","session_id":"s1"}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg.SinceRevision != nil {
		t.Fatal("absent since_revision must stay nil")
	}
}

func TestParseClientMessageApproval(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{
		"type": "approve_tool",
		"session_id": "s1",
		"request_id": "r1",
		"decision": "approved",
		"amended_input": {"cmd": "rm ./foo"}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	if msg.RequestID != "r1" || msg.Decision != "approved" {
		t.Fatalf("msg: %+v", msg)
	}
	if string(msg.AmendedInput) != `{"cmd": "rm ./foo"}` {
		t.Fatalf("amended: %s", msg.AmendedInput)
	}
}

func TestParseClientMessageErrors(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if _, err := ParseClientMessage([]byte(`{"session_id":"s1"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}
