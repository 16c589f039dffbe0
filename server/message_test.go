package server

import (
	"errors"
	"testing"
)

func TestDecodeClientMessage_Variants(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"client:connect"}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := msg.(ConnectMessage); !ok {
		t.Fatalf("decoded %T, want ConnectMessage", msg)
	}

	msg, err = DecodeClientMessage([]byte(
		`{"type":"client:document_open","payload":{"documentId":"d1","workspaceId":"w1"}}`))
	if err != nil {
		t.Fatal(err)
	}
	open, ok := msg.(DocumentOpenMessage)
	if !ok {
		t.Fatalf("decoded %T, want DocumentOpenMessage", msg)
	}
	if open.DocumentID != "d1" || open.WorkspaceID != "w1" {
		t.Errorf("decoded %+v, want d1/w1", open)
	}

	msg, err = DecodeClientMessage([]byte(
		`{"type":"client:presence_update","payload":{"documentId":"d1","presence":{"userId":"u1","selection":{"anchor":2,"head":5}}}}`))
	if err != nil {
		t.Fatal(err)
	}
	upd, ok := msg.(PresenceUpdateMessage)
	if !ok {
		t.Fatalf("decoded %T, want PresenceUpdateMessage", msg)
	}
	if upd.Presence.Selection == nil || upd.Presence.Selection.Head != 5 {
		t.Errorf("selection = %+v, want head 5", upd.Presence.Selection)
	}
}

func TestDecodeClientMessage_UnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"client:frobnicate"}`))
	var unknown *UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownTypeError", err)
	}
	if unknown.Type != "client:frobnicate" {
		t.Errorf("unknown.Type = %q", unknown.Type)
	}
}

func TestDecodeClientMessage_Malformed(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed envelope")
	}
	if _, err := DecodeClientMessage([]byte(
		`{"type":"client:document_open","payload":"nope"}`)); err == nil {
		t.Error("expected error for malformed payload")
	}
}
