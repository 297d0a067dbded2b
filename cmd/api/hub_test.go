package main

import (
	"testing"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
	"google.golang.org/protobuf/types/known/structpb"
)

func testEnvelope(t *testing.T, id string) *structpb.Struct {
	t.Helper()
	msg, err := encodeEvent(events.To(alice, events.ReceiveMessage, map[string]any{"id": id}))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return msg
}

func lastID(t *testing.T, f *fakeSender) string {
	t.Helper()
	got := f.received()
	if len(got) == 0 {
		t.Fatalf("sender received nothing")
	}
	return stringField(got[len(got)-1].Data, "id")
}

func TestConnectionHub_RegisterAndSend(t *testing.T) {
	hub := NewConnectionHub()

	senderA := &fakeSender{}
	senderB := &fakeSender{}

	idA := hub.Register(alice, senderA)
	idB := hub.Register(alice, senderB) // second device
	if idA == idB || idA == "" {
		t.Fatalf("session ids must be unique, got %q and %q", idA, idB)
	}

	n, err := hub.SendToUser(alice, testEnvelope(t, "m1"))
	if err != nil || n != 2 {
		t.Fatalf("expected delivery to both sessions, got n=%d err=%v", n, err)
	}
	if lastID(t, senderA) != "m1" || lastID(t, senderB) != "m1" {
		t.Fatalf("both sessions should receive m1")
	}

	// Unregister senderA and ensure it no longer receives messages
	hub.Unregister(alice, idA)

	if _, err := hub.SendToUser(alice, testEnvelope(t, "m2")); err != nil {
		t.Fatalf("expected send success after unregistering one connection: %v", err)
	}
	if lastID(t, senderA) == "m2" {
		t.Fatalf("sender A should not have received second message after unregister")
	}
	if lastID(t, senderB) != "m2" {
		t.Fatalf("sender B should still receive m2")
	}

	hub.Unregister(alice, idB)
	if n, _ := hub.SendToUser(alice, testEnvelope(t, "m3")); n != 0 {
		t.Fatalf("alice should be gone after her last session, reached %d", n)
	}
}

func TestConnectionHub_SendToOffline(t *testing.T) {
	hub := NewConnectionHub()

	if n, err := hub.SendToUser(carol, testEnvelope(t, "x")); err == nil || n != 0 {
		t.Fatalf("expected error when sending to offline user, got n=%d err=%v", n, err)
	}
}

func TestConnectionHub_SendPartialFailure(t *testing.T) {
	hub := NewConnectionHub()

	ok := &fakeSender{}
	bad := &fakeSender{fail: true}

	_ = hub.Register(bob, ok)
	_ = hub.Register(bob, bad)

	n, err := hub.SendToUser(bob, testEnvelope(t, "x"))
	if err == nil {
		t.Fatalf("expected error due to partial sender failure")
	}
	if n != 1 {
		t.Fatalf("healthy session should still count as delivered, got %d", n)
	}

	// The failing connection was dropped, so the next send is clean.
	if _, err := hub.SendToUser(bob, testEnvelope(t, "y")); err != nil {
		t.Fatalf("expected send to succeed after cleanup of failed connections: %v", err)
	}
	if lastID(t, ok) != "y" {
		t.Fatalf("healthy sender did not receive message after cleanup")
	}
}

func TestConnectionHub_SendToSession(t *testing.T) {
	hub := NewConnectionHub()

	first := &fakeSender{}
	second := &fakeSender{}
	id := hub.Register(alice, first)
	_ = hub.Register(alice, second)

	if err := hub.SendToSession(alice, id, testEnvelope(t, "ack")); err != nil {
		t.Fatalf("SendToSession: %v", err)
	}
	if len(first.received()) != 1 || len(second.received()) != 0 {
		t.Fatalf("only the addressed session should receive the event")
	}
	if err := hub.SendToSession(bob, id, testEnvelope(t, "ack")); err == nil {
		t.Fatalf("a session is only reachable under its own phone")
	}
}

func TestConnectionHub_Broadcast(t *testing.T) {
	hub := NewConnectionHub()

	a, b, c := &fakeSender{}, &fakeSender{}, &fakeSender{}
	_ = hub.Register(alice, a)
	_ = hub.Register(bob, b)
	_ = hub.Register(bob, c)

	if n := hub.Broadcast(testEnvelope(t, "all")); n != 3 {
		t.Fatalf("broadcast should reach every session, got %d", n)
	}
	for _, s := range []*fakeSender{a, b, c} {
		if lastID(t, s) != "all" {
			t.Fatalf("session missed the broadcast")
		}
	}
}
