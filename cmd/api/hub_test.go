package main

import (
	"errors"
	"testing"
)

type fakeSender struct {
	last *Event
	fail bool
}

func (f *fakeSender) Send(e *Event) error {
	if f.fail {
		return errors.New("send fail")
	}
	f.last = e
	return nil
}

func msgEvent(id string) *Event {
	return &Event{Type: eventMessage, Message: &MessageView{ID: id}}
}

func TestConnectionHub_RegisterAndSend(t *testing.T) {
	hub := NewConnectionHub()

	senderA := &fakeSender{}
	senderB := &fakeSender{}

	idA := hub.Register("alice", senderA)
	_ = hub.Register("alice", senderB) // second device

	if err := hub.SendToUser("alice", msgEvent("m1")); err != nil {
		t.Fatalf("expected send success, got error: %v", err)
	}
	if senderA.last == nil || senderA.last.Message.ID != "m1" {
		t.Fatalf("sender A did not receive message")
	}
	if senderB.last == nil || senderB.last.Message.ID != "m1" {
		t.Fatalf("sender B did not receive message")
	}

	hub.Unregister("alice", idA)
	if got := hub.Connected("alice"); got != 1 {
		t.Fatalf("expected 1 open stream, got %d", got)
	}

	if err := hub.SendToUser("alice", msgEvent("m2")); err != nil {
		t.Fatalf("expected send success after unregistering one stream: %v", err)
	}
	if senderA.last.Message.ID == "m2" {
		t.Fatalf("sender A should not receive after unregister")
	}
}

func TestConnectionHub_SendToOffline(t *testing.T) {
	hub := NewConnectionHub()

	if err := hub.SendToUser("nobody", msgEvent("x")); err == nil {
		t.Fatalf("expected error when sending to offline user")
	}
}

func TestConnectionHub_SendPartialFailure(t *testing.T) {
	hub := NewConnectionHub()

	ok := &fakeSender{}
	bad := &fakeSender{fail: true}

	_ = hub.Register("d", ok)
	_ = hub.Register("d", bad)

	if err := hub.SendToUser("d", msgEvent("x")); err == nil {
		t.Fatalf("expected error due to partial sender failure")
	}

	// the failing stream is dropped
	if got := hub.Connected("d"); got != 1 {
		t.Fatalf("expected failed stream to be unregistered, %d open", got)
	}
	if err := hub.SendToUser("d", msgEvent("y")); err != nil {
		t.Fatalf("expected send to succeed after cleanup: %v", err)
	}
	if ok.last == nil || ok.last.Message.ID != "y" {
		t.Fatalf("healthy sender did not receive message after cleanup")
	}
}
