// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package progress

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HarborLine/HarborExport/services/export/datatypes"
)

// recordingEndpoint captures every event written to it.
type recordingEndpoint struct {
	mu     sync.Mutex
	events []any
	closed bool
	fail   bool
}

func (e *recordingEndpoint) WriteJSON(v any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail {
		return errors.New("broken pipe")
	}
	e.events = append(e.events, v)
	return nil
}

func (e *recordingEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *recordingEndpoint) snapshot() []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]any, len(e.events))
	copy(out, e.events)
	return out
}

func (e *recordingEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *recordingEndpoint) setFail(fail bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail = fail
}

// -----------------------------------------------------------------------------
// Subscribe Tests
// -----------------------------------------------------------------------------

func TestHub_Subscribe_SendsConnectedEvent(t *testing.T) {
	hub := NewHub(nil)
	ep := &recordingEndpoint{}

	sub, err := hub.Subscribe("t1", ep, NewConnected("t1", datatypes.StatusProcessing))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer hub.Unsubscribe(sub)

	events := ep.snapshot()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	connected, ok := events[0].(ConnectedEvent)
	if !ok {
		t.Fatalf("event type = %T, want ConnectedEvent", events[0])
	}
	if connected.Type != TypeConnected || connected.TaskID != "t1" ||
		connected.Status != datatypes.StatusProcessing {
		t.Errorf("connected event = %+v", connected)
	}
}

func TestHub_Subscribe_WriteFailure(t *testing.T) {
	hub := NewHub(nil)
	ep := &recordingEndpoint{fail: true}

	if _, err := hub.Subscribe("t1", ep, NewConnected("t1", datatypes.StatusPending)); err == nil {
		t.Fatal("Subscribe() with failing endpoint should error")
	}
	if hub.Watched("t1") {
		t.Error("failed subscription must not stay registered")
	}
	if !ep.isClosed() {
		t.Error("failed endpoint must be closed")
	}
}

// TestHub_Subscribe_LastSubscriberWins verifies the single-subscriber
// invariant: the newer endpoint supersedes, the older one is closed and
// stops receiving publishes.
func TestHub_Subscribe_LastSubscriberWins(t *testing.T) {
	hub := NewHub(nil)
	first := &recordingEndpoint{}
	second := &recordingEndpoint{}

	if _, err := hub.Subscribe("t1", first, NewConnected("t1", datatypes.StatusPending)); err != nil {
		t.Fatalf("first Subscribe() error = %v", err)
	}
	sub2, err := hub.Subscribe("t1", second, NewConnected("t1", datatypes.StatusProcessing))
	if err != nil {
		t.Fatalf("second Subscribe() error = %v", err)
	}
	defer hub.Unsubscribe(sub2)

	if got := hub.ActiveSubscriptions(); got != 1 {
		t.Errorf("ActiveSubscriptions() = %d, want 1", got)
	}
	if !first.isClosed() {
		t.Error("evicted endpoint must be closed")
	}

	firstCount := len(first.snapshot())
	if !hub.Publish("t1", NewProgress("t1", 50, "halfway")) {
		t.Error("Publish() = false, want delivery to the new subscriber")
	}

	if len(first.snapshot()) != firstCount {
		t.Error("evicted endpoint received a publish")
	}
	if len(second.snapshot()) != 2 { // connected + progress
		t.Errorf("new endpoint got %d events, want 2", len(second.snapshot()))
	}
}

// -----------------------------------------------------------------------------
// Publish Tests
// -----------------------------------------------------------------------------

func TestHub_Publish_NoSubscriber(t *testing.T) {
	hub := NewHub(nil)
	if hub.Publish("ghost", NewProgress("ghost", 10, "working")) {
		t.Error("Publish() = true with no subscriber, want false")
	}
}

func TestHub_Publish_Ordering(t *testing.T) {
	hub := NewHub(nil)
	ep := &recordingEndpoint{}
	sub, err := hub.Subscribe("t1", ep, NewConnected("t1", datatypes.StatusProcessing))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer hub.Unsubscribe(sub)

	for _, p := range []int{30, 60, 90} {
		if !hub.Publish("t1", NewProgress("t1", p, "step")) {
			t.Fatalf("Publish(%d) = false", p)
		}
	}

	events := ep.snapshot()
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	want := []int{30, 60, 90}
	for i, p := range want {
		pe, ok := events[i+1].(ProgressEvent)
		if !ok || pe.Progress != p {
			t.Errorf("event %d = %+v, want progress %d", i+1, events[i+1], p)
		}
	}
}

func TestHub_Publish_WriteFailureTearsDown(t *testing.T) {
	hub := NewHub(nil)
	ep := &recordingEndpoint{}
	if _, err := hub.Subscribe("t1", ep, NewConnected("t1", datatypes.StatusProcessing)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	ep.setFail(true)

	if hub.Publish("t1", NewProgress("t1", 10, "step")) {
		t.Error("Publish() = true after transport failure, want false")
	}
	if hub.Watched("t1") {
		t.Error("dead subscription must be removed")
	}
	if !ep.isClosed() {
		t.Error("dead endpoint must be closed")
	}

	// Further publishes report nobody watching; task execution continues.
	if hub.Publish("t1", NewProgress("t1", 20, "step")) {
		t.Error("Publish() after teardown = true, want false")
	}
}

func TestHub_Unsubscribe_DoesNotEvictSuccessor(t *testing.T) {
	hub := NewHub(nil)
	first := &recordingEndpoint{}
	second := &recordingEndpoint{}

	sub1, err := hub.Subscribe("t1", first, NewConnected("t1", datatypes.StatusPending))
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if _, err := hub.Subscribe("t1", second, NewConnected("t1", datatypes.StatusPending)); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Unsubscribing the evicted handle must not remove the live successor.
	hub.Unsubscribe(sub1)

	if !hub.Watched("t1") {
		t.Error("successor subscription was wrongly removed")
	}
}

// gatedEndpoint stalls its first write until released, letting tests park a
// subscribe mid-write while other operations race it.
type gatedEndpoint struct {
	recordingEndpoint
	firstWrite chan struct{}
	release    chan struct{}
	once       sync.Once
}

func newGatedEndpoint() *gatedEndpoint {
	return &gatedEndpoint{
		firstWrite: make(chan struct{}),
		release:    make(chan struct{}),
	}
}

func (g *gatedEndpoint) WriteJSON(v any) error {
	g.once.Do(func() {
		close(g.firstWrite)
		<-g.release
	})
	return g.recordingEndpoint.WriteJSON(v)
}

// TestHub_Publish_CannotPrecedeConnected pins the connected event as the
// subscriber's first delivery: a publish racing in right after the
// subscription becomes reachable must queue behind it, not overtake it.
func TestHub_Publish_CannotPrecedeConnected(t *testing.T) {
	hub := NewHub(nil)
	ep := newGatedEndpoint()

	subDone := make(chan error, 1)
	go func() {
		_, err := hub.Subscribe("t1", ep, NewConnected("t1", datatypes.StatusProcessing))
		subDone <- err
	}()

	// The subscription is registered and its connected write is in flight.
	<-ep.firstWrite

	pubDone := make(chan bool, 1)
	go func() {
		pubDone <- hub.Publish("t1", NewProgress("t1", 10, "racing"))
	}()

	// Give the publish a chance to overtake before letting the write finish.
	time.Sleep(20 * time.Millisecond)
	close(ep.release)

	if err := <-subDone; err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !<-pubDone {
		t.Fatal("Publish() = false, want delivery to the live subscriber")
	}

	events := ep.snapshot()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if _, ok := events[0].(ConnectedEvent); !ok {
		t.Fatalf("first event = %T, want ConnectedEvent", events[0])
	}
	if pe, ok := events[1].(ProgressEvent); !ok || pe.Progress != 10 {
		t.Errorf("second event = %+v, want the raced progress", events[1])
	}
}

// TestHub_Subscribe_ConcurrentSameTask hammers evict-then-insert; exactly
// one subscriber must remain live.
func TestHub_Subscribe_ConcurrentSameTask(t *testing.T) {
	hub := NewHub(nil)

	const n = 32
	endpoints := make([]*recordingEndpoint, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		endpoints[i] = &recordingEndpoint{}
		wg.Add(1)
		go func(ep *recordingEndpoint) {
			defer wg.Done()
			_, _ = hub.Subscribe("t1", ep, NewConnected("t1", datatypes.StatusPending))
		}(endpoints[i])
	}
	wg.Wait()

	if got := hub.ActiveSubscriptions(); got != 1 {
		t.Fatalf("ActiveSubscriptions() = %d, want exactly 1", got)
	}

	open := 0
	for _, ep := range endpoints {
		if !ep.isClosed() {
			open++
		}
	}
	if open != 1 {
		t.Errorf("open endpoints = %d, want exactly 1", open)
	}
}

// -----------------------------------------------------------------------------
// Wire Shape Tests
// -----------------------------------------------------------------------------

// TestEvents_WireShapes pins the JSON contract clients depend on.
func TestEvents_WireShapes(t *testing.T) {
	url := "/v1/exports/t1/download?token=abc"

	cases := []struct {
		name  string
		event any
		want  string
	}{
		{
			"connected",
			NewConnected("t1", datatypes.StatusProcessing),
			`{"type":"connected","task_id":"t1","status":"processing"}`,
		},
		{
			"progress",
			NewProgress("t1", 0, "starting"),
			`{"type":"progress","task_id":"t1","progress":0,"message":"starting"}`,
		},
		{
			"completed",
			NewCompleted("t1", &url),
			`{"type":"completed","task_id":"t1","status":"completed","download_url":"/v1/exports/t1/download?token=abc"}`,
		},
		{
			"completed_null_url",
			NewCompleted("t1", nil),
			`{"type":"completed","task_id":"t1","status":"completed","download_url":null}`,
		},
		{
			"error",
			NewError("t1", "render failed"),
			`{"type":"error","task_id":"t1","status":"failed","error_message":"render failed"}`,
		},
		{
			"cancelled",
			NewCancelled("t1"),
			`{"type":"cancelled","task_id":"t1","status":"cancelled"}`,
		},
	}

	for _, tc := range cases {
		got, err := json.Marshal(tc.event)
		if err != nil {
			t.Fatalf("%s: Marshal() error = %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Errorf("%s:\n got  %s\n want %s", tc.name, got, tc.want)
		}
	}
}
