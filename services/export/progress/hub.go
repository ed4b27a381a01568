// Copyright (C) 2026 HarborLine AI (engineering@harborline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package progress implements the per-task real-time progress channel.
//
// Each task id has at most one live subscriber at a time. A new subscribe
// for an already-watched task evicts the previous endpoint (last subscriber
// wins) and immediately receives a synthetic "connected" event carrying the
// task's current status. Publishing to a task nobody watches is a cheap
// no-op; a failed transport write tears the subscription down rather than
// propagating an error into task execution.
//
// # Ordering
//
// Events for one task id are delivered in publish order: the task id maps to
// a single subscription, and each subscription serializes its writes. The
// connected event is always a subscriber's first delivery, even when a
// publish races the subscribe. Across task ids there is no ordering
// guarantee.
//
// # Thread Safety
//
// Hub and Subscription are safe for concurrent use. Evict-then-insert is
// atomic with respect to concurrent Subscribe calls for the same task id:
// there is no window where two endpoints are both registered.
package progress

import (
	"log/slog"
	"sync"
)

// Endpoint is one live client transport. The websocket handler adapts a
// gorilla connection to this interface; tests substitute recorders.
//
// WriteJSON must not block indefinitely on a dead peer; adapters enforce a
// bounded write deadline and report expiry as an error.
type Endpoint interface {
	WriteJSON(v any) error
	Close() error
}

// Hub maps task ids to their single live subscription.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]*Subscription
}

// Subscription binds one task id to one endpoint.
type Subscription struct {
	taskID string
	hub    *Hub

	// writeMu serializes writes so per-task event order matches publish
	// order even when publishers race.
	writeMu sync.Mutex
	ep      Endpoint
}

// TaskID returns the task this subscription watches.
func (s *Subscription) TaskID() string { return s.taskID }

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
}

// Subscribe registers an endpoint as the task's live subscriber, evicting
// any previous one, and sends the synthetic connected event.
//
// # Inputs
//
//   - taskID: The watched task.
//   - ep: The client transport. The hub owns it from here on and will close
//     it on eviction, teardown, or Unsubscribe.
//   - ev: Connected event carrying the task's current known status.
//
// # Outputs
//
//   - *Subscription: Handle for Unsubscribe.
//   - error: Non-nil if the connected event could not be written; the
//     endpoint is already closed and nothing remains registered.
func (h *Hub) Subscribe(taskID string, ep Endpoint, ev ConnectedEvent) (*Subscription, error) {
	sub := &Subscription{taskID: taskID, hub: h, ep: ep}

	// The write lock is taken before the subscription becomes reachable, so
	// a publish racing in right after the insert queues behind the connected
	// event instead of overtaking it.
	sub.writeMu.Lock()
	h.mu.Lock()
	old := h.subs[taskID]
	h.subs[taskID] = sub
	h.mu.Unlock()

	writeErr := sub.ep.WriteJSON(ev)
	sub.writeMu.Unlock()

	if old != nil {
		// The map no longer points at the old subscription; closing its
		// endpoint outside the lock cannot race a publish into it going to
		// two live subscribers.
		_ = old.ep.Close()
		h.logger.Info("progress subscriber superseded", "task_id", taskID)
	}

	if writeErr != nil {
		h.logger.Info("progress subscriber disconnected",
			"task_id", taskID, "error", writeErr)
		h.remove(sub)
		_ = sub.ep.Close()
		return nil, errSubscribeWriteFailed
	}
	return sub, nil
}

// Unsubscribe removes the subscription and closes its endpoint. Safe to call
// after the subscription was already evicted or torn down.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.remove(sub)
	_ = sub.ep.Close()
}

// Publish delivers an event to the task's subscriber, if any.
//
// Fire-and-forget: the return value reports delivery, not success of the
// task. False means nobody is watching (or the watcher just died); the
// caller must never treat that as an execution error.
func (h *Hub) Publish(taskID string, event any) bool {
	h.mu.Lock()
	sub := h.subs[taskID]
	h.mu.Unlock()

	if sub == nil {
		return false
	}
	return sub.send(event)
}

// ActiveSubscriptions returns the number of live subscriptions.
func (h *Hub) ActiveSubscriptions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Watched reports whether the task currently has a live subscriber.
func (h *Hub) Watched(taskID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs[taskID] != nil
}

// send writes one event, tearing the subscription down on failure.
func (s *Subscription) send(event any) bool {
	s.writeMu.Lock()
	err := s.ep.WriteJSON(event)
	s.writeMu.Unlock()

	if err != nil {
		s.hub.logger.Info("progress subscriber disconnected",
			"task_id", s.taskID, "error", err)
		s.hub.remove(s)
		_ = s.ep.Close()
		return false
	}
	return true
}

// remove deletes the subscription from the map only if it is still the
// current one; a superseding subscriber must not be evicted by its
// predecessor's teardown.
func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if h.subs[sub.taskID] == sub {
		delete(h.subs, sub.taskID)
	}
	h.mu.Unlock()
}
