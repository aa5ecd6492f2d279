/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventSlotCreated     EventType = "slot.created"
	EventSlotUpdated     EventType = "slot.updated"
	EventSlotDeleted     EventType = "slot.deleted"
	EventSlotFilled      EventType = "slot.filled"
	EventSlotPushed      EventType = "slot.pushed"
	EventSlotPushFailed  EventType = "slot.push_failed"
	EventProgramsChanged EventType = "programs.changed"
	EventOverlaysChanged EventType = "overlays.changed"
	EventConfigUpdated   EventType = "config.updated"
)

// AllTypes lists every event type, in a stable order.
var AllTypes = []EventType{
	EventSlotCreated,
	EventSlotUpdated,
	EventSlotDeleted,
	EventSlotFilled,
	EventSlotPushed,
	EventSlotPushFailed,
	EventProgramsChanged,
	EventOverlaysChanged,
	EventConfigUpdated,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is what services need to announce changes.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub. Slow subscribers drop events
// rather than block publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 16)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[eventType] {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes it.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			b.subs[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Discard is a Publisher that drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(EventType, Payload) {}
