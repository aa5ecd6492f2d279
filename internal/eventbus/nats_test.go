/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playout/internal/events"
)

func TestMessageEnvelopeRoundTrip(t *testing.T) {
	data, err := marshalMessage(events.EventSlotPushed, events.Payload{"slot_id": "s1"}, "node-a")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	m, err := unmarshalMessage(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.EventType != events.EventSlotPushed || m.NodeID != "node-a" || m.Payload["slot_id"] != "s1" {
		t.Fatalf("unexpected message %+v", m)
	}
	if m.MessageID == "" {
		t.Fatal("expected message id")
	}

	if _, err := unmarshalMessage([]byte(`{"payload":{}}`)); err == nil {
		t.Fatal("expected message without event type to be rejected")
	}
}

func TestUnreachableNATSStillDeliversLocally(t *testing.T) {
	local := events.NewBus()
	sub := local.Subscribe(events.EventSlotFilled)

	cfg := DefaultNATSConfig()
	cfg.URL = "nats://127.0.0.1:1"
	cfg.MaxReconnects = 0
	cfg.Timeout = 50 * time.Millisecond
	nb := NewNATSBus(cfg, local, zerolog.Nop())
	defer nb.Close()

	nb.Publish(events.EventSlotFilled, events.Payload{"slot_id": "s1"})

	select {
	case p := <-sub:
		if p["slot_id"] != "s1" {
			t.Fatalf("unexpected payload %v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("expected local delivery")
	}

	if got := nb.subject(events.EventSlotFilled); !strings.HasPrefix(got, "grimnir.playout.") {
		t.Fatalf("unexpected subject %q", got)
	}
}
