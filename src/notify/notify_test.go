package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Deliver(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestDispatcherDeliversAsync(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(16, sink)
	defer d.Close()

	d.Emit(Event{Kind: EventTradeExecuted, Severity: SeverityInfo, SubscriptionID: 1})
	d.Emit(Event{Kind: EventCooldownEntered, Severity: SeverityWarn, SubscriptionID: 1})

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 events, got %d", sink.count())
		}
		time.Sleep(10 * time.Millisecond)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.events[0].Kind != EventTradeExecuted || sink.events[0].At.IsZero() {
		t.Fatalf("unexpected first event %+v", sink.events[0])
	}
}

func TestEmitNeverBlocksOnFullQueue(t *testing.T) {
	// No sinks and a tiny queue: the dispatcher goroutine drains slowly
	// enough that extra emits must hit the drop path, not block.
	d := NewDispatcher(1)
	defer d.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Emit(Event{Kind: EventSignalRejected})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
}

func TestWebhookSinkPostsJSON(t *testing.T) {
	received := make(chan Event, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var event Event
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			t.Errorf("decode event: %v", err)
		}
		received <- event
	}))
	defer server.Close()

	sink := NewWebhookSink(server.URL, 2*time.Second)
	err := sink.Deliver(context.Background(), Event{
		Kind:           EventOrderFailed,
		Severity:       SeverityHigh,
		SubscriptionID: 9,
		Payload:        map[string]any{"reason": "rejected"},
		At:             time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}

	event := <-received
	if event.Kind != EventOrderFailed || event.SubscriptionID != 9 {
		t.Fatalf("unexpected event %+v", event)
	}
}
