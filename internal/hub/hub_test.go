package hub

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/graaaaa/vrcwatch/internal/event"
)

func countMsg(n int) *event.Message {
	msg, _ := event.NewMessage(event.MsgPlayerCount, event.PlayerCountData{Count: n})
	return msg
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	h := New()
	go h.Run()
	defer h.Stop()

	sub := h.Subscribe()
	select {
	case <-sub.Done():
		t.Error("Done must stay open while subscribed")
	default:
	}

	h.Unsubscribe(sub)
	select {
	case <-sub.Done():
	case <-time.After(100 * time.Millisecond):
		t.Error("Done must close after unsubscribe")
	}
}

func TestHub_Publish(t *testing.T) {
	h := New()
	go h.Run()
	defer h.Stop()

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	h.Publish(countMsg(3))

	select {
	case msg := <-sub.Messages():
		if msg.Kind != event.MsgPlayerCount {
			t.Errorf("kind = %q, want %q", msg.Kind, event.MsgPlayerCount)
		}
		var data event.PlayerCountData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if data.Count != 3 {
			t.Errorf("count = %d, want 3", data.Count)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for message")
	}
}

func TestHub_PublishToMultipleSubscribers(t *testing.T) {
	h := New()
	go h.Run()
	defer h.Stop()

	const n = 5
	subs := make([]*Subscriber, n)
	for i := range subs {
		subs[i] = h.Subscribe()
	}
	defer func() {
		for _, sub := range subs {
			h.Unsubscribe(sub)
		}
	}()

	h.Publish(countMsg(1))

	var wg sync.WaitGroup
	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *Subscriber) {
			defer wg.Done()
			select {
			case <-sub.Messages():
			case <-time.After(100 * time.Millisecond):
				t.Errorf("subscriber %d: timeout", i)
			}
		}(i, sub)
	}
	wg.Wait()
}

func TestHub_SnapshotPrecedesLiveMessages(t *testing.T) {
	snapshot, _ := event.NewMessage(event.MsgSnapshot, map[string]int{"players": 2})
	h := New(WithSnapshot(func() *event.Message {
		return snapshot
	}))
	go h.Run()
	defer h.Stop()

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)
	h.Publish(countMsg(2))

	first := <-sub.Messages()
	if first.Kind != event.MsgSnapshot {
		t.Fatalf("first message kind = %q, want snapshot", first.Kind)
	}
	select {
	case second := <-sub.Messages():
		if second.Kind != event.MsgPlayerCount {
			t.Errorf("second message kind = %q, want player_count", second.Kind)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for live message")
	}
}

func TestHub_NoGapBetweenSnapshotAndLive(t *testing.T) {
	// State that changes while the snapshot is being assembled must still
	// reach the subscriber being attached: the loop goroutine builds the
	// snapshot during registration, so a concurrent publish lands in the
	// broadcast buffer and is delivered right after.
	var h *Hub
	h = New(WithSnapshot(func() *event.Message {
		h.Publish(countMsg(7))
		snapshot, _ := event.NewMessage(event.MsgSnapshot, map[string]int{"players": 6})
		return snapshot
	}))
	go h.Run()
	defer h.Stop()

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	first := <-sub.Messages()
	if first.Kind != event.MsgSnapshot {
		t.Fatalf("first message kind = %q, want snapshot", first.Kind)
	}
	select {
	case second := <-sub.Messages():
		if second.Kind != event.MsgPlayerCount {
			t.Errorf("second message kind = %q, want player_count", second.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("message published during snapshot build was never delivered")
	}
}

func TestHub_SlowSubscriberDropsMessages(t *testing.T) {
	h := New(WithSubscriberBufferSize(1))
	go h.Run()
	defer h.Stop()

	sub := h.Subscribe()
	defer h.Unsubscribe(sub)

	h.Publish(countMsg(1))
	time.Sleep(10 * time.Millisecond)
	h.Publish(countMsg(2))
	time.Sleep(10 * time.Millisecond)

	select {
	case <-sub.Messages():
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for first message")
	}
	select {
	case msg := <-sub.Messages():
		t.Errorf("second message must be dropped, got kind %q", msg.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_Stop(t *testing.T) {
	h := New()
	go h.Run()

	sub1 := h.Subscribe()
	sub2 := h.Subscribe()
	h.Stop()

	for i, sub := range []*Subscriber{sub1, sub2} {
		select {
		case <-sub.Done():
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d: Done must close on Stop", i+1)
		}
	}
}

func TestHub_SubscribeAfterStop(t *testing.T) {
	h := New()
	go h.Run()
	h.Stop()

	sub := h.Subscribe()
	select {
	case <-sub.Done():
	default:
		t.Error("subscriber must come back already detached")
	}
}

func TestHub_PublishAfterStop(t *testing.T) {
	h := New()
	go h.Run()
	h.Stop()

	// Must not panic or block.
	h.Publish(countMsg(1))
}

func TestHub_StopIdempotent(t *testing.T) {
	h := New()
	go h.Run()

	h.Stop()
	h.Stop()

	h2 := New()
	go h2.Run()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h2.Stop()
		}()
	}
	wg.Wait()
}
