package transcribe_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/minutes/pkg/transcribe"
)

func TestTopic_DeliversInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	var topic transcribe.Topic[int]
	var order []string
	topic.Subscribe(func(v int) { order = append(order, "a") })
	topic.Subscribe(func(v int) { order = append(order, "b") })

	topic.Publish(1)
	topic.Publish(2)

	want := []string{"a", "b", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestTopic_Unsubscribe(t *testing.T) {
	t.Parallel()

	var topic transcribe.Topic[string]
	var got []string
	unsub := topic.Subscribe(func(s string) { got = append(got, s) })

	topic.Publish("kept")
	unsub()
	unsub()
	topic.Publish("dropped")

	if len(got) != 1 || got[0] != "kept" {
		t.Errorf("got %v", got)
	}
	if topic.Len() != 0 {
		t.Errorf("Len = %d, want 0", topic.Len())
	}
}

func TestTopic_SubscriberMayUnsubscribeDuringDelivery(t *testing.T) {
	t.Parallel()

	var topic transcribe.Topic[int]
	var unsub func()
	calls := 0
	unsub = topic.Subscribe(func(int) {
		calls++
		unsub()
	})

	topic.Publish(1)
	topic.Publish(2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestTopic_ConcurrentPublishIsSerialised(t *testing.T) {
	t.Parallel()

	var topic transcribe.Topic[int]
	var (
		inside  int
		maxSeen int
		total   int
	)
	topic.Subscribe(func(int) {
		inside++
		if inside > maxSeen {
			maxSeen = inside
		}
		total++
		inside--
	})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			topic.Publish(i)
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("max concurrent deliveries = %d, want 1", maxSeen)
	}
	if total != 50 {
		t.Errorf("deliveries = %d, want 50", total)
	}
}
