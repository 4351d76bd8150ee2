package broadcast

import "testing"

func TestHubPublish(t *testing.T) {
	h := NewHub[int]()
	a, cancelA := h.Subscribe(4)
	b, cancelB := h.Subscribe(4)
	defer cancelA()
	defer cancelB()

	if n := h.Publish(7); n != 2 {
		t.Fatalf("Publish() delivered = %d, want 2", n)
	}
	if got := <-a; got != 7 {
		t.Errorf("subscriber a got %d", got)
	}
	if got := <-b; got != 7 {
		t.Errorf("subscriber b got %d", got)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub[string]()
	ch, cancel := h.Subscribe(1)
	defer cancel()

	h.Publish("first")
	if n := h.Publish("second"); n != 0 {
		t.Errorf("Publish() to full buffer delivered = %d, want 0", n)
	}
	if got := <-ch; got != "first" {
		t.Errorf("got %q, want first", got)
	}
}

func TestHubCancel(t *testing.T) {
	h := NewHub[int]()
	ch, cancel := h.Subscribe(1)
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	if h.Len() != 0 {
		t.Errorf("Len() = %d, want 0", h.Len())
	}
}

func TestHubClose(t *testing.T) {
	h := NewHub[int]()
	ch, cancel := h.Subscribe(1)
	h.Close()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	if n := h.Publish(1); n != 0 {
		t.Errorf("Publish() after Close delivered = %d", n)
	}

	late, _ := h.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("Subscribe() after Close should return a closed channel")
	}
}
