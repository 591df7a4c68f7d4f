package hub

import "testing"

func TestBroadcastByRole(t *testing.T) {
	h := New()
	doctor := &Client{ID: "1", Role: "doctor", Send: make(chan []byte, 1)}
	display := &Client{ID: "2", Role: "display", Send: make(chan []byte, 1)}
	idle := &Client{ID: "3", Role: "", Send: make(chan []byte, 1)}
	h.Register(doctor)
	h.Register(display)
	h.Register(idle)

	h.Broadcast([]byte("full"), "doctor", "secretary")

	select {
	case msg := <-doctor.Send:
		if string(msg) != "full" {
			t.Fatalf("doctor got %q", msg)
		}
	default:
		t.Fatal("doctor did not receive broadcast")
	}
	select {
	case <-display.Send:
		t.Fatal("display must not receive the staff snapshot")
	default:
	}
	select {
	case <-idle.Send:
		t.Fatal("unsubscribed client must not receive broadcasts")
	default:
	}
}

func TestBroadcastSkipsSlowClient(t *testing.T) {
	h := New()
	slow := &Client{ID: "1", Role: "display", Send: make(chan []byte, 1)}
	h.Register(slow)
	slow.Send <- []byte("backlog")

	// Full buffer: broadcast must not block.
	h.Broadcast([]byte("next"), "display")
}

func TestUnregisterClosesSend(t *testing.T) {
	h := New()
	client := &Client{ID: "1", Role: "doctor", Send: make(chan []byte, 1)}
	h.Register(client)
	h.Unregister(client)

	if _, open := <-client.Send; open {
		t.Fatal("send channel still open after unregister")
	}
	if h.ClientCount() != 0 {
		t.Fatalf("client count=%d, want 0", h.ClientCount())
	}
}

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		raw  string
		ok   bool
		role string
	}{
		{`{"action":"subscribe","role":"doctor"}`, true, "doctor"},
		{`{"action":"unsubscribe"}`, true, ""},
		{`{"action":"other"}`, false, ""},
		{`not json`, false, ""},
	}
	for _, tt := range cases {
		msg, ok := ParseSubscribe([]byte(tt.raw))
		if ok != tt.ok {
			t.Fatalf("ParseSubscribe(%q) ok=%v, want %v", tt.raw, ok, tt.ok)
		}
		if ok && msg.Role != tt.role {
			t.Fatalf("ParseSubscribe(%q) role=%q, want %q", tt.raw, msg.Role, tt.role)
		}
	}
}
