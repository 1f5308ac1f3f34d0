package twitch

import (
	"strings"
	"testing"
	"time"

	"twitch-chat-bot/events"
	"twitch-chat-bot/logging"
)

func TestThrottleCeilings(t *testing.T) {
	rec := &events.Recorder{}
	th := NewThrottle(rec, logging.Nop())
	defer th.Stop()

	for i := range RegularCeiling {
		if !th.Allow("hi") {
			t.Fatalf("message %d must pass", i)
		}
	}
	if th.Allow("hi") {
		t.Fatalf("message over the regular ceiling must be rejected")
	}

	th.SetModerator(true)
	for i := RegularCeiling; i < ModeratorCeiling; i++ {
		if !th.Allow("hi") {
			t.Fatalf("moderator message %d must pass", i)
		}
	}
	if th.Allow("hi") {
		t.Fatalf("message over the moderator ceiling must be rejected")
	}
	if rec.Count(events.MessageThrottled) != 2 {
		t.Fatalf("expected 2 throttled notifications, got %d", rec.Count(events.MessageThrottled))
	}
}

func TestThrottleRejectsInvalidMessages(t *testing.T) {
	th := NewThrottle(nil, logging.Nop())
	defer th.Stop()

	if th.Allow("  ") {
		t.Fatalf("empty message must be rejected")
	}
	if th.Allow(strings.Repeat("a", MaxMessageLength+1)) {
		t.Fatalf("over-long message must be rejected")
	}
	if !th.Allow(strings.Repeat("я", MaxMessageLength)) {
		t.Fatalf("length is counted in characters")
	}
	if th.Sent() != 1 {
		t.Fatalf("rejected messages must not count, sent=%d", th.Sent())
	}
}

func TestThrottleWindowResetsOnItsOwn(t *testing.T) {
	th := NewThrottle(nil, logging.Nop())
	th.window = 30 * time.Millisecond
	defer th.Stop()

	for range RegularCeiling {
		th.Allow("hi")
	}
	if th.Allow("hi") {
		t.Fatalf("window must be exhausted")
	}

	waitFor(t, time.Second, func() bool { return th.Sent() == 0 })
	if !th.Allow("hi") {
		t.Fatalf("message after the window reset must pass")
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
