package presence

import (
	"testing"
	"time"
)

func TestCoordinator_GracefulSequence(t *testing.T) {
	opts := testOptions()
	registry, _, _, _, _, gw := newTestStack(opts)
	registry.Join("conn-a", "alice", "worker", "s1", nil)
	registry.Join("conn-b", "bob", "worker", "s2", nil)
	gw.reset()

	coordinator := NewCoordinator(registry, gw, opts)
	exitCodes := make(chan int, 2)
	coordinator.exit = func(code int) { exitCodes <- code }

	var listenerClosed bool
	coordinator.SetCloseListener(func() { listenerClosed = true })

	coordinator.Shutdown("test")

	select {
	case code := <-exitCodes:
		if code != 0 {
			t.Fatalf("graceful shutdown must exit 0, got %d", code)
		}
	case <-time.After(time.Second):
		t.Fatal("shutdown never exited")
	}

	notices := gw.named(EventShutdownNotice)
	if len(notices) != 1 || !notices[0].Broadcast {
		t.Fatalf("expected one broadcast shutdown notice, got %+v", notices)
	}
	payload := notices[0].Payload.(ShutdownNoticePayload)
	if len(payload.Snapshot.Participants) != 2 {
		t.Errorf("notice must carry the participant snapshot, got %d", len(payload.Snapshot.Participants))
	}
	if len(payload.Snapshot.Sessions) != 2 {
		t.Errorf("notice must carry the session directory, got %d", len(payload.Snapshot.Sessions))
	}
	if payload.ExpectedDowntimeMS != opts.ExpectedDowntime.Milliseconds() {
		t.Errorf("unexpected downtime hint: %d", payload.ExpectedDowntimeMS)
	}

	if !gw.closedAll() {
		t.Error("all connections must be closed")
	}
	if !listenerClosed {
		t.Error("the listener must be closed after the connections")
	}
}

func TestCoordinator_ShutdownRunsOnce(t *testing.T) {
	opts := testOptions()
	registry, _, _, _, _, gw := newTestStack(opts)

	coordinator := NewCoordinator(registry, gw, opts)
	exitCodes := make(chan int, 4)
	coordinator.exit = func(code int) { exitCodes <- code }

	coordinator.Shutdown("first")
	coordinator.Shutdown("second")

	<-exitCodes
	time.Sleep(50 * time.Millisecond)

	if len(gw.named(EventShutdownNotice)) != 1 {
		t.Error("a second trigger must not re-run the sequence")
	}
	select {
	case <-exitCodes:
		t.Error("process must exit at most once")
	default:
	}
}

func TestCoordinator_WatchdogForcesExit(t *testing.T) {
	opts := testOptions()
	opts.WatchdogAfter = 50 * time.Millisecond
	registry, _, _, _, _, gw := newTestStack(opts)

	coordinator := NewCoordinator(registry, gw, opts)
	exitCodes := make(chan int, 2)
	coordinator.exit = func(code int) { exitCodes <- code }

	// A listener close that hangs past the watchdog.
	coordinator.SetCloseListener(func() { time.Sleep(time.Second) })

	coordinator.Shutdown("stalled")

	select {
	case code := <-exitCodes:
		if code != 1 {
			t.Fatalf("watchdog must exit with failure status, got %d", code)
		}
	case <-time.After(time.Second):
		t.Fatal("watchdog never fired")
	}
}
