package presence

import (
	"errors"
	"testing"
	"time"

	"github.com/presence-relay/backend/internal/model"
)

func TestRegistry_Join(t *testing.T) {
	registry, _, _, _, _, gw := newTestStack(testOptions())

	t.Run("successful join returns roster including self", func(t *testing.T) {
		if _, err := registry.Join("conn-a", "alice", "worker", "s1", nil); err != nil {
			t.Fatalf("join failed: %v", err)
		}
		if _, err := registry.Join("conn-b", "bob", "worker", "s1", nil); err != nil {
			t.Fatalf("join failed: %v", err)
		}

		rosters := gw.namedFor("conn-b", EventRosterSnapshot)
		if len(rosters) != 1 {
			t.Fatalf("expected 1 roster snapshot for conn-b, got %d", len(rosters))
		}
		roster := rosters[0].Payload.(RosterPayload)
		if roster.SessionID != "s1" {
			t.Errorf("expected session s1, got %s", roster.SessionID)
		}
		if len(roster.Participants) != 2 {
			t.Fatalf("expected 2 participants in roster, got %d", len(roster.Participants))
		}
		names := map[string]bool{}
		for _, p := range roster.Participants {
			names[p.Name] = true
		}
		if !names["alice"] || !names["bob"] {
			t.Errorf("roster missing members: %v", names)
		}
	})

	t.Run("joined notification goes to others only", func(t *testing.T) {
		joins := gw.namedFor("conn-a", EventParticipantJoined)
		if len(joins) != 1 {
			t.Fatalf("expected conn-a to see 1 join, got %d", len(joins))
		}
		if joins[0].Payload.(model.Participant).Name != "bob" {
			t.Errorf("conn-a should only be told about bob")
		}
		if got := gw.namedFor("conn-b", EventParticipantJoined); len(got) != 0 {
			t.Errorf("joiner must not receive its own join notification")
		}
	})

	t.Run("member count goes to the whole session", func(t *testing.T) {
		counts := gw.named(EventMemberCount)
		last := counts[len(counts)-1]
		payload := last.Payload.(MemberCountPayload)
		if payload.Count != 2 {
			t.Errorf("expected member count 2, got %d", payload.Count)
		}
		if len(last.To) != 2 {
			t.Errorf("member count should address both members, got %v", last.To)
		}
	})

	t.Run("name trimmed before uniqueness check", func(t *testing.T) {
		_, err := registry.Join("conn-c", "  alice  ", "worker", "s1", nil)
		if !errors.Is(err, model.ErrDuplicateJoin) {
			t.Errorf("expected duplicate join, got %v", err)
		}
		if registry.Get("conn-c") != nil {
			t.Error("rejected join must not register a participant")
		}
	})

	t.Run("same name allowed in a different session", func(t *testing.T) {
		if _, err := registry.Join("conn-d", "alice", "worker", "s2", nil); err != nil {
			t.Errorf("same name in another session should join: %v", err)
		}
	})

	t.Run("empty name rejected", func(t *testing.T) {
		_, err := registry.Join("conn-e", "   ", "worker", "s1", nil)
		if !errors.Is(err, model.ErrInvalidName) {
			t.Errorf("expected invalid name, got %v", err)
		}
	})

	t.Run("unknown role rejected", func(t *testing.T) {
		_, err := registry.Join("conn-e", "eve", "wizard", "s1", nil)
		if !errors.Is(err, model.ErrInvalidRole) {
			t.Errorf("expected invalid role, got %v", err)
		}
	})

	t.Run("empty session id falls back to default", func(t *testing.T) {
		p, err := registry.Join("conn-f", "fay", "admin", "", nil)
		if err != nil {
			t.Fatalf("join failed: %v", err)
		}
		if p.SessionID != "default" {
			t.Errorf("expected default session, got %s", p.SessionID)
		}
	})

	t.Run("invalid initial location ignored", func(t *testing.T) {
		p, err := registry.Join("conn-g", "gus", "worker", "s3", &model.Location{Latitude: 200, Longitude: 0})
		if err != nil {
			t.Fatalf("join failed: %v", err)
		}
		if p.Location != nil {
			t.Error("out-of-range initial location must be dropped")
		}
	})
}

func TestRegistry_UpdateLocation(t *testing.T) {
	opts := testOptions()
	opts.LocationMinInterval = 30 * time.Millisecond
	registry, _, _, _, _, gw := newTestStack(opts)

	registry.Join("conn-a", "alice", "worker", "s1", nil)
	registry.Join("conn-b", "bob", "worker", "s1", nil)
	gw.reset()

	t.Run("accepted update broadcasts delta and full record", func(t *testing.T) {
		err := registry.UpdateLocation("conn-a", model.Location{Latitude: 10, Longitude: 20})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}

		deltas := gw.named(EventLocationUpdate)
		if len(deltas) != 1 {
			t.Fatalf("expected 1 delta, got %d", len(deltas))
		}
		if len(deltas[0].To) != 1 || deltas[0].To[0] != "conn-b" {
			t.Errorf("delta must exclude the sender, went to %v", deltas[0].To)
		}

		updates := gw.named(EventParticipantUpdated)
		if len(updates) != 1 || len(updates[0].To) != 2 {
			t.Errorf("full record update must reach the whole session")
		}
		p := updates[0].Payload.(model.Participant)
		if len(p.Trail) != 1 {
			t.Errorf("expected trail length 1, got %d", len(p.Trail))
		}
	})

	t.Run("second update inside the window is a silent no-op", func(t *testing.T) {
		gw.reset()
		err := registry.UpdateLocation("conn-a", model.Location{Latitude: 11, Longitude: 21})
		if err != nil {
			t.Fatalf("throttled update must not error: %v", err)
		}
		if len(gw.named(EventLocationUpdate)) != 0 {
			t.Error("throttled update must not broadcast")
		}
		if got := len(registry.Get("conn-a").Trail); got != 1 {
			t.Errorf("throttled update must not mutate the trail, got %d samples", got)
		}
	})

	t.Run("out of range coordinates rejected", func(t *testing.T) {
		err := registry.UpdateLocation("conn-a", model.Location{Latitude: -91, Longitude: 0})
		if !errors.Is(err, model.ErrInvalidLocation) {
			t.Errorf("expected invalid location, got %v", err)
		}
		err = registry.UpdateLocation("conn-a", model.Location{Latitude: 0, Longitude: 181})
		if !errors.Is(err, model.ErrInvalidLocation) {
			t.Errorf("expected invalid location, got %v", err)
		}
	})

	t.Run("unknown participant rejected", func(t *testing.T) {
		err := registry.UpdateLocation("ghost", model.Location{Latitude: 0, Longitude: 0})
		if !errors.Is(err, model.ErrUnknownParticipant) {
			t.Errorf("expected unknown participant, got %v", err)
		}
	})
}

func TestRegistry_TrailBounded(t *testing.T) {
	opts := testOptions()
	opts.LocationMinInterval = time.Nanosecond
	registry, _, _, _, _, _ := newTestStack(opts)

	registry.Join("conn-a", "alice", "worker", "s1", nil)

	for i := 0; i < 31; i++ {
		err := registry.UpdateLocation("conn-a", model.Location{
			Latitude:  float64(i%90) + 0.5,
			Longitude: float64(i),
		})
		if err != nil {
			t.Fatalf("update %d failed: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}

	trail := registry.Get("conn-a").Trail
	if len(trail) != model.TrailCapacity {
		t.Fatalf("expected trail of %d, got %d", model.TrailCapacity, len(trail))
	}
	// The oldest sample (longitude 0) was evicted; the newest 30 remain in order.
	if trail[0].Longitude != 1 || trail[29].Longitude != 30 {
		t.Errorf("expected longitudes 1..30, got first=%v last=%v", trail[0].Longitude, trail[29].Longitude)
	}
	for i := 1; i < len(trail); i++ {
		if trail[i].Timestamp.Before(trail[i-1].Timestamp) {
			t.Fatal("trail must stay in chronological order")
		}
	}
}

func TestRegistry_StatusAndPresence(t *testing.T) {
	registry, _, _, _, _, gw := newTestStack(testOptions())
	registry.Join("conn-a", "alice", "worker", "s1", nil)
	gw.reset()

	t.Run("status update broadcasts", func(t *testing.T) {
		if err := registry.SetStatus("conn-a", model.StatusAway); err != nil {
			t.Fatalf("set status failed: %v", err)
		}
		changed := gw.named(EventStatusChanged)
		if len(changed) != 1 {
			t.Fatalf("expected 1 status-changed, got %d", len(changed))
		}
		if changed[0].Payload.(StatusChangedPayload).Status != model.StatusAway {
			t.Error("wrong status in broadcast")
		}
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		if err := registry.SetStatus("conn-a", "invisible"); !errors.Is(err, model.ErrInvalidStatus) {
			t.Errorf("expected invalid status, got %v", err)
		}
	})

	t.Run("presence flag maps to status", func(t *testing.T) {
		if err := registry.SetPresence("conn-a", false, nil); err != nil {
			t.Fatalf("set presence failed: %v", err)
		}
		if registry.Get("conn-a").Status != model.StatusAway {
			t.Error("inactive presence should read as away")
		}
		registry.SetPresence("conn-a", true, nil)
		if registry.Get("conn-a").Status != model.StatusOnline {
			t.Error("active presence should read as online")
		}
	})

	t.Run("unknown participant rejected", func(t *testing.T) {
		if err := registry.SetPresence("ghost", true, nil); !errors.Is(err, model.ErrUnknownParticipant) {
			t.Errorf("expected unknown participant, got %v", err)
		}
	})
}

func TestRegistry_LeaveAndGracePeriod(t *testing.T) {
	registry, _, _, mailbox, _, gw := newTestStack(testOptions())
	registry.Join("conn-a", "alice", "worker", "s1", nil)
	registry.Join("conn-b", "bob", "worker", "s1", nil)
	gw.reset()

	registry.Leave("conn-a", "client-disconnect")
	mailbox.Enqueue("conn-a", model.ChatMessage{ID: "m1"})

	t.Run("departure announced with updated count", func(t *testing.T) {
		left := gw.named(EventParticipantLeft)
		if len(left) != 1 {
			t.Fatalf("expected 1 participant-left, got %d", len(left))
		}
		payload := left[0].Payload.(ParticipantLeftPayload)
		if payload.Name != "alice" || payload.Reason != "client-disconnect" {
			t.Errorf("unexpected departure payload: %+v", payload)
		}
		counts := gw.named(EventMemberCount)
		if len(counts) != 1 || counts[0].Payload.(MemberCountPayload).Count != 1 {
			t.Errorf("expected member count 1 for remaining members")
		}
	})

	t.Run("record retained during grace period", func(t *testing.T) {
		if registry.Get("conn-a") != nil {
			t.Error("left participant must not be live")
		}
		retained := registry.Resolve("conn-a")
		if retained == nil || retained.Name != "alice" {
			t.Error("grace-period record should be resolvable")
		}
		if got := registry.AbsentMembers("s1"); len(got) != 1 || got[0] != "conn-a" {
			t.Errorf("expected conn-a absent from s1, got %v", got)
		}
	})

	t.Run("record and buffered messages purged after grace period", func(t *testing.T) {
		time.Sleep(2 * testOptions().GracePeriod)
		if registry.Resolve("conn-a") != nil {
			t.Error("record should be purged after grace period")
		}
		if mailbox.Pending("conn-a") != 0 {
			t.Error("buffered messages should be purged with the record")
		}
	})

	t.Run("empty session deleted", func(t *testing.T) {
		registry.Leave("conn-b", "bye")
		if _, ok := registry.Sessions()["s1"]; ok {
			t.Error("session with no members must be deleted")
		}
	})

	t.Run("leave of unknown connection is a no-op", func(t *testing.T) {
		gw.reset()
		registry.Leave("ghost", "whatever")
		if len(gw.named(EventParticipantLeft)) != 0 {
			t.Error("no departure should be announced for unknown connections")
		}
	})
}

func TestRegistry_RejoinBeforeGraceExpiry(t *testing.T) {
	registry, _, _, mailbox, _, gw := newTestStack(testOptions())
	registry.Join("conn-a", "alice", "worker", "s1", nil)
	registry.Leave("conn-a", "drop")

	mailbox.Enqueue("conn-a", model.ChatMessage{ID: "m1", Text: "missed you"})
	gw.reset()

	// Rejoin on the same connection id inside the grace period must not
	// error and must deliver the buffered messages.
	if _, err := registry.Join("conn-a", "alice", "worker", "s1", nil); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}

	delivered := gw.namedFor("conn-a", EventBufferedMessages)
	if len(delivered) != 1 {
		t.Fatalf("expected buffered delivery, got %d", len(delivered))
	}
	msgs := delivered[0].Payload.([]model.ChatMessage)
	if len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("unexpected buffered messages: %+v", msgs)
	}
	if mailbox.Pending("conn-a") != 0 {
		t.Error("mailbox must be cleared by delivery")
	}

	// The canceled purge timer firing later must not remove the live record.
	time.Sleep(2 * testOptions().GracePeriod)
	if registry.Get("conn-a") == nil {
		t.Error("rejoined participant must survive the stale purge timer")
	}
}

func TestRegistry_SweepStale(t *testing.T) {
	gw := newFakeGateway()
	mailbox := NewMailbox()
	guard := NewGuard()
	opts := testOptions()
	registry := NewRegistry(gw, mailbox, guard, opts)
	monitor := NewMonitor(gw, opts)
	registry.SetHealthMonitor(monitor)

	registry.Join("conn-a", "alice", "worker", "s1", nil)
	monitor.Track("conn-a")
	defer monitor.Untrack("conn-a")

	t.Run("fresh connections survive", func(t *testing.T) {
		if got := registry.SweepStale(time.Now(), time.Minute); len(got) != 0 {
			t.Errorf("fresh connection swept: %v", got)
		}
	})

	t.Run("silent connections evicted", func(t *testing.T) {
		swept := registry.SweepStale(time.Now().Add(time.Hour), time.Minute)
		if len(swept) != 1 || swept[0] != "conn-a" {
			t.Fatalf("expected conn-a swept, got %v", swept)
		}
		if registry.Get("conn-a") != nil {
			t.Error("swept participant must be removed")
		}
	})
}
