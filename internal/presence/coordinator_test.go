package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quasarchat/quasar-server/internal/core"
)

type testConn struct {
	mu   sync.Mutex
	sent [][]byte
}

func (c *testConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *testConn) Close(core.StatusCode, string) error { return nil }

func (c *testConn) statusEvents(t *testing.T) []StatusChange {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []StatusChange
	for _, raw := range c.sent {
		var env struct {
			Type string       `json:"type"`
			Data StatusChange `json:"data"`
		}
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("unmarshal event %s: %v", raw, err)
		}
		if env.Type == "user.status_changed" {
			out = append(out, env.Data)
		}
	}
	return out
}

type fakeStore struct {
	visible   Status
	preferred Status
	hidden    bool
}

func (s *fakeStore) VisibleStatus(context.Context, uuid.UUID) (Status, error) {
	return s.visible, nil
}

func (s *fakeStore) SetVisibleStatus(_ context.Context, _ uuid.UUID, status Status) error {
	s.visible = status
	return nil
}

func (s *fakeStore) PreferredStatus(context.Context, uuid.UUID) (Status, error) {
	return s.preferred, nil
}

func (s *fakeStore) HideStatus(context.Context, uuid.UUID) (bool, error) {
	return s.hidden, nil
}

type fakeRoster struct {
	servers []uuid.UUID
	friends []uuid.UUID
}

func (r *fakeRoster) ServerIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return r.servers, nil
}

func (r *fakeRoster) FriendIDs(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return r.friends, nil
}

type fixture struct {
	reg    *core.Registry
	coord  *Coordinator
	store  *fakeStore
	user   uuid.UUID
	friend uuid.UUID
	server uuid.UUID

	own        *testConn
	friendConn *testConn
	serverConn *testConn
}

func newFixture(t *testing.T, store *fakeStore) *fixture {
	t.Helper()

	logger := zerolog.Nop()
	reg := core.NewRegistry(&logger)

	f := &fixture{
		reg:        reg,
		store:      store,
		user:       uuid.New(),
		friend:     uuid.New(),
		server:     uuid.New(),
		own:        &testConn{},
		friendConn: &testConn{},
		serverConn: &testConn{},
	}
	roster := &fakeRoster{
		servers: []uuid.UUID{f.server},
		friends: []uuid.UUID{f.friend},
	}
	f.coord = NewCoordinator(reg, store, roster, &logger)

	reg.Join(core.UserRoom(f.friend), f.friendConn)
	reg.Join(core.ServerRoom(f.server), f.serverConn)
	return f
}

func TestFirstConnectRestoresPreferredStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeStore{visible: StatusOffline, preferred: StatusOnline})
	f.reg.Join(core.UserRoom(f.user), f.own)

	f.coord.HandleConnect(ctx, f.user)

	if f.store.visible != StatusOnline {
		t.Fatalf("visible status not restored: %s", f.store.visible)
	}
	for name, conn := range map[string]*testConn{
		"own device": f.own,
		"friend":     f.friendConn,
		"server":     f.serverConn,
	} {
		events := conn.statusEvents(t)
		if len(events) != 1 {
			t.Fatalf("%s expected exactly 1 status event, got %d", name, len(events))
		}
		if events[0].UserID != f.user || events[0].Status != StatusOnline {
			t.Fatalf("%s got wrong event: %+v", name, events[0])
		}
	}
}

func TestConnectInvisibleModeBroadcastsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeStore{visible: StatusOffline, preferred: StatusOffline})
	f.reg.Join(core.UserRoom(f.user), f.own)

	f.coord.HandleConnect(ctx, f.user)

	if f.store.visible != StatusOffline {
		t.Fatalf("invisible mode must not change visible status, got %s", f.store.visible)
	}
	if n := len(f.friendConn.statusEvents(t)); n != 0 {
		t.Fatalf("invisible connect leaked %d status events", n)
	}
}

func TestSecondDeviceConnectIsQuiet(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeStore{visible: StatusAway, preferred: StatusAway})
	f.reg.Join(core.UserRoom(f.user), f.own)

	f.coord.HandleConnect(ctx, f.user)

	if n := len(f.friendConn.statusEvents(t)); n != 0 {
		t.Fatalf("second device connect broadcast %d events", n)
	}
}

func TestLastDisconnectGoesOffline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeStore{visible: StatusOnline, preferred: StatusOnline})

	// The connection already left the room; the coordinator sees zero live
	// personal connections.
	f.coord.HandleDisconnect(ctx, f.user)

	if f.store.visible != StatusOffline {
		t.Fatalf("expected offline, got %s", f.store.visible)
	}
	events := f.friendConn.statusEvents(t)
	if len(events) != 1 || events[0].Status != StatusOffline {
		t.Fatalf("friend expected 1 offline event, got %+v", events)
	}
}

func TestDisconnectWithLiveConnectionKeepsStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeStore{visible: StatusOnline, preferred: StatusOnline})
	f.reg.Join(core.UserRoom(f.user), f.own)

	// One device dropped, another is still connected.
	f.coord.HandleDisconnect(ctx, f.user)

	if f.store.visible != StatusOnline {
		t.Fatalf("user with a live connection marked %s", f.store.visible)
	}
	if n := len(f.friendConn.statusEvents(t)); n != 0 {
		t.Fatalf("unexpected %d status events", n)
	}
}

func TestHideStatusSuppressesOutwardBroadcast(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &fakeStore{visible: StatusOffline, preferred: StatusDND, hidden: true})
	f.reg.Join(core.UserRoom(f.user), f.own)

	f.coord.HandleConnect(ctx, f.user)

	if f.store.visible != StatusDND {
		t.Fatalf("hide flag must not block restoring the status, got %s", f.store.visible)
	}
	own := f.own.statusEvents(t)
	if len(own) != 1 || own[0].Status != StatusDND {
		t.Fatalf("own devices expected the true status, got %+v", own)
	}
	if n := len(f.friendConn.statusEvents(t)) + len(f.serverConn.statusEvents(t)); n != 0 {
		t.Fatalf("hide flag leaked %d outward events", n)
	}
}
