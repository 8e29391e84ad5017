package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quasarchat/quasar-server/internal/auth"
	"github.com/quasarchat/quasar-server/internal/config"
	"github.com/quasarchat/quasar-server/internal/core"
	"github.com/quasarchat/quasar-server/internal/presence"
	"github.com/quasarchat/quasar-server/internal/store"
	"github.com/quasarchat/quasar-server/internal/voice"
)

// memDirectory is an in-memory stand-in for the external collaborators:
// store.Directory, presence.StatusStore and presence.Roster.
type memDirectory struct {
	mu        sync.Mutex
	users     map[string]*store.User
	channels  map[uuid.UUID]*store.Channel
	members   map[uuid.UUID]map[uuid.UUID]bool
	friends   map[uuid.UUID][]uuid.UUID
	visible   map[uuid.UUID]presence.Status
	preferred map[uuid.UUID]presence.Status
	hidden    map[uuid.UUID]bool
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		users:     make(map[string]*store.User),
		channels:  make(map[uuid.UUID]*store.Channel),
		members:   make(map[uuid.UUID]map[uuid.UUID]bool),
		friends:   make(map[uuid.UUID][]uuid.UUID),
		visible:   make(map[uuid.UUID]presence.Status),
		preferred: make(map[uuid.UUID]presence.Status),
		hidden:    make(map[uuid.UUID]bool),
	}
}

func (d *memDirectory) addUser(username string) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	d.users[username] = &store.User{ID: id, Username: username}
	d.visible[id] = presence.StatusOffline
	d.preferred[id] = presence.StatusOnline
	return id
}

func (d *memDirectory) addChannel(serverID uuid.UUID, kind store.ChannelKind) uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.New()
	d.channels[id] = &store.Channel{ID: id, ServerID: serverID, Name: "test", Kind: kind}
	return id
}

func (d *memDirectory) addMember(serverID, userID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.members[serverID] == nil {
		d.members[serverID] = make(map[uuid.UUID]bool)
	}
	d.members[serverID][userID] = true
}

func (d *memDirectory) addFriend(a, b uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.friends[a] = append(d.friends[a], b)
	d.friends[b] = append(d.friends[b], a)
}

func (d *memDirectory) UserByUsername(_ context.Context, username string) (*store.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[username]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (d *memDirectory) Channel(_ context.Context, id uuid.UUID) (*store.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.channels[id]; ok {
		return ch, nil
	}
	return nil, store.ErrNotFound
}

func (d *memDirectory) IsServerMember(_ context.Context, serverID, userID uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.members[serverID][userID], nil
}

func (d *memDirectory) VoiceChannelIDs(_ context.Context, serverID uuid.UUID) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []uuid.UUID
	for id, ch := range d.channels {
		if ch.ServerID == serverID && ch.Kind == store.ChannelVoice {
			out = append(out, id)
		}
	}
	return out, nil
}

func (d *memDirectory) Close() error { return nil }

func (d *memDirectory) VisibleStatus(_ context.Context, userID uuid.UUID) (presence.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible[userID], nil
}

func (d *memDirectory) SetVisibleStatus(_ context.Context, userID uuid.UUID, status presence.Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visible[userID] = status
	return nil
}

func (d *memDirectory) PreferredStatus(_ context.Context, userID uuid.UUID) (presence.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.preferred[userID], nil
}

func (d *memDirectory) HideStatus(_ context.Context, userID uuid.UUID) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hidden[userID], nil
}

func (d *memDirectory) ServerIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []uuid.UUID
	for serverID, members := range d.members {
		if members[userID] {
			out = append(out, serverID)
		}
	}
	return out, nil
}

func (d *memDirectory) FriendIDs(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uuid.UUID(nil), d.friends[userID]...), nil
}

func (d *memDirectory) setPresence(userID uuid.UUID, visible, preferred presence.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.visible[userID] = visible
	d.preferred[userID] = preferred
}

func (d *memDirectory) visibleStatus(userID uuid.UUID) presence.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visible[userID]
}

type testEnv struct {
	ts  *httptest.Server
	dir *memDirectory
	jwt *auth.JWTConfig
}

func startTestServer(t *testing.T, heartbeat time.Duration) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	dir := newMemDirectory()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "quasar-test",
		Audience: "quasar-clients",
		TTL:      time.Hour,
	}
	authService := auth.NewService(dir, jwtConfig)

	registry := core.NewRegistry(&logger)
	voiceReg := voice.NewRegistry(&logger)
	coordinator := presence.NewCoordinator(registry, dir, dir, &logger)

	cfg := config.Default()
	cfg.HeartbeatTimeout = heartbeat

	server := NewServer(registry, voiceReg, coordinator, authService, dir, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, dir: dir, jwt: jwtConfig}
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token, err := auth.GenerateToken(e.jwt, userID, "user-"+userID.String()[:8])
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (e *testEnv) wsURL(path string) string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + path
}

func (e *testEnv) dial(t *testing.T, ctx context.Context, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, e.wsURL(path), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return conn
}

// wireEvent is the decoded {type, data} envelope plus the flat fields of
// relayed signaling messages.
type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	From string          `json:"from"`
	SDP  string          `json:"sdp"`
}

func readEvent(t *testing.T, ctx context.Context, conn *websocket.Conn) wireEvent {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev wireEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event %s: %v", data, err)
	}
	return ev
}

// waitForEvent reads until an event of the wanted type arrives, skipping
// unrelated broadcasts that may interleave.
func waitForEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, eventType string) wireEvent {
	t.Helper()
	for {
		ev := readEvent(t, ctx, conn)
		if ev.Type == eventType {
			return ev
		}
	}
}
