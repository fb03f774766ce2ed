// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

const (
	testBotID   id.UserID = "@bridge:example.org"
	testOwnerID id.UserID = "@owner:example.org"
	testSelf    Identity  = "bridge@example.com"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Matrix = MatrixConfig{
		Homeserver:    "https://matrix.example.org",
		Username:      string(testBotID),
		AccessToken:   "token",
		UsersToInvite: []id.UserID{testOwnerID},
	}
	cfg.XMPP.Host = "xmpp.example.com:5222"
	cfg.XMPP.JID = string(testSelf)
	cfg.XMPP.Password = "secret"
	if err := cfg.PostProcess(); err != nil {
		panic(err)
	}
	return &cfg
}

// fakeRoom is an in-memory Room that records what was posted to it.
type fakeRoom struct {
	net *fakeMessaging
	id  id.RoomID

	mu      sync.Mutex
	topic   string
	name    string
	members []id.UserID
	invites []id.UserID
	texts   []string
	notices []string
	left    bool
}

func (r *fakeRoom) ID() id.RoomID { return r.id }

func (r *fakeRoom) Topic() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.topic
}

func (r *fakeRoom) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name
}

func (r *fakeRoom) SetTopic(_ context.Context, topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topic = topic
	return nil
}

func (r *fakeRoom) SetName(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.name = name
	return nil
}

func (r *fakeRoom) Invite(_ context.Context, user id.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invites = append(r.invites, user)
	r.members = append(r.members, user)
	return nil
}

func (r *fakeRoom) Leave(_ context.Context) error {
	r.mu.Lock()
	r.left = true
	r.mu.Unlock()
	r.net.mu.Lock()
	delete(r.net.rooms, r.id)
	r.net.mu.Unlock()
	return nil
}

func (r *fakeRoom) SendText(_ context.Context, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, body)
	return nil
}

func (r *fakeRoom) SendNotice(_ context.Context, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, body)
	return nil
}

func (r *fakeRoom) Members(_ context.Context) ([]id.UserID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.members), nil
}

func (r *fakeRoom) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.texts)
}

func (r *fakeRoom) Notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.notices)
}

func (r *fakeRoom) Invites() []id.UserID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.invites)
}

func (r *fakeRoom) Left() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.left
}

// fakeMessaging is an in-memory MessagingNetwork.
type fakeMessaging struct {
	mu      sync.Mutex
	rooms   map[id.RoomID]*fakeRoom
	created int

	connectErr error
	// feed is forwarded by Listen; listenErr makes Listen fail.
	feed      chan Event
	listenErr chan error
}

func newFakeMessaging() *fakeMessaging {
	return &fakeMessaging{
		rooms:     make(map[id.RoomID]*fakeRoom),
		feed:      make(chan Event, 16),
		listenErr: make(chan error, 1),
	}
}

// addRoom adds an existing room the bot is joined to.
func (f *fakeMessaging) addRoom(roomID id.RoomID, topic, name string, members ...id.UserID) *fakeRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	room := &fakeRoom{
		net:     f,
		id:      roomID,
		topic:   topic,
		name:    name,
		members: append([]id.UserID{testBotID}, members...),
	}
	f.rooms[roomID] = room
	return room
}

func (f *fakeMessaging) room(roomID id.RoomID) *fakeRoom {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rooms[roomID]
}

// roomByTopic returns the joined room with the given topic.
func (f *fakeMessaging) roomByTopic(topic string) *fakeRoom {
	f.mu.Lock()
	rooms := make([]*fakeRoom, 0, len(f.rooms))
	for _, room := range f.rooms {
		rooms = append(rooms, room)
	}
	f.mu.Unlock()
	for _, room := range rooms {
		if room.Topic() == topic {
			return room
		}
	}
	return nil
}

func (f *fakeMessaging) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeMessaging) Connect(context.Context) error { return f.connectErr }
func (f *fakeMessaging) Disconnect()                   {}
func (f *fakeMessaging) UserID() id.UserID             { return testBotID }

func (f *fakeMessaging) ListRooms(context.Context) (map[id.RoomID]Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rooms := make(map[id.RoomID]Room, len(f.rooms))
	for roomID, room := range f.rooms {
		rooms[roomID] = room
	}
	return rooms, nil
}

func (f *fakeMessaging) CreateRoom(context.Context) (Room, error) {
	f.mu.Lock()
	f.created++
	roomID := id.RoomID(fmt.Sprintf("!created%d:example.org", f.created))
	f.mu.Unlock()
	return f.addRoom(roomID, "", ""), nil
}

func (f *fakeMessaging) Listen(ctx context.Context, out chan<- Event) error {
	return forward(ctx, f.feed, f.listenErr, out)
}

func forward(ctx context.Context, feed <-chan Event, fail <-chan error, out chan<- Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-fail:
			return err
		case evt := <-feed:
			select {
			case out <- evt:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// fakeContacts is an in-memory ContactNetwork that records outbound calls
// as short strings like "probe alice@example.com" or "join g@x bridge".
type fakeContacts struct {
	self Identity

	mu    sync.Mutex
	calls []string

	connectErr error
	feed       chan Event
	listenErr  chan error
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{
		self:      testSelf,
		feed:      make(chan Event, 16),
		listenErr: make(chan error, 1),
	}
}

func (f *fakeContacts) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeContacts) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// Count returns how many recorded calls start with prefix.
func (f *fakeContacts) Count(prefix string) int {
	n := 0
	for _, call := range f.Calls() {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeContacts) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *fakeContacts) Connect(context.Context) error { return f.connectErr }
func (f *fakeContacts) Disconnect() error             { return nil }
func (f *fakeContacts) Self() Identity                { return f.self }

func (f *fakeContacts) FetchRoster(context.Context) error {
	f.record("roster")
	return nil
}

func (f *fakeContacts) SendPresence(_ context.Context, to Identity, probe bool) error {
	switch {
	case to == "":
		f.record("presence")
	case probe:
		f.record("probe %s", to)
	default:
		f.record("presence %s", to)
	}
	return nil
}

func (f *fakeContacts) SendMessage(_ context.Context, to Identity, body string, kind MessageKind) error {
	f.record("send %s %s %s", to, kind, body)
	return nil
}

func (f *fakeContacts) JoinGroup(_ context.Context, group Identity, nickname string) error {
	f.record("join %s %s", group, nickname)
	return nil
}

func (f *fakeContacts) LeaveGroup(_ context.Context, group Identity, nickname string) error {
	f.record("leave %s %s", group, nickname)
	return nil
}

func (f *fakeContacts) Listen(ctx context.Context, out chan<- Event) error {
	return forward(ctx, f.feed, f.listenErr, out)
}

var errFakeListener = errors.New("stream reset")

// testEnv bundles a bridge over fakes with its special rooms set up.
type testEnv struct {
	cfg      *Config
	contacts *fakeContacts
	rooms    *fakeMessaging
	bridge   *Bridge
	control  *fakeRoom
	allChat  *fakeRoom
}

func newTestEnv(t *testing.T, configure ...func(*Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, fn := range configure {
		fn(cfg)
	}
	env := &testEnv{
		cfg:      cfg,
		contacts: newFakeContacts(),
		rooms:    newFakeMessaging(),
	}
	env.bridge = NewBridge(cfg, env.contacts, env.rooms, zerolog.Nop())
	if err := env.bridge.setupSpecialRooms(context.Background()); err != nil {
		t.Fatalf("setupSpecialRooms: %v", err)
	}
	env.control = env.bridge.state.Special[RoleControl].(*fakeRoom)
	env.allChat = env.bridge.state.Special[RoleAllChat].(*fakeRoom)
	return env
}

func (env *testEnv) dispatch(t *testing.T, evt Event) {
	t.Helper()
	if err := env.bridge.dispatcher.Dispatch(context.Background(), evt); err != nil {
		t.Fatalf("Dispatch(%T): %v", evt, err)
	}
}

// applyRoster feeds a roster snapshot through the dispatcher.
func (env *testEnv) applyRoster(t *testing.T, roster Roster) {
	t.Helper()
	env.dispatch(t, &RosterUpdateEvent{Owner: testSelf, Roster: roster})
}

// assertBijective checks that the Mapping Table and the room index agree and
// that every mapped room's topic matches its key.
func assertBijective(t *testing.T, state *State, groupPrefix string) {
	t.Helper()
	if len(state.mappings) != len(state.byRoom) {
		t.Fatalf("mapping table has %d entries but room index has %d", len(state.mappings), len(state.byRoom))
	}
	for identity, entry := range state.mappings {
		if owner := state.byRoom[entry.room.ID()]; owner != identity {
			t.Errorf("room %s indexed to %q, want %q", entry.room.ID(), owner, identity)
		}
		if want := MakeTopic(identity, entry.group, groupPrefix); entry.room.Topic() != want {
			t.Errorf("room %s topic %q, want %q", entry.room.ID(), entry.room.Topic(), want)
		}
		if entry.group != state.Groups.Has(identity) {
			t.Errorf("%s: group flag %v disagrees with group set", identity, entry.group)
		}
	}
}
