// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/id"
)

const eventBufferSize = 128

// Bridge is one bridge lifetime: it connects both networks, recovers the
// special rooms and groups, then runs the dispatch loop until a fatal error
// or shutdown. A Bridge is not reusable; the supervisor builds a new one for
// every lifetime.
type Bridge struct {
	Config   *Config
	Contacts ContactNetwork
	Rooms    MessagingNetwork
	Log      zerolog.Logger

	state      *State
	mapper     *IdentityMapper
	roster     *RosterSync
	commands   *CommandProcessor
	dispatcher *Dispatcher
	requests   chan Event

	stopOnce sync.Once
}

// NewBridge wires the core components around the two networks.
func NewBridge(cfg *Config, contacts ContactNetwork, rooms MessagingNetwork, log zerolog.Logger) *Bridge {
	state := NewState()
	mapper := NewIdentityMapper(state, rooms, cfg.XMPP.GroupPrefix, log)
	roster := NewRosterSync(state, mapper, rooms, cfg.Matrix.UsersToInvite, log)
	commands := NewCommandProcessor(state, mapper, contacts, rooms, cfg, log)
	return &Bridge{
		Config:   cfg,
		Contacts: contacts,
		Rooms:    rooms,
		Log:      log,
		state:    state,
		mapper:   mapper,
		roster:   roster,
		commands: commands,
		dispatcher: &Dispatcher{
			state:    state,
			mapper:   mapper,
			roster:   roster,
			commands: commands,
			policy:   NewBroadcastPolicy(cfg),
			contacts: contacts,
			rooms:    rooms,
			log:      log.With().Str("component", "dispatcher").Logger(),
		},
		requests: make(chan Event, 16),
	}
}

// Run executes one bridge lifetime. It returns when ctx is done or when a
// fatal error occurs; both networks are disconnected before it returns.
func (br *Bridge) Run(ctx context.Context) error {
	defer br.Stop()
	if err := br.connect(ctx); err != nil {
		return err
	}
	if err := br.setupSpecialRooms(ctx); err != nil {
		return fmt.Errorf("%w: failed to set up special rooms: %w", ErrFatal, err)
	}
	groups := br.recoverGroups(ctx)

	g, ctx := errgroup.WithContext(ctx)
	contactEvents := make(chan Event, eventBufferSize)
	roomEvents := make(chan Event, eventBufferSize)
	g.Go(func() error {
		return listen(ctx, "contact network", br.Contacts.Listen, contactEvents)
	})
	g.Go(func() error {
		return listen(ctx, "messaging network", br.Rooms.Listen, roomEvents)
	})

	br.inviteToSpecialRooms(ctx)

	g.Go(func() error {
		return br.dispatcher.Run(ctx, contactEvents, roomEvents, br.requests)
	})
	g.Go(func() error {
		br.rejoinGroups(ctx, groups)
		return nil
	})
	if interval := br.Config.Bridge.RefreshInterval; interval > 0 {
		g.Go(func() error {
			br.watchRefresh(ctx, interval)
			return nil
		})
	}
	if addr := br.Config.Bridge.AdminAPIAddr; addr != "" {
		g.Go(func() error {
			return br.serveAdminAPI(ctx, addr)
		})
	}

	br.Log.Info().Msg("Bridge started")
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// listen runs a collaborator feed. Any return while ctx is still live is a
// fatal listener failure.
func listen(ctx context.Context, name string, fn func(context.Context, chan<- Event) error, out chan<- Event) error {
	err := fn(ctx, out)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		err = errors.New("event feed closed")
	}
	return fmt.Errorf("%w: %s listener: %w", ErrFatal, name, err)
}

func (br *Bridge) connect(ctx context.Context) error {
	br.Log.Info().Msg("Connecting to contact network")
	if err := br.Contacts.Connect(ctx); err != nil {
		return fmt.Errorf("%w: failed to connect to contact network: %w", ErrFatal, err)
	}
	br.Log.Info().Msg("Connecting to messaging network")
	if err := br.Rooms.Connect(ctx); err != nil {
		return fmt.Errorf("%w: failed to connect to messaging network: %w", ErrFatal, err)
	}
	return nil
}

// setupSpecialRooms binds every special role to exactly one room, recovering
// existing rooms by topic and creating the missing ones.
func (br *Bridge) setupSpecialRooms(ctx context.Context) error {
	rooms, err := br.Rooms.ListRooms(ctx)
	if err != nil {
		return err
	}
	roomIDs := make([]id.RoomID, 0, len(rooms))
	for roomID := range rooms {
		roomIDs = append(roomIDs, roomID)
	}
	slices.Sort(roomIDs)
	for _, roomID := range roomIDs {
		role := RoomRole(rooms[roomID].Topic())
		if !slices.Contains(SpecialRoles, role) || br.state.Special[role] != nil {
			continue
		}
		br.Log.Debug().Str("role", string(role)).Stringer("room_id", roomID).Msg("Recovering special room")
		br.state.Special[role] = rooms[roomID]
	}

	for _, role := range SpecialRoles {
		room := br.state.Special[role]
		if room == nil {
			if room, err = br.Rooms.CreateRoom(ctx); err != nil {
				return fmt.Errorf("failed to create %s room: %w", role, err)
			}
		}
		if room.Topic() != string(role) {
			if err = room.SetTopic(ctx, string(role)); err != nil {
				return err
			}
		}
		if name := br.Config.Bridge.SpecialRoomNames[role]; room.Name() != name {
			if err = room.SetName(ctx, name); err != nil {
				return err
			}
		}
		br.state.Special[role] = room
		br.Log.Debug().Str("role", string(role)).Stringer("room_id", room.ID()).Msg("Set up special room")
	}
	return nil
}

// recoverGroups maps the existing rooms and returns the group conversations
// found among them, to be rejoined once the dispatcher runs.
func (br *Bridge) recoverGroups(ctx context.Context) []Identity {
	if err := br.mapper.Reconcile(ctx); err != nil {
		br.Log.Err(err).Msg("Failed to recover mapped rooms")
	}
	groups := br.state.Groups.AsList()
	slices.Sort(groups)
	if len(groups) > 0 {
		br.Log.Info().Int("count", len(groups)).Msg("Recovered group chats")
	}
	return groups
}

func (br *Bridge) inviteToSpecialRooms(ctx context.Context) {
	for _, role := range SpecialRoles {
		if _, err := EnsureInvited(ctx, br.state.Special[role], br.Config.Matrix.UsersToInvite); err != nil {
			br.Log.Warn().Err(err).Str("role", string(role)).Msg("Failed to invite users to special room")
		}
	}
}

func (br *Bridge) rejoinGroups(ctx context.Context, groups []Identity) {
	for _, group := range groups {
		if err := br.Contacts.JoinGroup(ctx, group, br.Config.XMPP.Nickname); err != nil {
			br.Log.Warn().Err(err).Str("identity", string(group)).Msg("Failed to rejoin group chat")
		}
	}
}

// watchRefresh periodically asks the dispatcher for a refresh.
func (br *Bridge) watchRefresh(ctx context.Context, interval time.Duration) {
	br.Log.Info().Dur("interval", interval).Msg("Starting periodic refresh")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			br.RequestRefresh("timer")
		}
	}
}

// RequestRefresh queues a refresh for the dispatch loop. It returns false if
// the request queue is full.
func (br *Bridge) RequestRefresh(source string) bool {
	select {
	case br.requests <- &RefreshRequestEvent{Source: source}:
		return true
	default:
		br.Log.Warn().Str("source", source).Msg("Request queue full, dropping refresh")
		return false
	}
}

// Snapshot asks the dispatch loop for a copy of the current state.
func (br *Bridge) Snapshot(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	select {
	case br.requests <- &SnapshotRequestEvent{Reply: reply}:
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Stop disconnects both networks. It is safe to call more than once.
func (br *Bridge) Stop() {
	br.stopOnce.Do(func() {
		br.Log.Info().Msg("Stopping bridge")
		if err := br.Contacts.Disconnect(); err != nil {
			br.Log.Warn().Err(err).Msg("Error disconnecting from contact network")
		}
		br.Rooms.Disconnect()
	})
}

// Supervise runs bridge lifetimes until ctx is done. Every lifetime that ends
// with an error is followed by a fresh one after delay; reconciliation at
// startup brings the state back in line.
func Supervise(ctx context.Context, log zerolog.Logger, delay time.Duration, newBridge func() (*Bridge, error)) error {
	for lifetime := 1; ; lifetime++ {
		br, err := newBridge()
		if err != nil {
			return fmt.Errorf("failed to create bridge: %w", err)
		}
		err = br.Run(ctx)
		if ctx.Err() != nil {
			log.Info().Msg("Bridge shut down")
			return nil
		}
		if err == nil {
			err = errors.New("bridge stopped unexpectedly")
		}
		log.Err(err).
			Int("lifetime", lifetime).
			Dur("restart_delay", delay).
			Msg("Bridge stopped, restarting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}
