// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixnet implements the bridge's messaging network as a single
// Matrix bot account.
package matrixnet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-xmpp/pkg/connector"
)

const deviceDisplayName = "mautrix-xmpp"

// Network is a connector.MessagingNetwork backed by a mautrix client.
type Network struct {
	cfg connector.MatrixConfig
	log zerolog.Logger

	client *mautrix.Client

	roomsLock sync.Mutex
	rooms     map[id.RoomID]*room
}

var _ connector.MessagingNetwork = (*Network)(nil)

// New creates a messaging network for the configured account. Call Connect
// before using it.
func New(cfg connector.MatrixConfig, log zerolog.Logger) *Network {
	return &Network{
		cfg:   cfg,
		log:   log.With().Str("component", "matrix").Logger(),
		rooms: make(map[id.RoomID]*room),
	}
}

// Connect authenticates against the homeserver, either by verifying the
// configured access token or by logging in with the password.
func (n *Network) Connect(ctx context.Context) error {
	client, err := mautrix.NewClient(n.cfg.Homeserver, "", n.cfg.AccessToken)
	if err != nil {
		return fmt.Errorf("failed to create matrix client: %w", err)
	}
	client.Log = n.log

	n.log.Info().Str("homeserver", n.cfg.Homeserver).Msg("Connecting to Matrix homeserver")
	if n.cfg.AccessToken != "" {
		whoami, err := client.Whoami(ctx)
		if err != nil {
			return fmt.Errorf("failed to verify access token: %w", err)
		}
		client.UserID = whoami.UserID
		client.DeviceID = whoami.DeviceID
	} else {
		_, err = client.Login(ctx, &mautrix.ReqLogin{
			Type: mautrix.AuthTypePassword,
			Identifier: mautrix.UserIdentifier{
				Type: mautrix.IdentifierTypeUser,
				User: n.cfg.Username,
			},
			Password:                 n.cfg.Password,
			InitialDeviceDisplayName: deviceDisplayName,
			StoreCredentials:         true,
		})
		if err != nil {
			return fmt.Errorf("failed to log in as %s: %w", n.cfg.Username, err)
		}
	}
	n.client = client
	n.log.Info().Stringer("user_id", client.UserID).Msg("Logged in to Matrix")
	return nil
}

// Disconnect stops the sync loop.
func (n *Network) Disconnect() {
	if n.client != nil {
		n.client.StopSync()
	}
}

func (n *Network) UserID() id.UserID {
	if n.client == nil {
		return ""
	}
	return n.client.UserID
}

// ListRooms returns every joined room. Topic and name are fetched once per
// room and kept up to date from the sync stream afterwards.
func (n *Network) ListRooms(ctx context.Context) (map[id.RoomID]connector.Room, error) {
	resp, err := n.client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list joined rooms: %w", err)
	}
	n.roomsLock.Lock()
	defer n.roomsLock.Unlock()
	joined := make(map[id.RoomID]*room, len(resp.JoinedRooms))
	for _, roomID := range resp.JoinedRooms {
		r, ok := n.rooms[roomID]
		if !ok {
			if r, err = n.loadRoom(ctx, roomID); err != nil {
				return nil, err
			}
		}
		joined[roomID] = r
	}
	n.rooms = joined

	rooms := make(map[id.RoomID]connector.Room, len(joined))
	for roomID, r := range joined {
		rooms[roomID] = r
	}
	return rooms, nil
}

func (n *Network) loadRoom(ctx context.Context, roomID id.RoomID) (*room, error) {
	r := n.newRoom(roomID)
	var topic event.TopicEventContent
	if err := n.client.StateEvent(ctx, roomID, event.StateTopic, "", &topic); err != nil && !errors.Is(err, mautrix.MNotFound) {
		return nil, fmt.Errorf("failed to get topic of %s: %w", roomID, err)
	}
	var name event.RoomNameEventContent
	if err := n.client.StateEvent(ctx, roomID, event.StateRoomName, "", &name); err != nil && !errors.Is(err, mautrix.MNotFound) {
		return nil, fmt.Errorf("failed to get name of %s: %w", roomID, err)
	}
	r.topic, r.name = topic.Topic, name.Name
	return r, nil
}

// CreateRoom creates a private room without topic or name.
func (n *Network) CreateRoom(ctx context.Context) (connector.Room, error) {
	resp, err := n.client.CreateRoom(ctx, &mautrix.ReqCreateRoom{
		Visibility: "private",
		Preset:     "private_chat",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	r := n.newRoom(resp.RoomID)
	n.roomsLock.Lock()
	n.rooms[resp.RoomID] = r
	n.roomsLock.Unlock()
	n.log.Debug().Stringer("room_id", resp.RoomID).Msg("Created room")
	return r, nil
}

func (n *Network) forgetRoom(roomID id.RoomID) {
	n.roomsLock.Lock()
	delete(n.rooms, roomID)
	n.roomsLock.Unlock()
}

func (n *Network) cachedRoom(roomID id.RoomID) *room {
	n.roomsLock.Lock()
	defer n.roomsLock.Unlock()
	return n.rooms[roomID]
}

// Listen runs the sync loop until ctx is done or the homeserver rejects the
// session. Only events that arrive after the initial sync are delivered.
func (n *Network) Listen(ctx context.Context, out chan<- connector.Event) error {
	syncer, ok := n.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unsupported syncer %T", n.client.Syncer)
	}
	syncer.OnSync(n.client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, func(ctx context.Context, evt *event.Event) {
		content := evt.Content.AsMessage()
		if content == nil {
			return
		}
		select {
		case out <- connector.NewRoomMessageEvent(evt.RoomID, evt.Sender, content):
		case <-ctx.Done():
		}
	})
	syncer.OnEventType(event.StateTopic, n.handleStateEvent)
	syncer.OnEventType(event.StateRoomName, n.handleStateEvent)

	err := n.client.SyncWithContext(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, mautrix.MUnknownToken) || errors.Is(err, mautrix.MForbidden) {
		return fmt.Errorf("%w: matrix session rejected: %w", connector.ErrFatal, err)
	}
	return err
}

// handleStateEvent keeps the cached topic and name in sync with changes made
// by other clients.
func (n *Network) handleStateEvent(_ context.Context, evt *event.Event) {
	r := n.cachedRoom(evt.RoomID)
	if r == nil {
		return
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	switch evt.Type {
	case event.StateTopic:
		r.topic = evt.Content.AsTopic().Topic
	case event.StateRoomName:
		r.name = evt.Content.AsRoomName().Name
	}
}
