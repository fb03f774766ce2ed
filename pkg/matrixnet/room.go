// Copyright 2024-2026 Aiku AI

package matrixnet

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-xmpp/pkg/connector"
)

// room is a joined Matrix room with its last known topic and name.
type room struct {
	net *Network
	id  id.RoomID

	lock  sync.Mutex
	topic string
	name  string
}

var _ connector.Room = (*room)(nil)

func (n *Network) newRoom(roomID id.RoomID) *room {
	return &room{net: n, id: roomID}
}

func (r *room) ID() id.RoomID {
	return r.id
}

func (r *room) Topic() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.topic
}

func (r *room) Name() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.name
}

func (r *room) SetTopic(ctx context.Context, topic string) error {
	_, err := r.net.client.SendStateEvent(ctx, r.id, event.StateTopic, "", &event.TopicEventContent{Topic: topic})
	if err != nil {
		return fmt.Errorf("failed to set topic of %s: %w", r.id, err)
	}
	r.lock.Lock()
	r.topic = topic
	r.lock.Unlock()
	return nil
}

func (r *room) SetName(ctx context.Context, name string) error {
	_, err := r.net.client.SendStateEvent(ctx, r.id, event.StateRoomName, "", &event.RoomNameEventContent{Name: name})
	if err != nil {
		return fmt.Errorf("failed to set name of %s: %w", r.id, err)
	}
	r.lock.Lock()
	r.name = name
	r.lock.Unlock()
	return nil
}

func (r *room) Invite(ctx context.Context, user id.UserID) error {
	if _, err := r.net.client.InviteUser(ctx, r.id, &mautrix.ReqInviteUser{UserID: user}); err != nil {
		return fmt.Errorf("failed to invite %s to %s: %w", user, r.id, err)
	}
	return nil
}

func (r *room) Leave(ctx context.Context) error {
	if _, err := r.net.client.LeaveRoom(ctx, r.id); err != nil {
		return fmt.Errorf("failed to leave %s: %w", r.id, err)
	}
	r.net.forgetRoom(r.id)
	return nil
}

func (r *room) SendText(ctx context.Context, body string) error {
	return r.send(ctx, body, event.MsgText)
}

func (r *room) SendNotice(ctx context.Context, body string) error {
	return r.send(ctx, body, event.MsgNotice)
}

func (r *room) send(ctx context.Context, body string, msgType event.MessageType) error {
	content := connector.StyledContent(body, msgType)
	if _, err := r.net.client.SendMessageEvent(ctx, r.id, event.EventMessage, content); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", r.id, err)
	}
	return nil
}

// Members returns the joined members, including the bridge itself.
func (r *room) Members(ctx context.Context) ([]id.UserID, error) {
	resp, err := r.net.client.JoinedMembers(ctx, r.id)
	if err != nil {
		return nil, fmt.Errorf("failed to get members of %s: %w", r.id, err)
	}
	members := make([]id.UserID, 0, len(resp.Joined))
	for userID := range resp.Joined {
		members = append(members, userID)
	}
	slices.Sort(members)
	return members, nil
}
