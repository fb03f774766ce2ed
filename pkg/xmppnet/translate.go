// Copyright 2024-2026 Aiku AI

package xmppnet

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/xmppo/go-xmpp"

	"github.com/aiku/mautrix-xmpp/pkg/connector"
)

const rosterNS = "jabber:iq:roster"

// translate classifies a received stanza. It returns nil for stanzas that
// carry nothing for the bridge, such as chat state notifications.
func translate(stanza any, self connector.Identity) connector.Event {
	switch v := stanza.(type) {
	case xmpp.Chat:
		if v.Type == "roster" {
			return &connector.RosterUpdateEvent{Roster: rosterFromContacts(v.Roster)}
		}
		return translateChat(v)
	case xmpp.Presence:
		return translatePresence(v)
	case xmpp.IQ:
		return translateIQ(v, self)
	default:
		return &connector.UnknownEvent{Description: fmt.Sprintf("%T", stanza)}
	}
}

func translateChat(msg xmpp.Chat) connector.Event {
	if msg.Text == "" {
		return nil
	}
	from, resource := connector.ParseAddress(msg.Remote)
	evt := &connector.ContactMessageEvent{From: from, Body: msg.Text}
	switch msg.Type {
	case "groupchat":
		evt.Kind = connector.MessageGroupChat
		evt.Nick = resource
	case "chat":
		evt.Kind = connector.MessageChat
	case "", "normal":
		evt.Kind = connector.MessageNormal
	default:
		return &connector.UnknownEvent{Description: "message of type " + msg.Type + " from " + msg.Remote}
	}
	return evt
}

func translatePresence(p xmpp.Presence) connector.Event {
	from, resource := connector.ParseAddress(p.From)
	switch p.Type {
	case "":
		return &connector.PresenceEvent{From: from, Resource: resource, Available: true}
	case "unavailable":
		return &connector.PresenceEvent{From: from, Resource: resource, Available: false}
	default:
		return &connector.UnknownEvent{Description: "presence of type " + p.Type + " from " + p.From}
	}
}

func translateIQ(iq xmpp.IQ, self connector.Identity) connector.Event {
	if !isRosterQuery(iq.Query) {
		return &connector.UnknownEvent{Description: "iq " + iq.Type + " from " + iq.From}
	}
	// Roster pushes are only valid from the account itself.
	if iq.From != "" {
		if from, _ := connector.ParseAddress(iq.From); from != self {
			return &connector.UnknownEvent{Description: "roster push from " + iq.From}
		}
	}
	switch iq.Type {
	case "set":
		return &connector.RosterPushEvent{}
	case "result":
		items, err := parseRosterItems(iq.Query)
		if err != nil {
			return &connector.UnknownEvent{Description: "malformed roster result: " + err.Error()}
		}
		owner, _ := connector.ParseAddress(iq.To)
		return &connector.RosterUpdateEvent{Owner: owner, Roster: items}
	default:
		return &connector.UnknownEvent{Description: "roster iq of type " + iq.Type}
	}
}

func rosterFromContacts(contacts xmpp.Roster) connector.Roster {
	roster := make(connector.Roster, len(contacts))
	for _, contact := range contacts {
		identity, _ := connector.ParseAddress(contact.Remote)
		roster[identity] = connector.RosterEntry{Name: contact.Name}
	}
	return roster
}

type rosterItem struct {
	JID          string `xml:"jid,attr"`
	Name         string `xml:"name,attr"`
	Subscription string `xml:"subscription,attr"`
}

// rosterQuery returns the decoder positioned after the roster query start
// element, or nil if the payload is not a roster query.
func rosterQuery(query []byte) (*xml.Decoder, *xml.StartElement) {
	dec := xml.NewDecoder(bytes.NewReader(query))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil
		}
		if start, ok := tok.(xml.StartElement); ok {
			if start.Name.Local == "query" && start.Name.Space == rosterNS {
				return dec, &start
			}
			return nil, nil
		}
	}
}

func isRosterQuery(query []byte) bool {
	_, start := rosterQuery(query)
	return start != nil
}

// parseRosterItems decodes the items of a roster query. Items being removed
// from the roster are left out.
func parseRosterItems(query []byte) (connector.Roster, error) {
	dec, start := rosterQuery(query)
	if start == nil {
		return nil, errors.New("not a roster query")
	}
	roster := make(connector.Roster)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		} else if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "item" {
				if err = dec.Skip(); err != nil {
					return nil, err
				}
				continue
			}
			var item rosterItem
			if err = dec.DecodeElement(&item, &t); err != nil {
				return nil, err
			}
			if item.Subscription == "remove" {
				continue
			}
			identity, _ := connector.ParseAddress(item.JID)
			roster[identity] = connector.RosterEntry{Name: item.Name}
		case xml.EndElement:
			if t.Name == start.Name {
				return roster, nil
			}
		}
	}
}
