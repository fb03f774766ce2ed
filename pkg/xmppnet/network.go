// Copyright 2024-2026 Aiku AI

// Package xmppnet implements the bridge's contact network on a single XMPP
// account.
package xmppnet

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xmppo/go-xmpp"

	"github.com/aiku/mautrix-xmpp/pkg/connector"
)

var errNotConnected = errors.New("not connected to XMPP server")

// Network is a connector.ContactNetwork backed by a go-xmpp client.
type Network struct {
	cfg  connector.XMPPConfig
	self connector.Identity
	log  zerolog.Logger

	// mu serializes writes; the roster rejoin and the dispatch loop both send.
	mu     sync.Mutex
	client *xmpp.Client
}

var _ connector.ContactNetwork = (*Network)(nil)

// New creates a contact network for the configured account. Call Connect
// before using it.
func New(cfg connector.XMPPConfig, log zerolog.Logger) *Network {
	return &Network{
		cfg:  cfg,
		self: cfg.SelfIdentity(),
		log:  log.With().Str("component", "xmpp").Logger(),
	}
}

func (n *Network) options() xmpp.Options {
	return xmpp.Options{
		Host:     n.cfg.Host,
		User:     n.cfg.JID,
		Password: n.cfg.Password,
		Resource: n.cfg.Resource,
		NoTLS:    n.cfg.NoTLS,
		StartTLS: n.cfg.StartTLS,
		Session:  true,
		// Plain auth over an unencrypted stream is only allowed when the
		// operator explicitly disabled TLS.
		InsecureAllowUnencryptedAuth: n.cfg.NoTLS && !n.cfg.StartTLS,
	}
}

// Connect logs in, announces the bridge as available and requests the roster.
func (n *Network) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.log.Info().Str("host", n.cfg.Host).Str("jid", n.cfg.JID).Msg("Connecting to XMPP server")

	type result struct {
		client *xmpp.Client
		err    error
	}
	done := make(chan result, 1)
	go func() {
		client, err := n.options().NewClient()
		done <- result{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return ctx.Err()
	case r := <-done:
		if r.err != nil {
			return fmt.Errorf("failed to connect to %s: %w", n.cfg.Host, r.err)
		}
		n.mu.Lock()
		n.client = r.client
		n.mu.Unlock()
	}
	n.log.Info().Str("identity", string(n.self)).Msg("Logged in to XMPP server")

	if err := n.SendPresence(ctx, "", false); err != nil {
		return err
	}
	return n.FetchRoster(ctx)
}

// Disconnect closes the XMPP stream. It is safe to call more than once.
func (n *Network) Disconnect() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client == nil {
		return nil
	}
	err := n.client.Close()
	n.client = nil
	return err
}

func (n *Network) Self() connector.Identity {
	return n.self
}

// do runs fn with the current client while holding the write lock.
func (n *Network) do(fn func(c *xmpp.Client) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.client == nil {
		return errNotConnected
	}
	return fn(n.client)
}

func (n *Network) FetchRoster(_ context.Context) error {
	return n.do(func(c *xmpp.Client) error {
		if err := c.Roster(); err != nil {
			return fmt.Errorf("failed to request roster: %w", err)
		}
		return nil
	})
}

func (n *Network) SendPresence(_ context.Context, to connector.Identity, probe bool) error {
	presence := xmpp.Presence{To: string(to)}
	if probe && to != "" {
		presence.Type = "probe"
	}
	return n.sendPresence(presence)
}

func (n *Network) sendPresence(presence xmpp.Presence) error {
	return n.do(func(c *xmpp.Client) error {
		if _, err := c.SendPresence(presence); err != nil {
			return fmt.Errorf("failed to send presence: %w", err)
		}
		return nil
	})
}

func (n *Network) SendMessage(_ context.Context, to connector.Identity, body string, kind connector.MessageKind) error {
	return n.do(func(c *xmpp.Client) error {
		_, err := c.Send(xmpp.Chat{Remote: string(to), Type: string(kind), Text: body})
		return err
	})
}

func (n *Network) JoinGroup(_ context.Context, group connector.Identity, nickname string) error {
	return n.do(func(c *xmpp.Client) error {
		_, err := c.JoinMUCNoHistory(string(group), nickname)
		return err
	})
}

func (n *Network) LeaveGroup(_ context.Context, group connector.Identity, _ string) error {
	return n.do(func(c *xmpp.Client) error {
		_, err := c.LeaveMUC(string(group))
		return err
	})
}

// Listen reads stanzas until ctx is done or the stream fails. Cancelling ctx
// closes the stream to unblock the reader.
func (n *Network) Listen(ctx context.Context, out chan<- connector.Event) error {
	n.mu.Lock()
	client := n.client
	n.mu.Unlock()
	if client == nil {
		return errNotConnected
	}
	stop := context.AfterFunc(ctx, func() {
		_ = n.Disconnect()
	})
	defer stop()

	for {
		stanza, err := client.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to receive stanza: %w", err)
		}
		evt := n.handleStanza(stanza)
		if evt == nil {
			continue
		}
		select {
		case out <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handleStanza answers the stanzas the contact network handles by itself and
// classifies the rest.
func (n *Network) handleStanza(stanza any) connector.Event {
	switch v := stanza.(type) {
	case xmpp.Presence:
		if v.Type == "subscribe" {
			n.handleSubscribe(v.From)
			return nil
		}
	case xmpp.IQ:
		if v.Type == "set" && isRosterQuery(v.Query) {
			n.ackIQ(v.ID)
		}
	}
	return translate(stanza, n.self)
}

func (n *Network) handleSubscribe(from string) {
	log := n.log.With().Str("identity", from).Logger()
	if !n.cfg.AutoAuthorize {
		log.Info().Msg("Ignoring subscription request")
		return
	}
	if err := n.sendPresence(xmpp.Presence{To: from, Type: "subscribed"}); err != nil {
		log.Warn().Err(err).Msg("Failed to approve subscription")
		return
	}
	log.Info().Msg("Approved subscription request")
	if n.cfg.AutoSubscribe {
		if err := n.sendPresence(xmpp.Presence{To: from, Type: "subscribe"}); err != nil {
			log.Warn().Err(err).Msg("Failed to subscribe back")
		}
	}
}

func (n *Network) ackIQ(iqID string) {
	var id bytes.Buffer
	_ = xml.EscapeText(&id, []byte(iqID))
	err := n.do(func(c *xmpp.Client) error {
		_, err := c.SendOrg(fmt.Sprintf("<iq type='result' id='%s'/>", id.String()))
		return err
	})
	if err != nil {
		n.log.Warn().Err(err).Str("iq_id", iqID).Msg("Failed to acknowledge roster push")
	}
}
