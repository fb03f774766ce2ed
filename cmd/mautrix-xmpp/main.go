// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mautrix-xmpp bridges a single XMPP account into a set of Matrix
// rooms: one room per roster contact or joined group chat, plus a control
// room for commands and an aggregate room that mirrors all traffic.
package main

import (
	"os"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	Name    = "mautrix-xmpp"
	URL     = "https://github.com/aiku/mautrix-xmpp"
	Version = "0.1.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
