// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matrixnet

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"

	"maunium.net/go/mautrix/id"
)

const clientPrefix = "/_matrix/client/v3/"

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeHS is a test helper that wraps an httptest.Server simulating the
// Matrix client-server API. It records calls and provides canned responses.
type fakeHS struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// UserID is returned by login and whoami.
	UserID id.UserID
	// Token is the only access token accepted.
	Token string
	// Joined lists the rooms returned by joined_rooms.
	Joined []id.RoomID
	// Topics and Names hold the m.room.topic and m.room.name state.
	Topics map[id.RoomID]string
	Names  map[id.RoomID]string
	// Members maps room ID to joined members.
	Members map[id.RoomID][]id.UserID
	// SyncResponses are served in order; once exhausted, /sync blocks until
	// the request is cancelled.
	SyncResponses []string
	// SyncError, when set, is returned by /sync with a 401 status.
	SyncError string

	nextRoom int
}

func newFakeHS() *fakeHS {
	f := &fakeHS{
		UserID:  "@bridge:example.org",
		Token:   "secret-token",
		Topics:  make(map[id.RoomID]string),
		Names:   make(map[id.RoomID]string),
		Members: make(map[id.RoomID][]id.UserID),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeHS) Close() {
	f.Server.Close()
}

func (f *fakeHS) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeHS) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallsTo returns the recorded calls whose path contains fragment.
func (f *fakeHS) CallsTo(method, fragment string) []endpointCall {
	var matched []endpointCall
	for _, c := range f.Calls() {
		if c.Method == method && strings.Contains(c.Path, fragment) {
			matched = append(matched, c)
		}
	}
	return matched
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"errcode": code, "error": msg})
}

func (f *fakeHS) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	path := strings.TrimPrefix(r.URL.Path, clientPrefix)
	parts := strings.Split(path, "/")

	if path == "login" && r.Method == http.MethodPost {
		var req struct {
			Password string `json:"password"`
		}
		_ = json.Unmarshal(body, &req)
		if req.Password != "hunter2" {
			writeError(w, http.StatusForbidden, "M_FORBIDDEN", "Invalid password")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"user_id":      string(f.UserID),
			"access_token": f.Token,
			"device_id":    "DEVICE",
		})
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+f.Token {
		writeError(w, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "Unknown access token")
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case path == "account/whoami":
		writeJSON(w, http.StatusOK, map[string]string{"user_id": string(f.UserID), "device_id": "DEVICE"})

	case path == "joined_rooms":
		writeJSON(w, http.StatusOK, map[string]any{"joined_rooms": f.Joined})

	case path == "createRoom":
		f.nextRoom++
		roomID := id.RoomID(fmt.Sprintf("!new%d:example.org", f.nextRoom))
		f.Joined = append(f.Joined, roomID)
		f.Members[roomID] = []id.UserID{f.UserID}
		writeJSON(w, http.StatusOK, map[string]string{"room_id": string(roomID)})

	case parts[0] == "user" && len(parts) >= 3 && parts[2] == "filter":
		writeJSON(w, http.StatusOK, map[string]string{"filter_id": "1"})

	case path == "sync":
		f.serveSync(w, r)

	case parts[0] == "rooms" && len(parts) >= 3:
		f.serveRoom(w, r, id.RoomID(parts[1]), parts[2:], body)

	default:
		writeError(w, http.StatusNotFound, "M_UNRECOGNIZED", "Unrecognized request")
	}
}

// serveSync is called with f.mu held.
func (f *fakeHS) serveSync(w http.ResponseWriter, r *http.Request) {
	if f.SyncError != "" {
		writeError(w, http.StatusUnauthorized, f.SyncError, "Sync rejected")
		return
	}
	if len(f.SyncResponses) == 0 {
		f.mu.Unlock()
		<-r.Context().Done()
		f.mu.Lock()
		return
	}
	resp := f.SyncResponses[0]
	f.SyncResponses = f.SyncResponses[1:]
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, resp)
}

// serveRoom is called with f.mu held.
func (f *fakeHS) serveRoom(w http.ResponseWriter, r *http.Request, roomID id.RoomID, rest []string, body []byte) {
	switch {
	case rest[0] == "state" && len(rest) >= 2:
		var state map[id.RoomID]string
		var key string
		switch rest[1] {
		case "m.room.topic":
			state, key = f.Topics, "topic"
		case "m.room.name":
			state, key = f.Names, "name"
		default:
			writeError(w, http.StatusNotFound, "M_NOT_FOUND", "Event not found")
			return
		}
		if r.Method == http.MethodPut {
			var content map[string]string
			_ = json.Unmarshal(body, &content)
			state[roomID] = content[key]
			writeJSON(w, http.StatusOK, map[string]string{"event_id": "$state"})
			return
		}
		value, ok := state[roomID]
		if !ok {
			writeError(w, http.StatusNotFound, "M_NOT_FOUND", "Event not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{key: value})

	case rest[0] == "invite":
		var req struct {
			UserID id.UserID `json:"user_id"`
		}
		_ = json.Unmarshal(body, &req)
		f.Members[roomID] = append(f.Members[roomID], req.UserID)
		writeJSON(w, http.StatusOK, map[string]any{})

	case rest[0] == "leave":
		f.Joined = slices.DeleteFunc(f.Joined, func(joined id.RoomID) bool { return joined == roomID })
		writeJSON(w, http.StatusOK, map[string]any{})

	case rest[0] == "joined_members":
		joined := make(map[id.UserID]map[string]any)
		for _, member := range f.Members[roomID] {
			joined[member] = map[string]any{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"joined": joined})

	case rest[0] == "send":
		writeJSON(w, http.StatusOK, map[string]string{"event_id": "$sent"})

	default:
		writeError(w, http.StatusNotFound, "M_UNRECOGNIZED", "Unrecognized request")
	}
}
