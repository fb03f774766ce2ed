// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestAdminRefreshQueued(t *testing.T) {
	t.Parallel()
	br := NewBridge(testConfig(), newFakeContacts(), newFakeMessaging(), zerolog.Nop())
	srv := httptest.NewServer(br.AdminHandler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/refresh", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status: got %d, want %d", resp.StatusCode, http.StatusAccepted)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "queued" {
		t.Errorf("status field: got %q, want %q", body["status"], "queued")
	}

	select {
	case evt := <-br.requests:
		if req, ok := evt.(*RefreshRequestEvent); !ok || req.Source != "admin_api" {
			t.Errorf("queued event: got %#v", evt)
		}
	default:
		t.Error("refresh should be queued")
	}
}

func TestAdminRefreshQueueFull(t *testing.T) {
	t.Parallel()
	br := NewBridge(testConfig(), newFakeContacts(), newFakeMessaging(), zerolog.Nop())
	for range cap(br.requests) {
		br.RequestRefresh("test")
	}

	rec := httptest.NewRecorder()
	br.HandleRefresh(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestAdminMethodNotAllowed(t *testing.T) {
	t.Parallel()
	br := NewBridge(testConfig(), newFakeContacts(), newFakeMessaging(), zerolog.Nop())
	handler := br.AdminHandler()

	tests := []struct {
		method, path string
	}{
		{http.MethodGet, "/api/refresh"},
		{http.MethodPost, "/api/mappings"},
		{http.MethodDelete, "/api/mappings"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: got %d, want %d", tt.method, tt.path, rec.Code, http.StatusMethodNotAllowed)
		}
	}
}

func TestAdminMappings(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.applyRoster(t, Roster{"a@x": {Name: "Alice"}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt := <-env.bridge.requests:
				_ = env.bridge.dispatcher.Dispatch(ctx, evt)
			}
		}
	}()

	rec := httptest.NewRecorder()
	env.bridge.HandleMappings(rec, httptest.NewRequest(http.MethodGet, "/api/mappings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusOK)
	}
	var snap Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatal(err)
	}
	info, ok := snap.Mappings["a@x"]
	if !ok {
		t.Fatalf("mappings: got %v", snap.Mappings)
	}
	if info.Topic != "a@x" || info.Name != "Alice" || info.Group {
		t.Errorf("mapping: got %+v", info)
	}
	if snap.SpecialRooms[RoleAllChat] != env.allChat.ID() {
		t.Errorf("all chat room: got %s", snap.SpecialRooms[RoleAllChat])
	}
}

func TestAdminMappingsTimeout(t *testing.T) {
	t.Parallel()
	br := NewBridge(testConfig(), newFakeContacts(), newFakeMessaging(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/mappings", nil).WithContext(ctx)
	br.HandleMappings(rec, req)
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusGatewayTimeout)
	}
}
