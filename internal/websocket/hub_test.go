// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/fleetiq/fleetiq/internal/models"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc, chan error) {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- hub.RunWithContext(ctx)
	}()
	return hub, cancel, done
}

func waitForClientCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for hub.ClientCount() != want {
		select {
		case <-deadline:
			t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	t.Parallel()

	hub, cancel, done := startHub(t)
	defer cancel()

	client := NewClient(hub, nil)
	hub.Register <- client
	waitForClientCount(t, hub, 1)

	hub.Unregister <- client
	waitForClientCount(t, hub, 0)

	// Unregistering closes the send channel.
	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected send channel to be closed")
		}
	case <-time.After(time.Second):
		t.Error("send channel not closed after unregister")
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("RunWithContext returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("hub did not stop after cancel")
	}
}

func TestHubBroadcastOrder(t *testing.T) {
	t.Parallel()

	hub, cancel, done := startHub(t)
	defer cancel()

	first := NewClient(hub, nil)
	second := NewClient(hub, nil)
	hub.Register <- first
	hub.Register <- second
	waitForClientCount(t, hub, 2)

	positions := []models.DevicePosition{{DeviceID: "d1", Latitude: 1, Longitude: 2}}
	hub.BroadcastPositions(positions)

	for _, client := range []*Client{first, second} {
		select {
		case msg := <-client.send:
			if msg.Type != MessageTypePositionUpdate {
				t.Errorf("message type = %q, want %q", msg.Type, MessageTypePositionUpdate)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("client did not receive broadcast")
		}
	}

	cancel()
	<-done
}

func TestHubDropsEmptyPositionBatch(t *testing.T) {
	t.Parallel()

	hub, cancel, done := startHub(t)
	defer cancel()

	client := NewClient(hub, nil)
	hub.Register <- client
	waitForClientCount(t, hub, 1)

	hub.BroadcastPositions(nil)
	hub.BroadcastFleetMetrics(&models.FleetMetrics{Total: 3, Active: 1})

	select {
	case msg := <-client.send:
		if msg.Type != MessageTypeMetricsUpdate {
			t.Errorf("first message = %q, want metrics_update (empty batch should be skipped)", msg.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	<-done
}

func TestHubShutdownClosesClients(t *testing.T) {
	t.Parallel()

	hub, cancel, done := startHub(t)

	client := NewClient(hub, nil)
	hub.Register <- client
	waitForClientCount(t, hub, 1)

	cancel()
	<-done

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected closed send channel after shutdown")
		}
	case <-time.After(time.Second):
		t.Error("send channel still open after shutdown")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("client count after shutdown = %d, want 0", hub.ClientCount())
	}
}
